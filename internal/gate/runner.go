// ABOUTME: Default runner - dispatches execution by record origin, local
// ABOUTME: JavaScript through jsexec and bridged tools through the bridge.

package gate

import (
	"context"
	"errors"

	"github.com/kristerhedfors/toolgate/internal/jsexec"
	"github.com/kristerhedfors/toolgate/internal/registry"
)

// BridgeCaller forwards a call to the external tool server owning the tool.
type BridgeCaller interface {
	Call(ctx context.Context, toolName string, args map[string]any) (any, error)
}

// dispatchRunner routes execution: external-bridge records go to the bridge,
// everything else runs in the JavaScript engine with its collection's
// auxiliary helpers loaded alongside.
type dispatchRunner struct {
	registry *registry.Registry
	engine   *jsexec.Engine
	bridge   BridgeCaller
}

// NewRunner builds the default runner. bridge may be nil when no external
// servers are configured.
func NewRunner(reg *registry.Registry, engine *jsexec.Engine, bridge BridgeCaller) Runner {
	return &dispatchRunner{registry: reg, engine: engine, bridge: bridge}
}

func (r *dispatchRunner) Run(ctx context.Context, rec *registry.FunctionRecord, args map[string]any) (any, error) {
	if rec.Origin == registry.OriginExternal {
		if r.bridge == nil {
			return nil, errors.New("no external tool bridge configured")
		}
		return r.bridge.Call(ctx, rec.Name, args)
	}

	var sources []string
	for _, member := range r.registry.CollectionMembers(rec.CollectionID) {
		if member.Name != rec.Name {
			sources = append(sources, member.SourceCode)
		}
	}
	sources = append(sources, rec.SourceCode)
	return r.engine.Execute(ctx, rec.Name, sources, rec.Params, args)
}
