// ABOUTME: External tool bridge manager - maps tools discovered from external
// ABOUTME: servers into registry entries, collected per server, enabled on arrival.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kristerhedfors/toolgate/internal/registry"
	"github.com/kristerhedfors/toolgate/internal/synth"
)

// Error wraps a provider failure: unreachable server, malformed response, or
// an error-flagged tool result. It travels the same result-interception path
// as ordinary execution errors.
type Error struct {
	Server string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bridge %s: %s: %v", e.Server, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrServerNotConnected indicates a call for a server the manager does not hold.
var ErrServerNotConnected = errors.New("server not connected")

// Manager owns the set of connected external tool servers and their registry
// collections. Tools from different servers never collide: each server gets
// a collection keyed by its name, reused across reconnects.
type Manager struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	registry *registry.Registry
	clients  map[string]*Client // by server name
	owners   map[string]string  // tool name -> server name
}

// NewManager creates a bridge manager over the given registry.
func NewManager(logger *slog.Logger, reg *registry.Registry) *Manager {
	return &Manager{
		logger:   logger.With("component", "bridge"),
		registry: reg,
		clients:  make(map[string]*Client),
		owners:   make(map[string]string),
	}
}

// Connect initializes the named server, discovers its tools, and registers
// them as a single collection. Bridged tools are enabled immediately: their
// provenance is a server the user explicitly connected, so they are opt-out
// rather than opt-in. Returns the number of tools registered.
func (m *Manager) Connect(ctx context.Context, name, baseURL string) (int, error) {
	client := NewClient(m.logger, name, baseURL)
	if err := client.Initialize(ctx); err != nil {
		return 0, err
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*synth.Candidate, 0, len(tools))
	for _, info := range tools {
		candidates = append(candidates, externalCandidate(info))
	}
	if len(candidates) > 0 {
		if _, err := m.registerLocked(ctx, name, candidates); err != nil {
			return 0, err
		}
	}
	m.clients[name] = client
	for _, info := range tools {
		m.owners[info.Name] = name
	}

	m.logger.Info("server connected", "server", name, "tools", len(tools))
	return len(tools), nil
}

// RegisterExternalTool registers one additional tool for an already-connected
// server, preserving the server's collection identity.
func (m *Manager) RegisterExternalTool(ctx context.Context, serverName string, info ToolInfo) (*registry.FunctionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[serverName]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotConnected, serverName)
	}

	// The collection's new state is its current members plus the new tool.
	candidates := []*synth.Candidate{externalCandidate(info)}
	if collection, ok := m.registry.CollectionBySource(sourceLabel(serverName)); ok {
		for _, member := range m.registry.CollectionMembers(collection.ID) {
			if member.Name == info.Name {
				continue
			}
			candidates = append(candidates, &synth.Candidate{
				Name:       member.Name,
				Descriptor: member.Descriptor,
				Callable:   true,
			})
		}
	}
	if _, err := m.registerLocked(ctx, serverName, candidates); err != nil {
		return nil, err
	}
	m.owners[info.Name] = serverName

	rec, ok := m.registry.Get(info.Name)
	if !ok {
		return nil, fmt.Errorf("tool %s vanished after registration", info.Name)
	}
	return rec, nil
}

// registerLocked writes the server's collection. Caller holds m.mu.
func (m *Manager) registerLocked(ctx context.Context, serverName string, candidates []*synth.Candidate) (*registry.Collection, error) {
	source := sourceLabel(serverName)
	opts := registry.AddOptions{
		Name:        serverName,
		Description: fmt.Sprintf("Tools from external server %s", serverName),
		Source:      source,
		Origin:      registry.OriginExternal,
		Enabled:     true,
	}
	if existing, ok := m.registry.CollectionBySource(source); ok {
		opts.CollectionID = existing.ID
	}
	collection, err := m.registry.AddBatch(ctx, candidates, opts)
	if err != nil {
		return nil, fmt.Errorf("registering tools for %s: %w", serverName, err)
	}
	return collection, nil
}

// Disconnect removes the server's collection and forgets its client.
func (m *Manager) Disconnect(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if collection, ok := m.registry.CollectionBySource(sourceLabel(name)); ok {
		if err := m.registry.RemoveCollection(ctx, collection.ID); err != nil {
			return err
		}
	}
	delete(m.clients, name)
	for tool, owner := range m.owners {
		if owner == name {
			delete(m.owners, tool)
		}
	}
	m.logger.Info("server disconnected", "server", name)
	return nil
}

// Servers lists connected server names in unspecified order.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.clients))
	for name := range m.clients {
		out = append(out, name)
	}
	return out
}

// Call forwards a tool invocation to its owning server and marshals the
// response. Error-flagged results surface as *Error so the gate folds them
// into the human-reviewable error payload.
func (m *Manager) Call(ctx context.Context, toolName string, args map[string]any) (any, error) {
	m.mu.RLock()
	serverName, ok := m.owners[toolName]
	client := m.clients[serverName]
	m.mu.RUnlock()
	if !ok || client == nil {
		return nil, fmt.Errorf("%w: no server owns tool %s", ErrServerNotConnected, toolName)
	}

	result, err := client.CallTool(ctx, toolName, args)
	if err != nil {
		return nil, err
	}

	text := extractText(result)
	if result.IsError {
		return nil, &Error{Server: serverName, Op: "tools/call", Err: errors.New(text)}
	}

	// Providers answering structured JSON get it back structured; plain
	// text stays a string.
	var decoded any
	if err := jsonDecodeStrict(text, &decoded); err == nil {
		return decoded, nil
	}
	return text, nil
}

func sourceLabel(serverName string) string {
	return registry.MCPSourcePrefix + serverName
}

// externalCandidate wraps a discovered tool as a registry candidate. Bridged
// records carry no source text; the runner forwards their calls here instead
// of executing a body.
func externalCandidate(info ToolInfo) *synth.Candidate {
	params := info.InputSchema
	if len(params) == 0 {
		params = synth.EmptyObjectSchema()
	}
	description := info.Description
	if description == "" {
		description = fmt.Sprintf("External tool %s", info.Name)
	}
	return &synth.Candidate{
		Name: info.Name,
		Descriptor: &synth.Descriptor{
			Type: "function",
			Function: synth.Function{
				Name:        info.Name,
				Description: description,
				Parameters:  params,
			},
		},
		Callable: true,
	}
}

// jsonDecodeStrict decodes text only when it is a JSON object or array.
// Bare strings and numbers stay as the provider's text.
func jsonDecodeStrict(text string, out *any) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return errors.New("not a JSON container")
	}
	return json.Unmarshal([]byte(trimmed), out)
}

// extractText flattens text content blocks; non-text blocks render as their
// type tag.
func extractText(result *ToolCallResult) string {
	parts := make([]string, 0, len(result.Content))
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			parts = append(parts, block.Text)
		default:
			parts = append(parts, "["+block.Type+"]")
		}
	}
	return strings.Join(parts, "\n")
}
