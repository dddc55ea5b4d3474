// ABOUTME: Export and import of function collections as a portable JSON
// ABOUTME: payload. Trust verdicts have no representation here at all.

package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/kristerhedfors/toolgate/internal/registry"
	"github.com/kristerhedfors/toolgate/internal/synth"
)

// PayloadVersion is the current export format version.
const PayloadVersion = 1

// ErrUnsupportedVersion indicates a payload from a newer format.
var ErrUnsupportedVersion = errors.New("unsupported payload version")

// Function is one exported function definition. The source carries its doc
// block; the descriptor is exported as stored so manual description edits
// survive the round trip. Enabled state is deliberately not part of the
// format: imported functions always start disabled.
type Function struct {
	Name       string            `json:"name"`
	SourceCode string            `json:"source_code"`
	Descriptor *synth.Descriptor `json:"descriptor"`
	Params     []synth.Param     `json:"params,omitempty"`
	Callable   bool              `json:"callable"`
}

// Collection is one exported collection with its members.
type Collection struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Functions   []Function `json:"functions"`
}

// Payload is the top-level export document.
type Payload struct {
	Version     int          `json:"version"`
	Collections []Collection `json:"collections"`
}

// Export serializes the registry's manual and default collections. Bridged
// collections are skipped; they are reconstructed by reconnecting the server,
// not by carrying provider schemas between machines.
func Export(reg *registry.Registry) *Payload {
	payload := &Payload{Version: PayloadVersion}
	for _, coll := range reg.Collections() {
		members := reg.CollectionMembers(coll.ID)
		exported := Collection{
			ID:          coll.ID,
			Name:        coll.Name,
			Description: coll.Description,
		}
		skip := false
		for _, rec := range members {
			if rec.Origin == registry.OriginExternal {
				skip = true
				break
			}
			exported.Functions = append(exported.Functions, Function{
				Name:       rec.Name,
				SourceCode: rec.SourceCode,
				Descriptor: rec.Descriptor,
				Params:     rec.Params,
				Callable:   rec.Callable,
			})
		}
		if skip || len(exported.Functions) == 0 {
			continue
		}
		sort.Slice(exported.Functions, func(i, j int) bool {
			return exported.Functions[i].Name < exported.Functions[j].Name
		})
		payload.Collections = append(payload.Collections, exported)
	}
	return payload
}

// WriteTo writes the payload as indented JSON.
func (p *Payload) WriteTo(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// Read parses a payload and rejects unknown versions.
func Read(r io.Reader) (*Payload, error) {
	var payload Payload
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	if payload.Version > PayloadVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, payload.Version)
	}
	return &payload, nil
}

// Import registers every collection in the payload. Each source is
// re-validated through the synthesizer before registration; the payload's
// descriptor then takes precedence so carried edits survive. All imported
// functions start disabled regardless of their state on the exporting
// machine.
func Import(ctx context.Context, reg *registry.Registry, payload *Payload) (int, error) {
	total := 0
	for _, coll := range payload.Collections {
		candidates := make([]*synth.Candidate, 0, len(coll.Functions))
		for _, fn := range coll.Functions {
			validated, err := synth.Synthesize(fn.Name, fn.SourceCode)
			if err != nil {
				return total, fmt.Errorf("validating %s: %w", fn.Name, err)
			}
			validated.Callable = fn.Callable
			if fn.Descriptor != nil {
				validated.Descriptor = fn.Descriptor
			}
			if len(fn.Params) > 0 {
				validated.Params = fn.Params
			}
			candidates = append(candidates, validated)
		}
		_, err := reg.AddBatch(ctx, candidates, registry.AddOptions{
			CollectionID: coll.ID,
			Name:         coll.Name,
			Description:  coll.Description,
		})
		if err != nil {
			return total, fmt.Errorf("importing %s: %w", coll.Name, err)
		}
		total += len(candidates)
	}
	return total, nil
}
