// ABOUTME: Data types for the function registry - function records, collections,
// ABOUTME: origins, and the persistence interface the registry writes through.

package registry

import (
	"context"
	"time"

	"github.com/kristerhedfors/toolgate/internal/synth"
)

// Origin identifies where a function record came from.
type Origin string

const (
	// OriginManual marks functions authored in the editor.
	OriginManual Origin = "manual"
	// OriginDefault marks functions shipped with toolgate.
	OriginDefault Origin = "default"
	// OriginExternal marks functions bridged from an external tool server.
	OriginExternal Origin = "external-bridge"
)

// CollectionSourceManual is the source label for editor-authored collections.
const CollectionSourceManual = "manual"

// MCPSourcePrefix prefixes the source label of bridged collections, followed
// by the server name.
const MCPSourcePrefix = "mcp:"

// FunctionRecord is one registered function: its source, descriptor, owning
// collection, and enablement. SourceCode is empty for bridged tools.
type FunctionRecord struct {
	Name         string
	SourceCode   string
	Descriptor   *synth.Descriptor
	Params       []synth.Param
	CollectionID string
	Enabled      bool
	Callable     bool
	Origin       Origin
	CreatedAt    time.Time
}

// Collection groups function records added together in one edit operation.
// Deleting a collection deletes every member record atomically.
type Collection struct {
	ID          string
	Name        string
	Description string
	Source      string
	CreatedAt   time.Time
}

// Store is the durable persistence surface the registry writes through.
// A nil store leaves the registry purely in-memory.
type Store interface {
	// SaveCollection replaces the collection and its full member set in one
	// transaction.
	SaveCollection(ctx context.Context, c *Collection, records []*FunctionRecord) error
	// DeleteCollection removes the collection and all member records.
	DeleteCollection(ctx context.Context, id string) error
	// SetEnabled flips the enabled flag of one record.
	SetEnabled(ctx context.Context, name string, enabled bool) error
	// LoadCollections returns every persisted collection with its records.
	LoadCollections(ctx context.Context) ([]*Collection, []*FunctionRecord, error)
}

// EventKind classifies registry-changed notifications.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventRemoved EventKind = "removed"
	EventEnabled EventKind = "enabled"
)

// Event is a registry-changed notification delivered to listeners after a
// mutation commits.
type Event struct {
	Kind         EventKind
	CollectionID string
	Functions    []string
}

// Listener receives registry-changed notifications.
type Listener func(Event)
