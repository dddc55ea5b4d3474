// ABOUTME: Thread-safe registry of named functions and their collections.
// ABOUTME: Owns descriptors, enablement, collection membership, and change notifications.

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kristerhedfors/toolgate/internal/synth"
)

// ErrNotFound indicates the named function is not registered.
var ErrNotFound = errors.New("function not found")

// ErrCollectionNotFound indicates the collection does not exist.
var ErrCollectionNotFound = errors.New("collection not found")

// ErrAuxiliaryFunction indicates an operation only valid on callable functions.
var ErrAuxiliaryFunction = errors.New("function is auxiliary")

// Registry owns the set of named functions, their collections, and their
// enabled/disabled flags. Function names are globally unique regardless of
// origin. All mutations persist through the store before listeners fire.
type Registry struct {
	mu          sync.RWMutex
	logger      *slog.Logger
	store       Store
	functions   map[string]*FunctionRecord
	collections map[string]*Collection
	listeners   []Listener
}

// New creates an empty registry. store may be nil for in-memory use.
func New(logger *slog.Logger, store Store) *Registry {
	return &Registry{
		logger:      logger.With("component", "registry"),
		store:       store,
		functions:   make(map[string]*FunctionRecord),
		collections: make(map[string]*Collection),
	}
}

// Subscribe registers a listener for registry-changed notifications.
// Listeners run synchronously after the mutation commits.
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Hydrate loads persisted collections and records from the store.
func (r *Registry) Hydrate(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	collections, records, err := r.store.LoadCollections(ctx)
	if err != nil {
		return fmt.Errorf("loading collections: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range collections {
		r.collections[c.ID] = c
	}
	for _, rec := range records {
		r.functions[rec.Name] = rec
	}
	r.logger.Info("registry hydrated",
		"collections", len(collections),
		"functions", len(records),
	)
	return nil
}

// AddOptions controls how a batch of candidates is registered.
type AddOptions struct {
	// CollectionID reuses an existing collection identity (editor re-save).
	// Empty mints a fresh collection.
	CollectionID string
	// Name overrides the auto-derived collection name.
	Name string
	// Description is the human label for the collection.
	Description string
	// Source labels the collection origin ("manual" or "mcp:<server>").
	// Defaults to manual.
	Source string
	// Origin is stamped on every member record. Defaults to manual.
	Origin Origin
	// Enabled sets the initial enabled flag on callable members. Records
	// default to disabled on creation.
	Enabled bool
}

// AddBatch registers the candidates of one editor submission as a single
// collection. Re-adding an existing name evicts the prior record; if that
// empties the prior owning collection, the collection goes with it.
func (r *Registry) AddBatch(ctx context.Context, candidates []*synth.Candidate, opts AddOptions) (*Collection, error) {
	if len(candidates) == 0 {
		return nil, errors.New("empty batch")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	origin := opts.Origin
	if origin == "" {
		origin = OriginManual
	}
	source := opts.Source
	if source == "" {
		source = CollectionSourceManual
	}

	collection := r.collections[opts.CollectionID]
	if collection == nil {
		id := opts.CollectionID
		if id == "" {
			id = uuid.New().String()
		}
		collection = &Collection{
			ID:        id,
			Source:    source,
			CreatedAt: time.Now().UTC(),
		}
	}
	collection.Description = opts.Description
	collection.Name = opts.Name
	if collection.Name == "" {
		collection.Name = deriveCollectionName(candidates)
	}

	now := time.Now().UTC()
	records := make([]*FunctionRecord, 0, len(candidates))
	evicted := make(map[string][]string) // prior collection id -> evicted names
	for _, c := range candidates {
		if prior, ok := r.functions[c.Name]; ok && prior.CollectionID != collection.ID {
			evicted[prior.CollectionID] = append(evicted[prior.CollectionID], c.Name)
		}
		records = append(records, &FunctionRecord{
			Name:         c.Name,
			SourceCode:   c.Source,
			Descriptor:   c.Descriptor,
			Params:       c.Params,
			CollectionID: collection.ID,
			Enabled:      opts.Enabled && c.Callable,
			Callable:     c.Callable,
			Origin:       origin,
			CreatedAt:    now,
		})
	}

	// Members of a re-saved collection that are absent from the new batch
	// are dropped with it: the batch is the collection's complete new state.
	var stale []string
	for name, rec := range r.functions {
		if rec.CollectionID != collection.ID {
			continue
		}
		found := false
		for _, c := range candidates {
			if c.Name == name {
				found = true
				break
			}
		}
		if !found {
			stale = append(stale, name)
		}
	}

	if r.store != nil {
		if err := r.store.SaveCollection(ctx, collection, records); err != nil {
			return nil, fmt.Errorf("persisting collection: %w", err)
		}
	}

	for _, name := range stale {
		delete(r.functions, name)
	}
	for priorID, names := range evicted {
		for _, name := range names {
			delete(r.functions, name)
		}
		r.dropCollectionIfEmptyLocked(ctx, priorID)
	}
	r.collections[collection.ID] = collection
	names := make([]string, 0, len(records))
	for _, rec := range records {
		r.functions[rec.Name] = rec
		names = append(names, rec.Name)
	}

	r.logger.Info("collection registered",
		"collection_id", collection.ID,
		"name", collection.Name,
		"functions", len(records),
		"origin", origin,
	)
	r.notifyLocked(Event{Kind: EventAdded, CollectionID: collection.ID, Functions: names})
	return collection, nil
}

// Remove deletes the entire collection owning the named function. Single
// function removal is defined as "delete the owning collection".
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.functions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return r.removeCollectionLocked(ctx, rec.CollectionID)
}

// RemoveCollection deletes a collection and all its member records atomically.
func (r *Registry) RemoveCollection(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeCollectionLocked(ctx, id)
}

func (r *Registry) removeCollectionLocked(ctx context.Context, id string) error {
	if _, ok := r.collections[id]; !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
	}
	if r.store != nil {
		if err := r.store.DeleteCollection(ctx, id); err != nil {
			return fmt.Errorf("deleting collection: %w", err)
		}
	}
	var names []string
	for name, rec := range r.functions {
		if rec.CollectionID == id {
			names = append(names, name)
		}
	}
	for _, name := range names {
		delete(r.functions, name)
	}
	delete(r.collections, id)

	r.logger.Info("collection removed", "collection_id", id, "functions", len(names))
	r.notifyLocked(Event{Kind: EventRemoved, CollectionID: id, Functions: names})
	return nil
}

// dropCollectionIfEmptyLocked removes a collection whose last member was
// evicted by a name collision. Persistence errors here are logged, not
// surfaced: the new batch already committed.
func (r *Registry) dropCollectionIfEmptyLocked(ctx context.Context, id string) {
	for _, rec := range r.functions {
		if rec.CollectionID == id {
			return
		}
	}
	if _, ok := r.collections[id]; !ok {
		return
	}
	if r.store != nil {
		if err := r.store.DeleteCollection(ctx, id); err != nil {
			r.logger.Warn("dropping emptied collection", "collection_id", id, "error", err)
		}
	}
	delete(r.collections, id)
}

// Enable marks a callable function as exposed to the agent.
func (r *Registry) Enable(ctx context.Context, name string) error {
	return r.setEnabled(ctx, name, true)
}

// Disable hides a function from the agent without touching source or descriptor.
func (r *Registry) Disable(ctx context.Context, name string) error {
	return r.setEnabled(ctx, name, false)
}

func (r *Registry) setEnabled(ctx context.Context, name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.functions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if enabled && !rec.Callable {
		return fmt.Errorf("%w: %s", ErrAuxiliaryFunction, name)
	}
	if rec.Enabled == enabled {
		return nil
	}
	if r.store != nil {
		if err := r.store.SetEnabled(ctx, name, enabled); err != nil {
			return fmt.Errorf("persisting enabled flag: %w", err)
		}
	}
	rec.Enabled = enabled
	r.notifyLocked(Event{Kind: EventEnabled, CollectionID: rec.CollectionID, Functions: []string{name}})
	return nil
}

// Get returns the record for a function name.
func (r *Registry) Get(name string) (*FunctionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.functions[name]
	return rec, ok
}

// ListEnabledDescriptors returns the exact descriptor payload surfaced to the
// agent: enabled, callable records only, in stable name order.
func (r *Registry) ListEnabledDescriptors() []*synth.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, rec := range r.functions {
		if rec.Enabled && rec.Callable {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]*synth.Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, r.functions[name].Descriptor)
	}
	return out
}

// FunctionsInSameCollection returns every function name sharing a collection
// with the named function, the name itself included, in stable order. The
// editor uses this to reload and re-save a collection as one unit.
func (r *Registry) FunctionsInSameCollection(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.functions[name]
	if !ok {
		return nil
	}
	var names []string
	for n, other := range r.functions {
		if other.CollectionID == rec.CollectionID {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Collections returns all collections in creation order.
func (r *Registry) Collections() []*Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Collection, 0, len(r.collections))
	for _, c := range r.collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CollectionMembers returns the records belonging to a collection in stable
// name order.
func (r *Registry) CollectionMembers(id string) []*FunctionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*FunctionRecord
	for _, rec := range r.functions {
		if rec.CollectionID == id {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CollectionBySource finds a collection by its source label. Used by the
// bridge to reuse the per-server collection across reconnects.
func (r *Registry) CollectionBySource(source string) (*Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.collections {
		if c.Source == source {
			return c, true
		}
	}
	return nil, false
}

// notifyLocked delivers an event to all listeners. Caller holds the lock;
// listeners must not call back into the registry.
func (r *Registry) notifyLocked(event Event) {
	for _, l := range r.listeners {
		l(event)
	}
}

// deriveCollectionName builds the human label from member names: a single
// member uses its own name, two members "A & B", more "A & n more".
func deriveCollectionName(candidates []*synth.Candidate) string {
	switch len(candidates) {
	case 1:
		return candidates[0].Name
	case 2:
		return candidates[0].Name + " & " + candidates[1].Name
	default:
		return fmt.Sprintf("%s & %d more", candidates[0].Name, len(candidates)-1)
	}
}
