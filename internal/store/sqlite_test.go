// ABOUTME: Tests for the SQLite store - collection persistence, enabled flag
// ABOUTME: updates, and trust verdict storage across reopens.

package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristerhedfors/toolgate/internal/registry"
	"github.com/kristerhedfors/toolgate/internal/synth"
)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func sampleRecords(collectionID string) (*registry.Collection, []*registry.FunctionRecord) {
	now := time.Now().UTC().Truncate(time.Second)
	coll := &registry.Collection{
		ID:        collectionID,
		Name:      "Sample",
		Source:    registry.CollectionSourceManual,
		CreatedAt: now,
	}
	desc := &synth.Descriptor{
		Type: "function",
		Function: synth.Function{
			Name:        "sample_fn",
			Description: "A sample",
			Parameters:  synth.EmptyObjectSchema(),
		},
	}
	records := []*registry.FunctionRecord{{
		Name:         "sample_fn",
		SourceCode:   "function sample_fn() { return 1; }",
		Descriptor:   desc,
		Params:       []synth.Param{{Name: "x", Required: true}},
		CollectionID: collectionID,
		Enabled:      true,
		Callable:     true,
		Origin:       registry.OriginManual,
		CreatedAt:    now,
	}}
	return coll, records
}

func TestSaveAndLoadCollection(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	coll, records := sampleRecords("c1")
	require.NoError(t, s.SaveCollection(ctx, coll, records))

	collections, loaded, err := s.LoadCollections(ctx)
	require.NoError(t, err)
	require.Len(t, collections, 1)
	require.Len(t, loaded, 1)

	assert.Equal(t, "Sample", collections[0].Name)
	assert.Equal(t, registry.CollectionSourceManual, collections[0].Source)

	rec := loaded[0]
	assert.Equal(t, "sample_fn", rec.Name)
	assert.Equal(t, "c1", rec.CollectionID)
	assert.True(t, rec.Enabled)
	assert.True(t, rec.Callable)
	assert.Equal(t, registry.OriginManual, rec.Origin)
	require.Len(t, rec.Params, 1)
	assert.True(t, rec.Params[0].Required)
	assert.Equal(t, "sample_fn", rec.Descriptor.Function.Name)
}

func TestResaveReplacesMembers(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	coll, records := sampleRecords("c1")
	require.NoError(t, s.SaveCollection(ctx, coll, records))

	// Second save with a different member replaces the first one.
	desc := &synth.Descriptor{
		Type: "function",
		Function: synth.Function{
			Name:        "other_fn",
			Description: "Other",
			Parameters:  synth.EmptyObjectSchema(),
		},
	}
	replacement := []*registry.FunctionRecord{{
		Name:         "other_fn",
		SourceCode:   "function other_fn() { return 2; }",
		Descriptor:   desc,
		CollectionID: "c1",
		Callable:     true,
		Origin:       registry.OriginManual,
		CreatedAt:    time.Now().UTC(),
	}}
	require.NoError(t, s.SaveCollection(ctx, coll, replacement))

	_, loaded, err := s.LoadCollections(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "other_fn", loaded[0].Name)
}

func TestDeleteCollectionCascades(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	coll, records := sampleRecords("c1")
	require.NoError(t, s.SaveCollection(ctx, coll, records))
	require.NoError(t, s.DeleteCollection(ctx, "c1"))

	collections, loaded, err := s.LoadCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, collections)
	assert.Empty(t, loaded)
}

func TestSetEnabled(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	coll, records := sampleRecords("c1")
	require.NoError(t, s.SaveCollection(ctx, coll, records))

	require.NoError(t, s.SetEnabled(ctx, "sample_fn", false))
	_, loaded, err := s.LoadCollections(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.False(t, loaded[0].Enabled)

	assert.ErrorIs(t, s.SetEnabled(ctx, "missing_fn", true), registry.ErrNotFound)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	coll, records := sampleRecords("c1")
	require.NoError(t, s.SaveCollection(ctx, coll, records))
	require.NoError(t, s.SaveVerdict(ctx, "sample_fn", "allow"))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	collections, loaded, err := reopened.LoadCollections(ctx)
	require.NoError(t, err)
	assert.Len(t, collections, 1)
	assert.Len(t, loaded, 1)

	verdicts, err := reopened.LoadVerdicts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sample_fn": "allow"}, verdicts)
}

func TestVerdictLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SaveVerdict(ctx, "fn", "allow"))
	require.NoError(t, s.SaveVerdict(ctx, "fn", "block"))

	verdicts, err := s.LoadVerdicts(ctx)
	require.NoError(t, err)
	assert.Equal(t, "block", verdicts["fn"], "latest verdict wins")

	require.NoError(t, s.DeleteVerdict(ctx, "fn"))
	verdicts, err = s.LoadVerdicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, verdicts)
}

func TestDescriptorRoundTripsVerbatim(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	schema := json.RawMessage(`{"type":"object","properties":{"city":{"type":"string","description":"City name"}},"required":["city"]}`)
	desc := &synth.Descriptor{
		Type: "function",
		Function: synth.Function{
			Name:        "weather",
			Description: "Get weather",
			Parameters:  schema,
		},
	}
	coll := &registry.Collection{ID: "ext", Name: "weather", Source: "mcp:weather", CreatedAt: time.Now().UTC()}
	records := []*registry.FunctionRecord{{
		Name:         "weather",
		Descriptor:   desc,
		CollectionID: "ext",
		Enabled:      true,
		Callable:     true,
		Origin:       registry.OriginExternal,
		CreatedAt:    time.Now().UTC(),
	}}
	require.NoError(t, s.SaveCollection(ctx, coll, records))

	_, loaded, err := s.LoadCollections(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.JSONEq(t, string(schema), string(loaded[0].Descriptor.Function.Parameters))
}
