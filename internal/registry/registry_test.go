// ABOUTME: Tests for the function registry - collection lifecycle, name
// ABOUTME: collisions, enable/disable rules, and the agent-visible surface.

package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristerhedfors/toolgate/internal/synth"
)

func mustSynthesize(t *testing.T, name, source string) *synth.Candidate {
	t.Helper()
	cand, err := synth.Synthesize(name, source)
	require.NoError(t, err)
	return cand
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(slog.Default(), nil)
}

func TestAddBatchCreatesCollection(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	coll, err := reg.AddBatch(ctx, []*synth.Candidate{
		mustSynthesize(t, "alpha", "function alpha() { return 1; }"),
		mustSynthesize(t, "beta", "function beta() { return 2; }"),
	}, AddOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, coll.ID)
	assert.Equal(t, CollectionSourceManual, coll.Source)
	assert.Equal(t, "alpha & beta", coll.Name)

	rec, ok := reg.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, coll.ID, rec.CollectionID)
	assert.Equal(t, OriginManual, rec.Origin)
	assert.False(t, rec.Enabled, "records default to disabled")
	assert.True(t, rec.Callable)

	assert.Equal(t, []string{"alpha", "beta"}, reg.FunctionsInSameCollection("beta"))
}

func TestDerivedCollectionNames(t *testing.T) {
	ctx := context.Background()

	t.Run("single member", func(t *testing.T) {
		reg := newRegistry(t)
		coll, err := reg.AddBatch(ctx, []*synth.Candidate{
			mustSynthesize(t, "solo", "function solo() {}"),
		}, AddOptions{})
		require.NoError(t, err)
		assert.Equal(t, "solo", coll.Name)
	})

	t.Run("many members", func(t *testing.T) {
		reg := newRegistry(t)
		coll, err := reg.AddBatch(ctx, []*synth.Candidate{
			mustSynthesize(t, "a", "function a() {}"),
			mustSynthesize(t, "b", "function b() {}"),
			mustSynthesize(t, "c", "function c() {}"),
		}, AddOptions{})
		require.NoError(t, err)
		assert.Equal(t, "a & 2 more", coll.Name)
	})
}

func TestNameCollisionEvictsPriorRecord(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	_, err := reg.AddBatch(ctx, []*synth.Candidate{
		mustSynthesize(t, "shared", "function shared() { return 'old'; }"),
	}, AddOptions{Name: "Old"})
	require.NoError(t, err)

	second, err := reg.AddBatch(ctx, []*synth.Candidate{
		mustSynthesize(t, "shared", "function shared() { return 'new'; }"),
	}, AddOptions{Name: "New"})
	require.NoError(t, err)

	rec, ok := reg.Get("shared")
	require.True(t, ok)
	assert.Equal(t, second.ID, rec.CollectionID)
	assert.Contains(t, rec.SourceCode, "'new'")

	// The evicted record was Old's only member, so Old goes with it.
	collections := reg.Collections()
	require.Len(t, collections, 1)
	assert.Equal(t, second.ID, collections[0].ID)
}

func TestResaveDropsStaleMembers(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	coll, err := reg.AddBatch(ctx, []*synth.Candidate{
		mustSynthesize(t, "keep", "function keep() {}"),
		mustSynthesize(t, "drop", "function drop() {}"),
	}, AddOptions{})
	require.NoError(t, err)

	_, err = reg.AddBatch(ctx, []*synth.Candidate{
		mustSynthesize(t, "keep", "function keep() {}"),
	}, AddOptions{CollectionID: coll.ID, Name: coll.Name})
	require.NoError(t, err)

	_, ok := reg.Get("drop")
	assert.False(t, ok, "members absent from a re-save are removed")
	_, ok = reg.Get("keep")
	assert.True(t, ok)
}

func TestEnableDisable(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	_, err := reg.AddBatch(ctx, []*synth.Candidate{
		mustSynthesize(t, "fn", "function fn() {}"),
	}, AddOptions{})
	require.NoError(t, err)

	require.NoError(t, reg.Enable(ctx, "fn"))
	rec, _ := reg.Get("fn")
	assert.True(t, rec.Enabled)

	require.NoError(t, reg.Disable(ctx, "fn"))
	rec, _ = reg.Get("fn")
	assert.False(t, rec.Enabled)

	err = reg.Enable(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnableAuxiliaryRefused(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	source := `/** @callable */
function main_fn() { return helper_fn(); }

function helper_fn() { return 1; }`
	candidates, err := synth.SynthesizeBatch(source)
	require.NoError(t, err)
	_, err = reg.AddBatch(ctx, candidates, AddOptions{})
	require.NoError(t, err)

	err = reg.Enable(ctx, "helper_fn")
	assert.ErrorIs(t, err, ErrAuxiliaryFunction)
	require.NoError(t, reg.Enable(ctx, "main_fn"))
}

func TestListEnabledDescriptors(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	_, err := reg.AddBatch(ctx, []*synth.Candidate{
		mustSynthesize(t, "zeta", "function zeta() {}"),
		mustSynthesize(t, "alpha", "function alpha() {}"),
		mustSynthesize(t, "mid", "function mid() {}"),
	}, AddOptions{})
	require.NoError(t, err)

	assert.Empty(t, reg.ListEnabledDescriptors())

	require.NoError(t, reg.Enable(ctx, "zeta"))
	require.NoError(t, reg.Enable(ctx, "alpha"))

	descriptors := reg.ListEnabledDescriptors()
	require.Len(t, descriptors, 2)
	assert.Equal(t, "alpha", descriptors[0].Function.Name)
	assert.Equal(t, "zeta", descriptors[1].Function.Name)
}

func TestRemoveDeletesOwningCollection(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	_, err := reg.AddBatch(ctx, []*synth.Candidate{
		mustSynthesize(t, "one", "function one() {}"),
		mustSynthesize(t, "two", "function two() {}"),
	}, AddOptions{})
	require.NoError(t, err)

	require.NoError(t, reg.Remove(ctx, "one"))

	_, ok := reg.Get("one")
	assert.False(t, ok)
	_, ok = reg.Get("two")
	assert.False(t, ok, "removing a function removes its whole collection")
	assert.Empty(t, reg.Collections())

	assert.ErrorIs(t, reg.Remove(ctx, "one"), ErrNotFound)
}

func TestCollectionBySource(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	created, err := reg.AddBatch(ctx, []*synth.Candidate{
		mustSynthesize(t, "remote", "function remote() {}"),
	}, AddOptions{Source: "mcp:weather", Origin: OriginExternal})
	require.NoError(t, err)

	found, ok := reg.CollectionBySource("mcp:weather")
	require.True(t, ok)
	assert.Equal(t, created.ID, found.ID)

	_, ok = reg.CollectionBySource("mcp:unknown")
	assert.False(t, ok)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	var events []Event
	reg.Subscribe(func(e Event) { events = append(events, e) })

	coll, err := reg.AddBatch(ctx, []*synth.Candidate{
		mustSynthesize(t, "watched", "function watched() {}"),
	}, AddOptions{})
	require.NoError(t, err)
	require.NoError(t, reg.Enable(ctx, "watched"))
	require.NoError(t, reg.RemoveCollection(ctx, coll.ID))

	require.Len(t, events, 3)
	assert.Equal(t, EventAdded, events[0].Kind)
	assert.Equal(t, EventEnabled, events[1].Kind)
	assert.Equal(t, EventRemoved, events[2].Kind)
	assert.Equal(t, []string{"watched"}, events[0].Functions)
}
