// ABOUTME: Tests for the JavaScript execution engine covering argument binding,
// ABOUTME: helper loading, thrown errors, async results, and the deadline sentinel.

package jsexec

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristerhedfors/toolgate/internal/synth"
)

func testEngine(t *testing.T, timeout time.Duration) *Engine {
	t.Helper()
	return New(slog.Default(), timeout)
}

func TestExecuteBasic(t *testing.T) {
	e := testEngine(t, 0)
	result, err := e.Execute(context.Background(), "add",
		[]string{`function add(a, b) { return {result: a + b}; }`},
		[]synth.Param{{Name: "a", Required: true}, {Name: "b", Required: true}},
		map[string]any{"a": 2, "b": 3},
	)
	require.NoError(t, err)

	obj, ok := result.(map[string]any)
	require.True(t, ok, "expected object result, got %T", result)
	assert.EqualValues(t, 5, obj["result"])
}

func TestExecuteDefaultParameter(t *testing.T) {
	e := testEngine(t, 0)
	result, err := e.Execute(context.Background(), "greet",
		[]string{`function greet(name, greeting = "hello") { return greeting + " " + name; }`},
		[]synth.Param{{Name: "name", Required: true}, {Name: "greeting", Required: false}},
		map[string]any{"name": "world"},
	)
	require.NoError(t, err)
	assert.Equal(t, "hello world", result)
}

func TestExecuteWithAuxiliaryHelper(t *testing.T) {
	e := testEngine(t, 0)
	result, err := e.Execute(context.Background(), "run",
		[]string{
			`function helper(x) { return x * 2; }`,
			`function run(x) { return helper(x) + 1; }`,
		},
		[]synth.Param{{Name: "x", Required: true}},
		map[string]any{"x": 10},
	)
	require.NoError(t, err)
	assert.EqualValues(t, 21, result)
}

func TestExecuteThrow(t *testing.T) {
	e := testEngine(t, 0)
	_, err := e.Execute(context.Background(), "boom",
		[]string{`function boom() { throw new Error("kaput"); }`},
		nil, nil,
	)
	var thrown *ThrowError
	require.ErrorAs(t, err, &thrown)
	assert.Contains(t, thrown.Error(), "kaput")
}

func TestExecuteAsync(t *testing.T) {
	e := testEngine(t, 0)
	result, err := e.Execute(context.Background(), "later",
		[]string{`async function later(x) { return x + 1; }`},
		[]synth.Param{{Name: "x", Required: true}},
		map[string]any{"x": 41},
	)
	require.NoError(t, err)
	assert.EqualValues(t, 42, result)
}

func TestExecuteDeadline(t *testing.T) {
	e := testEngine(t, 50*time.Millisecond)
	_, err := e.Execute(context.Background(), "spin",
		[]string{`function spin() { while (true) {} }`},
		nil, nil,
	)
	assert.ErrorIs(t, err, ErrDeadline)
}

func TestExecuteMissingFunction(t *testing.T) {
	e := testEngine(t, 0)
	_, err := e.Execute(context.Background(), "ghost",
		[]string{`function other() {}`},
		nil, nil,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}
