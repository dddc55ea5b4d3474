// ABOUTME: JavaScript execution engine for function bodies using goja.
// ABOUTME: Enforces the execution deadline via interpreter interrupt.

package jsexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"

	"github.com/kristerhedfors/toolgate/internal/synth"
)

// DefaultTimeout is the execution deadline applied when none is configured.
const DefaultTimeout = 30 * time.Second

// ErrDeadline is the non-result sentinel for an expired execution deadline.
// It is never serialized back to the agent as if it were a function result.
var ErrDeadline = errors.New("execution deadline exceeded")

// ThrowError wraps a value thrown by the function body. Message is the
// rendered form of the thrown value; Value is its export.
type ThrowError struct {
	Value   any
	Message string
}

func (e *ThrowError) Error() string { return "function threw: " + e.Message }

// Engine executes registered function source in a fresh interpreter per call.
// Nothing persists between invocations; the isolation boundary is the goja
// runtime plus the deadline interrupt.
type Engine struct {
	logger  *slog.Logger
	timeout time.Duration
}

// New creates an engine with the given execution deadline. Zero means
// DefaultTimeout.
func New(logger *slog.Logger, timeout time.Duration) *Engine {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		logger:  logger.With("component", "jsexec"),
		timeout: timeout,
	}
}

// Timeout returns the configured execution deadline.
func (e *Engine) Timeout() time.Duration { return e.timeout }

// Execute loads the given sources (the target function plus any auxiliary
// helpers from its collection) into a fresh runtime and calls name with the
// arguments bound positionally by params order. Missing optional arguments
// become undefined.
func (e *Engine) Execute(ctx context.Context, name string, sources []string, params []synth.Param, args map[string]any) (any, error) {
	vm := goja.New()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ErrDeadline)
		case <-watchdogDone:
		}
	}()

	for _, src := range sources {
		if _, err := vm.RunString(src); err != nil {
			return nil, e.translate(ctx, err)
		}
	}

	fn, ok := goja.AssertFunction(vm.Get(name))
	if !ok {
		return nil, fmt.Errorf("source did not define a callable function %q", name)
	}

	callArgs := make([]goja.Value, len(params))
	for i, p := range params {
		if v, ok := args[p.Name]; ok {
			callArgs[i] = vm.ToValue(v)
		} else {
			callArgs[i] = goja.Undefined()
		}
	}

	started := time.Now()
	value, err := fn(goja.Undefined(), callArgs...)
	if err != nil {
		return nil, e.translate(ctx, err)
	}

	result, err := e.settle(value)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("function executed",
		"function", name,
		"duration", time.Since(started),
	)
	return result, nil
}

// settle exports a result value, unwrapping a settled promise from an async
// function. The interpreter drains its job queue before returning, so a
// promise still pending here means the function awaited something the
// runtime cannot provide.
func (e *Engine) settle(value goja.Value) (any, error) {
	exported := value.Export()
	promise, ok := exported.(*goja.Promise)
	if !ok {
		return exported, nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result().Export(), nil
	case goja.PromiseStateRejected:
		return nil, &ThrowError{Value: promise.Result().Export(), Message: promise.Result().String()}
	default:
		return nil, errors.New("async function did not settle")
	}
}

// translate converts interpreter errors into the engine's taxonomy: deadline
// interrupts become ErrDeadline, thrown values become ThrowError.
func (e *Engine) translate(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if ctx.Err() != nil {
			return ErrDeadline
		}
		return err
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return &ThrowError{Value: exception.Value().Export(), Message: exception.Value().String()}
	}
	return err
}
