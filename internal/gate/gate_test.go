// ABOUTME: Tests for the approval gate - trust shortcuts, interactive
// ABOUTME: decisions, argument edits, result interception, and queuing.

package gate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristerhedfors/toolgate/internal/jsexec"
	"github.com/kristerhedfors/toolgate/internal/registry"
	"github.com/kristerhedfors/toolgate/internal/synth"
	"github.com/kristerhedfors/toolgate/internal/trust"
)

// scriptedApprover plays back canned decisions in order.
type scriptedApprover struct {
	mu        sync.Mutex
	decisions []*Decision
	reviews   []*ResultDecision
	seen      []*DecisionRequest
	seenRev   []*ResultReview
	err       error
}

func (a *scriptedApprover) Decide(ctx context.Context, req *DecisionRequest) (*Decision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, req)
	if a.err != nil {
		return nil, a.err
	}
	if len(a.decisions) == 0 {
		return &Decision{Action: ActionApprove}, nil
	}
	d := a.decisions[0]
	a.decisions = a.decisions[1:]
	return d, nil
}

func (a *scriptedApprover) ReviewResult(ctx context.Context, review *ResultReview) (*ResultDecision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seenRev = append(a.seenRev, review)
	if len(a.reviews) == 0 {
		return &ResultDecision{Action: ResultReturn}, nil
	}
	d := a.reviews[0]
	a.reviews = a.reviews[1:]
	return d, nil
}

// fnRunner dispatches to a Go func, standing in for the JS engine.
type fnRunner struct {
	fn func(ctx context.Context, args map[string]any) (any, error)
}

func (r fnRunner) Run(ctx context.Context, rec *registry.FunctionRecord, args map[string]any) (any, error) {
	return r.fn(ctx, args)
}

func echoRunner() Runner {
	return fnRunner{fn: func(ctx context.Context, args map[string]any) (any, error) {
		return args, nil
	}}
}

type fixture struct {
	gate     *Gate
	registry *registry.Registry
	trust    *trust.Memory
	approver *scriptedApprover
}

func newFixture(t *testing.T, runner Runner, approver *scriptedApprover) *fixture {
	t.Helper()
	logger := slog.Default()
	reg := registry.New(logger, nil)

	cand, err := synth.Synthesize("target", "function target(a) { return a; }")
	require.NoError(t, err)
	_, err = reg.AddBatch(context.Background(), []*synth.Candidate{cand}, registry.AddOptions{Enabled: true})
	require.NoError(t, err)

	memory := trust.New(logger, nil)
	g := New(Config{
		Logger:   logger,
		Registry: reg,
		Trust:    memory,
		Runner:   runner,
		Approver: approver,
	})
	return &fixture{gate: g, registry: reg, trust: memory, approver: approver}
}

func invoke(t *testing.T, f *fixture, args map[string]any) *Outcome {
	t.Helper()
	outcome, err := f.gate.Invoke(context.Background(), &InvocationRequest{
		FunctionName: "target",
		Arguments:    args,
	})
	require.NoError(t, err)
	return outcome
}

func TestUnknownFunctionRefused(t *testing.T) {
	f := newFixture(t, echoRunner(), &scriptedApprover{})
	_, err := f.gate.Invoke(context.Background(), &InvocationRequest{FunctionName: "ghost"})
	require.ErrorIs(t, err, ErrUnknownFunction)
}

func TestDisabledFunctionRefused(t *testing.T) {
	f := newFixture(t, echoRunner(), &scriptedApprover{})
	require.NoError(t, f.registry.Disable(context.Background(), "target"))
	_, err := f.gate.Invoke(context.Background(), &InvocationRequest{FunctionName: "target"})
	require.ErrorIs(t, err, ErrFunctionDisabled)
}

func TestApproveExecutes(t *testing.T) {
	approver := &scriptedApprover{decisions: []*Decision{{Action: ActionApprove}}}
	f := newFixture(t, echoRunner(), approver)

	outcome := invoke(t, f, map[string]any{"a": "hi"})
	assert.Equal(t, ActionApprove, outcome.Decision)
	assert.True(t, outcome.Interactive)
	assert.Equal(t, map[string]any{"a": "hi"}, outcome.Result)
	assert.NotEmpty(t, outcome.RequestID)

	require.Len(t, approver.seen, 1)
	assert.Equal(t, "target", approver.seen[0].FunctionName)
	assert.JSONEq(t, `{"a":"hi"}`, string(approver.seen[0].Arguments))
}

func TestBlockSkipsExecution(t *testing.T) {
	ran := false
	runner := fnRunner{fn: func(ctx context.Context, args map[string]any) (any, error) {
		ran = true
		return nil, nil
	}}
	approver := &scriptedApprover{decisions: []*Decision{{Action: ActionBlock}}}
	f := newFixture(t, runner, approver)

	outcome := invoke(t, f, nil)
	assert.Equal(t, ActionBlock, outcome.Decision)
	assert.Nil(t, outcome.Result)
	assert.False(t, ran, "blocked invocations never execute")
}

func TestApproverErrorIsBlock(t *testing.T) {
	approver := &scriptedApprover{err: errors.New("view closed")}
	f := newFixture(t, echoRunner(), approver)

	outcome := invoke(t, f, nil)
	assert.Equal(t, ActionBlock, outcome.Decision)
}

func TestRememberAllow(t *testing.T) {
	approver := &scriptedApprover{decisions: []*Decision{{Action: ActionApprove, Remember: true}}}
	f := newFixture(t, echoRunner(), approver)

	invoke(t, f, nil)
	assert.True(t, f.trust.IsAllowed("target"))

	// Second call resolves from trust without consulting the approver.
	outcome := invoke(t, f, map[string]any{"a": "again"})
	assert.Equal(t, ActionApprove, outcome.Decision)
	assert.False(t, outcome.Interactive)
	assert.Equal(t, map[string]any{"a": "again"}, outcome.Result)
	assert.Len(t, approver.seen, 1)
}

func TestRememberBlock(t *testing.T) {
	approver := &scriptedApprover{decisions: []*Decision{{Action: ActionBlock, Remember: true}}}
	f := newFixture(t, echoRunner(), approver)

	invoke(t, f, nil)
	assert.True(t, f.trust.IsBlocked("target"))

	outcome := invoke(t, f, nil)
	assert.Equal(t, ActionBlock, outcome.Decision)
	assert.False(t, outcome.Interactive)
	assert.Len(t, approver.seen, 1)
}

func TestRememberIgnoredOnIntercept(t *testing.T) {
	approver := &scriptedApprover{
		decisions: []*Decision{{Action: ActionApproveIntercept, Remember: true}},
		reviews:   []*ResultDecision{{Action: ResultReturn}},
	}
	f := newFixture(t, echoRunner(), approver)

	invoke(t, f, nil)
	assert.False(t, f.trust.IsAllowed("target"))
}

func TestArgumentEditReParseLoop(t *testing.T) {
	approver := &scriptedApprover{decisions: []*Decision{
		{Action: ActionApprove, EditedArguments: json.RawMessage(`{not json`)},
		{Action: ActionApprove, EditedArguments: json.RawMessage(`{"a":"fixed"}`)},
	}}
	f := newFixture(t, echoRunner(), approver)

	outcome := invoke(t, f, map[string]any{"a": "orig"})
	assert.Equal(t, map[string]any{"a": "fixed"}, outcome.Result)
	assert.Equal(t, map[string]any{"a": "fixed"}, outcome.Arguments)

	require.Len(t, approver.seen, 2)
	assert.Empty(t, approver.seen[0].EditError)
	assert.NotEmpty(t, approver.seen[1].EditError, "failed edit is re-presented, never silently dropped")
}

func TestThrownErrorBecomesPayload(t *testing.T) {
	runner := fnRunner{fn: func(ctx context.Context, args map[string]any) (any, error) {
		return nil, &jsexec.ThrowError{Value: "kaput", Message: "Error: kaput"}
	}}
	approver := &scriptedApprover{decisions: []*Decision{{Action: ActionApprove}}}
	f := newFixture(t, runner, approver)

	outcome := invoke(t, f, nil)
	assert.Equal(t, ActionApprove, outcome.Decision)
	assert.False(t, outcome.TimedOut)
	result, ok := outcome.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "error", result["status"])
	assert.Contains(t, result["error"], "kaput")
}

func TestTimeoutNeverBecomesResult(t *testing.T) {
	runner := fnRunner{fn: func(ctx context.Context, args map[string]any) (any, error) {
		return nil, jsexec.ErrDeadline
	}}
	approver := &scriptedApprover{decisions: []*Decision{{Action: ActionApprove}}}
	f := newFixture(t, runner, approver)

	outcome := invoke(t, f, nil)
	assert.True(t, outcome.TimedOut)
	assert.Nil(t, outcome.Result)
	assert.ErrorIs(t, outcome.Err, jsexec.ErrDeadline)
}

func TestInterceptReturnOfErrorPayload(t *testing.T) {
	// A function that throws still lets the intercept flow return the
	// structured error to the agent.
	runner := fnRunner{fn: func(ctx context.Context, args map[string]any) (any, error) {
		return nil, &jsexec.ThrowError{Value: "boom", Message: "Error: boom"}
	}}
	approver := &scriptedApprover{
		decisions: []*Decision{{Action: ActionApproveIntercept}},
		reviews:   []*ResultDecision{{Action: ResultReturn}},
	}
	f := newFixture(t, runner, approver)

	outcome := invoke(t, f, nil)
	assert.Equal(t, ActionApproveIntercept, outcome.Decision)
	result, ok := outcome.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "error", result["status"])

	require.Len(t, approver.seenRev, 1)
	assert.True(t, approver.seenRev[0].IsError)
}

func TestInterceptEditResult(t *testing.T) {
	approver := &scriptedApprover{
		decisions: []*Decision{{Action: ActionApproveIntercept}},
		reviews:   []*ResultDecision{{Action: ResultReturn, EditedResult: json.RawMessage(`{"redacted":true}`)}},
	}
	f := newFixture(t, echoRunner(), approver)

	outcome := invoke(t, f, map[string]any{"a": "secret"})
	assert.Equal(t, map[string]any{"redacted": true}, outcome.Result)
}

func TestInterceptBlockResult(t *testing.T) {
	approver := &scriptedApprover{
		decisions: []*Decision{{Action: ActionApproveIntercept}},
		reviews:   []*ResultDecision{{Action: ResultBlock}},
	}
	f := newFixture(t, echoRunner(), approver)

	outcome := invoke(t, f, map[string]any{"a": "secret"})
	assert.Equal(t, ActionApproveIntercept, outcome.Decision)
	assert.Nil(t, outcome.Result, "blocked result yields null")
}

func TestInterceptRerun(t *testing.T) {
	var calls []map[string]any
	runner := fnRunner{fn: func(ctx context.Context, args map[string]any) (any, error) {
		calls = append(calls, args)
		return args, nil
	}}
	approver := &scriptedApprover{
		decisions: []*Decision{{Action: ActionApproveIntercept}},
		reviews: []*ResultDecision{
			{Action: ResultRerun, EditedArguments: json.RawMessage(`{"a":"second"}`)},
			{Action: ResultReturn},
		},
	}
	f := newFixture(t, runner, approver)

	outcome := invoke(t, f, map[string]any{"a": "first"})
	require.Len(t, calls, 2)
	assert.Equal(t, map[string]any{"a": "second"}, outcome.Result)
	assert.Equal(t, map[string]any{"a": "second"}, outcome.Arguments)
}

func TestInterceptEditSupersedesTimeout(t *testing.T) {
	runner := fnRunner{fn: func(ctx context.Context, args map[string]any) (any, error) {
		return nil, jsexec.ErrDeadline
	}}
	approver := &scriptedApprover{
		decisions: []*Decision{{Action: ActionApproveIntercept}},
		reviews:   []*ResultDecision{{Action: ResultReturn, EditedResult: json.RawMessage(`"manual"`)}},
	}
	f := newFixture(t, runner, approver)

	outcome := invoke(t, f, nil)
	assert.Equal(t, "manual", outcome.Result)
	assert.False(t, outcome.TimedOut, "an explicit edit replaces the timeout")
}

func TestInterceptTimeoutWithoutEdit(t *testing.T) {
	runner := fnRunner{fn: func(ctx context.Context, args map[string]any) (any, error) {
		return nil, jsexec.ErrDeadline
	}}
	approver := &scriptedApprover{
		decisions: []*Decision{{Action: ActionApproveIntercept}},
		reviews:   []*ResultDecision{{Action: ResultReturn}},
	}
	f := newFixture(t, runner, approver)

	outcome := invoke(t, f, nil)
	assert.True(t, outcome.TimedOut)
	assert.Nil(t, outcome.Result)
	assert.ErrorIs(t, outcome.Err, jsexec.ErrDeadline)
}

func TestTrustedCallsBypassQueue(t *testing.T) {
	ctx := context.Background()
	blocker := make(chan struct{})
	started := make(chan struct{})

	approver := &scriptedApprover{}
	f := newFixture(t, echoRunner(), approver)
	require.NoError(t, f.trust.Remember(ctx, "target", trust.VerdictAllow))

	// Hold the interactive slot with a direct acquire.
	require.NoError(t, f.gate.admission.acquire(ctx))
	go func() {
		close(started)
		<-blocker
		f.gate.admission.release()
	}()
	<-started

	done := make(chan *Outcome, 1)
	go func() {
		outcome, err := f.gate.Invoke(ctx, &InvocationRequest{
			FunctionName: "target",
			Arguments:    map[string]any{"a": "x"},
		})
		assert.NoError(t, err)
		done <- outcome
	}()

	select {
	case outcome := <-done:
		require.NotNil(t, outcome)
		assert.False(t, outcome.Interactive)
	case <-time.After(2 * time.Second):
		t.Fatal("trusted call waited behind the interactive queue")
	}
	close(blocker)
}

func TestConcurrentRequestsServedInOrder(t *testing.T) {
	ctx := context.Background()
	a := &admission{}

	require.NoError(t, a.acquire(ctx))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	ready := make(chan struct{}, 3)
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ready <- struct{}{}
			// Stagger arrivals so queue order is deterministic.
			time.Sleep(time.Duration(n) * 50 * time.Millisecond)
			assert.NoError(t, a.acquire(ctx))
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			a.release()
		}(i)
	}
	for i := 0; i < 3; i++ {
		<-ready
	}
	time.Sleep(250 * time.Millisecond)
	a.release()
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestAcquireCancellation(t *testing.T) {
	a := &admission{}
	require.NoError(t, a.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := a.acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The slot is still held exactly once; releasing frees it.
	a.release()
	require.NoError(t, a.acquire(context.Background()))
	a.release()
}
