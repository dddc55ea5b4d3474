// ABOUTME: Approval gate state machine - intercepts every invocation, consults
// ABOUTME: trust memory, and suspends on a human decision before execution.

package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kristerhedfors/toolgate/internal/jsexec"
	"github.com/kristerhedfors/toolgate/internal/registry"
	"github.com/kristerhedfors/toolgate/internal/trust"
)

// ErrUnknownFunction indicates an invocation of a name absent from the registry.
var ErrUnknownFunction = errors.New("unknown function")

// ErrFunctionDisabled indicates an invocation of a registered but disabled or
// auxiliary function. The agent is never offered such descriptors; a request
// for one is refused outright.
var ErrFunctionDisabled = errors.New("function not enabled")

// Gate governs every invocation request. Standing trust verdicts resolve
// non-interactively; everything else suspends on the approver. At most one
// interactive session is in flight; later requests queue in arrival order.
type Gate struct {
	logger    *slog.Logger
	registry  *registry.Registry
	trust     *trust.Memory
	runner    Runner
	approver  Approver
	admission admission
}

// Config wires a gate.
type Config struct {
	Logger   *slog.Logger
	Registry *registry.Registry
	Trust    *trust.Memory
	Runner   Runner
	Approver Approver
}

// New creates a gate. Registry, trust, runner, and approver are required.
func New(cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		logger:   logger.With("component", "gate"),
		registry: cfg.Registry,
		trust:    cfg.Trust,
		runner:   cfg.Runner,
		approver: cfg.Approver,
	}
}

// Invoke processes one invocation request to a terminal outcome. The returned
// error is reserved for requests the gate refuses to consider at all (unknown
// or disabled functions, cancelled queueing); every considered request ends
// in an Outcome, execution failures included.
func (g *Gate) Invoke(ctx context.Context, req *InvocationRequest) (*Outcome, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.Arguments == nil {
		req.Arguments = make(map[string]any)
	}

	rec, ok := g.registry.Get(req.FunctionName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, req.FunctionName)
	}
	if !rec.Enabled || !rec.Callable {
		return nil, fmt.Errorf("%w: %s", ErrFunctionDisabled, req.FunctionName)
	}

	// Standing verdicts bypass the interactive session entirely.
	if g.trust.IsBlocked(req.FunctionName) {
		g.logger.Info("blocked by trust memory", "function", req.FunctionName, "request_id", req.RequestID)
		return &Outcome{
			RequestID: req.RequestID,
			Decision:  ActionBlock,
			Arguments: req.Arguments,
		}, nil
	}
	if g.trust.IsAllowed(req.FunctionName) {
		g.logger.Info("allowed by trust memory", "function", req.FunctionName, "request_id", req.RequestID)
		outcome := &Outcome{
			RequestID: req.RequestID,
			Decision:  ActionApprove,
			Arguments: req.Arguments,
		}
		outcome.Result, outcome.TimedOut = g.execute(ctx, rec, req.Arguments)
		if outcome.TimedOut {
			outcome.Err = jsexec.ErrDeadline
		}
		return outcome, nil
	}

	if err := g.admission.acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for decision slot: %w", err)
	}
	defer g.admission.release()

	s := &session{
		gate:    g,
		record:  rec,
		request: req,
	}
	return s.run(ctx), nil
}

// execute runs the function and folds failures into the normal result path:
// thrown errors and bridge failures become a structured error payload, a
// deadline expiry becomes the timed-out sentinel with no result at all.
func (g *Gate) execute(ctx context.Context, rec *registry.FunctionRecord, args map[string]any) (result any, timedOut bool) {
	res, err := g.runner.Run(ctx, rec, args)
	if err == nil {
		return res, false
	}
	if errors.Is(err, jsexec.ErrDeadline) {
		g.logger.Warn("execution deadline expired", "function", rec.Name)
		return nil, true
	}

	var thrown *jsexec.ThrowError
	message := err.Error()
	if errors.As(err, &thrown) {
		message = thrown.Message
	}
	g.logger.Warn("execution failed", "function", rec.Name, "error", message)
	return map[string]any{"error": message, "status": "error"}, false
}

// session is the explicit per-request state threaded through the interactive
// state machine. Idle -> Requested -> {Blocked, Approved, Intercepted};
// Intercepted -> ResultReady -> {Returned, ResultBlocked}.
type session struct {
	gate    *Gate
	record  *registry.FunctionRecord
	request *InvocationRequest
}

func (s *session) run(ctx context.Context) *Outcome {
	g := s.gate
	outcome := &Outcome{
		RequestID:   s.request.RequestID,
		Interactive: true,
	}

	args, decision := s.decideArguments(ctx)
	outcome.Arguments = args

	switch decision.Action {
	case ActionBlock:
		outcome.Decision = ActionBlock
		if decision.Remember {
			s.remember(ctx, trust.VerdictBlock)
		}
		g.logger.Info("invocation blocked", "function", s.record.Name, "request_id", s.request.RequestID)
		return outcome

	case ActionApprove:
		outcome.Decision = ActionApprove
		if decision.Remember {
			s.remember(ctx, trust.VerdictAllow)
		}
		outcome.Result, outcome.TimedOut = g.execute(ctx, s.record, args)
		if outcome.TimedOut {
			outcome.Err = jsexec.ErrDeadline
		}
		return outcome

	default: // ActionApproveIntercept: "remember" is deliberately not honored
		outcome.Decision = ActionApproveIntercept
		result, timedOut := g.execute(ctx, s.record, args)
		return s.interceptResult(ctx, outcome, result, timedOut)
	}
}

// decideArguments runs the Requested stage: render the request, accept edits,
// and re-prompt until the edited arguments parse as a JSON object. Invalid
// edits never silently fall back to the original.
func (s *session) decideArguments(ctx context.Context) (map[string]any, *Decision) {
	current, err := json.Marshal(s.request.Arguments)
	if err != nil {
		current = []byte("{}")
	}
	editError := ""
	args := s.request.Arguments

	for {
		req := &DecisionRequest{
			RequestID:    s.request.RequestID,
			FunctionName: s.record.Name,
			Description:  s.record.Descriptor.Function.Description,
			Arguments:    current,
			EditError:    editError,
		}
		decision, err := s.gate.approver.Decide(ctx, req)
		if err != nil || decision == nil {
			// Closing the decision view is an explicit block.
			return args, &Decision{Action: ActionBlock}
		}
		if decision.EditedArguments == nil {
			return args, decision
		}

		var edited map[string]any
		if jsonErr := json.Unmarshal(decision.EditedArguments, &edited); jsonErr != nil {
			current = decision.EditedArguments
			editError = jsonErr.Error()
			continue
		}
		return edited, decision
	}
}

// interceptResult runs ResultReady: present the (possibly error) result for
// editing, allow re-execution with different arguments, and finalize on
// return or block.
func (s *session) interceptResult(ctx context.Context, outcome *Outcome, result any, timedOut bool) *Outcome {
	g := s.gate
	editError := ""
	display := marshalResult(result)

	for {
		review := &ResultReview{
			RequestID:    s.request.RequestID,
			FunctionName: s.record.Name,
			Result:       display,
			IsError:      isErrorPayload(result),
			TimedOut:     timedOut,
			EditError:    editError,
		}
		rd, err := g.approver.ReviewResult(ctx, review)
		if err != nil || rd == nil {
			// Closing the result view discards the result.
			outcome.Result = nil
			outcome.TimedOut = timedOut
			return outcome
		}

		switch rd.Action {
		case ResultBlock:
			outcome.Result = nil
			outcome.TimedOut = timedOut
			return outcome

		case ResultRerun:
			if rd.EditedArguments != nil {
				var edited map[string]any
				if jsonErr := json.Unmarshal(rd.EditedArguments, &edited); jsonErr != nil {
					editError = jsonErr.Error()
					continue
				}
				outcome.Arguments = edited
			}
			// Prior result is discarded; status resets until the new
			// result lands.
			result, timedOut = g.execute(ctx, s.record, outcome.Arguments)
			display = marshalResult(result)
			editError = ""
			continue

		default: // ResultReturn
			if rd.EditedResult != nil {
				var edited any
				if jsonErr := json.Unmarshal(rd.EditedResult, &edited); jsonErr != nil {
					editError = jsonErr.Error()
					continue
				}
				outcome.Result = edited
				// An explicit human-provided result supersedes the
				// timeout sentinel.
				outcome.TimedOut = false
				return outcome
			}
			outcome.Result = result
			outcome.TimedOut = timedOut
			if timedOut {
				outcome.Result = nil
				outcome.Err = jsexec.ErrDeadline
			}
			return outcome
		}
	}
}

func (s *session) remember(ctx context.Context, verdict trust.Verdict) {
	if err := s.gate.trust.Remember(ctx, s.record.Name, verdict); err != nil {
		s.gate.logger.Warn("persisting trust verdict", "function", s.record.Name, "error", err)
	}
}

// marshalResult renders a result for the editable review view. A timed-out
// execution has no result and renders as null; the timeout message is never
// presented as a function return value.
func marshalResult(result any) json.RawMessage {
	raw, err := json.Marshal(result)
	if err != nil {
		raw, _ = json.Marshal(map[string]any{"error": err.Error(), "status": "error"})
	}
	return raw
}

// isErrorPayload reports whether a result is the structured error payload
// produced by execute.
func isErrorPayload(result any) bool {
	m, ok := result.(map[string]any)
	if !ok {
		return false
	}
	status, ok := m["status"].(string)
	return ok && status == "error" && m["error"] != nil
}
