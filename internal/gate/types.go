// ABOUTME: Types for the approval gate - invocation requests, decisions,
// ABOUTME: result reviews, and the approver/runner interfaces.

package gate

import (
	"context"
	"encoding/json"

	"github.com/kristerhedfors/toolgate/internal/registry"
)

// Action is the human's decision on an invocation request.
type Action string

const (
	// ActionApprove executes with the (possibly edited) arguments and
	// returns the raw result.
	ActionApprove Action = "approve"
	// ActionApproveIntercept executes, then gates the result for editing
	// before it returns to the agent.
	ActionApproveIntercept Action = "approve-intercept"
	// ActionBlock refuses execution.
	ActionBlock Action = "block"
)

// ResultAction is the human's decision at the result-interception stage.
type ResultAction string

const (
	// ResultReturn yields the (possibly edited) result to the agent.
	ResultReturn ResultAction = "return"
	// ResultBlock discards the result; the agent receives null.
	ResultBlock ResultAction = "block"
	// ResultRerun re-executes with new arguments without leaving the
	// interactive session. The prior result is discarded.
	ResultRerun ResultAction = "rerun"
)

// InvocationRequest is one agent-issued call. Ephemeral, never persisted.
type InvocationRequest struct {
	RequestID    string
	FunctionName string
	Arguments    map[string]any
}

// Outcome is the terminal state of one request. Result carries what the
// agent receives: the raw or edited result, a structured error payload, or
// nil on block. A timeout never materializes as a result.
type Outcome struct {
	RequestID   string
	Decision    Action
	Interactive bool
	Arguments   map[string]any
	Result      any
	TimedOut    bool
	Err         error
}

// DecisionRequest is the view rendered to the human for the argument stage.
// EditError is set when a prior argument edit failed to parse; progression
// is blocked until the edit parses.
type DecisionRequest struct {
	RequestID    string
	FunctionName string
	Description  string
	Arguments    json.RawMessage
	EditError    string
}

// Decision is the human's answer at the argument stage. A nil EditedArguments
// keeps the arguments as presented. Remember moves the function into the
// matching trust set; it is not honored for approve-intercept, since the
// user has declared intent to inspect every result.
type Decision struct {
	Action          Action
	Remember        bool
	EditedArguments json.RawMessage
}

// ResultReview is the view rendered to the human at the interception stage.
type ResultReview struct {
	RequestID    string
	FunctionName string
	Result       json.RawMessage
	IsError      bool
	TimedOut     bool
	EditError    string
}

// ResultDecision is the human's answer at the interception stage.
type ResultDecision struct {
	Action          ResultAction
	EditedResult    json.RawMessage
	EditedArguments json.RawMessage
}

// Approver renders decision requests to a human and reports their choices.
// Returning an error from either method is equivalent to closing the view,
// which is defined to be an explicit block, never silent dismissal.
type Approver interface {
	Decide(ctx context.Context, req *DecisionRequest) (*Decision, error)
	ReviewResult(ctx context.Context, review *ResultReview) (*ResultDecision, error)
}

// Runner executes a function record with bound arguments.
type Runner interface {
	Run(ctx context.Context, rec *registry.FunctionRecord, args map[string]any) (any, error)
}
