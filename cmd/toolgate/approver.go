// ABOUTME: Interactive console approver - renders each invocation request
// ABOUTME: and result interception to the terminal for a human decision.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"

	"github.com/kristerhedfors/toolgate/internal/gate"
)

// consoleApprover implements gate.Approver on the terminal. Prompt failures
// (EOF, interrupt) surface as errors, which the gate defines as a block.
type consoleApprover struct {
	stdin *bufio.Reader
}

func newConsoleApprover() *consoleApprover {
	return &consoleApprover{stdin: bufio.NewReader(os.Stdin)}
}

func (a *consoleApprover) Decide(ctx context.Context, req *gate.DecisionRequest) (*gate.Decision, error) {
	yellow := color.New(color.FgYellow, color.Bold)
	gray := color.New(color.FgHiBlack)

	fmt.Println()
	yellow.Printf("  ⏸ Tool call: %s\n", req.FunctionName)
	if req.Description != "" {
		gray.Printf("    %s\n", req.Description)
	}
	fmt.Printf("    arguments: %s\n", indentJSON(req.Arguments))
	if req.EditError != "" {
		color.Red("    edit rejected: %s", req.EditError)
	}

	for {
		prompt := promptui.Select{
			Label: fmt.Sprintf("Allow %s?", req.FunctionName),
			Items: []string{
				"Approve",
				"Approve and intercept result",
				"Edit arguments",
				"Block",
				"Always allow this function",
				"Always block this function",
			},
			Size:         6,
			HideSelected: true,
		}
		idx, _, err := prompt.Run()
		if err != nil {
			return nil, fmt.Errorf("prompt closed: %w", err)
		}

		switch idx {
		case 0:
			return &gate.Decision{Action: gate.ActionApprove}, nil
		case 1:
			return &gate.Decision{Action: gate.ActionApproveIntercept}, nil
		case 2:
			edited, err := a.readLine("edited arguments (JSON object)")
			if err != nil {
				return nil, err
			}
			return &gate.Decision{Action: gate.ActionApprove, EditedArguments: json.RawMessage(edited)}, nil
		case 3:
			return &gate.Decision{Action: gate.ActionBlock}, nil
		case 4:
			return &gate.Decision{Action: gate.ActionApprove, Remember: true}, nil
		case 5:
			return &gate.Decision{Action: gate.ActionBlock, Remember: true}, nil
		}
	}
}

func (a *consoleApprover) ReviewResult(ctx context.Context, review *gate.ResultReview) (*gate.ResultDecision, error) {
	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Println()
	cyan.Printf("  ⏸ Result of %s\n", review.FunctionName)
	switch {
	case review.TimedOut:
		color.Red("    execution exceeded its deadline; no result was produced")
	case review.IsError:
		color.Red("    the function reported an error:")
		fmt.Printf("    %s\n", indentJSON(review.Result))
	default:
		fmt.Printf("    %s\n", indentJSON(review.Result))
	}
	if review.EditError != "" {
		color.Red("    edit rejected: %s", review.EditError)
	}

	prompt := promptui.Select{
		Label: "Return this result?",
		Items: []string{
			"Return",
			"Edit result",
			"Re-run with edited arguments",
			"Block result",
		},
		Size:         4,
		HideSelected: true,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return nil, fmt.Errorf("prompt closed: %w", err)
	}

	switch idx {
	case 1:
		edited, err := a.readLine("edited result (JSON)")
		if err != nil {
			return nil, err
		}
		return &gate.ResultDecision{Action: gate.ResultReturn, EditedResult: json.RawMessage(edited)}, nil
	case 2:
		edited, err := a.readLine("new arguments (JSON object)")
		if err != nil {
			return nil, err
		}
		return &gate.ResultDecision{Action: gate.ResultRerun, EditedArguments: json.RawMessage(edited)}, nil
	case 3:
		return &gate.ResultDecision{Action: gate.ResultBlock}, nil
	default:
		return &gate.ResultDecision{Action: gate.ResultReturn}, nil
	}
}

func (a *consoleApprover) readLine(label string) (string, error) {
	fmt.Printf("  %s: ", label)
	line, err := a.stdin.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "    ", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
