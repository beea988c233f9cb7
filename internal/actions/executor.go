package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/treliq/treliq/internal/githost"
)

// Outcome is the result state of one executed action.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Result pairs a planned action with what happened to it.
type Result struct {
	Item    Item    `json:"item"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// Executor runs action plans against the host, one action at a time. Each
// action is preceded by a live-state check so a PR merged or closed since the
// scan is skipped rather than acted on.
type Executor struct {
	host githost.Host
}

// NewExecutor creates an executor for the given host.
func NewExecutor(host githost.Host) *Executor {
	return &Executor{host: host}
}

// Execute runs the plan sequentially and returns one result per action.
// A live-state fetch error does not block the action; the action itself will
// surface any real failure.
func (e *Executor) Execute(ctx context.Context, plan []Item) []Result {
	results := make([]Result, 0, len(plan))
	for _, item := range plan {
		if ctx.Err() != nil {
			results = append(results, Result{Item: item, Outcome: OutcomeSkipped, Reason: "cancelled"})
			continue
		}
		results = append(results, e.executeOne(ctx, item))
	}
	return results
}

func (e *Executor) executeOne(ctx context.Context, item Item) Result {
	isPR := item.ItemType == TypePR

	state, err := e.host.LiveState(ctx, item.Target, isPR)
	if err != nil {
		slog.Warn("live-state check failed, proceeding with action",
			"target", item.Target, "error", err)
	} else if state != "open" {
		return Result{
			Item:    item,
			Outcome: OutcomeSkipped,
			Reason:  fmt.Sprintf("already %s", state),
		}
	}

	if err := e.dispatch(ctx, item, isPR); err != nil {
		slog.Error("action failed", "kind", item.Kind, "target", item.Target, "error", err)
		return Result{Item: item, Outcome: OutcomeFailed, Reason: err.Error()}
	}
	slog.Info("action executed", "kind", item.Kind, "target", item.Target, "reason", item.Reason)
	return Result{Item: item, Outcome: OutcomeExecuted}
}

func (e *Executor) dispatch(ctx context.Context, item Item, isPR bool) error {
	switch item.Kind {
	case KindClose:
		if isPR {
			return e.host.ClosePR(ctx, item.Target, item.Comment)
		}
		return e.host.CloseIssue(ctx, item.Target, item.Comment)
	case KindMerge:
		return e.host.MergePR(ctx, item.Target, item.MergeMethod)
	case KindLabel:
		return e.host.AddLabels(ctx, item.Target, []string{item.Label})
	default:
		return fmt.Errorf("unknown action kind %q", item.Kind)
	}
}
