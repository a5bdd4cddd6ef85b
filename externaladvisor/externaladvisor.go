// Package externaladvisor implements spec.md §6's "Planning-service
// boundary": any external advisory (e.g. an LLM) returns, for a given
// BatteryContext and 24-hour forecast, a DailyPlan; the coordinator treats
// it identically to the internal optimiser's output.
//
// Grounded on axle/axlemgr's external-schedule-feed shape (Axle pushes a
// schedule the controller follows, polled on an interval with a
// last-received cache and change detection). Here the "schedule" is a
// DailyPlan and the call is synchronous-with-timeout rather than
// channel-polled, because Boss needs a plan on demand at planning_hour
// rather than whenever the external service next happens to publish one.
// This is the typed stand-in for "any LLM-driven advisory path" — no LLM
// client is implemented, only the boundary and its fallback behaviour.
package externaladvisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cepro/dispatchengine/boss"
	"github.com/cepro/dispatchengine/types"
)

// RawClient is the transport an Advisor uses to reach the external planning
// service. A real implementation might call an LLM API or another
// forecasting service; RawClient is the narrow seam a test double
// replaces.
type RawClient interface {
	RequestPlan(ctx context.Context, bc types.BatteryContext) (types.DailyPlan, error)
}

// Advisor implements boss.Planner by delegating to an external RawClient,
// with bounded retry and a deadline fallback to a local Planner (typically
// the internal optimiser), per spec.md §7: "External advisory faults
// (timeout, malformed response): fall back to internal optimiser; never
// block a tick beyond the configured deadline."
type Advisor struct {
	client     RawClient
	fallback   boss.Planner
	deadline   time.Duration
	maxRetries int
	logger     *slog.Logger
}

// New builds an Advisor. The external call gets one attempt plus up to
// maxRetries retries, all within a single deadline; fallback is consulted
// once every attempt has failed or the deadline has run out.
func New(client RawClient, fallback boss.Planner, deadline time.Duration, maxRetries int) *Advisor {
	return &Advisor{
		client:     client,
		fallback:   fallback,
		deadline:   deadline,
		maxRetries: maxRetries,
		logger:     slog.Default().With("component", "externaladvisor"),
	}
}

// Plan implements boss.Planner.
func (a *Advisor) Plan(ctx *types.BatteryContext) (types.DailyPlan, error) {
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		remaining := a.deadline - time.Since(start)
		if remaining <= 0 {
			lastErr = fmt.Errorf("external advisory deadline of %s exhausted after %d attempt(s)", a.deadline, attempt)
			break
		}
		plan, err := a.requestWithDeadline(*ctx, remaining)
		if err == nil {
			return plan, nil
		}
		lastErr = err
		a.logger.Warn("External advisory call failed", "attempt", attempt, "error", err)
	}

	a.logger.Error("External advisory exhausted retries, falling back to local planner", "error", lastErr)
	if a.fallback == nil {
		return types.DailyPlan{}, fmt.Errorf("external advisory failed and no fallback configured: %w", lastErr)
	}
	return a.fallback.Plan(ctx)
}

// requestWithDeadline bounds a single attempt to d, the time left of a.deadline.
func (a *Advisor) requestWithDeadline(bc types.BatteryContext, d time.Duration) (types.DailyPlan, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	type result struct {
		plan types.DailyPlan
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		plan, err := a.client.RequestPlan(ctx, bc)
		ch <- result{plan, err}
	}()

	select {
	case <-ctx.Done():
		return types.DailyPlan{}, fmt.Errorf("external advisory request timed out after %s", d)
	case r := <-ch:
		if r.err != nil {
			return types.DailyPlan{}, fmt.Errorf("external advisory request: %w", r.err)
		}
		return r.plan, nil
	}
}
