// Package policy implements the three specialist policies (spec.md §4.E):
// real-time override, peak-shaving and arbitrage. Each is a Policy carrying
// its own immutable parameters and exposing one operation,
// Propose(*BatteryContext) (*types.Recommendation, error), returning a nil
// Recommendation when it has nothing to propose for this tick — the same
// contract as the teacher's controlComponent functions, which return the
// INACTIVE_CONTROL_COMPONENT sentinel when a component has nothing to do.
//
// Grounded on controller/comp_import_avoidance.go, comp_export_avoidance.go,
// comp_to_soe.go and comp_axle.go: one file per concern, a descriptive
// `name` on every emitted value for coordinator-side attribution.
package policy

import (
	"github.com/cepro/dispatchengine/types"
)

// Policy is the tagged-variant interface every specialist satisfies.
type Policy interface {
	Name() string
	Propose(ctx *types.BatteryContext) (*types.Recommendation, error)
}

// rec is a small constructor helper stamping PolicyName consistently.
func rec(name string, kind types.ActionKind, kwh, confidence, value float64, priority int, rationale string, veto bool) *types.Recommendation {
	return &types.Recommendation{
		Kind:                    kind,
		MagnitudeKWh:            kwh,
		Confidence:              confidence,
		Value:                   value,
		Priority:                priority,
		Rationale:               rationale,
		IsVeto:                  veto,
		RequiresImmediateAction: veto,
		PolicyName:              name,
	}
}
