package rollup

import (
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Step rolls values from one hierarchy dimension into the next coarser one.
type Step struct {
	From   core.Dimension `json:"from"`
	To     core.Dimension `json:"to"`
	Policy Policy         `json:"policy"`
}

// Plan is an ordered, composition-checked sequence of rollup steps.
type Plan struct {
	From  core.Dimension `json:"from"`
	To    core.Dimension `json:"to"`
	Steps []Step         `json:"steps"`
}

// String renders the plan as "facility -SUM-> counterparty -...".
func (p *Plan) String() string {
	var b strings.Builder
	b.WriteString(string(p.From))
	for _, s := range p.Steps {
		b.WriteString(" -")
		b.WriteString(s.Policy.String())
		b.WriteString("-> ")
		b.WriteString(string(s.To))
	}
	return b.String()
}

// NewPlan checks that values at from can roll up to to with the given
// per-dimension policies. The policy for a step is the one declared for the
// step's target dimension. Every step needs a policy and DISTRIBUTION may
// only be the final step, since it yields no scalar to aggregate further.
func NewPlan(from, to core.Dimension, policies map[core.Dimension]Policy) (*Plan, error) {
	if from.Rank() < 0 || to.Rank() < 0 {
		return nil, core.Errorf(core.KindConfig, "", "rollup is only defined between hierarchy dimensions, not %s to %s", from, to)
	}
	if !to.CoarserThan(from) {
		return nil, core.Errorf(core.KindConfig, "", "cannot roll up from %s to %s: target is not coarser", from, to)
	}

	plan := &Plan{From: from, To: to}
	for r := from.Rank() + 1; r <= to.Rank(); r++ {
		target := core.Hierarchy[r]
		p, ok := policies[target]
		if !ok {
			return nil, core.Errorf(core.KindConfig, "", "no rollup policy declared for %s", target)
		}
		if p.Strategy == WeightedAverage && p.Weight == "" {
			return nil, core.Errorf(core.KindConfig, "", "weighted average into %s has no weighting basis", target)
		}
		if p.Strategy == Distribution && target != to {
			return nil, core.Errorf(core.KindConfig, "", "DISTRIBUTION into %s cannot be followed by further rollup to %s", target, to)
		}
		plan.Steps = append(plan.Steps, Step{From: core.Hierarchy[r-1], To: target, Policy: p})
	}
	return plan, nil
}
