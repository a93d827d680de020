// Package rollup defines how metric values aggregate from one hierarchy
// dimension to the next coarser one.
package rollup

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Strategy is a closed set of aggregation strategies.
type Strategy string

// Rollup strategies.
const (
	Sum             Strategy = "SUM"
	WeightedAverage Strategy = "WEIGHTED_AVERAGE"
	Count           Strategy = "COUNT"
	Distribution    Strategy = "DISTRIBUTION"
)

// Policy is a strategy plus its weighting basis.
type Policy struct {
	Strategy Strategy `json:"strategy"`
	// Weight is a field reference or an input name; required for WEIGHTED_AVERAGE.
	Weight string `json:"weight,omitempty"`
}

func (p Policy) String() string {
	if p.Strategy == WeightedAverage {
		return fmt.Sprintf("%s(%s)", p.Strategy, p.Weight)
	}
	return string(p.Strategy)
}

var (
	weightedBy    = regexp.MustCompile(`weighted\s+(?:average\s+)?by\s+([A-Za-z0-9_.]+)`)
	basisWeighted = regexp.MustCompile(`([A-Za-z0-9_.]+)[\s-]+weighted`)
	weightedCall  = regexp.MustCompile(`^weighted_average\s*\(\s*([A-Za-z0-9_.]+)\s*\)$`)
)

// ParsePolicy interprets a canonical strategy name or a free-text descriptor
// such as "sum", "commitment-weighted average" or "distribution".
// A weighted average without a weighting basis is a ConfigError.
func ParsePolicy(text string) (Policy, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	switch {
	case s == "":
		return Policy{}, core.Errorf(core.KindConfig, "", "empty rollup policy")
	case s == "sum" || strings.HasPrefix(s, "sum ") || strings.HasPrefix(s, "sum of") || strings.Contains(s, "additive"):
		return Policy{Strategy: Sum}, nil
	case strings.Contains(s, "distribution") || strings.Contains(s, "breakdown"):
		return Policy{Strategy: Distribution}, nil
	case strings.HasPrefix(s, "count"):
		return Policy{Strategy: Count}, nil
	case weightedCall.MatchString(s):
		return Policy{Strategy: WeightedAverage, Weight: original(text, weightedCall)}, nil
	case strings.Contains(s, "weighted"):
		if basis := original(text, weightedBy); basis != "" {
			return Policy{Strategy: WeightedAverage, Weight: basis}, nil
		}
		if basis := original(text, basisWeighted); basis != "" {
			return Policy{Strategy: WeightedAverage, Weight: basis}, nil
		}
		return Policy{}, core.Errorf(core.KindConfig, "", "weighted average %q has no weighting basis", text)
	case strings.Contains(s, "average") || strings.Contains(s, "mean"):
		return Policy{}, core.Errorf(core.KindConfig, "", "%q: unweighted averages do not roll up; declare a weighting basis", text)
	}
	return Policy{}, core.Errorf(core.KindConfig, "", "unrecognized rollup policy %q", text)
}

// original returns the first capture of re matched case-insensitively
// against text, keeping the caller's spelling.
func original(text string, re *regexp.Regexp) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	loc := re.FindStringSubmatchIndex(lower)
	if loc == nil || loc[2] < 0 {
		return ""
	}
	return strings.TrimSpace(text)[loc[2]:loc[3]]
}

// FromSpec converts a structured declaration into a Policy.
func FromSpec(spec core.RollupSpec) (Policy, error) {
	var p Policy
	switch s := Strategy(strings.ToUpper(strings.TrimSpace(spec.Strategy))); s {
	case Sum, Count, Distribution, WeightedAverage:
		p.Strategy = s
	default:
		parsed, err := ParsePolicy(spec.Strategy)
		if err != nil {
			return Policy{}, err
		}
		p = parsed
	}
	if spec.WeightField != "" {
		if p.Strategy != WeightedAverage {
			return Policy{}, core.Errorf(core.KindConfig, "", "weight %q given for %s rollup", spec.WeightField, p.Strategy)
		}
		p.Weight = spec.WeightField
	}
	if p.Strategy == WeightedAverage && p.Weight == "" {
		return Policy{}, core.Errorf(core.KindConfig, "", "WEIGHTED_AVERAGE requires a weight field")
	}
	return p, nil
}

// PoliciesFor collects the rollup policies a variant declares. Structured
// rollup entries win over free-text rollup_logic. Free-text descriptors that
// do not name a strategy are skipped; structured entries must be valid.
func PoliciesFor(v *core.Variant) (map[core.Dimension]Policy, error) {
	out := make(map[core.Dimension]Policy)
	for dim, text := range v.RollupLogic {
		if p, err := ParsePolicy(text); err == nil {
			out[dim] = p
		}
	}
	for dim, spec := range v.Rollup {
		p, err := FromSpec(spec)
		if err != nil {
			return nil, core.Wrap(core.KindConfig, v.VariantID, err, fmt.Sprintf("rollup policy for %s", dim))
		}
		out[dim] = p
	}
	return out, nil
}
