package core

import (
	"fmt"
	"sort"
	"strings"
)

// Dimension is the aggregation grain a metric is computed at.
type Dimension string

// Calculation dimensions. The business dimensions form the rollup
// hierarchy; the layer dimensions compute at raw table grain.
const (
	DimFacility     Dimension = "facility"
	DimCounterparty Dimension = "counterparty"
	DimDesk         Dimension = "desk"
	DimPortfolio    Dimension = "portfolio"
	DimLoB          Dimension = "lob"
	DimL1           Dimension = "L1"
	DimL2           Dimension = "L2"
	DimL3           Dimension = "L3"
)

// AllDimensions lists every dimension in canonical order.
var AllDimensions = []Dimension{
	DimFacility, DimCounterparty, DimDesk, DimPortfolio, DimLoB,
	DimL1, DimL2, DimL3,
}

// Hierarchy is the rollup order, finest first.
var Hierarchy = []Dimension{DimFacility, DimCounterparty, DimDesk, DimPortfolio, DimLoB}

var dimensionAliases = map[string]Dimension{
	"facility":         DimFacility,
	"counterparty":     DimCounterparty,
	"desk":             DimDesk,
	"portfolio":        DimPortfolio,
	"lob":              DimLoB,
	"line_of_business": DimLoB,
	"line-of-business": DimLoB,
	"l1":               DimL1,
	"l2":               DimL2,
	"l3":               DimL3,
}

// ParseDimension converts user input to a Dimension (case-insensitive).
func ParseDimension(s string) (Dimension, error) {
	if d, ok := dimensionAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return d, nil
	}
	return "", fmt.Errorf("unknown dimension %q", s)
}

// UnmarshalText normalizes dimension spellings in YAML and JSON documents.
func (d *Dimension) UnmarshalText(text []byte) error {
	parsed, err := ParseDimension(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// String implements fmt.Stringer.
func (d Dimension) String() string { return string(d) }

// IsLayer reports whether d is a raw table-grain dimension.
func (d Dimension) IsLayer() bool {
	return d == DimL1 || d == DimL2 || d == DimL3
}

// Rank returns the position of d in the rollup hierarchy, or -1.
func (d Dimension) Rank() int {
	for i, h := range Hierarchy {
		if h == d {
			return i
		}
	}
	return -1
}

// Order returns the canonical sort position of d.
func (d Dimension) Order() int {
	for i, a := range AllDimensions {
		if a == d {
			return i
		}
	}
	return len(AllDimensions)
}

// KeyColumn is the grouping column for business dimensions.
// Layer dimensions group by the table's primary key instead.
func (d Dimension) KeyColumn() string {
	if d.Rank() < 0 {
		return ""
	}
	return string(d) + "_id"
}

// ConsumptionLevel is the display label used for rollup ordering.
func (d Dimension) ConsumptionLevel() string {
	switch d {
	case DimFacility:
		return "Facility"
	case DimCounterparty:
		return "Counterparty"
	case DimDesk:
		return "Desk"
	case DimPortfolio:
		return "Portfolio"
	case DimLoB:
		return "Line of Business"
	case DimL1, DimL2, DimL3:
		return "Table (" + string(d) + ")"
	}
	return string(d)
}

// Finer returns the next finer hierarchy dimension, if any.
func (d Dimension) Finer() (Dimension, bool) {
	r := d.Rank()
	if r <= 0 {
		return "", false
	}
	return Hierarchy[r-1], true
}

// CoarserThan reports whether d sits above other in the hierarchy.
func (d Dimension) CoarserThan(other Dimension) bool {
	a, b := d.Rank(), other.Rank()
	return a >= 0 && b >= 0 && a > b
}

// Valid reports whether d is one of the canonical dimensions.
func (d Dimension) Valid() bool { return d.Order() < len(AllDimensions) }

// SortDimensions orders dims canonically; unknown names sort last by name.
func SortDimensions(dims []Dimension) {
	sort.SliceStable(dims, func(i, j int) bool {
		oi, oj := dims[i].Order(), dims[j].Order()
		if oi != oj {
			return oi < oj
		}
		return dims[i] < dims[j]
	})
}
