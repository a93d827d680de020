package core

import "context"

// CatalogStore is the metric catalog persistence collaborator.
//
// Get methods return an *Error of KindNotFound for unknown ids. Put methods
// store a copy, compare the stored revision with expectedRevision (unless it
// is AnyRevision) and set the record's Revision to the new value.
type CatalogStore interface {
	GetMetric(ctx context.Context, id string) (*ParentMetric, error)
	ListMetrics(ctx context.Context) ([]*ParentMetric, error)
	PutMetric(ctx context.Context, m *ParentMetric, expectedRevision int64) error

	GetVariant(ctx context.Context, id string) (*Variant, error)
	ListVariants(ctx context.Context) ([]*Variant, error)
	PutVariant(ctx context.Context, v *Variant, expectedRevision int64) error
}

// CheckRevision compares a stored revision (0 when the record is absent)
// with the revision a writer expects.
func CheckRevision(id string, current, expected int64) error {
	if expected == AnyRevision || expected == current {
		return nil
	}
	return Errorf(KindConflict, id, "revision mismatch: stored %d, expected %d", current, expected)
}
