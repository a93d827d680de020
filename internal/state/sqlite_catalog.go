package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// --- Metric operations ---

// GetMetric loads a parent metric.
func (s *SQLiteStore) GetMetric(ctx context.Context, id string) (*core.ParentMetric, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var (
		body     string
		revision int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT body, revision FROM metrics WHERE metric_id = ?`, id).Scan(&body, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.Errorf(core.KindNotFound, id, "metric not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metric: %w", err)
	}
	m := &core.ParentMetric{}
	if err := json.Unmarshal([]byte(body), m); err != nil {
		return nil, fmt.Errorf("failed to decode metric %s: %w", id, err)
	}
	m.Revision = revision
	return m, nil
}

// ListMetrics returns every metric ordered by id.
func (s *SQLiteStore) ListMetrics(ctx context.Context) ([]*core.ParentMetric, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT metric_id, body, revision FROM metrics ORDER BY metric_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	defer rows.Close()

	var out []*core.ParentMetric
	for rows.Next() {
		var (
			id, body string
			revision int64
		)
		if err := rows.Scan(&id, &body, &revision); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		m := &core.ParentMetric{}
		if err := json.Unmarshal([]byte(body), m); err != nil {
			return nil, fmt.Errorf("failed to decode metric %s: %w", id, err)
		}
		m.Revision = revision
		out = append(out, m)
	}
	return out, rows.Err()
}

// PutMetric writes m if its stored revision matches expectedRevision.
func (s *SQLiteStore) PutMetric(ctx context.Context, m *core.ParentMetric, expectedRevision int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode metric %s: %w", m.MetricID, err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		next, err := nextRevision(ctx, tx, `SELECT revision FROM metrics WHERE metric_id = ?`, m.MetricID, expectedRevision)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO metrics (metric_id, body, revision, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(metric_id) DO UPDATE SET body = excluded.body, revision = excluded.revision, updated_at = excluded.updated_at`,
			m.MetricID, string(body), next, s.now())
		if err != nil {
			return fmt.Errorf("failed to write metric: %w", err)
		}
		m.Revision = next
		return nil
	})
}

// --- Variant operations ---

// GetVariant loads a variant.
func (s *SQLiteStore) GetVariant(ctx context.Context, id string) (*core.Variant, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var (
		body     string
		revision int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT body, revision FROM variants WHERE variant_id = ?`, id).Scan(&body, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.Errorf(core.KindNotFound, id, "variant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	v := &core.Variant{}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return nil, fmt.Errorf("failed to decode variant %s: %w", id, err)
	}
	v.Revision = revision
	return v, nil
}

// ListVariants returns every variant ordered by id.
func (s *SQLiteStore) ListVariants(ctx context.Context) ([]*core.Variant, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT variant_id, body, revision FROM variants ORDER BY variant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	var out []*core.Variant
	for rows.Next() {
		var (
			id, body string
			revision int64
		)
		if err := rows.Scan(&id, &body, &revision); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		v := &core.Variant{}
		if err := json.Unmarshal([]byte(body), v); err != nil {
			return nil, fmt.Errorf("failed to decode variant %s: %w", id, err)
		}
		v.Revision = revision
		out = append(out, v)
	}
	return out, rows.Err()
}

// PutVariant writes v if its stored revision matches expectedRevision.
func (s *SQLiteStore) PutVariant(ctx context.Context, v *core.Variant, expectedRevision int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode variant %s: %w", v.VariantID, err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		next, err := nextRevision(ctx, tx, `SELECT revision FROM variants WHERE variant_id = ?`, v.VariantID, expectedRevision)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO variants (variant_id, parent_metric_id, status, body, revision, updated_at) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(variant_id) DO UPDATE SET
				parent_metric_id = excluded.parent_metric_id,
				status = excluded.status,
				body = excluded.body,
				revision = excluded.revision,
				updated_at = excluded.updated_at`,
			v.VariantID, v.ParentMetricID, string(v.Status), string(body), next, s.now())
		if err != nil {
			return fmt.Errorf("failed to write variant: %w", err)
		}
		s.logger.Debug("stored variant", slog.String("variant_id", v.VariantID), slog.Int64("revision", next))
		v.Revision = next
		return nil
	})
}

// nextRevision reads the current revision inside tx, checks it and returns
// the revision the write will carry.
func nextRevision(ctx context.Context, tx *sql.Tx, query, id string, expected int64) (int64, error) {
	var current int64
	err := tx.QueryRowContext(ctx, query, id).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to read revision: %w", err)
	}
	if err := core.CheckRevision(id, current, expected); err != nil {
		return 0, err
	}
	return current + 1, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
