package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// ReplaceResults deletes every stored result of (run.RunVersion,
// run.AsOfDate), inserts results and records run, all in one transaction.
// On error nothing is changed.
func (s *SQLiteStore) ReplaceResults(ctx context.Context, run *core.PopulateRun, results []core.MetricResult) error {
	if err := s.ready(); err != nil {
		return err
	}
	if run.ID == "" {
		run.ID = generateID()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM metric_results WHERE run_version = ? AND as_of_date = ?`,
			run.RunVersion, run.AsOfDate); err != nil {
			return fmt.Errorf("failed to clear results: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO metric_results
				(run_version, as_of_date, variant_id, dimension, aggregation_id, value, unit, display_format, breakdown)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range results {
			var breakdown sql.NullString
			if r.Breakdown != nil {
				b, err := json.Marshal(r.Breakdown)
				if err != nil {
					return fmt.Errorf("failed to encode breakdown: %w", err)
				}
				breakdown = sql.NullString{String: string(b), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				run.RunVersion, run.AsOfDate, r.VariantID, string(r.Dimension), r.AggregationID,
				r.Value, nullString(r.Unit), nullString(r.DisplayFormat), breakdown); err != nil {
				return fmt.Errorf("failed to insert result %s/%s/%s: %w", r.VariantID, r.Dimension, r.AggregationID, err)
			}
		}

		run.Results = len(results)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO populate_runs (id, run_version, as_of_date, status, started_at, completed_at, computed, skipped, results, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.RunVersion, run.AsOfDate, string(run.Status), run.StartedAt, run.CompletedAt,
			run.Computed, run.Skipped, run.Results, nullString(run.Error)); err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("stored metric results",
		slog.String("run_version", run.RunVersion),
		slog.String("as_of_date", run.AsOfDate),
		slog.Int("results", len(results)))
	return nil
}

// ListResults returns stored results ordered by variant, dimension and
// aggregation id.
func (s *SQLiteStore) ListResults(ctx context.Context, runVersion, asOf string) ([]core.MetricResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT variant_id, dimension, aggregation_id, value, unit, display_format, breakdown
		FROM metric_results
		WHERE run_version = ? AND as_of_date = ?
		ORDER BY variant_id, dimension, aggregation_id`, runVersion, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var out []core.MetricResult
	for rows.Next() {
		r := core.MetricResult{RunVersion: runVersion, AsOfDate: asOf}
		var (
			dim                     string
			unit, format, breakdown sql.NullString
		)
		if err := rows.Scan(&r.VariantID, &dim, &r.AggregationID, &r.Value, &unit, &format, &breakdown); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Dimension = core.Dimension(dim)
		r.Unit, r.DisplayFormat = unit.String, format.String
		if breakdown.Valid {
			if err := json.Unmarshal([]byte(breakdown.String), &r.Breakdown); err != nil {
				return nil, fmt.Errorf("failed to decode breakdown: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListPopulateRuns returns recorded runs, newest first.
func (s *SQLiteStore) ListPopulateRuns(ctx context.Context) ([]core.PopulateRun, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_version, as_of_date, status, started_at, completed_at, computed, skipped, results, error
		FROM populate_runs ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []core.PopulateRun
	for rows.Next() {
		var (
			run       core.PopulateRun
			status    string
			completed sql.NullTime
			errMsg    sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.RunVersion, &run.AsOfDate, &status, &run.StartedAt, &completed,
			&run.Computed, &run.Skipped, &run.Results, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = core.PopulateStatus(status)
		if completed.Valid {
			t := completed.Time
			run.CompletedAt = &t
		}
		run.Error = errMsg.String
		out = append(out, run)
	}
	return out, rows.Err()
}
