package sample

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/leapstack-labs/leapmetrics/pkg/core"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// DateColumn is the snapshot date column every sample CSV must carry.
const DateColumn = "as_of_date"

// DuckDB serves snapshots from CSV files laid out as
// <dir>/<layer>/<table>.csv. Each file is loaded into an in-memory DuckDB
// table on first use, with every column read as text so decimal values stay
// exact.
type DuckDB struct {
	db     *sql.DB
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	loaded map[string]string
}

var _ core.SampleProvider = (*DuckDB)(nil)

// OpenDuckDB opens an in-memory DuckDB database over the CSV directory.
func OpenDuckDB(ctx context.Context, dir string, logger *slog.Logger) (*DuckDB, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}
	return &DuckDB{db: db, dir: dir, logger: logger, loaded: make(map[string]string)}, nil
}

// Close closes the database.
func (p *DuckDB) Close() error {
	return p.db.Close()
}

// Reset forgets every loaded table so the next read goes back to the CSV
// files.
func (p *DuckDB) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.loaded)
}

// Path returns the CSV file backing a table key.
func (p *DuckDB) Path(tableKey string) (string, error) {
	layer, table, ok := strings.Cut(tableKey, ".")
	if !ok || layer == "" || table == "" || strings.ContainsAny(table, `/\`) {
		return "", core.Errorf(core.KindValidation, tableKey, "invalid table key")
	}
	return filepath.Join(p.dir, layer, table+".csv"), nil
}

// table loads the CSV for tableKey if needed and returns the DuckDB table name.
func (p *DuckDB) table(ctx context.Context, tableKey string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name, ok := p.loaded[tableKey]; ok {
		return name, nil
	}

	path, err := p.Path(tableKey)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", core.Errorf(core.KindNoData, tableKey, "no sample data file %s", path)
		}
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	name := quoteIdent(strings.ReplaceAll(tableKey, ".", "_"))
	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto('%s', header=true, all_varchar=true)",
		name,
		strings.ReplaceAll(absPath, "'", "''"),
	)
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return "", fmt.Errorf("failed to load CSV %s: %w", path, err)
	}

	var n int
	err = p.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.columns WHERE table_name = ? AND column_name = ?",
		strings.ReplaceAll(tableKey, ".", "_"), DateColumn).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	if n == 0 {
		return "", core.Errorf(core.KindConfig, tableKey, "%s has no %s column", path, DateColumn)
	}

	p.logger.Debug("sample table loaded", slog.String("table", tableKey), slog.String("path", path))
	p.loaded[tableKey] = name
	return name, nil
}

// Dates returns the distinct snapshot dates of a table, newest first.
func (p *DuckDB) Dates(ctx context.Context, tableKey string) ([]string, error) {
	name, err := p.table(ctx, tableKey)
	if err != nil {
		if core.KindOf(err) == core.KindNoData {
			return nil, nil
		}
		return nil, err
	}
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY 1 DESC", DateColumn, name, DateColumn) //nolint:gosec // identifiers are quoted
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query dates of %s: %w", tableKey, err)
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// Rows returns the rows of a table at asOf, ordered by every column.
func (p *DuckDB) Rows(ctx context.Context, tableKey, asOf string) ([]core.Row, error) {
	name, err := p.table(ctx, tableKey)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ? ORDER BY ALL", name, DateColumn) //nolint:gosec // identifiers are quoted
	rows, err := p.db.QueryContext(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", tableKey, err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	var out []core.Row
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(core.Row, len(cols))
		for i, c := range cols {
			if vals[i].Valid {
				row[c] = vals[i].String
			} else {
				row[c] = nil
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	if len(out) == 0 {
		return nil, core.Errorf(core.KindNoData, tableKey, "no snapshot at %s", asOf)
	}
	return out, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
