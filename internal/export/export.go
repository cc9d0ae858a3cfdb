// Package export writes the crawl database out as CSV files plus a summary
// manifest, for handing datasets to people without database access.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Querier is the read-only database surface the exporter needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// table pairs an output file name with the query producing its rows.
type table struct {
	name  string
	query string
}

var exportTables = []table{
	{
		name:  "repositories",
		query: `SELECT * FROM github.repositories ORDER BY stargazer_count DESC, repo_node_id`,
	},
	{
		name:  "repo_star_snapshots",
		query: `SELECT * FROM github.repo_star_snapshots ORDER BY snapshot_date, repo_node_id`,
	},
	{
		name:  "crawl_runs",
		query: `SELECT * FROM github.crawl_runs ORDER BY started_at`,
	},
}

// Summary is the manifest written next to the CSV files.
type Summary struct {
	GeneratedAt time.Time      `json:"generated_at"`
	RowCounts   map[string]int `json:"row_counts"`
}

// Exporter dumps crawl tables to a directory.
type Exporter struct {
	db     Querier
	logger *zap.Logger
	now    func() time.Time
}

// New constructs an Exporter.
func New(db Querier, logger *zap.Logger) *Exporter {
	return &Exporter{db: db, logger: logger, now: time.Now}
}

// Dump writes one CSV per table into outDir plus a summary.json manifest and
// returns the summary. The directory is created if missing.
func (e *Exporter) Dump(ctx context.Context, outDir string) (Summary, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create output directory: %w", err)
	}

	summary := Summary{
		GeneratedAt: e.now().UTC(),
		RowCounts:   make(map[string]int, len(exportTables)),
	}

	for _, tbl := range exportTables {
		count, err := e.dumpTable(ctx, tbl, filepath.Join(outDir, tbl.name+".csv"))
		if err != nil {
			return Summary{}, fmt.Errorf("dump %s: %w", tbl.name, err)
		}
		summary.RowCounts[tbl.name] = count
		e.logger.Info("Exported table",
			zap.String("table", tbl.name),
			zap.Int("rows", count),
		)
	}

	if err := e.writeSummary(summary, filepath.Join(outDir, "summary.json")); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

func (e *Exporter) dumpTable(ctx context.Context, tbl table, path string) (int, error) {
	rows, err := e.db.Query(ctx, tbl.query)
	if err != nil {
		return 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)

	descs := rows.FieldDescriptions()
	header := make([]string, len(descs))
	for i, d := range descs {
		header[i] = string(d.Name)
	}
	if err := w.Write(header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	count := 0
	record := make([]string, len(descs))
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return count, fmt.Errorf("read row: %w", err)
		}
		for i, v := range values {
			record[i] = renderValue(v)
		}
		if err := w.Write(record); err != nil {
			return count, fmt.Errorf("write row: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("iterate rows: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return count, fmt.Errorf("flush csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return count, fmt.Errorf("close file: %w", err)
	}
	return count, nil
}

// renderValue flattens a pgx value into CSV text. NULLs render as empty
// strings; timestamps as RFC 3339.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func (e *Exporter) writeSummary(summary Summary, path string) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
