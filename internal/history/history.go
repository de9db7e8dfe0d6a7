// Package history loads daily cost samples that feed the forecasting engine.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq" // registers the postgres driver

	"github.com/rshade/storagecost/internal/forecast"
)

// DefaultTable holds one row per resource per day.
const DefaultTable = "daily_costs"

// Source returns the daily cost series of a resource for the days before until.
type Source interface {
	DailyCosts(ctx context.Context, resourceID string, days int, until time.Time) ([]forecast.DailyCost, error)
}

// PostgresSource reads samples from a table with columns
// (resource_id text, usage_date date, cost numeric).
type PostgresSource struct {
	db    *sql.DB
	query string
}

// NewPostgresSource reads from table through db.
func NewPostgresSource(db *sql.DB, table string) *PostgresSource {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresSource{
		db: db,
		query: fmt.Sprintf(`SELECT usage_date, cost FROM %s
			WHERE lower(resource_id) = lower($1) AND usage_date >= $2 AND usage_date < $3
			ORDER BY usage_date`, quoteIdent(table)),
	}
}

// OpenPostgres connects with a lib/pq DSN and verifies the connection.
func OpenPostgres(ctx context.Context, dsn, table string) (*PostgresSource, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresSource(db, table), nil
}

// Close releases the connection pool.
func (s *PostgresSource) Close() error {
	return s.db.Close()
}

// DailyCosts returns up to days samples ending the day before until, oldest first.
func (s *PostgresSource) DailyCosts(ctx context.Context, resourceID string, days int, until time.Time) ([]forecast.DailyCost, error) {
	end := until.UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -days)

	rows, err := s.db.QueryContext(ctx, s.query, resourceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query daily costs for %s: %w", resourceID, err)
	}
	defer rows.Close()

	var out []forecast.DailyCost
	for rows.Next() {
		var d forecast.DailyCost
		if err := rows.Scan(&d.Date, &d.Cost); err != nil {
			return nil, fmt.Errorf("scan daily cost: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read daily costs for %s: %w", resourceID, err)
	}
	return out, nil
}

func quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// FileSource serves samples from a JSON document mapping resource ids to
// arrays of {"date","cost"} objects.
type FileSource struct {
	series map[string][]forecast.DailyCost
}

// LoadFile parses a FileSource document.
func LoadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read daily cost file: %w", err)
	}
	raw := make(map[string][]forecast.DailyCost)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse daily cost file %s: %w", path, err)
	}
	fs := &FileSource{series: make(map[string][]forecast.DailyCost, len(raw))}
	for id, s := range raw {
		sort.Slice(s, func(a, b int) bool { return s[a].Date.Before(s[b].Date) })
		fs.series[strings.ToLower(id)] = s
	}
	return fs, nil
}

// DailyCosts returns the samples dated in [until-days, until), oldest first.
func (f *FileSource) DailyCosts(_ context.Context, resourceID string, days int, until time.Time) ([]forecast.DailyCost, error) {
	end := until.UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -days)
	var out []forecast.DailyCost
	for _, d := range f.series[strings.ToLower(resourceID)] {
		if !d.Date.Before(start) && d.Date.Before(end) {
			out = append(out, d)
		}
	}
	return out, nil
}
