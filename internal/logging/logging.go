// Package logging holds the structured log field names shared across the
// engine and the logger constructor used by the CLI.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Standard field names for log correlation.
const (
	FieldOperation      = "operation"
	FieldJobID          = "job_id"
	FieldVolumeID       = "volume_id"
	FieldResourceID     = "resource_id"
	FieldResourceFamily = "resource_family"
	FieldRegion         = "region"
	FieldRunID          = "run_id"
	FieldDurationMs     = "duration_ms"
	FieldCostMonthly    = "cost_monthly"
	FieldConfidence     = "confidence"
	FieldCacheKey       = "cache_key"
)

// New returns a logger writing to w at the named level. Unknown levels fall
// back to info. When console is true output is human readable.
func New(w io.Writer, level string, console bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("component", "storagecost").Logger()
}
