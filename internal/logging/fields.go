package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across commands.
const (
	FieldRunID     = "run_id"
	FieldAssetType = "asset_type"
	FieldOffset    = "offset"
	FieldLimit     = "limit"
	FieldCount     = "count"
	FieldIndex     = "index"
	FieldStage     = "stage"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
)

// RunID returns a slog attribute for the run identifier.
func RunID(id string) slog.Attr {
	return slog.String(FieldRunID, id)
}

// AssetType returns a slog attribute for the asset type.
func AssetType(t string) slog.Attr {
	return slog.String(FieldAssetType, t)
}

// Offset returns a slog attribute for a page offset.
func Offset(n int) slog.Attr {
	return slog.Int(FieldOffset, n)
}

// Limit returns a slog attribute for a page limit.
func Limit(n int) slog.Attr {
	return slog.Int(FieldLimit, n)
}

// Count returns a slog attribute for a record or document count.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

// Index returns a slog attribute for the destination index.
func Index(name string) slog.Attr {
	return slog.String(FieldIndex, name)
}

// Stage returns a slog attribute for the pipeline stage.
func Stage(name string) slog.Attr {
	return slog.String(FieldStage, name)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Elapsed returns a Duration attribute for d.
func Elapsed(d time.Duration) slog.Attr {
	return Duration(d.Milliseconds())
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
