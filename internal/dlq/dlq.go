// Package dlq records asset records and documents the pipeline had to give up on.
package dlq

import (
	"context"
	"time"
)

// Pipeline stages that produce dead letters.
const (
	StageFormat = "format"
	StageWrite  = "write"
)

// FailedRecord captures one rejected record for later analysis or replay.
type FailedRecord struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	AssetType string    `json:"asset_type,omitempty"`
	Stage     string    `json:"stage"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error"`
	Payload   any       `json:"payload"`
}

// Writer accepts failed records. Implementations must treat a nil receiver as
// disabled.
type Writer interface {
	Write(ctx context.Context, rec FailedRecord) error
}

// Discard is a Writer that drops everything.
type Discard struct{}

// Write implements Writer.
func (Discard) Write(context.Context, FailedRecord) error { return nil }
