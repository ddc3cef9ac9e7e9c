package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileQueue writes failed records to disk, one JSON file per record.
type FileQueue struct {
	basePath string
	logger   *slog.Logger
	mu       sync.Mutex
	written  uint64
}

// NewFileQueue creates a DLQ that writes to the specified directory.
func NewFileQueue(basePath string, logger *slog.Logger) (*FileQueue, error) {
	if basePath == "" {
		basePath = "/var/lib/assetsync/dlq"
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}

	return &FileQueue{
		basePath: basePath,
		logger:   logger,
	}, nil
}

// Write records a failed record.
func (q *FileQueue) Write(ctx context.Context, rec FailedRecord) error {
	if q == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	filename := fmt.Sprintf("failed_%d_%06d.json", rec.Timestamp.UnixNano(), q.written)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	if err := os.WriteFile(filepath.Join(q.basePath, filename), data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}

	q.written++
	q.logger.DebugContext(ctx, "DLQ: wrote failed record",
		slog.String("file", filename),
		slog.String("reason", rec.Reason),
	)
	return nil
}

// Written returns the number of records written by this queue.
func (q *FileQueue) Written() uint64 {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.written
}

// List returns up to limit stored records, oldest first. A limit <= 0 means all.
func (q *FileQueue) List(ctx context.Context, limit int) ([]FailedRecord, error) {
	if q == nil {
		return nil, fmt.Errorf("dlq not enabled")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return nil, err
	}

	var records []FailedRecord
	for _, name := range names {
		if limit > 0 && len(records) >= limit {
			break
		}

		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			q.logger.WarnContext(ctx, "failed to read DLQ file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}

		var rec FailedRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			q.logger.WarnContext(ctx, "failed to parse DLQ file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// Purge removes all stored records and returns how many were deleted.
func (q *FileQueue) Purge(ctx context.Context) (int, error) {
	if q == nil {
		return 0, fmt.Errorf("dlq not enabled")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			q.logger.WarnContext(ctx, "failed to delete DLQ file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		deleted++
	}

	q.logger.InfoContext(ctx, "DLQ purged", slog.Int("deleted", deleted))
	return deleted, nil
}

func (q *FileQueue) entries() ([]string, error) {
	files, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasPrefix(f.Name(), "failed_") {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)
	return names, nil
}
