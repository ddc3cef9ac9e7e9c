package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/telhawk-systems/assetsync/internal/document"
	"github.com/telhawk-systems/assetsync/internal/metrics"
)

// failurePreview bounds how many failures are logged individually.
const failurePreview = 5

// Failure describes one document the bulk API rejected.
type Failure struct {
	// Position is the document's index in the slice passed to Write.
	Position int
	Status   int
	Type     string
	Reason   string
	Document document.Document
}

// Outcome aggregates a Write call.
type Outcome struct {
	SuccessCount int
	Failures     []Failure
}

// Write indexes docs in chunks. Rejected documents are reported in the
// Outcome; the error is reserved for failures that stop the write itself.
func (w *Writer) Write(ctx context.Context, docs []document.Document) (Outcome, error) {
	var out Outcome
	if len(docs) == 0 {
		return out, nil
	}

	for start := 0; start < len(docs); start += w.cfg.ChunkSize {
		end := min(start+w.cfg.ChunkSize, len(docs))
		if err := w.writeChunk(ctx, docs, start, end, &out); err != nil {
			return out, err
		}
	}

	metrics.DocumentsIndexed.WithLabelValues(w.cfg.IndexName).Add(float64(out.SuccessCount))
	metrics.DocumentsFailed.WithLabelValues(w.cfg.IndexName).Add(float64(len(out.Failures)))

	w.logger.InfoContext(ctx, "bulk write finished",
		slog.String("index", w.cfg.IndexName),
		slog.Int("success", out.SuccessCount),
		slog.Int("failed", len(out.Failures)),
	)
	for i, f := range out.Failures {
		if i == failurePreview {
			w.logger.WarnContext(ctx, "further document failures omitted", slog.Int("omitted", len(out.Failures)-failurePreview))
			break
		}
		w.logger.WarnContext(ctx, "document rejected",
			slog.Int("position", f.Position),
			slog.Int("status", f.Status),
			slog.String("type", f.Type),
			slog.String("reason", f.Reason),
		)
	}
	return out, nil
}

func (w *Writer) writeChunk(ctx context.Context, docs []document.Document, start, end int, out *Outcome) error {
	started := time.Now()
	defer func() {
		metrics.BulkDuration.Observe(time.Since(started).Seconds())
	}()

	var (
		mu       sync.Mutex
		acked    = make([]bool, end-start)
		flushErr string
	)

	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:     w.client,
		Index:      w.cfg.IndexName,
		NumWorkers: 1,
		Timeout:    w.cfg.RequestTimeout,
		OnError: func(ctx context.Context, err error) {
			w.logger.ErrorContext(ctx, "bulk request failed", slog.String("error", err.Error()))
			mu.Lock()
			flushErr = err.Error()
			mu.Unlock()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	for pos := start; pos < end; pos++ {
		doc := docs[pos]
		data, err := json.Marshal(doc.Source)
		if err != nil {
			mu.Lock()
			acked[pos-start] = true
			out.Failures = append(out.Failures, Failure{Position: pos, Type: "marshal_error", Reason: err.Error(), Document: doc})
			mu.Unlock()
			continue
		}

		index := doc.Index
		if index == "" {
			index = w.cfg.IndexName
		}

		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action: "index",
			Index:  index,
			Body:   bytes.NewReader(data),
			OnSuccess: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem) {
				mu.Lock()
				acked[pos-start] = true
				out.SuccessCount++
				mu.Unlock()
			},
			OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				f := Failure{Position: pos, Status: res.Status, Document: doc}
				if err != nil {
					f.Type = "request_error"
					f.Reason = err.Error()
				} else {
					f.Type = res.Error.Type
					f.Reason = res.Error.Reason
				}
				mu.Lock()
				acked[pos-start] = true
				out.Failures = append(out.Failures, f)
				mu.Unlock()
			},
		})
		if err != nil {
			_ = bi.Close(ctx)
			return fmt.Errorf("failed to add document to bulk indexer: %w", err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("bulk indexer close: %w", err)
	}

	// A failed flush reports through OnError only; its items never get a callback.
	mu.Lock()
	defer mu.Unlock()
	for i, ok := range acked {
		if ok {
			continue
		}
		reason := flushErr
		if reason == "" {
			reason = "no response for document"
		}
		out.Failures = append(out.Failures, Failure{Position: start + i, Type: "request_error", Reason: reason, Document: docs[start+i]})
	}
	return nil
}
