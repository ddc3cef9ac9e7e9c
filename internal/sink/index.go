package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Mapping is the fixed mapping applied when the index is created.
func Mapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"@timestamp": map[string]any{
					"type": "date",
				},
				"host": map[string]any{
					"properties": map[string]any{
						"ip": map[string]any{
							"type": "ip",
						},
						"mac": map[string]any{
							"type": "keyword",
						},
						"hostname": map[string]any{
							"type": "keyword",
						},
					},
				},
				"network": map[string]any{
					"properties": map[string]any{
						"ip_addresses": map[string]any{
							"type": "ip",
						},
						"mac_addresses": map[string]any{
							"type": "keyword",
						},
					},
				},
				"user": map[string]any{
					"properties": map[string]any{
						"name": map[string]any{
							"type": "keyword",
						},
						"email": map[string]any{
							"type": "keyword",
						},
						"domain": map[string]any{
							"type": "keyword",
						},
					},
				},
				"axonius": map[string]any{
					"properties": map[string]any{
						"last_seen": map[string]any{
							"type": "date",
						},
						"ingestion_time": map[string]any{
							"type": "date",
						},
					},
				},
			},
		},
	}
}

// EnsureIndex creates the target index with Mapping unless it already exists.
func (w *Writer) EnsureIndex(ctx context.Context) error {
	index := w.cfg.IndexName

	exists, err := w.client.Indices.Exists([]string{index}, w.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", index, err)
	}
	exists.Body.Close()

	switch exists.StatusCode {
	case http.StatusOK:
		w.logger.DebugContext(ctx, "index already exists", slog.String("index", index))
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("check index %s: %s", index, exists.Status())
	}

	body, err := json.Marshal(Mapping())
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	res, err := w.client.Indices.Create(index,
		w.client.Indices.Create.WithBody(bytes.NewReader(body)),
		w.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg := readBody(res.Body)
		// Lost a race with another writer; the index is there.
		if strings.Contains(msg, "resource_already_exists_exception") {
			w.logger.InfoContext(ctx, "index created concurrently", slog.String("index", index))
			return nil
		}
		return fmt.Errorf("failed to create index %s: %s - %s", index, res.Status(), msg)
	}

	w.logger.InfoContext(ctx, "index created", slog.String("index", index))
	return nil
}
