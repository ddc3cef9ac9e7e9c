// Package sink loads documents into an OpenSearch-compatible cluster.
package sink

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
)

// ErrNoAddress is returned when neither a URL nor a cloud id is configured.
var ErrNoAddress = errors.New("destination url or cloud id is required")

// Config holds destination connection and write settings.
type Config struct {
	URL           string
	CloudID       string
	APIKey        string
	Username      string
	Password      string
	TLSSkipVerify bool

	IndexName      string
	ChunkSize      int
	RequestTimeout time.Duration
}

// Writer owns one cluster connection. Close releases it.
type Writer struct {
	client    *opensearch.Client
	transport *http.Transport
	cfg       Config
	logger    *slog.Logger
}

// New creates a Writer. It does not contact the cluster; call Ping for that.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	address := cfg.URL
	if address == "" && cfg.CloudID != "" {
		decoded, err := AddressFromCloudID(cfg.CloudID)
		if err != nil {
			return nil, err
		}
		address = decoded
	}
	if address == "" {
		return nil, ErrNoAddress
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
		ResponseHeaderTimeout: cfg.RequestTimeout,
	}

	osCfg := opensearch.Config{
		Addresses: []string{address},
		Transport: transport,
	}
	if cfg.APIKey != "" {
		osCfg.Header = http.Header{"Authorization": []string{"ApiKey " + cfg.APIKey}}
	} else {
		osCfg.Username = cfg.Username
		osCfg.Password = cfg.Password
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &Writer{
		client:    client,
		transport: transport,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Index returns the configured target index.
func (w *Writer) Index() string {
	return w.cfg.IndexName
}

// Ping verifies the cluster answers.
func (w *Writer) Ping(ctx context.Context) error {
	info, err := w.client.Info(w.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}
	return nil
}

// Close releases pooled connections.
func (w *Writer) Close() error {
	if w == nil || w.transport == nil {
		return nil
	}
	w.transport.CloseIdleConnections()
	return nil
}

// AddressFromCloudID decodes a hosted-cluster cloud id of the form
// "name:base64(host$es_uuid$kibana_uuid)" into an https endpoint.
func AddressFromCloudID(cloudID string) (string, error) {
	idx := strings.LastIndex(cloudID, ":")
	if idx < 0 || idx == len(cloudID)-1 {
		return "", fmt.Errorf("invalid cloud id %q", cloudID)
	}

	data, err := base64.StdEncoding.DecodeString(cloudID[idx+1:])
	if err != nil {
		return "", fmt.Errorf("decode cloud id: %w", err)
	}

	parts := strings.Split(string(data), "$")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid cloud id payload")
	}

	host, uuid := parts[0], parts[1]
	if h, port, ok := strings.Cut(host, ":"); ok {
		return fmt.Sprintf("https://%s.%s:%s", uuid, h, port), nil
	}
	return fmt.Sprintf("https://%s.%s", uuid, host), nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return strings.TrimSpace(string(b))
}
