// Package paginate walks the source's offset/limit asset API to completion
// under a record ceiling.
package paginate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/davecgh/go-spew/spew"

	"github.com/telhawk-systems/assetsync/internal/asset"
	"github.com/telhawk-systems/assetsync/internal/dlq"
	"github.com/telhawk-systems/assetsync/internal/formatter"
	"github.com/telhawk-systems/assetsync/internal/logging"
	"github.com/telhawk-systems/assetsync/internal/metrics"
)

// Fetcher returns one page of raw records.
type Fetcher interface {
	FetchPage(ctx context.Context, req asset.PageRequest) ([]asset.RawRecord, error)
}

// StopReason names the condition that ended a walk.
type StopReason string

const (
	StopCeiling   StopReason = "ceiling"
	StopExhausted StopReason = "exhausted"
	StopPageError StopReason = "page_error"
	StopShortPage StopReason = "short_page"
	StopMaxPages  StopReason = "max_pages"
	StopCanceled  StopReason = "canceled"
)

// ErrInvalidCeiling is returned when FetchAll is called with a non-positive ceiling.
var ErrInvalidCeiling = errors.New("ceiling must be positive")

// Config bounds a walk.
type Config struct {
	// BatchSize is the largest page requested.
	BatchSize int
	// MaxPages bounds the number of fetches. Zero means unbounded.
	MaxPages int
}

// Result is what a walk accumulated and why it stopped.
type Result struct {
	Records []asset.Record
	// Pages is the number of fetch calls that returned successfully.
	Pages int
	// Fetched is the number of raw records received.
	Fetched int
	Dropped map[formatter.DropReason]int
	Stop    StopReason
	// PageErr is the fetch error that ended the walk, if any.
	PageErr error
}

// Option configures an Engine.
type Option func(*Engine)

// WithDeadLetter sends malformed records to w.
func WithDeadLetter(w dlq.Writer) Option {
	return func(e *Engine) {
		if w != nil {
			e.dlq = w
		}
	}
}

// WithRunID tags dead letters and log lines with a run identifier.
func WithRunID(id string) Option {
	return func(e *Engine) {
		e.runID = id
	}
}

// Engine drives a Fetcher.
type Engine struct {
	fetcher Fetcher
	cfg     Config
	logger  *slog.Logger
	dlq     dlq.Writer
	runID   string
}

// New creates an Engine.
func New(fetcher Fetcher, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	e := &Engine{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
		dlq:     dlq.Discard{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// cursor is the per-walk position. It never outlives FetchAll.
type cursor struct {
	offset  int
	ceiling int
	records []asset.Record
}

func (c *cursor) remaining() int {
	return c.ceiling - len(c.records)
}

func (c *cursor) full() bool {
	return len(c.records) >= c.ceiling
}

// FetchAll requests pages until the ceiling is reached or the source runs dry.
// Fetch failures end the walk but keep what was gathered; the returned error is
// reserved for invalid arguments.
func (e *Engine) FetchAll(ctx context.Context, assetType string, fields []string, ceiling int) (Result, error) {
	if ceiling <= 0 {
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidCeiling, ceiling)
	}

	log := e.logger.With(logging.RunID(e.runID), logging.AssetType(assetType))
	cur := &cursor{ceiling: ceiling}
	res := Result{Dropped: make(map[formatter.DropReason]int)}

	for {
		if cur.full() {
			res.Stop = StopCeiling
			break
		}
		if e.cfg.MaxPages > 0 && res.Pages >= e.cfg.MaxPages {
			log.WarnContext(ctx, "page limit reached before the source was exhausted",
				slog.Int("max_pages", e.cfg.MaxPages),
				logging.Offset(cur.offset),
			)
			res.Stop = StopMaxPages
			break
		}
		if ctx.Err() != nil {
			res.Stop = StopCanceled
			res.PageErr = ctx.Err()
			break
		}

		limit := min(e.cfg.BatchSize, cur.remaining())
		req := asset.PageRequest{AssetType: assetType, Fields: fields, Limit: limit, Offset: cur.offset}

		log.DebugContext(ctx, "fetching page", logging.Offset(cur.offset), logging.Limit(limit))
		raws, err := e.fetcher.FetchPage(ctx, req)
		if err != nil {
			metrics.PageErrors.WithLabelValues(assetType).Inc()
			log.ErrorContext(ctx, "page fetch failed, keeping partial results",
				logging.Offset(cur.offset),
				logging.Limit(limit),
				slog.Int("accumulated", len(cur.records)),
				logging.Error(err),
			)
			res.Stop = StopPageError
			res.PageErr = err
			break
		}

		res.Pages++
		res.Fetched += len(raws)
		metrics.PagesFetched.WithLabelValues(assetType).Inc()
		metrics.RecordsFetched.WithLabelValues(assetType).Add(float64(len(raws)))

		if len(raws) == 0 {
			res.Stop = StopExhausted
			break
		}

		e.absorb(ctx, log, cur, &res, assetType, raws)

		log.InfoContext(ctx, "page processed",
			logging.Offset(cur.offset),
			slog.Int("received", len(raws)),
			slog.Int("accumulated", len(cur.records)),
		)

		if len(raws) < limit {
			res.Stop = StopShortPage
			break
		}
		cur.offset += len(raws)
	}

	res.Records = cur.records
	log.InfoContext(ctx, "pagination finished",
		slog.String("stop", string(res.Stop)),
		slog.Int("pages", res.Pages),
		slog.Int("fetched", res.Fetched),
		slog.Int("records", len(res.Records)),
	)
	return res, nil
}

// absorb formats a page and appends usable records up to the ceiling.
func (e *Engine) absorb(ctx context.Context, log *slog.Logger, cur *cursor, res *Result, assetType string, raws []asset.RawRecord) {
	format := formatter.For(assetType)
	for _, raw := range raws {
		fr := format(raw)

		if fr.LastSeenErr != nil {
			log.DebugContext(ctx, "unparseable last_seen", logging.Error(fr.LastSeenErr))
		}

		if !fr.OK() {
			res.Dropped[fr.Reason]++
			metrics.RecordsDropped.WithLabelValues(assetType, string(fr.Reason)).Inc()
			e.reject(ctx, log, assetType, raw, fr)
			continue
		}

		if cur.full() {
			// Over-delivering page; surplus is discarded.
			continue
		}
		cur.records = append(cur.records, fr.Record)
	}
}

func (e *Engine) reject(ctx context.Context, log *slog.Logger, assetType string, raw asset.RawRecord, fr formatter.Result) {
	if fr.Reason == formatter.DropNotViable {
		log.DebugContext(ctx, "dropping record without usable identity")
		return
	}

	log.WarnContext(ctx, "dropping malformed record", logging.Error(fr.Err))
	if log.Enabled(ctx, slog.LevelDebug) {
		log.DebugContext(ctx, "malformed record dump", slog.String("raw", spew.Sdump(raw)))
	}

	err := e.dlq.Write(ctx, dlq.FailedRecord{
		RunID:     e.runID,
		AssetType: assetType,
		Stage:     dlq.StageFormat,
		Reason:    string(fr.Reason),
		Error:     fr.Err.Error(),
		Payload:   raw,
	})
	if err != nil {
		log.WarnContext(ctx, "failed to dead-letter record", logging.Error(err))
	}
}
