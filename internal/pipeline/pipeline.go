// Package pipeline runs one extract-transform-load pass for a single asset type.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/assetsync/internal/asset"
	"github.com/telhawk-systems/assetsync/internal/dlq"
	"github.com/telhawk-systems/assetsync/internal/document"
	"github.com/telhawk-systems/assetsync/internal/formatter"
	"github.com/telhawk-systems/assetsync/internal/logging"
	"github.com/telhawk-systems/assetsync/internal/metrics"
	"github.com/telhawk-systems/assetsync/internal/paginate"
	"github.com/telhawk-systems/assetsync/internal/sink"
)

// Source is the upstream asset API.
type Source interface {
	Ready(ctx context.Context) (bool, error)
	paginate.Fetcher
}

// Sink is the destination cluster.
type Sink interface {
	Ping(ctx context.Context) error
	EnsureIndex(ctx context.Context) error
	Write(ctx context.Context, docs []document.Document) (sink.Outcome, error)
}

// State is a pipeline lifecycle state.
type State string

const (
	StateIdle              State = "idle"
	StateCheckingReadiness State = "checking_readiness"
	StatePaginating        State = "paginating"
	StateMapping           State = "mapping"
	StateWriting           State = "writing"
	StateDone              State = "done"
	StateAborted           State = "aborted"
)

// Reason explains why a run was aborted.
type Reason string

const (
	ReasonNotReady        Reason = "not_ready"
	ReasonReadinessError  Reason = "readiness_error"
	ReasonSourceError     Reason = "source_error"
	ReasonNoRecords       Reason = "no_records"
	ReasonNoDocuments     Reason = "no_documents"
	ReasonSinkUnavailable Reason = "sink_unavailable"
	ReasonIndexError      Reason = "index_error"
	ReasonWriteError      Reason = "write_error"
	ReasonNothingIndexed  Reason = "nothing_indexed"
	ReasonInvalidConfig   Reason = "invalid_config"
	ReasonInternalError   Reason = "internal_error"
)

// ErrNotReady is set on the Outcome when the source reports its last discovery failed.
var ErrNotReady = errors.New("source discovery has not succeeded")

// Config describes one run.
type Config struct {
	AssetType  string
	Fields     []string
	MaxRecords int
	BatchSize  int
	MaxPages   int
	IndexName  string
}

// Stats counts what happened at each stage.
type Stats struct {
	Pages      int                          `json:"pages"`
	Fetched    int                          `json:"fetched"`
	Records    int                          `json:"records"`
	Dropped    map[formatter.DropReason]int `json:"dropped,omitempty"`
	StopReason paginate.StopReason          `json:"stop_reason,omitempty"`
	Documents  int                          `json:"documents"`
	Indexed    int                          `json:"indexed"`
	Failed     int                          `json:"failed"`
}

// Outcome is the result of Run.
type Outcome struct {
	RunID     string        `json:"run_id"`
	AssetType string        `json:"asset_type"`
	State     State         `json:"state"`
	Reason    Reason        `json:"reason,omitempty"`
	Stats     Stats         `json:"stats"`
	Err       error         `json:"-"`
	Error     string        `json:"error,omitempty"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
	Duration  time.Duration `json:"duration"`
	// Failures holds the rejected documents of the write stage.
	Failures []sink.Failure `json:"-"`
}

// Failed reports a hard failure. An empty-data abort is not a failure.
func (o Outcome) Failed() bool {
	if o.State == StateDone {
		return false
	}
	return o.Reason != ReasonNoRecords && o.Reason != ReasonNoDocuments
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDeadLetter routes malformed records and rejected documents to w.
func WithDeadLetter(w dlq.Writer) Option {
	return func(p *Pipeline) {
		if w != nil {
			p.dlq = w
		}
	}
}

// WithRunID sets the run identifier.
func WithRunID(id string) Option {
	return func(p *Pipeline) {
		p.runID = id
	}
}

// WithClock replaces the wall clock used for ingestion timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// Pipeline wires a Source to a Sink.
type Pipeline struct {
	source Source
	sink   Sink
	cfg    Config
	logger *slog.Logger
	dlq    dlq.Writer
	runID  string
	now    func() time.Time
	state  State
}

// New creates a Pipeline in the idle state.
func New(src Source, snk Sink, cfg Config, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logging.Default().Logger
	}
	p := &Pipeline{
		source: src,
		sink:   snk,
		cfg:    cfg,
		logger: logger,
		dlq:    dlq.Discard{},
		now:    time.Now,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return p.state
}

// Run executes readiness -> paginate -> map -> write. It never panics past
// this call; every exit path yields an Outcome.
func (p *Pipeline) Run(ctx context.Context) (out Outcome) {
	log := p.logger.With(logging.RunID(p.runID), logging.AssetType(p.cfg.AssetType))

	out = Outcome{RunID: p.runID, AssetType: p.cfg.AssetType, Started: p.now()}
	defer func() {
		if r := recover(); r != nil {
			out = p.abort(out, ReasonInternalError, fmt.Errorf("pipeline panic: %v", r))
		}
		out.Finished = p.now()
		out.Duration = out.Finished.Sub(out.Started)
		if out.Err != nil {
			out.Error = out.Err.Error()
		}
		metrics.ObserveRun(p.cfg.AssetType, string(out.State), out.Duration, out.State == StateDone)

		attrs := []any{
			slog.String("state", string(out.State)),
			slog.Int("records", out.Stats.Records),
			slog.Int("indexed", out.Stats.Indexed),
			slog.Int("failed", out.Stats.Failed),
			logging.Elapsed(out.Duration),
		}
		if out.State == StateDone {
			log.InfoContext(ctx, "run finished", attrs...)
			return
		}
		attrs = append(attrs, slog.String("reason", string(out.Reason)))
		if out.Err != nil {
			attrs = append(attrs, logging.Error(out.Err))
		}
		if out.Failed() {
			log.ErrorContext(ctx, "run aborted", attrs...)
		} else {
			log.WarnContext(ctx, "run aborted", attrs...)
		}
	}()

	if p.cfg.AssetType == "" || p.cfg.MaxRecords <= 0 {
		return p.abort(out, ReasonInvalidConfig, fmt.Errorf("asset type and a positive max records are required"))
	}

	// Readiness
	p.transition(ctx, log, StateCheckingReadiness)
	op := logging.StartOperation(ctx, log, "readiness check")
	ready, err := p.source.Ready(ctx)
	op.End(ctx, err)
	if err != nil {
		return p.abort(out, ReasonReadinessError, err)
	}
	if !ready {
		return p.abort(out, ReasonNotReady, ErrNotReady)
	}

	// Pagination
	p.transition(ctx, log, StatePaginating)
	engine := paginate.New(p.source, paginate.Config{BatchSize: p.cfg.BatchSize, MaxPages: p.cfg.MaxPages}, p.logger,
		paginate.WithDeadLetter(p.dlq),
		paginate.WithRunID(p.runID),
	)
	res, err := engine.FetchAll(ctx, p.cfg.AssetType, p.cfg.Fields, p.cfg.MaxRecords)
	if err != nil {
		return p.abort(out, ReasonInvalidConfig, err)
	}
	out.Stats.Pages = res.Pages
	out.Stats.Fetched = res.Fetched
	out.Stats.Records = len(res.Records)
	out.Stats.Dropped = res.Dropped
	out.Stats.StopReason = res.Stop

	if len(res.Records) == 0 {
		if res.PageErr != nil {
			return p.abort(out, ReasonSourceError, res.PageErr)
		}
		log.WarnContext(ctx, "no assets returned, nothing to load")
		return p.abort(out, ReasonNoRecords, nil)
	}

	// Mapping
	p.transition(ctx, log, StateMapping)
	docs := document.NewMapper(p.cfg.IndexName).WithClock(p.now).Map(res.Records)
	out.Stats.Documents = len(docs)
	if len(docs) == 0 {
		return p.abort(out, ReasonNoDocuments, nil)
	}

	// Writing
	p.transition(ctx, log, StateWriting)
	if err := p.sink.Ping(ctx); err != nil {
		return p.abort(out, ReasonSinkUnavailable, err)
	}
	if err := p.sink.EnsureIndex(ctx); err != nil {
		return p.abort(out, ReasonIndexError, err)
	}

	op = logging.StartOperation(ctx, log, "bulk write", logging.Count(len(docs)), logging.Index(p.cfg.IndexName))
	written, err := p.sink.Write(ctx, docs)
	op.End(ctx, err)

	out.Stats.Indexed = written.SuccessCount
	out.Stats.Failed = len(written.Failures)
	out.Failures = written.Failures
	p.deadLetterFailures(ctx, log, written.Failures)

	if err != nil {
		return p.abort(out, ReasonWriteError, err)
	}
	if written.SuccessCount == 0 {
		return p.abort(out, ReasonNothingIndexed, fmt.Errorf("none of %d documents were indexed", len(docs)))
	}

	p.transition(ctx, log, StateDone)
	out.State = StateDone
	return out
}

func (p *Pipeline) transition(ctx context.Context, log *slog.Logger, next State) {
	log.DebugContext(ctx, "state transition", slog.String("from", string(p.state)), logging.Stage(string(next)))
	p.state = next
}

func (p *Pipeline) abort(out Outcome, reason Reason, err error) Outcome {
	p.state = StateAborted
	out.State = StateAborted
	out.Reason = reason
	out.Err = err
	return out
}

func (p *Pipeline) deadLetterFailures(ctx context.Context, log *slog.Logger, failures []sink.Failure) {
	for _, f := range failures {
		err := p.dlq.Write(ctx, dlq.FailedRecord{
			RunID:     p.runID,
			AssetType: p.cfg.AssetType,
			Stage:     dlq.StageWrite,
			Reason:    f.Type,
			Error:     f.Reason,
			Payload:   f.Document.Source,
		})
		if err != nil {
			log.WarnContext(ctx, "failed to dead-letter document", logging.Error(err))
			return
		}
	}
}

// RequestFields picks the configured field list for an asset type, falling
// back to the built-in defaults.
func RequestFields(assetType string, deviceFields, userFields []string) []string {
	switch assetType {
	case asset.TypeUsers:
		if len(userFields) > 0 {
			return userFields
		}
		return formatter.DefaultUserFields
	default:
		if len(deviceFields) > 0 {
			return deviceFields
		}
		return formatter.DefaultDeviceFields
	}
}
