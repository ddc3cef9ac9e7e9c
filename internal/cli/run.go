package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/assetsync/internal/asset"
	"github.com/telhawk-systems/assetsync/internal/config"
	"github.com/telhawk-systems/assetsync/internal/dlq"
	"github.com/telhawk-systems/assetsync/internal/logging"
	"github.com/telhawk-systems/assetsync/internal/messaging"
	"github.com/telhawk-systems/assetsync/internal/metrics"
	"github.com/telhawk-systems/assetsync/internal/output"
	"github.com/telhawk-systems/assetsync/internal/pipeline"
	"github.com/telhawk-systems/assetsync/internal/runstate"
	"github.com/telhawk-systems/assetsync/internal/sink"
	"github.com/telhawk-systems/assetsync/internal/source"
)

type runOptions struct {
	assetType string
}

func newRunCmd(root *rootOptions, printer *output.Printer) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync one asset type into the destination index",
		Long: `Check that the last Axonius discovery succeeded, page through the assets,
normalize them and bulk-index the result. Exits 0 when the run completes or
there was nothing to index, 1 otherwise.`,
		Example: `  assetsync run
  assetsync run --asset-type users --config /etc/assetsync/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, root, opts, printer)
		},
	}

	cmd.Flags().StringVar(&opts.assetType, "asset-type", asset.TypeDevices, "asset type to sync: devices or users")
	return cmd
}

func runSync(cmd *cobra.Command, root *rootOptions, opts *runOptions, printer *output.Printer) error {
	if err := validateAssetType(opts.assetType); err != nil {
		return err
	}

	cfg, err := root.load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	ctx = logging.ContextWithRunID(ctx, runID)
	log := logger.With(logging.AssetType(opts.assetType)).WithContext(ctx)

	// Post-run bookkeeping must survive a cancelled run.
	detached := context.WithoutCancel(ctx)

	lockURL := ""
	if cfg.Lock.Enabled {
		lockURL = cfg.Lock.RedisURL
	}
	store, closeStore, err := openStore(lockURL, cfg.Lock.KeyPrefix)
	if err != nil {
		return err
	}
	defer closeStore()

	if store.IsEnabled() {
		lock, err := store.Acquire(ctx, opts.assetType, runID, cfg.Lock.TTL)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(detached); err != nil {
				log.Warn("failed to release run lock", logging.Error(err))
			}
		}()
	}

	bus, err := connectMessaging(cfg, logger.Logger)
	if err != nil {
		if cfg.DLQ.Backend == "nats" {
			return err
		}
		log.Warn("run events disabled", logging.Error(err))
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn("failed to close NATS connection", logging.Error(err))
		}
	}()

	dead, err := openDeadLetter(cfg, bus, logger.Logger)
	if err != nil {
		return err
	}

	src, err := source.New(source.Config{
		InstanceURL: cfg.Source.InstanceURL,
		APIKey:      cfg.Source.APIKey,
		APISecret:   cfg.Source.APISecret,
		Timeout:     cfg.Source.RequestTimeout,
	}, logger.Logger)
	if err != nil {
		return err
	}
	defer src.Close()

	snk, err := sink.New(sink.Config{
		URL:            cfg.Destination.URL,
		CloudID:        cfg.Destination.CloudID,
		APIKey:         cfg.Destination.APIKey,
		Username:       cfg.Destination.Username,
		Password:       cfg.Destination.Password,
		TLSSkipVerify:  cfg.Destination.TLSSkipVerify,
		IndexName:      cfg.Destination.IndexName,
		ChunkSize:      cfg.Destination.BulkChunkSize,
		RequestTimeout: cfg.Destination.RequestTimeout,
	}, logger.Logger)
	if err != nil {
		return err
	}
	defer snk.Close()

	ledger, err := openHistory(ctx, cfg)
	if err != nil {
		log.Warn("run history disabled", logging.Error(err))
	}
	defer ledger.Close()

	p := pipeline.New(src, snk, pipeline.Config{
		AssetType:  opts.assetType,
		Fields:     pipeline.RequestFields(opts.assetType, cfg.Source.DeviceFields, cfg.Source.UserFields),
		MaxRecords: cfg.Source.MaxRecords,
		BatchSize:  cfg.Source.BatchSize,
		MaxPages:   cfg.Source.MaxPages,
		IndexName:  cfg.Destination.IndexName,
	}, logger.Logger, pipeline.WithRunID(runID), pipeline.WithDeadLetter(dead))

	out := p.Run(ctx)

	if bus != nil {
		subject := messaging.Subject(cfg.Messaging.SubjectPrefix, "runs", string(out.State))
		if err := bus.PublishJSON(detached, subject, out); err != nil {
			log.Warn("failed to publish run event", logging.Error(err))
		}
	}
	if store.IsEnabled() {
		if err := store.SaveLastRun(detached, opts.assetType, out); err != nil {
			log.Warn("failed to save run summary", logging.Error(err))
		}
	}
	if ledger != nil {
		if err := ledger.Record(detached, out); err != nil {
			log.Warn("failed to record run history", logging.Error(err))
		}
	}
	if err := metrics.Push(detached, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, map[string]string{"instance": instanceName()}); err != nil {
		log.Warn("failed to push metrics", logging.Error(err))
	}

	printOutcome(printer, out)
	if out.Failed() {
		return errReported
	}
	return nil
}

// openStore connects the run state store. An empty url yields a disabled store.
func openStore(redisURL, keyPrefix string) (*runstate.Store, func(), error) {
	if redisURL == "" {
		return runstate.NewStore(nil, keyPrefix), func() {}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return runstate.NewStore(client, keyPrefix), func() { _ = client.Close() }, nil
}

// connectMessaging returns nil without error when no NATS url is configured.
func connectMessaging(cfg *config.Config, logger *slog.Logger) (*messaging.Client, error) {
	if cfg.Messaging.URL == "" {
		return nil, nil
	}
	return messaging.Connect(messaging.Config{
		URL:     cfg.Messaging.URL,
		Name:    "assetsync",
		Timeout: cfg.Messaging.Timeout,
		Token:   cfg.Messaging.Token,
	}, logger)
}

func openDeadLetter(cfg *config.Config, bus *messaging.Client, logger *slog.Logger) (dlq.Writer, error) {
	switch cfg.DLQ.Backend {
	case "file":
		return dlq.NewFileQueue(cfg.DLQ.Path, logger)
	case "nats":
		if bus == nil {
			return nil, fmt.Errorf("nats dlq backend requires messaging.url")
		}
		return dlq.NewNATSQueue(bus, cfg.Messaging.SubjectPrefix)
	default:
		return nil, nil
	}
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

func printOutcome(printer *output.Printer, out pipeline.Outcome) {
	switch {
	case out.State == pipeline.StateDone:
		printer.Success("%s: indexed %d of %d documents in %s (run %s)",
			out.AssetType, out.Stats.Indexed, out.Stats.Documents, out.Duration.Round(time.Millisecond), out.RunID)
		if out.Stats.Failed > 0 {
			printer.Warn("%d documents were rejected by the destination", out.Stats.Failed)
		}
	case !out.Failed():
		printer.Warn("%s: nothing to index (%s)", out.AssetType, out.Reason)
	default:
		printer.Error("%s: run aborted (%s): %s", out.AssetType, out.Reason, out.Error)
	}
}
