package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/assetsync/internal/asset"
	"github.com/telhawk-systems/assetsync/internal/config"
	"github.com/telhawk-systems/assetsync/internal/history"
	"github.com/telhawk-systems/assetsync/internal/output"
)

func newHistoryCmd(root *rootOptions, printer *output.Printer) *cobra.Command {
	var (
		assetType string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the PostgreSQL ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateAssetType(assetType); err != nil {
				return err
			}

			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cfg.History.DatabaseURL == "" {
				return fmt.Errorf("history needs history.database_url")
			}

			ledger, err := openHistory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer ledger.Close()

			runs, err := ledger.Recent(cmd.Context(), assetType, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				printer.Info("No runs recorded for %s", assetType)
				return nil
			}

			table := output.NewTable("STARTED", "STATE", "REASON", "INDEXED", "FAILED", "DURATION", "RUN")
			for _, run := range runs {
				table.AddRow(
					run.Started.Format(time.RFC3339),
					string(run.State),
					string(run.Reason),
					fmt.Sprint(run.Stats.Indexed),
					fmt.Sprint(run.Stats.Failed),
					run.Duration.Round(time.Millisecond).String(),
					run.RunID,
				)
			}
			table.Render(printer)
			return nil
		},
	}

	cmd.Flags().StringVar(&assetType, "asset-type", asset.TypeDevices, "asset type: devices or users")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	return cmd
}

// openHistory returns nil without error when no database is configured.
func openHistory(ctx context.Context, cfg *config.Config) (*history.Store, error) {
	if cfg.History.DatabaseURL == "" {
		return nil, nil
	}
	if cfg.History.Migrate {
		if _, err := history.Migrate(cfg.History.DatabaseURL); err != nil {
			return nil, err
		}
	}
	return history.Open(ctx, cfg.History.DatabaseURL)
}
