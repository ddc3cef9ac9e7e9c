package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/assetsync/internal/asset"
	"github.com/telhawk-systems/assetsync/internal/output"
	"github.com/telhawk-systems/assetsync/internal/pipeline"
)

func newStatusCmd(root *rootOptions, printer *output.Printer) *cobra.Command {
	var assetType string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last recorded run for an asset type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateAssetType(assetType); err != nil {
				return err
			}

			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cfg.Lock.RedisURL == "" {
				return fmt.Errorf("status needs lock.redis_url")
			}

			store, closeStore, err := openStore(cfg.Lock.RedisURL, cfg.Lock.KeyPrefix)
			if err != nil {
				return err
			}
			defer closeStore()

			var last pipeline.Outcome
			found, err := store.LastRun(cmd.Context(), assetType, &last)
			if err != nil {
				return err
			}
			if !found {
				printer.Info("No run recorded for %s", assetType)
				return nil
			}

			printRun(printer, last)
			return nil
		},
	}

	cmd.Flags().StringVar(&assetType, "asset-type", asset.TypeDevices, "asset type: devices or users")
	return cmd
}

func printRun(printer *output.Printer, run pipeline.Outcome) {
	state := string(run.State)
	if run.Reason != "" {
		state += " (" + string(run.Reason) + ")"
	}

	table := output.NewTable("FIELD", "VALUE")
	table.AddRow("run", run.RunID)
	table.AddRow("asset type", run.AssetType)
	table.AddRow("state", state)
	table.AddRow("finished", run.Finished.Format(time.RFC3339))
	table.AddRow("duration", run.Duration.Round(time.Millisecond).String())
	table.AddRow("pages", fmt.Sprint(run.Stats.Pages))
	table.AddRow("records", fmt.Sprintf("%d of %d fetched", run.Stats.Records, run.Stats.Fetched))
	table.AddRow("dropped", formatDropped(run))
	table.AddRow("stop", string(run.Stats.StopReason))
	table.AddRow("indexed", fmt.Sprintf("%d of %d documents", run.Stats.Indexed, run.Stats.Documents))
	if run.Error != "" {
		table.AddRow("error", run.Error)
	}
	table.Render(printer)
}

func formatDropped(run pipeline.Outcome) string {
	if len(run.Stats.Dropped) == 0 {
		return "0"
	}
	parts := make([]string, 0, len(run.Stats.Dropped))
	for reason, n := range run.Stats.Dropped {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
