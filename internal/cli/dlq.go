package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/assetsync/internal/dlq"
	"github.com/telhawk-systems/assetsync/internal/output"
)

func newDLQCmd(root *rootOptions, printer *output.Printer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect the file dead-letter queue",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered records, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := openFileQueue(root)
			if err != nil {
				return err
			}

			records, err := queue.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				printer.Info("Dead-letter queue is empty")
				return nil
			}

			table := output.NewTable("TIME", "ASSET", "STAGE", "REASON", "RUN", "ERROR")
			for _, rec := range records {
				table.AddRow(rec.Timestamp.Format(time.RFC3339), rec.AssetType, rec.Stage, rec.Reason, rec.RunID, rec.Error)
			}
			table.Render(printer)
			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum records to show (0 for all)")

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every dead-lettered record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := openFileQueue(root)
			if err != nil {
				return err
			}

			n, err := queue.Purge(cmd.Context())
			if err != nil {
				return err
			}
			printer.Success("Purged %d records", n)
			return nil
		},
	}

	cmd.AddCommand(listCmd, purgeCmd)
	return cmd
}

func openFileQueue(root *rootOptions) (*dlq.FileQueue, error) {
	cfg, err := root.load()
	if err != nil {
		return nil, err
	}
	if cfg.DLQ.Backend != "file" {
		return nil, fmt.Errorf("dlq commands need dlq.backend=file, got %q", cfg.DLQ.Backend)
	}
	return dlq.NewFileQueue(cfg.DLQ.Path, nil)
}
