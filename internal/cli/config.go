package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/assetsync/internal/config"
	"github.com/telhawk-systems/assetsync/internal/output"
)

func newConfigCmd(root *rootOptions, printer *output.Printer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without contacting any service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				var verr *config.ValidationError
				if !errors.As(err, &verr) {
					return err
				}
				for _, problem := range verr.Problems {
					printer.Error("%s", problem)
				}
				return errReported
			}

			printer.Success("Configuration is valid")
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(validateCmd, showCmd)
	return cmd
}
