// Package cli implements the assetsync command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/assetsync/internal/asset"
	"github.com/telhawk-systems/assetsync/internal/config"
	"github.com/telhawk-systems/assetsync/internal/logging"
	"github.com/telhawk-systems/assetsync/internal/output"
)

// Version is overridden at build time.
var Version = "0.1.0"

// errReported means the command already told the user what went wrong.
var errReported = errors.New("command failed")

type rootOptions struct {
	configPath  string
	secretsPath string
	logLevel    string
}

// load reads configuration and applies flag overrides. It does not validate.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(config.Options{ConfigPath: o.configPath, SecretsPath: o.secretsPath})
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

// NewRootCmd builds the command tree. Logs go to errOut so out only carries
// command results.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{}
	printer := output.New(out, errOut)

	root := &cobra.Command{
		Use:   "assetsync",
		Short: "Sync Axonius assets into OpenSearch",
		Long: `assetsync pulls device and user assets from an Axonius instance,
normalizes hostnames, IP and MAC addresses, and bulk-indexes one document
per asset into an OpenSearch or Elasticsearch index.

Each invocation syncs one asset type and exits.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if out != nil {
		root.SetOut(out)
	}
	if errOut != nil {
		root.SetErr(errOut)
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default: ./config.yaml or /etc/assetsync/config.yaml)")
	flags.StringVar(&opts.secretsPath, "secrets", "secrets.env", "dotenv file holding credentials")
	flags.StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts, printer),
		newConfigCmd(opts, printer),
		newDLQCmd(opts, printer),
		newStatusCmd(opts, printer),
		newHistoryCmd(opts, printer),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			output.New(os.Stdout, os.Stderr).Error("%v", err)
		}
		return 1
	}
	return 0
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *logging.Logger {
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)
	return logger
}

func validateAssetType(t string) error {
	switch t {
	case asset.TypeDevices, asset.TypeUsers:
		return nil
	default:
		return fmt.Errorf("unknown asset type %q (want %s or %s)", t, asset.TypeDevices, asset.TypeUsers)
	}
}
