package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"lnprox-router/internal/config"
	"lnprox-router/internal/logging"
)

// app carries state shared by every subcommand once the persistent flags
// have been applied.
type app struct {
	configPath string
	envFile    string
	logLevel   string

	cfg config.Config
}

// Execute runs the CLI with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCmd builds the lnprox-router command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "lnprox-router",
		Short: "Pay-per-request completions over Lightning",
		Long: `lnprox-router sends prompts to a LightningProx-style completion endpoint and
settles its Lightning invoices automatically through an LNbits wallet.

Configuration is read from an optional YAML file, then a .env file, then the
process environment (LNBITS_URL, LNBITS_ADMIN_KEY, LIGHTNINGPROX_API_URL, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to YAML configuration file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	root.AddCommand(newAskCmd(a))
	root.AddCommand(newBatchCmd(a))
	root.AddCommand(newServeCmd(a))

	return root
}

func (a *app) load() error {
	if err := config.LoadEnvFile(a.envFile); err != nil {
		return err
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	a.cfg = cfg
	return nil
}
