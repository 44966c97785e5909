// Package commands implements the ledger CLI.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kasaplus/ledger/internal/config"
)

// app carries what the root command resolves for its subcommands.
type app struct {
	cfg    config.Config
	logger *slog.Logger
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	var envFile string
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Double-entry general ledger for multi-branch businesses",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			cfg, err := config.Load(files...)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			a.cfg = cfg
			a.logger = cfg.Logger(os.Stderr)
			slog.SetDefault(a.logger)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default .env when present)")

	rootCmd.AddCommand(newServeCommand(a))
	rootCmd.AddCommand(newRepairCommand(a))
	rootCmd.AddCommand(newSeedChartCommand(a))

	return rootCmd
}
