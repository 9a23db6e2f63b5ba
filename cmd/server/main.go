// Package main provides the entry point for the TDS bridge server.
package main

import (
	"os"

	"github.com/go-logr/zerologr"
	"github.com/jzelinskie/cobrautil/v2"
	"github.com/jzelinskie/cobrautil/v2/cobrazerolog"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nnnkkk7/tds-bridge/pkg/logging"
)

const programName = "tds-bridge"

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		logging.Error().Err(err).Msg("terminated with errors")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := defaultConfig()

	cmd := &cobra.Command{
		Use:   programName,
		Short: "Serve foreign tables backed by SQL Server",
		Long:  "Serves a catalog of foreign servers and tables whose rows are fetched from SQL Server (or a DuckDB loopback) and converted to declared column types.",
		PersistentPreRunE: cobrautil.CommandStack(
			cobrautil.SyncViperDotEnvPreRunE(programName, programName+".env", zerologr.New(&logging.Logger)),
			cobrazerolog.New(
				cobrazerolog.WithTarget(func(logger zerolog.Logger) {
					logging.SetGlobalLogger(logger)
				}),
			).RunE(),
		),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cobrazerolog.New().RegisterFlags(cmd.PersistentFlags())
	registerServeFlags(cmd, cfg)
	return cmd
}
