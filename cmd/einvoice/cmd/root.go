package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfaktur/einvoice/internal/config"
)

var (
	version = "1.0.0"

	// Global flags
	verbose bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "einvoice",
	Short: "Ingest and validate electronic invoices (XRechnung, ZUGFeRD, Factur-X)",
	Long: `einvoice is the e-invoice validation pipeline.

It accepts UBL and CII invoice XML as well as hybrid PDF containers,
validates them structurally (XSD), semantically (EN 16931 rule tool),
arithmetically and against ERP master data, and tracks every submission
through a transaction state machine.

Examples:
  # Run the intake HTTP API
  einvoice serve

  # Run a processing worker
  einvoice worker

  # Validate a local file without touching the database
  einvoice process invoice.xml`,
	Version: version,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		// Commands validate what they need; a broken environment should
		// still fail loudly here.
		logger := zerolog.New(os.Stderr)
		logger.Fatal().Err(err).Msg("configuration error")
	}
}

// newLogger builds the process logger from config and the verbose flag.
func newLogger() zerolog.Logger {
	level := cfg.LogLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
