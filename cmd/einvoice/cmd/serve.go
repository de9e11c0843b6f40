package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfaktur/einvoice/internal/server"
	"github.com/openfaktur/einvoice/internal/store"
)

var (
	serverAddr   string
	serverDebug  bool
	readTimeout  time.Duration
	writeTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intake HTTP API",
	Long: `Start the intake HTTP API.

Endpoints:
  POST /api/v1/invoices           - Submit an invoice (XML or PDF)
  GET  /api/v1/invoices           - List transactions
  GET  /api/v1/invoices/:id       - Transaction status and report
  GET  /api/v1/invoices/:id/logs  - Processing audit trail
  POST /api/v1/invoices/:id/retry - Operator retry
  GET  /health                    - Health check

Examples:
  einvoice serve
  einvoice serve --address :9090 --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", "", "Server listen address (default from LISTEN_ADDR)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
	serveCmd.Flags().DurationVar(&readTimeout, "read-timeout", 30*time.Second, "HTTP read timeout")
	serveCmd.Flags().DurationVar(&writeTimeout, "write-timeout", time.Minute, "HTTP write timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := newLogger()
	ctx := context.Background()

	db, err := openDatabase(cfg.DatabaseDSN, log)
	if err != nil {
		return err
	}
	repo := store.NewRepository(db, log)
	if err := repo.Migrate(); err != nil {
		return err
	}

	blobs, err := openBlobStore(ctx, log)
	if err != nil {
		return err
	}
	tasks, err := openQueue(log)
	if err != nil {
		return err
	}

	addr := serverAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	srv := server.NewServer(&server.Config{
		Address:      addr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		RetryCap:     cfg.RetryCap,
		Debug:        serverDebug,
	}, repo, blobs, tasks, log)

	log.Info().Str("address", addr).Msg("intake API starting")
	return srv.Run()
}
