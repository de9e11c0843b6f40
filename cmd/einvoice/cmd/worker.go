package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openfaktur/einvoice/internal/erp"
	"github.com/openfaktur/einvoice/internal/extract"
	"github.com/openfaktur/einvoice/internal/mapper"
	"github.com/openfaktur/einvoice/internal/processor"
	"github.com/openfaktur/einvoice/internal/store"
	"github.com/openfaktur/einvoice/internal/validate"
	"github.com/openfaktur/einvoice/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a processing worker",
	Long: `Run a worker that consumes submission tasks from the queue and
drives them through the validation pipeline. Multiple workers can run
concurrently; the transaction claim keeps them from double-processing.

Examples:
  einvoice worker`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Assets.Verify(); err != nil {
		return err
	}
	log := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg.DatabaseDSN, log)
	if err != nil {
		return err
	}
	repo := store.NewRepository(db, log)
	if err := repo.Migrate(); err != nil {
		return err
	}

	erpDB := db
	if cfg.ERPDatabaseDSN != cfg.DatabaseDSN {
		if erpDB, err = openDatabase(cfg.ERPDatabaseDSN, log); err != nil {
			return err
		}
	}

	blobs, err := openBlobStore(ctx, log)
	if err != nil {
		return err
	}
	tasks, err := openQueue(log)
	if err != nil {
		return err
	}

	proc, err := processor.New(processor.Deps{
		Transactions: repo,
		Blobs:        blobs,
		Extractor:    extract.NewExtractor(log),
		Mapper:       mapper.NewRegistry(),
		Structure:    validate.NewStructureValidator(cfg.Assets, log),
		Semantic:     validate.NewSemanticValidator(validate.NewKoSITEngine(cfg.Assets, log), log),
		Calculation:  validate.NewCalculationValidator(),
		Business:     validate.NewBusinessValidator(erp.NewSQLAdapter(erpDB, log), log),
		Logger:       log,
	})
	if err != nil {
		return err
	}

	wcfg := worker.DefaultConfig()
	wcfg.TaskTimeout = cfg.WorkerTaskTimeout
	wcfg.MaxAttempts = cfg.WorkerMaxAttempts

	w := worker.New(wcfg, tasks, proc, repo, log)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
