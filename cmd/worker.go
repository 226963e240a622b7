package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"example.com/backstage/services/stocktake/config"
	"example.com/backstage/services/stocktake/internal/messaging"
	"example.com/backstage/services/stocktake/internal/repository"
	"example.com/backstage/services/stocktake/internal/search"
	"example.com/backstage/services/stocktake/internal/worker"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long: `Starts the background worker that scans for overdue count assignments
and forwards audit events to Elasticsearch.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db := connectDatabaseWithRetry(cfg)
	defer db.Close()

	repo := repository.NewRepository(db)

	msgClient, err := messaging.NewServiceBusClient(cfg.ServiceBus, "stocktake-worker")
	if err != nil {
		return err
	}
	defer msgClient.Close()

	var elasticClient *search.ElasticClient
	if cfg.Elastic.Enabled {
		elasticClient, err = search.NewElasticClient(cfg.Elastic, log)
		if err != nil {
			log.WithError(err).Warn("Failed to initialize Elasticsearch client, continuing without indexing")
			elasticClient = nil
		}
	}

	w := worker.New(repo, msgClient, elasticClient, cfg.Worker, log)
	if err := w.Run(ctx); err != nil {
		log.WithError(err).Error("Worker error")
		return err
	}

	log.Info("Worker shutting down gracefully")
	return nil
}
