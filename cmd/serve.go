package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/backstage/services/stocktake/api"
	"example.com/backstage/services/stocktake/config"
	"example.com/backstage/services/stocktake/internal/cache"
	"example.com/backstage/services/stocktake/internal/database"
	"example.com/backstage/services/stocktake/internal/messaging"
	"example.com/backstage/services/stocktake/internal/repository"
	"example.com/backstage/services/stocktake/internal/service"
	"example.com/backstage/services/stocktake/internal/snapshot"
	"example.com/backstage/services/stocktake/internal/telemetry"
)

var (
	// Serve command flags
	disableNewRelic bool
	serverPort      int
	gracefulTimeout int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Starts the stocktake API server that handles counting creation,
count submission, reconciliation review and the audit trail.

The server respects the configuration in config.yaml or specified via the
--config flag. It will gracefully shut down on receiving SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		startServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&disableNewRelic, "disable-newrelic", false, "Disable New Relic monitoring")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "Server port (overrides config file)")
	serveCmd.Flags().IntVar(&gracefulTimeout, "graceful-timeout", 30, "Graceful shutdown timeout in seconds")
}

// startServer initializes and starts the API server
func startServer() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if serverPort > 0 {
		cfg.Server.Port = serverPort
	}

	log.WithFields(logrus.Fields{
		"port":             cfg.Server.Port,
		"newrelic_enabled": cfg.NewRelic.Enabled && !disableNewRelic,
	}).Info("Initializing service components...")

	db := connectDatabaseWithRetry(cfg)
	defer func() {
		log.Info("Closing database connection...")
		if err := db.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing database connection")
		}
	}()

	log.Info("Connecting to Redis...")
	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		log.Info("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing Redis connection")
		}
	}()

	log.Info("Connecting to message broker...")
	msgClient, err := messaging.NewServiceBusClient(cfg.ServiceBus, "stocktake-service")
	if err != nil {
		log.Fatalf("Failed to connect to message broker: %v", err)
	}
	defer func() {
		log.Info("Closing messaging connection...")
		if err := msgClient.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing messaging connection")
		}
	}()

	nrCfg := cfg.NewRelic
	if disableNewRelic {
		nrCfg.Enabled = false
	}
	nrApp, err := telemetry.InitNewRelic(nrCfg)
	if err != nil {
		log.Warnf("Failed to initialize New Relic: %v", err)
	}

	log.Info("Initializing repositories...")
	repo := repository.NewRepository(db)

	log.Info("Initializing service layer...")
	svc, err := service.NewService(service.ServiceConfig{
		Repository: repo,
		Snapshots:  snapshot.NewStockLevelProvider(repo),
		Cache:      redisClient,
		Messaging:  msgClient,
		Logger:     log,
	})
	if err != nil {
		log.Fatalf("Failed to initialize service: %v", err)
	}

	log.Info("Initializing API server...")
	server := api.NewServer(cfg, log, nrApp, svc)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.WithFields(logrus.Fields{
			"port": cfg.Server.Port,
		}).Info("Starting server...")

		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-stop
	log.Infof("Received signal %s, shutting down gracefully...", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(gracefulTimeout)*time.Second)
	defer cancel()

	log.Info("Shutting down HTTP server...")
	if err := server.Shutdown(ctx); err != nil {
		log.Warnf("Server shutdown error: %v", err)
	}

	log.Info("Server shutdown complete")
}

// connectDatabaseWithRetry connects to the database with exponential backoff
func connectDatabaseWithRetry(cfg *config.Config) database.DB {
	var db database.DB
	var err error

	maxRetries := 5
	retryInterval := time.Second

	for i := 0; i < maxRetries; i++ {
		log.WithField("attempt", i+1).Info("Connecting to database...")
		db, err = database.Connect(cfg.Database)
		if err == nil {
			log.Info("Successfully connected to database")
			return db
		}

		log.WithFields(logrus.Fields{
			"error":         err.Error(),
			"retry_attempt": i + 1,
			"max_retries":   maxRetries,
		}).Error("Failed to connect to database, retrying...")

		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2
		}
	}

	log.Fatalf("Failed to connect to database after %d attempts: %v", maxRetries, err)
	return nil
}
