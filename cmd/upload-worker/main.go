// Package main runs the RabbitMQ upload worker. It consumes jobs published
// by the API and moves each upload through uploading and indexing to ready
// or error.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/muckrock/foia-coach-api/internal/app"
	"github.com/muckrock/foia-coach-api/internal/config"
	"github.com/muckrock/foia-coach-api/internal/httpapi"
	"github.com/muckrock/foia-coach-api/internal/monitoring"
)

var (
	configFile  = flag.String("config", "", "Path to the JSON configuration file")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	workers     = flag.Int("workers", 0, "Concurrent uploads (overrides config)")
	metricsAddr = flag.String("metrics-addr", ":9091", "Listen address for the metrics endpoint")
)

func main() {
	flag.Parse()

	logger := app.SetupLogging("upload-worker", *debug)

	cfg, err := app.LoadConfig(*configFile, *debug, logger)
	if err != nil {
		logger.Fatal("%v", err)
	}
	if cfg.Queue.Driver != config.QueueRabbitMQ {
		logger.Fatal("The upload worker needs queue.driver=%s, got %q", config.QueueRabbitMQ, cfg.Queue.Driver)
	}
	if *workers > 0 {
		cfg.Upload.Workers = *workers
	}
	if cfg.Monitoring.Enabled {
		monitoring.RegisterMetrics()
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize: %v", err)
	}
	consumer, err := a.Consumer()
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ: %v", err)
	}

	logger.InfoKV("Starting upload worker", "queue", cfg.Queue.RabbitQueue, "workers", cfg.Upload.Workers)
	runErr := app.Run(logger, cfg.Server.GetShutdownTimeout(), a.ClearProviders, func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return consumer.Run(ctx) })
		if cfg.Monitoring.Enabled {
			mux := http.NewServeMux()
			mux.Handle(cfg.Monitoring.MetricsPath, promhttp.Handler())
			metrics := httpapi.NewServer(config.ServerConfig{Addr: *metricsAddr}, mux, logger)
			g.Go(func() error { return metrics.Run(ctx) })
		}
		return g.Wait()
	})

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.ErrorKV("Failed to release resources", "error", err)
	}
	if runErr != nil {
		logger.ErrorKV("Worker stopped with error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("Upload worker stopped")
}
