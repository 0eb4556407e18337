package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/cx-tal-miterani/flight-tracker/internal/activities"
	"github.com/cx-tal-miterani/flight-tracker/internal/config"
	"github.com/cx-tal-miterani/flight-tracker/internal/database"
	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
	"github.com/cx-tal-miterani/flight-tracker/internal/mapview"
	"github.com/cx-tal-miterani/flight-tracker/internal/metrics"
	"github.com/cx-tal-miterani/flight-tracker/internal/workflows"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, _, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("Worker failed", logger.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	// the worker reads the same store as the API process
	switch cfg.Storage.Backend {
	case config.BackendMemory, config.BackendPebble:
		return fmt.Errorf("storage backend %q cannot be shared with the API process", cfg.Storage.Backend)
	}

	repo, err := database.Open(context.Background(), cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}
	defer repo.Close()

	renderer := mapview.NewRenderer(repo, mapview.Options{
		OutputPath:  cfg.Map.OutputPath,
		CenterLat:   cfg.Map.CenterLat,
		CenterLon:   cfg.Map.CenterLon,
		Zoom:        cfg.Map.Zoom,
		TileURL:     cfg.Map.TileURL,
		Attribution: cfg.Map.Attribution,
	}, metrics.NewRegistry(), log)

	log.Info("Connecting to Temporal", logger.String("host", cfg.Temporal.HostPort))
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    log.Named("temporal").KeyValue(),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	w.RegisterWorkflowWithOptions(workflows.RenderMapWorkflow, workflow.RegisterOptions{Name: workflows.RenderMapWorkflowName})

	acts := &activities.Activities{Renderer: renderer}
	w.RegisterActivityWithOptions(acts.RenderMap, activity.RegisterOptions{Name: activities.RenderMapName})

	log.Info("Starting Temporal worker", logger.String("task_queue", cfg.Temporal.TaskQueue))
	if err := w.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	return nil
}
