package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/cx-tal-miterani/flight-tracker/internal/config"
	"github.com/cx-tal-miterani/flight-tracker/internal/database"
	"github.com/cx-tal-miterani/flight-tracker/internal/events"
	"github.com/cx-tal-miterani/flight-tracker/internal/handlers"
	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
	"github.com/cx-tal-miterani/flight-tracker/internal/mapview"
	"github.com/cx-tal-miterani/flight-tracker/internal/metrics"
	"github.com/cx-tal-miterani/flight-tracker/internal/router"
	"github.com/cx-tal-miterani/flight-tracker/internal/service"
	"github.com/cx-tal-miterani/flight-tracker/internal/websocket"
	"github.com/cx-tal-miterani/flight-tracker/internal/workflows"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, source, err := config.LoadWithFallback(*configPath)
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

	if source == "" {
		source = "defaults"
	}
	log.Info("Configuration loaded", logger.String("source", source), logger.String("backend", cfg.Storage.Backend))

	if err := run(cfg, log); err != nil {
		log.Error("Server failed", logger.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := database.Open(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}
	defer repo.Close()

	reg := metrics.NewRegistry()

	renderer := mapview.NewRenderer(repo, mapview.Options{
		OutputPath:  cfg.Map.OutputPath,
		CenterLat:   cfg.Map.CenterLat,
		CenterLon:   cfg.Map.CenterLon,
		Zoom:        cfg.Map.Zoom,
		TileURL:     cfg.Map.TileURL,
		Attribution: cfg.Map.Attribution,
	}, reg, log)

	hub := websocket.NewHub(reg, log)
	go hub.Run(ctx)

	bus := events.NewBus(log, events.Options{
		Async:     cfg.Map.Dispatch == config.DispatchAsync,
		QueueSize: cfg.Map.QueueSize,
	})
	defer bus.Close()

	bus.Subscribe("metrics", reg)
	if cfg.Map.Dispatch == config.DispatchTemporal {
		temporalClient, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Logger:    log.Named("temporal").KeyValue(),
		})
		if err != nil {
			return fmt.Errorf("failed to create Temporal client: %w", err)
		}
		defer temporalClient.Close()
		bus.Subscribe("map", workflows.NewDispatcher(temporalClient, cfg.Temporal.TaskQueue, log))
		log.Info("Map rendering delegated to Temporal", logger.String("task_queue", cfg.Temporal.TaskQueue))
	} else {
		bus.Subscribe("map", renderer)
	}
	bus.Subscribe("websocket", hub)

	if cfg.Events.KafkaBrokers != "" {
		kafkaWriter := events.NewKafkaWriter(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		defer kafkaWriter.Close()
		bus.Subscribe("kafka", kafkaWriter)
		log.Info("Publishing flight events to Kafka",
			logger.String("brokers", cfg.Events.KafkaBrokers),
			logger.String("topic", cfg.Events.KafkaTopic))
	}

	flightService := service.NewFlightService(repo, bus, log)
	h := handlers.NewHandler(flightService, repo, log)

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = reg.Handler()
	}
	handler := router.SetupRouter(router.Routes{
		API:     h,
		Map:     renderer,
		Live:    http.HandlerFunc(hub.ServeWS),
		Metrics: metricsHandler,
	}, router.Options{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RateLimitRPS:       cfg.Server.RateLimitRPS,
		RateLimitBurst:     cfg.Server.RateLimitBurst,
		MetricsPath:        cfg.Metrics.Path,
	}, reg, log)

	// the artifact reflects whatever the store already holds
	if _, err := renderer.Render(ctx); err != nil {
		log.Warn("Initial map render failed", logger.Error(err))
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("API server starting",
			logger.String("addr", srv.Addr),
			logger.String("map_dispatch", cfg.Map.Dispatch))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSecs)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	// drain queued events while the sinks are still open
	bus.Close()

	log.Info("Server stopped")
	return nil
}
