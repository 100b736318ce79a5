package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/saaga0h/jeeves-presence/internal/occupancy"
	"github.com/saaga0h/jeeves-presence/internal/topology"
	"github.com/saaga0h/jeeves-presence/pkg/config"
	"github.com/saaga0h/jeeves-presence/pkg/health"
	"github.com/saaga0h/jeeves-presence/pkg/mqtt"
	"github.com/saaga0h/jeeves-presence/pkg/postgres"
	"github.com/saaga0h/jeeves-presence/pkg/redis"
)

func main() {
	// Optional .env file for local development
	_ = godotenv.Load()

	// Load configuration with hierarchy: defaults → env → flags
	cfg := config.NewConfig()
	cfg.ServiceName = "presence-agent"
	cfg.LoadFromEnv()
	cfg.LoadFromFlags()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	logLevel := parseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting J.E.E.V.E.S. Presence Agent",
		"version", "1.0",
		"service_name", cfg.ServiceName,
		"mqtt_broker", cfg.MQTTAddress(),
		"redis_host", cfg.RedisAddress(),
		"topology", cfg.TopologyPath,
		"log_level", cfg.LogLevel)

	// Load the area/sensor topology
	topo, err := topology.Load(cfg.TopologyPath)
	if err != nil {
		logger.Error("Failed to load topology", "path", cfg.TopologyPath, "error", err)
		os.Exit(1)
	}
	logger.Info("Loaded topology",
		"areas", len(topo.Areas()),
		"sensors", len(topo.Sensors()))
	if isolated := topo.IsolatedAreas(); len(isolated) > 1 {
		logger.Warn("Topology has areas with no adjacency entries", "areas", isolated)
	}

	// Set up context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize MQTT client
	mqttClient := mqtt.NewClient(cfg, logger)

	// Initialize Redis client
	redisClient := redis.NewClient(cfg, logger)

	// Initialize the optional anomaly archive
	var archive *occupancy.Archive
	var pgClient postgres.Client
	if cfg.EnableAnomalyArchive {
		pgClient = postgres.NewClient(cfg, logger)
		if err := pgClient.Connect(ctx); err != nil {
			logger.Error("Failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer pgClient.Disconnect()
		archive = occupancy.NewArchive(pgClient, logger)
		logger.Info("Anomaly archive enabled", "database", cfg.PostgresDB)
	}

	// Create presence agent
	agent := occupancy.NewAgent(mqttClient, redisClient, cfg, topo, archive, logger)

	// Start health check server
	healthChecker := health.NewChecker(mqttClient, redisClient, logger)
	if pgClient != nil {
		healthChecker.SetPostgres(pgClient)
	}
	httpServer := startHealthServer(cfg.HealthPort, healthChecker, logger)

	// Start agent in a goroutine
	agentErr := make(chan error, 1)
	go func() {
		if err := agent.Start(ctx); err != nil {
			logger.Error("Agent error", "error", err)
			agentErr <- err
		}
	}()

	// Wait for shutdown signal or agent error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received (SIGTERM/SIGINT)")
	case err := <-agentErr:
		logger.Error("Agent failed", "error", err)
	}

	// Graceful shutdown
	logger.Info("Initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down health server", "error", err)
	}

	logger.Info("Presence agent shutdown complete")
}

func startHealthServer(port int, checker *health.Checker, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HandlerFunc())
	mux.HandleFunc("/health/detailed", checker.DetailedHandlerFunc())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		logger.Info("Starting health check server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server error", "error", err)
		}
	}()

	return server
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
