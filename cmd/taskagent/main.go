// Taskagent turns inbound channel messages into cases and typed tasks.
//
// Configuration is read from a YAML file and TASKAGENT_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start the server with defaults
//	taskagent
//
//	# Use a config file and override the port
//	TASKAGENT_SERVER_HTTP_PORT=9000 taskagent -config /etc/taskagent/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ravikadam/tasks/internal/casestore"
	"github.com/ravikadam/tasks/internal/config"
	"github.com/ravikadam/tasks/internal/events"
	"github.com/ravikadam/tasks/internal/extraction"
	httpserver "github.com/ravikadam/tasks/internal/http"
	"github.com/ravikadam/tasks/internal/logging"
	"github.com/ravikadam/tasks/internal/orchestrator"
	"github.com/ravikadam/tasks/internal/redact"
	"github.com/ravikadam/tasks/internal/taskstore"
	"github.com/ravikadam/tasks/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  taskagent [-config path]   Start the server\n")
			fmt.Fprintf(os.Stderr, "  taskagent version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("taskagent\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the service from cfg and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	tel, err := telemetry.New(ctx, telemetry.FromServiceConfig(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logCfg, err := logging.FromServiceConfig(cfg.Logging, cfg.Telemetry.Enabled)
	if err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "Starting taskagent",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("model_provider", cfg.Model.Provider),
		zap.Bool("telemetry", cfg.Telemetry.Enabled),
		zap.Duration("request_timeout", cfg.Server.RequestTimeout.Duration()))
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("problems", h.Problems))
	}

	redactor, err := redact.New(cfg.Redaction)
	if err != nil {
		return fmt.Errorf("failed to initialize redaction: %w", err)
	}

	facade := extraction.NewFromConfig(cfg.Model, redactor, logger.Named("extraction"), time.Now)

	publisher, err := events.Connect(cfg.Events, logger.Named("events"))
	if err != nil {
		return fmt.Errorf("failed to connect events: %w", err)
	}
	defer publisher.Close()

	orch := orchestrator.New(
		casestore.New(cfg.Cases, logger.Named("cases")),
		taskstore.New(cfg.Tasks, logger.Named("tasks")),
		facade,
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithPublisher(publisher),
		orchestrator.WithRequestTimeout(cfg.Server.RequestTimeout.Duration()),
	)

	srv, err := httpserver.NewServer(orch, facade, logger.Named("http"), &httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		Version:        version,
		IdempotencyTTL: cfg.Server.IdempotencyTTL.Duration(),
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info(ctx, "Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.Bool("model_enabled", facade.ModelEnabled()),
		zap.Bool("events_enabled", cfg.Events.NATSURL != ""),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
