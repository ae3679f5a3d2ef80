package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"studio-crm/backend/internal/api"
	"studio-crm/backend/internal/config"
	"studio-crm/backend/internal/logging"
	"studio-crm/backend/internal/mcp"
	"studio-crm/backend/internal/reminders"
	"studio-crm/backend/internal/repository"
	"studio-crm/backend/internal/sequence"
	"studio-crm/backend/internal/services"
	"studio-crm/backend/internal/telemetry"
	"studio-crm/backend/internal/tls"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), envFile)
		},
	}

	root := &cobra.Command{
		Use:          "studio-crm",
		Short:        "Studio CRM follow-up sequence service",
		Version:      version,
		SilenceUsage: true,
		RunE:         serveCmd.RunE,
	}
	root.PersistentFlags().StringVar(&envFile, "env", "", "Path to .env file")

	root.AddCommand(serveCmd, &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), envFile)
		},
	})
	return root
}

func loadConfig(envFile string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		logging.NewLogger().Error("Failed to load configuration", "error", err)
		return nil, nil, err
	}
	return cfg, logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format), nil
}

func migrate(ctx context.Context, envFile string) error {
	cfg, logger, err := loadConfig(envFile)
	if err != nil {
		return err
	}

	store, err := repository.Open(ctx, cfg)
	if err != nil {
		logger.Error("Migration failed", "driver", cfg.DB.Driver, "error", err)
		return err
	}
	defer store.Close()

	logger.Info("Database schema is up to date", "driver", cfg.DB.Driver)
	return nil
}

func serve(ctx context.Context, envFile string) error {
	cfg, logger, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"db_driver", cfg.DB.Driver,
		"notify_sink", cfg.Notify.Sink,
		"high_value_threshold", cfg.Workflow.HighValueThreshold,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exporter := cfg.Telemetry.Exporter
	if !cfg.Telemetry.Enable {
		exporter = telemetry.ExporterNone
	}
	providers, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Exporter:       exporter,
	})
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown error", "error", err)
		}
	}()

	store, err := repository.Open(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		return err
	}
	defer store.Close()
	logger.Info("Database connected", "driver", cfg.DB.Driver)

	playbook, err := sequence.LoadPlaybook(cfg.Workflow.PlaybookFile)
	if err != nil {
		logger.Error("Failed to load playbook", "error", err)
		return err
	}
	engine := sequence.NewEngine(store, playbook,
		sequence.WithHighValueThreshold(cfg.Workflow.HighValueThreshold),
		sequence.WithLogger(logger),
		sequence.WithTracerProvider(providers.TracerProvider),
		sequence.WithMeterProvider(providers.MeterProvider),
	)
	logger.Info("Playbook loaded", "source", playbook.Source)

	notifier, closeNotifier, err := newNotifier(cfg, store)
	if err != nil {
		logger.Error("Failed to initialize notifier", "error", err)
		return err
	}
	defer closeNotifier()

	// Background workers use the store and notifier, so they are stopped
	// and drained before either is closed.
	var workers sync.WaitGroup
	defer func() {
		cancel()
		workers.Wait()
		logger.Info("Background workers stopped")
	}()

	cache := services.NewQuotationCache(store, cfg.Cache.TTL, cfg.Cache.Capacity)
	workers.Go(func() { cache.StartEviction(ctx) })

	followUps := services.NewFollowUpService(store, engine, notifier,
		services.WithQuotationCache(cache),
		services.WithServiceLogger(logger),
	)
	logger.Info("Service layer initialized")

	if cfg.Reminders.Enable {
		sweeper := reminders.NewSweeper(store, notifier, cfg.Reminders.Schedule, reminders.WithLogger(logger))
		workers.Go(func() {
			if err := sweeper.Run(ctx); err != nil {
				logger.Error("Reminder sweeper stopped", "error", err)
			}
		})
	}

	e := newEcho(cfg, followUps, providers, logger)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      e,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.HTTP.Addr, "tls", cfg.TLS.Enable)
		if !cfg.TLS.Enable {
			serverErrors <- server.ListenAndServe()
			return
		}
		generated, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, "Studio CRM", cfg.TLS.Hostnames)
		if err != nil {
			serverErrors <- fmt.Errorf("failed to prepare TLS certificate: %w", err)
			return
		}
		if generated {
			logger.Warn("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile)
		}
		serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}
		logger.Info("Server stopped gracefully")
	}
	return nil
}

func newEcho(cfg *config.Config, followUps *services.FollowUpService, providers *telemetry.Providers, logger *logging.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ProblemErrorHandler(logger)

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(cfg.Telemetry.ServiceName, otelecho.WithTracerProvider(providers.TracerProvider)))

	apiServer := api.NewServer(followUps, version)
	api.RegisterHandlers(e.Group("/api/v1"), apiServer)
	e.GET("/health", apiServer.GetHealth)
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(followUps, version)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
	logger.Info("MCP protocol handlers mounted")

	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler()))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler()))

	return e
}

// newNotifier builds the configured notification sink and its cleanup.
func newNotifier(cfg *config.Config, store repository.Repository) (services.Notifier, func(), error) {
	switch cfg.Notify.Sink {
	case config.SinkRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Notify.RedisAddr})
		return services.NewRedisNotifier(client, cfg.Notify.RedisChannel), func() { client.Close() }, nil
	case config.SinkWebhook:
		return services.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookRetries), func() {}, nil
	case config.SinkStore:
		return services.NewStoreNotifier(store), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown notify sink %q", cfg.Notify.Sink)
	}
}
