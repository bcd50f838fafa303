package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"hashlic/internal/config"
	"hashlic/internal/infrastructure"
	"hashlic/internal/keystore"
	customMiddleware "hashlic/internal/middleware"
	"hashlic/internal/services"
	"hashlic/internal/store"
	"hashlic/internal/token"
	handlers "hashlic/internal/transport/http"
)

const (
	// Version is the reported service version
	Version = "v1.0.0"
	AppName = "Hashim License Server"
)

// Application is the dependency-injected container for the license
// server: configuration, keypair, repository, services and router are
// constructed once at process start and passed by reference.
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Keys          *keystore.Store
	Store         *store.Store
	Tokens        *token.Service
	License       *services.LicenseService
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
}

// NewApplication creates a new application instance. Missing key files
// abort startup: the service never runs without its signing keypair.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig wires the application from an already-loaded
// configuration. Used by tests.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version))

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	keys, err := keystore.Load(cfg.Paths.PrivateKeyFile, cfg.Paths.PublicKeyFile, logger)
	if err != nil {
		return nil, err
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Keys:          keys,
	}

	app.initializeServices()
	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices constructs the repository and business services
func (a *Application) initializeServices() {
	a.Store = store.New(a.Config.DatabaseFile(), a.Logger)
	a.Tokens = token.NewService(a.Keys, a.Logger)
	a.License = services.NewLicenseService(
		a.Store,
		a.Tokens,
		a.Keys,
		a.Config.TokenTTL(),
		a.Config.License.DefaultProduct,
		a.Logger,
		services.WithObservability(a.OTelProviders.Tracer, a.OTelProviders.Meter),
	)

	if a.Config.Admin.Secret == "" {
		a.Logger.Warn("no admin secret configured, admin interface is unreachable")
	}
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)

	if a.Config.Server.RateLimit.Enabled {
		r.Use(customMiddleware.NewRateLimiter(
			a.Config.Server.RateLimit.RPS,
			a.Config.Server.RateLimit.Burst,
			a.Logger,
		).Handler)
	}

	r.Use(render.SetContentType(render.ContentTypeJSON))

	licenseHandler := handlers.NewLicenseHandler(a.License, a.Logger)
	r.Mount("/", licenseHandler.Routes())

	gate := customMiddleware.NewAdminGate(a.Config.Admin.Secret, a.Logger)
	adminHandler := handlers.NewAdminHandler(a.License, gate, a.Logger)
	r.Mount("/admin", adminHandler.Routes())

	healthHandler := handlers.NewHealthHandler(Version)
	r.Get("/healthz", healthHandler.Health)

	// Prometheus endpoint stays outside the logging middleware noise
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// createServer builds the HTTP server with configured timeouts
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Run starts the HTTP server and blocks until shutdown. SIGINT/SIGTERM
// trigger a graceful drain bounded by the configured shutdown timeout.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("license server listening",
			slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.Logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()

		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("otel shutdown failed", slog.String("error", err.Error()))
		}
		return nil
	})

	return g.Wait()
}
