package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cedarmarket/api/internal/di"
	"github.com/cedarmarket/api/internal/handlers"
	"github.com/cedarmarket/api/internal/platform/auth"
	"github.com/cedarmarket/api/internal/platform/config"
	"github.com/cedarmarket/api/internal/platform/events"
	pfirestore "github.com/cedarmarket/api/internal/platform/firestore"
	"github.com/cedarmarket/api/internal/platform/observability"
	firestoreRepo "github.com/cedarmarket/api/internal/repositories/firestore"
	"github.com/cedarmarket/api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("missing required configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise firestore registry", zap.Error(err))
	}

	publisher, closePublisher, err := newEventPublisher(ctx, logger.Named("events"), cfg.Events)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	defer closePublisher()

	container, err := di.NewContainer(ctx, cfg, registry, di.Deps{
		Events: publisher,
		Logger: logger,
		Build:  buildInfo,
	})
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)
	authorizer := auth.DefaultAuthorizer()

	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders)
	adminOrderHandlers := handlers.NewAdminOrderHandlers(authenticator, authorizer, container.Services.Orders)
	adminInventoryHandlers := handlers.NewAdminInventoryHandlers(authenticator, authorizer, container.Services.Inventory)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(container.Services.System),
		handlers.WithHealthBuildInfo(buildInfo),
	)

	projectID := cfg.Firebase.ProjectID
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(func(r chi.Router) {
			r.Group(adminOrderHandlers.Routes)
			r.Group(adminInventoryHandlers.Routes)
		}),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("cedarmarket api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
	}
}

// newEventPublisher returns the Pub/Sub publisher when eventing is enabled,
// otherwise a no-op publisher. The returned func releases the client.
func newEventPublisher(ctx context.Context, logger *zap.Logger, cfg config.EventsConfig) (services.EventPublisher, func(), error) {
	if !cfg.Enabled {
		logger.Info("event publishing disabled")
		return events.NoopEventPublisher{}, func() {}, nil
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}

	orderTopic := client.Topic(cfg.OrderTopic)
	stockTopic := client.Topic(cfg.StockTopic)
	publisher, err := events.NewPubSubEventPublisher(orderTopic, stockTopic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	cleanup := func() {
		orderTopic.Stop()
		stockTopic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return publisher, cleanup, nil
}
