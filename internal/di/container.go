package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cedarmarket/api/internal/platform/config"
	"github.com/cedarmarket/api/internal/platform/events"
	"github.com/cedarmarket/api/internal/repositories"
	"github.com/cedarmarket/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders    services.OrderService
	Inventory services.InventoryService
	System    services.SystemService
}

// Deps carries infrastructure built in main that the container cannot construct
// itself. A nil Events publisher disables event delivery, a nil Logger disables
// service-level logging.
type Deps struct {
	Events services.EventPublisher
	Logger *zap.Logger
	Build  services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring supplies the
// Firestore-backed registry, while tests can provide in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, cfg, reg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (Services, error) {
	var svc Services

	publisher := deps.Events
	if publisher == nil {
		publisher = events.NoopEventPublisher{}
	}

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Clock:     time.Now,
		Events:    publisher,
		Logger:    serviceLogger(deps.Logger, "inventory"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Inventory: reg.Inventory(),
		Counters:  reg.Counters(),
		Clock:     time.Now,
		Events:    publisher,
		Logger:    serviceLogger(deps.Logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	build := deps.Build
	if build.Environment == "" {
		build.Environment = cfg.Environment
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            time.Now,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

// serviceLogger adapts a zap logger into the map-based hook services accept.
func serviceLogger(logger *zap.Logger, name string) services.Logger {
	if logger == nil {
		return nil
	}
	named := logger.Named(name)
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		named.Info(event, zFields...)
	}
}
