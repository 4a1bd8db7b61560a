package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/cedarmarket/api/internal/domain"
	"github.com/cedarmarket/api/internal/repositories"
)

// ErrValidation signals the caller provided invalid input.
var ErrValidation = errors.New("invalid input")

// Logger is the structured logging hook injected into services. A nil hook
// disables logging without any conditional at the call sites.
type Logger func(ctx context.Context, event string, fields map[string]any)

// EventPublisher publishes committed domain events for downstream consumers.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error)
	PublishStockEvent(ctx context.Context, event domain.StockEvent) (string, error)
}

// OrderService exposes the order lifecycle: checkout, reads, transitions,
// cancellation, and soft deletion.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, query GetOrderQuery) (domain.Order, error)
	ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[domain.Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error
}

// InventoryService exposes stock levels and the movement ledger.
type InventoryService interface {
	Adjust(ctx context.Context, cmd AdjustStockCommand) (domain.StockAdjustment, error)
	AdjustBulk(ctx context.Context, cmds []AdjustStockCommand) ([]domain.StockAdjustment, error)
	GetVariant(ctx context.Context, variantID string) (domain.Variant, error)
	ListVariants(ctx context.Context, query VariantListQuery) (domain.CursorPage[domain.Variant], error)
	ListMovements(ctx context.Context, filter MovementListFilter) (domain.CursorPage[domain.StockMovement], error)
}

// SystemService provides dependency health reports for probe endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// CreateOrderCommand carries one checkout request.
type CreateOrderCommand struct {
	UserID           string
	Currency         string
	Items            []OrderItemInput
	ShippingAddress  domain.Address
	PaymentReference string
	ActorID          string
}

// OrderItemInput selects a variant and quantity at checkout.
type OrderItemInput struct {
	VariantID string
	Quantity  int64
}

// GetOrderQuery reads one order. Customers can only read their own orders;
// staff reads skip the ownership check.
type GetOrderQuery struct {
	OrderID    string
	ActorID    string
	ActorStaff bool
}

// ListOrdersQuery mirrors the repository filter.
type ListOrdersQuery = repositories.OrderListFilter

// UpdateOrderStatusCommand applies one lifecycle transition.
type UpdateOrderStatusCommand struct {
	OrderID        string
	Status         domain.OrderStatus
	Note           string
	TrackingNumber *string
	Carrier        *string
	ActorID        string
}

// CancelOrderCommand cancels an order on behalf of its owner.
type CancelOrderCommand struct {
	OrderID    string
	ActorID    string
	ActorStaff bool
	Note       string
}

// DeleteOrderCommand soft deletes an order.
type DeleteOrderCommand struct {
	OrderID string
	ActorID string
}

// AdjustStockCommand describes one admin stock change.
type AdjustStockCommand struct {
	VariantID  string
	Change     int64
	Reason     domain.MovementReason
	Note       string
	AllowClamp bool
	ActorID    string
}

// VariantListQuery mirrors the repository query.
type VariantListQuery = repositories.VariantListQuery

// MovementListFilter mirrors the repository filter.
type MovementListFilter = repositories.MovementListFilter

func ensureTimestamp(value, fallback time.Time) time.Time {
	if value.IsZero() {
		return fallback
	}
	return value
}
