package repositories

import (
	"context"
	"time"

	domain "github.com/cedarmarket/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Inventory() InventoryRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists the order aggregate (header, items, status
// history) and performs the inventory-coupled create/cancel operations
// inside a single storage transaction.
type OrderRepository interface {
	// CreateWithReservation writes the order, its items, the initial
	// history entry, the per-item stock decrements and one sale movement
	// per item as a single atomic unit. A shortage or missing variant
	// aborts with zero writes.
	CreateWithReservation(ctx context.Context, req OrderCreateRequest) (OrderCreateResult, error)
	// CancelWithReversal flips the order to cancelled, appends the
	// history entry and restores each line item's stock with a
	// cancellation_reversal movement, atomically.
	CancelWithReversal(ctx context.Context, req OrderCancelRequest) (OrderCancelResult, error)
	// UpdateStatus applies a lifecycle transition and appends exactly one
	// history entry. It never touches inventory.
	UpdateStatus(ctx context.Context, req OrderStatusUpdateRequest) (domain.Order, error)
	// FindByID hydrates the order with items and history. Soft-deleted
	// orders are reported as not found.
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	SoftDelete(ctx context.Context, orderID string, actorRef string, deletedAt time.Time) error
}

// OrderCreateRequest carries the fully-built aggregate to persist plus the
// reservation lines the transaction must apply.
type OrderCreateRequest struct {
	Order        domain.Order
	InitialEntry domain.OrderStatusChange
	Reservations []StockReservationLine
	Now          time.Time
}

// StockReservationLine pairs a line item with the decrement it reserves.
type StockReservationLine struct {
	VariantID  string
	Quantity   int64
	MovementID string
}

// OrderCreateResult returns the persisted order and the sale movements written.
type OrderCreateResult struct {
	Order     domain.Order
	Movements []domain.StockMovement
}

// OrderCancelRequest identifies the order to cancel and the reversal metadata.
type OrderCancelRequest struct {
	OrderID     string
	ActorRef    *string
	Note        string
	MovementIDs map[string]string
	EntryID     string
	Now         time.Time
}

// OrderCancelResult returns the cancelled order and the reversal movements written.
type OrderCancelResult struct {
	Order     domain.Order
	Movements []domain.StockMovement
}

// OrderStatusUpdateRequest carries one lifecycle transition.
type OrderStatusUpdateRequest struct {
	OrderID        string
	NewStatus      domain.OrderStatus
	Note           string
	TrackingNumber *string
	Carrier        *string
	ActorRef       *string
	EntryID        string
	Now            time.Time
}

// OrderListFilter controls pagination and filtering for order listings.
// Soft-deleted orders are excluded unless IncludeDeleted is set.
type OrderListFilter struct {
	UserID         string
	Status         []domain.OrderStatus
	PlacedRange    domain.RangeQuery[time.Time]
	NumberPrefix   string
	IncludeDeleted bool
	Pagination     domain.Pagination
}

// InventoryRepository manages variant stock levels and the append-only
// movement ledger with transactional guarantees.
type InventoryRepository interface {
	// Adjust applies one quantity change and appends its ledger entry in
	// a single transaction. Decrements below zero either clamp (when the
	// request allows it) or fail with a conflict.
	Adjust(ctx context.Context, req StockAdjustRequest) (domain.StockAdjustment, error)
	// AdjustBulk applies every adjustment in one transaction; any failure
	// rolls back all of them.
	AdjustBulk(ctx context.Context, reqs []StockAdjustRequest) ([]domain.StockAdjustment, error)
	GetVariant(ctx context.Context, variantID string) (domain.Variant, error)
	ListVariants(ctx context.Context, query VariantListQuery) (domain.CursorPage[domain.Variant], error)
	ListMovements(ctx context.Context, filter MovementListFilter) (domain.CursorPage[domain.StockMovement], error)
}

// StockAdjustRequest describes one admin-driven quantity change.
type StockAdjustRequest struct {
	MovementID string
	VariantID  string
	Change     int64
	Reason     domain.MovementReason
	OrderRef   *string
	ActorRef   *string
	Note       string
	AllowClamp bool
	Now        time.Time
}

// VariantListQuery controls pagination and threshold filtering for stock listings.
type VariantListQuery struct {
	ProductRef  string
	MaxQuantity *int64
	PageSize    int
	PageToken   string
}

// MovementListFilter controls pagination and filtering for ledger listings.
type MovementListFilter struct {
	VariantRef string
	OrderRef   string
	Reasons    []domain.MovementReason
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
