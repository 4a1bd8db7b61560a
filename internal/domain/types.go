package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Variant is a purchasable stock-keeping unit of a catalog product.
// QuantityOnHand is mutated only by order creation, cancellation, and
// admin stock adjustments, and never drops below zero.
type Variant struct {
	ID             string
	ProductRef     string
	ProductTitle   string
	VariantTitle   string
	Options        map[string]string
	UnitPrice      int64
	Currency       string
	QuantityOnHand int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MovementReason enumerates the audited causes of a stock quantity change.
type MovementReason string

const (
	// MovementReasonSale records the decrement performed at order creation.
	MovementReasonSale MovementReason = "sale"
	// MovementReasonCancellationReversal records the restore performed at order cancellation.
	MovementReasonCancellationReversal MovementReason = "cancellation_reversal"
	// MovementReasonAdjustment records a manual admin correction of either sign.
	MovementReasonAdjustment MovementReason = "adjustment"
	// MovementReasonRestock records inbound inventory.
	MovementReasonRestock MovementReason = "restock"
	// MovementReasonReturn records customer returns re-entering stock.
	MovementReasonReturn MovementReason = "return"
	// MovementReasonDamage records write-offs for damaged units.
	MovementReasonDamage MovementReason = "damage"
	// MovementReasonCorrection records reconciliation after a stocktake.
	MovementReasonCorrection MovementReason = "correction"
)

// Valid reports whether the reason is one of the known enum values.
func (r MovementReason) Valid() bool {
	switch r {
	case MovementReasonSale, MovementReasonCancellationReversal, MovementReasonAdjustment,
		MovementReasonRestock, MovementReasonReturn, MovementReasonDamage, MovementReasonCorrection:
		return true
	default:
		return false
	}
}

// StockMovement is one immutable entry in the inventory ledger. Invariant:
// QuantityAfter == QuantityBefore + QuantityChange, and QuantityAfter equals
// the variant's QuantityOnHand at the instant the entry was appended.
type StockMovement struct {
	ID             string
	VariantRef     string
	QuantityChange int64
	QuantityBefore int64
	QuantityAfter  int64
	Reason         MovementReason
	OrderRef       *string
	ActorRef       *string
	Note           string
	Clamped        bool
	OccurredAt     time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment succeeded and fulfilment can begin.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusProcessing indicates the order is being prepared for shipment.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled and its stock restored.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the order was refunded after payment.
	OrderStatusRefunded OrderStatus = "refunded"
)

// Valid reports whether the status is one of the known enum values.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status accepts no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// Order captures order headers returned to handlers/services.
type Order struct {
	ID               string
	OrderNumber      string
	UserID           string
	Status           OrderStatus
	Currency         string
	Totals           OrderTotals
	Items            []OrderLineItem
	StatusHistory    []OrderStatusChange
	ShippingAddress  Address
	PaymentReference string
	PaymentStatus    string
	TrackingNumber   *string
	Carrier          *string
	PlacedAt         time.Time
	PaidAt           *time.Time
	ShippedAt        *time.Time
	DeliveredAt      *time.Time
	CancelledAt      *time.Time
	DeletedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
// Shipping and Tax are carried in the model but are zero in the current
// checkout path, so Total always equals Subtotal minus Discount.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Shipping int64
	Tax      int64
	Total    int64
}

// OrderLineItem snapshots a purchased variant at checkout time. VariantRef
// and ProductRef are nullable so the line survives later catalog deletions;
// the captured titles keep historical orders renderable.
type OrderLineItem struct {
	ID           string
	OrderID      string
	VariantRef   *string
	ProductRef   *string
	ProductTitle string
	VariantTitle string
	Quantity     int64
	UnitPrice    int64
	TotalPrice   int64
	Position     int
}

// OrderStatusChange is one append-only entry in an order's status timeline.
// FromStatus is empty for the initial entry written at creation.
type OrderStatusChange struct {
	ID         string
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	Note       string
	ActorRef   *string
	OccurredAt time.Time
}

// Address represents the postal address snapshot captured on an order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// StockAdjustment reports the applied outcome of an admin stock change.
type StockAdjustment struct {
	Variant  Variant
	Movement StockMovement
}

// OrderEvent is published after order mutations commit.
type OrderEvent struct {
	Type        string
	OrderID     string
	OrderNumber string
	UserID      string
	Status      OrderStatus
	OccurredAt  time.Time
	Payload     map[string]any
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	Environment string
	GeneratedAt time.Time
}

// StockEvent is published after ledger appends commit.
type StockEvent struct {
	Type       string
	VariantRef string
	MovementID string
	Change     int64
	After      int64
	Reason     MovementReason
	OrderRef   *string
	OccurredAt time.Time
}
