package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cedarmarket/api/internal/domain"
	"github.com/cedarmarket/api/internal/repositories"
)

const (
	orderEventCreated       = "orders.order.created"
	orderEventCancelled     = "orders.order.cancelled"
	orderEventStatusChanged = "orders.order.status_changed"

	orderIDPrefix    = "ord_"
	itemIDPrefix     = "itm_"
	movementIDPrefix = "mov_"
	historyIDPrefix  = "hist_"

	orderNumberCounter = "orders"
	orderNumberFormat  = "CM-%04d-%06d"

	paymentStatusCaptured = "captured"
)

var (
	// ErrOrderNotFound indicates the order could not be located or was soft deleted.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates the requested transition is not allowed.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates concurrent modification or duplicate writes.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrInsufficientStock indicates a checkout line exceeds availability.
	ErrInsufficientStock = errors.New("order: insufficient stock")
	// ErrVariantNotFound indicates a checkout line references an unknown variant.
	ErrVariantNotFound = errors.New("order: variant not found")
)

// Statuses a customer may cancel from. Fulfilment has not started yet in
// either of them.
var customerCancellableStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusPending: true,
	domain.OrderStatusPaid:    true,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Inventory   repositories.InventoryRepository
	Counters    repositories.CounterRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      Logger
}

type orderService struct {
	orders    repositories.OrderRepository
	inventory repositories.InventoryRepository
	counters  repositories.CounterRepository
	clock     func() time.Time
	newID     func() string
	events    EventPublisher
	logger    Logger
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		inventory: deps.Inventory,
		counters:  deps.Counters,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// CreateOrder runs the checkout: it snapshots variant pricing, sequences an
// order number, and persists the order together with the stock decrements in
// one transaction. Payment has already been captured externally; the order
// is born paid.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Order{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if len(cmd.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.VariantID) == "" {
			return domain.Order{}, fmt.Errorf("%w: item %d is missing a variant", ErrValidation, i)
		}
		if item.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("%w: item %d needs a positive quantity", ErrValidation, i)
		}
	}
	if err := validateAddress(cmd.ShippingAddress); err != nil {
		return domain.Order{}, err
	}

	now := s.clock()
	orderID := orderIDPrefix + s.newID()

	// Pricing and titles are snapshotted from the variants up front; the
	// authoritative availability check happens inside the repository
	// transaction against the quantities read there.
	currency := strings.TrimSpace(cmd.Currency)
	items := make([]domain.OrderLineItem, 0, len(cmd.Items))
	reservations := make([]repositories.StockReservationLine, 0, len(cmd.Items))
	var subtotal int64
	seen := make(map[string]bool, len(cmd.Items))
	for i, input := range cmd.Items {
		variantID := strings.TrimSpace(input.VariantID)
		if seen[variantID] {
			return domain.Order{}, fmt.Errorf("%w: variant %s appears more than once", ErrValidation, variantID)
		}
		seen[variantID] = true

		variant, err := s.inventory.GetVariant(ctx, variantID)
		if err != nil {
			return domain.Order{}, s.mapOrderError(err)
		}
		if currency == "" {
			currency = variant.Currency
		} else if variant.Currency != "" && !strings.EqualFold(variant.Currency, currency) {
			return domain.Order{}, fmt.Errorf("%w: variant %s is priced in %s, order currency is %s", ErrValidation, variantID, variant.Currency, currency)
		}

		lineTotal := variant.UnitPrice * input.Quantity
		subtotal += lineTotal

		ref := variantID
		productRef := variant.ProductRef
		items = append(items, domain.OrderLineItem{
			ID:           itemIDPrefix + s.newID(),
			OrderID:      orderID,
			VariantRef:   &ref,
			ProductRef:   &productRef,
			ProductTitle: variant.ProductTitle,
			VariantTitle: variant.VariantTitle,
			Quantity:     input.Quantity,
			UnitPrice:    variant.UnitPrice,
			TotalPrice:   lineTotal,
			Position:     i,
		})
		reservations = append(reservations, repositories.StockReservationLine{
			VariantID:  variantID,
			Quantity:   input.Quantity,
			MovementID: movementIDPrefix + s.newID(),
		})
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return domain.Order{}, err
	}

	paidAt := now
	order := domain.Order{
		ID:          orderID,
		OrderNumber: number,
		UserID:      userID,
		Status:      domain.OrderStatusPaid,
		Currency:    currency,
		Totals: domain.OrderTotals{
			Subtotal: subtotal,
			Total:    subtotal,
		},
		Items:            items,
		ShippingAddress:  cmd.ShippingAddress,
		PaymentReference: strings.TrimSpace(cmd.PaymentReference),
		PaymentStatus:    paymentStatusCaptured,
		PlacedAt:         now,
		PaidAt:           &paidAt,
	}

	result, err := s.orders.CreateWithReservation(ctx, repositories.OrderCreateRequest{
		Order: order,
		InitialEntry: domain.OrderStatusChange{
			ID:         historyIDPrefix + s.newID(),
			OrderID:    orderID,
			ToStatus:   domain.OrderStatusPaid,
			ActorRef:   actorRef(cmd.ActorID),
			OccurredAt: now,
		},
		Reservations: reservations,
		Now:          now,
	})
	if err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}

	s.logger(ctx, "order.created", map[string]any{
		"order_id":     result.Order.ID,
		"order_number": result.Order.OrderNumber,
		"user_id":      userID,
		"total":        result.Order.Totals.Total,
		"items":        len(result.Order.Items),
	})
	s.publishOrderEvent(ctx, domain.OrderEvent{
		Type:        orderEventCreated,
		OrderID:     result.Order.ID,
		OrderNumber: result.Order.OrderNumber,
		UserID:      userID,
		Status:      result.Order.Status,
		OccurredAt:  now,
		Payload: map[string]any{
			"total":    result.Order.Totals.Total,
			"currency": result.Order.Currency,
			"items":    len(result.Order.Items),
		},
	})

	return result.Order, nil
}

// GetOrder reads one order with items and history. Customers only see their
// own orders; an order owned by someone else reads as not found to avoid
// leaking its existence.
func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (domain.Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}
	if !query.ActorStaff && order.UserID != strings.TrimSpace(query.ActorID) {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[domain.Order], error) {
	page, err := s.orders.List(ctx, query)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapOrderError(err)
	}
	return page, nil
}

// UpdateStatus applies one admin-driven lifecycle transition. The state
// machine is permissive: any transition is allowed except out of a terminal
// status. Repeating the current status is allowed and appends another
// history entry; callers that need exactly-once semantics must not retry
// blindly. Setting cancelled here does not restore stock; the cancel
// operation owns the reversal.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if !cmd.Status.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", ErrValidation, cmd.Status)
	}
	now := s.clock()
	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdateRequest{
		OrderID:        orderID,
		NewStatus:      cmd.Status,
		Note:           cmd.Note,
		TrackingNumber: cmd.TrackingNumber,
		Carrier:        cmd.Carrier,
		ActorRef:       actorRef(cmd.ActorID),
		EntryID:        historyIDPrefix + s.newID(),
		Now:            now,
	})
	if err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}

	s.logger(ctx, "order.status.updated", map[string]any{
		"order_id": updated.ID,
		"status":   string(updated.Status),
	})
	s.publishOrderEvent(ctx, domain.OrderEvent{
		Type:        orderEventStatusChanged,
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		UserID:      updated.UserID,
		Status:      updated.Status,
		OccurredAt:  now,
	})

	return updated, nil
}

// CancelOrder cancels on behalf of the actor and restores the reserved
// stock. Ownership is checked first, so a foreign order yields forbidden
// rather than invalid state.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}
	if !cmd.ActorStaff && order.UserID != strings.TrimSpace(cmd.ActorID) {
		return domain.Order{}, fmt.Errorf("%w: order %s belongs to another customer", ErrOrderForbidden, orderID)
	}
	if !customerCancellableStatuses[order.Status] {
		return domain.Order{}, fmt.Errorf("%w: order %s cannot be cancelled from status %s", ErrOrderInvalidState, orderID, order.Status)
	}

	movementIDs := make(map[string]string)
	for _, item := range order.Items {
		if item.VariantRef == nil {
			continue
		}
		if _, ok := movementIDs[*item.VariantRef]; !ok {
			movementIDs[*item.VariantRef] = movementIDPrefix + s.newID()
		}
	}

	now := s.clock()
	result, err := s.orders.CancelWithReversal(ctx, repositories.OrderCancelRequest{
		OrderID:     orderID,
		ActorRef:    actorRef(cmd.ActorID),
		Note:        cmd.Note,
		MovementIDs: movementIDs,
		EntryID:     historyIDPrefix + s.newID(),
		Now:         now,
	})
	if err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}

	s.logger(ctx, "order.cancelled", map[string]any{
		"order_id": result.Order.ID,
		"restored": len(result.Movements),
		"actor_id": strings.TrimSpace(cmd.ActorID),
	})
	s.publishOrderEvent(ctx, domain.OrderEvent{
		Type:        orderEventCancelled,
		OrderID:     result.Order.ID,
		OrderNumber: result.Order.OrderNumber,
		UserID:      result.Order.UserID,
		Status:      result.Order.Status,
		OccurredAt:  now,
		Payload: map[string]any{
			"restored_lines": len(result.Movements),
		},
	})

	return result.Order, nil
}

// DeleteOrder soft deletes the order. The documents stay queryable for
// audits via the repository's include-deleted listing.
func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrValidation)
	}

	now := s.clock()
	if err := s.orders.SoftDelete(ctx, orderID, strings.TrimSpace(cmd.ActorID), now); err != nil {
		return s.mapOrderError(err)
	}

	s.logger(ctx, "order.deleted", map[string]any{
		"order_id": orderID,
		"actor_id": strings.TrimSpace(cmd.ActorID),
	})
	return nil
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(orderNumberFormat, now.Year(), seq), nil
}

func (s *orderService) mapOrderError(err error) error {
	if err == nil {
		return nil
	}

	var shortage *repositories.StockShortageError
	if errors.As(err, &shortage) {
		return fmt.Errorf("%w: %s", ErrInsufficientStock, shortage.Error())
	}

	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repositories.OrderErrorInvalidState:
			return fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
		case repositories.OrderErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorVariantNotFound:
			return fmt.Errorf("%w: %v", ErrVariantNotFound, err)
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %v", ErrInsufficientStock, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}

	return err
}

func (s *orderService) publishOrderEvent(ctx context.Context, event domain.OrderEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":     event.Type,
			"order_id": event.OrderID,
			"error":    err.Error(),
		})
	}
}

func validateAddress(addr domain.Address) error {
	switch {
	case strings.TrimSpace(addr.Recipient) == "":
		return fmt.Errorf("%w: shipping address needs a recipient", ErrValidation)
	case strings.TrimSpace(addr.Line1) == "":
		return fmt.Errorf("%w: shipping address needs a street line", ErrValidation)
	case strings.TrimSpace(addr.City) == "":
		return fmt.Errorf("%w: shipping address needs a city", ErrValidation)
	case strings.TrimSpace(addr.PostalCode) == "":
		return fmt.Errorf("%w: shipping address needs a postal code", ErrValidation)
	case strings.TrimSpace(addr.Country) == "":
		return fmt.Errorf("%w: shipping address needs a country", ErrValidation)
	}
	return nil
}

func actorRef(actorID string) *string {
	trimmed := strings.TrimSpace(actorID)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
