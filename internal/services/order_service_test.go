package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/cedarmarket/api/internal/domain"
	"github.com/cedarmarket/api/internal/repositories"
)

type stubOrders struct {
	mu            sync.Mutex
	createFn      func(context.Context, repositories.OrderCreateRequest) (repositories.OrderCreateResult, error)
	cancelFn      func(context.Context, repositories.OrderCancelRequest) (repositories.OrderCancelResult, error)
	updateFn      func(context.Context, repositories.OrderStatusUpdateRequest) (domain.Order, error)
	findFn        func(context.Context, string) (domain.Order, error)
	listFn        func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	softDeleteFn  func(context.Context, string, string, time.Time) error
	createCalls   []repositories.OrderCreateRequest
	cancelCalls   []repositories.OrderCancelRequest
	updateCalls   []repositories.OrderStatusUpdateRequest
	deletedOrders []string
}

func (s *stubOrders) CreateWithReservation(ctx context.Context, req repositories.OrderCreateRequest) (repositories.OrderCreateResult, error) {
	s.mu.Lock()
	s.createCalls = append(s.createCalls, req)
	s.mu.Unlock()
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return repositories.OrderCreateResult{Order: req.Order}, nil
}

func (s *stubOrders) CancelWithReversal(ctx context.Context, req repositories.OrderCancelRequest) (repositories.OrderCancelResult, error) {
	s.mu.Lock()
	s.cancelCalls = append(s.cancelCalls, req)
	s.mu.Unlock()
	if s.cancelFn != nil {
		return s.cancelFn(ctx, req)
	}
	return repositories.OrderCancelResult{}, nil
}

func (s *stubOrders) UpdateStatus(ctx context.Context, req repositories.OrderStatusUpdateRequest) (domain.Order, error) {
	s.mu.Lock()
	s.updateCalls = append(s.updateCalls, req)
	s.mu.Unlock()
	if s.updateFn != nil {
		return s.updateFn(ctx, req)
	}
	return domain.Order{}, nil
}

func (s *stubOrders) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, nil
}

func (s *stubOrders) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrders) SoftDelete(ctx context.Context, orderID string, actorRef string, deletedAt time.Time) error {
	s.mu.Lock()
	s.deletedOrders = append(s.deletedOrders, orderID)
	s.mu.Unlock()
	if s.softDeleteFn != nil {
		return s.softDeleteFn(ctx, orderID, actorRef, deletedAt)
	}
	return nil
}

type stubInventory struct {
	adjustBulkFn func(context.Context, []repositories.StockAdjustRequest) ([]domain.StockAdjustment, error)
	getVariantFn func(context.Context, string) (domain.Variant, error)
	listVarFn    func(context.Context, repositories.VariantListQuery) (domain.CursorPage[domain.Variant], error)
	listMovFn    func(context.Context, repositories.MovementListFilter) (domain.CursorPage[domain.StockMovement], error)

	mu              sync.Mutex
	adjustBulkCalls [][]repositories.StockAdjustRequest
}

func (s *stubInventory) Adjust(ctx context.Context, req repositories.StockAdjustRequest) (domain.StockAdjustment, error) {
	results, err := s.AdjustBulk(ctx, []repositories.StockAdjustRequest{req})
	if err != nil {
		return domain.StockAdjustment{}, err
	}
	return results[0], nil
}

func (s *stubInventory) AdjustBulk(ctx context.Context, reqs []repositories.StockAdjustRequest) ([]domain.StockAdjustment, error) {
	s.mu.Lock()
	s.adjustBulkCalls = append(s.adjustBulkCalls, reqs)
	s.mu.Unlock()
	if s.adjustBulkFn != nil {
		return s.adjustBulkFn(ctx, reqs)
	}
	return nil, nil
}

func (s *stubInventory) GetVariant(ctx context.Context, variantID string) (domain.Variant, error) {
	if s.getVariantFn != nil {
		return s.getVariantFn(ctx, variantID)
	}
	return domain.Variant{}, nil
}

func (s *stubInventory) ListVariants(ctx context.Context, query repositories.VariantListQuery) (domain.CursorPage[domain.Variant], error) {
	if s.listVarFn != nil {
		return s.listVarFn(ctx, query)
	}
	return domain.CursorPage[domain.Variant]{}, nil
}

func (s *stubInventory) ListMovements(ctx context.Context, filter repositories.MovementListFilter) (domain.CursorPage[domain.StockMovement], error) {
	if s.listMovFn != nil {
		return s.listMovFn(ctx, filter)
	}
	return domain.CursorPage[domain.StockMovement]{}, nil
}

type stubCounters struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounters) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

func (s *stubCounters) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	return nil
}

type capturePublisher struct {
	mu          sync.Mutex
	orderEvents []domain.OrderEvent
	stockEvents []domain.StockEvent
	failWith    error
}

func (p *capturePublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error) {
	p.mu.Lock()
	p.orderEvents = append(p.orderEvents, event)
	p.mu.Unlock()
	if p.failWith != nil {
		return "", p.failWith
	}
	return "msg-1", nil
}

func (p *capturePublisher) PublishStockEvent(ctx context.Context, event domain.StockEvent) (string, error) {
	p.mu.Lock()
	p.stockEvents = append(p.stockEvents, event)
	p.mu.Unlock()
	if p.failWith != nil {
		return "", p.failWith
	}
	return "msg-1", nil
}

func sequentialIDs() func() string {
	var seq int
	return func() string {
		seq++
		return fmt.Sprintf("%026d", seq)
	}
}

func testClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testAddress() domain.Address {
	return domain.Address{
		Recipient:  "Mika Tanaka",
		Line1:      "2-4-1 Marunouchi",
		City:       "Tokyo",
		PostalCode: "100-0005",
		Country:    "JP",
	}
}

func newOrderServiceForTest(t *testing.T, orders *stubOrders, inventory *stubInventory, counters *stubCounters, publisher *capturePublisher) OrderService {
	t.Helper()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      orders,
		Inventory:   inventory,
		Counters:    counters,
		Clock:       testClock(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)),
		IDGenerator: sequentialIDs(),
		Events:      publisher,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func TestCreateOrderReservesStockAndPublishes(t *testing.T) {
	inventory := &stubInventory{
		getVariantFn: func(_ context.Context, variantID string) (domain.Variant, error) {
			switch variantID {
			case "var_mug":
				return domain.Variant{ID: variantID, ProductRef: "prod_mug", ProductTitle: "Cedar Mug", VariantTitle: "350ml", UnitPrice: 1500, Currency: "JPY", QuantityOnHand: 10}, nil
			case "var_plate":
				return domain.Variant{ID: variantID, ProductRef: "prod_plate", ProductTitle: "Cedar Plate", VariantTitle: "Large", UnitPrice: 900, Currency: "JPY", QuantityOnHand: 4}, nil
			default:
				return domain.Variant{}, repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, "", nil)
			}
		},
	}
	orders := &stubOrders{}
	counters := &stubCounters{nextFn: func(_ context.Context, counterID string, step int64) (int64, error) {
		if counterID != "orders" || step != 1 {
			return 0, fmt.Errorf("unexpected counter request %s/%d", counterID, step)
		}
		return 7, nil
	}}
	publisher := &capturePublisher{}
	svc := newOrderServiceForTest(t, orders, inventory, counters, publisher)

	order, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID: "user_1",
		Items: []OrderItemInput{
			{VariantID: "var_mug", Quantity: 2},
			{VariantID: "var_plate", Quantity: 1},
		},
		ShippingAddress:  testAddress(),
		PaymentReference: "pay_abc",
		ActorID:          "user_1",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if order.OrderNumber != "CM-2026-000007" {
		t.Fatalf("expected order number CM-2026-000007, got %s", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected status paid, got %s", order.Status)
	}
	if order.Totals.Subtotal != 3900 || order.Totals.Total != 3900 {
		t.Fatalf("expected subtotal/total 3900, got %+v", order.Totals)
	}
	if order.PaidAt == nil || !order.PaidAt.Equal(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected paidAt stamped with the clock, got %v", order.PaidAt)
	}
	if order.PaymentStatus != "captured" {
		t.Fatalf("expected payment status captured, got %s", order.PaymentStatus)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}
	if order.Items[0].TotalPrice != 3000 || order.Items[0].Position != 0 {
		t.Fatalf("unexpected first line: %+v", order.Items[0])
	}
	if order.Items[1].ProductTitle != "Cedar Plate" {
		t.Fatalf("expected snapshotted product title, got %s", order.Items[1].ProductTitle)
	}

	if len(orders.createCalls) != 1 {
		t.Fatalf("expected one reservation call, got %d", len(orders.createCalls))
	}
	req := orders.createCalls[0]
	if len(req.Reservations) != 2 {
		t.Fatalf("expected 2 reservation lines, got %d", len(req.Reservations))
	}
	if req.Reservations[0].VariantID != "var_mug" || req.Reservations[0].Quantity != 2 {
		t.Fatalf("unexpected reservation line: %+v", req.Reservations[0])
	}
	if !strings.HasPrefix(req.Reservations[0].MovementID, "mov_") {
		t.Fatalf("expected mov_ movement id, got %s", req.Reservations[0].MovementID)
	}
	if req.InitialEntry.ToStatus != domain.OrderStatusPaid || req.InitialEntry.FromStatus != "" {
		t.Fatalf("unexpected initial history entry: %+v", req.InitialEntry)
	}
	if !strings.HasPrefix(req.InitialEntry.ID, "hist_") {
		t.Fatalf("expected hist_ entry id, got %s", req.InitialEntry.ID)
	}

	if len(publisher.orderEvents) != 1 {
		t.Fatalf("expected one published event, got %d", len(publisher.orderEvents))
	}
	event := publisher.orderEvents[0]
	if event.Type != "orders.order.created" || event.OrderNumber != "CM-2026-000007" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestCreateOrderRejectsDuplicateVariant(t *testing.T) {
	inventory := &stubInventory{
		getVariantFn: func(_ context.Context, variantID string) (domain.Variant, error) {
			return domain.Variant{ID: variantID, UnitPrice: 100, Currency: "JPY"}, nil
		},
	}
	orders := &stubOrders{}
	svc := newOrderServiceForTest(t, orders, inventory, &stubCounters{}, &capturePublisher{})

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID: "user_1",
		Items: []OrderItemInput{
			{VariantID: "var_mug", Quantity: 1},
			{VariantID: "var_mug", Quantity: 2},
		},
		ShippingAddress: testAddress(),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(orders.createCalls) != 0 {
		t.Fatalf("expected no reservation attempt, got %d", len(orders.createCalls))
	}
}

func TestCreateOrderInsufficientStockAbortsAll(t *testing.T) {
	inventory := &stubInventory{
		getVariantFn: func(_ context.Context, variantID string) (domain.Variant, error) {
			return domain.Variant{ID: variantID, ProductTitle: "Cedar Plate", UnitPrice: 900, Currency: "JPY", QuantityOnHand: 2}, nil
		},
	}
	orders := &stubOrders{
		createFn: func(context.Context, repositories.OrderCreateRequest) (repositories.OrderCreateResult, error) {
			return repositories.OrderCreateResult{}, &repositories.StockShortageError{
				VariantID:    "var_plate",
				ProductTitle: "Cedar Plate",
				Requested:    5,
				Available:    2,
			}
		},
	}
	publisher := &capturePublisher{}
	svc := newOrderServiceForTest(t, orders, inventory, &stubCounters{}, publisher)

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:          "user_1",
		Items:           []OrderItemInput{{VariantID: "var_plate", Quantity: 5}},
		ShippingAddress: testAddress(),
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !strings.Contains(err.Error(), "Cedar Plate") || !strings.Contains(err.Error(), "available 2") {
		t.Fatalf("expected shortage details in message, got %q", err.Error())
	}
	if len(publisher.orderEvents) != 0 {
		t.Fatalf("expected no event after aborted checkout, got %d", len(publisher.orderEvents))
	}
}

func TestCreateOrderRejectsCurrencyMismatch(t *testing.T) {
	inventory := &stubInventory{
		getVariantFn: func(_ context.Context, variantID string) (domain.Variant, error) {
			if variantID == "var_mug" {
				return domain.Variant{ID: variantID, UnitPrice: 1500, Currency: "JPY"}, nil
			}
			return domain.Variant{ID: variantID, UnitPrice: 10, Currency: "USD"}, nil
		},
	}
	svc := newOrderServiceForTest(t, &stubOrders{}, inventory, &stubCounters{}, &capturePublisher{})

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID: "user_1",
		Items: []OrderItemInput{
			{VariantID: "var_mug", Quantity: 1},
			{VariantID: "var_import", Quantity: 1},
		},
		ShippingAddress: testAddress(),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetOrderHidesForeignOrders(t *testing.T) {
	orders := &stubOrders{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user_owner", Status: domain.OrderStatusPaid}, nil
		},
	}
	svc := newOrderServiceForTest(t, orders, &stubInventory{}, &stubCounters{}, &capturePublisher{})

	_, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord_1", ActorID: "user_other"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for foreign order, got %v", err)
	}

	order, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord_1", ActorID: "admin_1", ActorStaff: true})
	if err != nil {
		t.Fatalf("staff read: %v", err)
	}
	if order.UserID != "user_owner" {
		t.Fatalf("expected owner preserved, got %s", order.UserID)
	}
}

func TestUpdateStatusAppendsHistoryEvenWhenRepeated(t *testing.T) {
	orders := &stubOrders{
		updateFn: func(_ context.Context, req repositories.OrderStatusUpdateRequest) (domain.Order, error) {
			return domain.Order{
				ID:     req.OrderID,
				Status: req.NewStatus,
				StatusHistory: []domain.OrderStatusChange{{
					ID:         req.EntryID,
					FromStatus: domain.OrderStatusProcessing,
					ToStatus:   req.NewStatus,
					OccurredAt: req.Now,
				}},
			}, nil
		},
	}
	publisher := &capturePublisher{}
	svc := newOrderServiceForTest(t, orders, &stubInventory{}, &stubCounters{}, publisher)

	for i := 0; i < 2; i++ {
		if _, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
			OrderID: "ord_1",
			Status:  domain.OrderStatusProcessing,
			ActorID: "admin_1",
		}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	if len(orders.updateCalls) != 2 {
		t.Fatalf("expected two history appends, got %d", len(orders.updateCalls))
	}
	if orders.updateCalls[0].EntryID == orders.updateCalls[1].EntryID {
		t.Fatalf("expected distinct history entry ids, both were %s", orders.updateCalls[0].EntryID)
	}
	if len(publisher.orderEvents) != 2 || publisher.orderEvents[0].Type != "orders.order.status_changed" {
		t.Fatalf("unexpected events: %+v", publisher.orderEvents)
	}
}

func TestUpdateStatusRejectsTerminalAndUnknown(t *testing.T) {
	orders := &stubOrders{
		updateFn: func(context.Context, repositories.OrderStatusUpdateRequest) (domain.Order, error) {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidState, "order ord_1 is cancelled", nil)
		},
	}
	svc := newOrderServiceForTest(t, orders, &stubInventory{}, &stubCounters{}, &capturePublisher{})

	_, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord_1", Status: domain.OrderStatusShipped})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord_1", Status: "exploded"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestCancelOrderRestoresStockForOwner(t *testing.T) {
	variantRef := "var_mug"
	orders := &stubOrders{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:     orderID,
				UserID: "user_1",
				Status: domain.OrderStatusPaid,
				Items: []domain.OrderLineItem{
					{ID: "itm_1", VariantRef: &variantRef, Quantity: 2},
				},
			}, nil
		},
		cancelFn: func(_ context.Context, req repositories.OrderCancelRequest) (repositories.OrderCancelResult, error) {
			return repositories.OrderCancelResult{
				Order: domain.Order{ID: req.OrderID, Status: domain.OrderStatusCancelled},
				Movements: []domain.StockMovement{{
					ID:             req.MovementIDs[variantRef],
					VariantRef:     variantRef,
					QuantityChange: 2,
					Reason:         domain.MovementReasonCancellationReversal,
				}},
			}, nil
		},
	}
	publisher := &capturePublisher{}
	svc := newOrderServiceForTest(t, orders, &stubInventory{}, &stubCounters{}, publisher)

	order, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_1", ActorID: "user_1"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}

	if len(orders.cancelCalls) != 1 {
		t.Fatalf("expected one cancel call, got %d", len(orders.cancelCalls))
	}
	req := orders.cancelCalls[0]
	if !strings.HasPrefix(req.MovementIDs[variantRef], "mov_") {
		t.Fatalf("expected reversal movement id for %s, got %q", variantRef, req.MovementIDs[variantRef])
	}
	if len(publisher.orderEvents) != 1 || publisher.orderEvents[0].Type != "orders.order.cancelled" {
		t.Fatalf("unexpected events: %+v", publisher.orderEvents)
	}
}

func TestCancelOrderForbiddenForOtherCustomer(t *testing.T) {
	orders := &stubOrders{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user_owner", Status: domain.OrderStatusPending}, nil
		},
	}
	svc := newOrderServiceForTest(t, orders, &stubInventory{}, &stubCounters{}, &capturePublisher{})

	_, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_1", ActorID: "user_other"})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if len(orders.cancelCalls) != 0 {
		t.Fatalf("expected no cancel attempt, got %d", len(orders.cancelCalls))
	}
}

func TestCancelOrderRejectsShippedOrders(t *testing.T) {
	orders := &stubOrders{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user_1", Status: domain.OrderStatusShipped}, nil
		},
	}
	svc := newOrderServiceForTest(t, orders, &stubInventory{}, &stubCounters{}, &capturePublisher{})

	_, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_1", ActorID: "user_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestDeleteOrderSoftDeletes(t *testing.T) {
	orders := &stubOrders{}
	svc := newOrderServiceForTest(t, orders, &stubInventory{}, &stubCounters{}, &capturePublisher{})

	if err := svc.DeleteOrder(context.Background(), DeleteOrderCommand{OrderID: "ord_1", ActorID: "admin_1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(orders.deletedOrders) != 1 || orders.deletedOrders[0] != "ord_1" {
		t.Fatalf("expected soft delete of ord_1, got %v", orders.deletedOrders)
	}
}
