package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cedarmarket/api/internal/domain"
	"github.com/cedarmarket/api/internal/platform/auth"
	"github.com/cedarmarket/api/internal/services"
)

type stubOrderService struct {
	createFn func(context.Context, services.CreateOrderCommand) (domain.Order, error)
	getFn    func(context.Context, services.GetOrderQuery) (domain.Order, error)
	listFn   func(context.Context, services.ListOrdersQuery) (domain.CursorPage[domain.Order], error)
	updateFn func(context.Context, services.UpdateOrderStatusCommand) (domain.Order, error)
	cancelFn func(context.Context, services.CancelOrderCommand) (domain.Order, error)
	deleteFn func(context.Context, services.DeleteOrderCommand) error
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.GetOrderQuery) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, query)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, query services.ListOrdersQuery) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (domain.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, cmd services.DeleteOrderCommand) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

func withUser(req *http.Request, uid string, roles ...string) *http.Request {
	if len(roles) == 0 {
		roles = []string{auth.RoleUser}
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func TestOrderHandlersCreateOrderSuccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
			captured = cmd
			paidAt := now
			return domain.Order{
				ID:          "ord_123",
				OrderNumber: "CM-2026-000007",
				UserID:      cmd.UserID,
				Status:      domain.OrderStatusPaid,
				Currency:    "jpy",
				Totals:      domain.OrderTotals{Subtotal: 3900, Total: 3900},
				Items: []domain.OrderLineItem{
					{ID: "itm_1", ProductTitle: "Cedar Mug", Quantity: 2, UnitPrice: 1500, TotalPrice: 3000},
				},
				PlacedAt: now,
				PaidAt:   &paidAt,
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	body := `{
		"currency": "JPY",
		"items": [{"variant_id": "var_mug", "quantity": 2}],
		"shipping_address": {"recipient": "Mika Tanaka", "line1": "2-4-1 Marunouchi", "city": "Tokyo", "postal_code": "100-0005", "country": "JP"},
		"payment_reference": "pay_abc"
	}`
	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(body))
	req = withUser(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" || captured.ActorID != "user-1" {
		t.Fatalf("expected identity forwarded, got %+v", captured)
	}
	if len(captured.Items) != 1 || captured.Items[0].VariantID != "var_mug" || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items: %+v", captured.Items)
	}
	if captured.ShippingAddress.PostalCode != "100-0005" {
		t.Fatalf("unexpected address: %+v", captured.ShippingAddress)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.OrderNumber != "CM-2026-000007" || resp.Order.Status != "paid" {
		t.Fatalf("unexpected order payload: %+v", resp.Order)
	}
	if resp.Order.Currency != "JPY" {
		t.Fatalf("expected currency uppercased, got %s", resp.Order.Currency)
	}
}

func TestOrderHandlersCreateOrderInsufficientStock(t *testing.T) {
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (domain.Order, error) {
			return domain.Order{}, fmt.Errorf("%w: insufficient stock for %q: requested 5, available 2", services.ErrInsufficientStock, "Cedar Plate")
		},
	}

	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	body := `{"items": [{"variant_id": "var_plate", "quantity": 5}], "shipping_address": {"recipient": "A", "line1": "B", "city": "C", "postal_code": "D", "country": "JP"}}`
	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(body))
	req = withUser(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["error"] != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock code, got %v", resp["error"])
	}
}

func TestOrderHandlersCreateOrderRequiresItems(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(`{"items": []}`))
	req = withUser(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersRequireAuthentication(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersForwardsFilter(t *testing.T) {
	var captured services.ListOrdersQuery
	service := &stubOrderService{
		listFn: func(_ context.Context, query services.ListOrdersQuery) (domain.CursorPage[domain.Order], error) {
			captured = query
			return domain.CursorPage[domain.Order]{
				Items: []domain.Order{{
					ID:          "ord_123",
					OrderNumber: "CM-2026-000001",
					Status:      domain.OrderStatusPaid,
					Currency:    "jpy",
					Totals:      domain.OrderTotals{Total: 1300},
					PlacedAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
				}},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders?status=paid,shipped&page_size=10&page_token=tok123&placed_after=2026-03-01T00:00:00Z", nil)
	req = withUser(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected filter scoped to user-1, got %s", captured.UserID)
	}
	if len(captured.Status) != 2 {
		t.Fatalf("expected 2 status filters, got %d", len(captured.Status))
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != "tok123" {
		t.Fatalf("unexpected pagination: %+v", captured.Pagination)
	}
	if captured.PlacedRange.From == nil {
		t.Fatalf("expected placed_after forwarded")
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Currency != "JPY" {
		t.Fatalf("unexpected list payload: %+v", resp)
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token tok-next, got %s", resp.NextPageToken)
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders?status=exploded", nil)
	req = withUser(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersRejectsInvalidPageSize(t *testing.T) {
	handler := NewOrderHandlers(nil, &stubOrderService{})
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	for _, raw := range []string{"0", "-5", "lots"} {
		req := httptest.NewRequest(http.MethodGet, "/orders?page_size="+raw, nil)
		req = withUser(req, "user-1")

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400 for page_size=%s, got %d", raw, rr.Code)
		}
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		getFn: func(context.Context, services.GetOrderQuery) (domain.Order, error) {
			return domain.Order{}, fmt.Errorf("%w: order ord_missing", services.ErrOrderNotFound)
		},
	}
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_missing", nil)
	req = withUser(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrderForbidden(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(context.Context, services.CancelOrderCommand) (domain.Order, error) {
			return domain.Order{}, fmt.Errorf("%w: order ord_1 belongs to another customer", services.ErrOrderForbidden)
		},
	}
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1:cancel", nil)
	req = withUser(req, "user-other")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrderInvalidState(t *testing.T) {
	var captured services.CancelOrderCommand
	service := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
			captured = cmd
			return domain.Order{}, fmt.Errorf("%w: order ord_1 cannot be cancelled from status shipped", services.ErrOrderInvalidState)
		},
	}
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1:cancel", bytes.NewBufferString(`{"note": "changed my mind"}`))
	req = withUser(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if captured.Note != "changed my mind" {
		t.Fatalf("expected note forwarded, got %q", captured.Note)
	}
	if captured.ActorStaff {
		t.Fatalf("customer cancel must not set the staff flag")
	}
}
