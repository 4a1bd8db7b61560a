package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/cedarmarket/api/internal/domain"
	"github.com/cedarmarket/api/internal/platform/auth"
	"github.com/cedarmarket/api/internal/services"
)

func newAdminOrderRouter(service services.OrderService) chi.Router {
	handler := NewAdminOrderHandlers(nil, nil, service)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func TestAdminOrderHandlersUpdateStatus(t *testing.T) {
	var captured services.UpdateOrderStatusCommand
	service := &stubOrderService{
		updateFn: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (domain.Order, error) {
			captured = cmd
			return domain.Order{ID: cmd.OrderID, Status: cmd.Status}, nil
		},
	}
	router := newAdminOrderRouter(service)

	body := `{"status": "shipped", "note": "left the warehouse", "tracking_number": "TRK-1", "carrier": "yamato"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1:updateStatus", bytes.NewBufferString(body))
	req = withUser(req, "staff-1", auth.RoleStaff)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Status != domain.OrderStatusShipped || captured.Note != "left the warehouse" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.TrackingNumber == nil || *captured.TrackingNumber != "TRK-1" {
		t.Fatalf("expected tracking number forwarded, got %v", captured.TrackingNumber)
	}
	if captured.ActorID != "staff-1" {
		t.Fatalf("expected actor staff-1, got %s", captured.ActorID)
	}
}

func TestAdminOrderHandlersUpdateStatusRejectsUnknown(t *testing.T) {
	router := newAdminOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1:updateStatus", bytes.NewBufferString(`{"status": "exploded"}`))
	req = withUser(req, "staff-1", auth.RoleStaff)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersUpdateStatusTerminalConflict(t *testing.T) {
	service := &stubOrderService{
		updateFn: func(context.Context, services.UpdateOrderStatusCommand) (domain.Order, error) {
			return domain.Order{}, fmt.Errorf("%w: order ord_1 is cancelled", services.ErrOrderInvalidState)
		},
	}
	router := newAdminOrderRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1:updateStatus", bytes.NewBufferString(`{"status": "shipped"}`))
	req = withUser(req, "staff-1", auth.RoleStaff)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["error"] != "invalid_state" {
		t.Fatalf("expected invalid_state code, got %v", resp["error"])
	}
}

func TestAdminOrderHandlersListForwardsAdminFilters(t *testing.T) {
	var captured services.ListOrdersQuery
	service := &stubOrderService{
		listFn: func(_ context.Context, query services.ListOrdersQuery) (domain.CursorPage[domain.Order], error) {
			captured = query
			return domain.CursorPage[domain.Order]{}, nil
		},
	}
	router := newAdminOrderRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/admin/orders?user_id=user-9&number_prefix=CM-2026&include_deleted=true", nil)
	req = withUser(req, "staff-1", auth.RoleStaff)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user-9" || captured.NumberPrefix != "CM-2026" || !captured.IncludeDeleted {
		t.Fatalf("unexpected filter: %+v", captured)
	}
}

func TestAdminOrderHandlersListRejectsPrefixWithDateRange(t *testing.T) {
	router := newAdminOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/admin/orders?number_prefix=CM-2026&placed_after=2026-01-01T00:00:00Z", nil)
	req = withUser(req, "staff-1", auth.RoleStaff)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersDeleteRequiresAdminRole(t *testing.T) {
	var deleted bool
	service := &stubOrderService{
		deleteFn: func(context.Context, services.DeleteOrderCommand) error {
			deleted = true
			return nil
		},
	}
	router := newAdminOrderRouter(service)

	req := httptest.NewRequest(http.MethodDelete, "/admin/orders/ord_1", nil)
	req = withUser(req, "staff-1", auth.RoleStaff)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for staff delete, got %d", rr.Code)
	}
	if deleted {
		t.Fatalf("delete must not run without permission")
	}

	req = httptest.NewRequest(http.MethodDelete, "/admin/orders/ord_1", nil)
	req = withUser(req, "admin-1", auth.RoleAdmin)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 for admin delete, got %d", rr.Code)
	}
	if !deleted {
		t.Fatalf("expected delete to run")
	}
}

func TestAdminOrderHandlersStaffCancelAnyOrder(t *testing.T) {
	var captured services.CancelOrderCommand
	service := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
			captured = cmd
			return domain.Order{ID: cmd.OrderID, Status: domain.OrderStatusCancelled}, nil
		},
	}
	router := newAdminOrderRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1:cancel", nil)
	req = withUser(req, "staff-1", auth.RoleStaff)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !captured.ActorStaff {
		t.Fatalf("staff cancel must set the staff flag")
	}
}
