package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/cedarmarket/api/internal/domain"
	"github.com/cedarmarket/api/internal/platform/auth"
	"github.com/cedarmarket/api/internal/platform/httpx"
	"github.com/cedarmarket/api/internal/services"
)

type updateOrderStatusRequest struct {
	Status         string  `json:"status"`
	Note           string  `json:"note"`
	TrackingNumber *string `json:"tracking_number"`
	Carrier        *string `json:"carrier"`
}

// AdminOrderHandlers exposes the staff order endpoints under /admin/orders.
type AdminOrderHandlers struct {
	authn      *auth.Authenticator
	authorizer auth.Authorizer
	orders     services.OrderService
}

// NewAdminOrderHandlers constructs a new AdminOrderHandlers instance.
func NewAdminOrderHandlers(authn *auth.Authenticator, authorizer auth.Authorizer, orders services.OrderService) *AdminOrderHandlers {
	if authorizer == nil {
		authorizer = auth.DefaultAuthorizer()
	}
	return &AdminOrderHandlers{
		authn:      authn,
		authorizer: authorizer,
		orders:     orders,
	}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Route("/orders", func(group chi.Router) {
		group.Get("/", h.listOrders)
		group.Get("/{orderID}", h.getOrder)
		group.Post("/{orderID}:updateStatus", h.updateStatus)
		group.Post("/{orderID}:cancel", h.cancelOrder)
		group.Delete("/{orderID}", h.deleteOrder)
	})
}

func (h *AdminOrderHandlers) authorize(w http.ResponseWriter, r *http.Request, action string) (*auth.Identity, bool) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return nil, false
	}
	if h.authorizer == nil || !h.authorizer.Allow(identity, action) {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeForbidden, "action not permitted", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.authorize(w, r, auth.ActionOrdersRead); !ok {
		return
	}

	query := r.URL.Query()
	statuses, err := parseStatusFilters(query["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, err.Error(), http.StatusBadRequest))
		return
	}
	placedRange, err := parsePlacedRange(query.Get("placed_after"), query.Get("placed_before"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, err.Error(), http.StatusBadRequest))
		return
	}
	pageSize, err := parsePageSizeParam(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "page_size must be a positive integer", http.StatusBadRequest))
		return
	}

	numberPrefix := strings.TrimSpace(query.Get("number_prefix"))
	if numberPrefix != "" && (placedRange.From != nil || placedRange.To != nil) {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "number_prefix cannot be combined with a placed date range", http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.ListOrdersQuery{
		UserID:         strings.TrimSpace(query.Get("user_id")),
		Status:         statuses,
		PlacedRange:    placedRange,
		NumberPrefix:   numberPrefix,
		IncludeDeleted: parseBoolParam(query.Get("include_deleted")),
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.authorize(w, r, auth.ActionOrdersRead)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID:    orderID,
		ActorID:    identity.UID,
		ActorStaff: true,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.authorize(w, r, auth.ActionOrdersUpdate)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateOrderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "invalid JSON body", http.StatusBadRequest))
		return
	}

	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID:        orderID,
		Status:         status,
		Note:           strings.TrimSpace(req.Note),
		TrackingNumber: req.TrackingNumber,
		Carrier:        req.Carrier,
		ActorID:        identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.authorize(w, r, auth.ActionOrdersUpdate)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID:    orderID,
		ActorID:    identity.UID,
		ActorStaff: true,
		Note:       strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.authorize(w, r, auth.ActionOrdersDelete)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "order id is required", http.StatusBadRequest))
		return
	}

	if err := h.orders.DeleteOrder(ctx, services.DeleteOrderCommand{
		OrderID: orderID,
		ActorID: identity.UID,
	}); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseBoolParam(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}
