package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cedarmarket/api/internal/domain"
	"github.com/cedarmarket/api/internal/platform/auth"
	"github.com/cedarmarket/api/internal/platform/httpx"
	"github.com/cedarmarket/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

type createOrderRequest struct {
	Currency         string                  `json:"currency"`
	Items            []createOrderItemInput  `json:"items"`
	ShippingAddress  createOrderAddressInput `json:"shipping_address"`
	PaymentReference string                  `json:"payment_reference"`
}

type createOrderItemInput struct {
	VariantID string `json:"variant_id"`
	Quantity  int64  `json:"quantity"`
}

type createOrderAddressInput struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2"`
	City       string  `json:"city"`
	State      *string `json:"state"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone"`
}

type cancelOrderRequest struct {
	Note string `json:"note"`
}

// OrderHandlers exposes the customer-facing order endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "invalid JSON body", http.StatusBadRequest))
		return
	}
	if len(req.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "at least one item is required", http.StatusBadRequest))
		return
	}

	items := make([]services.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItemInput{
			VariantID: strings.TrimSpace(item.VariantID),
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:           identity.UID,
		Currency:         req.Currency,
		Items:            items,
		ShippingAddress:  buildAddress(req.ShippingAddress),
		PaymentReference: req.PaymentReference,
		ActorID:          identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
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

	page, err := h.orders.ListOrders(ctx, services.ListOrdersQuery{
		UserID:      identity.UID,
		Status:      statuses,
		PlacedRange: placedRange,
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

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID: orderID,
		ActorID: identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
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
		OrderID: orderID,
		ActorID: identity.UID,
		Note:    strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	Total       int64  `json:"total"`
	PlacedAt    string `json:"placed_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID               string                `json:"id"`
	OrderNumber      string                `json:"order_number"`
	UserID           string                `json:"user_id"`
	Status           string                `json:"status"`
	Currency         string                `json:"currency"`
	Totals           orderTotalsPayload    `json:"totals"`
	Items            []orderItemPayload    `json:"items"`
	StatusHistory    []statusChangePayload `json:"status_history,omitempty"`
	ShippingAddress  addressPayload        `json:"shipping_address"`
	PaymentReference string                `json:"payment_reference,omitempty"`
	PaymentStatus    string                `json:"payment_status,omitempty"`
	TrackingNumber   *string               `json:"tracking_number,omitempty"`
	Carrier          *string               `json:"carrier,omitempty"`
	PlacedAt         string                `json:"placed_at"`
	PaidAt           string                `json:"paid_at,omitempty"`
	ShippedAt        string                `json:"shipped_at,omitempty"`
	DeliveredAt      string                `json:"delivered_at,omitempty"`
	CancelledAt      string                `json:"cancelled_at,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

type orderItemPayload struct {
	ID           string  `json:"id"`
	VariantRef   *string `json:"variant_ref,omitempty"`
	ProductRef   *string `json:"product_ref,omitempty"`
	ProductTitle string  `json:"product_title"`
	VariantTitle string  `json:"variant_title,omitempty"`
	Quantity     int64   `json:"quantity"`
	UnitPrice    int64   `json:"unit_price"`
	TotalPrice   int64   `json:"total_price"`
	Position     int     `json:"position"`
}

type statusChangePayload struct {
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"`
	Note       string `json:"note,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

func buildOrderListResponse(page domain.CursorPage[domain.Order]) orderListResponse {
	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, orderSummaryPayload{
			ID:          order.ID,
			OrderNumber: order.OrderNumber,
			Status:      string(order.Status),
			Currency:    strings.ToUpper(order.Currency),
			Total:       order.Totals.Total,
			PlacedAt:    formatTime(order.PlacedAt),
		})
	}
	return orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		Currency:    strings.ToUpper(order.Currency),
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Discount: order.Totals.Discount,
			Shipping: order.Totals.Shipping,
			Tax:      order.Totals.Tax,
			Total:    order.Totals.Total,
		},
		Items:            make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress:  buildAddressPayload(order.ShippingAddress),
		PaymentReference: order.PaymentReference,
		PaymentStatus:    order.PaymentStatus,
		TrackingNumber:   order.TrackingNumber,
		Carrier:          order.Carrier,
		PlacedAt:         formatTime(order.PlacedAt),
		PaidAt:           formatTime(pointerTime(order.PaidAt)),
		ShippedAt:        formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:      formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:      formatTime(pointerTime(order.CancelledAt)),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:           item.ID,
			VariantRef:   item.VariantRef,
			ProductRef:   item.ProductRef,
			ProductTitle: item.ProductTitle,
			VariantTitle: item.VariantTitle,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			TotalPrice:   item.TotalPrice,
			Position:     item.Position,
		})
	}

	for _, change := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, statusChangePayload{
			FromStatus: string(change.FromStatus),
			ToStatus:   string(change.ToStatus),
			Note:       change.Note,
			OccurredAt: formatTime(change.OccurredAt),
		})
	}

	return payload
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func buildAddress(input createOrderAddressInput) domain.Address {
	return domain.Address{
		Recipient:  strings.TrimSpace(input.Recipient),
		Line1:      strings.TrimSpace(input.Line1),
		Line2:      input.Line2,
		City:       strings.TrimSpace(input.City),
		State:      input.State,
		PostalCode: strings.TrimSpace(input.PostalCode),
		Country:    strings.TrimSpace(input.Country),
		Phone:      input.Phone,
	}
}

func parseStatusFilters(values []string) ([]domain.OrderStatus, error) {
	raw := parseFilterValues(values)
	if len(raw) == 0 {
		return nil, nil
	}
	statuses := make([]domain.OrderStatus, 0, len(raw))
	for _, value := range raw {
		status := domain.OrderStatus(strings.ToLower(value))
		if !status.Valid() {
			return nil, errors.New("status filter contains an unknown status: " + value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func parsePlacedRange(afterRaw, beforeRaw string) (domain.RangeQuery[time.Time], error) {
	var placedRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(afterRaw); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return placedRange, errors.New("placed_after must be a valid RFC3339 timestamp")
		}
		placedRange.From = &ts
	}
	if raw := strings.TrimSpace(beforeRaw); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return placedRange, errors.New("placed_before must be a valid RFC3339 timestamp")
		}
		placedRange.To = &ts
	}
	return placedRange, nil
}
