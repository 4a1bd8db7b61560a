package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/cedarmarket/api/internal/domain"
	"github.com/cedarmarket/api/internal/platform/auth"
	"github.com/cedarmarket/api/internal/platform/httpx"
	"github.com/cedarmarket/api/internal/services"
)

const (
	defaultInventoryPageSize = 50
	maxInventoryPageSize     = 200
	maxAdjustBodySize        = 256 * 1024
)

type stockAdjustmentRequest struct {
	VariantID  string `json:"variant_id"`
	Change     int64  `json:"change"`
	Reason     string `json:"reason"`
	Note       string `json:"note"`
	AllowClamp bool   `json:"allow_clamp"`
}

type bulkAdjustmentRequest struct {
	Adjustments []stockAdjustmentRequest `json:"adjustments"`
}

// AdminInventoryHandlers exposes the staff inventory endpoints under /admin/inventory.
type AdminInventoryHandlers struct {
	authn      *auth.Authenticator
	authorizer auth.Authorizer
	inventory  services.InventoryService
}

// NewAdminInventoryHandlers constructs a new AdminInventoryHandlers instance.
func NewAdminInventoryHandlers(authn *auth.Authenticator, authorizer auth.Authorizer, inventory services.InventoryService) *AdminInventoryHandlers {
	if authorizer == nil {
		authorizer = auth.DefaultAuthorizer()
	}
	return &AdminInventoryHandlers{
		authn:      authn,
		authorizer: authorizer,
		inventory:  inventory,
	}
}

// Routes registers the /admin/inventory endpoints.
func (h *AdminInventoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Route("/inventory", func(group chi.Router) {
		group.Post("/adjustments", h.adjust)
		group.Post("/adjustments:bulk", h.adjustBulk)
		group.Get("/stock", h.listStock)
		group.Get("/stock/{variantID}", h.getStock)
		group.Get("/movements", h.listMovements)
	})
}

func (h *AdminInventoryHandlers) authorize(w http.ResponseWriter, r *http.Request, action string) (*auth.Identity, bool) {
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

func (h *AdminInventoryHandlers) adjust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.authorize(w, r, auth.ActionInventoryAdjust)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdjustBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req stockAdjustmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "invalid JSON body", http.StatusBadRequest))
		return
	}

	result, err := h.inventory.Adjust(ctx, buildAdjustCommand(req, identity.UID))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, adjustmentResponse{
		Variant:  buildVariantPayload(result.Variant),
		Movement: buildMovementPayload(result.Movement),
	})
}

func (h *AdminInventoryHandlers) adjustBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.authorize(w, r, auth.ActionInventoryAdjust)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdjustBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req bulkAdjustmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "invalid JSON body", http.StatusBadRequest))
		return
	}
	if len(req.Adjustments) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "at least one adjustment is required", http.StatusBadRequest))
		return
	}

	cmds := make([]services.AdjustStockCommand, 0, len(req.Adjustments))
	for _, adjustment := range req.Adjustments {
		cmds = append(cmds, buildAdjustCommand(adjustment, identity.UID))
	}

	results, err := h.inventory.AdjustBulk(ctx, cmds)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := bulkAdjustmentResponse{
		Results: make([]adjustmentResponse, 0, len(results)),
	}
	for _, result := range results {
		payload.Results = append(payload.Results, adjustmentResponse{
			Variant:  buildVariantPayload(result.Variant),
			Movement: buildMovementPayload(result.Movement),
		})
	}
	writeJSONResponse(w, http.StatusCreated, payload)
}

func (h *AdminInventoryHandlers) listStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.authorize(w, r, auth.ActionInventoryRead); !ok {
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSizeParam(query.Get("page_size"), defaultInventoryPageSize, maxInventoryPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "page_size must be a positive integer", http.StatusBadRequest))
		return
	}

	listQuery := services.VariantListQuery{
		ProductRef: strings.TrimSpace(query.Get("product_ref")),
		PageSize:   pageSize,
		PageToken:  strings.TrimSpace(query.Get("page_token")),
	}
	if raw := strings.TrimSpace(query.Get("max_quantity")); raw != "" {
		max, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || max < 0 {
			httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "max_quantity must be a non-negative integer", http.StatusBadRequest))
			return
		}
		listQuery.MaxQuantity = &max
	}

	page, err := h.inventory.ListVariants(ctx, listQuery)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := variantListResponse{
		Items:         make([]variantPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, variant := range page.Items {
		payload.Items = append(payload.Items, buildVariantPayload(variant))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *AdminInventoryHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.authorize(w, r, auth.ActionInventoryRead); !ok {
		return
	}

	variantID := strings.TrimSpace(chi.URLParam(r, "variantID"))
	if variantID == "" {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "variant id is required", http.StatusBadRequest))
		return
	}

	variant, err := h.inventory.GetVariant(ctx, variantID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildVariantPayload(variant))
}

func (h *AdminInventoryHandlers) listMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.authorize(w, r, auth.ActionInventoryRead); !ok {
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSizeParam(query.Get("page_size"), defaultInventoryPageSize, maxInventoryPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "page_size must be a positive integer", http.StatusBadRequest))
		return
	}

	reasons := make([]domain.MovementReason, 0)
	for _, raw := range parseFilterValues(query["reason"]) {
		reason := domain.MovementReason(strings.ToLower(raw))
		if !reason.Valid() {
			httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, "reason filter contains an unknown reason: "+raw, http.StatusBadRequest))
			return
		}
		reasons = append(reasons, reason)
	}

	dateRange, err := parsePlacedRange(query.Get("occurred_after"), query.Get("occurred_before"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeBadRequest, err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.inventory.ListMovements(ctx, services.MovementListFilter{
		VariantRef: strings.TrimSpace(query.Get("variant_ref")),
		OrderRef:   strings.TrimSpace(query.Get("order_ref")),
		Reasons:    reasons,
		DateRange:  dateRange,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := movementListResponse{
		Items:         make([]movementPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, movement := range page.Items {
		payload.Items = append(payload.Items, buildMovementPayload(movement))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

type adjustmentResponse struct {
	Variant  variantPayload  `json:"variant"`
	Movement movementPayload `json:"movement"`
}

type bulkAdjustmentResponse struct {
	Results []adjustmentResponse `json:"results"`
}

type variantListResponse struct {
	Items         []variantPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type variantPayload struct {
	ID             string            `json:"id"`
	ProductRef     string            `json:"product_ref"`
	ProductTitle   string            `json:"product_title"`
	VariantTitle   string            `json:"variant_title,omitempty"`
	Options        map[string]string `json:"options,omitempty"`
	UnitPrice      int64             `json:"unit_price"`
	Currency       string            `json:"currency"`
	QuantityOnHand int64             `json:"quantity_on_hand"`
	UpdatedAt      string            `json:"updated_at,omitempty"`
}

type movementListResponse struct {
	Items         []movementPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type movementPayload struct {
	ID             string  `json:"id"`
	VariantRef     string  `json:"variant_ref"`
	QuantityChange int64   `json:"quantity_change"`
	QuantityBefore int64   `json:"quantity_before"`
	QuantityAfter  int64   `json:"quantity_after"`
	Reason         string  `json:"reason"`
	OrderRef       *string `json:"order_ref,omitempty"`
	ActorRef       *string `json:"actor_ref,omitempty"`
	Note           string  `json:"note,omitempty"`
	Clamped        bool    `json:"clamped,omitempty"`
	OccurredAt     string  `json:"occurred_at"`
}

func buildAdjustCommand(req stockAdjustmentRequest, actorID string) services.AdjustStockCommand {
	return services.AdjustStockCommand{
		VariantID:  strings.TrimSpace(req.VariantID),
		Change:     req.Change,
		Reason:     domain.MovementReason(strings.ToLower(strings.TrimSpace(req.Reason))),
		Note:       strings.TrimSpace(req.Note),
		AllowClamp: req.AllowClamp,
		ActorID:    actorID,
	}
}

func buildVariantPayload(variant domain.Variant) variantPayload {
	return variantPayload{
		ID:             variant.ID,
		ProductRef:     variant.ProductRef,
		ProductTitle:   variant.ProductTitle,
		VariantTitle:   variant.VariantTitle,
		Options:        variant.Options,
		UnitPrice:      variant.UnitPrice,
		Currency:       strings.ToUpper(variant.Currency),
		QuantityOnHand: variant.QuantityOnHand,
		UpdatedAt:      formatTime(variant.UpdatedAt),
	}
}

func buildMovementPayload(movement domain.StockMovement) movementPayload {
	return movementPayload{
		ID:             movement.ID,
		VariantRef:     movement.VariantRef,
		QuantityChange: movement.QuantityChange,
		QuantityBefore: movement.QuantityBefore,
		QuantityAfter:  movement.QuantityAfter,
		Reason:         string(movement.Reason),
		OrderRef:       movement.OrderRef,
		ActorRef:       movement.ActorRef,
		Note:           movement.Note,
		Clamped:        movement.Clamped,
		OccurredAt:     formatTime(movement.OccurredAt),
	}
}
