package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/cedarmarket/api/internal/domain"
	pfirestore "github.com/cedarmarket/api/internal/platform/firestore"
	"github.com/cedarmarket/api/internal/platform/pagination"
	"github.com/cedarmarket/api/internal/repositories"
)

const (
	ordersCollection  = "orders"
	itemsSubcol       = "items"
	historySubcol     = "statusHistory"
	unicodeRangeUpper = ""
)

// OrderRepository persists the order aggregate. Creation and cancellation
// couple the order writes with the variant stock mutations and ledger
// appends so the whole outcome commits or nothing does.
type OrderRepository struct {
	provider  *pfirestore.Provider
	orders    *pfirestore.BaseRepository[orderDocument]
	variants  *pfirestore.BaseRepository[variantDocument]
	movements *pfirestore.BaseRepository[movementDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider:  provider,
		orders:    pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
		variants:  pfirestore.NewBaseRepository[variantDocument](provider, variantsCollection, nil),
		movements: pfirestore.NewBaseRepository[movementDocument](provider, movementsCollection, nil),
	}, nil
}

// CreateWithReservation persists the aggregate and applies the stock
// decrements in one transaction. Availability is checked against the
// quantities read inside the transaction, so a concurrent checkout that
// commits first forces this one to retry against the updated stock.
func (r *OrderRepository) CreateWithReservation(ctx context.Context, req repositories.OrderCreateRequest) (repositories.OrderCreateResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderCreateResult{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return repositories.OrderCreateResult{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order create: id is required", nil)
	}
	if len(order.Items) == 0 {
		return repositories.OrderCreateResult{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order create: at least one item is required", nil)
	}

	now := req.Now.UTC()
	var result repositories.OrderCreateResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}

		// Reads first: every reserved variant is loaded and checked before
		// any write is staged.
		type reservedVariant struct {
			ref *firestore.DocumentRef
			doc variantDocument
		}
		reserved := make(map[string]*reservedVariant)
		for _, line := range req.Reservations {
			variantID := strings.TrimSpace(line.VariantID)
			if variantID == "" || line.Quantity <= 0 {
				return repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order create: reservation lines need a variant and a positive quantity", nil)
			}
			if _, ok := reserved[variantID]; ok {
				return repositories.NewOrderError(repositories.OrderErrorInvalidInput, fmt.Sprintf("order create: duplicate reservation for variant %s", variantID), nil)
			}
			variantRef, err := r.variants.DocumentRef(ctx, variantID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(variantRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, fmt.Sprintf("variant %s not found", variantID), err)
				}
				return err
			}
			var doc variantDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode variant %s: %w", variantID, err)
			}
			if doc.QuantityOnHand < line.Quantity {
				return &repositories.StockShortageError{
					VariantID:    variantID,
					ProductTitle: doc.ProductTitle,
					Requested:    line.Quantity,
					Available:    doc.QuantityOnHand,
				}
			}
			reserved[variantID] = &reservedVariant{ref: variantRef, doc: doc}
		}

		orderDoc := newOrderDocument(order, now)
		if err := tx.Create(orderRef, orderDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewOrderError(repositories.OrderErrorInvalidInput, fmt.Sprintf("order %s already exists", order.ID), err)
			}
			return err
		}
		for _, item := range order.Items {
			itemRef := orderRef.Collection(itemsSubcol).Doc(item.ID)
			if err := tx.Create(itemRef, newItemDocument(item)); err != nil {
				return err
			}
		}
		entryRef := orderRef.Collection(historySubcol).Doc(req.InitialEntry.ID)
		if err := tx.Create(entryRef, newHistoryDocument(req.InitialEntry)); err != nil {
			return err
		}

		var movements []domain.StockMovement
		for _, line := range req.Reservations {
			variantID := strings.TrimSpace(line.VariantID)
			rv := reserved[variantID]
			before := rv.doc.QuantityOnHand
			rv.doc.QuantityOnHand = before - line.Quantity
			rv.doc.UpdatedAt = now
			if err := tx.Set(rv.ref, rv.doc); err != nil {
				return err
			}

			orderID := order.ID
			movement := movementDocument{
				VariantRef:     variantID,
				QuantityChange: -line.Quantity,
				QuantityBefore: before,
				QuantityAfter:  rv.doc.QuantityOnHand,
				Reason:         string(domain.MovementReasonSale),
				OrderRef:       &orderID,
				OccurredAt:     now,
			}
			movementRef, err := r.movements.DocumentRef(ctx, line.MovementID)
			if err != nil {
				return err
			}
			if err := tx.Create(movementRef, movement); err != nil {
				return err
			}
			movements = append(movements, movement.toDomain(line.MovementID))
		}

		persisted := orderDoc.toDomain(order.ID)
		persisted.Items = order.Items
		persisted.StatusHistory = []domain.OrderStatusChange{req.InitialEntry}
		result = repositories.OrderCreateResult{Order: persisted, Movements: movements}
		return nil
	})
	if err != nil {
		return repositories.OrderCreateResult{}, wrapOrderError("orders.create", err)
	}
	return result, nil
}

// CancelWithReversal flips the order to cancelled and restores each line's
// stock with a cancellation_reversal ledger entry, all in one transaction.
// Only pending and paid orders can be cancelled through this path. Lines
// whose variant no longer exists are skipped; the snapshot on the line item
// keeps the order itself renderable.
func (r *OrderRepository) CancelWithReversal(ctx context.Context, req repositories.OrderCancelRequest) (repositories.OrderCancelResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderCancelResult{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return repositories.OrderCancelResult{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order cancel: id is required", nil)
	}

	now := req.Now.UTC()
	var result repositories.OrderCancelResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		orderDoc, err := r.getOrderTx(tx, orderRef, orderID)
		if err != nil {
			return err
		}
		currentStatus := domain.OrderStatus(orderDoc.Status)
		if currentStatus != domain.OrderStatusPending && currentStatus != domain.OrderStatusPaid {
			return repositories.NewOrderError(repositories.OrderErrorInvalidState,
				fmt.Sprintf("order %s cannot be cancelled from status %s", orderID, currentStatus), nil)
		}

		items, err := r.readItemsTx(tx, orderRef, orderID)
		if err != nil {
			return err
		}

		type restoredVariant struct {
			ref      *firestore.DocumentRef
			doc      variantDocument
			found    bool
			quantity int64
		}
		restores := make(map[string]*restoredVariant)
		for _, item := range items {
			if item.VariantRef == nil {
				continue
			}
			variantID := *item.VariantRef
			if existing, ok := restores[variantID]; ok {
				existing.quantity += item.Quantity
				continue
			}
			variantRef, err := r.variants.DocumentRef(ctx, variantID)
			if err != nil {
				return err
			}
			restore := &restoredVariant{ref: variantRef, quantity: item.Quantity}
			snap, err := tx.Get(variantRef)
			if err == nil {
				if err := snap.DataTo(&restore.doc); err != nil {
					return fmt.Errorf("decode variant %s: %w", variantID, err)
				}
				restore.found = true
			} else if status.Code(err) != codes.NotFound {
				return err
			}
			restores[variantID] = restore
		}

		orderDoc.Status = string(domain.OrderStatusCancelled)
		orderDoc.CancelledAt = &now
		orderDoc.UpdatedAt = now
		if err := tx.Set(orderRef, orderDoc); err != nil {
			return err
		}

		entry := domain.OrderStatusChange{
			ID:         req.EntryID,
			OrderID:    orderID,
			FromStatus: currentStatus,
			ToStatus:   domain.OrderStatusCancelled,
			Note:       req.Note,
			ActorRef:   req.ActorRef,
			OccurredAt: now,
		}
		entryRef := orderRef.Collection(historySubcol).Doc(entry.ID)
		if err := tx.Create(entryRef, newHistoryDocument(entry)); err != nil {
			return err
		}

		var movements []domain.StockMovement
		variantIDs := make([]string, 0, len(restores))
		for variantID := range restores {
			variantIDs = append(variantIDs, variantID)
		}
		sort.Strings(variantIDs)
		for _, variantID := range variantIDs {
			restore := restores[variantID]
			if !restore.found {
				continue
			}
			before := restore.doc.QuantityOnHand
			restore.doc.QuantityOnHand = before + restore.quantity
			restore.doc.UpdatedAt = now
			if err := tx.Set(restore.ref, restore.doc); err != nil {
				return err
			}

			movementID, ok := req.MovementIDs[variantID]
			if !ok || strings.TrimSpace(movementID) == "" {
				return repositories.NewOrderError(repositories.OrderErrorInvalidInput, fmt.Sprintf("order cancel: missing movement id for variant %s", variantID), nil)
			}
			movement := movementDocument{
				VariantRef:     variantID,
				QuantityChange: restore.quantity,
				QuantityBefore: before,
				QuantityAfter:  restore.doc.QuantityOnHand,
				Reason:         string(domain.MovementReasonCancellationReversal),
				OrderRef:       &orderID,
				ActorRef:       req.ActorRef,
				OccurredAt:     now,
			}
			movementRef, err := r.movements.DocumentRef(ctx, movementID)
			if err != nil {
				return err
			}
			if err := tx.Create(movementRef, movement); err != nil {
				return err
			}
			movements = append(movements, movement.toDomain(movementID))
		}

		cancelled := orderDoc.toDomain(orderID)
		cancelled.Items = items
		cancelled.StatusHistory = []domain.OrderStatusChange{entry}
		result = repositories.OrderCancelResult{Order: cancelled, Movements: movements}
		return nil
	})
	if err != nil {
		return repositories.OrderCancelResult{}, wrapOrderError("orders.cancel", err)
	}
	return result, nil
}

// UpdateStatus applies one lifecycle transition and appends its history
// entry. Transitions out of a terminal status are rejected; everything else
// is allowed, including re-applying the current status, which still appends
// a fresh entry. Inventory is never touched here.
func (r *OrderRepository) UpdateStatus(ctx context.Context, req repositories.OrderStatusUpdateRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order update status: id is required", nil)
	}
	if !req.NewStatus.Valid() {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, fmt.Sprintf("order update status: unknown status %q", req.NewStatus), nil)
	}

	now := req.Now.UTC()
	var updated domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		orderDoc, err := r.getOrderTx(tx, orderRef, orderID)
		if err != nil {
			return err
		}
		fromStatus := domain.OrderStatus(orderDoc.Status)
		if fromStatus.Terminal() {
			return repositories.NewOrderError(repositories.OrderErrorInvalidState,
				fmt.Sprintf("order %s is %s and accepts no further transitions", orderID, fromStatus), nil)
		}

		orderDoc.Status = string(req.NewStatus)
		orderDoc.UpdatedAt = now
		switch req.NewStatus {
		case domain.OrderStatusPaid:
			orderDoc.PaidAt = &now
		case domain.OrderStatusShipped:
			orderDoc.ShippedAt = &now
		case domain.OrderStatusDelivered:
			orderDoc.DeliveredAt = &now
		case domain.OrderStatusCancelled:
			orderDoc.CancelledAt = &now
		}
		if req.TrackingNumber != nil {
			orderDoc.TrackingNumber = req.TrackingNumber
		}
		if req.Carrier != nil {
			orderDoc.Carrier = req.Carrier
		}
		if err := tx.Set(orderRef, orderDoc); err != nil {
			return err
		}

		entry := domain.OrderStatusChange{
			ID:         req.EntryID,
			OrderID:    orderID,
			FromStatus: fromStatus,
			ToStatus:   req.NewStatus,
			Note:       req.Note,
			ActorRef:   req.ActorRef,
			OccurredAt: now,
		}
		entryRef := orderRef.Collection(historySubcol).Doc(entry.ID)
		if err := tx.Create(entryRef, newHistoryDocument(entry)); err != nil {
			return err
		}

		updated = orderDoc.toDomain(orderID)
		updated.StatusHistory = []domain.OrderStatusChange{entry}
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.updateStatus", err)
	}
	return updated, nil
}

// FindByID hydrates the order with its items and full status history.
// Soft-deleted orders are reported as not found.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order get: id is required", nil)
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, wrapOrderError("orders.get", err)
	}
	if doc.Data.Deleted {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), nil)
	}

	order := doc.Data.toDomain(doc.ID)

	orderRef, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.get", err)
	}

	itemIter := orderRef.Collection(itemsSubcol).OrderBy("position", firestore.Asc).Documents(ctx)
	defer itemIter.Stop()
	for {
		snap, err := itemIter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.Order{}, wrapOrderError("orders.get", err)
		}
		var item itemDocument
		if err := snap.DataTo(&item); err != nil {
			return domain.Order{}, fmt.Errorf("decode order item %s: %w", snap.Ref.ID, err)
		}
		order.Items = append(order.Items, item.toDomain(snap.Ref.ID, orderID))
	}

	historyIter := orderRef.Collection(historySubcol).OrderBy("occurredAt", firestore.Asc).Documents(ctx)
	defer historyIter.Stop()
	for {
		snap, err := historyIter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.Order{}, wrapOrderError("orders.get", err)
		}
		var entry historyDocument
		if err := snap.DataTo(&entry); err != nil {
			return domain.Order{}, fmt.Errorf("decode status history %s: %w", snap.Ref.ID, err)
		}
		order.StatusHistory = append(order.StatusHistory, entry.toDomain(snap.Ref.ID, orderID))
	}

	return order, nil
}

// List pages through order headers, newest placements first. Items and
// history are not hydrated here. Soft-deleted orders are excluded unless
// the filter opts in.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
	}

	fsQuery := client.Collection(ordersCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		fsQuery = fsQuery.Where("userRef", "==", userID)
	}
	if !filter.IncludeDeleted {
		fsQuery = fsQuery.Where("deleted", "==", false)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			if !s.Valid() {
				return domain.CursorPage[domain.Order]{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, fmt.Sprintf("orders list: unknown status %q", s), nil)
			}
			statuses = append(statuses, string(s))
		}
		fsQuery = fsQuery.Where("status", "in", statuses)
	}

	// A number-prefix search and a placement range are both inequality
	// filters, so only one of the two orderings can serve a given query.
	byNumber := strings.TrimSpace(filter.NumberPrefix) != ""
	if byNumber {
		prefix := strings.TrimSpace(filter.NumberPrefix)
		fsQuery = fsQuery.Where("orderNumber", ">=", prefix).
			Where("orderNumber", "<", prefix+unicodeRangeUpper).
			OrderBy("orderNumber", firestore.Asc)
	} else {
		if filter.PlacedRange.From != nil {
			fsQuery = fsQuery.Where("placedAt", ">=", filter.PlacedRange.From.UTC())
		}
		if filter.PlacedRange.To != nil {
			fsQuery = fsQuery.Where("placedAt", "<=", filter.PlacedRange.To.UTC())
		}
		fsQuery = fsQuery.OrderBy("placedAt", firestore.Desc)
	}
	fsQuery = fsQuery.OrderBy(firestore.DocumentID, firestore.Desc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "orders list: invalid page token", err)
		}
		start, err := orderCursorValues(cursor, byNumber)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "orders list: invalid page token", err)
		}
		if len(start) > 0 {
			fsQuery = fsQuery.StartAfter(start...)
		}
	}

	iter := fsQuery.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		cursor := pagination.Cursor{StartAfter: []any{last.PlacedAt.UTC().Format(time.RFC3339Nano), last.ID}}
		if byNumber {
			cursor.StartAfter = []any{last.OrderNumber, last.ID}
		}
		encoded, err := pagination.EncodeToken(cursor)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// SoftDelete marks the order deleted without removing its documents.
// Subsequent reads treat it as not found.
func (r *OrderRepository) SoftDelete(ctx context.Context, orderID string, actorRef string, deletedAt time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order delete: id is required", nil)
	}

	when := deletedAt.UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		orderDoc, err := r.getOrderTx(tx, orderRef, orderID)
		if err != nil {
			return err
		}
		orderDoc.Deleted = true
		orderDoc.DeletedAt = &when
		orderDoc.DeletedBy = strings.TrimSpace(actorRef)
		orderDoc.UpdatedAt = when
		return tx.Set(orderRef, orderDoc)
	})
	if err != nil {
		return wrapOrderError("orders.delete", err)
	}
	return nil
}

func (r *OrderRepository) getOrderTx(tx *firestore.Transaction, ref *firestore.DocumentRef, orderID string) (orderDocument, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return orderDocument{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return orderDocument{}, err
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return orderDocument{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	if doc.Deleted {
		return orderDocument{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), nil)
	}
	return doc, nil
}

func (r *OrderRepository) readItemsTx(tx *firestore.Transaction, orderRef *firestore.DocumentRef, orderID string) ([]domain.OrderLineItem, error) {
	iter := tx.Documents(orderRef.Collection(itemsSubcol).OrderBy("position", firestore.Asc))
	defer iter.Stop()

	var items []domain.OrderLineItem
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc itemDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode order item %s: %w", snap.Ref.ID, err)
		}
		items = append(items, doc.toDomain(snap.Ref.ID, orderID))
	}
	return items, nil
}

func orderCursorValues(cursor pagination.Cursor, byNumber bool) ([]any, error) {
	if len(cursor.StartAfter) == 0 {
		return nil, nil
	}
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("expected two cursor values, got %d", len(cursor.StartAfter))
	}
	first, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, fmt.Errorf("cursor value has type %T", cursor.StartAfter[0])
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok {
		return nil, fmt.Errorf("cursor id has type %T", cursor.StartAfter[1])
	}
	if byNumber {
		return []any{first, id}, nil
	}
	placedAt, err := time.Parse(time.RFC3339Nano, first)
	if err != nil {
		return nil, fmt.Errorf("cursor timestamp: %w", err)
	}
	return []any{placedAt, id}, nil
}

// Document types ------------------------------------------------------------

type orderDocument struct {
	OrderNumber      string               `firestore:"orderNumber"`
	UserRef          string               `firestore:"userRef"`
	Status           string               `firestore:"status"`
	Currency         string               `firestore:"currency"`
	Totals           orderTotalsDocument  `firestore:"totals"`
	ShippingAddress  addressDocument      `firestore:"shippingAddress"`
	PaymentReference string               `firestore:"paymentReference,omitempty"`
	PaymentStatus    string               `firestore:"paymentStatus,omitempty"`
	TrackingNumber   *string              `firestore:"trackingNumber,omitempty"`
	Carrier          *string              `firestore:"carrier,omitempty"`
	PlacedAt         time.Time            `firestore:"placedAt"`
	PaidAt           *time.Time           `firestore:"paidAt,omitempty"`
	ShippedAt        *time.Time           `firestore:"shippedAt,omitempty"`
	DeliveredAt      *time.Time           `firestore:"deliveredAt,omitempty"`
	CancelledAt      *time.Time           `firestore:"cancelledAt,omitempty"`
	Deleted          bool                 `firestore:"deleted"`
	DeletedAt        *time.Time           `firestore:"deletedAt,omitempty"`
	DeletedBy        string               `firestore:"deletedBy,omitempty"`
	CreatedAt        time.Time            `firestore:"createdAt"`
	UpdatedAt        time.Time            `firestore:"updatedAt"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Discount int64 `firestore:"discount"`
	Shipping int64 `firestore:"shipping"`
	Tax      int64 `firestore:"tax"`
	Total    int64 `firestore:"total"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type itemDocument struct {
	VariantRef   *string `firestore:"variantRef,omitempty"`
	ProductRef   *string `firestore:"productRef,omitempty"`
	ProductTitle string  `firestore:"productTitle"`
	VariantTitle string  `firestore:"variantTitle,omitempty"`
	Quantity     int64   `firestore:"quantity"`
	UnitPrice    int64   `firestore:"unitPrice"`
	TotalPrice   int64   `firestore:"totalPrice"`
	Position     int     `firestore:"position"`
}

type historyDocument struct {
	FromStatus string    `firestore:"fromStatus,omitempty"`
	ToStatus   string    `firestore:"toStatus"`
	Note       string    `firestore:"note,omitempty"`
	ActorRef   *string   `firestore:"actorRef,omitempty"`
	OccurredAt time.Time `firestore:"occurredAt"`
}

func newOrderDocument(order domain.Order, now time.Time) orderDocument {
	doc := orderDocument{
		OrderNumber:      strings.TrimSpace(order.OrderNumber),
		UserRef:          strings.TrimSpace(order.UserID),
		Status:           string(order.Status),
		Currency:         order.Currency,
		Totals:           newTotalsDocument(order.Totals),
		ShippingAddress:  newAddressDocument(order.ShippingAddress),
		PaymentReference: strings.TrimSpace(order.PaymentReference),
		PaymentStatus:    strings.TrimSpace(order.PaymentStatus),
		TrackingNumber:   order.TrackingNumber,
		Carrier:          order.Carrier,
		PlacedAt:         order.PlacedAt.UTC(),
		PaidAt:           order.PaidAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if doc.PlacedAt.IsZero() {
		doc.PlacedAt = now
	}
	return doc
}

func newTotalsDocument(totals domain.OrderTotals) orderTotalsDocument {
	return orderTotalsDocument{
		Subtotal: totals.Subtotal,
		Discount: totals.Discount,
		Shipping: totals.Shipping,
		Tax:      totals.Tax,
		Total:    totals.Total,
	}
}

func (d orderTotalsDocument) toDomain() domain.OrderTotals {
	return domain.OrderTotals{
		Subtotal: d.Subtotal,
		Discount: d.Discount,
		Shipping: d.Shipping,
		Tax:      d.Tax,
		Total:    d.Total,
	}
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      addr.Line2,
		City:       strings.TrimSpace(addr.City),
		State:      addr.State,
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
		Phone:      addr.Phone,
	}
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{
		Recipient:  d.Recipient,
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		State:      d.State,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		Phone:      d.Phone,
	}
}

func newItemDocument(item domain.OrderLineItem) itemDocument {
	return itemDocument{
		VariantRef:   item.VariantRef,
		ProductRef:   item.ProductRef,
		ProductTitle: item.ProductTitle,
		VariantTitle: item.VariantTitle,
		Quantity:     item.Quantity,
		UnitPrice:    item.UnitPrice,
		TotalPrice:   item.TotalPrice,
		Position:     item.Position,
	}
}

func (d itemDocument) toDomain(id, orderID string) domain.OrderLineItem {
	return domain.OrderLineItem{
		ID:           id,
		OrderID:      orderID,
		VariantRef:   d.VariantRef,
		ProductRef:   d.ProductRef,
		ProductTitle: d.ProductTitle,
		VariantTitle: d.VariantTitle,
		Quantity:     d.Quantity,
		UnitPrice:    d.UnitPrice,
		TotalPrice:   d.TotalPrice,
		Position:     d.Position,
	}
}

func newHistoryDocument(entry domain.OrderStatusChange) historyDocument {
	return historyDocument{
		FromStatus: string(entry.FromStatus),
		ToStatus:   string(entry.ToStatus),
		Note:       strings.TrimSpace(entry.Note),
		ActorRef:   entry.ActorRef,
		OccurredAt: entry.OccurredAt.UTC(),
	}
}

func (d historyDocument) toDomain(id, orderID string) domain.OrderStatusChange {
	return domain.OrderStatusChange{
		ID:         id,
		OrderID:    orderID,
		FromStatus: domain.OrderStatus(d.FromStatus),
		ToStatus:   domain.OrderStatus(d.ToStatus),
		Note:       d.Note,
		ActorRef:   d.ActorRef,
		OccurredAt: d.OccurredAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	return domain.Order{
		ID:               id,
		OrderNumber:      d.OrderNumber,
		UserID:           d.UserRef,
		Status:           domain.OrderStatus(d.Status),
		Currency:         d.Currency,
		Totals:           d.Totals.toDomain(),
		ShippingAddress:  d.ShippingAddress.toDomain(),
		PaymentReference: d.PaymentReference,
		PaymentStatus:    d.PaymentStatus,
		TrackingNumber:   d.TrackingNumber,
		Carrier:          d.Carrier,
		PlacedAt:         d.PlacedAt,
		PaidAt:           d.PaidAt,
		ShippedAt:        d.ShippedAt,
		DeliveredAt:      d.DeliveredAt,
		CancelledAt:      d.CancelledAt,
		DeletedAt:        d.DeletedAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	var shortage *repositories.StockShortageError
	if errors.As(err, &shortage) {
		return shortage
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
