package firestore

import (
	"context"
	"errors"
	"fmt"
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
	variantsCollection  = "variants"
	movementsCollection = "stockMovements"

	defaultListPageSize = 50
	maxListPageSize     = 200
)

// InventoryRepository persists variant stock levels and the movement ledger.
// Every quantity mutation appends exactly one ledger entry in the same
// transaction that rewrites the variant.
type InventoryRepository struct {
	provider  *pfirestore.Provider
	variants  *pfirestore.BaseRepository[variantDocument]
	movements *pfirestore.BaseRepository[movementDocument]
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{
		provider:  provider,
		variants:  pfirestore.NewBaseRepository[variantDocument](provider, variantsCollection, nil),
		movements: pfirestore.NewBaseRepository[movementDocument](provider, movementsCollection, nil),
	}, nil
}

// Adjust applies a single stock change and its ledger entry atomically.
func (r *InventoryRepository) Adjust(ctx context.Context, req repositories.StockAdjustRequest) (domain.StockAdjustment, error) {
	results, err := r.AdjustBulk(ctx, []repositories.StockAdjustRequest{req})
	if err != nil {
		return domain.StockAdjustment{}, err
	}
	return results[0], nil
}

// AdjustBulk applies every adjustment inside one transaction. Adjustments to
// the same variant chain in request order. Any failure rolls back all writes.
func (r *InventoryRepository) AdjustBulk(ctx context.Context, reqs []repositories.StockAdjustRequest) ([]domain.StockAdjustment, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	if len(reqs) == 0 {
		return nil, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "inventory adjust: at least one adjustment is required", nil)
	}
	for _, req := range reqs {
		if err := validateAdjustRequest(req); err != nil {
			return nil, err
		}
	}

	var results []domain.StockAdjustment
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// All reads must precede writes within a Firestore transaction, so
		// variants are loaded up front and mutated in memory.
		docs := make(map[string]*variantDocument)
		for _, req := range reqs {
			variantID := strings.TrimSpace(req.VariantID)
			if _, ok := docs[variantID]; ok {
				continue
			}
			ref, err := r.variants.DocumentRef(ctx, variantID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
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
			docs[variantID] = &doc
		}

		results = results[:0]
		movements := make([]struct {
			id  string
			doc movementDocument
		}, 0, len(reqs))
		for _, req := range reqs {
			variantID := strings.TrimSpace(req.VariantID)
			doc := docs[variantID]

			before := doc.QuantityOnHand
			applied := req.Change
			clamped := false
			after := before + applied
			if after < 0 {
				if !req.AllowClamp {
					return repositories.NewInventoryError(repositories.InventoryErrorNegativeQuantity,
						fmt.Sprintf("variant %s has %d on hand, change %d would drop below zero", variantID, before, req.Change), nil)
				}
				applied = -before
				after = 0
				clamped = true
			}

			now := req.Now.UTC()
			doc.QuantityOnHand = after
			doc.UpdatedAt = now

			movement := movementDocument{
				VariantRef:     variantID,
				QuantityChange: applied,
				QuantityBefore: before,
				QuantityAfter:  after,
				Reason:         string(req.Reason),
				OrderRef:       req.OrderRef,
				ActorRef:       req.ActorRef,
				Note:           strings.TrimSpace(req.Note),
				Clamped:        clamped,
				OccurredAt:     now,
			}
			movements = append(movements, struct {
				id  string
				doc movementDocument
			}{id: req.MovementID, doc: movement})
			results = append(results, domain.StockAdjustment{
				Variant:  doc.toDomain(variantID),
				Movement: movement.toDomain(req.MovementID),
			})
		}

		for variantID, doc := range docs {
			ref, err := r.variants.DocumentRef(ctx, variantID)
			if err != nil {
				return err
			}
			if err := tx.Set(ref, *doc); err != nil {
				return err
			}
		}
		for _, m := range movements {
			ref, err := r.movements.DocumentRef(ctx, m.id)
			if err != nil {
				return err
			}
			if err := tx.Create(ref, m.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapInventoryError("inventory.adjust", err)
	}
	return results, nil
}

// GetVariant loads a single variant with its current stock level.
func (r *InventoryRepository) GetVariant(ctx context.Context, variantID string) (domain.Variant, error) {
	if r == nil || r.variants == nil {
		return domain.Variant{}, errors.New("inventory repository not initialised")
	}
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return domain.Variant{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "inventory get variant: id is required", nil)
	}

	doc, err := r.variants.Get(ctx, variantID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Variant{}, repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, fmt.Sprintf("variant %s not found", variantID), err)
		}
		return domain.Variant{}, wrapInventoryError("inventory.getVariant", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListVariants pages through stock levels, optionally scoped to a product or
// capped at a quantity threshold for low-stock reporting.
func (r *InventoryRepository) ListVariants(ctx context.Context, query repositories.VariantListQuery) (domain.CursorPage[domain.Variant], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Variant]{}, errors.New("inventory repository not initialised")
	}

	pageSize := clampPageSize(query.PageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Variant]{}, wrapInventoryError("inventory.listVariants", err)
	}

	fsQuery := client.Collection(variantsCollection).Query
	if ref := strings.TrimSpace(query.ProductRef); ref != "" {
		fsQuery = fsQuery.Where("productRef", "==", ref)
	}
	byQuantity := query.MaxQuantity != nil
	if byQuantity {
		fsQuery = fsQuery.Where("quantityOnHand", "<=", *query.MaxQuantity).
			OrderBy("quantityOnHand", firestore.Asc)
	}
	fsQuery = fsQuery.OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(query.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Variant]{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "inventory list variants: invalid page token", err)
		}
		start, err := variantCursorValues(cursor, byQuantity)
		if err != nil {
			return domain.CursorPage[domain.Variant]{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "inventory list variants: invalid page token", err)
		}
		if len(start) > 0 {
			fsQuery = fsQuery.StartAfter(start...)
		}
	}

	iter := fsQuery.Documents(ctx)
	defer iter.Stop()

	var variants []domain.Variant
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Variant]{}, wrapInventoryError("inventory.listVariants", err)
		}
		var doc variantDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Variant]{}, fmt.Errorf("decode variant %s: %w", snap.Ref.ID, err)
		}
		variants = append(variants, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(variants) > pageSize
	if hasMore {
		variants = variants[:pageSize]
	}
	var nextToken string
	if hasMore && len(variants) > 0 {
		last := variants[len(variants)-1]
		cursor := pagination.Cursor{StartAfter: []any{last.ID}}
		if byQuantity {
			cursor.StartAfter = []any{last.QuantityOnHand, last.ID}
		}
		encoded, err := pagination.EncodeToken(cursor)
		if err != nil {
			return domain.CursorPage[domain.Variant]{}, wrapInventoryError("inventory.listVariants", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Variant]{Items: variants, NextPageToken: nextToken}, nil
}

// ListMovements pages through the ledger, newest entries first.
func (r *InventoryRepository) ListMovements(ctx context.Context, filter repositories.MovementListFilter) (domain.CursorPage[domain.StockMovement], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.StockMovement]{}, errors.New("inventory repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, wrapInventoryError("inventory.listMovements", err)
	}

	fsQuery := client.Collection(movementsCollection).Query
	if ref := strings.TrimSpace(filter.VariantRef); ref != "" {
		fsQuery = fsQuery.Where("variantRef", "==", ref)
	}
	if ref := strings.TrimSpace(filter.OrderRef); ref != "" {
		fsQuery = fsQuery.Where("orderRef", "==", ref)
	}
	if len(filter.Reasons) > 0 {
		reasons := make([]string, 0, len(filter.Reasons))
		for _, reason := range filter.Reasons {
			if !reason.Valid() {
				return domain.CursorPage[domain.StockMovement]{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, fmt.Sprintf("inventory list movements: unknown reason %q", reason), nil)
			}
			reasons = append(reasons, string(reason))
		}
		fsQuery = fsQuery.Where("reason", "in", reasons)
	}
	if filter.DateRange.From != nil {
		fsQuery = fsQuery.Where("occurredAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		fsQuery = fsQuery.Where("occurredAt", "<=", filter.DateRange.To.UTC())
	}
	fsQuery = fsQuery.OrderBy("occurredAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.StockMovement]{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "inventory list movements: invalid page token", err)
		}
		start, err := movementCursorValues(cursor)
		if err != nil {
			return domain.CursorPage[domain.StockMovement]{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "inventory list movements: invalid page token", err)
		}
		if len(start) > 0 {
			fsQuery = fsQuery.StartAfter(start...)
		}
	}

	iter := fsQuery.Documents(ctx)
	defer iter.Stop()

	var movements []domain.StockMovement
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.StockMovement]{}, wrapInventoryError("inventory.listMovements", err)
		}
		var doc movementDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.StockMovement]{}, fmt.Errorf("decode stock movement %s: %w", snap.Ref.ID, err)
		}
		movements = append(movements, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(movements) > pageSize
	if hasMore {
		movements = movements[:pageSize]
	}
	var nextToken string
	if hasMore && len(movements) > 0 {
		last := movements[len(movements)-1]
		encoded, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.OccurredAt.UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.StockMovement]{}, wrapInventoryError("inventory.listMovements", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.StockMovement]{Items: movements, NextPageToken: nextToken}, nil
}

func validateAdjustRequest(req repositories.StockAdjustRequest) error {
	if strings.TrimSpace(req.MovementID) == "" {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "inventory adjust: movement id is required", nil)
	}
	if strings.TrimSpace(req.VariantID) == "" {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "inventory adjust: variant id is required", nil)
	}
	if req.Change == 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "inventory adjust: change must be non-zero", nil)
	}
	if !req.Reason.Valid() {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, fmt.Sprintf("inventory adjust: unknown reason %q", req.Reason), nil)
	}
	return nil
}

func clampPageSize(size int) int {
	if size <= 0 {
		return defaultListPageSize
	}
	if size > maxListPageSize {
		return maxListPageSize
	}
	return size
}

func variantCursorValues(cursor pagination.Cursor, byQuantity bool) ([]any, error) {
	if len(cursor.StartAfter) == 0 {
		return nil, nil
	}
	if byQuantity {
		if len(cursor.StartAfter) != 2 {
			return nil, fmt.Errorf("expected two cursor values, got %d", len(cursor.StartAfter))
		}
		quantity, ok := cursor.StartAfter[0].(float64)
		if !ok {
			return nil, fmt.Errorf("cursor quantity has type %T", cursor.StartAfter[0])
		}
		id, ok := cursor.StartAfter[1].(string)
		if !ok {
			return nil, fmt.Errorf("cursor id has type %T", cursor.StartAfter[1])
		}
		return []any{int64(quantity), id}, nil
	}
	id, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, fmt.Errorf("cursor id has type %T", cursor.StartAfter[0])
	}
	return []any{id}, nil
}

func movementCursorValues(cursor pagination.Cursor) ([]any, error) {
	if len(cursor.StartAfter) == 0 {
		return nil, nil
	}
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("expected two cursor values, got %d", len(cursor.StartAfter))
	}
	raw, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, fmt.Errorf("cursor timestamp has type %T", cursor.StartAfter[0])
	}
	occurredAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("cursor timestamp: %w", err)
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok {
		return nil, fmt.Errorf("cursor id has type %T", cursor.StartAfter[1])
	}
	return []any{occurredAt, id}, nil
}

// Document types ------------------------------------------------------------

type variantDocument struct {
	ProductRef     string            `firestore:"productRef"`
	ProductTitle   string            `firestore:"productTitle"`
	VariantTitle   string            `firestore:"variantTitle,omitempty"`
	Options        map[string]string `firestore:"options,omitempty"`
	UnitPrice      int64             `firestore:"unitPrice"`
	Currency       string            `firestore:"currency"`
	QuantityOnHand int64             `firestore:"quantityOnHand"`
	CreatedAt      time.Time         `firestore:"createdAt"`
	UpdatedAt      time.Time         `firestore:"updatedAt"`
}

func (d variantDocument) toDomain(id string) domain.Variant {
	return domain.Variant{
		ID:             id,
		ProductRef:     strings.TrimSpace(d.ProductRef),
		ProductTitle:   d.ProductTitle,
		VariantTitle:   d.VariantTitle,
		Options:        d.Options,
		UnitPrice:      d.UnitPrice,
		Currency:       d.Currency,
		QuantityOnHand: d.QuantityOnHand,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type movementDocument struct {
	VariantRef     string    `firestore:"variantRef"`
	QuantityChange int64     `firestore:"quantityChange"`
	QuantityBefore int64     `firestore:"quantityBefore"`
	QuantityAfter  int64     `firestore:"quantityAfter"`
	Reason         string    `firestore:"reason"`
	OrderRef       *string   `firestore:"orderRef,omitempty"`
	ActorRef       *string   `firestore:"actorRef,omitempty"`
	Note           string    `firestore:"note,omitempty"`
	Clamped        bool      `firestore:"clamped,omitempty"`
	OccurredAt     time.Time `firestore:"occurredAt"`
}

func (d movementDocument) toDomain(id string) domain.StockMovement {
	return domain.StockMovement{
		ID:             id,
		VariantRef:     d.VariantRef,
		QuantityChange: d.QuantityChange,
		QuantityBefore: d.QuantityBefore,
		QuantityAfter:  d.QuantityAfter,
		Reason:         domain.MovementReason(d.Reason),
		OrderRef:       d.OrderRef,
		ActorRef:       d.ActorRef,
		Note:           d.Note,
		Clamped:        d.Clamped,
		OccurredAt:     d.OccurredAt,
	}
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
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
