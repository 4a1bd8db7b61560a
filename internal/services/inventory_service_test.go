package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/cedarmarket/api/internal/domain"
	"github.com/cedarmarket/api/internal/repositories"
)

func newInventoryServiceForTest(t *testing.T, inventory *stubInventory, publisher *capturePublisher) InventoryService {
	t.Helper()
	svc, err := NewInventoryService(InventoryServiceDeps{
		Inventory:   inventory,
		Clock:       testClock(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)),
		IDGenerator: sequentialIDs(),
		Events:      publisher,
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	return svc
}

func echoAdjustments(_ context.Context, reqs []repositories.StockAdjustRequest) ([]domain.StockAdjustment, error) {
	results := make([]domain.StockAdjustment, 0, len(reqs))
	for _, req := range reqs {
		before := int64(10)
		results = append(results, domain.StockAdjustment{
			Variant: domain.Variant{ID: req.VariantID, QuantityOnHand: before + req.Change},
			Movement: domain.StockMovement{
				ID:             req.MovementID,
				VariantRef:     req.VariantID,
				QuantityChange: req.Change,
				QuantityBefore: before,
				QuantityAfter:  before + req.Change,
				Reason:         req.Reason,
				ActorRef:       req.ActorRef,
				Note:           req.Note,
				OccurredAt:     req.Now,
			},
		})
	}
	return results, nil
}

func TestAdjustAppendsMovementAndPublishes(t *testing.T) {
	inventory := &stubInventory{adjustBulkFn: echoAdjustments}
	publisher := &capturePublisher{}
	svc := newInventoryServiceForTest(t, inventory, publisher)

	result, err := svc.Adjust(context.Background(), AdjustStockCommand{
		VariantID: "var_mug",
		Change:    5,
		Reason:    domain.MovementReasonRestock,
		Note:      "weekly delivery",
		ActorID:   "admin_1",
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}

	if !strings.HasPrefix(result.Movement.ID, "mov_") {
		t.Fatalf("expected mov_ movement id, got %s", result.Movement.ID)
	}
	if result.Movement.QuantityAfter != result.Movement.QuantityBefore+result.Movement.QuantityChange {
		t.Fatalf("ledger invariant broken: %+v", result.Movement)
	}
	if result.Movement.ActorRef == nil || *result.Movement.ActorRef != "admin_1" {
		t.Fatalf("expected actor ref admin_1, got %v", result.Movement.ActorRef)
	}
	want := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	if !result.Movement.OccurredAt.Equal(want) {
		t.Fatalf("expected occurredAt %v, got %v", want, result.Movement.OccurredAt)
	}

	if len(publisher.stockEvents) != 1 {
		t.Fatalf("expected one stock event, got %d", len(publisher.stockEvents))
	}
	event := publisher.stockEvents[0]
	if event.Type != "inventory.stock.adjusted" || event.Change != 5 || event.After != 15 {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestAdjustValidatesInput(t *testing.T) {
	inventory := &stubInventory{}
	svc := newInventoryServiceForTest(t, inventory, &capturePublisher{})

	cases := map[string]AdjustStockCommand{
		"missing variant": {Change: 1, Reason: domain.MovementReasonRestock},
		"zero change":     {VariantID: "var_mug", Reason: domain.MovementReasonRestock},
		"unknown reason":  {VariantID: "var_mug", Change: 1, Reason: "shrinkage"},
	}
	for name, cmd := range cases {
		if _, err := svc.Adjust(context.Background(), cmd); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	if len(inventory.adjustBulkCalls) != 0 {
		t.Fatalf("expected no repository calls, got %d", len(inventory.adjustBulkCalls))
	}
}

func TestAdjustMapsNegativeQuantityToConflict(t *testing.T) {
	inventory := &stubInventory{
		adjustBulkFn: func(context.Context, []repositories.StockAdjustRequest) ([]domain.StockAdjustment, error) {
			return nil, repositories.NewInventoryError(repositories.InventoryErrorNegativeQuantity, "variant var_mug has 3 on hand", nil)
		},
	}
	publisher := &capturePublisher{}
	svc := newInventoryServiceForTest(t, inventory, publisher)

	_, err := svc.Adjust(context.Background(), AdjustStockCommand{
		VariantID: "var_mug",
		Change:    -5,
		Reason:    domain.MovementReasonDamage,
	})
	if !errors.Is(err, ErrStockConflict) {
		t.Fatalf("expected stock conflict, got %v", err)
	}
	if len(publisher.stockEvents) != 0 {
		t.Fatalf("expected no event after failed adjustment, got %d", len(publisher.stockEvents))
	}
}

func TestAdjustBulkUsesOneRepositoryCall(t *testing.T) {
	inventory := &stubInventory{adjustBulkFn: echoAdjustments}
	publisher := &capturePublisher{}
	svc := newInventoryServiceForTest(t, inventory, publisher)

	results, err := svc.AdjustBulk(context.Background(), []AdjustStockCommand{
		{VariantID: "var_mug", Change: 5, Reason: domain.MovementReasonRestock},
		{VariantID: "var_plate", Change: -2, Reason: domain.MovementReasonDamage, AllowClamp: true},
	})
	if err != nil {
		t.Fatalf("adjust bulk: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if len(inventory.adjustBulkCalls) != 1 || len(inventory.adjustBulkCalls[0]) != 2 {
		t.Fatalf("expected one call with 2 requests, got %+v", inventory.adjustBulkCalls)
	}
	if !inventory.adjustBulkCalls[0][1].AllowClamp {
		t.Fatalf("expected clamp flag forwarded on second request")
	}
	if len(publisher.stockEvents) != 2 {
		t.Fatalf("expected 2 stock events, got %d", len(publisher.stockEvents))
	}
}

func TestGetVariantMapsNotFound(t *testing.T) {
	inventory := &stubInventory{
		getVariantFn: func(_ context.Context, variantID string) (domain.Variant, error) {
			return domain.Variant{}, repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, "variant "+variantID+" not found", nil)
		},
	}
	svc := newInventoryServiceForTest(t, inventory, &capturePublisher{})

	_, err := svc.GetVariant(context.Background(), "var_missing")
	if !errors.Is(err, ErrVariantNotFound) {
		t.Fatalf("expected variant not found, got %v", err)
	}
}

func TestListMovementsPassesFilterThrough(t *testing.T) {
	var captured repositories.MovementListFilter
	inventory := &stubInventory{
		listMovFn: func(_ context.Context, filter repositories.MovementListFilter) (domain.CursorPage[domain.StockMovement], error) {
			captured = filter
			return domain.CursorPage[domain.StockMovement]{
				Items: []domain.StockMovement{{ID: "mov_1", Reason: domain.MovementReasonSale}},
			}, nil
		},
	}
	svc := newInventoryServiceForTest(t, inventory, &capturePublisher{})

	page, err := svc.ListMovements(context.Background(), MovementListFilter{
		VariantRef: "var_mug",
		Reasons:    []domain.MovementReason{domain.MovementReasonSale},
	})
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "mov_1" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if captured.VariantRef != "var_mug" || len(captured.Reasons) != 1 {
		t.Fatalf("filter not forwarded: %+v", captured)
	}
}
