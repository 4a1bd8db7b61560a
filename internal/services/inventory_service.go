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

const stockEventAdjusted = "inventory.stock.adjusted"

// ErrStockConflict indicates a decrement would drive quantity below zero and
// clamping was not allowed.
var ErrStockConflict = errors.New("inventory: stock conflict")

// InventoryServiceDeps bundles collaborators required to construct the inventory service.
type InventoryServiceDeps struct {
	Inventory   repositories.InventoryRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      Logger
}

type inventoryService struct {
	inventory repositories.InventoryRepository
	clock     func() time.Time
	newID     func() string
	events    EventPublisher
	logger    Logger
}

var _ InventoryService = (*inventoryService)(nil)

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
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

	return &inventoryService{
		inventory: deps.Inventory,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// Adjust applies one manual stock change and appends its ledger entry.
func (s *inventoryService) Adjust(ctx context.Context, cmd AdjustStockCommand) (domain.StockAdjustment, error) {
	results, err := s.AdjustBulk(ctx, []AdjustStockCommand{cmd})
	if err != nil {
		return domain.StockAdjustment{}, err
	}
	return results[0], nil
}

// AdjustBulk applies every change in a single transaction. One failing line
// aborts the whole batch.
func (s *inventoryService) AdjustBulk(ctx context.Context, cmds []AdjustStockCommand) ([]domain.StockAdjustment, error) {
	if len(cmds) == 0 {
		return nil, fmt.Errorf("%w: at least one adjustment is required", ErrValidation)
	}

	now := s.clock()
	reqs := make([]repositories.StockAdjustRequest, 0, len(cmds))
	for i, cmd := range cmds {
		variantID := strings.TrimSpace(cmd.VariantID)
		if variantID == "" {
			return nil, fmt.Errorf("%w: adjustment %d: variant id is required", ErrValidation, i)
		}
		if cmd.Change == 0 {
			return nil, fmt.Errorf("%w: adjustment %d: change must be non-zero", ErrValidation, i)
		}
		if !cmd.Reason.Valid() {
			return nil, fmt.Errorf("%w: adjustment %d: unknown reason %q", ErrValidation, i, cmd.Reason)
		}
		reqs = append(reqs, repositories.StockAdjustRequest{
			MovementID: movementIDPrefix + s.newID(),
			VariantID:  variantID,
			Change:     cmd.Change,
			Reason:     cmd.Reason,
			ActorRef:   actorRef(cmd.ActorID),
			Note:       strings.TrimSpace(cmd.Note),
			AllowClamp: cmd.AllowClamp,
			Now:        now,
		})
	}

	results, err := s.inventory.AdjustBulk(ctx, reqs)
	if err != nil {
		return nil, s.mapInventoryError(err)
	}

	for _, result := range results {
		s.logger(ctx, "stock.adjusted", map[string]any{
			"variant_id":  result.Variant.ID,
			"movement_id": result.Movement.ID,
			"change":      result.Movement.QuantityChange,
			"after":       result.Movement.QuantityAfter,
			"reason":      string(result.Movement.Reason),
			"clamped":     result.Movement.Clamped,
		})
		s.publishStockEvent(ctx, domain.StockEvent{
			Type:       stockEventAdjusted,
			VariantRef: result.Variant.ID,
			MovementID: result.Movement.ID,
			Change:     result.Movement.QuantityChange,
			After:      result.Movement.QuantityAfter,
			Reason:     result.Movement.Reason,
			OccurredAt: result.Movement.OccurredAt,
		})
	}

	return results, nil
}

// GetVariant returns one stock record.
func (s *inventoryService) GetVariant(ctx context.Context, variantID string) (domain.Variant, error) {
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return domain.Variant{}, fmt.Errorf("%w: variant id is required", ErrValidation)
	}

	variant, err := s.inventory.GetVariant(ctx, variantID)
	if err != nil {
		return domain.Variant{}, s.mapInventoryError(err)
	}
	return variant, nil
}

// ListVariants pages through stock levels.
func (s *inventoryService) ListVariants(ctx context.Context, query VariantListQuery) (domain.CursorPage[domain.Variant], error) {
	page, err := s.inventory.ListVariants(ctx, query)
	if err != nil {
		return domain.CursorPage[domain.Variant]{}, s.mapInventoryError(err)
	}
	return page, nil
}

// ListMovements pages through the movement ledger.
func (s *inventoryService) ListMovements(ctx context.Context, filter MovementListFilter) (domain.CursorPage[domain.StockMovement], error) {
	page, err := s.inventory.ListMovements(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, s.mapInventoryError(err)
	}
	return page, nil
}

func (s *inventoryService) mapInventoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorVariantNotFound:
			return fmt.Errorf("%w: %v", ErrVariantNotFound, err)
		case repositories.InventoryErrorNegativeQuantity:
			return fmt.Errorf("%w: %v", ErrStockConflict, err)
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %v", ErrInsufficientStock, err)
		case repositories.InventoryErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrVariantNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrStockConflict, err)
		}
	}

	return err
}

func (s *inventoryService) publishStockEvent(ctx context.Context, event domain.StockEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishStockEvent(ctx, event); err != nil {
		s.logger(ctx, "stock.event.publish.failed", map[string]any{
			"type":        event.Type,
			"variant_id":  event.VariantRef,
			"movement_id": event.MovementID,
			"error":       err.Error(),
		})
	}
}
