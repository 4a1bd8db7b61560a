package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/cedarmarket/api/internal/domain"
)

// PubSubEventPublisher publishes order and stock events to Pub/Sub topics.
type PubSubEventPublisher struct {
	orderTopic *pubsub.Topic
	stockTopic *pubsub.Topic
	marshal    func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubEventPublisher(orderTopic, stockTopic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if orderTopic == nil {
		return nil, errors.New("pubsub event publisher: order topic is required")
	}
	if stockTopic == nil {
		return nil, errors.New("pubsub event publisher: stock topic is required")
	}
	return &PubSubEventPublisher{
		orderTopic: orderTopic,
		stockTopic: stockTopic,
		marshal:    json.Marshal,
	}, nil
}

type orderEventEnvelope struct {
	Type        string         `json:"type"`
	OrderID     string         `json:"orderId"`
	OrderNumber string         `json:"orderNumber"`
	UserID      string         `json:"userId"`
	Status      string         `json:"status"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Payload     map[string]any `json:"payload,omitempty"`
}

type stockEventEnvelope struct {
	Type       string    `json:"type"`
	VariantID  string    `json:"variantId"`
	MovementID string    `json:"movementId"`
	Change     int64     `json:"change"`
	After      int64     `json:"after"`
	Reason     string    `json:"reason"`
	OrderID    string    `json:"orderId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// PublishOrderEvent enqueues an order lifecycle event on the orders topic.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error) {
	if p == nil || p.orderTopic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}

	envelope := orderEventEnvelope{
		Type:        event.Type,
		OrderID:     event.OrderID,
		OrderNumber: event.OrderNumber,
		UserID:      event.UserID,
		Status:      string(event.Status),
		OccurredAt:  event.OccurredAt,
		Payload:     event.Payload,
	}
	data, err := p.marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "status", string(event.Status))

	return p.publish(ctx, p.orderTopic, data, attrs, "order")
}

// PublishStockEvent enqueues a stock ledger event on the inventory topic.
func (p *PubSubEventPublisher) PublishStockEvent(ctx context.Context, event domain.StockEvent) (string, error) {
	if p == nil || p.stockTopic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}

	envelope := stockEventEnvelope{
		Type:       event.Type,
		VariantID:  event.VariantRef,
		MovementID: event.MovementID,
		Change:     event.Change,
		After:      event.After,
		Reason:     string(event.Reason),
		OccurredAt: event.OccurredAt,
	}
	if event.OrderRef != nil {
		envelope.OrderID = *event.OrderRef
	}
	data, err := p.marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal stock event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "variantId", event.VariantRef)
	setAttr(attrs, "movementId", event.MovementID)
	setAttr(attrs, "reason", string(event.Reason))
	setAttr(attrs, "orderId", envelope.OrderID)

	return p.publish(ctx, p.stockTopic, data, attrs, "stock")
}

func (p *PubSubEventPublisher) publish(ctx context.Context, topic *pubsub.Topic, data []byte, attrs map[string]string, kind string) (string, error) {
	result := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s event: %w", kind, err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// NoopEventPublisher discards events. Used when event publishing is disabled.
type NoopEventPublisher struct{}

// PublishOrderEvent implements the publisher contract without side effects.
func (NoopEventPublisher) PublishOrderEvent(context.Context, domain.OrderEvent) (string, error) {
	return "", nil
}

// PublishStockEvent implements the publisher contract without side effects.
func (NoopEventPublisher) PublishStockEvent(context.Context, domain.StockEvent) (string, error) {
	return "", nil
}
