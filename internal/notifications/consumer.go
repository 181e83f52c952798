package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/registry"
)

const notificationConsumer = "marketplace-notifications"

type payloadDecoder interface {
	DecodePayload(eventType enums.OutboxEventType, data json.RawMessage) (any, error)
}

type processedMarker interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.Claim, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer turns marketplace events into inbox entries and outbound messages.
// Delivery is at most once: a Sender failure is logged and the event acked.
type Consumer struct {
	repo         Repository
	subscription *pubsub.Subscriber
	decoder      payloadDecoder
	idempotency  processedMarker
	sender       Sender
	logg         *logger.Logger
}

// NewConsumer builds a notification consumer. subscription may be nil for
// callers that feed messages through Handle.
func NewConsumer(repo Repository, subscription *pubsub.Subscriber, decoder payloadDecoder, manager processedMarker, sender Sender, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if decoder == nil {
		return nil, fmt.Errorf("event decoder required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		decoder:      decoder,
		idempotency:  manager,
		sender:       sender,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("notification subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.Handle(ctx, msg.ID, msg.Attributes["event_type"], msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Handle processes one delivery and reports whether it should be acked.
func (c *Consumer) Handle(ctx context.Context, messageID, eventType string, data []byte) bool {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	envelope, err := outbox.DecodeEnvelope(data)
	if err != nil {
		c.logg.Error(logCtx, "dropping malformed envelope", err)
		return true
	}
	eventID := envelope.ID()

	payload, err := c.decoder.DecodePayload(enums.OutboxEventType(eventType), envelope.Data)
	if err != nil {
		var nonRetryable registry.NonRetryableError
		if errors.As(err, &nonRetryable) {
			c.logg.WarnErr(logCtx, "skipping undecodable event", err)
			return true
		}
		c.logg.Error(logCtx, "failed to decode payload", err)
		return false
	}

	claim, err := c.idempotency.Claim(ctx, notificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	switch claim {
	case idempotency.AlreadyDone:
		c.logg.Info(logCtx, "event already processed")
		return true
	case idempotency.InProgress:
		c.logg.Debug(logCtx, "event held by another delivery")
		return false
	}

	msgs, err := c.compose(ctx, eventID, enums.OutboxEventType(eventType), payload)
	if err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.idempotency.Release(ctx, notificationConsumer, eventID)
		return false
	}

	for _, msg := range msgs {
		if msg.Audience == AudienceMerchant {
			if _, err := c.repo.Create(ctx, inboxEntry(msg)); err != nil {
				c.logg.Error(logCtx, "failed to store inbox entry", err)
				_ = c.idempotency.Release(ctx, notificationConsumer, eventID)
				return false
			}
		}
		if err := c.sender.Send(ctx, msg); err != nil {
			c.logg.Error(c.logg.WithField(logCtx, "audience", string(msg.Audience)), "notification delivery failed", err)
		}
	}
	if err := c.idempotency.Complete(ctx, notificationConsumer, eventID); err != nil {
		c.logg.WarnErr(logCtx, "failed to mark event done", err)
	}
	return true
}

func (c *Consumer) compose(ctx context.Context, eventID uuid.UUID, eventType enums.OutboxEventType, payload any) ([]Message, error) {
	base := Message{EventID: eventID, EventType: eventType}

	switch p := payload.(type) {
	case *payloads.OrderCreatedEvent:
		msg, err := c.forStore(ctx, base, p.StoreID, p.OrderID)
		if err != nil {
			return nil, err
		}
		msg.Title = fmt.Sprintf("New order #%d", p.StoreSequence)
		msg.Body = fmt.Sprintf("Order #%d for %s (%s) is waiting to be accepted.", p.StoreSequence, p.Total.StringFixed(2), p.PaymentMethod)
		return []Message{msg}, nil

	case *payloads.OrderStatusChangedEvent:
		msg := forBuyer(base, p.BuyerID, p.StoreID, p.OrderID)
		msg.Title = fmt.Sprintf("Your order is %s", p.To)
		msg.Body = fmt.Sprintf("Order %s moved from %s to %s.", p.OrderID, p.From, p.To)
		if p.PaymentLink != nil {
			msg.Body += " Complete your payment at " + *p.PaymentLink
		}
		return []Message{msg}, nil

	case *payloads.OrderCancelledEvent:
		if p.CancelledByStore {
			msg := forBuyer(base, p.BuyerID, p.StoreID, p.OrderID)
			msg.Title = "Your order was cancelled"
			msg.Body = fmt.Sprintf("The store cancelled order %s: %s", p.OrderID, p.Reason)
			return []Message{msg}, nil
		}
		msg, err := c.forStore(ctx, base, p.StoreID, p.OrderID)
		if err != nil {
			return nil, err
		}
		msg.Title = "Order cancelled"
		msg.Body = fmt.Sprintf("Order %s was cancelled: %s", p.OrderID, p.Reason)
		return []Message{msg}, nil

	case *payloads.LedgerThresholdEvent:
		msg := base
		msg.Audience = AudienceMerchant
		msg.MerchantID = p.MerchantID
		if eventType == enums.EventLedgerThresholdReached {
			msg.Title = "Your stores stopped taking orders"
			msg.Body = fmt.Sprintf("Your balance of %s is at or below the %s threshold. Top up to reopen your stores.", p.Balance.StringFixed(2), p.Threshold.StringFixed(2))
		} else {
			msg.Title = "Your balance is running low"
			msg.Body = fmt.Sprintf("Your balance of %s is close to the %s threshold.", p.Balance.StringFixed(2), p.Threshold.StringFixed(2))
		}
		return []Message{msg}, nil

	case *payloads.PaymentRecordedEvent:
		msg := base
		msg.Audience = AudienceMerchant
		msg.MerchantID = p.MerchantID
		msg.OrderID = p.OrderID
		msg.Title = fmt.Sprintf("Payment %s", p.Status.Name())
		msg.Body = fmt.Sprintf("A %s payment of %s is now %s.", p.Purpose, p.Amount.StringFixed(2), p.Status.Name())
		return []Message{msg}, nil
	}
	return nil, nil
}

func (c *Consumer) forStore(ctx context.Context, base Message, storeID, orderID uuid.UUID) (Message, error) {
	merchantID, err := c.repo.MerchantForStore(ctx, storeID)
	if err != nil {
		return Message{}, fmt.Errorf("resolve merchant for store %s: %w", storeID, err)
	}
	base.Audience = AudienceMerchant
	base.MerchantID = merchantID
	base.StoreID = &storeID
	base.OrderID = &orderID
	return base, nil
}

func forBuyer(base Message, buyerID, storeID, orderID uuid.UUID) Message {
	base.Audience = AudienceBuyer
	base.BuyerID = &buyerID
	base.StoreID = &storeID
	base.OrderID = &orderID
	return base
}

func inboxEntry(msg Message) *models.Notification {
	return &models.Notification{
		MerchantID: msg.MerchantID,
		StoreID:    msg.StoreID,
		OrderID:    msg.OrderID,
		EventID:    msg.EventID,
		EventType:  msg.EventType,
		Title:      msg.Title,
		Message:    msg.Body,
	}
}
