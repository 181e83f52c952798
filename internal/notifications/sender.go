package notifications

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
)

// Audience is who a message is addressed to.
type Audience string

const (
	AudienceMerchant Audience = "merchant"
	AudienceBuyer    Audience = "buyer"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	EventID    uuid.UUID
	EventType  enums.OutboxEventType
	Audience   Audience
	MerchantID uuid.UUID
	BuyerID    *uuid.UUID
	StoreID    *uuid.UUID
	OrderID    *uuid.UUID
	Title      string
	Body       string
}

// Sender delivers a message outside the platform (email, push, chat).
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the structured log. It stands in for a real
// delivery channel in development and in deployments without one.
type LogSender struct {
	logg *logger.Logger
}

func NewLogSender(logg *logger.Logger) *LogSender {
	return &LogSender{logg: logg}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if s.logg == nil {
		return nil
	}
	fields := map[string]any{
		"event_id":   msg.EventID.String(),
		"event_type": string(msg.EventType),
		"audience":   string(msg.Audience),
		"title":      msg.Title,
	}
	if msg.MerchantID != uuid.Nil {
		fields["merchant_id"] = msg.MerchantID.String()
	}
	if msg.BuyerID != nil {
		fields["buyer_id"] = msg.BuyerID.String()
	}
	if msg.OrderID != nil {
		fields["order_id"] = msg.OrderID.String()
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), msg.Body)
	return nil
}
