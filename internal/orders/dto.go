package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox"
	"github.com/angelmondragon/marketcore-backend/pkg/types"
)

// Actor is the authenticated caller acting on an order.
type Actor struct {
	UserID     uuid.UUID
	Role       enums.ActorRole
	MerchantID *uuid.UUID
}

// SystemActor is used for transitions driven by payment callbacks.
var SystemActor = Actor{Role: enums.ActorSystem}

func (a Actor) manages(order *models.Order) bool {
	switch a.Role {
	case enums.ActorAdmin, enums.ActorSystem:
		return true
	case enums.ActorMerchant:
		return a.MerchantID != nil && *a.MerchantID == order.MerchantID
	}
	return false
}

func (a Actor) owns(order *models.Order) bool {
	return a.Role == enums.ActorBuyer && a.UserID == order.BuyerID
}

func (a Actor) ref(storeID uuid.UUID) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: a.UserID, StoreID: &storeID, Role: a.Role}
}

// ShippingOptions are the parcel details a merchant supplies when shipping
// through the courier network.
type ShippingOptions struct {
	VehicleClass    enums.VehicleClass
	WeightKG        int
	MotoboxRequired bool
}

// ChangeStatusInput advances an order one step.
type ChangeStatusInput struct {
	OrderID  uuid.UUID
	Actor    Actor
	Shipping ShippingOptions
}

// CancelInput cancels an order.
type CancelInput struct {
	OrderID uuid.UUID
	Reason  string
	Actor   Actor
}

// LineItemDTO is the API view of an order line.
type LineItemDTO struct {
	ItemID     uuid.UUID                `json:"item_id"`
	PageNumber int                      `json:"page_number"`
	Name       string                   `json:"name"`
	Quantity   int                      `json:"quantity"`
	UnitPrice  decimal.Decimal          `json:"unit_price"`
	Options    []models.OptionSurcharge `json:"options,omitempty"`
	LineTotal  decimal.Decimal          `json:"line_total"`
}

// OrderDTO is the API view of an order.
type OrderDTO struct {
	ID               uuid.UUID            `json:"id"`
	BuyerID          uuid.UUID            `json:"buyer_id"`
	StoreID          uuid.UUID            `json:"store_id"`
	Status           enums.OrderStatus    `json:"status"`
	PaymentMethod    enums.PaymentMethod  `json:"payment_method"`
	DeliveryMethod   enums.DeliveryMethod `json:"delivery_method"`
	Currency         string               `json:"currency"`
	Subtotal         decimal.Decimal      `json:"subtotal"`
	TransactionFee   decimal.Decimal      `json:"transaction_fee"`
	DeliveryPrice    decimal.Decimal      `json:"delivery_price"`
	DeliveryDiscount decimal.Decimal      `json:"delivery_discount"`
	OrderDiscount    decimal.Decimal      `json:"order_discount"`
	Total            decimal.Decimal      `json:"total"`
	PaymentLink      *string              `json:"payment_link,omitempty"`
	CourierBookingID *string              `json:"courier_booking_id,omitempty"`
	StoreSequence    int64                `json:"store_sequence"`
	BuyerSequence    int64                `json:"buyer_sequence"`
	Dropoff          types.DeliveryPoint  `json:"dropoff"`
	CancelReason     *string              `json:"cancel_reason,omitempty"`
	CancelledByStore *bool                `json:"cancelled_by_store,omitempty"`
	CancelledAt      *time.Time           `json:"cancelled_at,omitempty"`
	Items            []LineItemDTO        `json:"items,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// FromModel maps an order row to its API view.
func FromModel(o *models.Order) OrderDTO {
	dto := OrderDTO{
		ID:               o.ID,
		BuyerID:          o.BuyerID,
		StoreID:          o.StoreID,
		Status:           o.Status,
		PaymentMethod:    o.PaymentMethod,
		DeliveryMethod:   o.DeliveryMethod,
		Currency:         o.Currency,
		Subtotal:         o.Subtotal,
		TransactionFee:   o.TransactionFee,
		DeliveryPrice:    o.DeliveryPrice,
		DeliveryDiscount: o.DeliveryDiscount,
		OrderDiscount:    o.OrderDiscount,
		Total:            o.Total,
		PaymentLink:      o.PaymentLink,
		CourierBookingID: o.CourierBookingID,
		StoreSequence:    o.StoreSequence,
		BuyerSequence:    o.BuyerSequence,
		Dropoff:          o.Dropoff,
		CancelReason:     o.CancelReason,
		CancelledByStore: o.CancelledByStore,
		CancelledAt:      o.CancelledAt,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	for _, item := range o.Items {
		dto.Items = append(dto.Items, LineItemDTO{
			ItemID:     item.ItemID,
			PageNumber: item.PageNumber,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Options:    item.Options,
			LineTotal:  item.LineTotal,
		})
	}
	return dto
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderDTO `json:"orders"`
	NextCursor string     `json:"next_cursor,omitempty"`
}
