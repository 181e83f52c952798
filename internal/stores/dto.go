package stores

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/types"
)

// StoreDTO exposes the public store fields in API responses.
type StoreDTO struct {
	ID                     uuid.UUID           `json:"id"`
	MerchantID             uuid.UUID           `json:"merchant_id"`
	Name                   string              `json:"name"`
	IsPublic               bool                `json:"is_public"`
	VacationMode           bool                `json:"vacation_mode"`
	DeliveryMethods        []string            `json:"delivery_methods"`
	PaymentMethods         []string            `json:"payment_methods"`
	CreditThresholdReached bool                `json:"credit_threshold_reached"`
	Pickup                 types.DeliveryPoint `json:"pickup"`
}

// FromModel maps the persisted store into a DTO.
func FromModel(m *models.Store) *StoreDTO {
	if m == nil {
		return nil
	}
	return &StoreDTO{
		ID:                     m.ID,
		MerchantID:             m.MerchantID,
		Name:                   m.Name,
		IsPublic:               m.IsPublic,
		VacationMode:           m.VacationMode,
		DeliveryMethods:        append([]string{}, m.DeliveryMethods...),
		PaymentMethods:         append([]string{}, m.PaymentMethods...),
		CreditThresholdReached: m.CreditThresholdReached,
		Pickup:                 m.Pickup,
	}
}
