package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID     uuid.UUID
	Role       enums.ActorRole
	MerchantID *uuid.UUID
	JTI        string
}

// AccessTokenClaims represents the typed JWT presented by callers.
// Buyers use their buyer ID as UserID; merchants also carry MerchantID.
type AccessTokenClaims struct {
	UserID     uuid.UUID       `json:"user_id"`
	Role       enums.ActorRole `json:"role"`
	MerchantID *uuid.UUID      `json:"merchant_id,omitempty"`
	jwt.RegisteredClaims
}

// Validate runs after signature and time checks. jwt/v5 calls it through the
// ClaimsValidator hook.
func (c AccessTokenClaims) Validate() error {
	if c.UserID == uuid.Nil {
		return fmt.Errorf("user id missing")
	}
	if c.Subject != "" && c.Subject != c.UserID.String() {
		return fmt.Errorf("subject does not match user id")
	}
	return checkActor(c.Role, c.MerchantID)
}

func checkActor(role enums.ActorRole, merchantID *uuid.UUID) error {
	if !role.IsValid() {
		return fmt.Errorf("invalid actor role %q", role)
	}
	if role == enums.ActorMerchant && (merchantID == nil || *merchantID == uuid.Nil) {
		return fmt.Errorf("merchant tokens require a merchant id")
	}
	return nil
}
