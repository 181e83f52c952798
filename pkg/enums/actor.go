package enums

import "fmt"

// ActorRole is the caller role carried in access tokens.
type ActorRole string

const (
	ActorBuyer    ActorRole = "buyer"
	ActorMerchant ActorRole = "merchant"
	ActorAdmin    ActorRole = "admin"
	ActorSystem   ActorRole = "system"
)

// IsValid reports whether the role may appear in a token.
func (r ActorRole) IsValid() bool {
	switch r {
	case ActorBuyer, ActorMerchant, ActorAdmin:
		return true
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	r := ActorRole(value)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid actor role %q", value)
	}
	return r, nil
}
