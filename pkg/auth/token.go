// Package auth mints and verifies the HS256 access tokens the API accepts.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore-backend/pkg/config"
)

var (
	// ErrTokenExpired lets callers tell a stale session from a forged one.
	ErrTokenExpired = errors.New("access token expired")
	ErrTokenInvalid = errors.New("access token invalid")
)

const clockSkew = 30 * time.Second

var signingMethod = jwt.SigningMethodHS256

// Codec holds a validated JWT configuration. Build one per process.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

func NewCodec(cfg config.JWTConfig) (*Codec, error) {
	var problems []string
	if cfg.Secret == "" {
		problems = append(problems, "secret is required")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		problems = append(problems, "issuer is required")
	}
	if cfg.Expiration() <= 0 {
		problems = append(problems, "expiration minutes must be positive")
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("jwt config: %s", strings.Join(problems, "; "))
	}

	c := &Codec{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.Expiration(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	return c, nil
}

func (c *Codec) TTL() time.Duration { return c.ttl }

// Mint signs a token for payload. A blank JTI gets a random one.
func (c *Codec) Mint(payload AccessTokenPayload) (string, error) {
	if payload.UserID == uuid.Nil {
		return "", fmt.Errorf("user id is required")
	}
	if err := checkActor(payload.Role, payload.MerchantID); err != nil {
		return "", err
	}
	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	issued := c.now()
	claims := AccessTokenClaims{
		UserID:     payload.UserID,
		Role:       payload.Role,
		MerchantID: payload.MerchantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(c.ttl)),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// Parse verifies raw and returns its claims. Errors wrap ErrTokenExpired or
// ErrTokenInvalid.
func (c *Codec) Parse(raw string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	_, err := c.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

// MintAccessToken is a one-shot Mint with an explicit clock, used by tooling
// and tests.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	c, err := NewCodec(cfg)
	if err != nil {
		return "", err
	}
	c.now = func() time.Time { return now }
	return c.Mint(payload)
}

func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	c, err := NewCodec(cfg)
	if err != nil {
		return nil, err
	}
	return c.Parse(raw)
}
