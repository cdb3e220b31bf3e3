package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// OwnerID resolves the claims to the owner uuid, trying user_id first and
// falling back to the registered subject.
func (c *Claims) OwnerID() (uuid.UUID, bool) {
	for _, raw := range []string{c.UserID, c.Subject} {
		if raw == "" {
			continue
		}
		if id, err := uuid.Parse(raw); err == nil {
			return id, true
		}
	}
	return uuid.UUID{}, false
}

// NewToken mints a signed token for an owner. Used by tests and external
// token issuers; this service itself never signs in users.
func NewToken(secret, issuer string, ownerID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	cl := Claims{
		UserID: ownerID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   ownerID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	return token.SignedString([]byte(secret))
}
