// Package token signs the bearer tokens sent with hook deliveries. Each
// subscription's hook token is the HS256 key, so a target can check that a
// call came from the registry and was meant for its subscription.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "vcr/pkg/domain-errors"
)

const issuer = "vcr"

// Claims identify the subscription and event a delivery belongs to.
type Claims struct {
	SubscriptionID string `json:"subscription_id"`
	EventID        string `json:"event_id"`
	jwt.RegisteredClaims
}

// Signer issues short-lived delivery tokens.
type Signer struct {
	ttl time.Duration
	now func() time.Time
}

func NewSigner(ttl time.Duration) *Signer {
	return &Signer{ttl: ttl, now: time.Now}
}

// Sign returns a token for one delivery to target.
func (s *Signer) Sign(key string, subscriptionID uuid.UUID, eventID, target string) (string, error) {
	if key == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "hook token is empty")
	}
	now := s.now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		SubscriptionID: subscriptionID.String(),
		EventID:        eventID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Audience:  []string{target},
			ID:        uuid.NewString(),
		},
	})
	return t.SignedString([]byte(key))
}

// Verify parses a delivery token signed with key.
func Verify(key, tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return []byte(key), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}
