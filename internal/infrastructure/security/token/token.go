// Package token issues and verifies the HS256 JWTs handed to account holders.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/storefront/accounts-api/internal/core/domain"
)

const (
	DefaultAccessTTL  = 20 * time.Minute
	DefaultRefreshTTL = 10 * 24 * time.Hour
)

var errEmptyKey = errors.New("token: signing key is empty")

// jwtClaims is the wire form of domain.Claims.
type jwtClaims struct {
	AccountID int64  `json:"accountId"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Sign builds a JWT for claims, signed with key and valid for ttl from now.
func Sign(claims domain.Claims, key []byte, ttl time.Duration, now time.Time) (string, error) {
	if len(key) == 0 {
		return "", errEmptyKey
	}
	c := &jwtClaims{
		AccountID: claims.AccountID,
		Role:      claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(claims.AccountID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies tokenString against key and returns its claims. Any
// signature, structure, algorithm or expiry failure wraps domain.ErrInvalidToken.
func Parse(tokenString string, key []byte, now time.Time) (*domain.Claims, error) {
	if len(key) == 0 {
		return nil, errEmptyKey
	}

	c := &jwtClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, c,
		func(t *jwt.Token) (interface{}, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidToken, reason(err))
	}
	if !parsed.Valid || c.AccountID == 0 {
		return nil, domain.ErrInvalidToken
	}
	return &domain.Claims{AccountID: c.AccountID, Role: c.Role}, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad signature"
	default:
		return "rejected"
	}
}
