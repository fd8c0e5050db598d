// Package hasher implements the credential hashers used for account
// passwords and refresh tokens.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches the work factor the accounts were originally hashed with.
const DefaultBcryptCost = 10

// ErrInvalidDigest is returned by Verify when the stored digest cannot be parsed.
var ErrInvalidDigest = errors.New("invalid credential digest")

// Bcrypt hashes secrets with bcrypt. bcrypt only looks at the first 72
// bytes and refuses longer input, while refresh tokens are well past that,
// so every secret is reduced to a base64 SHA-256 digest (44 bytes) first.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a bcrypt hasher. Out-of-range costs fall back to DefaultBcryptCost.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &Bcrypt{cost: cost}
}

func (b *Bcrypt) Hash(_ context.Context, secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword(prehash(secret), b.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(h), nil
}

func (b *Bcrypt) Verify(_ context.Context, secret, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), prehash(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrInvalidDigest
	}
}

func prehash(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}
