package ports

import (
	"context"

	"github.com/storefront/accounts-api/internal/core/domain"
)

// CredentialHasher performs one-way, salted, deliberately slow hashing of
// secrets (passwords and refresh tokens).
type CredentialHasher interface {
	Hash(ctx context.Context, secret string) (string, error)
	// Verify reports whether secret matches digest. A mismatch is (false, nil).
	Verify(ctx context.Context, secret, digest string) (bool, error)
}

// TokenIssuer signs and verifies access and refresh tokens with two
// independent keys. Verification failures wrap domain.ErrInvalidToken.
type TokenIssuer interface {
	IssueAccess(claims domain.Claims) (string, error)
	IssueRefresh(claims domain.Claims) (string, error)
	VerifyAccess(token string) (*domain.Claims, error)
	VerifyRefresh(token string) (*domain.Claims, error)
}
