package ports

import (
	"context"

	"github.com/storefront/accounts-api/internal/core/domain"
)

// RegisterInput is the DTO passed from the transport layer on registration.
type RegisterInput struct {
	Name     string
	LastName string
	Email    string
	Password string
}

// ProfileChanges holds the fields a caller may change on an account.
// BirthDate is raw input and is coerced into a date by the service.
type ProfileChanges struct {
	Name      *string
	LastName  *string
	Email     *string
	BirthDate *string
}

// SessionResult is a sanitized account plus a freshly issued token pair.
type SessionResult struct {
	Account      domain.PublicAccount
	AccessToken  string
	RefreshToken string
}

// IdentityService defines the account and session use cases. Every returned
// account is a sanitized projection.
type IdentityService interface {
	Register(ctx context.Context, in RegisterInput) (*SessionResult, error)
	Login(ctx context.Context, email, password string) (*SessionResult, error)
	Refresh(ctx context.Context, refreshToken string) (*SessionResult, error)
	List(ctx context.Context) ([]domain.PublicAccount, error)
	FindByID(ctx context.Context, id int64) (*domain.PublicAccount, error)
	UpdateProfile(ctx context.Context, id int64, changes ProfileChanges) (*domain.PublicAccount, error)
	Inactivate(ctx context.Context, id int64) (string, error)
}
