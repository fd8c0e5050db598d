package ports

import (
	"context"
	"time"

	"github.com/storefront/accounts-api/internal/core/domain"
)

// AccountUpdate carries a partial update. Nil fields are left untouched;
// UpdatedAt is always forced by the repository.
type AccountUpdate struct {
	Name             *string
	LastName         *string
	Email            *string
	SecretHash       *string
	Status           *domain.AccountStatus
	RefreshTokenHash *string
	BirthDate        *time.Time

	// ExpectedRefreshTokenHash turns the update into a compare-and-set: it
	// applies only while the stored refresh hash still equals this value,
	// otherwise the repository returns domain.ErrSessionRotated.
	ExpectedRefreshTokenHash *string
}

// AccountRepository is the sole gateway to durable account storage.
// Storage failures wrap domain.ErrRepository and are never retried here.
type AccountRepository interface {
	// Create persists a new account and returns it with its assigned ID.
	// Returns domain.ErrEmailTaken when the email already exists.
	Create(ctx context.Context, account *domain.Account) (*domain.Account, error)
	// FindByID returns domain.ErrAccountNotFound when absent.
	FindByID(ctx context.Context, id int64) (*domain.Account, error)
	// FindByEmail returns (nil, nil) on a miss.
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	// Update merges changes over the stored account and advances UpdatedAt.
	Update(ctx context.Context, id int64, changes AccountUpdate) (*domain.Account, error)
	List(ctx context.Context) ([]*domain.Account, error)
}
