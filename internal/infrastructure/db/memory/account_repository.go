// Package memory provides an in-process AccountRepository. It backs the
// "memory" storage driver and the service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/storefront/accounts-api/internal/core/domain"
	"github.com/storefront/accounts-api/internal/core/ports"
)

// AccountRepository keeps accounts in maps guarded by a single mutex. The
// email index is checked and written under the same lock, so concurrent
// registrations of one email resolve to exactly one winner.
type AccountRepository struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*domain.Account
	byEmail map[string]int64
	now     func() time.Time
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byID:    make(map[int64]*domain.Account),
		byEmail: make(map[string]int64),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *AccountRepository) Create(_ context.Context, account *domain.Account) (*domain.Account, error) {
	key := emailKey(account.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[key]; exists {
		return nil, domain.ErrEmailTaken
	}

	r.nextID++
	stored := account.Clone()
	stored.ID = r.nextID
	r.byID[stored.ID] = stored
	r.byEmail[key] = stored.ID

	return stored.Clone(), nil
}

func (r *AccountRepository) FindByID(_ context.Context, id int64) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (r *AccountRepository) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[emailKey(email)]
	if !ok {
		return nil, nil
	}
	return r.byID[id].Clone(), nil
}

func (r *AccountRepository) Update(_ context.Context, id int64, changes ports.AccountUpdate) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if changes.ExpectedRefreshTokenHash != nil && current.RefreshTokenHash != *changes.ExpectedRefreshTokenHash {
		return nil, domain.ErrSessionRotated
	}

	next := current.Clone()
	if changes.Email != nil && emailKey(*changes.Email) != emailKey(current.Email) {
		if _, taken := r.byEmail[emailKey(*changes.Email)]; taken {
			return nil, domain.ErrEmailTaken
		}
		delete(r.byEmail, emailKey(current.Email))
		r.byEmail[emailKey(*changes.Email)] = id
	}
	apply(next, changes)

	now := r.now()
	if !now.After(current.UpdatedAt) {
		now = current.UpdatedAt.Add(time.Nanosecond)
	}
	next.UpdatedAt = now

	r.byID[id] = next
	return next.Clone(), nil
}

func (r *AccountRepository) List(_ context.Context) ([]*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Account, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len reports the number of stored accounts.
func (r *AccountRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func apply(a *domain.Account, c ports.AccountUpdate) {
	if c.Name != nil {
		a.Name = *c.Name
	}
	if c.LastName != nil {
		a.LastName = *c.LastName
	}
	if c.Email != nil {
		a.Email = *c.Email
	}
	if c.SecretHash != nil {
		a.SecretHash = *c.SecretHash
	}
	if c.Status != nil {
		a.Status = *c.Status
	}
	if c.RefreshTokenHash != nil {
		a.RefreshTokenHash = *c.RefreshTokenHash
	}
	if c.BirthDate != nil {
		bd := *c.BirthDate
		a.BirthDate = &bd
	}
}

// emailKey normalises an email for the uniqueness index.
func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
