package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/storefront/accounts-api/internal/core/domain"
	"github.com/storefront/accounts-api/internal/core/ports"
)

const defaultCacheTTL = 5 * time.Minute

// AccountCache is a read-through cache in front of an AccountRepository.
// Key format: account:<id>
//
// Entries are filled only on a read miss. Writes evict the key instead of
// storing their result, so two racing updates cannot leave the older record
// cached.
//
// Redis failures never fail a request: they are logged and the call falls
// through to the wrapped repository.
type AccountCache struct {
	inner  ports.AccountRepository
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewAccountCache wraps inner. A non-positive ttl uses five minutes.
func NewAccountCache(inner ports.AccountRepository, client *redis.Client, ttl time.Duration, log zerolog.Logger) *AccountCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &AccountCache{inner: inner, client: client, ttl: ttl, log: log}
}

func (c *AccountCache) Create(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	created, err := c.inner.Create(ctx, account)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, created.ID)
	return created, nil
}

func (c *AccountCache) FindByID(ctx context.Context, id int64) (*domain.Account, error) {
	raw, err := c.client.Get(ctx, c.key(id)).Bytes()
	switch {
	case err == nil:
		var account domain.Account
		if jsonErr := json.Unmarshal(raw, &account); jsonErr == nil {
			return &account, nil
		}
		c.log.Warn().Int64("account_id", id).Msg("discarding unreadable cache entry")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Int64("account_id", id).Msg("account cache read failed")
	}

	account, err := c.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, account)
	return account, nil
}

func (c *AccountCache) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return c.inner.FindByEmail(ctx, email)
}

func (c *AccountCache) Update(ctx context.Context, id int64, changes ports.AccountUpdate) (*domain.Account, error) {
	updated, err := c.inner.Update(ctx, id, changes)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrSessionRotated) {
			c.evict(ctx, id)
		}
		return nil, err
	}
	c.evict(ctx, id)
	return updated, nil
}

func (c *AccountCache) List(ctx context.Context) ([]*domain.Account, error) {
	return c.inner.List(ctx)
}

func (c *AccountCache) store(ctx context.Context, account *domain.Account) {
	raw, err := json.Marshal(account)
	if err != nil {
		c.log.Warn().Err(err).Int64("account_id", account.ID).Msg("account cache encode failed")
		return
	}
	if err := c.client.Set(ctx, c.key(account.ID), raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Int64("account_id", account.ID).Msg("account cache write failed")
		// A stale entry must not outlive a write it missed.
		c.evict(ctx, account.ID)
	}
}

func (c *AccountCache) evict(ctx context.Context, id int64) {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		c.log.Warn().Err(err).Int64("account_id", id).Msg("account cache evict failed")
	}
}

func (c *AccountCache) key(id int64) string {
	return fmt.Sprintf("account:%d", id)
}
