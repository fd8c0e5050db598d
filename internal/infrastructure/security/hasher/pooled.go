package hasher

import (
	"context"
	"errors"
	"time"

	"github.com/storefront/accounts-api/internal/api/metrics"
	"github.com/storefront/accounts-api/internal/core/ports"
	"github.com/storefront/accounts-api/internal/infrastructure/queue"
)

var errJobAborted = errors.New("hash job aborted")

// Pooled runs every Hash and Verify of the wrapped hasher on a worker pool.
type Pooled struct {
	inner ports.CredentialHasher
	pool  *queue.WorkerPool
}

func NewPooled(inner ports.CredentialHasher, pool *queue.WorkerPool) *Pooled {
	return &Pooled{inner: inner, pool: pool}
}

func (p *Pooled) Hash(ctx context.Context, secret string) (string, error) {
	digest, err := "", errJobAborted
	submitErr := p.pool.Submit(ctx, func() {
		start := time.Now()
		digest, err = p.inner.Hash(ctx, secret)
		metrics.CredentialHashDuration.WithLabelValues("hash").Observe(time.Since(start).Seconds())
	})
	if submitErr != nil {
		return "", submitErr
	}
	return digest, err
}

func (p *Pooled) Verify(ctx context.Context, secret, digest string) (bool, error) {
	ok, err := false, errJobAborted
	submitErr := p.pool.Submit(ctx, func() {
		start := time.Now()
		ok, err = p.inner.Verify(ctx, secret, digest)
		metrics.CredentialHashDuration.WithLabelValues("verify").Observe(time.Since(start).Seconds())
	})
	if submitErr != nil {
		return false, submitErr
	}
	return ok, err
}
