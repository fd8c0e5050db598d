package token

import (
	"errors"
	"time"

	"github.com/storefront/accounts-api/internal/api/metrics"
	"github.com/storefront/accounts-api/internal/core/domain"
)

// Config holds the two signing secrets and token lifetimes. It is built
// once at startup and never mutated.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Issuer signs access tokens and refresh tokens with independent keys.
type Issuer struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer validates cfg and returns an Issuer. Zero TTLs fall back to
// DefaultAccessTTL and DefaultRefreshTTL.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token: access and refresh secrets are required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &Issuer{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

// WithClock returns a copy of the issuer that reads time from now.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	c := *i
	c.now = now
	return &c
}

func (i *Issuer) IssueAccess(claims domain.Claims) (string, error) {
	t, err := Sign(claims, i.accessKey, i.accessTTL, i.now())
	if err == nil {
		metrics.TokensIssuedTotal.WithLabelValues("access").Inc()
	}
	return t, err
}

func (i *Issuer) IssueRefresh(claims domain.Claims) (string, error) {
	t, err := Sign(claims, i.refreshKey, i.refreshTTL, i.now())
	if err == nil {
		metrics.TokensIssuedTotal.WithLabelValues("refresh").Inc()
	}
	return t, err
}

func (i *Issuer) VerifyAccess(token string) (*domain.Claims, error) {
	return Parse(token, i.accessKey, i.now())
}

func (i *Issuer) VerifyRefresh(token string) (*domain.Claims, error) {
	return Parse(token, i.refreshKey, i.now())
}
