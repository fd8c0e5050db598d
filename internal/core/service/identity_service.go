package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/storefront/accounts-api/internal/core/domain"
	"github.com/storefront/accounts-api/internal/core/ports"
)

const birthDateLayout = "2006-01-02"

// IdentityService implements registration, sessions and the account lifecycle.
type IdentityService struct {
	repo   ports.AccountRepository
	hasher ports.CredentialHasher
	tokens ports.TokenIssuer
	log    zerolog.Logger
	now    func() time.Time

	dummyOnce   sync.Once
	dummyDigest string
}

func NewIdentityService(repo ports.AccountRepository, hasher ports.CredentialHasher, tokens ports.TokenIssuer, log zerolog.Logger) *IdentityService {
	return &IdentityService{
		repo:   repo,
		hasher: hasher,
		tokens: tokens,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a customer account and opens its first session.
func (s *IdentityService) Register(ctx context.Context, in ports.RegisterInput) (*ports.SessionResult, error) {
	secretHash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("register: hash password: %w", err)
	}

	now := s.now()
	created, err := s.repo.Create(ctx, &domain.Account{
		Name:       strings.TrimSpace(in.Name),
		LastName:   strings.TrimSpace(in.LastName),
		Email:      normalizeEmail(in.Email),
		SecretHash: secretHash,
		Role:       domain.RoleCustomer,
		Status:     domain.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	// Claims come from the persisted account, never from the input.
	session, err := s.openSession(ctx, created, nil)
	if err != nil {
		s.log.Warn().Err(err).Int64("account_id", created.ID).Msg("account created without a stored session")
		return nil, fmt.Errorf("register: %w", err)
	}

	s.log.Info().Int64("account_id", created.ID).Msg("account registered")
	return session, nil
}

// Login authenticates by email and password and rotates the session. An
// unknown email still pays for one verification so both failures take the
// same time.
func (s *IdentityService) Login(ctx context.Context, email, password string) (*ports.SessionResult, error) {
	account, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if account == nil {
		s.verifyDummy(ctx, password)
		return nil, domain.ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(ctx, password, account.SecretHash)
	if err != nil {
		return nil, fmt.Errorf("login: verify password: %w", err)
	}
	if !ok {
		return nil, domain.ErrInvalidCredentials
	}
	if account.Status != domain.StatusActive {
		return nil, domain.ErrAccountInactive
	}

	session, err := s.openSession(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return session, nil
}

// Refresh exchanges a valid refresh token for a new token pair. The token
// must match the hash stored for the account; an absent hash means there is
// no active session. The new hash only replaces the one that was verified,
// so a refresh token can be redeemed once.
func (s *IdentityService) Refresh(ctx context.Context, refreshToken string) (*ports.SessionResult, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	account, err := s.repo.FindByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if account.RefreshTokenHash == "" {
		return nil, domain.ErrInvalidToken
	}

	ok, err := s.hasher.Verify(ctx, refreshToken, account.RefreshTokenHash)
	if err != nil {
		return nil, fmt.Errorf("refresh: verify token: %w", err)
	}
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	if account.Status != domain.StatusActive {
		return nil, domain.ErrAccountInactive
	}

	verified := account.RefreshTokenHash
	session, err := s.openSession(ctx, account, &verified)
	if err != nil {
		if errors.Is(err, domain.ErrSessionRotated) {
			s.log.Warn().Int64("account_id", account.ID).Msg("refresh token redeemed twice")
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("refresh: %w", err)
	}
	return session, nil
}

// openSession issues a token pair for a persisted account and stores the
// hash of the refresh token on it. A non-nil previous makes the store
// conditional on the account still holding that hash.
func (s *IdentityService) openSession(ctx context.Context, account *domain.Account, previous *string) (*ports.SessionResult, error) {
	claims := domain.Claims{AccountID: account.ID, Role: account.Role}

	accessToken, err := s.tokens.IssueAccess(claims)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, err := s.tokens.IssueRefresh(claims)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	refreshHash, err := s.hasher.Hash(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("hash refresh token: %w", err)
	}
	updated, err := s.repo.Update(ctx, account.ID, ports.AccountUpdate{
		RefreshTokenHash:         &refreshHash,
		ExpectedRefreshTokenHash: previous,
	})
	if err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &ports.SessionResult{
		Account:      updated.Public(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// verifyDummy runs one verification against a throwaway digest built with
// the configured hasher. Its result is ignored.
func (s *IdentityService) verifyDummy(ctx context.Context, password string) {
	s.dummyOnce.Do(func() {
		digest, err := s.hasher.Hash(ctx, "accounts-api:no-such-account")
		if err != nil {
			s.log.Warn().Err(err).Msg("dummy digest unavailable")
			return
		}
		s.dummyDigest = digest
	})
	if s.dummyDigest == "" {
		return
	}
	_, _ = s.hasher.Verify(ctx, password, s.dummyDigest)
}

// List returns every account, sanitized.
func (s *IdentityService) List(ctx context.Context) ([]domain.PublicAccount, error) {
	accounts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]domain.PublicAccount, len(accounts))
	for i, a := range accounts {
		out[i] = a.Public()
	}
	return out, nil
}

// FindByID returns the sanitized account or domain.ErrAccountNotFound.
func (s *IdentityService) FindByID(ctx context.Context, id int64) (*domain.PublicAccount, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find account %d: %w", id, err)
	}
	p := account.Public()
	return &p, nil
}

// FindByEmail returns the full account, secrets included, or nil when no
// account uses email. It is meant for authentication; public callers must
// sanitize the result themselves.
func (s *IdentityService) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	account, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	return account, nil
}

// UpdateProfile merges the supplied fields into the account.
func (s *IdentityService) UpdateProfile(ctx context.Context, id int64, changes ports.ProfileChanges) (*domain.PublicAccount, error) {
	update := ports.AccountUpdate{
		Name:     trimmed(changes.Name),
		LastName: trimmed(changes.LastName),
	}
	if changes.Email != nil {
		email := normalizeEmail(*changes.Email)
		update.Email = &email
	}
	if changes.BirthDate != nil {
		bd, err := parseBirthDate(*changes.BirthDate)
		if err != nil {
			return nil, err
		}
		update.BirthDate = &bd
	}

	updated, err := s.repo.Update(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("update account %d: %w", id, err)
	}

	s.log.Info().Int64("account_id", id).Msg("account profile updated")
	p := updated.Public()
	return &p, nil
}

// Inactivate soft-deletes the account by moving it to INACTIVE. Repeating it
// is harmless.
func (s *IdentityService) Inactivate(ctx context.Context, id int64) (string, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("inactivate account %d: %w", id, err)
	}

	next := domain.StatusInactive
	if !account.Status.CanTransitionTo(next) {
		return "", fmt.Errorf("inactivate account %d: %w (from %s to %s)", id, domain.ErrInvalidTransition, account.Status, next)
	}

	updated, err := s.repo.Update(ctx, id, ports.AccountUpdate{Status: &next})
	if err != nil {
		return "", fmt.Errorf("inactivate account %d: %w", id, err)
	}

	s.log.Info().Int64("account_id", id).Str("from", string(account.Status)).Msg("account inactivated")
	return fmt.Sprintf("Account %s %s inactivated successfully", updated.Name, updated.LastName), nil
}

// parseBirthDate accepts a calendar date or an RFC 3339 timestamp and
// returns midnight UTC of that day.
func parseBirthDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	t, err := time.Parse(birthDateLayout, raw)
	if err != nil {
		ts, tsErr := time.Parse(time.RFC3339, raw)
		if tsErr != nil {
			return time.Time{}, domain.Validation("birthDate must be a date (YYYY-MM-DD)")
		}
		t = ts.UTC()
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
