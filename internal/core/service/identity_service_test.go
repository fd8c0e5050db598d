package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/storefront/accounts-api/internal/core/domain"
	"github.com/storefront/accounts-api/internal/core/ports"
	"github.com/storefront/accounts-api/internal/infrastructure/db/memory"
	"github.com/storefront/accounts-api/internal/infrastructure/security/hasher"
	"github.com/storefront/accounts-api/internal/infrastructure/security/token"
)

const (
	accessSecret  = "access-secret"
	refreshSecret = "refresh-secret"
)

// failingRepo wraps a real repository and fails selected operations.
type failingRepo struct {
	ports.AccountRepository
	updateErr error
	createErr error
}

func (r *failingRepo) Create(ctx context.Context, a *domain.Account) (*domain.Account, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	return r.AccountRepository.Create(ctx, a)
}

func (r *failingRepo) Update(ctx context.Context, id int64, c ports.AccountUpdate) (*domain.Account, error) {
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	return r.AccountRepository.Update(ctx, id, c)
}

func newTestIssuer(t *testing.T) *token.Issuer {
	t.Helper()
	issuer, err := token.NewIssuer(token.Config{AccessSecret: accessSecret, RefreshSecret: refreshSecret})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer
}

func newTestService(t *testing.T, repo ports.AccountRepository) *IdentityService {
	t.Helper()
	return NewIdentityService(repo, hasher.NewBcrypt(bcrypt.MinCost), newTestIssuer(t), zerolog.Nop())
}

func registerAna(t *testing.T, svc *IdentityService) *ports.SessionResult {
	t.Helper()
	res, err := svc.Register(context.Background(), ports.RegisterInput{
		Name:     "Ana",
		LastName: "Ruiz",
		Email:    "ana@x.com",
		Password: "s3cret",
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	return res
}

func assertNoSecrets(t *testing.T, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := strings.ToLower(string(raw))
	for _, field := range []string{"secret", "hash", "password", "refreshtoken"} {
		if strings.Contains(body, field) {
			t.Fatalf("sanitized value leaks %q: %s", field, raw)
		}
	}
}

func TestIdentityService_Register_Success(t *testing.T) {
	repo := memory.NewAccountRepository()
	svc := newTestService(t, repo)

	res := registerAna(t, svc)

	if res.Account.Status != domain.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", res.Account.Status)
	}
	if res.Account.Role != domain.RoleCustomer {
		t.Fatalf("expected customer role, got %s", res.Account.Role)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatalf("expected both tokens")
	}
	assertNoSecrets(t, res.Account)

	issuer := newTestIssuer(t)
	access, err := issuer.VerifyAccess(res.AccessToken)
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	if access.AccountID != res.Account.ID || access.Role != domain.RoleCustomer {
		t.Fatalf("unexpected access claims: %+v", access)
	}
	refresh, err := issuer.VerifyRefresh(res.RefreshToken)
	if err != nil {
		t.Fatalf("refresh token invalid: %v", err)
	}
	if refresh.AccountID != res.Account.ID {
		t.Fatalf("refresh claims reference %d, want %d", refresh.AccountID, res.Account.ID)
	}
}

func TestIdentityService_Register_StoresHashes(t *testing.T) {
	repo := memory.NewAccountRepository()
	svc := newTestService(t, repo)

	res := registerAna(t, svc)

	stored, err := repo.FindByID(context.Background(), res.Account.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.SecretHash == "" || stored.SecretHash == "s3cret" {
		t.Fatalf("expected password to be hashed, got %q", stored.SecretHash)
	}
	if stored.RefreshTokenHash == "" || stored.RefreshTokenHash == res.RefreshToken {
		t.Fatalf("expected refresh token hash to be stored")
	}

	h := hasher.NewBcrypt(bcrypt.MinCost)
	if ok, _ := h.Verify(context.Background(), "s3cret", stored.SecretHash); !ok {
		t.Fatalf("stored hash does not match password")
	}
	if ok, _ := h.Verify(context.Background(), res.RefreshToken, stored.RefreshTokenHash); !ok {
		t.Fatalf("stored refresh hash does not match token")
	}
}

func TestIdentityService_Register_Duplicate(t *testing.T) {
	repo := memory.NewAccountRepository()
	svc := newTestService(t, repo)

	registerAna(t, svc)
	_, err := svc.Register(context.Background(), ports.RegisterInput{Name: "Ana", LastName: "Other", Email: "ANA@x.com", Password: "pw"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if repo.Len() != 1 {
		t.Fatalf("expected 1 account, got %d", repo.Len())
	}
}

func TestIdentityService_Register_ConcurrentSameEmail(t *testing.T) {
	repo := memory.NewAccountRepository()
	svc := newTestService(t, repo)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Register(context.Background(), ports.RegisterInput{
				Name: "Ana", LastName: "Ruiz", Email: "race@x.com", Password: "pw",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one registration to succeed, got %d", succeeded)
	}
	if repo.Len() != 1 {
		t.Fatalf("expected 1 account, got %d", repo.Len())
	}
}

func TestIdentityService_Register_SessionStoreFailure(t *testing.T) {
	inner := memory.NewAccountRepository()
	repo := &failingRepo{AccountRepository: inner, updateErr: domain.ErrRepository}
	svc := newTestService(t, repo)

	_, err := svc.Register(context.Background(), ports.RegisterInput{Name: "Ana", LastName: "Ruiz", Email: "ana@x.com", Password: "pw"})
	if !errors.Is(err, domain.ErrRepository) {
		t.Fatalf("expected repository error, got %v", err)
	}

	// The account stays behind without a session.
	stored, err := inner.FindByEmail(context.Background(), "ana@x.com")
	if err != nil || stored == nil {
		t.Fatalf("expected account to exist: %v", err)
	}
	if stored.RefreshTokenHash != "" {
		t.Fatalf("expected no refresh hash, got %q", stored.RefreshTokenHash)
	}
}

func TestIdentityService_FindByID_NotFound(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())

	acc, err := svc.FindByID(context.Background(), 999)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if acc != nil {
		t.Fatalf("expected nil account, got %+v", acc)
	}
}

func TestIdentityService_FindByID_Sanitized(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())
	res := registerAna(t, svc)

	acc, err := svc.FindByID(context.Background(), res.Account.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if acc.Email != "ana@x.com" {
		t.Fatalf("unexpected email %q", acc.Email)
	}
	assertNoSecrets(t, acc)
}

func TestIdentityService_FindByEmail(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())
	registerAna(t, svc)

	acc, err := svc.FindByEmail(context.Background(), " Ana@X.com ")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if acc == nil || acc.SecretHash == "" {
		t.Fatalf("expected full account with hash, got %+v", acc)
	}

	missing, err := svc.FindByEmail(context.Background(), "ghost@x.com")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) on miss, got %+v, %v", missing, err)
	}
}

func TestIdentityService_List(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())
	registerAna(t, svc)
	if _, err := svc.Register(context.Background(), ports.RegisterInput{Name: "Luis", LastName: "Paz", Email: "luis@x.com", Password: "pw"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	accounts, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if accounts[0].ID >= accounts[1].ID {
		t.Fatalf("expected accounts ordered by id")
	}
	assertNoSecrets(t, accounts)
}

func TestIdentityService_UpdateProfile_BirthDate(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())
	res := registerAna(t, svc)

	birth := "1990-01-01"
	acc, err := svc.UpdateProfile(context.Background(), res.Account.ID, ports.ProfileChanges{BirthDate: &birth})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	want := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	if acc.BirthDate == nil || !acc.BirthDate.Equal(want) {
		t.Fatalf("expected birth date %v, got %v", want, acc.BirthDate)
	}
	if !acc.UpdatedAt.After(res.Account.UpdatedAt) {
		t.Fatalf("expected updatedAt to advance: before %v after %v", res.Account.UpdatedAt, acc.UpdatedAt)
	}
	if acc.Name != "Ana" || acc.LastName != "Ruiz" {
		t.Fatalf("unsupplied fields changed: %+v", acc)
	}
	if !acc.CreatedAt.Equal(res.Account.CreatedAt) || acc.ID != res.Account.ID {
		t.Fatalf("immutable fields changed")
	}
	assertNoSecrets(t, acc)
}

func TestIdentityService_UpdateProfile_InvalidBirthDate(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())
	res := registerAna(t, svc)

	bad := "not-a-date"
	if _, err := svc.UpdateProfile(context.Background(), res.Account.ID, ports.ProfileChanges{BirthDate: &bad}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIdentityService_UpdateProfile_NotFound(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())

	name := "Ghost"
	if _, err := svc.UpdateProfile(context.Background(), 42, ports.ProfileChanges{Name: &name}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIdentityService_UpdateProfile_EmailTaken(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())
	registerAna(t, svc)
	other, err := svc.Register(context.Background(), ports.RegisterInput{Name: "Luis", LastName: "Paz", Email: "luis@x.com", Password: "pw"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	email := "ana@x.com"
	if _, err := svc.UpdateProfile(context.Background(), other.Account.ID, ports.ProfileChanges{Email: &email}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestIdentityService_Inactivate_Idempotent(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())
	res := registerAna(t, svc)

	for i := 0; i < 2; i++ {
		msg, err := svc.Inactivate(context.Background(), res.Account.ID)
		if err != nil {
			t.Fatalf("Inactivate call %d: %v", i+1, err)
		}
		if !strings.Contains(msg, "Ana Ruiz") {
			t.Fatalf("expected message naming the account, got %q", msg)
		}

		acc, err := svc.FindByID(context.Background(), res.Account.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if acc.Status != domain.StatusInactive {
			t.Fatalf("expected INACTIVE, got %s", acc.Status)
		}
	}
}

func TestIdentityService_Inactivate_NotFound(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())

	if _, err := svc.Inactivate(context.Background(), 7); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIdentityService_Login(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())
	res := registerAna(t, svc)

	session, err := svc.Login(context.Background(), "ana@x.com", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.Account.ID != res.Account.ID || session.AccessToken == "" {
		t.Fatalf("unexpected session: %+v", session)
	}

	if _, err := svc.Login(context.Background(), "ana@x.com", "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "ghost@x.com", "s3cret"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
}

func TestIdentityService_Login_Inactive(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())
	res := registerAna(t, svc)
	if _, err := svc.Inactivate(context.Background(), res.Account.ID); err != nil {
		t.Fatalf("Inactivate: %v", err)
	}

	if _, err := svc.Login(context.Background(), "ana@x.com", "s3cret"); !errors.Is(err, domain.ErrAccountInactive) {
		t.Fatalf("expected inactive, got %v", err)
	}
}

func TestIdentityService_Refresh_Rotates(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())
	res := registerAna(t, svc)

	rotated, err := svc.Refresh(context.Background(), res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == res.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}

	// The previous token no longer matches the stored hash.
	if _, err := svc.Refresh(context.Background(), res.RefreshToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected invalid token for rotated-out refresh token, got %v", err)
	}
}

func TestIdentityService_Refresh_RejectsAccessToken(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())
	res := registerAna(t, svc)

	if _, err := svc.Refresh(context.Background(), res.AccessToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestIdentityService_Refresh_NoStoredSession(t *testing.T) {
	repo := memory.NewAccountRepository()
	svc := newTestService(t, repo)

	created, err := repo.Create(context.Background(), &domain.Account{Email: "nohash@x.com", Role: domain.RoleCustomer, Status: domain.StatusActive})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	refresh, err := newTestIssuer(t).IssueRefresh(domain.Claims{AccountID: created.ID, Role: created.Role})
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}

	if _, err := svc.Refresh(context.Background(), refresh); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestIdentityService_Refresh_ConcurrentSameToken(t *testing.T) {
	svc := newTestService(t, memory.NewAccountRepository())
	res := registerAna(t, svc)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(context.Background(), res.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful refresh, got %d", successes)
	}
	for _, err := range failures {
		if !errors.Is(err, domain.ErrInvalidToken) {
			t.Fatalf("expected invalid token for the losing refreshes, got %v", err)
		}
	}
}

// countingHasher records how many verifications reach the wrapped hasher.
type countingHasher struct {
	ports.CredentialHasher
	mu       sync.Mutex
	verifies int
}

func (h *countingHasher) Verify(ctx context.Context, secret, digest string) (bool, error) {
	h.mu.Lock()
	h.verifies++
	h.mu.Unlock()
	return h.CredentialHasher.Verify(ctx, secret, digest)
}

func TestIdentityService_Login_UnknownEmailStillVerifies(t *testing.T) {
	counter := &countingHasher{CredentialHasher: hasher.NewBcrypt(bcrypt.MinCost)}
	svc := NewIdentityService(memory.NewAccountRepository(), counter, newTestIssuer(t), zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := svc.Login(context.Background(), "ghost@x.com", "s3cret"); !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials, got %v", err)
		}
	}
	if counter.verifies != 2 {
		t.Fatalf("expected one verification per unknown-email login, got %d", counter.verifies)
	}
}
