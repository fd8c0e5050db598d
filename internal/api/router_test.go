package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/storefront/accounts-api/internal/core/domain"
	"github.com/storefront/accounts-api/internal/core/service"
	"github.com/storefront/accounts-api/internal/infrastructure/db/memory"
	"github.com/storefront/accounts-api/internal/infrastructure/security/hasher"
	"github.com/storefront/accounts-api/internal/infrastructure/security/token"
)

type testServer struct {
	e      *echo.Echo
	repo   *memory.AccountRepository
	issuer *token.Issuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	issuer, err := token.NewIssuer(token.Config{AccessSecret: "access", RefreshSecret: "refresh"})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	repo := memory.NewAccountRepository()
	svc := service.NewIdentityService(repo, hasher.NewBcrypt(bcrypt.MinCost), issuer, zerolog.Nop())

	e := NewRouter(RouterDeps{
		Service:    svc,
		Verifier:   issuer,
		Log:        zerolog.Nop(),
		Registerer: prometheus.NewRegistry(),
	})
	return &testServer{e: e, repo: repo, issuer: issuer}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func (s *testServer) register(t *testing.T, email string) (id int64, access, refresh string) {
	t.Helper()
	rec, body := s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "Ana", "lastName": "Ruiz", "email": email, "password": "s3cret-pass",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	result := body["result"].(map[string]any)
	return int64(result["id"].(float64)), body["accessToken"].(string), body["refreshToken"].(string)
}

func (s *testServer) admin(t *testing.T) string {
	t.Helper()
	now := time.Now().UTC()
	acc, err := s.repo.Create(context.Background(), &domain.Account{
		Name: "Root", LastName: "Admin", Email: "root@x.com", Role: domain.RoleAdmin,
		Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	tok, err := s.issuer.IssueAccess(domain.Claims{AccountID: acc.ID, Role: acc.Role})
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}
	return tok
}

func TestRouter_AccountLifecycle(t *testing.T) {
	s := newTestServer(t)
	id, access, _ := s.register(t, "ana@x.com")
	path := "/v1/accounts/" + jsonNumber(id)

	rec, body := s.do(t, http.MethodGet, path, access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	result := body["result"].(map[string]any)
	if _, leaked := result["secretHash"]; leaked {
		t.Fatalf("get leaks secret hash")
	}
	createdUpdatedAt := result["updatedAt"].(string)

	rec, body = s.do(t, http.MethodPatch, path, access, map[string]string{"birthDate": "1990-01-01"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	result = body["result"].(map[string]any)
	if result["birthDate"] != "1990-01-01T00:00:00Z" {
		t.Fatalf("unexpected birthDate %v", result["birthDate"])
	}
	if result["updatedAt"] == createdUpdatedAt {
		t.Fatalf("expected updatedAt to change")
	}

	rec, body = s.do(t, http.MethodPatch, path, access, map[string]string{"birthDate": "yesterday"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad birthDate: expected 400, got %d", rec.Code)
	}
	if body["error"] != "birthDate must be a date (YYYY-MM-DD)" {
		t.Fatalf("unexpected error message %v", body["error"])
	}

	for i := 0; i < 2; i++ {
		rec, body = s.do(t, http.MethodDelete, path, access, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("delete #%d: expected 200, got %d", i+1, rec.Code)
		}
		if body["message"] != "Account Ana Ruiz inactivated successfully" {
			t.Fatalf("unexpected message %v", body["message"])
		}
	}

	rec, body = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ana@x.com", "password": "s3cret-pass"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("login inactive: expected 403, got %d", rec.Code)
	}
	if body["error"] != "account is inactive" {
		t.Fatalf("unexpected error %v", body["error"])
	}
}

func TestRouter_DuplicateRegistration(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "ana@x.com")

	rec, body := s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "Ana", "lastName": "Other", "email": "ana@x.com", "password": "another-pass",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if body["error"] != "email already registered" {
		t.Fatalf("unexpected error %v", body["error"])
	}
}

func TestRouter_Authorization(t *testing.T) {
	s := newTestServer(t)
	_, access, _ := s.register(t, "ana@x.com")
	otherID, _, _ := s.register(t, "luis@x.com")

	if rec, _ := s.do(t, http.MethodGet, "/v1/accounts", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", rec.Code)
	}
	if rec, _ := s.do(t, http.MethodGet, "/v1/accounts", access, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("customer list: expected 403, got %d", rec.Code)
	}
	if rec, _ := s.do(t, http.MethodGet, "/v1/accounts/"+jsonNumber(otherID), access, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("other account: expected 403, got %d", rec.Code)
	}

	admin := s.admin(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+admin)
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list: expected 200, got %d", rec.Code)
	}
	var accounts []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &accounts); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(accounts))
	}

	if rec, _ := s.do(t, http.MethodGet, "/v1/accounts/999", admin, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing account: expected 404, got %d", rec.Code)
	}
}

func TestRouter_RefreshRotation(t *testing.T) {
	s := newTestServer(t)
	_, _, refresh := s.register(t, "ana@x.com")

	rec, body := s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refreshToken": refresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", rec.Code)
	}
	if body["refreshToken"] == refresh {
		t.Fatalf("expected rotated refresh token")
	}

	if rec, _ := s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refreshToken": refresh}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh: expected 401, got %d", rec.Code)
	}
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/health", "/health/ready", "/metrics"} {
		if rec, _ := s.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
