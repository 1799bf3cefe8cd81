package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/mohammad-safakhou/insight/config"
)

type fakeUserStore struct {
	users map[string]struct {
		id   string
		hash string
	}
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]struct {
		id   string
		hash string
	})}
}

func (f *fakeUserStore) CreateUser(ctx context.Context, email, hash string) error {
	if _, ok := f.users[email]; ok {
		return &pq.Error{Code: "23505"}
	}
	f.users[email] = struct {
		id   string
		hash string
	}{id: fmt.Sprintf("user-%d", len(f.users)+1), hash: hash}
	return nil
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	u, ok := f.users[email]
	if !ok {
		return "", "", fmt.Errorf("not found")
	}
	return u.id, u.hash, nil
}

func testServerConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.JWTSecret = "test-secret"
	cfg.Agents = cfg.Agents.Normalize()
	return cfg
}

func newAuthEnv(t *testing.T) (*echo.Echo, *fakeUserStore) {
	t.Helper()
	e := newEcho(testServerConfig())
	users := newFakeUserStore()
	auth := &AuthHandler{Store: users, Secret: []byte("test-secret")}
	auth.Register(e.Group("/api/auth"))
	return e, users
}

func postJSON(e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSignup(t *testing.T) {
	e, users := newAuthEnv(t)
	rec := postJSON(e, "/api/auth/signup", `{"email":"a@b.com","password":"longenough"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if _, ok := users.users["a@b.com"]; !ok {
		t.Fatal("user not stored")
	}
	if users.users["a@b.com"].hash == "longenough" {
		t.Fatal("password stored in plaintext")
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	e, _ := newAuthEnv(t)
	postJSON(e, "/api/auth/signup", `{"email":"a@b.com","password":"longenough"}`)
	rec := postJSON(e, "/api/auth/signup", `{"email":"a@b.com","password":"longenough"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body)
	}
	var he HTTPError
	if err := json.Unmarshal(rec.Body.Bytes(), &he); err != nil || he.Error != "email already exists" {
		t.Fatalf("unexpected error body: %s", rec.Body)
	}
}

func TestSignupRejectsShortPassword(t *testing.T) {
	e, _ := newAuthEnv(t)
	rec := postJSON(e, "/api/auth/signup", `{"email":"a@b.com","password":"short"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	e, users := newAuthEnv(t)
	hash, _ := bcrypt.GenerateFromPassword([]byte("longenough"), bcrypt.MinCost)
	users.users["a@b.com"] = struct {
		id   string
		hash string
	}{id: "user-1", hash: string(hash)}

	rec := postJSON(e, "/api/auth/login", `{"email":"a@b.com","password":"longenough"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("missing token in body: %s", rec.Body)
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), "auth=") {
		t.Fatal("auth cookie not set")
	}
	if !strings.HasPrefix(rec.Header().Get("Authorization"), "Bearer ") {
		t.Fatal("bearer header not set")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	e, users := newAuthEnv(t)
	hash, _ := bcrypt.GenerateFromPassword([]byte("longenough"), bcrypt.MinCost)
	users.users["a@b.com"] = struct {
		id   string
		hash string
	}{id: "user-1", hash: string(hash)}

	rec := postJSON(e, "/api/auth/login", `{"email":"a@b.com","password":"wrongwrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	e, _ := newAuthEnv(t)
	rec := postJSON(e, "/api/auth/login", `{"email":"nobody@b.com","password":"longenough"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWithAuthMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	e := newEcho(testServerConfig())
	e.GET("/protected", withAuth(func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get("user_id").(string))
	}, secret))

	// missing token
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	// bearer token
	token, err := SignJWT("user-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT failed: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "user-1" {
		t.Fatalf("bearer auth failed: %d %s", rec.Code, rec.Body)
	}

	// cookie token
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "auth", Value: token})
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cookie auth failed: %d", rec.Code)
	}

	// wrong secret
	bad, _ := SignJWT("user-1", []byte("other-secret"), time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", rec.Code)
	}
}
