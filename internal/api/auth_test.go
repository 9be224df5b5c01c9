package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/auth"
	"github.com/yeheng/chatroom-server/internal/config"
	"github.com/yeheng/chatroom-server/internal/httputil"
	"github.com/yeheng/chatroom-server/internal/pagination"
	"github.com/yeheng/chatroom-server/internal/user"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// memUserRepo implements user.Repository for the handler tests.
type memUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*user.Credentials
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]*user.Credentials)}
}

func (r *memUserRepo) Create(_ context.Context, params user.CreateParams) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Username == params.Username || existing.Email == params.Email {
			return nil, user.ErrAlreadyExists
		}
	}
	creds := &user.Credentials{
		User: user.User{
			ID:        uuid.New(),
			Username:  params.Username,
			Email:     params.Email,
			Status:    user.StatusActive,
			CreatedAt: time.Now(),
		},
		PasswordHash: params.PasswordHash,
	}
	r.users[creds.ID] = creds
	clone := creds.User
	return &clone, nil
}

func (r *memUserRepo) FindByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	creds, ok := r.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	clone := creds.User
	return &clone, nil
}

func (r *memUserRepo) FindByUsername(context.Context, string) (*user.User, error) {
	return nil, user.ErrNotFound
}

func (r *memUserRepo) FindByEmail(context.Context, string) (*user.User, error) {
	return nil, user.ErrNotFound
}

func (r *memUserRepo) GetCredentials(_ context.Context, identifier string) (*user.Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, creds := range r.users {
		if creds.Username == identifier || creds.Email == identifier {
			clone := *creds
			return &clone, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *memUserRepo) Update(context.Context, *user.User) error            { return nil }
func (r *memUserRepo) UpdateLastActivity(context.Context, uuid.UUID) error { return nil }
func (r *memUserRepo) SoftDelete(context.Context, uuid.UUID) error         { return nil }

func (r *memUserRepo) Search(context.Context, user.SearchParams, pagination.Pagination, pagination.Sort) ([]user.User, error) {
	return nil, nil
}

func newAuthApp(t *testing.T) *fiber.App {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		JWTSecret:     testSecret,
		JWTIssuer:     "chatroom",
		JWTAccessTTL:  15 * time.Minute,
		JWTRefreshTTL: time.Hour,
	}

	users := newMemUserRepo()
	svc, err := auth.NewService(
		users,
		auth.NewValkeySessionStore(rdb, cfg.JWTRefreshTTL),
		auth.NewHasher(8*1024, 1, 1, 16, 32),
		cfg,
		zerolog.Nop(),
	)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}

	handler := NewAuthHandler(svc, zerolog.Nop())
	userHandler := NewUserHandler(users, zerolog.Nop())

	app := fiber.New()
	app.Post("/api/auth/register", handler.Register)
	app.Post("/api/auth/login", handler.Login)
	app.Post("/api/auth/refresh", handler.Refresh)
	app.Get("/api/v1/users/me", auth.RequireAuth(cfg.JWTSecret, cfg.JWTIssuer), userHandler.GetMe)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) (int, httputil.Envelope) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test(%s): %v", path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var env httputil.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope from %s: %v (%s)", path, err, raw)
	}
	return resp.StatusCode, env
}

func dataField(t *testing.T, env httputil.Envelope, field string) string {
	t.Helper()
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data is %T, want object", env.Data)
	}
	value, _ := data[field].(string)
	return value
}

func TestRegisterLoginRefreshEndpoints(t *testing.T) {
	t.Parallel()

	app := newAuthApp(t)

	status, env := postJSON(t, app, "/api/auth/register",
		`{"username":"alice","email":"a@x.example","password":"Passw0rd!"}`)
	if status != fiber.StatusCreated || !env.Success {
		t.Fatalf("register = (%d, %+v), want 201 success", status, env)
	}
	if dataField(t, env, "username") != "alice" {
		t.Error("register response missing username")
	}
	if dataField(t, env, "id") == "" {
		t.Error("register response missing id")
	}

	status, env = postJSON(t, app, "/api/auth/login",
		`{"username":"alice","password":"Passw0rd!"}`)
	if status != fiber.StatusOK || !env.Success {
		t.Fatalf("login = (%d, %+v), want 200 success", status, env)
	}
	access := dataField(t, env, "access_token")
	refresh := dataField(t, env, "refresh_token")
	if access == "" || refresh == "" {
		t.Fatal("login response missing tokens")
	}

	// The access token opens a protected route.
	req := httptest.NewRequest("GET", "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("GET /users/me: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("GET /users/me with token = %d, want 200", resp.StatusCode)
	}

	// Refresh rotates; the old token dies.
	status, env = postJSON(t, app, "/api/auth/refresh", `{"refresh_token":"`+refresh+`"}`)
	if status != fiber.StatusOK || !env.Success {
		t.Fatalf("refresh = (%d, %+v), want 200 success", status, env)
	}
	if dataField(t, env, "refresh_token") == refresh {
		t.Error("refresh token was not rotated")
	}

	status, env = postJSON(t, app, "/api/auth/refresh", `{"refresh_token":"`+refresh+`"}`)
	if status != fiber.StatusUnauthorized || env.Success {
		t.Errorf("stale refresh = (%d, %+v), want 401 failure", status, env)
	}
}

func TestLoginWrongPasswordEndpoint(t *testing.T) {
	t.Parallel()

	app := newAuthApp(t)

	postJSON(t, app, "/api/auth/register",
		`{"username":"alice","email":"a@x.example","password":"Passw0rd!"}`)

	status, env := postJSON(t, app, "/api/auth/login",
		`{"username":"alice","password":"not-the-one"}`)
	if status != fiber.StatusUnauthorized {
		t.Errorf("wrong credential login = %d, want 401", status)
	}
	if env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Errorf("error body = %+v, want UNAUTHORIZED", env.Error)
	}
}

func TestProtectedRouteWithoutToken(t *testing.T) {
	t.Parallel()

	app := newAuthApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/users/me", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("unauthenticated access = %d, want 401", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	var env httputil.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Success || env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Errorf("envelope = %+v, want UNAUTHORIZED failure", env)
	}
}
