package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/config"
	"github.com/yeheng/chatroom-server/internal/pagination"
	"github.com/yeheng/chatroom-server/internal/user"
)

// fakeUserRepo implements user.Repository in memory for the auth paths.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*user.Credentials
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*user.Credentials)}
}

func (r *fakeUserRepo) Create(_ context.Context, params user.CreateParams) (*user.User, error) {
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

func (r *fakeUserRepo) FindByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	creds, ok := r.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	clone := creds.User
	return &clone, nil
}

func (r *fakeUserRepo) FindByUsername(_ context.Context, username string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, creds := range r.users {
		if creds.Username == username {
			clone := creds.User
			return &clone, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, creds := range r.users {
		if creds.Email == email {
			clone := creds.User
			return &clone, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *fakeUserRepo) GetCredentials(_ context.Context, identifier string) (*user.Credentials, error) {
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

func (r *fakeUserRepo) Update(context.Context, *user.User) error            { return nil }
func (r *fakeUserRepo) UpdateLastActivity(context.Context, uuid.UUID) error { return nil }
func (r *fakeUserRepo) SoftDelete(context.Context, uuid.UUID) error         { return nil }

func (r *fakeUserRepo) Search(context.Context, user.SearchParams, pagination.Pagination, pagination.Sort) ([]user.User, error) {
	return nil, nil
}

func newTestService(t *testing.T) (*Service, *fakeUserRepo) {
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

	users := newFakeUserRepo()
	// Cheap argon2 parameters keep the test fast.
	svc, err := NewService(users, NewValkeySessionStore(rdb, cfg.JWTRefreshTTL), NewHasher(8*1024, 1, 1, 16, 32), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, users
}

func TestRegisterLoginRefreshFlow(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, RegisterRequest{
		Username: "alice", Email: "a@x.example", Password: "Passw0rd!",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if created.Username != "alice" {
		t.Errorf("Username = %q, want alice", created.Username)
	}

	login, err := svc.Login(ctx, "alice", "Passw0rd!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if login.AccessToken == "" || login.RefreshToken == "" {
		t.Fatal("login returned empty tokens")
	}

	// The access token validates and names the user.
	claims, err := ValidateAccessToken(login.AccessToken, testSecret, "chatroom")
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	subject, _ := claims.SubjectID()
	if subject != created.ID {
		t.Errorf("token subject = %s, want %s", subject, created.ID)
	}

	// Refresh rotates the pair.
	refreshed, err := svc.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Error("refresh token was not rotated")
	}

	// The old refresh token no longer validates.
	if _, err := svc.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrRefreshTokenReused) {
		t.Errorf("old refresh token = %v, want ErrRefreshTokenReused", err)
	}
}

func TestLoginWithEmailIdentifier(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{
		Username: "alice", Email: "a@x.example", Password: "Passw0rd!",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Login(ctx, "a@x.example", "Passw0rd!"); err != nil {
		t.Errorf("Login by email: %v", err)
	}
}

func TestLoginFailures(t *testing.T) {
	t.Parallel()

	svc, users := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, RegisterRequest{
		Username: "alice", Email: "a@x.example", Password: "Passw0rd!",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Login(ctx, "alice", "wrong-secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong credential = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, "nobody", "Passw0rd!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown account = %v, want ErrInvalidCredentials", err)
	}

	// A suspended account cannot log in even with the right credential.
	users.mu.Lock()
	users.users[created.ID].Status = user.StatusSuspended
	users.mu.Unlock()
	if _, err := svc.Login(ctx, "alice", "Passw0rd!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("suspended login = %v, want ErrInvalidCredentials", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     RegisterRequest
		wantErr error
	}{
		{"short username", RegisterRequest{Username: "ab", Email: "a@x.example", Password: "Passw0rd!"}, ErrUsernameLength},
		{"bad email", RegisterRequest{Username: "alice", Email: "nope", Password: "Passw0rd!"}, ErrInvalidEmail},
		{"short password", RegisterRequest{Username: "alice", Email: "a@x.example", Password: "short"}, ErrPasswordTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := svc.Register(ctx, tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("Register = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Username: "alice", Email: "a@x.example", Password: "Passw0rd!"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterRequest{Username: "alice", Email: "b@x.example", Password: "Passw0rd!"}); !errors.Is(err, user.ErrAlreadyExists) {
		t.Errorf("duplicate username = %v, want ErrAlreadyExists", err)
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Username: "alice", Email: "a@x.example", Password: "Passw0rd!"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	login, err := svc.Login(ctx, "alice", "Passw0rd!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := svc.Logout(ctx, login.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrRefreshTokenReused) {
		t.Errorf("refresh after logout = %v, want ErrRefreshTokenReused", err)
	}
}
