package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/config"
	"github.com/yeheng/chatroom-server/internal/user"
)

// Service implements registration, login, and token refresh, keeping HTTP
// handlers thin and focused on request parsing and response formatting.
type Service struct {
	users    user.Repository
	sessions SessionRepository
	hasher   *Hasher
	config   *config.Config
	log      zerolog.Logger

	// dummyHash is a precomputed argon2id hash used to keep login timing
	// constant when a user is not found, preventing account enumeration via
	// response-time analysis.
	dummyHash string
}

// NewService creates a new authentication service. It returns an error if the
// argon2id configuration is invalid, since hashing is fundamental to every
// auth operation.
func NewService(users user.Repository, sessions SessionRepository, hasher *Hasher, cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	dummy, err := hasher.Hash("chatroom-dummy-credential")
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &Service{
		users:     users,
		sessions:  sessions,
		hasher:    hasher,
		config:    cfg,
		log:       logger.With().Str("component", "auth").Logger(),
		dummyHash: dummy,
	}, nil
}

// RegisterRequest is the input for Service.Register.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

// AuthResult is the output for Login and Refresh.
type AuthResult struct {
	User         *user.User
	AccessToken  string
	RefreshToken string
}

// Register validates inputs and creates the user. The new account starts in
// Active status and can log in immediately.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*user.User, error) {
	if err := ValidateUsername(req.Username); err != nil {
		return nil, err
	}
	email, err := ValidateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	created, err := s.users.Create(ctx, user.CreateParams{
		Username:     req.Username,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Stringer("user_id", created.ID).Str("username", created.Username).Msg("User registered")
	return created, nil
}

// Login verifies credentials for a username or email identifier and opens a
// session. The identifier lookup and hash comparison run even for unknown
// accounts so failures take the same time either way.
func (s *Service) Login(ctx context.Context, identifier, password string) (*AuthResult, error) {
	creds, err := s.users.GetCredentials(ctx, identifier)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// Burn a comparison against the dummy hash to equalise timing.
			_, _ = s.hasher.Verify(password, s.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	match, err := s.hasher.Verify(password, creds.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !match {
		return nil, ErrInvalidCredentials
	}

	if creds.Status != user.StatusActive {
		return nil, ErrInvalidCredentials
	}

	result, err := s.openSession(ctx, &creds.User)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastActivity(ctx, creds.ID); err != nil {
		s.log.Warn().Err(err).Stringer("user_id", creds.ID).Msg("Failed to update last activity on login")
	}

	return result, nil
}

// Refresh rotates a refresh token and issues a new token pair. A token that
// was already consumed invalidates nothing but fails with
// ErrRefreshTokenReused; the session it belonged to keeps its current pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	session, err := s.sessions.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrRefreshTokenReused
		}
		return nil, err
	}

	u, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if u.Status != user.StatusActive {
		return nil, ErrInvalidCredentials
	}

	access, err := NewAccessToken(u.ID, s.config.JWTSecret, s.config.JWTAccessTTL, s.config.JWTIssuer)
	if err != nil {
		return nil, err
	}

	newRefresh := uuid.New().String()
	if _, err := s.sessions.RotateRefreshToken(ctx, refreshToken, newRefresh, HashToken(access)); err != nil {
		return nil, err
	}

	return &AuthResult{User: u, AccessToken: access, RefreshToken: newRefresh}, nil
}

// Logout invalidates the session behind the given access token, if any.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	session, err := s.sessions.FindByTokenHash(ctx, HashToken(accessToken))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	return s.sessions.Invalidate(ctx, session.ID)
}

func (s *Service) openSession(ctx context.Context, u *user.User) (*AuthResult, error) {
	access, err := NewAccessToken(u.ID, s.config.JWTSecret, s.config.JWTAccessTTL, s.config.JWTIssuer)
	if err != nil {
		return nil, err
	}
	refresh := uuid.New().String()

	session := &Session{
		ID:           uuid.New(),
		UserID:       u.ID,
		TokenHash:    HashToken(access),
		RefreshToken: refresh,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(s.config.JWTRefreshTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	return &AuthResult{User: u, AccessToken: access, RefreshToken: refresh}, nil
}
