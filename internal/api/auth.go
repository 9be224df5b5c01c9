package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/apierrors"
	"github.com/yeheng/chatroom-server/internal/auth"
	"github.com/yeheng/chatroom-server/internal/httputil"
	"github.com/yeheng/chatroom-server/internal/user"
)

// AuthHandler serves registration, login, and token refresh.
type AuthHandler struct {
	svc *auth.Service
	log zerolog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc *auth.Service, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, log: logger}
}

// userBody is the public account shape returned by the auth endpoints.
type userBody struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func toUserBody(u *user.User) userBody {
	return userBody{ID: u.ID.String(), Username: u.Username, Email: u.Email}
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c fiber.Ctx) error {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.InvalidBody, "Invalid request body")
	}

	created, err := h.svc.Register(c, auth.RegisterRequest{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		return mapError(c, err)
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, toUserBody(created))
}

// tokenBody is the token-pair shape returned by login and refresh.
type tokenBody struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	User         userBody `json:"user"`
}

// Login handles POST /api/auth/login. The identifier may be a username or an
// email address.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.InvalidBody, "Invalid request body")
	}

	identifier := body.Username
	if identifier == "" {
		identifier = body.Email
	}
	if identifier == "" || body.Password == "" {
		return httputil.Fail(c, apierrors.ValidationError, "Identifier and credentials are required")
	}

	result, err := h.svc.Login(c, identifier, body.Password)
	if err != nil {
		return mapError(c, err)
	}

	return httputil.Success(c, tokenBody{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         toUserBody(result.User),
	})
}

// Refresh handles POST /api/auth/refresh. The presented refresh token is
// consumed; presenting it twice fails.
func (h *AuthHandler) Refresh(c fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.InvalidBody, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return httputil.Fail(c, apierrors.ValidationError, "refresh_token is required")
	}

	result, err := h.svc.Refresh(c, body.RefreshToken)
	if err != nil {
		return mapError(c, err)
	}

	return httputil.Success(c, tokenBody{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         toUserBody(result.User),
	})
}
