package api

import (
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/apierrors"
	"github.com/yeheng/chatroom-server/internal/auth"
	"github.com/yeheng/chatroom-server/internal/httputil"
	"github.com/yeheng/chatroom-server/internal/pagination"
	"github.com/yeheng/chatroom-server/internal/user"
)

// UserHandler serves the user profile endpoints.
type UserHandler struct {
	users user.Repository
	log   zerolog.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(users user.Repository, logger zerolog.Logger) *UserHandler {
	return &UserHandler{users: users, log: logger}
}

// GetMe handles GET /api/v1/users/me.
func (h *UserHandler) GetMe(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.Fail(c, apierrors.Unauthorized, "Missing user identity")
	}

	u, err := h.users.FindByID(c, userID)
	if err != nil {
		return mapError(c, err)
	}
	return httputil.Success(c, toUserBody(u))
}

// UpdateMe handles PUT /api/v1/users/me.
func (h *UserHandler) UpdateMe(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.Fail(c, apierrors.Unauthorized, "Missing user identity")
	}

	var body struct {
		Username *string `json:"username"`
		Email    *string `json:"email"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.InvalidBody, "Invalid request body")
	}

	u, err := h.users.FindByID(c, userID)
	if err != nil {
		return mapError(c, err)
	}

	if body.Username != nil {
		if err := auth.ValidateUsername(*body.Username); err != nil {
			return mapError(c, err)
		}
		u.Username = *body.Username
	}
	if body.Email != nil {
		email, err := auth.ValidateEmail(*body.Email)
		if err != nil {
			return mapError(c, err)
		}
		u.Email = email
	}

	if err := h.users.Update(c, u); err != nil {
		return mapError(c, err)
	}
	return httputil.Success(c, toUserBody(u))
}

// SearchUsers handles GET /api/v1/users/search.
func (h *UserHandler) SearchUsers(c fiber.Ctx) error {
	query := c.Query("q")
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	results, err := h.users.Search(c,
		user.SearchParams{Query: query},
		pagination.Pagination{Offset: offset, Limit: limit},
		pagination.Sort{Field: "username", Ascending: true},
	)
	if err != nil {
		return mapError(c, err)
	}

	out := make([]userBody, len(results))
	for i := range results {
		out[i] = toUserBody(&results[i])
	}
	return httputil.Success(c, out)
}
