// Package api holds the HTTP handlers for the JSON API and the WebSocket
// upgrade endpoint.
package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/yeheng/chatroom-server/internal/apierrors"
	"github.com/yeheng/chatroom-server/internal/auth"
	"github.com/yeheng/chatroom-server/internal/httputil"
	"github.com/yeheng/chatroom-server/internal/member"
	"github.com/yeheng/chatroom-server/internal/message"
	"github.com/yeheng/chatroom-server/internal/room"
	"github.com/yeheng/chatroom-server/internal/user"
)

// mapError translates a service failure into the canonical error envelope.
// Domain validation errors surface verbatim; anything unrecognised becomes a
// generic INTERNAL so driver text never leaks.
func mapError(c fiber.Ctx, err error) error {
	var rl *message.RateLimitedError
	if errors.As(err, &rl) {
		return httputil.Fail(c, apierrors.RateLimited, rl.Error())
	}

	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return httputil.Fail(c, m.code, err.Error())
		}
	}

	return httputil.Fail(c, apierrors.Internal, "An internal error occurred")
}

// errorTable maps sentinel errors to their stable codes. Order matters only
// where sentinels wrap each other, which they do not.
var errorTable = []struct {
	err  error
	code apierrors.Code
}{
	// users
	{user.ErrNotFound, apierrors.NotFound},
	{user.ErrAlreadyExists, apierrors.UserConflict},
	{user.ErrNotActive, apierrors.Unauthorized},
	{user.ErrDeletedIsFinal, apierrors.ValidationError},

	// auth
	{auth.ErrInvalidCredentials, apierrors.Unauthorized},
	{auth.ErrRefreshTokenReused, apierrors.Unauthorized},
	{auth.ErrSessionNotFound, apierrors.Unauthorized},
	{auth.ErrInvalidEmail, apierrors.ValidationError},
	{auth.ErrUsernameLength, apierrors.ValidationError},
	{auth.ErrUsernameInvalidChars, apierrors.ValidationError},
	{auth.ErrPasswordTooShort, apierrors.ValidationError},
	{auth.ErrPasswordTooLong, apierrors.ValidationError},

	// rooms
	{room.ErrNotFound, apierrors.RoomNotFound},
	{room.ErrDeleted, apierrors.RoomDeleted},
	{room.ErrNameTaken, apierrors.RoomNameConflict},
	{room.ErrNameLength, apierrors.ValidationError},
	{room.ErrWeakPassword, apierrors.ValidationError},
	{room.ErrPasswordRequired, apierrors.ValidationError},
	{room.ErrPublicPassword, apierrors.ValidationError},
	{room.ErrInvalidPassword, apierrors.InvalidPassword},
	{room.ErrFull, apierrors.RoomFull},
	{room.ErrCapacityTooSmall, apierrors.ValidationError},
	{room.ErrOwnerOnly, apierrors.InsufficientPermissions},
	{room.ErrNotAuthorized, apierrors.InsufficientPermissions},
	{room.ErrOwnerCannotLeave, apierrors.Forbidden},
	{room.ErrAlreadyJoined, apierrors.UserAlreadyInRoom},
	{room.ErrNotJoined, apierrors.UserNotInRoom},
	{room.ErrTooManyAttempts, apierrors.RateLimited},

	// members
	{member.ErrNotFound, apierrors.NotFound},
	{member.ErrAlreadyMember, apierrors.UserAlreadyInRoom},
	{member.ErrOwnerImmune, apierrors.Forbidden},
	{member.ErrInvalidRole, apierrors.ValidationError},

	// messages
	{message.ErrNotFound, apierrors.MessageNotFound},
	{message.ErrEmptyContent, apierrors.EmptyContent},
	{message.ErrContentTooLong, apierrors.ContentTooLong},
	{message.ErrSensitiveContent, apierrors.SensitiveContent},
	{message.ErrDuplicate, apierrors.DuplicateMessage},
	{message.ErrReplyNotFound, apierrors.ValidationError},
	{message.ErrNotSender, apierrors.InsufficientPermissions},
	{message.ErrSystemImmutable, apierrors.Forbidden},
	{message.ErrEditWindowPassed, apierrors.Unauthorized},
	{message.ErrRecallWindowPassed, apierrors.Unauthorized},
	{message.ErrEditKind, apierrors.ValidationError},
	{message.ErrInvalidTransition, apierrors.ValidationError},
	{message.ErrAttachmentRequired, apierrors.ValidationError},
	{message.ErrAttachmentForbidden, apierrors.ValidationError},
	{message.ErrAttachmentTooLarge, apierrors.ValidationError},
}

// currentUser extracts the authenticated principal set by the auth
// middleware.
func currentUser(c fiber.Ctx) (uuid.UUID, bool) {
	id, ok := c.Locals("userID").(uuid.UUID)
	return id, ok
}
