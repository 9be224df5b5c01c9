// Package apierrors defines the stable error codes shared by the HTTP API and
// the WebSocket gateway, together with their HTTP status mapping.
package apierrors

import "github.com/gofiber/fiber/v3"

// Code is a stable machine-readable error identifier. Codes are part of the
// public API contract and must never be renamed.
type Code string

const (
	NotFound                Code = "NOT_FOUND"
	Unauthorized            Code = "UNAUTHORIZED"
	Forbidden               Code = "FORBIDDEN"
	InsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"
	ValidationError         Code = "VALIDATION_ERROR"
	Conflict                Code = "CONFLICT"
	RoomNameConflict        Code = "ROOM_NAME_CONFLICT"
	UserConflict            Code = "USER_CONFLICT"
	RoomNotFound            Code = "ROOM_NOT_FOUND"
	RoomFull                Code = "ROOM_FULL"
	RoomDeleted             Code = "ROOM_DELETED"
	InvalidPassword         Code = "INVALID_PASSWORD"
	UserAlreadyInRoom       Code = "USER_ALREADY_IN_ROOM"
	UserNotInRoom           Code = "USER_NOT_IN_ROOM"
	MessageNotFound         Code = "MESSAGE_NOT_FOUND"
	EmptyContent            Code = "EMPTY_CONTENT"
	ContentTooLong          Code = "CONTENT_TOO_LONG"
	SensitiveContent        Code = "SENSITIVE_CONTENT"
	DuplicateMessage        Code = "DUPLICATE_MESSAGE"
	RateLimited             Code = "RATE_LIMITED"
	NotInRoom               Code = "NOT_IN_ROOM"
	TokenExpired            Code = "TOKEN_EXPIRED"
	InvalidBody             Code = "INVALID_BODY"
	Internal                Code = "INTERNAL"
	Infrastructure          Code = "INFRASTRUCTURE_ERROR"
)

// httpStatus maps each code to its canonical HTTP status.
var httpStatus = map[Code]int{
	NotFound:                fiber.StatusNotFound,
	Unauthorized:            fiber.StatusUnauthorized,
	Forbidden:               fiber.StatusForbidden,
	InsufficientPermissions: fiber.StatusForbidden,
	ValidationError:         fiber.StatusUnprocessableEntity,
	Conflict:                fiber.StatusConflict,
	RoomNameConflict:        fiber.StatusConflict,
	UserConflict:            fiber.StatusConflict,
	RoomNotFound:            fiber.StatusNotFound,
	RoomFull:                fiber.StatusForbidden,
	RoomDeleted:             fiber.StatusGone,
	InvalidPassword:         fiber.StatusForbidden,
	UserAlreadyInRoom:       fiber.StatusConflict,
	UserNotInRoom:           fiber.StatusForbidden,
	MessageNotFound:         fiber.StatusNotFound,
	EmptyContent:            fiber.StatusBadRequest,
	ContentTooLong:          fiber.StatusBadRequest,
	SensitiveContent:        fiber.StatusBadRequest,
	DuplicateMessage:        fiber.StatusConflict,
	RateLimited:             fiber.StatusTooManyRequests,
	NotInRoom:               fiber.StatusForbidden,
	TokenExpired:            fiber.StatusUnauthorized,
	InvalidBody:             fiber.StatusBadRequest,
	Internal:                fiber.StatusInternalServerError,
	Infrastructure:          fiber.StatusServiceUnavailable,
}

// HTTPStatus returns the HTTP status code for an error code. Unknown codes map
// to 500 so a missing table entry can never turn a failure into a success.
func HTTPStatus(code Code) int {
	if status, ok := httpStatus[code]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}
