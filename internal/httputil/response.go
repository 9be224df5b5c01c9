// Package httputil provides the JSON response envelope, error sanitisation,
// and request logging shared by all HTTP handlers.
package httputil

import (
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"

	"github.com/yeheng/chatroom-server/internal/apierrors"
)

// Envelope is the uniform response shape for every API endpoint.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody holds structured error details.
type ErrorBody struct {
	Code      apierrors.Code `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// Success sends a 200 envelope with the given data.
func Success(c fiber.Ctx, data any) error {
	return c.JSON(Envelope{Success: true, Data: data})
}

// SuccessStatus sends an envelope with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(Envelope{Success: true, Data: data})
}

// Fail sends an error envelope. The status is derived from the code's
// canonical mapping and the message is sanitised before leaving the server.
func Fail(c fiber.Ctx, code apierrors.Code, message string) error {
	return FailStatus(c, apierrors.HTTPStatus(code), code, message)
}

// FailStatus sends an error envelope with an explicit status code.
func FailStatus(c fiber.Ctx, status int, code apierrors.Code, message string) error {
	rid := requestid.FromContext(c)
	if rid == "" {
		rid, _ = c.Locals("requestid").(string)
	}
	return c.Status(status).JSON(Envelope{
		Success: false,
		Error: &ErrorBody{
			Code:      code,
			Message:   Sanitize(message),
			RequestID: rid,
			Timestamp: time.Now().UTC(),
		},
	})
}

// dbURIPattern matches connection strings for the backing stores so driver
// errors can never leak credentials or topology.
var dbURIPattern = regexp.MustCompile(`(?i)(postgres|postgresql|redis|valkey)://\S+`)

// passwordPattern redacts anything that looks like a password key-value leak.
var passwordPattern = regexp.MustCompile(`(?i)password\S*`)

// Sanitize strips database URIs and password fragments from a message that is
// about to be returned to a client. Messages that merely mention the word in a
// safe context (e.g. "invalid password") survive as a generic redaction tag,
// never as the original substring plus payload.
func Sanitize(message string) string {
	out := dbURIPattern.ReplaceAllString(message, "[redacted]")
	if strings.Contains(strings.ToLower(out), "password") {
		out = passwordPattern.ReplaceAllString(out, "[redacted]")
	}
	return out
}
