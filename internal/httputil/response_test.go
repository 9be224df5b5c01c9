package httputil

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/yeheng/chatroom-server/internal/apierrors"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		notWant string
	}{
		{"postgres uri", "connect postgres://chat:hunter2@db:5432/chat failed", "hunter2"},
		{"redis uri", "dial redis://:secretpw@cache:6379/0 refused", "secretpw"},
		{"valkey uri", "ping valkey://cache:6379 timed out", "valkey://"},
		{"password fragment", "password=hunter2 rejected", "hunter2"},
		{"password word", "invalid password supplied", "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Sanitize(tt.input)
			if strings.Contains(strings.ToLower(got), strings.ToLower(tt.notWant)) {
				t.Errorf("Sanitize(%q) = %q, still contains %q", tt.input, got, tt.notWant)
			}
		})
	}

	if got := Sanitize("room not found"); got != "room not found" {
		t.Errorf("Sanitize left clean message altered: %q", got)
	}
}

func TestFailEnvelope(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/boom", func(c fiber.Ctx) error {
		c.Locals("requestid", "req-123")
		return Fail(c, apierrors.RoomNotFound, "room not found")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusNotFound)
	}

	body, _ := io.ReadAll(resp.Body)
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Success {
		t.Error("Success = true, want false")
	}
	if env.Error == nil {
		t.Fatal("Error body missing")
	}
	if env.Error.Code != apierrors.RoomNotFound {
		t.Errorf("Code = %s, want %s", env.Error.Code, apierrors.RoomNotFound)
	}
	if env.Error.RequestID != "req-123" {
		t.Errorf("RequestID = %q, want req-123", env.Error.RequestID)
	}
	if env.Error.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
}

func TestSuccessEnvelope(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/ok", func(c fiber.Ctx) error {
		return Success(c, fiber.Map{"hello": "world"})
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/ok", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if !env.Success {
		t.Error("Success = false, want true")
	}
	if env.Error != nil {
		t.Errorf("Error = %+v, want nil", env.Error)
	}
}
