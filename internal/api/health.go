package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/yeheng/chatroom-server/internal/httputil"
)

// HealthHandler serves the health check endpoint.
type HealthHandler struct {
	db      *pgxpool.Pool
	rdb     *redis.Client
	started time.Time
}

// NewHealthHandler creates a health handler anchored at process start.
func NewHealthHandler(db *pgxpool.Pool, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb, started: time.Now()}
}

// Health handles GET /health. It pings PostgreSQL and Valkey and reports
// overall health plus process uptime in seconds.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	healthy := true
	pgStatus := "ok"
	if err := h.db.Ping(ctx); err != nil {
		pgStatus = "unavailable"
		healthy = false
	}

	vkStatus := "ok"
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		vkStatus = "unavailable"
		healthy = false
	}

	status := fiber.StatusOK
	if !healthy {
		status = fiber.StatusServiceUnavailable
	}

	return httputil.SuccessStatus(c, status, fiber.Map{
		"healthy":  healthy,
		"uptime":   int(time.Since(h.started).Seconds()),
		"postgres": pgStatus,
		"valkey":   vkStatus,
	})
}
