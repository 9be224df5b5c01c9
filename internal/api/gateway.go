package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/yeheng/chatroom-server/internal/apierrors"
	"github.com/yeheng/chatroom-server/internal/auth"
	"github.com/yeheng/chatroom-server/internal/config"
	"github.com/yeheng/chatroom-server/internal/gateway"
	"github.com/yeheng/chatroom-server/internal/httputil"
)

// GatewayHandler serves the WebSocket upgrade endpoint.
type GatewayHandler struct {
	hub *gateway.Hub
	cfg *config.Config
}

// NewGatewayHandler creates a new gateway handler.
func NewGatewayHandler(hub *gateway.Hub, cfg *config.Config) *GatewayHandler {
	return &GatewayHandler{hub: hub, cfg: cfg}
}

// Upgrade handles GET /ws. The bearer token rides the token query parameter
// and is validated before the upgrade; a missing or invalid token is
// rejected with 401 while the connection is still plain HTTP.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	token := c.Query("token")
	if token == "" {
		return httputil.Fail(c, apierrors.Unauthorized, "Missing token")
	}

	claims, err := auth.ValidateAccessToken(token, h.cfg.JWTSecret, h.cfg.JWTIssuer)
	if err != nil {
		return httputil.Fail(c, apierrors.Unauthorized, "Invalid token")
	}
	userID, err := claims.SubjectID()
	if err != nil {
		return httputil.Fail(c, apierrors.Unauthorized, "Invalid token subject")
	}

	clientInfo := c.Get("User-Agent")
	return websocket.New(func(conn *websocket.Conn) {
		h.hub.ServeWebSocket(conn.Conn, userID, clientInfo)
	})(c)
}
