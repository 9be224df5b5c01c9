// Command chatd runs the multi-room chat server: the JSON API, the WebSocket
// gateway, and the background sweepers, wired against PostgreSQL and Valkey.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yeheng/chatroom-server/internal/api"
	"github.com/yeheng/chatroom-server/internal/apierrors"
	"github.com/yeheng/chatroom-server/internal/auth"
	"github.com/yeheng/chatroom-server/internal/config"
	"github.com/yeheng/chatroom-server/internal/event"
	"github.com/yeheng/chatroom-server/internal/gateway"
	"github.com/yeheng/chatroom-server/internal/history"
	"github.com/yeheng/chatroom-server/internal/httputil"
	"github.com/yeheng/chatroom-server/internal/member"
	"github.com/yeheng/chatroom-server/internal/message"
	"github.com/yeheng/chatroom-server/internal/postgres"
	"github.com/yeheng/chatroom-server/internal/ratelimit"
	"github.com/yeheng/chatroom-server/internal/room"
	"github.com/yeheng/chatroom-server/internal/user"
	"github.com/yeheng/chatroom-server/internal/valkey"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("env", cfg.ServerEnv).
		Msg("Starting chatd")

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, cfg.ValkeyDialTimeout)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	// Repositories.
	userRepo := user.NewPGRepository(db, log.Logger)
	roomRepo := room.NewPGRepository(db, log.Logger)
	memberRepo := member.NewPGRepository(db, log.Logger)
	messageRepo := message.NewPGRepository(db, log.Logger)
	sessionStore := auth.NewValkeySessionStore(rdb, cfg.JWTRefreshTTL)

	// Auth collaborator.
	hasher := auth.NewHasher(cfg.Argon2Memory, cfg.Argon2Iterations, cfg.Argon2Parallelism,
		cfg.Argon2SaltLength, cfg.Argon2KeyLength)
	authService, err := auth.NewService(userRepo, sessionStore, hasher, cfg, log.Logger)
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}

	// Cross-node replication is optional; the no-op publisher preserves
	// single-node correctness.
	var publisher event.Publisher = event.NopPublisher{}
	if cfg.EventPublishEnabled {
		publisher = event.NewValkeyPublisher(rdb, log.Logger)
		log.Info().Msg("Event replication enabled")
	}

	// Services.
	locks := room.NewLockTable()
	roomService := room.NewService(
		roomRepo, memberRepo, userRepo, hasher, locks,
		ratelimit.NewWindow(cfg.RateLimitRoomPasswordCount, cfg.RateLimitRoomPasswordWindow),
		publisher, log.Logger,
	)
	messageService := message.NewService(
		messageRepo, memberRepo, userRepo, roomRepo, locks,
		int64(cfg.MaxConcurrentSends),
		ratelimit.NewWindow(cfg.RateLimitSendCount, cfg.RateLimitSendWindow),
		publisher, log.Logger,
	)
	historyCache := history.NewCache(cfg.HistoryCacheCapacity, cfg.HistoryCacheTTL)
	messageService.SetCache(historyCache)
	historyService := history.NewService(messageRepo, memberRepo, roomRepo, userRepo, historyCache, log.Logger)

	// Gateway.
	registry := gateway.NewRegistry(cfg.GatewayMaxConnections)
	router := gateway.NewRouter(registry, log.Logger)
	hub := gateway.NewHub(cfg, registry, router, roomService, messageService, userRepo, log.Logger)
	roomService.AddSink(hub)
	messageService.AddSink(hub)

	// Background sweepers.
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go hub.RunCleanup(sweepCtx)
	go runSessionCleanup(sweepCtx, sessionStore, log.Logger)

	app := buildApp(cfg, server{
		cfg:            cfg,
		authHandler:    api.NewAuthHandler(authService, log.Logger),
		userHandler:    api.NewUserHandler(userRepo, log.Logger),
		roomHandler:    api.NewRoomHandler(roomService, messageService, historyService, log.Logger),
		messageHandler: api.NewMessageHandler(messageService, historyService, log.Logger),
		healthHandler:  api.NewHealthHandler(db, rdb),
		gatewayHandler: api.NewGatewayHandler(hub, cfg),
	})

	// Graceful shutdown on SIGINT/SIGTERM: stop accepting traffic, poison
	// the gateway, then let the sweep context unwind.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown did not complete cleanly")
		}
		hub.Shutdown()
		sweepCancel()
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil &&
		!errors.Is(err, context.Canceled) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// server bundles the route handlers for registration.
type server struct {
	cfg            *config.Config
	authHandler    *api.AuthHandler
	userHandler    *api.UserHandler
	roomHandler    *api.RoomHandler
	messageHandler *api.MessageHandler
	healthHandler  *api.HealthHandler
	gatewayHandler *api.GatewayHandler
}

// buildApp assembles the Fiber application: middleware, routes, and the
// enveloped 404 catch-all.
func buildApp(cfg *config.Config, s server) *fiber.App {
	app := fiber.New(fiber.Config{AppName: cfg.ServerName})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger, "/health", "/metrics"))
	app.Use(cors.New(cors.Config{AllowOrigins: []string{cfg.CORSAllowOrigins}}))

	// Unauthenticated surface.
	app.Get("/health", s.healthHandler.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/ws", s.gatewayHandler.Upgrade)

	// Login and registration carry a per-IP limiter.
	authGroup := app.Group("/api/auth")
	authGroup.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitLoginCount,
		Expiration: cfg.RateLimitLoginWindow,
		LimitReached: func(c fiber.Ctx) error {
			return httputil.Fail(c, apierrors.RateLimited, "Too many authentication attempts")
		},
	}))
	authGroup.Post("/register", s.authHandler.Register)
	authGroup.Post("/login", s.authHandler.Login)
	authGroup.Post("/refresh", s.authHandler.Refresh)

	requireAuth := auth.RequireAuth(cfg.JWTSecret, cfg.JWTIssuer)

	userGroup := app.Group("/api/v1/users", requireAuth)
	userGroup.Get("/me", s.userHandler.GetMe)
	userGroup.Put("/me", s.userHandler.UpdateMe)
	userGroup.Get("/search", s.userHandler.SearchUsers)

	roomGroup := app.Group("/api/v1/rooms", requireAuth)
	roomGroup.Post("/", s.roomHandler.CreateRoom)
	roomGroup.Get("/", s.roomHandler.ListRooms)
	roomGroup.Get("/:roomID", s.roomHandler.GetRoom)
	roomGroup.Put("/:roomID", s.roomHandler.UpdateRoom)
	roomGroup.Delete("/:roomID", s.roomHandler.DeleteRoom)
	roomGroup.Post("/:roomID/join", s.roomHandler.JoinRoom)
	roomGroup.Post("/:roomID/leave", s.roomHandler.LeaveRoom)
	roomGroup.Get("/:roomID/messages", s.roomHandler.GetRoomMessages)
	roomGroup.Get("/:roomID/members", s.roomHandler.GetRoomMembers)

	messageGroup := app.Group("/api/v1/messages", requireAuth)
	messageGroup.Get("/search", s.messageHandler.SearchMessages)
	messageGroup.Get("/:messageID", s.messageHandler.GetMessage)
	messageGroup.Put("/:messageID", s.messageHandler.EditMessage)
	messageGroup.Delete("/:messageID", s.messageHandler.DeleteMessage)
	messageGroup.Post("/:messageID/recall", s.messageHandler.RecallMessage)

	// Anything else is a 404 in the standard envelope.
	app.Use(func(c fiber.Ctx) error {
		return httputil.Fail(c, apierrors.NotFound, "Route not found")
	})

	return app
}

// runSessionCleanup prunes stale session index entries hourly.
func runSessionCleanup(ctx context.Context, sessions *auth.ValkeySessionStore, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sessions.CleanupExpired(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("Session cleanup failed")
				continue
			}
			if removed > 0 {
				logger.Debug().Int("removed", removed).Msg("Pruned expired session entries")
			}
		}
	}
}
