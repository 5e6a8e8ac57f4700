package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/tiffin-realtime/internal/auth"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
	"github.com/fathima-sithara/tiffin-realtime/internal/hub"
	"github.com/fathima-sithara/tiffin-realtime/internal/middleware"
	presence "github.com/fathima-sithara/tiffin-realtime/internal/redis"
	"github.com/fathima-sithara/tiffin-realtime/internal/service"
	"github.com/fathima-sithara/tiffin-realtime/internal/storage"
	"github.com/fathima-sithara/tiffin-realtime/internal/ws"
)

type PresenceReader interface {
	GetPresence(ctx context.Context, userID string) (*presence.Presence, error)
}

type Uploader interface {
	PresignUpload(ctx context.Context, userID, filename, contentType string) (*storage.UploadURL, error)
}

// Deps are the collaborators the HTTP surface needs. Presence, Uploads,
// RateLimit, Metrics and Socket are optional.
type Deps struct {
	InstanceID string
	// AllowOrigins is the CORS origin list; empty means "*".
	AllowOrigins string
	Verifier     *auth.Verifier
	Users        auth.ActiveChecker
	Chat         *service.ChatService
	Notify       *service.NotificationService
	Hub          *hub.Hub
	Presence     PresenceReader
	Uploads      Uploader
	RateLimit    *middleware.RateLimiter
	Metrics      http.Handler
	Socket       *ws.Handler
	Log          *zap.SugaredLogger
}

type Server struct {
	deps Deps
	log  *zap.SugaredLogger
}

func NewServer(d Deps) *fiber.App {
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	s := &Server{deps: d, log: d.Log}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.fiberError,
	})
	origins := d.AllowOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: origins}))
	app.Use(s.accessLog)

	app.Get("/health", s.health)
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics))
	}

	gate := auth.RequireAuth(d.Verifier, d.Users, writeError)
	if d.Socket != nil {
		app.Get("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		}, gate, websocket.New(d.Socket.Serve))
	}

	v1 := app.Group("/api/v1", gate, d.RateLimit.MiddlewareByKey(userKey))

	chat := v1.Group("/chat")
	chat.Get("/conversations", s.conversations)
	chat.Get("/unread-count", s.unreadMessages)
	chat.Post("/send", s.sendMessage)
	chat.Post("/attachments/upload-url", s.uploadURL)
	chat.Delete("/messages/:messageId", s.deleteMessage)
	chat.Put("/messages/:messageId/report", s.reportMessage)
	chat.Post("/:conversationId/read", s.markConversationRead)
	chat.Get("/:conversationId", s.history)

	notes := v1.Group("/notifications")
	notes.Get("/", s.listNotifications)
	notes.Get("/unread-count", s.unreadNotifications)
	notes.Put("/read-all", s.readAllNotifications)
	notes.Put("/:id/read", s.readNotification)
	notes.Post("/", auth.RequireRole(writeError, domain.RoleAdmin), s.createNotification)

	v1.Get("/presence/:userId", s.presence)

	return app
}

// userKey rate-limits per authenticated user, falling back to the client IP.
func userKey(c *fiber.Ctx) string {
	if id, ok := auth.IdentityFrom(c); ok {
		return "user:" + id.UserID
	}
	return "ip:" + c.IP()
}

func (s *Server) health(c *fiber.Ctx) error {
	body := fiber.Map{"status": "ok", "instance": s.deps.InstanceID}
	if s.deps.Hub != nil {
		body["connections"] = s.deps.Hub.Connections()
	}
	return c.JSON(body)
}

func (s *Server) identity(c *fiber.Ctx) domain.Identity {
	id, _ := auth.IdentityFrom(c)
	return id
}

// accessLog renders errors itself so the logged status is the one sent.
func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	if err := c.Next(); err != nil {
		if herr := s.fiberError(c, err); herr != nil {
			return herr
		}
	}
	status := c.Response().StatusCode()
	fields := []any{
		"method", c.Method(),
		"path", c.Path(),
		"ip", c.IP(),
		"status", status,
		"latency", time.Since(start),
	}
	if status >= fiber.StatusInternalServerError {
		s.log.Warnw("http request", fields...)
		return nil
	}
	s.log.Debugw("http request", fields...)
	return nil
}
