package ws

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/auth"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
	"github.com/fathima-sithara/tiffin-realtime/internal/hub"
	"github.com/fathima-sithara/tiffin-realtime/internal/service"
)

// Presence mirrors socket lifecycles into the shared store; *redis.Store implements it.
type Presence interface {
	AddConnection(ctx context.Context, userID, socketID, instanceID string) error
	Touch(ctx context.Context, userID string) error
	RemoveConnection(ctx context.Context, userID, socketID string) error
}

// ConnectionHook is told when a socket goes away; *service.ChatService implements it.
type ConnectionHook interface {
	ConnectionClosed(c *hub.Client)
}

type HandlerConfig struct {
	InstanceID        string
	PingInterval      time.Duration
	WriteDeadline     time.Duration
	MaxMessageSize    int64
	SendBuffer        int
	MessagesPerSecond int
}

func (c HandlerConfig) withDefaults() HandlerConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.WriteDeadline <= 0 {
		c.WriteDeadline = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = 20
	}
	return c
}

// readWait is how long a socket may stay silent, pongs included.
func (c HandlerConfig) readWait() time.Duration { return c.PingInterval * 2 }

type Handler struct {
	hub      *hub.Hub
	dispatch *Dispatcher
	hook     ConnectionHook
	presence Presence
	cfg      HandlerConfig
	log      *zap.SugaredLogger
}

func NewHandler(h *hub.Hub, d *Dispatcher, hook ConnectionHook, presence Presence, cfg HandlerConfig, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{hub: h, dispatch: d, hook: hook, presence: presence, cfg: cfg.withDefaults(), log: log}
}

// Serve runs one upgraded connection until the peer goes away. The upgrade
// route must sit behind auth.RequireAuth.
func (h *Handler) Serve(conn *websocket.Conn) {
	identity, ok := conn.Locals(auth.IdentityKey).(domain.Identity)
	if !ok {
		h.reject(conn, apperr.Auth(apperr.ReasonMissing, "not authenticated"))
		return
	}

	client := hub.NewClient(identity, h.cfg.SendBuffer)
	if err := h.hub.Register(client); err != nil {
		h.reject(conn, err)
		return
	}
	log := h.log.With("user_id", identity.UserID, "client_id", client.ID)
	log.Infow("socket connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if h.presence != nil {
		if err := h.presence.AddConnection(ctx, identity.UserID, client.ID, h.cfg.InstanceID); err != nil {
			log.Warnw("presence add failed", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, client, log)
	}()

	h.readPump(ctx, conn, client, log)

	if h.hook != nil {
		h.hook.ConnectionClosed(client)
	}
	rooms := h.hub.Disconnect(client)
	<-done
	if h.presence != nil {
		if err := h.presence.RemoveConnection(context.Background(), identity.UserID, client.ID); err != nil {
			log.Warnw("presence remove failed", "error", err)
		}
	}
	log.Infow("socket disconnected", "rooms", len(rooms))
}

func (h *Handler) reject(conn *websocket.Conn, err error) {
	if b, encErr := hub.Encode(service.EventError, service.NewErrorPayload("connect", err)); encErr == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteDeadline))
		_ = conn.WriteMessage(websocket.TextMessage, b)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(apperr.KindOf(err))))
	_ = conn.Close()
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, client *hub.Client, log *zap.SugaredLogger) {
	limiter := rate.NewLimiter(rate.Limit(h.cfg.MessagesPerSecond), h.cfg.MessagesPerSecond*2)

	conn.SetReadLimit(h.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.readWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.readWait()))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugw("socket read ended", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.readWait()))
		if mt != websocket.TextMessage {
			continue
		}
		if !limiter.Allow() {
			h.hub.EmitTo(client, service.EventError, service.NewErrorPayload("", apperr.Validation("too many events, slow down")))
			continue
		}
		if h.presence != nil {
			if err := h.presence.Touch(ctx, client.UserID); err != nil {
				log.Debugw("presence touch failed", "error", err)
			}
		}
		h.dispatch.Dispatch(ctx, client, data)
	}
}

// writePump is the only goroutine that writes to conn.
func (h *Handler) writePump(conn *websocket.Conn, client *hub.Client, log *zap.SugaredLogger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case b, ok := <-client.Send():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteDeadline))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debugw("socket write failed", "error", err)
				h.hub.Disconnect(client)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.Disconnect(client)
				return
			}
		}
	}
}
