// Package ws accepts WebSocket connections for realtime delivery. A client
// connects anonymously, then sends an authenticate packet carrying its JWT;
// only after that does the connection start receiving the user's events.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatmate-app/chatmate/server/cache"
	"github.com/chatmate-app/chatmate/server/config"
	"github.com/chatmate-app/chatmate/server/metrics"
	mw "github.com/chatmate-app/chatmate/server/middleware"
	"github.com/chatmate-app/chatmate/server/session"
)

const (
	// MsgAuthenticate binds the connection to the token's user.
	MsgAuthenticate = "authenticate"
	// MsgAuthenticated acknowledges a successful bind.
	MsgAuthenticated = "authenticated"
	// MsgError reports a failed operation back to the client.
	MsgError = "error"
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	cache    cache.Cache
	sec      config.SecurityConfig
	sm       *session.Manager
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(c cache.Cache, sec config.SecurityConfig, sm *session.Manager,
	router *Router, logger *zap.Logger) *Handler {
	h := &Handler{
		cache:  c,
		sec:    sec,
		sm:     sm,
		router: router,
		logger: logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	h.router.On(MsgAuthenticate, h.handleAuthenticate)
	return h
}

// ServeWS handles GET /ws. The upgrade itself requires no credentials; the
// connection stays anonymous until an authenticate packet arrives.
func (h *Handler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	sess := session.New(conn, h.logger)
	metrics.WsConnections.Inc()
	h.logger.Info("ws connected", zap.String("session_id", sess.ID))

	h.readPump(sess)
}

type authenticatePayload struct {
	Token string `json:"token"`
}

// handleAuthenticate validates the JWT and session cache entry, then binds
// the session. A failed attempt leaves the connection open but anonymous.
func (h *Handler) handleAuthenticate(ctx context.Context, s *session.Session, payload json.RawMessage) error {
	var req authenticatePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.Token == "" {
		h.sendError(s, "token is required")
		return nil
	}

	claims, err := mw.ParseToken(req.Token, h.sec.JWTSecret)
	if err != nil {
		h.logger.Warn("ws authentication failed",
			zap.String("session_id", s.ID),
			zap.Error(err))
		h.sendError(s, "invalid token")
		return nil
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	exists, err := h.cache.Exists(cacheCtx, "session:"+req.Token)
	if err != nil || !exists {
		h.logger.Warn("ws authentication failed, session expired",
			zap.String("session_id", s.ID))
		h.sendError(s, "session expired")
		return nil
	}

	h.sm.Bind(s, claims.UserID)
	metrics.BoundSessions.Set(float64(h.sm.Count()))

	ack, _ := json.Marshal(gin.H{"user_id": claims.UserID})
	s.Send(&session.Packet{Type: MsgAuthenticated, Payload: ack})
	return nil
}

func (h *Handler) sendError(s *session.Session, message string) {
	payload, _ := json.Marshal(gin.H{"message": message})
	s.Send(&session.Packet{Type: MsgError, Payload: payload})
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(s *session.Session) {
	defer func() {
		h.handleDisconnect(s)
	}()

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.String("session_id", s.ID),
					zap.Error(err))
			}
			return
		}
		// Reset read deadline on any message (heartbeat or otherwise).
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}

// handleDisconnect detaches the session from the router and closes it.
func (h *Handler) handleDisconnect(s *session.Session) {
	userID := s.UserID()
	h.sm.Unbind(s)
	s.Close()
	metrics.WsConnections.Dec()
	metrics.BoundSessions.Set(float64(h.sm.Count()))
	h.logger.Info("ws disconnected",
		zap.String("session_id", s.ID),
		zap.Int64("user_id", userID))
}
