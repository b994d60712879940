package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadlineS = 60 * time.Second
	pingInterval  = 30 * time.Second // server-side WS ping
)

// Packet is the unified WS message envelope, both directions.
type Packet struct {
	Seq     uint64          `json:"seq,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Session represents one live push channel. A session starts anonymous
// (UserID 0) and becomes authenticated when the Manager binds it to a user.
type Session struct {
	ID   string
	Conn *websocket.Conn

	SendChan chan []byte
	Done     chan struct{}
	LastSeq  uint64
	TraceID  string

	mu     sync.Mutex
	userID int64
	logger *zap.Logger
}

// New creates an anonymous Session and starts its write goroutine.
func New(conn *websocket.Conn, logger *zap.Logger) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		Conn:     conn,
		SendChan: make(chan []byte, sendChanBuf),
		Done:     make(chan struct{}),
		logger:   logger,
	}
	go s.writePump()
	return s
}

// writePump drains SendChan and writes to the WebSocket connection.
// Also sends periodic WebSocket pings to detect dead connections quickly.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data, ok := <-s.SendChan:
			if !ok {
				return
			}
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error",
					zap.String("session_id", s.ID),
					zap.Int64("user_id", s.UserID()),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done:
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes pkt and sends it non-blocking. Drops if channel full or closed.
func (s *Session) Send(pkt *Packet) {
	data, err := json.Marshal(pkt)
	if err != nil {
		return
	}
	s.SendRaw(data)
}

// SendRaw sends pre-encoded bytes non-blocking. Drops if channel full or
// closed; the durable store is the fallback of record, so a dropped push is
// logged, never retried.
func (s *Session) SendRaw(data []byte) {
	if s.IsClosed() {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
		// Session closed while sending.
	default:
		if !s.IsClosed() {
			s.logger.Warn("send channel full, dropping event",
				zap.String("session_id", s.ID),
				zap.Int64("user_id", s.UserID()))
		}
	}
}

// Close signals the writePump to shut down. Safe to call more than once.
func (s *Session) Close() {
	select {
	case <-s.Done:
	default:
		close(s.Done)
	}
}

// IsClosed returns true if the session has been closed.
func (s *Session) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// UserID returns the bound user ID, or 0 while anonymous.
func (s *Session) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) setUserID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = id
}

// SetReadDeadline resets the WebSocket read deadline to 60 s from now.
func (s *Session) SetReadDeadline() {
	_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadlineS))
}
