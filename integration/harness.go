// Package integration spins up the fully wired chat server and exercises it
// end to end over real HTTP and WebSocket connections.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	apirest "github.com/chatmate-app/chatmate/server/api/rest"
	"github.com/chatmate-app/chatmate/server/api/sse"
	apows "github.com/chatmate-app/chatmate/server/api/ws"
	"github.com/chatmate-app/chatmate/server/cache"
	"github.com/chatmate-app/chatmate/server/chat"
	"github.com/chatmate-app/chatmate/server/config"
	"github.com/chatmate-app/chatmate/server/mailer"
	mw "github.com/chatmate-app/chatmate/server/middleware"
	"github.com/chatmate-app/chatmate/server/notify"
	"github.com/chatmate-app/chatmate/server/session"
	"github.com/chatmate-app/chatmate/server/social"
	"github.com/chatmate-app/chatmate/server/testutil"
)

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB       *gorm.DB
	Cache    cache.Cache
	PubSub   cache.PubSub
	Sessions *session.Manager
	Server   *httptest.Server
	URL      string // http://127.0.0.1:<port>
	WSURL    string // ws://127.0.0.1:<port>/ws
	Sec      config.SecurityConfig
}

// NewTestServer creates a fully wired chat server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c := testutil.SetupTestCache(t)
	pubsub := testutil.SetupTestPubSub(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTL:         72 * time.Hour,
		OTPTTL:         10 * time.Minute,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AllowedOrigins: []string{}, // allow all origins
	}

	// ---- Realtime core ----
	sm := session.NewManager(logger)
	notifier := notify.New(sm, pubsub, logger)

	// ---- Services ----
	chatSvc := chat.NewService(db, notifier, logger)
	socialSvc := social.NewService(db, sm, notifier, logger)
	mail := mailer.New(config.MailConfig{DevMode: true}, logger)

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	wsH := apows.NewHandler(c, sec, sm, wsRouter, logger)

	// ---- Gin HTTP Server (mirrors main.go) ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/api/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	authH := apirest.NewAuthHandler(db, c, sec, mail, nil, logger)
	chatH := apirest.NewChatHandler(chatSvc, logger)
	friendH := apirest.NewFriendHandler(socialSvc, nil, logger)

	api := r.Group("/api")
	{
		authH.Register(api.Group("/auth"))

		authed := api.Group("", mw.Auth(sec, c))
		authH.RegisterAuthed(authed.Group("/auth"))
		chatH.Register(authed.Group("/chat"))
		friendH.Register(authed.Group("/friends"))
	}

	r.GET("/ws", wsH.ServeWS)

	sseH := sse.NewHandler(pubsub, c, sec, logger)
	r.GET("/sse", sseH.ServeSSE)

	// ---- Start server ----
	server := httptest.NewServer(r)
	url := server.URL
	wsURL := "ws" + url[len("http"):] + "/ws"

	ts := &TestServer{
		DB:       db,
		Cache:    c,
		PubSub:   pubsub,
		Sessions: sm,
		Server:   server,
		URL:      url,
		WSURL:    wsURL,
		Sec:      sec,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the server and all live sessions.
func (ts *TestServer) Close() {
	ts.Sessions.CloseAll()
	ts.Server.Close()
}

var uniqueCounter atomic.Int64

// UniqueID returns a unique suffix-stamped identifier for test fixtures.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, uniqueCounter.Add(1))
}

// Signup runs the full OTP flow for the given identity and returns the token
// and user ID.
func (ts *TestServer) Signup(t *testing.T, name, email, password string) (string, int64) {
	t.Helper()

	resp := ts.PostJSON(t, "/api/auth/send-otp", map[string]string{"email": email}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	code, err := ts.Cache.Get(context.Background(), "otp:"+email)
	require.NoError(t, err)

	resp = ts.PostJSON(t, "/api/auth/verify-otp",
		map[string]string{"email": email, "otp": code}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.PostJSON(t, "/api/auth/signup",
		map[string]string{"name": name, "email": email, "password": password}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		Token string `json:"token"`
		User  struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	ReadJSON(t, resp, &body)
	require.NotEmpty(t, body.Token)
	return body.Token, body.User.ID
}

// DialWS opens a WebSocket connection and authenticates it with the token.
func (ts *TestServer) DialWS(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.WSURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	payload, _ := json.Marshal(map[string]string{"token": token})
	require.NoError(t, conn.WriteJSON(&session.Packet{Type: apows.MsgAuthenticate, Payload: payload}))

	pkt := ReadPacket(t, conn)
	require.Equal(t, apows.MsgAuthenticated, pkt.Type, string(pkt.Payload))
	return conn
}

// ReadPacket reads one packet from the connection with a 2 s deadline.
func ReadPacket(t *testing.T, conn *websocket.Conn) *session.Packet {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pkt session.Packet
	require.NoError(t, conn.ReadJSON(&pkt))
	return &pkt
}

// PostJSON issues a POST with an optional bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, token)
}

// Put issues a PUT with an optional bearer token.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPut, path, body, token)
}

// Get issues a GET with an optional bearer token.
func (ts *TestServer) Get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, token)
}

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// ReadJSON decodes and closes a response body.
func ReadJSON(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}
