package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatmate-app/chatmate/server/chat"
	mw "github.com/chatmate-app/chatmate/server/middleware"
)

// ChatHandler handles the message endpoints.
type ChatHandler struct {
	chat   *chat.Service
	logger *zap.Logger
}

func NewChatHandler(svc *chat.Service, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chat: svc, logger: logger}
}

// Register mounts the message routes on an authenticated group.
func (h *ChatHandler) Register(g *gin.RouterGroup) {
	g.GET("/:friendId", h.History)
	g.POST("/:friendId", h.Send)
	g.PUT("/:friendId/read", h.MarkRead)
}

func friendIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("friendId"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid friend id")
		return 0, false
	}
	return id, true
}

// History handles GET /api/chat/:friendId.
func (h *ChatHandler) History(c *gin.Context) {
	friendID, ok := friendIDParam(c)
	if !ok {
		return
	}
	messages, err := h.chat.History(c.Request.Context(), mw.GetUserID(c), friendID)
	if err != nil {
		h.logger.Error("load history", zap.Error(err))
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"messages": messages})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// Send handles POST /api/chat/:friendId.
func (h *ChatHandler) Send(c *gin.Context) {
	friendID, ok := friendIDParam(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "message content is required")
		return
	}

	view, err := h.chat.Send(c.Request.Context(), mw.GetUserID(c), friendID, req.Content)
	if err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"message": view})
}

// MarkRead handles PUT /api/chat/:friendId/read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	friendID, ok := friendIDParam(c)
	if !ok {
		return
	}
	if err := h.chat.MarkRead(c.Request.Context(), mw.GetUserID(c), friendID); err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Messages marked as read"})
}
