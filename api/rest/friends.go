package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatmate-app/chatmate/server/audit"
	mw "github.com/chatmate-app/chatmate/server/middleware"
	"github.com/chatmate-app/chatmate/server/social"
)

// FriendHandler handles the friend request and friend list endpoints.
type FriendHandler struct {
	social *social.Service
	audit  *audit.Service
	logger *zap.Logger
}

func NewFriendHandler(svc *social.Service, a *audit.Service, logger *zap.Logger) *FriendHandler {
	return &FriendHandler{social: svc, audit: a, logger: logger}
}

// Register mounts the friend routes on an authenticated group.
func (h *FriendHandler) Register(g *gin.RouterGroup) {
	g.GET("/list", h.List)
	g.GET("/requests", h.Requests)
	g.POST("/request", h.Request)
	g.POST("/accept/:requestId", h.Accept)
	g.POST("/decline/:requestId", h.Decline)
}

func requestIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("requestId"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid request id")
		return 0, false
	}
	return id, true
}

type friendRequestBody struct {
	RecipientEmail string `json:"recipientEmail" binding:"required"`
}

// Request handles POST /api/friends/request.
func (h *FriendHandler) Request(c *gin.Context) {
	var req friendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "recipientEmail is required")
		return
	}

	userID := mw.GetUserID(c)
	view, err := h.social.Request(c.Request.Context(), userID, req.RecipientEmail)
	if err != nil {
		failErr(c, err)
		return
	}

	h.auditLog(c, userID, "friend_request", gin.H{"request_id": view.ID})
	respond(c, http.StatusCreated, gin.H{
		"message": "Friend request sent",
		"request": view,
	})
}

// Accept handles POST /api/friends/accept/:requestId.
func (h *FriendHandler) Accept(c *gin.Context) {
	requestID, ok := requestIDParam(c)
	if !ok {
		return
	}
	userID := mw.GetUserID(c)
	req, err := h.social.Accept(c.Request.Context(), requestID, userID)
	if err != nil {
		failErr(c, err)
		return
	}

	h.auditLog(c, userID, "friend_accept", gin.H{"request_id": requestID})
	respond(c, http.StatusOK, gin.H{"message": "Friend request accepted", "request": req})
}

// Decline handles POST /api/friends/decline/:requestId.
func (h *FriendHandler) Decline(c *gin.Context) {
	requestID, ok := requestIDParam(c)
	if !ok {
		return
	}
	userID := mw.GetUserID(c)
	if err := h.social.Decline(c.Request.Context(), requestID, userID); err != nil {
		failErr(c, err)
		return
	}

	h.auditLog(c, userID, "friend_decline", gin.H{"request_id": requestID})
	respond(c, http.StatusOK, gin.H{"message": "Friend request declined"})
}

// Requests handles GET /api/friends/requests.
func (h *FriendHandler) Requests(c *gin.Context) {
	views, err := h.social.PendingRequests(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		h.logger.Error("load pending requests", zap.Error(err))
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"requests": views})
}

// List handles GET /api/friends/list.
func (h *FriendHandler) List(c *gin.Context) {
	views, err := h.social.Friends(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		h.logger.Error("load friends", zap.Error(err))
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"friends": views})
}

func (h *FriendHandler) auditLog(c *gin.Context, userID int64, action string, request interface{}) {
	if h.audit == nil {
		return
	}
	h.audit.Log(audit.Entry{
		TraceID: mw.GetTraceID(c),
		UserID:  &userID,
		Action:  action,
		Request: request,
		IP:      c.ClientIP(),
	})
}
