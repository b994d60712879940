package rest

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/chatmate-app/chatmate/server/audit"
	"github.com/chatmate-app/chatmate/server/cache"
	"github.com/chatmate-app/chatmate/server/config"
	"github.com/chatmate-app/chatmate/server/mailer"
	mw "github.com/chatmate-app/chatmate/server/middleware"
	"github.com/chatmate-app/chatmate/server/model"
)

const (
	sessionKeyPrefix = "session:"
	otpKeyPrefix     = "otp:"
	bcryptCost       = 12
)

// AuthHandler handles the OTP, signup, and signin endpoints.
type AuthHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	sec    config.SecurityConfig
	mailer mailer.Mailer
	audit  *audit.Service
	logger *zap.Logger
}

func NewAuthHandler(db *gorm.DB, c cache.Cache, sec config.SecurityConfig,
	m mailer.Mailer, a *audit.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, cache: c, sec: sec, mailer: m, audit: a, logger: logger}
}

// Register mounts the auth routes on the given group.
func (h *AuthHandler) Register(g *gin.RouterGroup) {
	g.POST("/send-otp", h.SendOTP)
	g.POST("/verify-otp", h.VerifyOTP)
	g.POST("/signup", h.Signup)
	g.POST("/signin", h.Signin)
}

// RegisterAuthed mounts the auth routes that require a valid session.
func (h *AuthHandler) RegisterAuthed(g *gin.RouterGroup) {
	g.POST("/logout", h.Logout)
	g.GET("/me", h.Me)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func otpCode() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", binary.BigEndian.Uint64(buf[:])%1000000), nil
}

type sendOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// SendOTP handles POST /api/auth/send-otp. Creates the unverified user on
// first contact and mails a one-time code.
func (h *AuthHandler) SendOTP(c *gin.Context) {
	var req sendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "a valid email is required")
		return
	}
	email := normalizeEmail(req.Email)

	var user model.User
	err := h.db.Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = model.User{Email: email}
		if createErr := h.db.Create(&user).Error; createErr != nil {
			h.logger.Error("create user for otp", zap.Error(createErr))
			fail(c, http.StatusInternalServerError, serverErrorMsg)
			return
		}
	} else if err != nil {
		fail(c, http.StatusInternalServerError, serverErrorMsg)
		return
	}

	code, err := otpCode()
	if err != nil {
		fail(c, http.StatusInternalServerError, serverErrorMsg)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, otpKeyPrefix+email, code, h.sec.OTPTTL); err != nil {
		fail(c, http.StatusInternalServerError, serverErrorMsg)
		return
	}
	if err := h.mailer.SendOTP(c.Request.Context(), email, code); err != nil {
		h.logger.Error("send otp", zap.String("email", email), zap.Error(err))
		fail(c, http.StatusInternalServerError, "Failed to send verification code")
		return
	}

	respond(c, http.StatusOK, gin.H{"message": "Verification code sent"})
}

type verifyOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
	OTP   string `json:"otp" binding:"required"`
}

// VerifyOTP handles POST /api/auth/verify-otp.
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "email and otp are required")
		return
	}
	email := normalizeEmail(req.Email)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	stored, err := h.cache.Get(ctx, otpKeyPrefix+email)
	if err != nil || stored == "" || stored != req.OTP {
		fail(c, http.StatusBadRequest, "Invalid or expired verification code")
		return
	}
	_ = h.cache.Del(ctx, otpKeyPrefix+email)

	if err := h.db.Model(&model.User{}).
		Where("email = ?", email).
		Update("email_verified", true).Error; err != nil {
		fail(c, http.StatusInternalServerError, serverErrorMsg)
		return
	}

	respond(c, http.StatusOK, gin.H{"message": "Email verified"})
}

type signupRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=64"`
}

// Signup handles POST /api/auth/signup. Requires a previously verified email.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "name, email, and a password of at least 6 characters are required")
		return
	}
	email := normalizeEmail(req.Email)

	var user model.User
	err := h.db.Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !user.EmailVerified) {
		fail(c, http.StatusBadRequest, "Email is not verified")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, serverErrorMsg)
		return
	}
	if user.PasswordHash != "" {
		fail(c, http.StatusBadRequest, "User already exists")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		fail(c, http.StatusInternalServerError, serverErrorMsg)
		return
	}
	if err := h.db.Model(&user).Updates(map[string]interface{}{
		"name":          req.Name,
		"password_hash": string(hash),
	}).Error; err != nil {
		fail(c, http.StatusInternalServerError, serverErrorMsg)
		return
	}
	user.Name = req.Name

	token, err := h.issueSession(c, user.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, serverErrorMsg)
		return
	}

	h.auditLog(c, user.ID, "signup", gin.H{"email": email})
	respond(c, http.StatusCreated, gin.H{"token": token, "user": userPayload(&user)})
}

type signinRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Signin handles POST /api/auth/signin.
func (h *AuthHandler) Signin(c *gin.Context) {
	var req signinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "email and password are required")
		return
	}
	email := normalizeEmail(req.Email)

	var user model.User
	err := h.db.Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, serverErrorMsg)
		return
	}
	if user.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		fail(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !user.EmailVerified {
		fail(c, http.StatusForbidden, "Email is not verified")
		return
	}

	token, err := h.issueSession(c, user.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, serverErrorMsg)
		return
	}

	h.auditLog(c, user.ID, "signin", gin.H{"email": email})
	respond(c, http.StatusOK, gin.H{"token": token, "user": userPayload(&user)})
}

// Logout handles POST /api/auth/logout. Deleting the cache entry invalidates
// the token before its JWT expiry.
func (h *AuthHandler) Logout(c *gin.Context) {
	tokenStr := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, sessionKeyPrefix+tokenStr)

	userID := mw.GetUserID(c)
	h.auditLog(c, userID, "logout", nil)
	respond(c, http.StatusOK, gin.H{"message": "Logged out"})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	var user model.User
	if err := h.db.First(&user, mw.GetUserID(c)).Error; err != nil {
		fail(c, http.StatusNotFound, "User not found")
		return
	}
	respond(c, http.StatusOK, gin.H{"user": userPayload(&user)})
}

func (h *AuthHandler) issueSession(c *gin.Context, userID int64) (string, error) {
	token, err := mw.GenerateToken(userID, h.sec.JWTSecret, h.sec.JWTTTL)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, sessionKeyPrefix+token,
		strconv.FormatInt(userID, 10), h.sec.JWTTTL); err != nil {
		return "", err
	}
	return token, nil
}

func (h *AuthHandler) auditLog(c *gin.Context, userID int64, action string, request interface{}) {
	if h.audit == nil {
		return
	}
	entry := audit.Entry{
		TraceID: mw.GetTraceID(c),
		Action:  action,
		Request: request,
		IP:      c.ClientIP(),
	}
	if userID != 0 {
		entry.UserID = &userID
	}
	h.audit.Log(entry)
}

func userPayload(u *model.User) gin.H {
	return gin.H{"id": u.ID, "name": u.Name, "email": u.Email}
}
