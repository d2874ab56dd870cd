package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/auth"
	"github.com/lalith-99/arenachat/internal/repository"
	"go.uber.org/zap"
)

// DevTokenTTL is how long a self-contained-mode token lasts.
const DevTokenTTL = 24 * time.Hour

// AuthHandler issues tokens in self-contained mode only.
//
// In production, sign-in belongs to the platform's identity service, which
// signs tokens with the shared JWT_SECRET. A self-contained instance has no
// such service, so this PUBLIC endpoint mints a token for any seeded user.
// main.go never registers it outside self-contained mode.
type AuthHandler struct {
	userRepo  repository.UserRepository
	jwtSecret string
	logger    *zap.Logger
}

func NewAuthHandler(userRepo repository.UserRepository, jwtSecret string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{userRepo: userRepo, jwtSecret: jwtSecret, logger: logger}
}

type devTokenRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
}

// authResponse is sent back as "Authorization: Bearer <token>" (or the
// websocket's ?token=) on every later request.
type authResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DevToken handles POST /v1/auth/dev-token
func (h *AuthHandler) DevToken(c *gin.Context) {
	var req devTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := uuid.MustParse(req.UserID)

	user, err := h.userRepo.GetSenderMetadata(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to find user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	token, err := auth.GenerateToken(user.UserID, user.DisplayName, user.IsAdmin, h.jwtSecret, DevTokenTTL)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusCreated, authResponse{Token: token, ExpiresAt: time.Now().Add(DevTokenTTL)})
}
