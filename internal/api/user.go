package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/middleware"
	"github.com/lalith-99/arenachat/internal/repository"
	"go.uber.org/zap"
)

// UserHandler serves sender metadata: the name, avatar and admin badge a
// message is drawn with.
type UserHandler struct {
	repo   repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, logger: logger}
}

// GetMe handles GET /v1/users/me
func (h *UserHandler) GetMe(c *gin.Context) {
	h.respond(c, middleware.GetUserID(c))
}

// GetByID handles GET /v1/users/:id
//
// Clients that render REST history themselves resolve senders here and
// fall back to the message's sender_display_name on 404.
func (h *UserHandler) GetByID(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	h.respond(c, userID)
}

func (h *UserHandler) respond(c *gin.Context, userID uuid.UUID) {
	md, err := h.repo.GetSenderMetadata(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	if md == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, md)
}
