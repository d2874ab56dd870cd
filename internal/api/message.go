package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/apperr"
	"github.com/lalith-99/arenachat/internal/repository"
	"github.com/lalith-99/arenachat/internal/resolver"
	"github.com/lalith-99/arenachat/internal/store"
	"go.uber.org/zap"
)

type MessageHandler struct {
	roles    repository.RoleRepository
	resolver *resolver.Resolver
	store    *store.Client
	logger   *zap.Logger
}

func NewMessageHandler(roles repository.RoleRepository, res *resolver.Resolver, st *store.Client, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{roles: roles, resolver: res, store: st, logger: logger}
}

// createMessageRequest carries the channel address and the body. Length
// rules are enforced by the store client, not by binding tags, so REST and
// websocket sends fail identically.
type createMessageRequest struct {
	channelQuery
	Body string `json:"body"`
}

// Create handles POST /v1/messages
func (h *MessageHandler) Create(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := store.ValidateBody(req.Body); err != nil {
		respondError(c, h.logger, "create message", err)
		return
	}

	resolveReq, err := req.request()
	if err != nil {
		respondError(c, h.logger, "create message", err)
		return
	}
	p := providerFor(c, h.roles)
	res, err := h.resolver.Resolve(c.Request.Context(), p, resolveReq)
	if err != nil {
		respondError(c, h.logger, "create message", err)
		return
	}
	if res.Key == nil {
		respondError(c, h.logger, "create message", apperr.Authorization("channel is locked"))
		return
	}

	msg, err := h.store.Insert(c.Request.Context(), p, res.Key, req.Body)
	if err != nil {
		respondError(c, h.logger, "create message", err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// Delete handles DELETE /v1/messages/:id
//
// 204 whether or not the message still existed: delete is idempotent.
func (h *MessageHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	if err := h.store.Delete(c.Request.Context(), providerFor(c, h.roles), id); err != nil {
		respondError(c, h.logger, "delete message", err)
		return
	}
	c.Status(http.StatusNoContent)
}
