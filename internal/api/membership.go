package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/apperr"
	"github.com/lalith-99/arenachat/internal/models"
	"github.com/lalith-99/arenachat/internal/repository"
	"github.com/lalith-99/arenachat/internal/resolver"
	"go.uber.org/zap"
)

// MembershipHandler answers "who can I talk to" for the Private tab.
type MembershipHandler struct {
	roles    repository.RoleRepository
	resolver *resolver.Resolver
	logger   *zap.Logger
}

func NewMembershipHandler(roles repository.RoleRepository, res *resolver.Resolver, logger *zap.Logger) *MembershipHandler {
	return &MembershipHandler{roles: roles, resolver: res, logger: logger}
}

// Captains handles GET /v1/events/:event_id/captains
//
// Returns every other team's captain. Only captains of the event may ask:
// the list is the peer picker of the Private tab, which nobody else can
// open.
func (h *MembershipHandler) Captains(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("event_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	res, err := h.resolver.Resolve(c.Request.Context(), providerFor(c, h.roles), resolver.Request{
		Kind:    models.KindPrivate,
		EventID: eventID,
	})
	if err != nil {
		respondError(c, h.logger, "list captains", err)
		return
	}
	if !res.Capability.CanRead {
		respondError(c, h.logger, "list captains", apperr.Authorization("only team captains can list peers"))
		return
	}

	peers := res.Peers
	if peers == nil {
		peers = []models.Captain{}
	}
	c.JSON(http.StatusOK, peers)
}
