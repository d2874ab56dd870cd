package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/apperr"
	"github.com/lalith-99/arenachat/internal/identity"
	"github.com/lalith-99/arenachat/internal/middleware"
	"github.com/lalith-99/arenachat/internal/models"
	"github.com/lalith-99/arenachat/internal/repository"
	"github.com/lalith-99/arenachat/internal/resolver"
	"github.com/lalith-99/arenachat/internal/store"
	"go.uber.org/zap"
)

// ChannelHandler serves the REST view of channels: what the caller may do
// on one, and its recent history.
//
// Why is there no channel id in the URL?
//   - Channels are never created or stored. A channel is addressed by its
//     kind and scoping parameters, the same request the websocket "open"
//     operation takes, and the resolver derives the key from it.
type ChannelHandler struct {
	roles    repository.RoleRepository
	resolver *resolver.Resolver
	store    *store.Client
	logger   *zap.Logger
}

func NewChannelHandler(roles repository.RoleRepository, res *resolver.Resolver, st *store.Client, logger *zap.Logger) *ChannelHandler {
	return &ChannelHandler{roles: roles, resolver: res, store: st, logger: logger}
}

// channelQuery is the addressing part of every channel request.
//
// binding:"required" on Kind: gin rejects the request with 400 before the
// handler runs. The per-kind rules (event_id for everything but match,
// match_kind + match_id for match) are checked by the resolver.
type channelQuery struct {
	Kind      string `form:"kind" json:"kind" binding:"required"`
	EventID   string `form:"event_id" json:"event_id"`
	PeerID    string `form:"peer_id" json:"peer_id"`
	MatchKind string `form:"match_kind" json:"match_kind"`
	MatchID   string `form:"match_id" json:"match_id"`
}

func (q channelQuery) request() (resolver.Request, error) {
	kind, err := models.ParseKind(q.Kind)
	if err != nil {
		return resolver.Request{}, apperr.Validation("%s", err.Error())
	}
	req := resolver.Request{Kind: kind}
	if req.EventID, err = optionalUUID("event_id", q.EventID); err != nil {
		return resolver.Request{}, err
	}
	if req.PeerID, err = optionalUUID("peer_id", q.PeerID); err != nil {
		return resolver.Request{}, err
	}
	if q.MatchKind != "" || q.MatchID != "" {
		matchID, err := optionalUUID("match_id", q.MatchID)
		if err != nil {
			return resolver.Request{}, err
		}
		req.Match = &models.MatchRef{Kind: models.MatchKind(q.MatchKind), ID: matchID}
	}
	return req, nil
}

func optionalUUID(field, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", field)
	}
	return id, nil
}

// provider builds the caller's role view. The middleware guarantees a
// caller on every /v1 route.
func providerFor(c *gin.Context, roles repository.RoleRepository) identity.Provider {
	caller, _ := middleware.GetCaller(c)
	return identity.NewProvider(caller, roles)
}

type capabilityResponse struct {
	CanRead  bool `json:"can_read"`
	CanWrite bool `json:"can_write"`
	Locked   bool `json:"locked"`
}

type resolveResponse struct {
	Channel    string             `json:"channel,omitempty"`
	Kind       models.ChannelKind `json:"kind"`
	Scope      *models.Scope      `json:"scope,omitempty"`
	Capability capabilityResponse `json:"capability"`
	Peers      []models.Captain   `json:"peers,omitempty"`
}

// resolve shares the query -> key -> capability step of every handler.
func (h *ChannelHandler) resolve(c *gin.Context) (identity.Provider, *resolver.Resolution, bool) {
	var q channelQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	req, err := q.request()
	if err != nil {
		respondError(c, h.logger, "resolve channel", err)
		return nil, nil, false
	}
	p := providerFor(c, h.roles)
	res, err := h.resolver.Resolve(c.Request.Context(), p, req)
	if err != nil {
		respondError(c, h.logger, "resolve channel", err)
		return nil, nil, false
	}
	return p, res, true
}

// Resolve handles GET /v1/channels/resolve?kind=...
//
// A denied channel is still 200: "locked" is something the client renders,
// not a failed request.
func (h *ChannelHandler) Resolve(c *gin.Context) {
	_, res, ok := h.resolve(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, resolutionResponse(res, c.Query("kind")))
}

func resolutionResponse(res *resolver.Resolution, kind string) resolveResponse {
	out := resolveResponse{
		Kind: models.ChannelKind(kind),
		Capability: capabilityResponse{
			CanRead:  res.Capability.CanRead,
			CanWrite: res.Capability.CanWrite,
			Locked:   res.Capability.Locked(),
		},
		Peers: res.Peers,
	}
	if res.Key != nil {
		scope := models.ScopeOf(res.Key)
		out.Channel = res.Key.Filter()
		out.Kind = res.Key.Kind()
		out.Scope = &scope
	}
	return out
}

// History handles GET /v1/channels/messages?kind=...
//
// Returns the newest window of messages, oldest first. There is no cursor:
// older messages are not reachable.
func (h *ChannelHandler) History(c *gin.Context) {
	p, res, ok := h.resolve(c)
	if !ok {
		return
	}
	if res.Key == nil {
		if !res.Capability.CanRead {
			respondError(c, h.logger, "list messages", apperr.Authorization("channel is locked"))
			return
		}
		respondError(c, h.logger, "list messages", apperr.Validation("peer_id is required"))
		return
	}

	// The store re-verifies read access from current roles; the resolution
	// above only picked the key.
	messages, err := h.store.FetchHistory(c.Request.Context(), p, res.Key)
	if err != nil {
		respondError(c, h.logger, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"channel":  res.Key.Filter(),
		"messages": messages,
	})
}
