package resolver

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/apperr"
	"github.com/lalith-99/arenachat/internal/identity"
	"github.com/lalith-99/arenachat/internal/models"
	"go.uber.org/zap"
)

// Request is what the client asks to open: a channel kind plus whatever
// scoping parameters that kind needs.
type Request struct {
	Kind    models.ChannelKind
	EventID uuid.UUID
	Match   *models.MatchRef
	// PeerID is the other captain of a private channel. A Private request
	// without a peer resolves the capability and the peer list only.
	PeerID uuid.UUID
}

// Resolution is the outcome of Resolve. Key is nil when the request could
// not be scoped (unknown event, private tab before a peer is chosen).
type Resolution struct {
	Key        models.ChannelKey
	Capability models.Capability
	Peers      []models.Captain
}

// Resolver decides which channel a request addresses and what the caller
// may do in it.
//
// Why does every rule go through CapabilityFor(key)?
//   - The store client re-verifies each write with the same function, using
//     only the key. Client-supplied capability never reaches it.
//
// Resolution fails closed: a lookup error or an ambiguous state produces
// models.Denied(), never an error the caller could mistake for "try again
// with write access".
type Resolver struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve turns a request into a key and capability. Only malformed
// requests return an error (VALIDATION).
func (r *Resolver) Resolve(ctx context.Context, p identity.Provider, req Request) (*Resolution, error) {
	switch req.Kind {
	case models.KindEvent:
		if req.EventID == uuid.Nil {
			return nil, apperr.Validation("event_id is required")
		}
		key := models.EventKey{EventID: req.EventID}
		return &Resolution{Key: key, Capability: r.CapabilityFor(ctx, p, key)}, nil

	case models.KindPrivate:
		if req.EventID == uuid.Nil {
			return nil, apperr.Validation("event_id is required")
		}
		return r.resolvePrivate(ctx, p, req)

	case models.KindSupport:
		if req.EventID == uuid.Nil {
			return nil, apperr.Validation("event_id is required")
		}
		return r.resolveSupport(ctx, p, req)

	case models.KindMatch:
		if req.Match == nil {
			return nil, apperr.Validation("match is required")
		}
		if err := req.Match.Validate(); err != nil {
			return nil, apperr.Validation("%s", err.Error())
		}
		key := models.MatchKey{Match: *req.Match}
		return &Resolution{Key: key, Capability: r.CapabilityFor(ctx, p, key)}, nil
	}
	return nil, apperr.Validation("unknown channel kind %q", req.Kind)
}

func (r *Resolver) resolvePrivate(ctx context.Context, p identity.Provider, req Request) (*Resolution, error) {
	me := p.CurrentUserID()
	teamID, isCaptain, err := p.TeamCaptain(ctx, req.EventID)
	if err != nil {
		r.failClosed("private: captain lookup", err)
		return &Resolution{Capability: models.Denied()}, nil
	}
	if !isCaptain {
		return &Resolution{Capability: models.Denied()}, nil
	}

	captains, err := p.Captains(ctx, req.EventID)
	if err != nil {
		r.failClosed("private: list captains", err)
		return &Resolution{Capability: models.Denied()}, nil
	}
	peers := Peers(captains, me, teamID)

	if req.PeerID == uuid.Nil {
		// Tab open, no conversation picked yet.
		return &Resolution{Capability: models.NewCapability(true, true, nil), Peers: peers}, nil
	}
	if req.PeerID == me {
		return nil, apperr.Validation("cannot open a private channel with yourself")
	}
	key, err := models.NewPrivateKey(req.EventID, me, req.PeerID)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	return &Resolution{Key: key, Capability: r.CapabilityFor(ctx, p, key), Peers: peers}, nil
}

func (r *Resolver) resolveSupport(ctx context.Context, p identity.Provider, req Request) (*Resolution, error) {
	adminID, err := p.EventAdmin(ctx, req.EventID)
	if err != nil {
		r.failClosed("support: event admin lookup", err)
		return &Resolution{Capability: models.Denied()}, nil
	}
	if adminID == uuid.Nil {
		return &Resolution{Capability: models.Denied()}, nil
	}

	me := p.CurrentUserID()
	caller := p.Caller()

	// The event admin in admin mode reads the union of every thread. A
	// specific thread is opened through PeerID.
	if me == adminID {
		key := models.SupportKey{EventID: req.EventID, AdminID: adminID}
		if req.PeerID != uuid.Nil {
			key = key.Thread(req.PeerID)
		} else if !caller.AdminMode {
			return &Resolution{Capability: models.Denied()}, nil
		}
		return &Resolution{Key: key, Capability: r.CapabilityFor(ctx, p, key)}, nil
	}

	key := models.SupportKey{EventID: req.EventID, CaptainID: me, AdminID: adminID}
	return &Resolution{Key: key, Capability: r.CapabilityFor(ctx, p, key)}, nil
}

// Peers is every other team's captain.
func Peers(captains []models.Captain, me, myTeam uuid.UUID) []models.Captain {
	peers := make([]models.Captain, 0, len(captains))
	for _, c := range captains {
		if c.UserID == me || c.TeamID == myTeam {
			continue
		}
		peers = append(peers, c)
	}
	return peers
}

func (r *Resolver) failClosed(step string, err error) {
	r.logger.Warn("channel resolution failed closed",
		zap.String("step", step),
		zap.Error(err),
	)
}
