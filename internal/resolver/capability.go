package resolver

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/identity"
	"github.com/lalith-99/arenachat/internal/models"
	"go.uber.org/zap"
)

// CapabilityFor computes what the caller may do on key from current role
// data. It is the single authorization rule set, used both when a channel
// opens and when the store client re-verifies a write.
func (r *Resolver) CapabilityFor(ctx context.Context, p identity.Provider, key models.ChannelKey) models.Capability {
	var (
		capability models.Capability
		err        error
	)
	switch k := key.(type) {
	case models.EventKey:
		capability, err = r.eventCapability(ctx, p, k)
	case models.PrivateKey:
		capability, err = r.privateCapability(ctx, p, k)
	case models.SupportKey:
		capability, err = r.supportCapability(ctx, p, k)
	case models.MatchKey:
		capability, err = r.matchCapability(ctx, p, k)
	default:
		return models.Denied()
	}
	if err != nil {
		r.failClosed(string(key.Kind()), err)
		return models.Denied()
	}
	return capability
}

func (r *Resolver) eventCapability(ctx context.Context, p identity.Provider, k models.EventKey) (models.Capability, error) {
	adminID, err := p.EventAdmin(ctx, k.EventID)
	if err != nil {
		return models.Denied(), err
	}
	if adminID == uuid.Nil {
		return models.Denied(), nil
	}
	registered, err := p.IsEventRegistrant(ctx, k.EventID)
	if err != nil {
		return models.Denied(), err
	}
	ownsEvent := adminID == p.CurrentUserID()

	// Reading the event channel is open to every authenticated caller;
	// writing needs a registration or ownership of the event.
	canWrite := registered || ownsEvent
	return models.NewCapability(true, canWrite, r.adminDelete(ctx, p, ownsEvent)), nil
}

func (r *Resolver) privateCapability(ctx context.Context, p identity.Provider, k models.PrivateKey) (models.Capability, error) {
	me := p.CurrentUserID()
	if !k.Has(me) {
		// Admins moderate without reading: in admin mode the event admin
		// and global admins may delete, nothing more.
		if !p.Caller().AdminMode {
			return models.Denied(), nil
		}
		adminID, err := p.EventAdmin(ctx, k.EventID)
		if err != nil {
			return models.Denied(), err
		}
		ownsEvent := adminID != uuid.Nil && adminID == me
		return models.NewCapability(false, false, r.adminDelete(ctx, p, ownsEvent)), nil
	}
	myTeam, isCaptain, err := p.TeamCaptain(ctx, k.EventID)
	if err != nil || !isCaptain {
		return models.Denied(), err
	}

	peer := k.ParticipantA
	if peer == me {
		peer = k.ParticipantB
	}
	captains, err := p.Captains(ctx, k.EventID)
	if err != nil {
		return models.Denied(), err
	}
	peerIsCaptain := false
	for _, c := range Peers(captains, me, myTeam) {
		if c.UserID == peer {
			peerIsCaptain = true
			break
		}
	}
	if !peerIsCaptain {
		return models.Denied(), nil
	}

	adminID, err := p.EventAdmin(ctx, k.EventID)
	if err != nil {
		return models.Denied(), err
	}
	return models.NewCapability(true, true, r.adminDelete(ctx, p, adminID == me)), nil
}

func (r *Resolver) supportCapability(ctx context.Context, p identity.Provider, k models.SupportKey) (models.Capability, error) {
	adminID, err := p.EventAdmin(ctx, k.EventID)
	if err != nil {
		return models.Denied(), err
	}
	// The admin party of a support key is fixed to the event's admin.
	if adminID == uuid.Nil || adminID != k.AdminID {
		return models.Denied(), nil
	}
	me := p.CurrentUserID()

	if k.IsUnion() {
		if me != adminID || !p.Caller().AdminMode {
			return models.Denied(), nil
		}
		// The union view is read-only: a reply has to name its thread.
		return models.NewCapability(true, false, r.adminDelete(ctx, p, true)), nil
	}

	captains, err := p.Captains(ctx, k.EventID)
	if err != nil {
		return models.Denied(), err
	}
	threadIsCaptain := false
	for _, c := range captains {
		if c.UserID == k.CaptainID {
			threadIsCaptain = true
			break
		}
	}
	if !threadIsCaptain {
		return models.Denied(), nil
	}
	if me != k.CaptainID && me != adminID {
		return models.Denied(), nil
	}
	return models.NewCapability(true, true, r.adminDelete(ctx, p, me == adminID)), nil
}

func (r *Resolver) matchCapability(ctx context.Context, p identity.Provider, k models.MatchKey) (models.Capability, error) {
	member, err := p.IsMatchParticipant(ctx, k.Match)
	if err != nil {
		if errors.Is(err, identity.ErrUnresolvableMatch) {
			return models.Denied(), nil
		}
		return models.Denied(), err
	}
	roster, err := p.MatchRoster(ctx, k.Match)
	if err != nil {
		return models.Denied(), err
	}
	if roster == nil {
		return models.Denied(), nil
	}

	ownsEvent, err := p.IsEventAdmin(ctx, roster.EventID)
	if err != nil {
		return models.Denied(), err
	}
	globalAdmin, err := p.IsGlobalAdmin(ctx)
	if err != nil {
		return models.Denied(), err
	}
	isAdmin := ownsEvent || globalAdmin
	if !member && !isAdmin {
		return models.Denied(), nil
	}

	// Match channels also let a sender delete their own message; other kinds
	// leave deletes to admins.
	me := p.CurrentUserID()
	adminMode := isAdmin && p.Caller().AdminMode
	return models.NewCapability(true, true, func(m models.Message) bool {
		return adminMode || m.SenderID == me
	}), nil
}

// adminDelete is the delete predicate of every kind except Match: the
// channel's admin, in admin mode, may delete any message. A global admin
// counts as the admin of every channel.
func (r *Resolver) adminDelete(ctx context.Context, p identity.Provider, ownsChannel bool) func(models.Message) bool {
	if !p.Caller().AdminMode {
		return nil
	}
	if !ownsChannel {
		global, err := p.IsGlobalAdmin(ctx)
		if err != nil {
			r.logger.Warn("global admin lookup failed", zap.Error(err))
			return nil
		}
		if !global {
			return nil
		}
	}
	return func(models.Message) bool { return true }
}
