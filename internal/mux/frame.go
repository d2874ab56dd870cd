package mux

import (
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/apperr"
	"github.com/lalith-99/arenachat/internal/models"
	"github.com/lalith-99/arenachat/internal/session"
	"github.com/lalith-99/arenachat/internal/viewport"
)

// FrameType names what a frame tells the client to render.
type FrameType string

const (
	// FrameOpened: a readable channel is now the active tab.
	FrameOpened FrameType = "opened"
	// FrameLocked: the tab cannot be read (or, for a Private tab with no
	// peer chosen yet, there is nothing to read). Peers is set when the
	// caller may pick a conversation.
	FrameLocked   FrameType = "locked"
	FrameState    FrameType = "state"
	FrameSnapshot FrameType = "snapshot"
	FrameMessage  FrameType = "message"
	FramePatched  FrameType = "patched"
	FrameDeleted  FrameType = "deleted"
	FrameScroll   FrameType = "scroll"
	FrameUnread   FrameType = "unread"
	FrameNotice   FrameType = "notice"
)

// Frame is one rendering instruction. Tab is the generation of the tab that
// produced it: a client drops frames whose Tab is not the current one.
type Frame struct {
	Type       FrameType          `json:"type"`
	Tab        uint64             `json:"tab"`
	Channel    string             `json:"channel,omitempty"`
	Kind       models.ChannelKind `json:"kind,omitempty"`
	Capability *CapabilityView    `json:"capability,omitempty"`
	Peers      []models.Captain   `json:"peers,omitempty"`
	State      string             `json:"state,omitempty"`
	Entries    []EntryView        `json:"entries,omitempty"`
	Index      int                `json:"index"`
	Entry      *EntryView         `json:"entry,omitempty"`
	MessageID  *uuid.UUID         `json:"message_id,omitempty"`
	Scroll     *viewport.Action   `json:"scroll,omitempty"`
	ErrorKind  apperr.Kind        `json:"error_kind,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// CapabilityView is the serializable part of a Capability. Delete rights
// are carried per entry.
type CapabilityView struct {
	CanRead  bool `json:"can_read"`
	CanWrite bool `json:"can_write"`
	Locked   bool `json:"locked"`
}

func capabilityView(c models.Capability) *CapabilityView {
	return &CapabilityView{CanRead: c.CanRead, CanWrite: c.CanWrite, Locked: c.Locked()}
}

// EntryView is a message as the client draws it.
type EntryView struct {
	ID            uuid.UUID `json:"id"`
	SenderID      uuid.UUID `json:"sender_id"`
	DisplayName   string    `json:"display_name"`
	AvatarRef     string    `json:"avatar_ref"`
	SenderIsAdmin bool      `json:"sender_is_admin"`
	Body          string    `json:"body"`
	CreatedAt     time.Time `json:"created_at"`
	Resolved      bool      `json:"resolved"`
	Deletable     bool      `json:"deletable"`
}

func entryView(e session.Entry, c models.Capability) EntryView {
	return EntryView{
		ID:            e.Message.ID,
		SenderID:      e.Message.SenderID,
		DisplayName:   e.DisplayName(),
		AvatarRef:     e.Sender.AvatarRef,
		SenderIsAdmin: e.Sender.IsAdmin,
		Body:          e.Message.Body,
		CreatedAt:     e.Message.CreatedAt,
		Resolved:      e.Resolved,
		Deletable:     c.CanDelete(e.Message),
	}
}

// noticeFrame never leaks internal error text: only apperr messages reach
// the client.
func noticeFrame(err error) Frame {
	f := Frame{Type: FrameNotice, ErrorKind: apperr.KindTransientIO, Error: "something went wrong"}
	if appErr, ok := apperr.As(err); ok {
		f.ErrorKind = appErr.Kind
		f.Error = appErr.Message
	}
	return f
}
