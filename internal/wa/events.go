package wa

import (
	"github.com/mvtorres/groupwatch/internal/bus"
	"github.com/mvtorres/groupwatch/internal/source"
	"github.com/mvtorres/groupwatch/internal/status"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// EventHandler processes whatsmeow events: it drives the state machine,
// feeds the per-group message buffer, and publishes push membership
// changes on the bus. It never calls the watch engine directly — the
// engine subscribes to the bus independently.
type EventHandler struct {
	bus     *bus.Bus
	machine *status.Machine
	buffer  *MessageBuffer
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(b *bus.Bus, machine *status.Machine, buffer *MessageBuffer, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		bus:     b,
		machine: machine,
		buffer:  buffer,
		logger:  logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.GroupInfo:
		h.handleGroupInfo(evt)
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		current := h.machine.Current()
		if current == status.AuthRequired || current == status.Reconnecting {
			_ = h.machine.Transition(status.Connecting)
		}
		_ = h.machine.Transition(status.Syncing)
		h.bus.PublishKind("source.connected", nil)
	case *events.OfflineSyncCompleted:
		if h.machine.Current() == status.Syncing {
			_ = h.machine.Transition(status.Watching)
		}
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		_ = h.machine.Transition(status.Reconnecting)
		h.bus.PublishKind("source.disconnected", nil)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		_ = h.machine.Transition(status.AuthRequired)
		h.bus.PublishKind("source.disconnected", nil)
	}
}

// handleMessage buffers group messages for the next observation pass.
// Direct chats are not watched and are dropped.
func (h *EventHandler) handleMessage(evt *events.Message) {
	// The first live message means the offline backlog is flushed.
	if h.machine.Current() == status.Syncing {
		_ = h.machine.Transition(status.Watching)
	}

	if evt.Info.Chat.Server != types.GroupServer {
		return
	}
	h.buffer.Append(evt.Info.Chat.String(), parseRecent(evt))
}

// handleGroupInfo publishes join/leave push notifications, the fast
// path that complements polling.
func (h *EventHandler) handleGroupInfo(evt *events.GroupInfo) {
	groupID := evt.JID.String()
	ts := evt.Timestamp.UnixMilli()
	for _, jid := range evt.Join {
		h.bus.PublishKind("source.group_change", source.GroupChange{
			GroupID:   groupID,
			MemberID:  jid.ToNonAD().String(),
			Joined:    true,
			Timestamp: ts,
		})
	}
	for _, jid := range evt.Leave {
		h.bus.PublishKind("source.group_change", source.GroupChange{
			GroupID:   groupID,
			MemberID:  jid.ToNonAD().String(),
			Joined:    false,
			Timestamp: ts,
		})
	}
}
