package fanout

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mvtorres/groupwatch/internal/bus"
	"github.com/mvtorres/groupwatch/internal/store"
	"go.uber.org/zap"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls this far behind starts losing envelopes.
const subscriberBuffer = 64

// GroupLister provides the current monitored set for the connected
// envelope handed to new subscribers.
type GroupLister interface {
	List() []store.Group
}

// ConnectedPayload is the payload of connected envelopes.
type ConnectedPayload struct {
	Groups []store.Group `json:"groups"`
}

// Hub fans bus events out to subscribers as typed envelopes. Delivery
// is best-effort: a non-blocking send per subscriber, so a slow
// consumer loses envelopes instead of stalling the rest.
type Hub struct {
	groups GroupLister
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]chan Envelope
	cancel context.CancelFunc
}

// NewHub creates a hub over the given bus.
func NewHub(groups GroupLister, b *bus.Bus, logger *zap.Logger) *Hub {
	return &Hub{
		groups: groups,
		bus:    b,
		logger: logger,
		subs:   make(map[string]chan Envelope),
	}
}

// Subscribe registers a new subscriber and returns its handle and
// envelope channel. The first envelope is always connected with the
// current group list so the subscriber can render state immediately.
func (h *Hub) Subscribe() (string, <-chan Envelope) {
	handle := uuid.NewString()
	ch := make(chan Envelope, subscriberBuffer)
	ch <- Envelope{Type: TypeConnected, Payload: ConnectedPayload{Groups: h.groups.List()}}

	h.mu.Lock()
	h.subs[handle] = ch
	n := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("subscriber added", zap.String("handle", handle), zap.Int("subscribers", n))
	return handle, ch
}

// Unsubscribe removes a subscriber. Safe to call with an unknown or
// already removed handle.
func (h *Hub) Unsubscribe(handle string) {
	h.mu.Lock()
	ch, ok := h.subs[handle]
	if ok {
		delete(h.subs, handle)
	}
	h.mu.Unlock()
	if ok {
		close(ch)
		h.logger.Debug("subscriber removed", zap.String("handle", handle))
	}
}

// Broadcast delivers one envelope to every subscriber, skipping any
// whose buffer is full.
func (h *Hub) Broadcast(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for handle, ch := range h.subs {
		select {
		case ch <- env:
		default:
			h.logger.Warn("subscriber buffer full, dropping envelope",
				zap.String("handle", handle), zap.String("type", env.Type))
		}
	}
}

// Run bridges the internal bus to subscribers until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	watchCh, unsubWatch := h.bus.Subscribe("watch.", 256)
	srcCh, unsubSrc := h.bus.Subscribe("source.", 256)

	go func() {
		defer unsubWatch()
		defer unsubSrc()
		for {
			select {
			case evt := <-watchCh:
				h.forward(evt)
			case evt := <-srcCh:
				h.forward(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the bridge goroutine.
func (h *Hub) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (h *Hub) forward(evt bus.Event) {
	switch evt.Kind {
	case "watch.message":
		h.Broadcast(Envelope{Type: TypeMessage, Payload: evt.Payload})
	case "watch.event":
		h.Broadcast(Envelope{Type: TypeEvent, Payload: evt.Payload})
	case "watch.group_added":
		h.Broadcast(Envelope{Type: TypeGroupAdded, Payload: evt.Payload})
	case "source.connected":
		h.Broadcast(Envelope{Type: TypeConnected, Payload: ConnectedPayload{Groups: h.groups.List()}})
	case "source.disconnected":
		h.Broadcast(Envelope{Type: TypeDisconnected})
	}
}
