package wa

import (
	"sync"

	"github.com/mvtorres/groupwatch/internal/source"
)

// defaultBufferCap bounds how many live messages are retained per group
// between observation passes.
const defaultBufferCap = 100

// MessageBuffer is a per-group ring of recently received messages.
// whatsmeow pushes messages as they arrive; the watch engine pulls a
// bounded recent slice per pass, so the buffer bridges push to pull.
type MessageBuffer struct {
	mu       sync.Mutex
	capacity int
	groups   map[string][]source.RecentMessage
}

// NewMessageBuffer creates a buffer holding up to capacity messages per
// group.
func NewMessageBuffer(capacity int) *MessageBuffer {
	if capacity <= 0 {
		capacity = defaultBufferCap
	}
	return &MessageBuffer{
		capacity: capacity,
		groups:   make(map[string][]source.RecentMessage),
	}
}

// Append records one message, evicting the oldest when the group's ring
// is full.
func (b *MessageBuffer) Append(groupID string, msg source.RecentMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ring := append(b.groups[groupID], msg)
	if len(ring) > b.capacity {
		ring = ring[len(ring)-b.capacity:]
	}
	b.groups[groupID] = ring
}

// Recent returns up to limit of the newest buffered messages for a
// group, oldest first.
func (b *MessageBuffer) Recent(groupID string, limit int) []source.RecentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	ring := b.groups[groupID]
	if limit > 0 && len(ring) > limit {
		ring = ring[len(ring)-limit:]
	}
	return append([]source.RecentMessage(nil), ring...)
}

// Drop discards the buffered messages of a group.
func (b *MessageBuffer) Drop(groupID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.groups, groupID)
}
