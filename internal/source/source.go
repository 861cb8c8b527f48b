// Package source defines the contract between the watch engine and the
// externally-managed chat platform that owns the groups. The engine
// never mutates anything upstream; it only observes.
package source

import (
	"context"
	"errors"
	"strings"
)

// ErrUnavailable is returned by Client implementations while the
// upstream connection is not established or not authenticated.
var ErrUnavailable = errors.New("source unavailable")

// Client is the read-only view of the upstream platform. All calls are
// blocking I/O and honor ctx cancellation.
type Client interface {
	// ListGroups returns every conversation the account participates
	// in, including non-group chats (IsGroup false).
	ListGroups(ctx context.Context) ([]GroupMeta, error)
	// GetMembers returns the current membership of a group.
	GetMembers(ctx context.Context, groupID string) ([]Member, error)
	// FetchRecentMessages returns up to limit of the newest messages in
	// a group, in no particular order.
	FetchRecentMessages(ctx context.Context, groupID string, limit int) ([]RecentMessage, error)
	// ResolveContact looks up display metadata for a member id.
	ResolveContact(ctx context.Context, id string) (Contact, error)
}

// GroupMeta identifies one upstream conversation.
type GroupMeta struct {
	ID      string
	Name    string
	IsGroup bool
}

// Member is one group participant.
type Member struct {
	ID          string
	DisplayName string
	Phone       string
	IsAdmin     bool
}

// Contact is resolved display metadata for a member id.
type Contact struct {
	DisplayName string
	Phone       string
}

// RecentMessage is one message as observed upstream. Timestamp is unix
// milliseconds.
type RecentMessage struct {
	ID        string
	Timestamp int64
	SenderID  string
	Body      string
	HasMedia  bool
	Type      string
}

// GroupChange is a push notification that a member joined or left a
// group, published on the bus under source.group_change.
type GroupChange struct {
	GroupID   string
	MemberID  string
	Joined    bool
	Timestamp int64
}

// FallbackName picks a human-readable label for a member: display name
// first, then phone, then the id fragment before '@'.
func FallbackName(displayName, phone, id string) string {
	if displayName != "" {
		return displayName
	}
	if phone != "" {
		return phone
	}
	if i := strings.IndexByte(id, '@'); i > 0 {
		return id[:i]
	}
	return id
}
