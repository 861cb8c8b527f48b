package store

import "time"

// Group is a monitored chat group.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
}

// GroupMember is one row of a group's persisted membership snapshot.
type GroupMember struct {
	GroupID  string `json:"group_id"`
	MemberID string `json:"member_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	IsAdmin  bool   `json:"is_admin"`
}

// Message is a persisted group message, keyed by the source-assigned MsgID.
type Message struct {
	ID         int64  `json:"-"`
	MsgID      string `json:"id"`
	GroupID    string `json:"group_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Body       string `json:"body"`
	HasMedia   bool   `json:"has_media"`
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
}

// EventType enumerates membership event types.
type EventType string

const (
	EventJoin        EventType = "JOIN"
	EventLeave       EventType = "LEAVE"
	EventCertificate EventType = "CERTIFICATE"
)

// Event is a persisted membership event. At most one row exists per
// (GroupID, MemberID, Type, Date); UpsertEvent enforces this with a
// delete-then-insert so the latest occurrence per key wins.
type Event struct {
	ID         int64     `json:"-"`
	GroupID    string    `json:"group_id"`
	MemberID   string    `json:"member_id"`
	MemberName string    `json:"member_name"`
	Type       EventType `json:"type"`
	Timestamp  int64     `json:"timestamp"` // unix milliseconds
	Date       string    `json:"date"`      // YYYY-MM-DD, local calendar date of Timestamp
}

// ImportJob tracks one chat-export file ingestion.
type ImportJob struct {
	ID            int64  `json:"id"`
	FilePath      string `json:"file_path"`
	GroupID       string `json:"group_id"`
	Status        string `json:"status"` // queued, running, done, failed
	MessagesCount int    `json:"messages_count"`
	ErrorMessage  string `json:"error_message"`
}

// SenderCount is one entry of a top-senders ranking.
type SenderCount struct {
	Sender string `json:"sender"`
	Count  int64  `json:"count"`
}

// Stats aggregates counts for one group or for all monitored groups.
type Stats struct {
	MessageCount int64         `json:"message_count"`
	EventCount   int64         `json:"event_count"`
	MemberCount  int64         `json:"member_count"`
	TopSenders   []SenderCount `json:"top_senders"`
}

// DateOf returns the local calendar date of a unix-millisecond timestamp,
// formatted YYYY-MM-DD. Used as part of the event dedup key.
func DateOf(tsMillis int64) string {
	return time.UnixMilli(tsMillis).Format("2006-01-02")
}
