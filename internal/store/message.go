package store

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const messageColumns = "id, msg_id, group_id, sender_id, sender_name, body, has_media, msg_type, timestamp"

// UpsertMessage inserts or updates a message (idempotent on msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (msg_id, group_id, sender_id, sender_name, body, has_media, msg_type, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			body = excluded.body,
			has_media = excluded.has_media,
			msg_type = excluded.msg_type`,
		m.MsgID, m.GroupID, m.SenderID, m.SenderName, m.Body, m.HasMedia, m.Type, m.Timestamp, now)
	return err
}

// UpsertMessages upserts a batch of messages in a single transaction.
// Used by sync passes and export imports so a partially written window
// never becomes visible.
func (db *DB) UpsertMessages(msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (msg_id, group_id, sender_id, sender_name, body, has_media, msg_type, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(msg_id) DO UPDATE SET
				sender_name = excluded.sender_name,
				body = excluded.body,
				has_media = excluded.has_media,
				msg_type = excluded.msg_type`,
			m.MsgID, m.GroupID, m.SenderID, m.SenderName, m.Body, m.HasMedia, m.Type, m.Timestamp, now); err != nil {
			return fmt.Errorf("upsert message %q: %w", m.MsgID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns messages sorted by timestamp descending with
// offset pagination. An empty groupID means all groups.
func (db *DB) ListMessages(groupID string, limit, offset int) ([]Message, int, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := sq.And{}
	if groupID != "" {
		where = append(where, sq.Eq{"group_id": groupID})
	}

	var total int
	countSQL, countArgs, err := builder.Select("COUNT(*)").From("messages").Where(where).ToSql()
	if err != nil {
		return nil, 0, false, err
	}
	if err := db.QueryRow(countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, false, err
	}

	listSQL, listArgs, err := builder.Select(messageColumns).
		From("messages").
		Where(where).
		OrderBy("timestamp DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, false, err
	}

	rows, err := db.Query(listSQL, listArgs...)
	if err != nil {
		return nil, 0, false, err
	}
	defer func() { _ = rows.Close() }()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, 0, false, err
	}
	return msgs, total, offset+len(msgs) < total, nil
}

// RecentMessageIDs returns the ids of the newest n messages of a group,
// ordered oldest first. Used to rebuild the recent-id window at boot.
func (db *DB) RecentMessageIDs(groupID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := db.Query(`
		SELECT msg_id FROM (
			SELECT msg_id, timestamp, id FROM messages
			WHERE group_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		) ORDER BY timestamp ASC, id ASC`, groupID, n)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MsgID, &m.GroupID, &m.SenderID, &m.SenderName, &m.Body, &m.HasMedia, &m.Type, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
