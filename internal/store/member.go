package store

import (
	"fmt"
	"time"
)

// ReplaceGroupMembers replaces the persisted membership snapshot of a group
// in one transaction. The in-memory snapshot is authoritative at runtime;
// this mirror is what boot recovery reads.
func (db *DB) ReplaceGroupMembers(groupID string, members []GroupMember) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM group_members WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, m := range members {
		if _, err := tx.Exec(`
			INSERT INTO group_members (group_id, member_id, name, phone, is_admin, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			groupID, m.MemberID, m.Name, m.Phone, m.IsAdmin, now); err != nil {
			return fmt.Errorf("insert member %q: %w", m.MemberID, err)
		}
	}
	return tx.Commit()
}

// AddGroupMember records a single member, used by the push fast path.
func (db *DB) AddGroupMember(m *GroupMember) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO group_members (group_id, member_id, name, phone, is_admin, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id, member_id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			is_admin = excluded.is_admin,
			updated_at = excluded.updated_at`,
		m.GroupID, m.MemberID, m.Name, m.Phone, m.IsAdmin, now)
	return err
}

// RemoveGroupMember deletes a single member, used by the push fast path.
func (db *DB) RemoveGroupMember(groupID, memberID string) error {
	_, err := db.Exec(`DELETE FROM group_members WHERE group_id = ? AND member_id = ?`, groupID, memberID)
	return err
}

// ListGroupMembers returns the persisted membership snapshot of a group.
func (db *DB) ListGroupMembers(groupID string) ([]GroupMember, error) {
	rows, err := db.Query(`
		SELECT group_id, member_id, name, phone, is_admin
		FROM group_members WHERE group_id = ?
		ORDER BY name COLLATE NOCASE, member_id`, groupID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []GroupMember
	for rows.Next() {
		var m GroupMember
		if err := rows.Scan(&m.GroupID, &m.MemberID, &m.Name, &m.Phone, &m.IsAdmin); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
