package store

import (
	"database/sql"
	"time"
)

// UpsertGroup inserts or updates a group row.
func (db *DB) UpsertGroup(g *Group) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO groups (id, name, member_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			member_count = excluded.member_count,
			updated_at = excluded.updated_at`,
		g.ID, g.Name, g.MemberCount, now, now)
	return err
}

// DeleteGroup removes a group row. Messages and events for the group are
// retained; unmonitoring never destroys history.
func (db *DB) DeleteGroup(id string) error {
	_, err := db.Exec(`DELETE FROM groups WHERE id = ?`, id)
	return err
}

// GetGroup returns a group by id, or nil if absent.
func (db *DB) GetGroup(id string) (*Group, error) {
	var g Group
	err := db.QueryRow(`SELECT id, name, member_count FROM groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &g.MemberCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroups returns all persisted groups ordered by name.
func (db *DB) ListGroups() ([]Group, error) {
	rows, err := db.Query(`SELECT id, name, member_count FROM groups ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.MemberCount); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// UpdateGroupMemberCount refreshes the cached member count for a group.
func (db *DB) UpdateGroupMemberCount(id string, count int) error {
	_, err := db.Exec(`UPDATE groups SET member_count = ?, updated_at = ? WHERE id = ?`,
		count, time.Now().UnixMilli(), id)
	return err
}
