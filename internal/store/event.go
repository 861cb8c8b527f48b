package store

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const eventColumns = "id, group_id, member_id, member_name, event_type, timestamp, event_date"

// UpsertEvent persists an event with delete-then-insert dedup: any prior
// event for the same (group, member, type, date) key is removed first, so
// exactly one row per key survives, carrying the latest timestamp. The
// two statements run in one transaction; readers never see the key empty.
func (db *DB) UpsertEvent(e *Event) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		DELETE FROM events
		WHERE group_id = ? AND member_id = ? AND event_type = ? AND event_date = ?`,
		e.GroupID, e.MemberID, e.Type, e.Date); err != nil {
		return fmt.Errorf("delete prior event: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO events (group_id, member_id, member_name, event_type, timestamp, event_date)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.GroupID, e.MemberID, e.MemberName, e.Type, e.Timestamp, e.Date); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

// EventFilter narrows ListEvents. Zero-valued fields are ignored. Date is
// a single calendar date; DateFrom/DateTo form an inclusive range and are
// mutually exclusive with Date.
type EventFilter struct {
	GroupID  string
	MemberID string
	Date     string
	DateFrom string
	DateTo   string
}

func (f EventFilter) where() sq.And {
	where := sq.And{}
	if f.GroupID != "" {
		where = append(where, sq.Eq{"group_id": f.GroupID})
	}
	if f.MemberID != "" {
		where = append(where, sq.Eq{"member_id": f.MemberID})
	}
	if f.Date != "" {
		where = append(where, sq.Eq{"event_date": f.Date})
	}
	if f.DateFrom != "" {
		where = append(where, sq.GtOrEq{"event_date": f.DateFrom})
	}
	if f.DateTo != "" {
		where = append(where, sq.LtOrEq{"event_date": f.DateTo})
	}
	return where
}

// ListEvents returns events sorted by timestamp descending with offset
// pagination, applying the given filter.
func (db *DB) ListEvents(f EventFilter, limit, offset int) ([]Event, int, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	where := f.where()

	var total int
	countSQL, countArgs, err := builder.Select("COUNT(*)").From("events").Where(where).ToSql()
	if err != nil {
		return nil, 0, false, err
	}
	if err := db.QueryRow(countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, false, err
	}

	listSQL, listArgs, err := builder.Select(eventColumns).
		From("events").
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

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.GroupID, &e.MemberID, &e.MemberName, &e.Type, &e.Timestamp, &e.Date); err != nil {
			return nil, 0, false, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, false, err
	}
	return events, total, offset+len(events) < total, nil
}
