package store

import sq "github.com/Masterminds/squirrel"

// Stats aggregates message, event and member counts plus the top five
// senders by message count. An empty groupID aggregates over all
// monitored groups.
func (db *DB) Stats(groupID string) (*Stats, error) {
	s := &Stats{TopSenders: []SenderCount{}}

	msgWhere := sq.And{}
	evtWhere := sq.And{}
	if groupID != "" {
		msgWhere = append(msgWhere, sq.Eq{"group_id": groupID})
		evtWhere = append(evtWhere, sq.Eq{"group_id": groupID})
	}

	countSQL, args, err := builder.Select("COUNT(*)").From("messages").Where(msgWhere).ToSql()
	if err != nil {
		return nil, err
	}
	if err := db.QueryRow(countSQL, args...).Scan(&s.MessageCount); err != nil {
		return nil, err
	}

	countSQL, args, err = builder.Select("COUNT(*)").From("events").Where(evtWhere).ToSql()
	if err != nil {
		return nil, err
	}
	if err := db.QueryRow(countSQL, args...).Scan(&s.EventCount); err != nil {
		return nil, err
	}

	if groupID != "" {
		err = db.QueryRow(`SELECT COALESCE(member_count, 0) FROM groups WHERE id = ?`, groupID).Scan(&s.MemberCount)
	} else {
		err = db.QueryRow(`SELECT COALESCE(SUM(member_count), 0) FROM groups`).Scan(&s.MemberCount)
	}
	if err != nil {
		return nil, err
	}

	// Senders are grouped by display name with the raw id as fallback,
	// matching how the engine labels messages.
	topSQL, args, err := builder.
		Select(`COALESCE(NULLIF(sender_name, ''), sender_id) AS sender`, "COUNT(*) AS cnt").
		From("messages").
		Where(msgWhere).
		GroupBy("sender").
		OrderBy("cnt DESC").
		Limit(5).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(topSQL, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var sc SenderCount
		if err := rows.Scan(&sc.Sender, &sc.Count); err != nil {
			return nil, err
		}
		s.TopSenders = append(s.TopSenders, sc)
	}
	return s, rows.Err()
}
