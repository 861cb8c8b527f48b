package store

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// SearchMessages performs a case-insensitive substring search over message
// bodies and sender names, newest first. An empty groupID searches all groups.
func (db *DB) SearchMessages(query, groupID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	pattern := "%" + escapeLike(query) + "%"
	where := sq.And{
		sq.Or{
			sq.Expr(`body LIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`sender_name LIKE ? ESCAPE '\'`, pattern),
		},
	}
	if groupID != "" {
		where = append(where, sq.Eq{"group_id": groupID})
	}

	searchSQL, args, err := builder.Select(messageColumns).
		From("messages").
		Where(where).
		OrderBy("timestamp DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(searchSQL, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanMessages(rows)
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
