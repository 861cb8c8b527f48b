package store

import (
	"database/sql"
	"time"
)

// EnqueueImportJob queues a chat-export file for ingestion. groupID may be
// empty; the import worker then resolves the target group from the filename.
func (db *DB) EnqueueImportJob(filePath, groupID string) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO import_jobs (file_path, group_id, status, created_at, updated_at)
		VALUES (?, ?, 'queued', ?, ?)`,
		filePath, groupID, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ClaimNextImportJob atomically moves the oldest queued job to running and
// returns it. Returns nil when the queue is empty.
func (db *DB) ClaimNextImportJob() (*ImportJob, error) {
	var j ImportJob
	err := db.QueryRow(`
		UPDATE import_jobs SET status = 'running', updated_at = ?
		WHERE id = (SELECT id FROM import_jobs WHERE status = 'queued' ORDER BY created_at, id LIMIT 1)
		RETURNING id, file_path, group_id, status, messages_count, error_message`,
		time.Now().UnixMilli()).
		Scan(&j.ID, &j.FilePath, &j.GroupID, &j.Status, &j.MessagesCount, &j.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// MarkImportDone records a successful import with its message count.
func (db *DB) MarkImportDone(id int64, messagesCount int) error {
	_, err := db.Exec(`
		UPDATE import_jobs SET status = 'done', messages_count = ?, updated_at = ? WHERE id = ?`,
		messagesCount, time.Now().UnixMilli(), id)
	return err
}

// MarkImportFailed records a failed import with its error message.
func (db *DB) MarkImportFailed(id int64, errMsg string) error {
	_, err := db.Exec(`
		UPDATE import_jobs SET status = 'failed', error_message = ?, updated_at = ? WHERE id = ?`,
		errMsg, time.Now().UnixMilli(), id)
	return err
}

// ListImportJobs returns the most recent import jobs, newest first.
func (db *DB) ListImportJobs(limit int) ([]ImportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, file_path, group_id, status, messages_count, error_message
		FROM import_jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []ImportJob
	for rows.Next() {
		var j ImportJob
		if err := rows.Scan(&j.ID, &j.FilePath, &j.GroupID, &j.Status, &j.MessagesCount, &j.ErrorMessage); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
