package chatimport

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mvtorres/groupwatch/internal/bus"
	"github.com/mvtorres/groupwatch/internal/store"
	"go.uber.org/zap"
)

// pollEvery is how often the worker checks for queued jobs.
const pollEvery = 2 * time.Second

// GroupResolver provides the monitored groups for filename resolution.
type GroupResolver interface {
	List() []store.Group
}

// Worker drains queued import jobs: it resolves the target group,
// parses the export file and batch-upserts the messages. Imported
// messages flow through the same idempotent upsert as observed ones and
// are never broadcast.
type Worker struct {
	db     *store.DB
	groups GroupResolver
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewWorker creates an import worker.
func NewWorker(db *store.DB, groups GroupResolver, b *bus.Bus, logger *zap.Logger) *Worker {
	return &Worker{
		db:     db,
		groups: groups,
		bus:    b,
		logger: logger,
	}
}

// Start begins polling the job queue.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

// Stop stops the worker loop. A running import finishes on its own.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.drain()
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) drain() {
	for {
		job, err := w.db.ClaimNextImportJob()
		if err != nil {
			w.logger.Error("claim import job failed", zap.Error(err))
			return
		}
		if job == nil {
			return
		}
		w.run(job)
	}
}

func (w *Worker) run(job *store.ImportJob) {
	if err := w.process(job); err != nil {
		w.logger.Error("import failed",
			zap.Int64("job_id", job.ID),
			zap.String("file", job.FilePath),
			zap.Error(err))
		job.Status = "failed"
		job.ErrorMessage = err.Error()
		if err := w.db.MarkImportFailed(job.ID, err.Error()); err != nil {
			w.logger.Error("mark import failed", zap.Int64("job_id", job.ID), zap.Error(err))
		}
	}
	w.bus.PublishKind("import.done", job)
}

func (w *Worker) process(job *store.ImportJob) error {
	groupID := job.GroupID
	if groupID == "" {
		g, err := w.resolveGroup(job.FilePath)
		if err != nil {
			return err
		}
		groupID = g.ID
		job.GroupID = groupID
	}

	msgs, summary, err := ParseFile(job.FilePath, groupID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("no messages recognized in %s", filepath.Base(job.FilePath))
	}

	if err := w.db.UpsertMessages(msgs); err != nil {
		return fmt.Errorf("persist imported messages: %w", err)
	}
	if err := w.db.MarkImportDone(job.ID, summary.MessageCount); err != nil {
		return fmt.Errorf("mark import done: %w", err)
	}

	job.Status = "done"
	job.MessagesCount = summary.MessageCount
	w.logger.Info("import completed",
		zap.Int64("job_id", job.ID),
		zap.String("group_id", groupID),
		zap.Int("messages", summary.MessageCount),
		zap.Int("senders", len(summary.SenderCounts)))
	return nil
}

// resolveGroup maps an export filename to a monitored group. Exports are
// named "WhatsApp Chat with <name>.txt" (or "WhatsApp Chat - <name>.txt"
// on some platforms); the extracted name is matched case-insensitively
// against monitored group names, same rule as adding a group.
func (w *Worker) resolveGroup(path string) (store.Group, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for _, prefix := range []string{"WhatsApp Chat with ", "WhatsApp Chat - "} {
		name = strings.TrimPrefix(name, prefix)
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return store.Group{}, fmt.Errorf("cannot derive group name from %q", filepath.Base(path))
	}

	for _, g := range w.groups.List() {
		haystack := strings.ToLower(g.Name)
		if strings.Contains(haystack, needle) || strings.Contains(needle, haystack) {
			return g, nil
		}
	}
	return store.Group{}, fmt.Errorf("no monitored group matches %q", name)
}
