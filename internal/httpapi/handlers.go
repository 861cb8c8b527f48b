package httpapi

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mvtorres/groupwatch/internal/source"
	"github.com/mvtorres/groupwatch/internal/store"
	"github.com/mvtorres/groupwatch/internal/watch"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"session":        s.session,
		"state":          s.machine.Current(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"groups":         len(s.registry.List()),
	})
}

func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	groups := s.registry.List()
	if groups == nil {
		groups = []store.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleAddGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	group, err := s.registry.Add(r.Context(), req.Name)
	switch {
	case errors.Is(err, watch.ErrGroupNotFound):
		writeError(w, http.StatusNotFound, "group_not_found")
		return
	case errors.Is(err, watch.ErrAlreadyMonitored):
		writeError(w, http.StatusConflict, "already_monitored")
		return
	case errors.Is(err, source.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "source_unavailable")
		return
	case err != nil:
		s.logger.Error("add group failed", zap.String("name", req.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	// First pass runs in the background; the response carries the seed.
	go func() {
		if err := s.engine.Sync(context.Background(), group.ID); err != nil {
			s.logger.Warn("initial pass failed", zap.String("group_id", group.ID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleRemoveGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.registry.Remove(id); err != nil {
		if errors.Is(err, watch.ErrGroupNotFound) {
			writeError(w, http.StatusNotFound, "group_not_found")
			return
		}
		s.logger.Error("remove group failed", zap.String("group_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "group_not_found")
		return
	}
	members, err := s.db.ListGroupMembers(id)
	if err != nil {
		s.logger.Error("list members failed", zap.String("group_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if members == nil {
		members = []store.GroupMember{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pagination(q.Get("limit"), q.Get("offset"))

	items, total, hasMore, err := s.db.ListMessages(q.Get("group_id"), limit, offset)
	if err != nil {
		s.logger.Error("list messages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if items == nil {
		items = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    items,
		"total":    total,
		"has_more": hasMore,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pagination(q.Get("limit"), q.Get("offset"))

	filter := store.EventFilter{
		GroupID:  q.Get("group_id"),
		MemberID: q.Get("member_id"),
		Date:     q.Get("date"),
		DateFrom: q.Get("from"),
		DateTo:   q.Get("to"),
	}
	items, total, hasMore, err := s.db.ListEvents(filter, limit, offset)
	if err != nil {
		s.logger.Error("list events failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if items == nil {
		items = []store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    items,
		"total":    total,
		"has_more": hasMore,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query_required")
		return
	}
	limit, _ := pagination(q.Get("limit"), "")

	items, err := s.db.SearchMessages(query, q.Get("group_id"), limit)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if items == nil {
		items = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.Stats(r.URL.Query().Get("group_id"))
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExportMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	groupID := q.Get("group_id")
	format := q.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		writeError(w, http.StatusBadRequest, "unsupported_format")
		return
	}

	msgs, err := s.allMessages(groupID)
	if err != nil {
		s.logger.Error("export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	if format == "json" {
		w.Header().Set("Content-Disposition", `attachment; filename="messages.json"`)
		writeJSON(w, http.StatusOK, msgs)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="messages.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "group_id", "timestamp", "sender_id", "sender_name", "type", "has_media", "body"})
	for _, m := range msgs {
		_ = cw.Write([]string{
			m.MsgID,
			m.GroupID,
			strconv.FormatInt(m.Timestamp, 10),
			m.SenderID,
			m.SenderName,
			m.Type,
			strconv.FormatBool(m.HasMedia),
			m.Body,
		})
	}
	cw.Flush()
}

// allMessages pages through the store; exports are not bounded by the
// API page size.
func (s *Server) allMessages(groupID string) ([]store.Message, error) {
	var all []store.Message
	for offset := 0; ; offset += maxPageSize {
		page, _, hasMore, err := s.db.ListMessages(groupID, maxPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if !hasMore {
			return all, nil
		}
	}
}

func (s *Server) handleEnqueueImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    string `json:"path"`
		GroupID string `json:"group_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path_required")
		return
	}

	id, err := s.db.EnqueueImportJob(req.Path, req.GroupID)
	if err != nil {
		s.logger.Error("enqueue import failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id})
}

func (s *Server) handleListImports(w http.ResponseWriter, _ *http.Request) {
	jobs, err := s.db.ListImportJobs(20)
	if err != nil {
		s.logger.Error("list imports failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if jobs == nil {
		jobs = []store.ImportJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func pagination(limitStr, offsetStr string) (limit, offset int) {
	limit = defaultPageSize
	if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
		limit = min(n, maxPageSize)
	}
	if n, err := strconv.Atoi(offsetStr); err == nil && n > 0 {
		offset = n
	}
	return limit, offset
}
