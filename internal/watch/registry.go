package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mvtorres/groupwatch/internal/bus"
	"github.com/mvtorres/groupwatch/internal/source"
	"github.com/mvtorres/groupwatch/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrGroupNotFound is returned when a name matches no source group or
	// an id is not monitored.
	ErrGroupNotFound = errors.New("group not found")
	// ErrAlreadyMonitored is returned when the resolved group is already
	// in the registry.
	ErrAlreadyMonitored = errors.New("group already monitored")
	// ErrPassInFlight is returned by TryBeginPass while another pass for
	// the same group is running.
	ErrPassInFlight = errors.New("pass already in flight")
)

// groupState is the per-group runtime state owned by the registry.
type groupState struct {
	group    store.Group
	snapshot *Snapshot
	window   *Window
	baseline bool // true until the first pass completes
	inFlight bool
}

// Registry is the authoritative list of monitored groups. It owns each
// group's member snapshot, recent-id window, baseline flag and the
// per-group in-flight guard that keeps passes from overlapping.
type Registry struct {
	db        *store.DB
	src       source.Client
	bus       *bus.Bus
	logger    *zap.Logger
	windowCap int

	mu     sync.Mutex
	groups map[string]*groupState
}

// NewRegistry creates an empty registry.
func NewRegistry(db *store.DB, src source.Client, b *bus.Bus, logger *zap.Logger, windowCap int) *Registry {
	return &Registry{
		db:        db,
		src:       src,
		bus:       b,
		logger:    logger,
		windowCap: windowCap,
		groups:    make(map[string]*groupState),
	}
}

// Load restores the monitored set from the store at boot. Snapshots come
// from the group_members mirror and windows are rebuilt from the newest
// persisted message ids. A group that comes back with an empty snapshot
// re-enters baseline-pending.
func (r *Registry) Load() error {
	groups, err := r.db.ListGroups()
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range groups {
		st := &groupState{
			group:    g,
			snapshot: NewSnapshot(),
			window:   NewWindow(r.windowCap),
		}

		members, err := r.db.ListGroupMembers(g.ID)
		if err != nil {
			return fmt.Errorf("load members for %s: %w", g.ID, err)
		}
		for _, m := range members {
			st.snapshot.Set(m.MemberID, MemberInfo{Name: m.Name, Phone: m.Phone, IsAdmin: m.IsAdmin})
		}
		st.baseline = st.snapshot.Len() == 0

		ids, err := r.db.RecentMessageIDs(g.ID, r.windowCap)
		if err != nil {
			return fmt.Errorf("load window for %s: %w", g.ID, err)
		}
		for _, id := range ids {
			st.window.Add(id)
		}

		r.groups[g.ID] = st
		r.logger.Info("group restored",
			zap.String("group_id", g.ID),
			zap.String("name", g.Name),
			zap.Int("members", st.snapshot.Len()),
			zap.Int("window", st.window.Len()),
			zap.Bool("baseline_pending", st.baseline))
	}
	return nil
}

// Add resolves name against the source's group listing using a
// case-insensitive substring match (first match wins) and starts
// monitoring it. The caller is expected to trigger an immediate first
// pass on success.
func (r *Registry) Add(ctx context.Context, name string) (*store.Group, error) {
	needle := strings.ToLower(name)

	r.mu.Lock()
	for _, st := range r.groups {
		if strings.Contains(strings.ToLower(st.group.Name), needle) {
			r.mu.Unlock()
			return nil, ErrAlreadyMonitored
		}
	}
	r.mu.Unlock()

	// Source calls happen outside the lock; they are blocking I/O.
	metas, err := r.src.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source groups: %w", err)
	}

	var match *source.GroupMeta
	for i := range metas {
		if metas[i].IsGroup && strings.Contains(strings.ToLower(metas[i].Name), needle) {
			match = &metas[i]
			break
		}
	}
	if match == nil {
		return nil, ErrGroupNotFound
	}

	// Seed the snapshot with current membership; no events are emitted
	// for the baseline. Failure here is non-fatal: the group starts with
	// an empty snapshot and the first pass seeds it instead.
	seed := make(map[string]MemberInfo)
	members, err := r.src.GetMembers(ctx, match.ID)
	if err != nil {
		r.logger.Warn("seeding membership failed, deferring to first pass",
			zap.String("group_id", match.ID), zap.Error(err))
	} else {
		for _, m := range members {
			seed[m.ID] = MemberInfo{Name: m.DisplayName, Phone: m.Phone, IsAdmin: m.IsAdmin}
		}
	}

	group := store.Group{ID: match.ID, Name: match.Name, MemberCount: len(seed)}

	r.mu.Lock()
	if _, ok := r.groups[match.ID]; ok {
		r.mu.Unlock()
		return nil, ErrAlreadyMonitored
	}
	st := &groupState{
		group:    group,
		snapshot: NewSnapshot(),
		window:   NewWindow(r.windowCap),
		baseline: true,
	}
	st.snapshot.Replace(seed)
	r.groups[match.ID] = st
	r.mu.Unlock()

	if err := r.db.UpsertGroup(&group); err != nil {
		return nil, fmt.Errorf("persist group: %w", err)
	}
	if len(seed) > 0 {
		rows := make([]store.GroupMember, 0, len(seed))
		for id, info := range seed {
			rows = append(rows, store.GroupMember{GroupID: group.ID, MemberID: id, Name: info.Name, Phone: info.Phone, IsAdmin: info.IsAdmin})
		}
		if err := r.db.ReplaceGroupMembers(group.ID, rows); err != nil {
			r.logger.Error("persist membership seed failed", zap.String("group_id", group.ID), zap.Error(err))
		}
	}

	r.logger.Info("group added", zap.String("group_id", group.ID), zap.String("name", group.Name), zap.Int("members", len(seed)))
	r.bus.PublishKind("watch.group_added", &group)
	return &group, nil
}

// Remove stops monitoring a group. Persisted messages and events are
// retained; only the registry entry, the groups row and the membership
// mirror go away.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	_, ok := r.groups[id]
	if ok {
		delete(r.groups, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrGroupNotFound
	}

	if err := r.db.ReplaceGroupMembers(id, nil); err != nil {
		r.logger.Error("clear membership mirror failed", zap.String("group_id", id), zap.Error(err))
	}
	if err := r.db.DeleteGroup(id); err != nil {
		return fmt.Errorf("delete group row: %w", err)
	}
	r.logger.Info("group removed", zap.String("group_id", id))
	return nil
}

// List returns the monitored groups.
func (r *Registry) List() []store.Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store.Group, 0, len(r.groups))
	for _, st := range r.groups {
		out = append(out, st.group)
	}
	return out
}

// Get returns a monitored group by id.
func (r *Registry) Get(id string) (store.Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.groups[id]
	if !ok {
		return store.Group{}, false
	}
	return st.group, true
}

// Pass grants exclusive access to a group's caches for one observation
// pass. Only the holder of a Pass may touch Snapshot and Window.
type Pass struct {
	Group    store.Group
	Baseline bool
	Snapshot *Snapshot
	Window   *Window
}

// TryBeginPass claims the per-group in-flight flag. It fails with
// ErrPassInFlight when a pass is already running so that overlapping
// ticks on a slow source never race on the caches.
func (r *Registry) TryBeginPass(id string) (*Pass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	if st.inFlight {
		return nil, ErrPassInFlight
	}
	st.inFlight = true
	return &Pass{
		Group:    st.group,
		Baseline: st.baseline,
		Snapshot: st.snapshot,
		Window:   st.window,
	}, nil
}

// EndPass releases the in-flight flag. completedBaseline marks the
// group's first pass as done; later passes diff against the snapshot.
func (r *Registry) EndPass(id string, completedBaseline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.groups[id]
	if !ok {
		return
	}
	st.inFlight = false
	if completedBaseline {
		st.baseline = false
	}
}

// SetMemberCount updates the cached member count of a monitored group.
func (r *Registry) SetMemberCount(id string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.groups[id]; ok {
		st.group.MemberCount = count
	}
}
