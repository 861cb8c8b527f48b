package watch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mvtorres/groupwatch/internal/bus"
	"github.com/mvtorres/groupwatch/internal/source"
	"github.com/mvtorres/groupwatch/internal/store"
	"go.uber.org/zap"
)

// Voice-recording message types that produce CERTIFICATE events.
const (
	typePTT   = "ptt"
	typeAudio = "audio"
)

// Engine performs observation passes: it resolves current membership and
// recent messages from the source, diffs them against the group's cached
// state, persists the results and publishes the delta on the bus.
type Engine struct {
	db            *store.DB
	src           source.Client
	registry      *Registry
	bus           *bus.Bus
	logger        *zap.Logger
	messageWindow int
	cancel        context.CancelFunc
}

// NewEngine creates a new engine. messageWindow is how many recent
// messages are fetched from the source per pass.
func NewEngine(db *store.DB, src source.Client, registry *Registry, b *bus.Bus, logger *zap.Logger, messageWindow int) *Engine {
	if messageWindow <= 0 {
		messageWindow = 15
	}
	return &Engine{
		db:            db,
		src:           src,
		registry:      registry,
		bus:           b,
		logger:        logger,
		messageWindow: messageWindow,
	}
}

// Sync runs one observation pass for one group. It claims the group's
// in-flight flag first; a second Sync for the same group while one is
// running returns ErrPassInFlight without touching anything.
func (e *Engine) Sync(ctx context.Context, groupID string) error {
	pass, err := e.registry.TryBeginPass(groupID)
	if err != nil {
		return err
	}

	completed := false
	defer func() {
		e.registry.EndPass(groupID, completed && pass.Baseline)
	}()

	if err := e.runPass(ctx, pass); err != nil {
		return fmt.Errorf("pass for %s: %w", groupID, err)
	}
	completed = true
	return nil
}

func (e *Engine) runPass(ctx context.Context, pass *Pass) error {
	if err := e.syncMembership(ctx, pass); err != nil {
		return err
	}
	return e.syncMessages(ctx, pass)
}

// syncMembership diffs the freshly observed member set against the
// snapshot. A baseline pass only seeds the snapshot; there is no
// meaningful "before" to diff against, so no events are emitted.
func (e *Engine) syncMembership(ctx context.Context, pass *Pass) error {
	members, err := e.src.GetMembers(ctx, pass.Group.ID)
	if err != nil {
		return fmt.Errorf("get members: %w", err)
	}

	current := make(map[string]MemberInfo, len(members))
	for _, m := range members {
		current[m.ID] = MemberInfo{Name: m.DisplayName, Phone: m.Phone, IsAdmin: m.IsAdmin}
	}

	if !pass.Baseline {
		joined, left := pass.Snapshot.Diff(current)
		now := time.Now().UnixMilli()
		for _, id := range joined {
			e.emitMembershipEvent(ctx, pass.Group.ID, id, current[id], store.EventJoin, now)
		}
		for _, id := range left {
			info, _ := pass.Snapshot.Info(id)
			e.emitMembershipEvent(ctx, pass.Group.ID, id, info, store.EventLeave, now)
		}
	}

	pass.Snapshot.Replace(current)
	e.registry.SetMemberCount(pass.Group.ID, len(current))
	if err := e.db.UpdateGroupMemberCount(pass.Group.ID, len(current)); err != nil {
		e.logger.Error("update member count failed", zap.String("group_id", pass.Group.ID), zap.Error(err))
	}

	rows := make([]store.GroupMember, 0, len(current))
	for id, info := range current {
		rows = append(rows, store.GroupMember{GroupID: pass.Group.ID, MemberID: id, Name: info.Name, Phone: info.Phone, IsAdmin: info.IsAdmin})
	}
	if err := e.db.ReplaceGroupMembers(pass.Group.ID, rows); err != nil {
		e.logger.Error("persist membership failed", zap.String("group_id", pass.Group.ID), zap.Error(err))
	}
	return nil
}

// syncMessages classifies the fetched recent slice against the window.
// All fetched messages are persisted (the upsert is idempotent, so
// re-observed ids just refresh their row); only newly classified ones are
// handed to fanout, and none at all on the initial load.
func (e *Engine) syncMessages(ctx context.Context, pass *Pass) error {
	recent, err := e.src.FetchRecentMessages(ctx, pass.Group.ID, e.messageWindow)
	if err != nil {
		return fmt.Errorf("fetch recent messages: %w", err)
	}

	// Oldest first, so window eviction and broadcasts follow timestamp order.
	sort.Slice(recent, func(i, j int) bool { return recent[i].Timestamp < recent[j].Timestamp })

	all := make([]*store.Message, 0, len(recent))
	var fresh []*store.Message
	for _, rm := range recent {
		name, _ := e.resolveSender(ctx, pass, rm.SenderID)
		msg := &store.Message{
			MsgID:      rm.ID,
			GroupID:    pass.Group.ID,
			SenderID:   rm.SenderID,
			SenderName: name,
			Body:       rm.Body,
			HasMedia:   rm.HasMedia,
			Type:       rm.Type,
			Timestamp:  rm.Timestamp,
		}
		all = append(all, msg)
		if !pass.Window.Contains(rm.ID) {
			fresh = append(fresh, msg)
		}
	}

	if err := e.db.UpsertMessages(all); err != nil {
		return fmt.Errorf("persist messages: %w", err)
	}

	// Ids enter the window only after the store accepted the batch, so a
	// failed persist gets retried as "new" on the next tick.
	for _, m := range all {
		pass.Window.Add(m.MsgID)
	}

	for _, m := range fresh {
		e.recordCertificate(ctx, pass, m)
		if !pass.Baseline {
			e.bus.PublishKind("watch.message", m)
		}
	}

	e.logger.Info("pass completed",
		zap.String("group_id", pass.Group.ID),
		zap.Int("fetched", len(all)),
		zap.Int("new", len(fresh)),
		zap.Bool("baseline", pass.Baseline))
	return nil
}

// recordCertificate produces a CERTIFICATE event for voice recordings,
// keyed by (group, sender phone, date) with the same delete-then-insert
// dedup as JOIN/LEAVE.
func (e *Engine) recordCertificate(ctx context.Context, pass *Pass, m *store.Message) {
	if m.Type != typePTT && m.Type != typeAudio {
		return
	}

	memberID := m.SenderID
	if info, ok := pass.Snapshot.Info(m.SenderID); ok && info.Phone != "" {
		memberID = info.Phone
	} else if c, err := e.src.ResolveContact(ctx, m.SenderID); err == nil && c.Phone != "" {
		memberID = c.Phone
	}

	evt := &store.Event{
		GroupID:    pass.Group.ID,
		MemberID:   memberID,
		MemberName: m.SenderName,
		Type:       store.EventCertificate,
		Timestamp:  m.Timestamp,
		Date:       store.DateOf(m.Timestamp),
	}
	if err := e.db.UpsertEvent(evt); err != nil {
		e.logger.Error("persist certificate failed", zap.String("group_id", pass.Group.ID), zap.Error(err))
		return
	}
	if !pass.Baseline {
		e.bus.PublishKind("watch.event", evt)
	}
}

// emitMembershipEvent persists and publishes one JOIN or LEAVE event.
// Contact resolution failures are non-fatal; the raw id fragment serves
// as the display name.
func (e *Engine) emitMembershipEvent(ctx context.Context, groupID, memberID string, info MemberInfo, typ store.EventType, ts int64) {
	name := info.Name
	phone := info.Phone
	if name == "" {
		if c, err := e.src.ResolveContact(ctx, memberID); err != nil {
			e.logger.Warn("contact resolution failed", zap.String("member_id", memberID), zap.Error(err))
		} else {
			name = c.DisplayName
			if phone == "" {
				phone = c.Phone
			}
		}
	}

	evt := &store.Event{
		GroupID:    groupID,
		MemberID:   memberID,
		MemberName: source.FallbackName(name, phone, memberID),
		Type:       typ,
		Timestamp:  ts,
		Date:       store.DateOf(ts),
	}
	if err := e.db.UpsertEvent(evt); err != nil {
		e.logger.Error("persist event failed",
			zap.String("group_id", groupID),
			zap.String("member_id", memberID),
			zap.String("type", string(typ)),
			zap.Error(err))
		return
	}
	e.bus.PublishKind("watch.event", evt)
}

// resolveSender finds a display name for a message sender, preferring the
// snapshot's cached metadata over a source round trip.
func (e *Engine) resolveSender(ctx context.Context, pass *Pass, senderID string) (string, string) {
	if senderID == "" {
		return "", ""
	}
	if info, ok := pass.Snapshot.Info(senderID); ok && (info.Name != "" || info.Phone != "") {
		return source.FallbackName(info.Name, info.Phone, senderID), info.Phone
	}
	c, err := e.src.ResolveContact(ctx, senderID)
	if err != nil {
		return source.FallbackName("", "", senderID), ""
	}
	return source.FallbackName(c.DisplayName, c.Phone, senderID), c.Phone
}

// Start subscribes to push join/leave notifications from the source, the
// fast path alongside polling. Same event shape, same dedup rule.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("source.group_change", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				gc, ok := evt.Payload.(source.GroupChange)
				if !ok {
					continue
				}
				e.applyGroupChange(ctx, gc)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the fast-path subscriber.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// applyGroupChange applies one push notification. It claims the pass flag
// so it never races a polling pass; if one is running the notification is
// dropped and the next poll reconciles.
func (e *Engine) applyGroupChange(ctx context.Context, gc source.GroupChange) {
	pass, err := e.registry.TryBeginPass(gc.GroupID)
	if err != nil {
		return
	}
	defer e.registry.EndPass(gc.GroupID, false)

	// Baseline-pending groups have no snapshot to patch yet.
	if pass.Baseline {
		return
	}

	ts := gc.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	if gc.Joined {
		if pass.Snapshot.Has(gc.MemberID) {
			return
		}
		var info MemberInfo
		if c, err := e.src.ResolveContact(ctx, gc.MemberID); err == nil {
			info = MemberInfo{Name: c.DisplayName, Phone: c.Phone}
		}
		pass.Snapshot.Set(gc.MemberID, info)
		if err := e.db.AddGroupMember(&store.GroupMember{GroupID: gc.GroupID, MemberID: gc.MemberID, Name: info.Name, Phone: info.Phone}); err != nil {
			e.logger.Error("persist member failed", zap.String("member_id", gc.MemberID), zap.Error(err))
		}
		e.emitMembershipEvent(ctx, gc.GroupID, gc.MemberID, info, store.EventJoin, ts)
	} else {
		if !pass.Snapshot.Has(gc.MemberID) {
			return
		}
		info, _ := pass.Snapshot.Info(gc.MemberID)
		pass.Snapshot.Remove(gc.MemberID)
		if err := e.db.RemoveGroupMember(gc.GroupID, gc.MemberID); err != nil {
			e.logger.Error("remove member failed", zap.String("member_id", gc.MemberID), zap.Error(err))
		}
		e.emitMembershipEvent(ctx, gc.GroupID, gc.MemberID, info, store.EventLeave, ts)
	}

	count := pass.Snapshot.Len()
	e.registry.SetMemberCount(gc.GroupID, count)
	if err := e.db.UpdateGroupMemberCount(gc.GroupID, count); err != nil {
		e.logger.Error("update member count failed", zap.String("group_id", gc.GroupID), zap.Error(err))
	}
}
