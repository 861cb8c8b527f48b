package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mvtorres/groupwatch/internal/source"
	"github.com/mvtorres/groupwatch/internal/store"
)

func TestBaselinePassEmitsNoEvents(t *testing.T) {
	rig := newTestRig(t)
	g := rig.addGroup(t, "g1@g", "Cairo Team", "a", "b", "c")
	rig.src.addRecent(g.ID,
		source.RecentMessage{ID: "m1", Timestamp: 1000, SenderID: "a", Body: "hi", Type: "text"},
		source.RecentMessage{ID: "m2", Timestamp: 2000, SenderID: "b", Body: "yo", Type: "text"},
	)

	msgCh, unsub := rig.bus.Subscribe("watch.message", 10)
	defer unsub()

	if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}

	// Zero JOIN/LEAVE events regardless of membership size.
	_, evtTotal, _, err := rig.db.ListEvents(store.EventFilter{}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if evtTotal != 0 {
		t.Errorf("got %d events on baseline, want 0", evtTotal)
	}

	// Messages persisted as initial load...
	_, msgTotal, _, err := rig.db.ListMessages(g.ID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if msgTotal != 2 {
		t.Errorf("got %d messages, want 2", msgTotal)
	}

	// ...but none handed to fanout.
	select {
	case evt := <-msgCh:
		t.Errorf("baseline broadcast a message: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestMembershipDiff(t *testing.T) {
	rig := newTestRig(t)
	g := rig.addGroup(t, "g1@g", "Cairo Team", "a", "b", "c")
	rig.src.contacts["b"] = source.Contact{DisplayName: "Bob"}
	rig.src.contacts["d"] = source.Contact{DisplayName: "Dan"}

	// Baseline pass seeds {a, b, c}.
	if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}

	// Next pass observes {a, c, d}.
	rig.src.setMembers(g.ID, "a", "c", "d")
	if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}

	events, total, _, err := rig.db.ListEvents(store.EventFilter{GroupID: g.ID}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("got %d events, want exactly one LEAVE and one JOIN", total)
	}
	byType := map[store.EventType]store.Event{}
	for _, e := range events {
		byType[e.Type] = e
	}
	if byType[store.EventLeave].MemberID != "b" {
		t.Errorf("LEAVE member = %q, want b", byType[store.EventLeave].MemberID)
	}
	if byType[store.EventJoin].MemberID != "d" {
		t.Errorf("JOIN member = %q, want d", byType[store.EventJoin].MemberID)
	}

	got, _ := rig.registry.Get(g.ID)
	if got.MemberCount != 3 {
		t.Errorf("member count = %d, want 3", got.MemberCount)
	}
	row, _ := rig.db.GetGroup(g.ID)
	if row.MemberCount != 3 {
		t.Errorf("persisted member count = %d, want 3", row.MemberCount)
	}
}

func TestNewMessageClassificationAndBroadcast(t *testing.T) {
	rig := newTestRig(t)
	g := rig.addGroup(t, "g1@g", "Cairo Team", "a")
	rig.src.addRecent(g.ID, source.RecentMessage{ID: "m1", Timestamp: 1000, SenderID: "a", Body: "old", Type: "text"})

	// Baseline.
	if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}

	msgCh, unsub := rig.bus.Subscribe("watch.message", 10)
	defer unsub()

	// The source window now overlaps: m1 again plus a new m2.
	rig.src.addRecent(g.ID, source.RecentMessage{ID: "m2", Timestamp: 2000, SenderID: "a", Body: "new", Type: "text"})
	if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-msgCh:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			t.Fatalf("payload type = %T, want *store.Message", evt.Payload)
		}
		if msg.MsgID != "m2" {
			t.Errorf("broadcast msg = %q, want m2", msg.MsgID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for watch.message")
	}

	// m1 was re-observed but must not be re-broadcast.
	select {
	case evt := <-msgCh:
		t.Errorf("unexpected extra broadcast: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	// Store holds both, no duplicates.
	_, total, _, err := rig.db.ListMessages(g.ID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("got %d messages, want 2", total)
	}
}

func TestRepeatedPassIsIdempotent(t *testing.T) {
	rig := newTestRig(t)
	g := rig.addGroup(t, "g1@g", "Cairo Team", "a")
	rig.src.addRecent(g.ID, source.RecentMessage{ID: "m1", Timestamp: 1000, SenderID: "a", Body: "hi", Type: "text"})

	for i := 0; i < 3; i++ {
		if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
			t.Fatal(err)
		}
	}

	_, total, _, err := rig.db.ListMessages(g.ID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("got %d messages after 3 passes, want 1", total)
	}
}

func TestCertificateEventForVoiceMessages(t *testing.T) {
	rig := newTestRig(t)
	g := rig.addGroup(t, "g1@g", "Cairo Team", "a")
	rig.src.contacts["a"] = source.Contact{DisplayName: "Alice", Phone: "5511999"}

	ts := time.Date(2026, 8, 20, 14, 0, 0, 0, time.Local).UnixMilli()
	rig.src.addRecent(g.ID,
		source.RecentMessage{ID: "v1", Timestamp: ts, SenderID: "a", Type: "ptt", HasMedia: true},
		source.RecentMessage{ID: "v2", Timestamp: ts + 1000, SenderID: "a", Type: "audio", HasMedia: true},
		source.RecentMessage{ID: "t1", Timestamp: ts + 2000, SenderID: "a", Body: "not audio", Type: "text"},
	)

	if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}

	// Two voice notes on the same day collapse to one CERTIFICATE for the
	// (group, phone, date) key, keeping the latest timestamp.
	events, total, _, err := rig.db.ListEvents(store.EventFilter{GroupID: g.ID}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("got %d events, want 1 deduped CERTIFICATE", total)
	}
	e := events[0]
	if e.Type != store.EventCertificate {
		t.Errorf("type = %s, want CERTIFICATE", e.Type)
	}
	if e.MemberID != "5511999" {
		t.Errorf("member id = %q, want sender phone", e.MemberID)
	}
	if e.Date != "2026-08-20" {
		t.Errorf("date = %q, want 2026-08-20", e.Date)
	}
	if e.Timestamp != ts+1000 {
		t.Errorf("timestamp = %d, want latest %d", e.Timestamp, ts+1000)
	}
}

func TestPassFailureLeavesCachesUntouched(t *testing.T) {
	rig := newTestRig(t)
	g := rig.addGroup(t, "g1@g", "Cairo Team", "a", "b")

	// Baseline.
	if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}

	// Membership changes but the source starts failing.
	rig.src.setMembers(g.ID, "a")
	rig.src.mu.Lock()
	rig.src.membersErr[g.ID] = errors.New("boom")
	rig.src.mu.Unlock()

	if err := rig.engine.Sync(context.Background(), g.ID); err == nil {
		t.Fatal("Sync should fail when the source errors")
	}

	// Source recovers; the diff is computed against the untouched snapshot.
	rig.src.mu.Lock()
	delete(rig.src.membersErr, g.ID)
	rig.src.mu.Unlock()

	if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}

	events, total, _, err := rig.db.ListEvents(store.EventFilter{GroupID: g.ID}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || events[0].Type != store.EventLeave || events[0].MemberID != "b" {
		t.Errorf("events = %v, want single LEAVE for b", events)
	}
}

func TestFetchFailureRebroadcastsNextPass(t *testing.T) {
	rig := newTestRig(t)
	g := rig.addGroup(t, "g1@g", "Cairo Team", "a")

	// Baseline with empty recent slice.
	if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}

	rig.src.addRecent(g.ID, source.RecentMessage{ID: "m1", Timestamp: 1000, SenderID: "a", Body: "hi", Type: "text"})
	rig.src.mu.Lock()
	rig.src.recentErr[g.ID] = errors.New("boom")
	rig.src.mu.Unlock()

	if err := rig.engine.Sync(context.Background(), g.ID); err == nil {
		t.Fatal("Sync should fail when fetch fails")
	}

	msgCh, unsub := rig.bus.Subscribe("watch.message", 10)
	defer unsub()

	rig.src.mu.Lock()
	delete(rig.src.recentErr, g.ID)
	rig.src.mu.Unlock()

	if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-msgCh:
		if evt.Payload.(*store.Message).MsgID != "m1" {
			t.Errorf("broadcast = %v, want m1", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("m1 should be classified as new after the failed pass")
	}
}

func TestContactResolutionFallback(t *testing.T) {
	rig := newTestRig(t)
	g := rig.addGroup(t, "g1@g", "Cairo Team", "a")
	if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}

	// A member with no metadata joins and resolution fails.
	rig.src.mu.Lock()
	rig.src.resolveErr = errors.New("not found")
	rig.src.mu.Unlock()
	rig.src.setMembers(g.ID, "a", "5521888@s.whatsapp.net")

	if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}

	events, _, _, err := rig.db.ListEvents(store.EventFilter{GroupID: g.ID}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].MemberName != "5521888" {
		t.Errorf("member name = %q, want raw id fragment 5521888", events[0].MemberName)
	}
}

func TestSyncInFlightGuard(t *testing.T) {
	rig := newTestRig(t)
	g := rig.addGroup(t, "g1@g", "Cairo Team", "a")

	gate := make(chan struct{})
	rig.src.mu.Lock()
	rig.src.membersGate = gate
	rig.src.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- rig.engine.Sync(context.Background(), g.ID) }()

	// Wait for the pass to be in flight, then try to start another.
	deadline := time.After(time.Second)
	for {
		if _, err := rig.registry.TryBeginPass(g.ID); errors.Is(err, ErrPassInFlight) {
			break
		} else if err == nil {
			rig.registry.EndPass(g.ID, false)
		}
		select {
		case <-deadline:
			t.Fatal("first pass never claimed the in-flight flag")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := rig.engine.Sync(context.Background(), g.ID); !errors.Is(err, ErrPassInFlight) {
		t.Errorf("overlapping Sync = %v, want ErrPassInFlight", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
}

func TestFastPathGroupChange(t *testing.T) {
	rig := newTestRig(t)
	g := rig.addGroup(t, "g1@g", "Cairo Team", "a")
	rig.src.contacts["d"] = source.Contact{DisplayName: "Dan", Phone: "5511000"}

	// Complete the baseline so the fast path applies.
	if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}

	rig.engine.Start(context.Background())
	defer rig.engine.Stop()

	evtCh, unsub := rig.bus.Subscribe("watch.event", 10)
	defer unsub()

	rig.bus.PublishKind("source.group_change", source.GroupChange{
		GroupID: g.ID, MemberID: "d", Joined: true, Timestamp: time.Now().UnixMilli(),
	})

	select {
	case evt := <-evtCh:
		e := evt.Payload.(*store.Event)
		if e.Type != store.EventJoin || e.MemberID != "d" {
			t.Errorf("event = %+v, want JOIN for d", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for fast-path JOIN")
	}

	got, _ := rig.registry.Get(g.ID)
	if got.MemberCount != 2 {
		t.Errorf("member count = %d, want 2", got.MemberCount)
	}

	// The next poll sees d already in the snapshot: no duplicate JOIN.
	rig.src.setMembers(g.ID, "a", "d")
	if err := rig.engine.Sync(context.Background(), g.ID); err != nil {
		t.Fatal(err)
	}
	_, total, _, err := rig.db.ListEvents(store.EventFilter{GroupID: g.ID}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("got %d events, want 1 (fast path and poll share the dedup rule)", total)
	}
}
