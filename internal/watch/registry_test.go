package watch

import (
	"context"
	"errors"
	"testing"

	"github.com/mvtorres/groupwatch/internal/source"
	"github.com/mvtorres/groupwatch/internal/store"
	"go.uber.org/zap"
)

func TestAddGroupSubstringMatch(t *testing.T) {
	rig := newTestRig(t)
	rig.src.groups = []source.GroupMeta{
		{ID: "dm@s", Name: "Cairo Friend", IsGroup: false},
		{ID: "g1@g", Name: "Cairo Team", IsGroup: true},
		{ID: "g2@g", Name: "Cairo Backup", IsGroup: true},
	}
	rig.src.setMembers("g1@g", "a", "b")

	// Case-insensitive substring, first matching group wins, non-groups skipped.
	g, err := rig.registry.Add(context.Background(), "cairo")
	if err != nil {
		t.Fatalf("Add(cairo): %v", err)
	}
	if g.ID != "g1@g" || g.Name != "Cairo Team" {
		t.Errorf("got %s/%s, want g1@g/Cairo Team", g.ID, g.Name)
	}
	if g.MemberCount != 2 {
		t.Errorf("member count = %d, want 2 (seeded)", g.MemberCount)
	}

	// Second add of the same name fails.
	if _, err := rig.registry.Add(context.Background(), "cairo"); !errors.Is(err, ErrAlreadyMonitored) {
		t.Errorf("second Add = %v, want ErrAlreadyMonitored", err)
	}
}

func TestAddGroupNotFound(t *testing.T) {
	rig := newTestRig(t)
	rig.src.groups = []source.GroupMeta{{ID: "g1@g", Name: "Team Alpha", IsGroup: true}}

	if _, err := rig.registry.Add(context.Background(), "beta"); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("Add(beta) = %v, want ErrGroupNotFound", err)
	}
}

func TestAddSeedsSnapshotWithoutEvents(t *testing.T) {
	rig := newTestRig(t)
	rig.addGroup(t, "g1@g", "Cairo Team", "a", "b", "c")

	_, total, _, err := rig.db.ListEvents(store.EventFilter{}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("got %d events after Add, want 0 (baseline emits none)", total)
	}

	// Group row persisted.
	g, err := rig.db.GetGroup("g1@g")
	if err != nil {
		t.Fatal(err)
	}
	if g == nil || g.MemberCount != 3 {
		t.Errorf("persisted group = %+v, want member_count 3", g)
	}

	// Membership mirror persisted.
	members, err := rig.db.ListGroupMembers("g1@g")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 3 {
		t.Errorf("got %d mirrored members, want 3", len(members))
	}
}

func TestAddSeedFailureDefersToFirstPass(t *testing.T) {
	rig := newTestRig(t)
	rig.src.groups = []source.GroupMeta{{ID: "g1@g", Name: "Cairo Team", IsGroup: true}}
	rig.src.membersErr["g1@g"] = source.ErrUnavailable

	g, err := rig.registry.Add(context.Background(), "cairo")
	if err != nil {
		t.Fatalf("Add should tolerate a seed failure: %v", err)
	}
	if g.MemberCount != 0 {
		t.Errorf("member count = %d, want 0", g.MemberCount)
	}

	pass, err := rig.registry.TryBeginPass(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer rig.registry.EndPass(g.ID, false)
	if !pass.Baseline {
		t.Error("group should be baseline-pending")
	}
}

func TestRemoveGroupKeepsHistory(t *testing.T) {
	rig := newTestRig(t)
	g := rig.addGroup(t, "g1@g", "Cairo Team", "a")

	if err := rig.db.UpsertMessage(&store.Message{MsgID: "m1", GroupID: g.ID, Body: "hi", Type: "text", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := rig.db.UpsertEvent(&store.Event{GroupID: g.ID, MemberID: "a", Type: store.EventJoin, Timestamp: 1, Date: "2026-08-01"}); err != nil {
		t.Fatal(err)
	}

	if err := rig.registry.Remove(g.ID); err != nil {
		t.Fatal(err)
	}
	if len(rig.registry.List()) != 0 {
		t.Error("registry should be empty after Remove")
	}

	// Messages and events survive unmonitoring.
	_, msgTotal, _, _ := rig.db.ListMessages(g.ID, 10, 0)
	_, evtTotal, _, _ := rig.db.ListEvents(store.EventFilter{GroupID: g.ID}, 10, 0)
	if msgTotal != 1 || evtTotal != 1 {
		t.Errorf("history = %d msgs / %d events, want 1/1", msgTotal, evtTotal)
	}

	// But the group row is gone.
	got, _ := rig.db.GetGroup(g.ID)
	if got != nil {
		t.Error("group row should be deleted")
	}

	if err := rig.registry.Remove(g.ID); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("second Remove = %v, want ErrGroupNotFound", err)
	}
}

func TestTryBeginPassExclusive(t *testing.T) {
	rig := newTestRig(t)
	g := rig.addGroup(t, "g1@g", "Cairo Team", "a")

	if _, err := rig.registry.TryBeginPass(g.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.registry.TryBeginPass(g.ID); !errors.Is(err, ErrPassInFlight) {
		t.Errorf("second TryBeginPass = %v, want ErrPassInFlight", err)
	}

	rig.registry.EndPass(g.ID, false)
	if _, err := rig.registry.TryBeginPass(g.ID); err != nil {
		t.Errorf("TryBeginPass after EndPass = %v, want nil", err)
	}
}

func TestTryBeginPassUnknownGroup(t *testing.T) {
	rig := newTestRig(t)
	if _, err := rig.registry.TryBeginPass("nope"); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("got %v, want ErrGroupNotFound", err)
	}
}

func TestLoadRestoresState(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertGroup(&store.Group{ID: "g1@g", Name: "Cairo Team", MemberCount: 2}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceGroupMembers("g1@g", []store.GroupMember{
		{GroupID: "g1@g", MemberID: "a", Name: "Alice"},
		{GroupID: "g1@g", MemberID: "b", Name: "Bob"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&store.Message{MsgID: "m1", GroupID: "g1@g", Type: "text", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}

	rig := newTestRig(t)
	rig.db = db
	registry := NewRegistry(db, rig.src, rig.bus, zap.NewNop(), 100)
	if err := registry.Load(); err != nil {
		t.Fatal(err)
	}

	groups := registry.List()
	if len(groups) != 1 || groups[0].ID != "g1@g" {
		t.Fatalf("restored groups = %v, want g1@g", groups)
	}

	pass, err := registry.TryBeginPass("g1@g")
	if err != nil {
		t.Fatal(err)
	}
	defer registry.EndPass("g1@g", false)

	if pass.Baseline {
		t.Error("group with a restored snapshot should not be baseline-pending")
	}
	if !pass.Snapshot.Has("a") || !pass.Snapshot.Has("b") {
		t.Error("snapshot should be restored from the membership mirror")
	}
	if !pass.Window.Contains("m1") {
		t.Error("window should be rebuilt from persisted message ids")
	}
}

func TestLoadEmptySnapshotIsBaselinePending(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertGroup(&store.Group{ID: "g1@g", Name: "Cairo Team"}); err != nil {
		t.Fatal(err)
	}

	rig := newTestRig(t)
	registry := NewRegistry(db, rig.src, rig.bus, zap.NewNop(), 100)
	if err := registry.Load(); err != nil {
		t.Fatal(err)
	}

	pass, err := registry.TryBeginPass("g1@g")
	if err != nil {
		t.Fatal(err)
	}
	defer registry.EndPass("g1@g", false)
	if !pass.Baseline {
		t.Error("group restored with empty snapshot should re-enter baseline-pending")
	}
}
