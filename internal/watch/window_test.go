package watch

import (
	"fmt"
	"testing"
)

func TestWindowClassifiesNewVsSeen(t *testing.T) {
	w := NewWindow(10)

	if w.Contains("m1") {
		t.Error("empty window should not contain m1")
	}
	w.Add("m1")
	if !w.Contains("m1") {
		t.Error("window should contain m1 after Add")
	}
}

func TestWindowEvictsOldestAtCapacity(t *testing.T) {
	w := NewWindow(100)

	// After observing 150 distinct ids the window holds exactly the 100
	// most recently observed.
	for i := 0; i < 150; i++ {
		w.Add(fmt.Sprintf("m%d", i))
	}

	if w.Len() != 100 {
		t.Fatalf("len = %d, want 100", w.Len())
	}
	for i := 0; i < 50; i++ {
		if w.Contains(fmt.Sprintf("m%d", i)) {
			t.Errorf("m%d should have been evicted", i)
		}
	}
	for i := 50; i < 150; i++ {
		if !w.Contains(fmt.Sprintf("m%d", i)) {
			t.Errorf("m%d should still be in the window", i)
		}
	}
}

func TestWindowReAddIsNoop(t *testing.T) {
	w := NewWindow(3)

	w.Add("a")
	w.Add("b")
	w.Add("a")
	if w.Len() != 2 {
		t.Errorf("len = %d, want 2 (re-add must not duplicate)", w.Len())
	}

	// Re-adding does not refresh position: "a" is still oldest.
	w.Add("c")
	w.Add("d")
	if w.Contains("a") {
		t.Error("a should have been evicted as oldest")
	}
	if !w.Contains("b") || !w.Contains("c") || !w.Contains("d") {
		t.Error("b, c, d should remain")
	}
}

func TestSnapshotDiff(t *testing.T) {
	s := NewSnapshot()
	s.Replace(map[string]MemberInfo{
		"a": {Name: "Alice"},
		"b": {Name: "Bob"},
		"c": {Name: "Carla"},
	})

	joined, left := s.Diff(map[string]MemberInfo{
		"a": {Name: "Alice"},
		"c": {Name: "Carla"},
		"d": {Name: "Dan"},
	})

	if len(joined) != 1 || joined[0] != "d" {
		t.Errorf("joined = %v, want [d]", joined)
	}
	if len(left) != 1 || left[0] != "b" {
		t.Errorf("left = %v, want [b]", left)
	}
}

func TestSnapshotReplaceCopies(t *testing.T) {
	s := NewSnapshot()
	src := map[string]MemberInfo{"a": {Name: "Alice"}}
	s.Replace(src)

	// Mutating the caller's map must not leak into the snapshot.
	delete(src, "a")
	if !s.Has("a") {
		t.Error("snapshot should own its member set")
	}
}
