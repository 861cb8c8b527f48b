package watch

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mvtorres/groupwatch/internal/bus"
	"github.com/mvtorres/groupwatch/internal/source"
	"github.com/mvtorres/groupwatch/internal/store"
	"go.uber.org/zap"
)

// fakeSource is an in-memory source.Client for tests.
type fakeSource struct {
	mu sync.Mutex

	groups   []source.GroupMeta
	members  map[string][]source.Member
	recent   map[string][]source.RecentMessage
	contacts map[string]source.Contact

	listErr     error
	membersErr  map[string]error
	recentErr   map[string]error
	resolveErr  error
	membersGate chan struct{} // when set, GetMembers blocks until closed

	getMembersCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		members:    make(map[string][]source.Member),
		recent:     make(map[string][]source.RecentMessage),
		contacts:   make(map[string]source.Contact),
		membersErr: make(map[string]error),
		recentErr:  make(map[string]error),
	}
}

func (f *fakeSource) ListGroups(_ context.Context) ([]source.GroupMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]source.GroupMeta(nil), f.groups...), nil
}

func (f *fakeSource) GetMembers(_ context.Context, groupID string) ([]source.Member, error) {
	f.mu.Lock()
	f.getMembersCalls++
	gate := f.membersGate
	err := f.membersErr[groupID]
	members := append([]source.Member(nil), f.members[groupID]...)
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (f *fakeSource) FetchRecentMessages(_ context.Context, groupID string, limit int) ([]source.RecentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.recentErr[groupID]; err != nil {
		return nil, err
	}
	msgs := f.recent[groupID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]source.RecentMessage(nil), msgs...), nil
}

func (f *fakeSource) ResolveContact(_ context.Context, id string) (source.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return source.Contact{}, f.resolveErr
	}
	return f.contacts[id], nil
}

func (f *fakeSource) setMembers(groupID string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := make([]source.Member, 0, len(ids))
	for _, id := range ids {
		members = append(members, source.Member{ID: id})
	}
	f.members[groupID] = members
}

func (f *fakeSource) addRecent(groupID string, msgs ...source.RecentMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent[groupID] = append(f.recent[groupID], msgs...)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// testRig wires a db, registry, engine and bus around a fake source.
type testRig struct {
	db       *store.DB
	src      *fakeSource
	registry *Registry
	engine   *Engine
	bus      *bus.Bus
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	db := testDB(t)
	src := newFakeSource()
	b := bus.New()
	logger := zap.NewNop()
	registry := NewRegistry(db, src, b, logger, 100)
	engine := NewEngine(db, src, registry, b, logger, 15)
	return &testRig{db: db, src: src, registry: registry, engine: engine, bus: b}
}

// addGroup registers a fake group and monitors it.
func (r *testRig) addGroup(t *testing.T, id, name string, memberIDs ...string) *store.Group {
	t.Helper()
	r.src.mu.Lock()
	r.src.groups = append(r.src.groups, source.GroupMeta{ID: id, Name: name, IsGroup: true})
	r.src.mu.Unlock()
	r.src.setMembers(id, memberIDs...)

	g, err := r.registry.Add(context.Background(), name)
	if err != nil {
		t.Fatalf("Add(%q): %v", name, err)
	}
	return g
}
