package watch

// MemberInfo is cached display metadata for one member.
type MemberInfo struct {
	Name    string
	Phone   string
	IsAdmin bool
}

// Snapshot holds the member-id set of a group as of its last completed
// pass, plus cached member metadata. Like Window, it is only mutated by
// the single in-flight pass for its group.
type Snapshot struct {
	members map[string]MemberInfo
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{members: make(map[string]MemberInfo)}
}

// Len returns the snapshot's member count.
func (s *Snapshot) Len() int {
	return len(s.members)
}

// Has reports whether the member id is in the snapshot.
func (s *Snapshot) Has(id string) bool {
	_, ok := s.members[id]
	return ok
}

// Info returns cached metadata for a member id.
func (s *Snapshot) Info(id string) (MemberInfo, bool) {
	info, ok := s.members[id]
	return info, ok
}

// Set adds or updates a single member, used by the push fast path.
func (s *Snapshot) Set(id string, info MemberInfo) {
	s.members[id] = info
}

// Remove deletes a single member, used by the push fast path.
func (s *Snapshot) Remove(id string) {
	delete(s.members, id)
}

// IDs returns the current member id set.
func (s *Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	return ids
}

// Diff compares the snapshot against a freshly observed member set and
// returns the ids that joined and the ids that left.
func (s *Snapshot) Diff(current map[string]MemberInfo) (joined, left []string) {
	for id := range current {
		if !s.Has(id) {
			joined = append(joined, id)
		}
	}
	for id := range s.members {
		if _, ok := current[id]; !ok {
			left = append(left, id)
		}
	}
	return joined, left
}

// Replace swaps the snapshot's content for the freshly observed set.
func (s *Snapshot) Replace(current map[string]MemberInfo) {
	next := make(map[string]MemberInfo, len(current))
	for id, info := range current {
		next[id] = info
	}
	s.members = next
}
