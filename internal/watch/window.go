package watch

// Window is a bounded, order-preserving set of recently observed message
// ids, used to classify fetched messages as new vs already seen. It is
// not the durable record; it can be rebuilt from the store at boot.
//
// A window is only ever touched by the single in-flight pass for its
// group, so it carries no locking of its own.
type Window struct {
	capacity int
	order    []string
	seen     map[string]struct{}
}

// NewWindow creates a window with the given capacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 100
	}
	return &Window{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Contains reports whether id has been observed and not yet evicted.
func (w *Window) Contains(id string) bool {
	_, ok := w.seen[id]
	return ok
}

// Add records id as observed, evicting the oldest entry beyond capacity.
// Re-adding a known id is a no-op; it does not refresh its position.
func (w *Window) Add(id string) {
	if w.Contains(id) {
		return
	}
	w.order = append(w.order, id)
	w.seen[id] = struct{}{}
	for len(w.order) > w.capacity {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, oldest)
	}
}

// Len returns the number of ids currently held.
func (w *Window) Len() int {
	return len(w.order)
}
