package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-separated namespaces. The ones used by groupwatch:
//
//	watch.message          *store.Message newly classified by a pass
//	watch.event            *store.Event (JOIN/LEAVE/CERTIFICATE)
//	watch.group_added      *store.Group
//	source.connected       nil
//	source.disconnected    nil
//	source.group_change    source.GroupChange (push fast path)
//	session.status_changed status.StatusChange
//	import.done            *store.ImportJob
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
