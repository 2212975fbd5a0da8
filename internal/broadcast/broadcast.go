// Package broadcast fans status transitions out to live dashboard
// observers. It is strictly best-effort: publish failures are logged and
// swallowed, never rolled back into the state transition that triggered
// them. Consumers reconcile against the store for anything they miss.
package broadcast

// Kind names the dashboard message types.
type Kind string

const (
	KindGuestInsert    Kind = "guest-insert"
	KindGuestUpdate    Kind = "guest-update"
	KindGuestDelete    Kind = "guest-delete"
	KindCountersUpdate Kind = "event-counters-update"
)

// Broadcaster publishes a message on the per-event topic. Implementations
// must never return an error to the caller; failure handling is internal.
type Broadcaster interface {
	Publish(eventID int, kind Kind, payload any)
}

// Nop discards everything. Used when no broker is configured and in tests.
type Nop struct{}

func (Nop) Publish(int, Kind, any) {}
