// internal/model/status.go
package model

// Status is the delivery lifecycle state of a guest's invite.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusConfirmed Status = "confirmed"
	StatusDeclined  Status = "declined"
	StatusFailed    Status = "failed"
)

// statusRank orders statuses by how far along the lifecycle they are.
// confirmed and declined share the top rank because both are terminal RSVP
// outcomes. failed sits below pending: it never outranks an in-flight state,
// it overrides them through its own allowed-source rule instead.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
	StatusConfirmed: 10,
	StatusDeclined:  10,
	StatusFailed:    -1,
}

// failedSources are the only states failed may overwrite. A terminal RSVP
// outcome is never demoted to failed.
var failedSources = []Status{StatusPending, StatusSent, StatusDelivered, StatusRead}

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank returns the lifecycle priority of s. Unknown statuses rank below
// everything so they can never be applied as an upgrade.
func (s Status) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -2
	}
	return r
}

// Terminal reports whether s is an RSVP outcome that must never change.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusDeclined
}

// AllowedSources returns the set of current statuses from which newStatus is
// a legal transition. All call sites (worker, webhook, reply handler) route
// through this table; none of them compare statuses on their own.
func AllowedSources(newStatus Status) []Status {
	if newStatus == StatusFailed {
		out := make([]Status, len(failedSources))
		copy(out, failedSources)
		return out
	}

	rank := newStatus.Rank()
	var out []Status
	for s, r := range statusRank {
		if r < rank {
			out = append(out, s)
		}
	}
	return out
}

// Statuses lists every lifecycle status, for counter queries and tests.
func Statuses() []Status {
	return []Status{
		StatusPending,
		StatusSent,
		StatusDelivered,
		StatusRead,
		StatusConfirmed,
		StatusDeclined,
		StatusFailed,
	}
}
