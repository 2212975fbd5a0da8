package stream

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates what a stream entry carries.
type Kind string

const (
	KindInvite   Kind = "invite"
	KindFollowup Kind = "followup"
)

// Meta is the metadata bag attached to every outbox entry. It is a tagged
// union over Kind: the required fields depend on the kind and are validated
// at the stream boundary, never trusted implicitly.
type Meta struct {
	Kind    Kind   `json:"kind"`
	GuestID int    `json:"guest_id,omitempty"`
	EventID int    `json:"event_id,omitempty"`
	Locale  string `json:"locale,omitempty"`
}

// Validate enforces the kind-specific required fields.
func (m Meta) Validate() error {
	switch m.Kind {
	case KindInvite:
		if m.GuestID <= 0 {
			return fmt.Errorf("invite meta requires guest_id")
		}
		if m.EventID <= 0 {
			return fmt.Errorf("invite meta requires event_id")
		}
	case KindFollowup:
		if m.EventID <= 0 {
			return fmt.Errorf("followup meta requires event_id")
		}
	default:
		return fmt.Errorf("unknown entry kind %q", m.Kind)
	}
	return nil
}

// Entry is one claimed outbox entry: the opaque transport payload plus its
// validated metadata.
type Entry struct {
	ID      string
	Payload json.RawMessage
	Meta    Meta
}

// Job is one pending append: what the producer hands to the outbox.
type Job struct {
	Payload json.RawMessage
	Meta    Meta
}

// Failure is the context attached to a dead-lettered entry.
type Failure struct {
	Error      string
	HTTPStatus int
	Attempt    int
}
