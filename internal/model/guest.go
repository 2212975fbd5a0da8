// internal/model/guest.go
package model

import "time"

type Guest struct {
	ID                int        `db:"id" json:"id"`
	EventID           int        `db:"event_id" json:"event_id"`
	Name              string     `db:"name" json:"name"`
	Phone             string     `db:"phone" json:"phone"`
	Status            Status     `db:"status" json:"status"`
	ProviderMessageID *string    `db:"provider_message_id" json:"provider_message_id,omitempty"`
	SendAttempts      int        `db:"send_attempts" json:"send_attempts"`
	LastSendError     *string    `db:"last_send_error" json:"last_send_error,omitempty"`
	SendEnqueuedAt    *time.Time `db:"send_enqueued_at" json:"send_enqueued_at,omitempty"`
	CheckedIn         bool       `db:"checked_in" json:"checked_in"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// StatusTransition is the ephemeral record of one applied status change,
// handed to the broadcaster. It is never persisted.
type StatusTransition struct {
	GuestID   int       `json:"guest_id"`
	EventID   int       `json:"event_id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	At        time.Time `json:"at"`
}
