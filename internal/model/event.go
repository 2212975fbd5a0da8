// internal/model/event.go
package model

import "time"

type Event struct {
	ID             int        `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	Venue          string     `db:"venue" json:"venue"`
	StartsAt       time.Time  `db:"starts_at" json:"starts_at"`
	Locale         string     `db:"locale" json:"locale"`
	CheckInEnabled bool       `db:"check_in_enabled" json:"check_in_enabled"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
