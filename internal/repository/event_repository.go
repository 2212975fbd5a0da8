package repository

import (
	"database/sql"
	"time"

	"github.com/gatherly/invites-backend/internal/model"
)

// EventRepositoryInterface defines methods used by the services
type EventRepositoryInterface interface {
	GetByID(id int) (*model.Event, error)
	Create(ev *model.Event) error
}

// EventRepository is the concrete implementation
type EventRepository struct {
	DB *sql.DB
}

// GetByID fetches an event by ID
func (r *EventRepository) GetByID(id int) (*model.Event, error) {
	query := `
        SELECT id, name, venue, starts_at, locale, check_in_enabled, created_at, updated_at
        FROM events
        WHERE id = $1
    `
	var ev model.Event
	err := r.DB.QueryRow(query, id).Scan(
		&ev.ID,
		&ev.Name,
		&ev.Venue,
		&ev.StartsAt,
		&ev.Locale,
		&ev.CheckInEnabled,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Create inserts a new event and returns the created ID
func (r *EventRepository) Create(ev *model.Event) error {
	ev.CreatedAt = time.Now()
	if ev.Locale == "" {
		ev.Locale = "en"
	}

	query := `
        INSERT INTO events (name, venue, starts_at, locale, check_in_enabled, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `
	return r.DB.QueryRow(query, ev.Name, ev.Venue, ev.StartsAt, ev.Locale, ev.CheckInEnabled, ev.CreatedAt).Scan(&ev.ID)
}
