package repository

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/gatherly/invites-backend/internal/model"
)

// GuestRepositoryInterface defines methods used by the services
type GuestRepositoryInterface interface {
	GetByID(id int) (*model.Guest, error)
	ListByEvent(eventID int) ([]model.Guest, error)
	ListByEventAndStatus(eventID int, status model.Status) ([]model.Guest, error)
	Create(g *model.Guest) error
	ApplyStatus(guestID int, newStatus model.Status) (*model.StatusTransition, error)
	MarkSent(guestID int, providerMessageID string) (*model.StatusTransition, error)
	IncrementSendAttempts(guestID int) error
	RecordSendError(guestID int, message string) error
	SetEnqueuedAt(guestID int, at time.Time) error
	FindByReply(providerMessageID, phoneSuffix string) (*model.Guest, error)
	FindByProviderMessageID(providerMessageID string) (*model.Guest, error)
	CountByStatus(eventID int) (map[model.Status]int, error)
}

// GuestRepository is the concrete implementation
type GuestRepository struct {
	DB *sql.DB
}

const guestColumns = `
        id, event_id, name, phone, status, provider_message_id,
        send_attempts, last_send_error, send_enqueued_at, checked_in,
        created_at, updated_at
`

func scanGuest(row interface{ Scan(...any) error }) (*model.Guest, error) {
	var g model.Guest
	err := row.Scan(
		&g.ID,
		&g.EventID,
		&g.Name,
		&g.Phone,
		&g.Status,
		&g.ProviderMessageID,
		&g.SendAttempts,
		&g.LastSendError,
		&g.SendEnqueuedAt,
		&g.CheckedIn,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetByID fetches a guest by ID
func (r *GuestRepository) GetByID(id int) (*model.Guest, error) {
	query := `SELECT ` + guestColumns + ` FROM guests WHERE id = $1`
	g, err := scanGuest(r.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ListByEvent fetches every guest of an event
func (r *GuestRepository) ListByEvent(eventID int) ([]model.Guest, error) {
	query := `SELECT ` + guestColumns + ` FROM guests WHERE event_id = $1 ORDER BY id`
	return r.list(query, eventID)
}

// ListByEventAndStatus fetches the guests of an event in one status
func (r *GuestRepository) ListByEventAndStatus(eventID int, status model.Status) ([]model.Guest, error) {
	query := `SELECT ` + guestColumns + ` FROM guests WHERE event_id = $1 AND status = $2 ORDER BY id`
	return r.list(query, eventID, status)
}

func (r *GuestRepository) list(query string, args ...any) ([]model.Guest, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	guests := []model.Guest{}
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, err
		}
		guests = append(guests, *g)
	}
	return guests, rows.Err()
}

// Create inserts a new guest and returns the created ID
func (r *GuestRepository) Create(g *model.Guest) error {
	now := time.Now()
	g.CreatedAt = now
	g.UpdatedAt = now
	if g.Status == "" {
		g.Status = model.StatusPending
	}

	query := `
        INSERT INTO guests (event_id, name, phone, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `
	return r.DB.QueryRow(query, g.EventID, g.Name, g.Phone, g.Status, g.CreatedAt, g.UpdatedAt).Scan(&g.ID)
}

// ApplyStatus performs the guarded conditional status update. The new status
// lands only if the guest's current status is in model.AllowedSources; a
// stale or duplicate update matches zero rows and returns a nil transition.
// The pre-image status comes back with the update so the caller can
// broadcast the transition without a separate racy read.
func (r *GuestRepository) ApplyStatus(guestID int, newStatus model.Status) (*model.StatusTransition, error) {
	query := `
        UPDATE guests
        SET status = $1, updated_at = now()
        FROM (SELECT id, event_id, status AS old_status FROM guests WHERE id = $2 FOR UPDATE) prev
        WHERE guests.id = prev.id AND guests.status = ANY($3)
        RETURNING prev.event_id, prev.old_status
    `
	return r.guardedUpdate(query, guestID, newStatus, statusList(model.AllowedSources(newStatus)))
}

// MarkSent transitions the guest to sent and records the provider-assigned
// message id in the same guarded statement, clearing the transient send
// bookkeeping. If the guarded update no-ops, the provider id is still
// persisted (set-once) so an accepted message is never resent.
func (r *GuestRepository) MarkSent(guestID int, providerMessageID string) (*model.StatusTransition, error) {
	query := `
        UPDATE guests
        SET status = $1, provider_message_id = $4,
            last_send_error = NULL, send_enqueued_at = NULL, updated_at = now()
        FROM (SELECT id, event_id, status AS old_status FROM guests WHERE id = $2 FOR UPDATE) prev
        WHERE guests.id = prev.id AND guests.status = ANY($3)
        RETURNING prev.event_id, prev.old_status
    `
	tr, err := r.guardedUpdate(query, guestID, model.StatusSent, statusList(model.AllowedSources(model.StatusSent)), providerMessageID)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		_, err = r.DB.Exec(
			`UPDATE guests SET provider_message_id = COALESCE(provider_message_id, $1), updated_at = now() WHERE id = $2`,
			providerMessageID, guestID,
		)
		if err != nil {
			return nil, err
		}
	}
	return tr, nil
}

func (r *GuestRepository) guardedUpdate(query string, guestID int, newStatus model.Status, allowed []string, extra ...any) (*model.StatusTransition, error) {
	args := append([]any{newStatus, guestID, pq.Array(allowed)}, extra...)

	var eventID int
	var oldStatus model.Status
	err := r.DB.QueryRow(query, args...).Scan(&eventID, &oldStatus)
	if err == sql.ErrNoRows {
		return nil, nil // already at or past the incoming status
	}
	if err != nil {
		return nil, err
	}

	return &model.StatusTransition{
		GuestID:   guestID,
		EventID:   eventID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		At:        time.Now(),
	}, nil
}

// IncrementSendAttempts bumps the attempt counter by one
func (r *GuestRepository) IncrementSendAttempts(guestID int) error {
	_, err := r.DB.Exec(
		`UPDATE guests SET send_attempts = send_attempts + 1, updated_at = now() WHERE id = $1`,
		guestID,
	)
	return err
}

// RecordSendError stores the latest send error text
func (r *GuestRepository) RecordSendError(guestID int, message string) error {
	_, err := r.DB.Exec(
		`UPDATE guests SET last_send_error = $1, updated_at = now() WHERE id = $2`,
		message, guestID,
	)
	return err
}

// SetEnqueuedAt stamps when a send job was last appended for the guest
func (r *GuestRepository) SetEnqueuedAt(guestID int, at time.Time) error {
	_, err := r.DB.Exec(
		`UPDATE guests SET send_enqueued_at = $1, updated_at = now() WHERE id = $2`,
		at, guestID,
	)
	return err
}

// FindByReply matches an inbound reply to a guest by the replied provider
// message id plus a phone suffix. The id is the primary key of the match;
// the suffix guards against a reused id reaching the wrong guest.
func (r *GuestRepository) FindByReply(providerMessageID, phoneSuffix string) (*model.Guest, error) {
	query := `
        SELECT ` + guestColumns + `
        FROM guests
        WHERE provider_message_id = $1 AND phone LIKE '%' || $2
        LIMIT 1
    `
	g, err := scanGuest(r.DB.QueryRow(query, providerMessageID, phoneSuffix))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// FindByProviderMessageID matches a delivery status callback to a guest
func (r *GuestRepository) FindByProviderMessageID(providerMessageID string) (*model.Guest, error) {
	query := `SELECT ` + guestColumns + ` FROM guests WHERE provider_message_id = $1 LIMIT 1`
	g, err := scanGuest(r.DB.QueryRow(query, providerMessageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// CountByStatus returns the status counters for an event's dashboard
func (r *GuestRepository) CountByStatus(eventID int) (map[model.Status]int, error) {
	rows, err := r.DB.Query(
		`SELECT status, COUNT(*) FROM guests WHERE event_id = $1 GROUP BY status`,
		eventID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.Status]int{}
	for _, s := range model.Statuses() {
		counts[s] = 0
	}
	for rows.Next() {
		var s model.Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

func statusList(statuses []model.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
