// internal/controller/invite_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/gatherly/invites-backend/internal/errors"
	"github.com/gatherly/invites-backend/internal/model"
	"github.com/gatherly/invites-backend/internal/repository"
	"github.com/gatherly/invites-backend/internal/service"
	"github.com/gatherly/invites-backend/internal/stream"
)

// InviteController exposes the invite-send surface consumed by the web app.
type InviteController struct {
	Guests   repository.GuestRepositoryInterface
	Events   repository.EventRepositoryInterface
	Producer *service.Producer
	Log      *zap.SugaredLogger
}

type sendResult struct {
	EventID int `json:"event_id"`
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// SendInvites enqueues invite jobs for every eligible guest of the event.
func (c *InviteController) SendInvites(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}

	event, err := c.Events.GetByID(eventID)
	if err != nil {
		http.Error(w, "failed to fetch event: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if event == nil {
		http.Error(w, appErrors.ErrEventNotFound.Error(), http.StatusNotFound)
		return
	}

	guests, err := c.Guests.ListByEvent(eventID)
	if err != nil {
		http.Error(w, "failed to fetch guests: "+err.Error(), http.StatusInternalServerError)
		return
	}

	c.enqueueEligible(w, r, event, guests)
}

// RetryFailed re-enqueues only the guests currently marked failed.
func (c *InviteController) RetryFailed(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}

	event, err := c.Events.GetByID(eventID)
	if err != nil {
		http.Error(w, "failed to fetch event: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if event == nil {
		http.Error(w, appErrors.ErrEventNotFound.Error(), http.StatusNotFound)
		return
	}

	guests, err := c.Guests.ListByEventAndStatus(eventID, model.StatusFailed)
	if err != nil {
		http.Error(w, "failed to fetch guests: "+err.Error(), http.StatusInternalServerError)
		return
	}

	c.enqueueEligible(w, r, event, guests)
}

// Counters returns the authoritative status counts, the reconciliation read
// dashboards fall back to when they miss broadcast messages.
func (c *InviteController) Counters(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}

	counts, err := c.Guests.CountByStatus(eventID)
	if err != nil {
		http.Error(w, "failed to fetch counters: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"event_id": eventID,
		"counters": counts,
	})
}

func (c *InviteController) enqueueEligible(w http.ResponseWriter, r *http.Request, event *model.Event, guests []model.Guest) {
	now := time.Now()
	jobs := []stream.Job{}
	eligible := []model.Guest{}

	for _, g := range guests {
		if !service.ShouldEnqueue(&g, now, service.DefaultStaleWindow) {
			continue
		}
		payload, err := service.BuildInvitePayload(&g, event)
		if err != nil {
			c.Log.Warnw("skipping guest with bad payload", "guest_id", g.ID, "err", err)
			continue
		}
		jobs = append(jobs, stream.Job{
			Payload: payload,
			Meta: stream.Meta{
				Kind:    stream.KindInvite,
				GuestID: g.ID,
				EventID: event.ID,
				Locale:  event.Locale,
			},
		})
		eligible = append(eligible, g)
	}

	if len(jobs) > 0 {
		if _, err := c.Producer.EnqueueBatch(r.Context(), jobs); err != nil {
			if appErrors.IsValidation(err) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "failed to enqueue: "+err.Error(), http.StatusInternalServerError)
			return
		}
		for _, g := range eligible {
			if err := c.Guests.SetEnqueuedAt(g.ID, now); err != nil {
				c.Log.Warnw("enqueue stamp failed", "guest_id", g.ID, "err", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sendResult{
		EventID: event.ID,
		Queued:  len(jobs),
		Skipped: len(guests) - len(jobs),
	})
}
