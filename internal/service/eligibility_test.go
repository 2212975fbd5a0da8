package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gatherly/invites-backend/internal/model"
)

func TestShouldEnqueueMatrix(t *testing.T) {
	now := time.Now()
	fresh := now.Add(-2 * time.Minute)
	stale := now.Add(-11 * time.Minute)
	providerID := "wamid.123"

	cases := []struct {
		name  string
		guest model.Guest
		want  bool
	}{
		{"pending never attempted", model.Guest{Status: model.StatusPending}, true},
		{"pending enqueued 2m ago", model.Guest{Status: model.StatusPending, SendEnqueuedAt: &fresh}, false},
		{"pending enqueued 11m ago", model.Guest{Status: model.StatusPending, SendEnqueuedAt: &stale}, true},
		{"failed always retryable", model.Guest{Status: model.StatusFailed}, true},
		{"failed with fresh enqueue", model.Guest{Status: model.StatusFailed, SendEnqueuedAt: &fresh}, true},
		{"sent", model.Guest{Status: model.StatusSent}, false},
		{"delivered", model.Guest{Status: model.StatusDelivered}, false},
		{"read", model.Guest{Status: model.StatusRead}, false},
		{"confirmed", model.Guest{Status: model.StatusConfirmed}, false},
		{"declined", model.Guest{Status: model.StatusDeclined}, false},
		{"provider id blocks pending", model.Guest{Status: model.StatusPending, ProviderMessageID: &providerID}, false},
		{"provider id blocks failed", model.Guest{Status: model.StatusFailed, ProviderMessageID: &providerID}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ShouldEnqueue(&tc.guest, now, DefaultStaleWindow)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestShouldEnqueueStaleBoundary(t *testing.T) {
	now := time.Now()
	window := 10 * time.Minute

	justInside := now.Add(-window + time.Second)
	justOutside := now.Add(-window - time.Second)

	g := model.Guest{Status: model.StatusPending, SendEnqueuedAt: &justInside}
	assert.False(t, ShouldEnqueue(&g, now, window))

	g.SendEnqueuedAt = &justOutside
	assert.True(t, ShouldEnqueue(&g, now, window))
}
