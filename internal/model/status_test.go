package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// apply simulates the guarded conditional update against an in-memory status:
// the new status lands only when the current status is in the allowed source
// set. This is the same rule the repository encodes in SQL.
func apply(current, next Status) Status {
	for _, s := range AllowedSources(next) {
		if s == current {
			return next
		}
	}
	return current
}

func TestAllowedSourcesFailed(t *testing.T) {
	assert.ElementsMatch(t,
		[]Status{StatusPending, StatusSent, StatusDelivered, StatusRead},
		AllowedSources(StatusFailed),
	)
}

func TestAllowedSourcesUpgrade(t *testing.T) {
	assert.ElementsMatch(t,
		[]Status{StatusPending, StatusFailed},
		AllowedSources(StatusSent),
	)
	assert.ElementsMatch(t,
		[]Status{StatusPending, StatusSent, StatusFailed},
		AllowedSources(StatusDelivered),
	)
	assert.ElementsMatch(t,
		[]Status{StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed},
		AllowedSources(StatusConfirmed),
	)
	// declined never upgrades to confirmed and vice versa
	for _, s := range AllowedSources(StatusConfirmed) {
		assert.NotEqual(t, StatusDeclined, s)
	}
	for _, s := range AllowedSources(StatusDeclined) {
		assert.NotEqual(t, StatusConfirmed, s)
	}
}

func TestTransitionsMonotonic(t *testing.T) {
	cases := []struct {
		name    string
		current Status
		next    Status
		want    Status
	}{
		{"pending to sent", StatusPending, StatusSent, StatusSent},
		{"skip delivered", StatusPending, StatusRead, StatusRead},
		{"late delivered after read", StatusRead, StatusDelivered, StatusRead},
		{"late delivered after confirmed", StatusConfirmed, StatusDelivered, StatusConfirmed},
		{"failed overrides read", StatusRead, StatusFailed, StatusFailed},
		{"failed never overrides confirmed", StatusConfirmed, StatusFailed, StatusConfirmed},
		{"failed never overrides declined", StatusDeclined, StatusFailed, StatusDeclined},
		{"retry from failed", StatusFailed, StatusSent, StatusSent},
		{"confirmed is terminal", StatusConfirmed, StatusDeclined, StatusConfirmed},
		{"declined is terminal", StatusDeclined, StatusConfirmed, StatusDeclined},
		{"duplicate sent is a no-op", StatusSent, StatusSent, StatusSent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, apply(tc.current, tc.next))
		})
	}
}

// The final status after any order and duplication of updates equals the
// highest-priority status applied, with failed and the terminal outcomes
// following their special rules.
func TestTransitionsOrderInsensitive(t *testing.T) {
	updates := []Status{StatusDelivered, StatusSent, StatusRead, StatusDelivered}

	perms := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{2, 0, 3, 1},
		{1, 3, 0, 2},
	}
	for _, perm := range perms {
		cur := StatusPending
		for _, i := range perm {
			cur = apply(cur, updates[i])
		}
		assert.Equal(t, StatusRead, cur)
	}
}

func TestTransitionsIdempotent(t *testing.T) {
	cur := StatusPending
	for _, s := range []Status{StatusSent, StatusSent, StatusConfirmed, StatusConfirmed} {
		cur = apply(cur, s)
	}
	assert.Equal(t, StatusConfirmed, cur)
}

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses() {
		assert.True(t, s.Valid())
	}
	assert.False(t, Status("bounced").Valid())
	assert.Equal(t, -2, Status("bounced").Rank())
}
