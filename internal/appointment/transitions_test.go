package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []AppointmentStatus{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusRescheduled}

func TestLoosePolicyAllowsEverything(t *testing.T) {
	p := PolicyFor(false)
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			assert.True(t, p.Allowed(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStrictPolicy(t *testing.T) {
	p := PolicyFor(true)

	allowed := [][2]AppointmentStatus{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusCancelled},
		{StatusConfirmed, StatusCompleted},
		{StatusConfirmed, StatusRescheduled},
		{StatusRescheduled, StatusConfirmed},
		{StatusCompleted, StatusCompleted},
	}
	for _, tr := range allowed {
		assert.True(t, p.Allowed(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]AppointmentStatus{
		{StatusPending, StatusCompleted},
		{StatusCompleted, StatusPending},
		{StatusCancelled, StatusPending},
		{StatusCancelled, StatusConfirmed},
		{StatusConfirmed, StatusPending},
	}
	for _, tr := range denied {
		assert.False(t, p.Allowed(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range allStatuses {
		got, ok := ParseStatus(string(s))
		assert.True(t, ok)
		assert.Equal(t, s, got)
	}
	_, ok := ParseStatus("expired")
	assert.False(t, ok)
}
