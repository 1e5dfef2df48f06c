package attendee

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSlotPlan(t *testing.T) {
	p := DefaultSlotPlan()
	values := p.Values()
	require.Len(t, values, 16)
	assert.Equal(t, "18:00", values[0])
	assert.Equal(t, "21:45", values[15])
	assert.Equal(t, 5, p.Capacity())
	assert.True(t, p.Contains("19:30"))
	assert.False(t, p.Contains("22:00"))
	assert.False(t, p.Contains("7:30 PM"))
}

func TestNewSlotPlanRejectsBadInput(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		step       time.Duration
		capacity   int
	}{
		{"bad start", "6pm", "22:00", 15 * time.Minute, 5},
		{"end before start", "22:00", "18:00", 15 * time.Minute, 5},
		{"zero step", "18:00", "22:00", 0, 5},
		{"sub-minute step", "18:00", "22:00", 90 * time.Second, 5},
		{"zero capacity", "18:00", "22:00", 15 * time.Minute, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSlotPlan(tt.start, tt.end, tt.step, tt.capacity)
			assert.Error(t, err)
		})
	}
}

func TestAvailabilityAndAdmit(t *testing.T) {
	p, err := NewSlotPlan("18:00", "19:00", 30*time.Minute, 2)
	require.NoError(t, err)

	counts := map[string]int{"18:00": 2, "18:30": 1, "23:00": 4}
	slots := p.Availability(counts)
	require.Len(t, slots, 2)
	assert.Equal(t, TimeSlot{Time: "18:00", Display: "6:00 PM", ReservationCount: 2, Capacity: 2, Available: false}, slots[0])
	assert.True(t, slots[1].Available)

	assert.ErrorIs(t, p.admit(counts, "18:00"), ErrSlotUnavailable)
	assert.NoError(t, p.admit(counts, "18:30"))
	assert.ErrorIs(t, p.admit(counts, "23:00"), ErrValidation)
}

func TestDisplaySlot(t *testing.T) {
	assert.Equal(t, "6:15 PM", DisplaySlot("18:15"))
	assert.Equal(t, "12:00 PM", DisplaySlot("12:00"))
	assert.Equal(t, "soon", DisplaySlot("soon"))
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]PhotoStatus{
		{StatusNone, StatusPending},
		{StatusNone, StatusScheduled},
		{StatusPending, StatusDeclined},
		{StatusScheduled, StatusCompleted},
		{StatusCompleted, StatusVerified},
		{StatusCompleted, StatusScheduled},
		{StatusVerified, StatusVerified},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
	denied := [][2]PhotoStatus{
		{StatusNone, StatusCompleted},
		{StatusPending, StatusCompleted},
		{StatusVerified, StatusScheduled},
		{StatusCancelled, StatusScheduled},
		{StatusDeclined, StatusPending},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	err := checkTransition(StatusPending, PhotoStatus("lost"))
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "photographyStatus", Details(err)[0].Field)
}

func TestSettlePhotography(t *testing.T) {
	now := time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)

	t.Run("slot schedules", func(t *testing.T) {
		a := &Attendee{PhotographyTimeSlot: "18:00"}
		require.NoError(t, settlePhotography(StatusNone, "", a, nil, now))
		assert.Equal(t, StatusScheduled, a.PhotographyStatus)
	})

	t.Run("losing the slot falls back to pending", func(t *testing.T) {
		a := &Attendee{PhotographyStatus: StatusScheduled}
		require.NoError(t, settlePhotography(StatusScheduled, "18:00", a, nil, now))
		assert.Equal(t, StatusPending, a.PhotographyStatus)
	})

	t.Run("declining releases", func(t *testing.T) {
		a := &Attendee{PhotographyStatus: StatusPending}
		declined := StatusDeclined
		require.NoError(t, settlePhotography(StatusPending, "", a, &declined, now))
		assert.Empty(t, a.PhotographyTimeSlot)
		assert.Equal(t, StatusDeclined, a.PhotographyStatus)
	})

	t.Run("cancelling keeps no held slot", func(t *testing.T) {
		a := &Attendee{PhotographyTimeSlot: "18:00", PhotographyStatus: StatusScheduled}
		cancelled := StatusCancelled
		require.NoError(t, settlePhotography(StatusScheduled, "18:00", a, &cancelled, now))
		assert.Empty(t, a.PhotographyTimeSlot)
	})

	t.Run("closed requests reject a new slot", func(t *testing.T) {
		for _, closed := range []PhotoStatus{StatusCancelled, StatusDeclined} {
			a := &Attendee{PhotographyTimeSlot: "18:30", PhotographyStatus: closed}
			err := settlePhotography(closed, "", a, nil, now)
			assert.True(t, errors.Is(err, ErrValidation), closed)
		}
	})

	t.Run("pending needs no slot", func(t *testing.T) {
		a := &Attendee{}
		pending := StatusPending
		require.NoError(t, settlePhotography(StatusNone, "", a, &pending, now))
		assert.Equal(t, StatusPending, a.PhotographyStatus)
	})

	t.Run("completion stamps once", func(t *testing.T) {
		a := &Attendee{PhotographyTimeSlot: "18:00", PhotographyStatus: StatusScheduled, Email: "a@b.co"}
		completed := StatusCompleted
		require.NoError(t, settlePhotography(StatusScheduled, "18:00", a, &completed, now))
		require.NotNil(t, a.PhotographyCompletedAt)

		later := now.Add(time.Hour)
		verified := StatusVerified
		require.NoError(t, settlePhotography(StatusCompleted, "18:00", a, &verified, later))
		assert.True(t, a.PhotographyCompletedAt.Equal(now))
	})

	t.Run("verified needs an email", func(t *testing.T) {
		a := &Attendee{PhotographyTimeSlot: "18:00", PhotographyStatus: StatusCompleted}
		verified := StatusVerified
		err := settlePhotography(StatusCompleted, "18:00", a, &verified, now)
		assert.True(t, errors.Is(err, ErrValidation))
	})
}

func TestMergeChildrenReportsDuplicates(t *testing.T) {
	age := 5
	_, errs := mergeChildren(nil, []ChildInput{
		{Name: "Kim", Age: &age},
		{Name: "kim ", Age: &age},
	})
	require.Len(t, errs, 1)
	assert.Equal(t, "children[1].name", errs[0].Field)
}
