package attendee

import (
	"fmt"
	"time"
)

// TimeSlot is one slot of the event window with its live reservation count.
// It is always computed from stored attendees, never persisted.
type TimeSlot struct {
	Time             string `json:"time"`
	Display          string `json:"display"`
	ReservationCount int    `json:"reservationCount"`
	Capacity         int    `json:"capacity"`
	Available        bool   `json:"available"`
}

// SlotPlan is the fixed grid of photo slots for the event.
type SlotPlan struct {
	values   []string
	index    map[string]struct{}
	capacity int
}

const slotLayout = "15:04"

// NewSlotPlan slices [start, end) into step-sized slots, e.g. 18:00-22:00 by
// 15 minutes gives 16 slots.
func NewSlotPlan(start, end string, step time.Duration, capacity int) (SlotPlan, error) {
	from, err := time.Parse(slotLayout, start)
	if err != nil {
		return SlotPlan{}, fmt.Errorf("slot plan start %q: %w", start, err)
	}
	to, err := time.Parse(slotLayout, end)
	if err != nil {
		return SlotPlan{}, fmt.Errorf("slot plan end %q: %w", end, err)
	}
	if !to.After(from) {
		return SlotPlan{}, fmt.Errorf("slot plan end %s must be after start %s", end, start)
	}
	if step <= 0 || step%time.Minute != 0 {
		return SlotPlan{}, fmt.Errorf("slot interval %s must be a positive whole number of minutes", step)
	}
	if capacity <= 0 {
		return SlotPlan{}, fmt.Errorf("slot capacity must be positive, got %d", capacity)
	}

	p := SlotPlan{index: make(map[string]struct{}), capacity: capacity}
	for t := from; t.Before(to); t = t.Add(step) {
		v := t.Format(slotLayout)
		p.values = append(p.values, v)
		p.index[v] = struct{}{}
	}
	return p, nil
}

// DefaultSlotPlan is the 18:00-22:00 window, 15-minute slots, five per slot.
func DefaultSlotPlan() SlotPlan {
	p, err := NewSlotPlan("18:00", "22:00", 15*time.Minute, 5)
	if err != nil {
		panic(err)
	}
	return p
}

// Values returns the slot values in chronological order.
func (p SlotPlan) Values() []string {
	return append([]string(nil), p.values...)
}

// Capacity is the number of attendees one slot holds.
func (p SlotPlan) Capacity() int { return p.capacity }

// Contains reports whether v is one of the plan's slots.
func (p SlotPlan) Contains(v string) bool {
	_, ok := p.index[v]
	return ok
}

// Availability attaches counts to every slot. Counts for values outside the
// plan are ignored.
func (p SlotPlan) Availability(counts map[string]int) []TimeSlot {
	out := make([]TimeSlot, 0, len(p.values))
	for _, v := range p.values {
		n := counts[v]
		out = append(out, TimeSlot{
			Time:             v,
			Display:          DisplaySlot(v),
			ReservationCount: n,
			Capacity:         p.capacity,
			Available:        n < p.capacity,
		})
	}
	return out
}

// admit checks that slot can take one more attendee. counts must not include
// the attendee being admitted.
func (p SlotPlan) admit(counts map[string]int, slot string) error {
	if !p.Contains(slot) {
		return invalid("photographyTimeSlot", "%q is not an available time slot", slot)
	}
	if counts[slot] >= p.capacity {
		return fmt.Errorf("slot %s holds %d of %d: %w", slot, counts[slot], p.capacity, ErrSlotUnavailable)
	}
	return nil
}

// DisplaySlot renders "18:15" as "6:15 PM". Unknown formats pass through.
func DisplaySlot(v string) string {
	t, err := time.Parse(slotLayout, v)
	if err != nil {
		return v
	}
	return t.Format("3:04 PM")
}
