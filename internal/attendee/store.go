package attendee

import "context"

// Store persists attendees and their photo sessions. Update runs fn under the
// backend's exclusive lock or transaction: if fn returns an error nothing it
// did is persisted. View gives a consistent read.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
}

// Tx is the read/write surface available inside View and Update. Writes made
// through a View Tx fail.
type Tx interface {
	Attendees() ([]Attendee, error)
	// Attendee returns ErrNotFound when id is unknown.
	Attendee(id string) (Attendee, error)
	PutAttendee(a Attendee) error
	DeleteAttendee(id string) error

	// EmailOwner returns the id of the attendee using email, or "".
	EmailOwner(email string) (string, error)
	// SlotCounts returns the number of attendees holding each slot.
	SlotCounts() (map[string]int, error)

	Sessions() ([]PhotoSession, error)
	// Session reports false when the attendee has no session.
	Session(attendeeID string) (PhotoSession, bool, error)
	PutSession(s PhotoSession) error
	DeleteSession(attendeeID string) error
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
