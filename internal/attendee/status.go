package attendee

// PhotoStatus is the attendee-side photography state. The zero value means
// no session was ever requested.
type PhotoStatus string

const (
	StatusNone      PhotoStatus = ""
	StatusPending   PhotoStatus = "pending"
	StatusScheduled PhotoStatus = "scheduled"
	StatusCompleted PhotoStatus = "completed"
	StatusVerified  PhotoStatus = "verified"
	StatusCancelled PhotoStatus = "cancelled"
	StatusDeclined  PhotoStatus = "declined"
)

var transitions = map[PhotoStatus][]PhotoStatus{
	StatusNone:      {StatusPending, StatusScheduled},
	StatusPending:   {StatusScheduled, StatusCancelled, StatusDeclined},
	StatusScheduled: {StatusPending, StatusCompleted, StatusCancelled, StatusDeclined},
	StatusCompleted: {StatusVerified, StatusScheduled},
}

// Valid reports whether s is a known status.
func (s PhotoStatus) Valid() bool {
	switch s {
	case StatusNone, StatusPending, StatusScheduled, StatusCompleted,
		StatusVerified, StatusCancelled, StatusDeclined:
		return true
	}
	return false
}

// NeedsSlot is true for the states that only make sense with a held slot.
func (s PhotoStatus) NeedsSlot() bool {
	return s == StatusScheduled || s == StatusCompleted || s == StatusVerified
}

// Releases is true for the states that give the slot back.
func (s PhotoStatus) Releases() bool {
	return s == StatusCancelled || s == StatusDeclined
}

// Taken reports whether the photo has been taken.
func (s PhotoStatus) Taken() bool {
	return s == StatusCompleted || s == StatusVerified
}

// CanTransition reports whether from -> to is allowed. Staying put is always
// allowed. scheduled -> pending only happens when the slot is released.
func CanTransition(from, to PhotoStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to PhotoStatus) error {
	if !to.Valid() {
		return invalid("photographyStatus", "unknown status %q", to)
	}
	if !CanTransition(from, to) {
		if from == StatusNone {
			return invalid("photographyStatus", "cannot move to %s before a session is requested", to)
		}
		return invalid("photographyStatus", "cannot move from %s to %s", from, to)
	}
	return nil
}

// sessionStatus maps the attendee state onto the stored session state.
func sessionStatus(s PhotoStatus) SessionStatus {
	switch s {
	case StatusCompleted:
		return SessionCompleted
	case StatusVerified:
		return SessionVerified
	default:
		return SessionScheduled
	}
}

func (s PhotoStatus) String() string {
	if s == StatusNone {
		return "none"
	}
	return string(s)
}
