package attendee

import (
	"strings"
	"time"
)

// Gender values accepted for children. Empty means not recorded.
type Gender string

const (
	GenderNone   Gender = ""
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
)

// Child is a minor registered under exactly one attendee.
type Child struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Age        int        `json:"age"`
	Gender     Gender     `json:"gender"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
}

// Attendee is the root aggregate: identity, check-in state, children and the
// photography request that drives the attendee's PhotoSession.
type Attendee struct {
	ID          string     `json:"id"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Email       string     `json:"email"`
	CheckedIn   bool       `json:"checkedIn"`
	CheckedInAt *time.Time `json:"checkedInAt,omitempty"`
	Notes       string     `json:"notes"`
	Children    []Child    `json:"children"`

	PhotographyTimeSlot    string      `json:"photographyTimeSlot"`
	PhotographyEmail       string      `json:"photographyEmail"`
	PhotographyStatus      PhotoStatus `json:"photographyStatus"`
	PhotographyNotes       string      `json:"photographyNotes"`
	PhotographyCompletedAt *time.Time  `json:"photographyCompletedAt,omitempty"`
	GuestNames             []string    `json:"guestNames"`

	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// DeliveryEmail is where photos go: photographyEmail, else the contact email.
func (a Attendee) DeliveryEmail() string {
	if a.PhotographyEmail != "" {
		return a.PhotographyEmail
	}
	return a.Email
}

// Participants counts the attendee, their children and named guests.
func (a Attendee) Participants() int {
	return 1 + len(a.Children) + len(a.GuestNames)
}

// FullName joins first and last name.
func (a Attendee) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// Normalize replaces nil collections so JSON never carries null.
func (a *Attendee) Normalize() {
	if a.Children == nil {
		a.Children = []Child{}
	}
	if a.GuestNames == nil {
		a.GuestNames = []string{}
	}
}

func (a Attendee) clone() Attendee {
	out := a
	out.Children = append([]Child(nil), a.Children...)
	out.GuestNames = append([]string(nil), a.GuestNames...)
	out.Normalize()
	return out
}

// childIndex resolves a child by id first, then by case-insensitive name.
func (a Attendee) childIndex(key string) int {
	key = strings.TrimSpace(key)
	for i, c := range a.Children {
		if c.ID == key {
			return i
		}
	}
	for i, c := range a.Children {
		if strings.EqualFold(c.Name, key) {
			return i
		}
	}
	return -1
}

// SessionStatus is the lifecycle of a stored photo session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionCompleted SessionStatus = "completed"
	SessionVerified  SessionStatus = "verified"
)

// PhotoSession is the dependent record derived from an attendee holding a
// time slot. It is written only by the reconciler.
type PhotoSession struct {
	ID                string        `json:"id"`
	AttendeeID        string        `json:"attendeeId"`
	TimeSlot          string        `json:"timeSlot"`
	Email             string        `json:"email"`
	Status            SessionStatus `json:"status"`
	TotalParticipants int           `json:"totalParticipants"`
	Notes             string        `json:"notes"`
	CompletedAt       *time.Time    `json:"completedAt,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// ChildInput is the client payload for a child. Verification is not part of
// it; that only happens through VerifyChild.
type ChildInput struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Age    *int   `json:"age"`
	Gender string `json:"gender"`
}

// ChildPatch updates a child in place; absent fields are kept.
type ChildPatch struct {
	Name   *string `json:"name"`
	Age    *int    `json:"age"`
	Gender *string `json:"gender"`
}

// Fields is the explicit attendee schema accepted at the API boundary. Nil
// pointers mean "not sent", which is what gives updates merge semantics.
type Fields struct {
	FirstName           *string       `json:"firstName"`
	LastName            *string       `json:"lastName"`
	Email               *string       `json:"email"`
	CheckedIn           *bool         `json:"checkedIn"`
	Notes               *string       `json:"notes"`
	Children            *[]ChildInput `json:"children"`
	PhotographyTimeSlot *string       `json:"photographyTimeSlot"`
	PhotographyEmail    *string       `json:"photographyEmail"`
	PhotographyStatus   *PhotoStatus  `json:"photographyStatus"`
	PhotographyNotes    *string       `json:"photographyNotes"`
	GuestNames          *[]string     `json:"guestNames"`
}

// BulkItem is one entry of a bulk update: an id plus the fields to merge.
type BulkItem struct {
	ID string `json:"id"`
	Fields
}

// BulkResult reports one bulk item.
type BulkResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// BulkReport aggregates a bulk update.
type BulkReport struct {
	Count   int          `json:"count"`
	Failed  int          `json:"failed"`
	Results []BulkResult `json:"results"`
}

// SweepReport counts the repairs made by a reconciliation sweep.
type SweepReport struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// Changed reports whether the sweep repaired anything.
func (r SweepReport) Changed() bool {
	return r.Created+r.Updated+r.Deleted > 0
}

// StringPtr is a small helper for building Fields literals.
func StringPtr(s string) *string { return &s }
