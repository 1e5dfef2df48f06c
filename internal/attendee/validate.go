package attendee

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	minChildAge = 0
	maxChildAge = 18
)

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail reports whether s matches the basic address pattern.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// ParseGender accepts Male/Female, M/F in any case, or empty.
func ParseGender(s string) (Gender, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return GenderNone, true
	case "m", "male":
		return GenderMale, true
	case "f", "female":
		return GenderFemale, true
	}
	return GenderNone, false
}

// apply merges f into a and collects every validation problem. Identity,
// timestamps and the photography state machine are handled by the caller.
func (f Fields) apply(a *Attendee, now time.Time) error {
	var errs ValidationErrors

	if f.FirstName != nil {
		a.FirstName = strings.TrimSpace(*f.FirstName)
	}
	if f.LastName != nil {
		a.LastName = strings.TrimSpace(*f.LastName)
	}
	if f.Email != nil {
		a.Email = NormalizeEmail(*f.Email)
	}
	if f.Notes != nil {
		a.Notes = strings.TrimSpace(*f.Notes)
	}
	if f.CheckedIn != nil {
		switch {
		case *f.CheckedIn && !a.CheckedIn:
			a.CheckedIn = true
			a.CheckedInAt = &now
		case !*f.CheckedIn && a.CheckedIn:
			errs.add("checkedIn", "check-in cannot be reverted")
		}
	}
	if f.Children != nil {
		children, cerrs := mergeChildren(a.Children, *f.Children)
		errs = append(errs, cerrs...)
		a.Children = children
	}
	if f.PhotographyEmail != nil {
		a.PhotographyEmail = NormalizeEmail(*f.PhotographyEmail)
	}
	if f.PhotographyNotes != nil {
		a.PhotographyNotes = strings.TrimSpace(*f.PhotographyNotes)
	}
	if f.GuestNames != nil {
		guests := make([]string, 0, len(*f.GuestNames))
		for i, g := range *f.GuestNames {
			g = strings.TrimSpace(g)
			if g == "" {
				errs.add(indexed("guestNames", i), "guest name is required")
				continue
			}
			guests = append(guests, g)
		}
		a.GuestNames = guests
	}
	if f.PhotographyTimeSlot != nil {
		a.PhotographyTimeSlot = strings.TrimSpace(*f.PhotographyTimeSlot)
	}

	if a.FirstName == "" {
		errs.add("firstName", "first name is required")
	}
	if a.LastName == "" {
		errs.add("lastName", "last name is required")
	}
	if a.Email != "" && !ValidEmail(a.Email) {
		errs.add("email", "invalid email format")
	}
	if a.PhotographyEmail != "" && !ValidEmail(a.PhotographyEmail) {
		errs.add("photographyEmail", "invalid email format")
	}
	return errs.err()
}

// mergeChildren replaces the child list. Existing children are matched by id,
// then by name, so ids and verification survive a full-list resend.
func mergeChildren(existing []Child, inputs []ChildInput) ([]Child, ValidationErrors) {
	var errs ValidationErrors
	out := make([]Child, 0, len(inputs))
	current := Attendee{Children: existing}
	used := make(map[string]bool)

	for i, in := range inputs {
		key := in.ID
		if key == "" {
			key = in.Name
		}
		child := Child{}
		if idx := current.childIndex(key); idx >= 0 && !used[existing[idx].ID] {
			child = existing[idx]
		} else {
			child.ID = uuid.NewString()
		}
		field := indexed("children", i)
		if err := child.set(in.Name, in.Age, in.Gender, field); err != nil {
			errs = append(errs, Details(err)...)
			continue
		}
		if hasChildNamed(out, child.Name, "") {
			errs.add(field+".name", "child %q is listed twice", child.Name)
			continue
		}
		used[child.ID] = true
		out = append(out, child)
	}
	return out, errs
}

// set validates and assigns the editable child fields.
func (c *Child) set(name string, age *int, gender, field string) error {
	var errs ValidationErrors
	name = strings.TrimSpace(name)
	if name == "" {
		errs.add(field+".name", "child name is required")
	}
	if age == nil {
		errs.add(field+".age", "age is required")
	} else if *age < minChildAge || *age > maxChildAge {
		errs.add(field+".age", "age must be between %d and %d", minChildAge, maxChildAge)
	}
	g, ok := ParseGender(gender)
	if !ok {
		errs.add(field+".gender", "gender must be Male or Female")
	}
	if len(errs) > 0 {
		return errs
	}
	c.Name = name
	c.Age = *age
	c.Gender = g
	return nil
}

func indexed(field string, i int) string {
	return field + "[" + strconv.Itoa(i) + "]"
}

// hasChildNamed reports a case-insensitive name clash, ignoring the child with
// id skip.
func hasChildNamed(children []Child, name, skip string) bool {
	for _, c := range children {
		if c.ID != skip && strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}
