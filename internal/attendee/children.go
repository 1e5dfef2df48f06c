package attendee

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AddChild appends a child to the attendee. Names must be unique per attendee,
// ignoring case.
func (s *Service) AddChild(ctx context.Context, attendeeID string, in ChildInput) (Attendee, Child, *PhotoSession, error) {
	var added Child
	a, sess, err := s.mutate(ctx, "child-add", attendeeID, func(_ Tx, a *Attendee, _ time.Time) error {
		c := Child{ID: uuid.NewString()}
		if err := c.set(in.Name, in.Age, in.Gender, "child"); err != nil {
			return err
		}
		if hasChildNamed(a.Children, c.Name, "") {
			return invalid("child.name", "child %q already exists", c.Name)
		}
		a.Children = append(a.Children, c)
		added = c
		return nil
	})
	if err != nil {
		return Attendee{}, Child{}, nil, err
	}
	return a, added, sess, nil
}

// UpdateChild edits the child identified by key (id, or name as a fallback).
func (s *Service) UpdateChild(ctx context.Context, attendeeID, key string, p ChildPatch) (Attendee, Child, *PhotoSession, error) {
	var edited Child
	a, sess, err := s.mutate(ctx, "child-update", attendeeID, func(_ Tx, a *Attendee, _ time.Time) error {
		idx := a.childIndex(key)
		if idx < 0 {
			return notFound("child", key)
		}
		c := a.Children[idx]
		name, age, gender := c.Name, c.Age, string(c.Gender)
		if p.Name != nil {
			name = *p.Name
		}
		if p.Age != nil {
			age = *p.Age
		}
		if p.Gender != nil {
			gender = *p.Gender
		}
		if err := c.set(name, &age, gender, "child"); err != nil {
			return err
		}
		if hasChildNamed(a.Children, c.Name, c.ID) {
			return invalid("child.name", "child %q already exists", strings.TrimSpace(name))
		}
		a.Children[idx] = c
		edited = c
		return nil
	})
	if err != nil {
		return Attendee{}, Child{}, nil, err
	}
	return a, edited, sess, nil
}

// RemoveChild deletes the child identified by key.
func (s *Service) RemoveChild(ctx context.Context, attendeeID, key string) (Attendee, *PhotoSession, error) {
	return s.mutate(ctx, "child-remove", attendeeID, func(_ Tx, a *Attendee, _ time.Time) error {
		idx := a.childIndex(key)
		if idx < 0 {
			return notFound("child", key)
		}
		a.Children = append(a.Children[:idx], a.Children[idx+1:]...)
		return nil
	})
}

// VerifyChild marks the child as verified at the door. Verifying twice keeps
// the first timestamp.
func (s *Service) VerifyChild(ctx context.Context, attendeeID, key string) (Attendee, Child, *PhotoSession, error) {
	var verified Child
	a, sess, err := s.mutate(ctx, "child-verify", attendeeID, func(_ Tx, a *Attendee, now time.Time) error {
		idx := a.childIndex(key)
		if idx < 0 {
			return notFound("child", key)
		}
		c := &a.Children[idx]
		if !c.Verified {
			c.Verified = true
			c.VerifiedAt = &now
		}
		verified = *c
		return nil
	})
	if err != nil {
		return Attendee{}, Child{}, nil, err
	}
	return a, verified, sess, nil
}
