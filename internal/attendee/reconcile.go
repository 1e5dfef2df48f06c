package attendee

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eventcheckin/internal/metrics"
)

// desiredSession derives the session an attendee should have. ok is false
// when the attendee holds no slot and therefore must have no session.
func desiredSession(a Attendee, existing *PhotoSession, now time.Time) (PhotoSession, bool) {
	if a.PhotographyTimeSlot == "" {
		return PhotoSession{}, false
	}
	s := PhotoSession{
		ID:                uuid.NewString(),
		AttendeeID:        a.ID,
		TimeSlot:          a.PhotographyTimeSlot,
		Email:             a.DeliveryEmail(),
		Status:            sessionStatus(a.PhotographyStatus),
		TotalParticipants: a.Participants(),
		Notes:             a.PhotographyNotes,
		CompletedAt:       a.PhotographyCompletedAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if existing != nil {
		s.ID = existing.ID
		s.CreatedAt = existing.CreatedAt
		if sameSession(s, *existing) {
			s.UpdatedAt = existing.UpdatedAt
		}
	}
	return s, true
}

func sameSession(a, b PhotoSession) bool {
	return a.TimeSlot == b.TimeSlot &&
		a.Email == b.Email &&
		a.Status == b.Status &&
		a.TotalParticipants == b.TotalParticipants &&
		a.Notes == b.Notes &&
		sameTime(a.CompletedAt, b.CompletedAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

type reconcileOutcome int

const (
	unchanged reconcileOutcome = iota
	created
	updated
	deleted
)

// reconcile brings the stored session of a in line with a.
func reconcile(tx Tx, a Attendee, now time.Time) (reconcileOutcome, error) {
	current, ok, err := tx.Session(a.ID)
	if err != nil {
		return unchanged, err
	}
	var existing *PhotoSession
	if ok {
		existing = &current
	}

	want, keep := desiredSession(a, existing, now)
	switch {
	case !keep && existing == nil:
		return unchanged, nil
	case !keep:
		return deleted, tx.DeleteSession(a.ID)
	case existing == nil:
		return created, tx.PutSession(want)
	case sameSession(want, *existing):
		return unchanged, nil
	default:
		return updated, tx.PutSession(want)
	}
}

// Sweep repairs drift between attendees and sessions: it creates missing
// sessions, rewrites stale ones and removes orphans. Running it twice in a
// row makes no further changes.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	err := s.update(ctx, func(tx Tx) error {
		report = SweepReport{}
		now := s.now()

		attendees, err := tx.Attendees()
		if err != nil {
			return err
		}
		known := make(map[string]struct{}, len(attendees))
		for _, a := range attendees {
			known[a.ID] = struct{}{}
			outcome, err := reconcile(tx, a, now)
			if err != nil {
				return err
			}
			switch outcome {
			case created:
				report.Created++
			case updated:
				report.Updated++
			case deleted:
				report.Deleted++
			}
		}

		sessions, err := tx.Sessions()
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			if _, ok := known[sess.AttendeeID]; ok {
				continue
			}
			if err := tx.DeleteSession(sess.AttendeeID); err != nil {
				return err
			}
			report.Deleted++
		}
		return nil
	})
	if err != nil {
		s.log.Error("reconciliation sweep failed", zap.Error(err))
		return SweepReport{}, err
	}

	metrics.SweepRepairs.WithLabelValues("created").Add(float64(report.Created))
	metrics.SweepRepairs.WithLabelValues("updated").Add(float64(report.Updated))
	metrics.SweepRepairs.WithLabelValues("deleted").Add(float64(report.Deleted))
	if report.Changed() {
		s.log.Info("reconciliation sweep repaired sessions",
			zap.Int("created", report.Created),
			zap.Int("updated", report.Updated),
			zap.Int("deleted", report.Deleted),
		)
	}
	return report, nil
}
