package attendee

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"eventcheckin/internal/metrics"
	"eventcheckin/internal/queue"
)

// Publisher receives photo notifications after a mutation commits.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Service is the single authoritative implementation of attendee, child,
// slot and photo-session rules. Every mutation validates, persists and
// reconciles inside one Store.Update call.
type Service struct {
	store   Store
	plan    SlotPlan
	events  Publisher
	log     *zap.Logger
	now     func() time.Time
	retries uint64
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sends photo.scheduled / photo.completed messages to p.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.events = p } }

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRetries sets how many times lock and transaction failures are retried.
func WithRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.retries = uint64(n)
		}
	}
}

// NewService creates a service backed by store using plan for time slots.
func NewService(store Store, plan SlotPlan, opts ...Option) *Service {
	s := &Service{
		store:   store,
		plan:    plan,
		log:     zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
		retries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Plan returns the slot plan the service allocates from.
func (s *Service) Plan() SlotPlan { return s.plan }

// Create validates f, assigns an id and persists the new attendee together
// with its photo session when a slot was requested. The session is nil when
// no slot is held.
func (s *Service) Create(ctx context.Context, f Fields) (Attendee, *PhotoSession, error) {
	var out Attendee
	var session *PhotoSession
	err := s.update(ctx, func(tx Tx) error {
		now := s.now()
		a := Attendee{ID: uuid.NewString(), CreatedAt: now}
		a.Normalize()
		if err := s.edit(&a, f, now); err != nil {
			return err
		}
		if err := s.commit(tx, Attendee{}, &a, now); err != nil {
			return err
		}
		sess, err := storedSession(tx, a.ID)
		if err != nil {
			return err
		}
		out, session = a, sess
		return nil
	})
	s.observe("create", err)
	if err != nil {
		return Attendee{}, nil, err
	}
	s.announce(ctx, Attendee{}, out)
	return out, session, nil
}

// Get returns one attendee or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (Attendee, error) {
	var out Attendee
	err := s.view(ctx, func(tx Tx) error {
		a, err := tx.Attendee(id)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return Attendee{}, err
	}
	out.Normalize()
	return out, nil
}

// List returns every attendee in store order.
func (s *Service) List(ctx context.Context) ([]Attendee, error) {
	var out []Attendee
	err := s.view(ctx, func(tx Tx) error {
		all, err := tx.Attendees()
		if err != nil {
			return err
		}
		out = all
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Normalize()
	}
	if out == nil {
		out = []Attendee{}
	}
	return out, nil
}

// Update merges f into the stored attendee. Fields absent from f are kept.
func (s *Service) Update(ctx context.Context, id string, f Fields) (Attendee, *PhotoSession, error) {
	return s.mutate(ctx, "update", id, func(_ Tx, a *Attendee, now time.Time) error {
		return s.edit(a, f, now)
	})
}

// Delete removes the attendee, its children and its photo session.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.update(ctx, func(tx Tx) error {
		if _, err := tx.Attendee(id); err != nil {
			return err
		}
		if err := tx.DeleteSession(id); err != nil {
			return err
		}
		return tx.DeleteAttendee(id)
	})
	s.observe("delete", err)
	return err
}

// CheckIn marks the attendee present. Checking in twice keeps the first time.
func (s *Service) CheckIn(ctx context.Context, id string) (Attendee, *PhotoSession, error) {
	return s.mutate(ctx, "checkin", id, func(_ Tx, a *Attendee, now time.Time) error {
		if !a.CheckedIn {
			a.CheckedIn = true
			a.CheckedInAt = &now
		}
		return nil
	})
}

// PhotoRequest is the photo-session payload. PhotoTime and IsPhotoTaken are
// the field names older clients send.
type PhotoRequest struct {
	TimeSlot     *string      `json:"timeSlot"`
	Email        *string      `json:"email"`
	Status       *PhotoStatus `json:"status"`
	Notes        *string      `json:"notes"`
	GuestNames   *[]string    `json:"guestNames"`
	PhotoTime    *string      `json:"photoTime"`
	IsPhotoTaken *bool        `json:"isPhotoTaken"`
}

func (r PhotoRequest) fields() Fields {
	f := Fields{
		PhotographyTimeSlot: r.TimeSlot,
		PhotographyEmail:    r.Email,
		PhotographyStatus:   r.Status,
		PhotographyNotes:    r.Notes,
		GuestNames:          r.GuestNames,
	}
	if f.PhotographyTimeSlot == nil {
		f.PhotographyTimeSlot = r.PhotoTime
	}
	return f
}

// SchedulePhoto applies a photo-session request and returns the attendee with
// its reconciled session (nil when no slot is held).
func (s *Service) SchedulePhoto(ctx context.Context, id string, req PhotoRequest) (Attendee, *PhotoSession, error) {
	return s.mutate(ctx, "photo-session", id, func(_ Tx, a *Attendee, now time.Time) error {
		if err := s.edit(a, req.fields(), now); err != nil {
			return err
		}
		if req.Status != nil || req.IsPhotoTaken == nil {
			return nil
		}
		taken := *req.IsPhotoTaken
		switch {
		case taken && !a.PhotographyStatus.Taken():
			st := StatusCompleted
			return s.edit(a, Fields{PhotographyStatus: &st}, now)
		case !taken && a.PhotographyStatus == StatusCompleted:
			st := StatusScheduled
			return s.edit(a, Fields{PhotographyStatus: &st}, now)
		}
		return nil
	})
}

// Session returns the stored photo session of an attendee.
func (s *Service) Session(ctx context.Context, attendeeID string) (PhotoSession, error) {
	var out PhotoSession
	err := s.view(ctx, func(tx Tx) error {
		if _, err := tx.Attendee(attendeeID); err != nil {
			return err
		}
		sess, ok, err := tx.Session(attendeeID)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("photo session for attendee", attendeeID)
		}
		out = sess
		return nil
	})
	return out, err
}

// Sessions lists every stored photo session.
func (s *Service) Sessions(ctx context.Context) ([]PhotoSession, error) {
	var out []PhotoSession
	err := s.view(ctx, func(tx Tx) error {
		all, err := tx.Sessions()
		if err != nil {
			return err
		}
		out = all
		return nil
	})
	if out == nil && err == nil {
		out = []PhotoSession{}
	}
	return out, err
}

// ListSlots returns every slot of the plan with live reservation counts.
func (s *Service) ListSlots(ctx context.Context) ([]TimeSlot, error) {
	var counts map[string]int
	err := s.view(ctx, func(tx Tx) error {
		c, err := tx.SlotCounts()
		if err != nil {
			return err
		}
		counts = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.plan.Availability(counts), nil
}

// Reserve gives the attendee slot, replacing any slot they hold. The new
// slot is checked before the old one is released; on failure the attendee
// keeps the old slot. Reserving a held slot again is a no-op.
func (s *Service) Reserve(ctx context.Context, id, slot string) (Attendee, *PhotoSession, error) {
	return s.mutate(ctx, "reserve", id, func(_ Tx, a *Attendee, now time.Time) error {
		if slot == "" {
			return invalid("timeSlot", "time slot is required")
		}
		if a.PhotographyTimeSlot == slot {
			return nil
		}
		return s.edit(a, Fields{PhotographyTimeSlot: &slot}, now)
	})
}

// Release frees the attendee's slot. A scheduled request falls back to
// pending. Releasing when no slot is held is a no-op.
func (s *Service) Release(ctx context.Context, id string) (Attendee, *PhotoSession, error) {
	return s.mutate(ctx, "release", id, func(_ Tx, a *Attendee, now time.Time) error {
		if a.PhotographyTimeSlot == "" {
			return nil
		}
		empty := ""
		return s.edit(a, Fields{PhotographyTimeSlot: &empty}, now)
	})
}

// BulkUpdate applies every item in its own transaction. A failing item does
// not undo the others; each outcome is reported.
func (s *Service) BulkUpdate(ctx context.Context, items []BulkItem) BulkReport {
	report := BulkReport{Results: make([]BulkResult, 0, len(items))}
	for _, item := range items {
		res := BulkResult{ID: item.ID}
		var err error
		if item.ID == "" {
			err = invalid("id", "id is required")
		} else {
			_, _, err = s.Update(ctx, item.ID, item.Fields)
		}
		if err != nil {
			res.Code = ErrorCode(err)
			res.Error = err.Error()
			report.Failed++
		} else {
			res.OK = true
			report.Count++
		}
		report.Results = append(report.Results, res)
	}
	if report.Failed > 0 {
		s.log.Warn("bulk update partially failed",
			zap.Int("applied", report.Count),
			zap.Int("failed", report.Failed),
		)
	}
	return report
}

type mutation func(tx Tx, a *Attendee, now time.Time) error

// mutate is the read-modify-write path shared by every single-attendee
// operation: load, apply fn, enforce invariants, persist, reconcile.
func (s *Service) mutate(ctx context.Context, op, id string, fn mutation) (Attendee, *PhotoSession, error) {
	var before, after Attendee
	var session *PhotoSession
	err := s.update(ctx, func(tx Tx) error {
		prev, err := tx.Attendee(id)
		if err != nil {
			return err
		}
		prev.Normalize()
		now := s.now()
		next := prev.clone()
		if err := fn(tx, &next, now); err != nil {
			return err
		}
		if err := s.commit(tx, prev, &next, now); err != nil {
			return err
		}
		sess, err := storedSession(tx, id)
		if err != nil {
			return err
		}
		before, after, session = prev, next, sess
		return nil
	})
	s.observe(op, err)
	if err != nil {
		return Attendee{}, nil, err
	}
	s.announce(ctx, before, after)
	return after, session, nil
}

// edit applies f and settles the photography state machine.
func (s *Service) edit(a *Attendee, f Fields, now time.Time) error {
	prevStatus, prevSlot := a.PhotographyStatus, a.PhotographyTimeSlot
	var errs ValidationErrors
	if err := f.apply(a, now); err != nil {
		errs = append(errs, Details(err)...)
	}
	if slot := a.PhotographyTimeSlot; slot != "" && slot != prevSlot && !s.plan.Contains(slot) {
		errs.add("photographyTimeSlot", "%q is not an available time slot", slot)
	}
	if len(errs) > 0 {
		return errs
	}
	return settlePhotography(prevStatus, prevSlot, a, f.PhotographyStatus, now)
}

// settlePhotography moves the attendee to its next photography status and
// enforces the slot/email rules that go with it.
func settlePhotography(prevStatus PhotoStatus, prevSlot string, a *Attendee, requested *PhotoStatus, now time.Time) error {
	target := prevStatus
	if requested != nil {
		target = *requested
	} else {
		switch {
		case a.PhotographyTimeSlot != "" && (target == StatusNone || target == StatusPending):
			target = StatusScheduled
		case a.PhotographyTimeSlot == "" && target == StatusScheduled:
			target = StatusPending
		}
	}
	if err := checkTransition(prevStatus, target); err != nil {
		return err
	}

	if target.Releases() {
		if a.PhotographyTimeSlot != "" && a.PhotographyTimeSlot != prevSlot {
			return invalid("photographyTimeSlot", "a %s photo request cannot hold a time slot", target)
		}
		a.PhotographyTimeSlot = ""
	}
	if prevStatus.Taken() && target.Taken() && a.PhotographyTimeSlot != prevSlot {
		return invalid("photographyTimeSlot", "the photo was already taken; the time slot cannot change")
	}
	if target.NeedsSlot() && a.PhotographyTimeSlot == "" {
		return invalid("photographyTimeSlot", "a time slot is required for a %s session", target)
	}
	if target == StatusNone && a.PhotographyTimeSlot != "" {
		return invalid("photographyStatus", "a status is required when a time slot is set")
	}
	if target.Taken() && a.DeliveryEmail() == "" {
		return invalid("photographyEmail", "a delivery email is required to complete a photo session")
	}

	switch {
	case target == StatusCompleted && prevStatus != StatusCompleted:
		a.PhotographyCompletedAt = &now
	case !target.Taken():
		a.PhotographyCompletedAt = nil
	}
	a.PhotographyStatus = target
	return nil
}

// commit enforces the cross-attendee invariants (email uniqueness and slot
// capacity) for the fields that changed since prev, then writes the attendee
// and reconciles its session.
func (s *Service) commit(tx Tx, prev Attendee, a *Attendee, now time.Time) error {
	if a.Email != "" && a.Email != prev.Email {
		owner, err := tx.EmailOwner(a.Email)
		if err != nil {
			return err
		}
		if owner != "" && owner != a.ID {
			return fmt.Errorf("%s: %w", a.Email, ErrDuplicateEmail)
		}
	}
	if slot := a.PhotographyTimeSlot; slot != "" && slot != prev.PhotographyTimeSlot {
		counts, err := tx.SlotCounts()
		if err != nil {
			return err
		}
		if err := s.plan.admit(counts, slot); err != nil {
			metrics.SlotReservations.WithLabelValues("rejected").Inc()
			return err
		}
		metrics.SlotReservations.WithLabelValues("reserved").Inc()
	}

	a.LastUpdated = now
	a.Normalize()
	if err := tx.PutAttendee(*a); err != nil {
		return err
	}
	_, err := reconcile(tx, *a, now)
	return err
}

// storedSession reads the attendee's session inside tx, nil when none.
func storedSession(tx Tx, attendeeID string) (*PhotoSession, error) {
	sess, ok, err := tx.Session(attendeeID)
	if err != nil || !ok {
		return nil, err
	}
	return &sess, nil
}

// announce publishes photo notifications for status changes. Failures are
// logged; the mutation has already committed.
func (s *Service) announce(ctx context.Context, before, after Attendee) {
	if s.events == nil || before.PhotographyStatus == after.PhotographyStatus {
		return
	}
	var kind string
	switch after.PhotographyStatus {
	case StatusScheduled:
		kind = queue.PhotoScheduled
	case StatusCompleted:
		kind = queue.PhotoCompleted
	default:
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	msg := queue.Message{Type: kind, AttendeeID: after.ID, At: after.LastUpdated}
	if err := s.events.Publish(pubCtx, msg); err != nil {
		s.log.Warn("photo notification publish failed",
			zap.String("type", kind),
			zap.String("attendee_id", after.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) update(ctx context.Context, fn func(Tx) error) error {
	return s.retry(ctx, func() error { return s.store.Update(ctx, fn) })
}

func (s *Service) view(ctx context.Context, fn func(Tx) error) error {
	return s.retry(ctx, func() error { return s.store.View(ctx, fn) })
}

// retry re-runs op on lock and transaction failures with exponential backoff.
// Domain errors are returned at once.
func (s *Service) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond

	attempt := func() error {
		err := op()
		if err == nil || Retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("store operation failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, s.retries), ctx)
	return backoff.RetryNotify(attempt, b, notify)
}

// Retryable reports whether err is a storage contention or I/O failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrTransaction)
}

func (s *Service) observe(op string, err error) {
	metrics.Mutations.WithLabelValues(op, outcome(err)).Inc()
	if err != nil && Retryable(err) {
		s.log.Error("attendee mutation failed", zap.String("op", op), zap.Error(err))
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return ErrorCode(err)
}

// ErrorCode maps an error to its machine-readable API code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrDuplicateEmail):
		return "DUPLICATE_EMAIL"
	case errors.Is(err, ErrSlotUnavailable):
		return "SLOT_UNAVAILABLE"
	case errors.Is(err, ErrLockTimeout):
		return "LOCK_TIMEOUT"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "TIMEOUT"
	default:
		return "TRANSACTION_ERROR"
	}
}
