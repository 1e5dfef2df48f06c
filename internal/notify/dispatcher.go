// Package notify turns photo queue messages into emails to attendees.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"eventcheckin/internal/attendee"
	"eventcheckin/internal/metrics"
	"eventcheckin/internal/queue"
)

// Lookup loads the current state of an attendee.
type Lookup interface {
	Get(ctx context.Context, id string) (attendee.Attendee, error)
}

// Dispatcher consumes photo notifications and mails the delivery address.
type Dispatcher struct {
	attendees Lookup
	mailer    Mailer
	log       *zap.Logger
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(attendees Lookup, mailer Mailer, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{attendees: attendees, mailer: mailer, log: log}
}

// Run handles messages until ctx ends or the queue closes its channel.
func (d *Dispatcher) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	d.log.Info("notification dispatcher started")
	for msg := range messages {
		if err := d.Handle(ctx, msg); err != nil {
			d.log.Error("notification failed",
				zap.String("type", msg.Type),
				zap.String("attendee_id", msg.AttendeeID),
				zap.Error(err),
			)
		}
	}
	d.log.Info("notification dispatcher stopped")
	return nil
}

// Handle sends the email for one message. Messages about deleted attendees,
// attendees without a delivery address and stale messages (the status moved
// on since publishing) are dropped without error.
func (d *Dispatcher) Handle(ctx context.Context, msg queue.Message) error {
	a, err := d.attendees.Get(ctx, msg.AttendeeID)
	if errors.Is(err, attendee.ErrNotFound) {
		d.skip(msg, "attendee deleted")
		return nil
	}
	if err != nil {
		metrics.Notifications.WithLabelValues(msg.Type, "error").Inc()
		return err
	}

	var email Email
	switch msg.Type {
	case queue.PhotoScheduled:
		if a.PhotographyStatus != attendee.StatusScheduled {
			d.skip(msg, "no longer scheduled")
			return nil
		}
		email = scheduledEmail(a)
	case queue.PhotoCompleted:
		if !a.PhotographyStatus.Taken() {
			d.skip(msg, "no longer completed")
			return nil
		}
		email = completedEmail(a)
	default:
		d.skip(msg, "unknown type")
		return nil
	}
	if email.To == "" {
		d.skip(msg, "no delivery email")
		return nil
	}

	if err := d.mailer.Send(ctx, email); err != nil {
		metrics.Notifications.WithLabelValues(msg.Type, "error").Inc()
		return err
	}
	metrics.Notifications.WithLabelValues(msg.Type, "sent").Inc()
	return nil
}

func (d *Dispatcher) skip(msg queue.Message, reason string) {
	metrics.Notifications.WithLabelValues(msg.Type, "skipped").Inc()
	d.log.Debug("notification skipped",
		zap.String("type", msg.Type),
		zap.String("attendee_id", msg.AttendeeID),
		zap.String("reason", reason),
	)
}

func scheduledEmail(a attendee.Attendee) Email {
	when := attendee.DisplaySlot(a.PhotographyTimeSlot)
	party := partyLine(a)
	text := fmt.Sprintf("Hi %s,\n\nYour family photo is booked for %s.\n%s\n\nPlease arrive a few minutes early.\n",
		a.FirstName, when, party)
	return Email{
		To:      a.DeliveryEmail(),
		Subject: "Your photo session at " + when,
		Text:    text,
		HTML: fmt.Sprintf("<p>Hi %s,</p><p>Your family photo is booked for <strong>%s</strong>.</p><p>%s</p><p>Please arrive a few minutes early.</p>",
			html.EscapeString(a.FirstName), html.EscapeString(when), html.EscapeString(party)),
	}
}

func completedEmail(a attendee.Attendee) Email {
	text := fmt.Sprintf("Hi %s,\n\nThanks for joining us! Your photos have been taken and will be sent to this address once they are ready.\n",
		a.FirstName)
	return Email{
		To:      a.DeliveryEmail(),
		Subject: "Your photos are on their way",
		Text:    text,
		HTML: fmt.Sprintf("<p>Hi %s,</p><p>Thanks for joining us! Your photos have been taken and will be sent to this address once they are ready.</p>",
			html.EscapeString(a.FirstName)),
	}
}

func partyLine(a attendee.Attendee) string {
	names := []string{a.FullName()}
	for _, c := range a.Children {
		names = append(names, c.Name)
	}
	names = append(names, a.GuestNames...)
	return fmt.Sprintf("Party of %d: %s.", a.Participants(), strings.Join(names, ", "))
}
