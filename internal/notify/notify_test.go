package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"eventcheckin/internal/attendee"
	"eventcheckin/internal/queue"
)

type lookup map[string]attendee.Attendee

func (l lookup) Get(_ context.Context, id string) (attendee.Attendee, error) {
	a, ok := l[id]
	if !ok {
		return attendee.Attendee{}, attendee.ErrNotFound
	}
	return a, nil
}

type recorder struct {
	mu   sync.Mutex
	sent []Email
	err  error
}

func (r *recorder) Send(_ context.Context, e Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, e)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func scheduled() attendee.Attendee {
	return attendee.Attendee{
		ID: "a1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com",
		PhotographyEmail:    "photos@example.com",
		PhotographyTimeSlot: "18:15",
		PhotographyStatus:   attendee.StatusScheduled,
		Children:            []attendee.Child{{ID: "c1", Name: "Byron", Age: 7}},
	}
}

func TestHandleScheduled(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(lookup{"a1": scheduled()}, rec, zap.NewNop())

	require.NoError(t, d.Handle(context.Background(), queue.Message{Type: queue.PhotoScheduled, AttendeeID: "a1"}))
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "photos@example.com", rec.sent[0].To)
	assert.Contains(t, rec.sent[0].Subject, "6:15 PM")
	assert.Contains(t, rec.sent[0].Text, "Party of 2: Ada Lovelace, Byron.")
}

func TestHandleSkips(t *testing.T) {
	noEmail := scheduled()
	noEmail.Email, noEmail.PhotographyEmail = "", ""
	moved := scheduled()
	moved.PhotographyStatus = attendee.StatusCancelled

	rec := &recorder{}
	d := NewDispatcher(lookup{"no-email": noEmail, "moved": moved}, rec, zap.NewNop())
	ctx := context.Background()

	for _, msg := range []queue.Message{
		{Type: queue.PhotoScheduled, AttendeeID: "gone"},
		{Type: queue.PhotoScheduled, AttendeeID: "no-email"},
		{Type: queue.PhotoScheduled, AttendeeID: "moved"},
		{Type: queue.PhotoCompleted, AttendeeID: "moved"},
		{Type: "checkin", AttendeeID: "moved"},
	} {
		assert.NoError(t, d.Handle(ctx, msg), msg)
	}
	assert.Empty(t, rec.sent)
}

func TestHandleMailerError(t *testing.T) {
	done := scheduled()
	done.PhotographyStatus = attendee.StatusCompleted
	rec := &recorder{err: errors.New("ses down")}
	d := NewDispatcher(lookup{"a1": done}, rec, zap.NewNop())

	err := d.Handle(context.Background(), queue.Message{Type: queue.PhotoCompleted, AttendeeID: "a1"})
	assert.EqualError(t, err, "ses down")
}

func TestRunConsumesQueue(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(lookup{"a1": scheduled()}, rec, zap.NewNop())
	q := queue.NewInMemory(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, q) }()

	require.NoError(t, q.Publish(ctx, queue.Message{Type: queue.PhotoScheduled, AttendeeID: "a1"}))
	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

type fakeSES struct {
	in *sesv2.SendEmailInput
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	return &sesv2.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func TestSESMailerBuildsMessage(t *testing.T) {
	api := &fakeSES{}
	m := &SESMailer{client: api, fromEmail: "photos@event.org", fromName: "Event Photography", log: zap.NewNop()}

	require.NoError(t, m.Send(context.Background(), Email{To: "ada@example.com", Subject: "Hi", Text: "body"}))
	require.NotNil(t, api.in)
	assert.Equal(t, "Event Photography <photos@event.org>", aws.ToString(api.in.FromEmailAddress))
	assert.Equal(t, []string{"ada@example.com"}, api.in.Destination.ToAddresses)
	assert.Equal(t, "body", aws.ToString(api.in.Content.Simple.Body.Text.Data))
	assert.Nil(t, api.in.Content.Simple.Body.Html)
}

func TestNewMailerWithoutSender(t *testing.T) {
	m, err := NewMailer(context.Background(), "us-east-1", "", "", zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, LogMailer{}, m)
	assert.NoError(t, m.Send(context.Background(), Email{To: "x@y.z"}))
}
