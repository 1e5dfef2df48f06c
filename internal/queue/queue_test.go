package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: PhotoScheduled, AttendeeID: "a"}))
	require.NoError(t, q.Publish(ctx, Message{Type: PhotoCompleted, AttendeeID: "b"}))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	first := <-ch
	second := <-ch
	assert.Equal(t, "a", first.AttendeeID)
	assert.Equal(t, PhotoCompleted, second.Type)

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("consumer channel not closed after cancel")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: PhotoScheduled, AttendeeID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := q.Publish(ctx, Message{Type: PhotoScheduled, AttendeeID: "b"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecode(t *testing.T) {
	at := time.Date(2026, 5, 1, 18, 15, 0, 0, time.UTC)
	body, err := Encode(Message{Type: PhotoCompleted, AttendeeID: "a1", At: at})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"photo.completed","attendeeId":"a1","at":"2026-05-01T18:15:00Z"}`, body)

	_, err = Decode(`checkin|123`)
	assert.Error(t, err)
	_, err = Decode(`{"type":"photo.completed"}`)
	assert.Error(t, err)
}
