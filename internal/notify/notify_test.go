package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	failures int
	calls    int
	keys     []string
	bodies   [][]byte
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("channel closed")
	}
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, msg.Body)
	return nil
}

func fastPublisher(ch channel) *RabbitPublisher {
	p := newRabbitPublisher(ch, "submissions.events")
	p.baseDelay = time.Millisecond
	p.maxDelay = 2 * time.Millisecond
	return p
}

func TestRabbitPublisher_RetriesThenSucceeds(t *testing.T) {
	ch := &fakeChannel{failures: 2}
	p := fastPublisher(ch)

	subID := uuid.New()
	ev := Event{Type: EventSubmissionGraded, ExamID: uuid.New(), SubmissionID: &subID, Data: map[string]any{"status": "FINALIZED"}}
	require.NoError(t, p.Notify(context.Background(), ev))

	assert.Equal(t, 3, ch.calls)
	require.Len(t, ch.keys, 1)
	assert.Equal(t, EventSubmissionGraded, ch.keys[0])

	var got Event
	require.NoError(t, json.Unmarshal(ch.bodies[0], &got))
	assert.Equal(t, subID, *got.SubmissionID)
	assert.Equal(t, "FINALIZED", got.Data["status"])
}

func TestRabbitPublisher_GivesUp(t *testing.T) {
	ch := &fakeChannel{failures: 100}
	p := fastPublisher(ch)

	err := p.Notify(context.Background(), Event{Type: EventSubmissionUploaded})
	require.Error(t, err)
	assert.Equal(t, 5, ch.calls)
	assert.Contains(t, err.Error(), "channel closed")
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, Event) error { return errors.New("broker down") }

func TestSend_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	Send(context.Background(), failingNotifier{}, logger, Event{Type: EventViolationDetected})
	assert.Contains(t, buf.String(), "notification failed")
	assert.Contains(t, buf.String(), "broker down")

	Send(context.Background(), nil, logger, Event{Type: EventViolationDetected})
}

func TestSend_BoundsSlowBroker(t *testing.T) {
	prev := SendTimeout
	SendTimeout = 50 * time.Millisecond
	t.Cleanup(func() { SendTimeout = prev })

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ch := &fakeChannel{failures: 100}
	p := newRabbitPublisher(ch, "submissions.events")

	start := time.Now()
	Send(context.Background(), p, logger, Event{Type: EventSubmissionGraded})
	assert.Less(t, time.Since(start), time.Second)
	assert.Less(t, ch.calls, p.maxAttempts)
	assert.Contains(t, buf.String(), "publish canceled")
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	jobID := uuid.New()

	require.NoError(t, n.Notify(context.Background(), Event{Type: EventSubmissionUploaded, JobID: &jobID, Data: map[string]any{"count": 3}}))
	assert.Contains(t, buf.String(), "event=submission.uploaded")
	assert.Contains(t, buf.String(), "count=3")
}
