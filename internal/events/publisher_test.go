package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/joshu-sajeev/docqueue/internal/config"
	"github.com/joshu-sajeev/docqueue/internal/models"
	"github.com/joshu-sajeev/docqueue/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	declareErr error
	publishErr error
	// block, when set, holds every publish until it is closed
	block    chan struct{}
	declared []string
	sent     []published
	closed   bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name+"/"+kind)
	if !durable {
		return errors.New("exchange must be durable")
	}
	return f.declareErr
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestNewPublisher(t *testing.T) {
	t.Run("declares durable topic exchange", func(t *testing.T) {
		ch := &fakeChannel{}
		_, err := NewPublisher(ch, "docqueue.events", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"docqueue.events/topic"}, ch.declared)
	})

	t.Run("declare failure closes channel", func(t *testing.T) {
		ch := &fakeChannel{declareErr: errors.New("access refused")}
		_, err := NewPublisher(ch, "docqueue.events", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "declare exchange docqueue.events")
		assert.True(t, ch.closed)
	})
}

func TestPublisher_Observe(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewPublisher(ch, "docqueue.events", nil)
	require.NoError(t, err)

	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	job := &models.Job{ID: "index-document-1-abc", Type: config.JobTypeIndexDocument, Status: config.JobStatusCompleted}
	p.Observe(queue.Event{Type: queue.EventJobCompleted, Job: job, At: at, Duration: time.Second})
	p.Observe(queue.Event{Type: queue.EventJobsCleaned, At: at, Count: 2})
	require.NoError(t, p.Close(), "close drains queued events")

	require.Len(t, ch.sent, 2)

	first := ch.sent[0]
	assert.Equal(t, "docqueue.events", first.exchange)
	assert.Equal(t, "job.job-completed", first.key)
	assert.Equal(t, "application/json", first.msg.ContentType)
	assert.Equal(t, amqp.Persistent, first.msg.DeliveryMode)
	assert.Equal(t, "index-document-1-abc", first.msg.MessageId)

	var body map[string]any
	require.NoError(t, json.Unmarshal(first.msg.Body, &body))
	assert.Equal(t, "job-completed", body["event"])
	assert.Equal(t, float64(time.Second), body["duration"])

	assert.Equal(t, "job.jobs-cleaned", ch.sent[1].key)
	assert.Empty(t, ch.sent[1].msg.MessageId)
}

func TestPublisher_ObserveLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	p, err := NewPublisher(ch, "docqueue.events", logger)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		p.Observe(queue.Event{Type: queue.EventJobFailed, Job: &models.Job{ID: "x"}})
	})
	require.NoError(t, p.Close())
	assert.Contains(t, buf.String(), "failed to publish event")
	assert.Contains(t, buf.String(), "job_id=x")
}

func TestPublisher_ObserveDoesNotWaitForBroker(t *testing.T) {
	ch := &fakeChannel{block: make(chan struct{})}
	p, err := NewPublisher(ch, "docqueue.events", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	total := queueSize + 10
	start := time.Now()
	for i := 0; i < total; i++ {
		p.Observe(queue.Event{Type: queue.EventJobAdded, Job: &models.Job{ID: "j"}})
	}
	assert.Less(t, time.Since(start), time.Second, "a stalled broker must not stall the queue")
	assert.Positive(t, p.Dropped())
	assert.LessOrEqual(t, p.Dropped(), int64(total-queueSize))

	close(ch.block)
	require.NoError(t, p.Close())

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.EqualValues(t, int64(total)-p.Dropped(), len(ch.sent))
}

func TestPublisher_Close(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewPublisher(ch, "docqueue.events", nil)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
	assert.NoError(t, p.Close(), "second close is a no-op")

	p.Observe(queue.Event{Type: queue.EventJobAdded})
	assert.Empty(t, ch.sent, "events after close are ignored")
}
