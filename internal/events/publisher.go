// Package events forwards queue events to a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshu-sajeev/docqueue/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	publishTimeout = 5 * time.Second
	// events buffered for the broker; more are dropped
	queueSize = 256
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       Channel
	exchange string
	logger   *slog.Logger

	pending chan queue.Event
	qmu     sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// Dial connects to url and declares exchange as a durable topic exchange.
func Dial(url, exchange string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	p, err := NewPublisher(ch, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func NewPublisher(ch Channel, exchange string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p := &Publisher{
		ch:       ch,
		exchange: exchange,
		logger:   logger,
		pending:  make(chan queue.Event, queueSize),
		done:     make(chan struct{}),
	}
	go p.loop()
	return p, nil
}

// RoutingKey maps job-completed to job.job-completed and so on.
func RoutingKey(t queue.EventType) string {
	return "job." + string(t)
}

// Publish sends ev as JSON. Errors are returned to the caller.
func (p *Publisher) Publish(ctx context.Context, ev queue.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		Type:         string(ev.Type),
		Body:         body,
	}
	if ev.Job != nil {
		msg.MessageId = ev.Job.ID
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(ev.Type), false, false, msg)
}

// Observe is a queue.Observer. It never waits for the broker: events are
// queued for a background publisher and dropped when the queue is full.
func (p *Publisher) Observe(ev queue.Event) {
	p.qmu.RLock()
	defer p.qmu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.pending <- ev:
	default:
		n := p.dropped.Add(1)
		p.logger.Warn("event queue full, dropping event", "event", ev.Type, "dropped_total", n)
	}
}

// Dropped reports how many events Observe discarded.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Publisher) loop() {
	defer close(p.done)
	for ev := range p.pending {
		p.send(ev)
	}
}

func (p *Publisher) send(ev queue.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.Publish(ctx, ev); err != nil {
		attrs := []any{"event", ev.Type, "error", err}
		if ev.Job != nil {
			attrs = append(attrs, "job_id", ev.Job.ID)
		}
		p.logger.Warn("failed to publish event", attrs...)
	}
}

// Close publishes what is still queued, waiting at most publishTimeout, then
// closes the channel and the connection.
func (p *Publisher) Close() error {
	p.qmu.Lock()
	if p.closed {
		p.qmu.Unlock()
		return nil
	}
	p.closed = true
	close(p.pending)
	p.qmu.Unlock()

	select {
	case <-p.done:
	case <-time.After(publishTimeout):
		p.logger.Warn("closing publisher with events still queued", "queued", len(p.pending))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
