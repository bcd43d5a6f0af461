package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"tradingcore/src/model"
)

var ErrClosed = errors.New("bus is closed")

// Handler processes one delivered event. Returning an error triggers
// redelivery with exponential backoff, up to the configured retry budget.
type Handler func(ctx context.Context, evt model.Event) error

// AuditSink receives every published event synchronously with respect to the
// Publish call, before any subscriber sees it.
type AuditSink interface {
	AppendEvent(ctx context.Context, e model.Event) error
}

// Bus is the in-process publish/subscribe fabric. Topics are namespaced
// strings ("trading.position_opened"); subscriptions match exactly or by
// prefix wildcard ("trading.*", or "*" for everything). Each subscription
// owns a bounded queue and a dedicated delivery goroutine, so a slow
// subscriber backs up only its own queue. Within one topic a subscriber sees
// events in publish order.
type Bus struct {
	cfg   Config
	log   *logger.Entry
	audit AuditSink

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	wg sync.WaitGroup
}

// Subscription is the handle returned by Subscribe; pass it back to
// Unsubscribe to stop delivery.
type Subscription struct {
	id      uint64
	pattern string
	handler Handler
	queue   chan model.Event
	done    chan struct{}
}

func New(audit AuditSink, cfg Config) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Bus{
		cfg:   cfg,
		log:   logger.WithField("component", "bus"),
		audit: audit,
		subs:  make(map[uint64]*Subscription),
	}
}

// Matches reports whether a topic pattern covers an event type. Patterns are
// either exact topics, "ns.*" prefix wildcards, or "*".
func Matches(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(eventType, prefix+".")
	}
	return pattern == eventType
}

func (b *Bus) Subscribe(pattern string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		pattern: pattern,
		handler: h,
		queue:   make(chan model.Event, b.cfg.QueueSize),
		done:    make(chan struct{}),
	}
	b.subs[sub.id] = sub

	b.wg.Add(1)
	go b.deliverLoop(sub)

	b.log.WithFields(logger.Fields{"pattern": pattern, "subscription": sub.id}).
		Debug("subscribed")
	return sub
}

func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	_, ok := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()

	if ok {
		close(sub.done)
	}
}

// Publish builds the event envelope, appends it to the audit sink, then
// enqueues it to every matching subscriber. Fire-and-forget with respect to
// handler outcomes, but blocks while any matching subscriber's queue is full:
// at-least-once delivery takes priority over publisher throughput.
func (b *Bus) Publish(ctx context.Context, eventType string, payload map[string]any) error {
	evt := model.Event{
		ID:        "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	return b.publish(ctx, evt)
}

func (b *Bus) publish(ctx context.Context, evt model.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if Matches(sub.pattern, evt.Type) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	if b.audit != nil {
		if err := b.audit.AppendEvent(ctx, evt); err != nil {
			if !b.cfg.BestEffortAudit {
				return err
			}
			b.log.WithError(err).WithField("event_type", evt.Type).
				Warn("audit append failed, delivering anyway")
		}
	}

	for _, sub := range targets {
		select {
		case sub.queue <- evt:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// deliverLoop drains one subscription's queue. Handler errors are isolated:
// logged, retried with exponential backoff, and after the retry budget is
// spent the event is surfaced as a system.error event and dropped for this
// subscriber. The loop keeps running either way.
func (b *Bus) deliverLoop(sub *Subscription) {
	defer b.wg.Done()

	for {
		select {
		case <-sub.done:
			return
		case evt := <-sub.queue:
			b.deliverWithRetry(sub, evt)
		}
	}
}

func (b *Bus) deliverWithRetry(sub *Subscription, evt model.Event) {
	ctx := context.Background()

	var err error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := b.cfg.RetryDelay * (1 << (attempt - 1))
			select {
			case <-sub.done:
				return
			case <-time.After(backoff):
			}
		}

		if err = b.invoke(ctx, sub, evt); err == nil {
			return
		}

		b.log.WithError(err).WithFields(logger.Fields{
			"event_type":   evt.Type,
			"event_id":     evt.ID,
			"subscription": sub.id,
			"attempt":      attempt,
		}).Warn("event handler failed")
	}

	b.log.WithError(err).WithFields(logger.Fields{
		"event_type":   evt.Type,
		"event_id":     evt.ID,
		"subscription": sub.id,
	}).Error("event delivery exhausted retries")

	// Terminal failure is an event itself, except when the failing event
	// already is a system.error: re-publishing those would loop.
	if evt.Type != model.EventSystemError {
		_ = b.Publish(ctx, model.EventSystemError, map[string]any{
			"reason":     "event_delivery_failed",
			"event_id":   evt.ID,
			"event_type": evt.Type,
			"error":      err.Error(),
		})
	}
}

// invoke runs the handler with panic isolation.
func (b *Bus) invoke(ctx context.Context, sub *Subscription, evt model.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(err, errors.New("handler panic"))
			b.log.WithField("panic", r).Error("event handler panicked")
		}
	}()
	return sub.handler(ctx, evt)
}

// Close stops accepting publishes and waits for delivery goroutines to exit.
// Queued events that have not been handed to a handler yet are dropped; call
// Drain first when a clean flush matters.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
	b.wg.Wait()
}

// Drain blocks until every subscriber queue is empty or the context ends.
func (b *Bus) Drain(ctx context.Context) error {
	for {
		b.mu.RLock()
		pending := 0
		for _, sub := range b.subs {
			pending += len(sub.queue)
		}
		b.mu.RUnlock()

		if pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
