package pubsub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrSlowConsumer is reported by a subscription dropped because its
	// buffer filled up.
	ErrSlowConsumer = errors.New("subscriber dropped: buffer full")
	// ErrBusClosed is returned by operations on a closed bus.
	ErrBusClosed = errors.New("event bus closed")
)

// Publisher accepts committed events for delivery. Implementations must not
// block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// DefaultBufferSize is the per-subscription queue length used when Options
// leaves it unset.
const DefaultBufferSize = 64

type Options struct {
	// BufferSize bounds each subscription's queue. A subscriber whose queue
	// is full when an event arrives is dropped.
	BufferSize int
}

// Bus routes published events to subscriptions of the same topic whose
// filter accepts them. Each subscription observes events in publish order.
type Bus struct {
	logger *slog.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[Topic]map[uint64]*Subscription
	nextID uint64
	closed bool
}

var _ Publisher = (*Bus)(nil)

func NewBus(logger *slog.Logger, opts Options) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	return &Bus{
		logger: logger,
		buffer: opts.BufferSize,
		subs:   make(map[Topic]map[uint64]*Subscription),
	}
}

// Subscribe registers filter on topic. The subscription ends when ctx is
// done, when Close is called, when the bus closes, or when the subscriber
// falls behind.
func (b *Bus) Subscribe(ctx context.Context, topic Topic, filter Filter) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		topic:  topic,
		filter: filter,
		bus:    b,
		ch:     make(chan Event, b.buffer),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*Subscription)
	}
	b.subs[topic][sub.id] = sub
	b.mu.Unlock()

	stop := context.AfterFunc(ctx, sub.Close)
	sub.mu.Lock()
	if sub.closed {
		stop()
	} else {
		sub.stop = stop
	}
	sub.mu.Unlock()
	return sub, nil
}

// Publish evaluates every subscription of ev.Topic and enqueues ev where the
// filter accepts it. It never waits on a subscriber.
func (b *Bus) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	var dropped []*Subscription
	for _, sub := range b.subs[ev.Topic] {
		if !sub.filter(ev) {
			continue
		}
		if !sub.offer(ev) {
			dropped = append(dropped, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range dropped {
		b.remove(sub)
		b.logger.Warn("dropping slow subscriber",
			slog.String("topic", string(sub.topic)),
			slog.Uint64("subscription", sub.id),
		)
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

// Close ends every subscription with ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	all := b.subs
	b.subs = make(map[Topic]map[uint64]*Subscription)
	b.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.shutdown(ErrBusClosed)
		}
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	if subs := b.subs[sub.topic]; subs != nil {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.subs, sub.topic)
		}
	}
	b.mu.Unlock()
}

// Subscription is one live registration on the bus.
type Subscription struct {
	id     uint64
	topic  Topic
	filter Filter
	bus    *Bus
	stop   func() bool

	mu     sync.Mutex
	ch     chan Event
	closed bool
	err    error
}

// C delivers events. It is closed when the subscription ends; Err then
// reports why.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) Topic() Topic {
	return s.topic
}

// Err is nil while the subscription is live or after a regular Close or
// context cancellation.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unregisters the subscription. Once Close returns the filter is not
// evaluated again. Close is idempotent.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.shutdown(nil)
}

func (s *Subscription) offer(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		s.shutdownLocked(ErrSlowConsumer)
		return false
	}
}

func (s *Subscription) shutdown(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownLocked(err)
}

func (s *Subscription) shutdownLocked(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
	if s.stop != nil {
		s.stop()
	}
}
