package event

import (
	"log/slog"
	"sync"
)

// DefaultQueueSize is the default per-subscriber bounded queue size
// (spec 5, "event_queue_size default 1024").
const DefaultQueueSize = 1024

// Subscription is a handle to one subscriber's event channel. Callers
// must range over Events until it closes, and call Unsubscribe when
// done listening early.
type Subscription struct {
	ch     chan Event
	bus    *Bus
	runID  string
	id     int
	closed bool
	mu     sync.Mutex
}

// Events returns the channel of events for this subscription.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Unsubscribe detaches this subscription from its Bus and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s)
}

type topic struct {
	mu   sync.Mutex
	subs map[int]*Subscription
	next int
}

// Bus is a per-run fan-out event channel (C9). One producer publishes;
// many subscribers each get their own bounded queue so a slow consumer
// cannot block the producer. A subscriber whose queue overflows is
// dropped and a diagnostic is logged, per spec 4.9's backpressure rule.
type Bus struct {
	mu         sync.Mutex
	topics     map[string]*topic
	queueSize  int
	logger     *slog.Logger
}

// NewBus constructs an empty Bus. queueSize <= 0 uses DefaultQueueSize.
func NewBus(queueSize int, logger *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		topics:    make(map[string]*topic),
		queueSize: queueSize,
		logger:    logger,
	}
}

func (b *Bus) topicFor(runID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[runID]
	if !ok {
		t = &topic{subs: make(map[int]*Subscription)}
		b.topics[runID] = t
	}
	return t
}

// Subscribe registers a new subscriber for events on runID.
func (b *Bus) Subscribe(runID string) *Subscription {
	t := b.topicFor(runID)
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	sub := &Subscription{
		ch:    make(chan Event, b.queueSize),
		bus:   b,
		runID: runID,
		id:    id,
	}
	t.subs[id] = sub
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)

	b.mu.Lock()
	t, ok := b.topics[sub.runID]
	b.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.subs, sub.id)
	t.mu.Unlock()
}

// Publish emits ev to every current subscriber of ev.RunID. A full
// subscriber queue causes that subscriber to be dropped, not the
// producer to block.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	t, ok := b.topics[ev.RunID]
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	subs := make([]*Subscription, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("event bus: dropping slow subscriber", "run_id", ev.RunID, "sub_id", sub.id)
			b.unsubscribe(sub)
		}
	}
}

// Close unsubscribes and closes every subscriber channel for runID. The
// run coordinator calls this once the run reaches a terminal state.
func (b *Bus) Close(runID string) {
	b.mu.Lock()
	t, ok := b.topics[runID]
	delete(b.topics, runID)
	b.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	subs := make([]*Subscription, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()
	for _, s := range subs {
		b.unsubscribe(s)
	}
}
