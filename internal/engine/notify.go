package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/orderbots/internal/domain"
)

// EventKind identifies a state change.
type EventKind string

const (
	WorkerAdded   EventKind = "worker_added"
	WorkerRemoved EventKind = "worker_removed"
	JobAdded      EventKind = "job_added"
	// JobStarted is published for every pairing made by the matching loop.
	JobStarted   EventKind = "job_started"
	JobCompleted EventKind = "job_completed"
	JobRequeued  EventKind = "job_requeued"
)

// AllKinds lists every kind in a stable order.
var AllKinds = []EventKind{WorkerAdded, WorkerRemoved, JobAdded, JobStarted, JobCompleted, JobRequeued}

// Event is a notification. Job and Worker are copies taken when the event
// was raised; either may be nil depending on the kind.
type Event struct {
	Kind   EventKind      `json:"kind"`
	At     time.Time      `json:"at"`
	Job    *domain.Job    `json:"job,omitempty"`
	Worker *domain.Worker `json:"worker,omitempty"`
}

// Listener receives notifications. It must not block for long: it delays
// delivery of every later notification.
type Listener func(Event)

type subscription struct {
	fn     Listener
	active atomic.Bool
}

// notifier delivers events in the order the engine raised them. Events are
// queued under the engine mutex and drained outside it, so listeners may
// call back into the engine.
type notifier struct {
	logger *zap.Logger

	mu       sync.Mutex
	subs     map[EventKind][]*subscription
	pending  []Event
	draining bool
}

func newNotifier(logger *zap.Logger) *notifier {
	return &notifier{
		logger: logger,
		subs:   make(map[EventKind][]*subscription),
	}
}

func (n *notifier) subscribe(kinds []EventKind, fn Listener) func() {
	s := &subscription{fn: fn}
	s.active.Store(true)

	n.mu.Lock()
	for _, k := range kinds {
		n.subs[k] = append(n.subs[k], s)
	}
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.active.Store(false)
			n.mu.Lock()
			defer n.mu.Unlock()
			for _, k := range kinds {
				kept := make([]*subscription, 0, len(n.subs[k]))
				for _, other := range n.subs[k] {
					if other != s {
						kept = append(kept, other)
					}
				}
				n.subs[k] = kept
			}
		})
	}
}

func (n *notifier) enqueue(evt Event) {
	n.mu.Lock()
	n.pending = append(n.pending, evt)
	n.mu.Unlock()
}

// flush delivers queued events. Only one goroutine drains at a time; a
// caller that finds a drain in progress leaves its events to that drain.
func (n *notifier) flush() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true
	for len(n.pending) > 0 {
		evt := n.pending[0]
		n.pending[0] = Event{}
		n.pending = n.pending[1:]
		subs := append([]*subscription(nil), n.subs[evt.Kind]...)
		n.mu.Unlock()

		for _, s := range subs {
			if s.active.Load() {
				n.deliver(s, evt)
			}
		}

		n.mu.Lock()
	}
	n.pending = nil
	n.draining = false
	n.mu.Unlock()
}

func (n *notifier) deliver(s *subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("listener panicked", zap.String("kind", string(evt.Kind)), zap.Any("panic", r))
		}
	}()
	s.fn(evt)
}

// Subscribe registers fn for one kind of notification. Listeners of a kind
// run in registration order. The returned func unsubscribes; it is safe to
// call from inside a listener and more than once.
//
// When several goroutines drive the engine, a notification may be
// delivered by whichever goroutine is already draining, after the call
// that raised it has returned.
func (e *Engine) Subscribe(kind EventKind, fn Listener) (unsubscribe func()) {
	return e.notify.subscribe([]EventKind{kind}, fn)
}

// SubscribeAll registers fn for every kind.
func (e *Engine) SubscribeAll(fn Listener) (unsubscribe func()) {
	return e.notify.subscribe(AllKinds, fn)
}

// Stream returns a channel of every notification until ctx is done, when
// the channel is closed. A full buffer drops the event rather than stall
// the engine.
func (e *Engine) Stream(ctx context.Context, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	var mu sync.Mutex
	closed := false
	var dropped int64
	unsub := e.SubscribeAll(func(evt Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- evt:
		default:
			dropped++
			e.logger.Warn("stream buffer full, dropping notification",
				zap.String("kind", string(evt.Kind)),
				zap.Int64("dropped", dropped),
			)
		}
	})

	go func() {
		<-ctx.Done()
		unsub()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}
