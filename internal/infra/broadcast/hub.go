// Package broadcast fans job events out to connected subscribers.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// AllEvents subscribes to every event regardless of job or owner.
const AllEvents = "*"

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(ctx context.Context, e model.Event)
}

// Subscriber is one connected endpoint. Events arrive on C until the
// subscriber is disconnected or the hub stops, after which C is closed.
type Subscriber struct {
	C <-chan model.Event

	id      uint64
	ch      chan model.Event
	keys    map[string]struct{}
	closed  bool
	dropped atomic.Uint64
}

// Dropped counts events discarded because the buffer was full.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Hub is an in-process registry of subscriptions keyed by channel name.
// Delivery is best effort: at most once per event per subscriber, no replay.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscriber
	byKey   map[string]map[uint64]*Subscriber
	nextID  uint64
	buffer  int
	stopped bool
	log     *zerolog.Logger

	stopOnce sync.Once
}

func NewHub(buffer int, logger *zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	l := logger.With().Str("component", "broadcast_hub").Logger()
	return &Hub{
		subs:   make(map[uint64]*Subscriber),
		byKey:  make(map[string]map[uint64]*Subscriber),
		buffer: buffer,
		log:    &l,
	}
}

// Start stops the hub when ctx is done.
func (h *Hub) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		h.Stop()
	}()
}

// Stop disconnects every subscriber. Later Connect calls return closed subscribers.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.stopped = true
		for id, s := range h.subs {
			s.closed = true
			close(s.ch)
			delete(h.subs, id)
		}
		h.byKey = make(map[string]map[uint64]*Subscriber)
		metrics.SetSubscribers(0)
		h.log.Info().Msg("broadcast hub stopped")
	})
}

// Connect registers a new endpoint with the given initial subscriptions.
func (h *Hub) Connect(keys ...string) *Subscriber {
	ch := make(chan model.Event, h.buffer)
	s := &Subscriber{C: ch, ch: ch, keys: make(map[string]struct{})}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		s.closed = true
		close(ch)
		return s
	}
	h.nextID++
	s.id = h.nextID
	h.subs[s.id] = s
	for _, k := range keys {
		h.subscribeLocked(s, k)
	}
	metrics.SetSubscribers(len(h.subs))
	return s
}

// Subscribe adds key to s. Subscribing twice is a no-op.
func (h *Hub) Subscribe(s *Subscriber, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	h.subscribeLocked(s, key)
}

func (h *Hub) subscribeLocked(s *Subscriber, key string) {
	if _, ok := s.keys[key]; ok {
		return
	}
	s.keys[key] = struct{}{}
	set := h.byKey[key]
	if set == nil {
		set = make(map[uint64]*Subscriber)
		h.byKey[key] = set
	}
	set[s.id] = s
}

// Unsubscribe removes key from s. Removing an absent key is a no-op.
func (h *Hub) Unsubscribe(s *Subscriber, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(s, key)
}

func (h *Hub) unsubscribeLocked(s *Subscriber, key string) {
	if _, ok := s.keys[key]; !ok {
		return
	}
	delete(s.keys, key)
	if set := h.byKey[key]; set != nil {
		delete(set, s.id)
		if len(set) == 0 {
			delete(h.byKey, key)
		}
	}
}

// Disconnect drops all of s's subscriptions and closes its channel. Idempotent.
func (h *Hub) Disconnect(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	for k := range s.keys {
		h.unsubscribeLocked(s, k)
	}
	s.closed = true
	close(s.ch)
	delete(h.subs, s.id)
	metrics.SetSubscribers(len(h.subs))
}

// Publish delivers e once to every subscriber of any of its channels or of
// AllEvents. Full buffers drop the event for that subscriber only.
func (h *Hub) Publish(_ context.Context, e model.Event) {
	metrics.IncEventPublished(string(e.Kind))

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}
	seen := make(map[uint64]struct{})
	for _, key := range append(e.Channels(), AllEvents) {
		for id, s := range h.byKey[key] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			select {
			case s.ch <- e:
			default:
				s.dropped.Add(1)
				metrics.IncEventDropped()
				h.log.Debug().Str("job_id", e.JobID).Uint64("subscriber", id).Msg("subscriber buffer full, event dropped")
			}
		}
	}
}

// Fanout publishes each event to every non-nil publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e model.Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}
