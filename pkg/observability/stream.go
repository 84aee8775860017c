// Package observability turns engine hooks into consumable signals: a
// non-blocking event stream for subscribers and a Prometheus collector for
// metrics.
package observability

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sluicelabs/sluice/pkg/domain"
)

// Event is one engine signal with its concrete payload.
type Event struct {
	Type    domain.EventType
	Payload any
}

// Stream fans engine events out to subscribers over buffered channels. A
// subscriber that falls behind loses events rather than stalling the run;
// Dropped counts the losses.
type Stream struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	buffer  int
	dropped atomic.Int64
	closed  bool
}

// NewStream creates a stream whose subscriber channels buffer the given
// number of events.
func NewStream(buffer int) *Stream {
	if buffer < 1 {
		buffer = 1
	}
	return &Stream{
		subs:   make(map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release the channel; the channel closes once released.
func (s *Stream) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, s.buffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer room.
func (s *Stream) Publish(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were lost to full subscriber buffers.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

// Close releases every subscriber.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}

// Hooks adapts the stream to the engine's hook contract.
func (s *Stream) Hooks() domain.Hooks {
	return domain.Hooks{
		OnRunStart:  func(ctx context.Context, ev *domain.RunEvent) { s.Publish(Event{Type: ev.Type, Payload: ev}) },
		OnRunEnd:    func(ctx context.Context, ev *domain.RunEvent) { s.Publish(Event{Type: ev.Type, Payload: ev}) },
		OnNodeStart: func(ctx context.Context, ev *domain.NodeEvent) { s.Publish(Event{Type: ev.Type, Payload: ev}) },
		OnNodeEnd:   func(ctx context.Context, ev *domain.NodeEvent) { s.Publish(Event{Type: ev.Type, Payload: ev}) },
		OnGateDecision: func(ctx context.Context, ev *domain.GateEvent) {
			s.Publish(Event{Type: ev.Type, Payload: ev})
		},
		OnInterrupt: func(ctx context.Context, ev *domain.InterruptEvent) {
			s.Publish(Event{Type: ev.Type, Payload: ev})
		},
		OnResume: func(ctx context.Context, ev *domain.InterruptEvent) {
			s.Publish(Event{Type: ev.Type, Payload: ev})
		},
		OnChunk: func(ctx context.Context, ev *domain.ChunkEvent) { s.Publish(Event{Type: ev.Type, Payload: ev}) },
	}
}
