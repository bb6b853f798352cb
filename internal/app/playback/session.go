package playback

import (
	"sync"
	"time"

	"github.com/osa030/19player/internal/domain/track"
)

// Session is the mutable playback state shared by the Controller and the Adapter.
// Other components only read it through Snapshot and Subscribe.
type Session struct {
	mu sync.RWMutex

	currentTrack *track.Track
	queue        track.Queue
	isPlaying    bool
	position     time.Duration
	duration     time.Duration
	volume       float64
	shuffle      bool
	repeat       RepeatMode

	subsMu    sync.Mutex
	subs      map[uint64]*Subscription
	nextSubID uint64
}

// NewSession creates a session with an empty queue, nothing playing and full volume.
func NewSession() *Session {
	return &Session{
		queue:  track.Queue{},
		volume: 1,
		repeat: RepeatOff,
		subs:   make(map[uint64]*Subscription),
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Must be called with mu held.
func (s *Session) snapshotLocked() Snapshot {
	var current *track.Track
	if s.currentTrack != nil {
		t := *s.currentTrack
		current = &t
	}
	return Snapshot{
		CurrentTrack: current,
		Queue:        s.queue.Clone(),
		IsPlaying:    s.isPlaying,
		Position:     s.position,
		Duration:     s.duration,
		Volume:       s.volume,
		Shuffle:      s.shuffle,
		Repeat:       s.repeat,
	}
}

// Subscribe registers a new observer. Close the subscription to unregister it.
func (s *Session) Subscribe() *Subscription {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.nextSubID++
	sub := &Subscription{
		id:      s.nextSubID,
		session: s,
		ready:   make(chan struct{}, 1),
	}
	s.subs[sub.id] = sub
	return sub
}

// SubscriberCount returns the number of registered observers.
func (s *Session) SubscriberCount() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

// publishLocked delivers events to every observer in order.
// Must be called with mu held so that delivery order matches mutation order.
func (s *Session) publishLocked(events ...Event) {
	if len(events) == 0 {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		sub.push(events)
	}
}

func (s *Session) unsubscribe(id uint64) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs, id)
}

// Subscription receives session events. Publishing never blocks and never drops:
// events accumulate until drained.
type Subscription struct {
	id      uint64
	session *Session

	mu      sync.Mutex
	pending []Event
	closed  bool
	ready   chan struct{}
}

// Ready returns a channel that receives a value whenever events are pending.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Drain returns and clears the pending events in publish order.
func (s *Subscription) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.pending
	s.pending = nil
	return events
}

// Close unregisters the subscription. Pending events are discarded.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	s.session.unsubscribe(s.id)
}

func (s *Subscription) push(events []Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, events...)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}
