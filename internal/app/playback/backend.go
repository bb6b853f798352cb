package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/19player/internal/domain/track"
)

// Errors
var (
	ErrNotPlayable   = errors.New("track is not playable on this device")
	ErrNoSource      = errors.New("no source loaded")
	ErrStaleLoad     = errors.New("load superseded by a newer one")
	ErrUnknownDevice = errors.New("unknown device")
	ErrNotRunning    = errors.New("adapter is not running")
)

// LoadToken tags a source load so that late completions and events can be
// matched against the most recent load. Tokens increase monotonically.
type LoadToken uint64

// BackendEventType represents a backend lifecycle event type.
type BackendEventType int

const (
	BackendTimeUpdate    BackendEventType = iota // Position progressed
	BackendDurationKnown                         // Source duration determined
	BackendEnded                                 // Source played to the end
	BackendError                                 // Decode or transport failure
)

// String returns the string representation of the backend event type.
func (e BackendEventType) String() string {
	switch e {
	case BackendTimeUpdate:
		return "time_update"
	case BackendDurationKnown:
		return "duration_known"
	case BackendEnded:
		return "ended"
	case BackendError:
		return "error"
	default:
		return "unknown"
	}
}

// BackendEvent is emitted by a backend for the source loaded with Token.
type BackendEvent struct {
	Type     BackendEventType
	Token    LoadToken
	Position time.Duration // BackendTimeUpdate
	Duration time.Duration // BackendDurationKnown
	Err      error         // BackendError
}

// Backend is an audio playback primitive: a local decoder or a remote device.
// Only the Adapter calls it.
type Backend interface {
	// Name identifies the device for selection.
	Name() string
	// Load replaces the current source. It may suspend while the source is
	// fetched and must honour ctx cancellation. Loads with a token lower
	// than the installed one return ErrStaleLoad.
	Load(ctx context.Context, token LoadToken, t track.Track) error
	// Play starts or resumes the loaded source.
	Play(ctx context.Context) error
	// Pause pauses the loaded source.
	Pause(ctx context.Context) error
	// Seek moves the loaded source to pos.
	Seek(ctx context.Context, pos time.Duration) error
	// SetVolume sets output volume in [0,1].
	SetVolume(ctx context.Context, v float64) error
	// Position returns the last position the backend reported.
	Position() time.Duration
	// Subscribe registers a listener; the returned func unregisters it.
	Subscribe() (<-chan BackendEvent, func())
	// Release unloads the source and stops any background work.
	Release(ctx context.Context) error
}

// Emitter fans backend events out to listeners. Time updates are dropped when
// a listener is behind; other events wait until delivered or the listener
// unsubscribes.
type Emitter struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]*emitterListener
}

type emitterListener struct {
	ch   chan BackendEvent
	done chan struct{}
}

// Subscribe adds a listener.
func (e *Emitter) Subscribe() (<-chan BackendEvent, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		e.listeners = make(map[int]*emitterListener)
	}
	e.nextID++
	id := e.nextID
	l := &emitterListener{
		ch:   make(chan BackendEvent, 64),
		done: make(chan struct{}),
	}
	e.listeners[id] = l

	var once sync.Once
	return l.ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
			close(l.done)
		})
	}
}

// Emit delivers ev to every listener.
func (e *Emitter) Emit(ev BackendEvent) {
	e.mu.Lock()
	targets := make([]*emitterListener, 0, len(e.listeners))
	for _, l := range e.listeners {
		targets = append(targets, l)
	}
	e.mu.Unlock()

	for _, l := range targets {
		if ev.Type == BackendTimeUpdate {
			select {
			case l.ch <- ev:
			case <-l.done:
			default:
			}
			continue
		}
		select {
		case l.ch <- ev:
		case <-l.done:
		}
	}
}

// Count returns the number of listeners.
func (e *Emitter) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}
