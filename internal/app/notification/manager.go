// Package notification provides the notification manager for broadcasting
// playback session changes to remote subscribers.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19player/internal/app/playback"
)

// DefaultSendTimeout bounds a single subscriber send.
const DefaultSendTimeout = 500 * time.Millisecond

// Type is the notification type.
type Type string

const (
	TypeState          Type = "state"           // Initial state sent on subscribe
	TypeTrackChanged   Type = "track_changed"   // Current track changed or restarted
	TypeStateChanged   Type = "state_changed"   // Playing flag changed
	TypeQueueChanged   Type = "queue_changed"   // Queue replaced
	TypePosition       Type = "position"        // Position moved by seek or backend progress
	TypeDuration       Type = "duration"        // Backend reported the duration
	TypeVolume         Type = "volume"          // Volume changed
	TypeMode           Type = "mode"            // Shuffle or repeat changed
	TypePlaybackFailed Type = "playback_failed" // Load or start failed
	TypeDeviceChanged  Type = "device_changed"  // Active device switched
)

// Notification is a session change delivered to subscribers.
type Notification struct {
	SequenceNo uint64
	Type       Type
	Snapshot   playback.Snapshot
	Device     string // Active device
	Error      string // TypePlaybackFailed
	Time       time.Time
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
	sendTimeout   time.Duration
}

// NewManager creates a new notification manager.
// A non-positive sendTimeout means DefaultSendTimeout.
func NewManager(sendTimeout time.Duration) *Manager {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Manager{
		subscriptions: make(map[string]*subscription),
		sendTimeout:   sendTimeout,
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	zlog.Debug().Msgf("notification: subscribed: id=%s", id)
	return id
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
	zlog.Debug().Msgf("notification: unsubscribed: id=%s", subscriptionID)
}

// Broadcast stamps n with the next sequence number and sends it to all
// subscribers. Each send is bounded by the send timeout.
func (m *Manager) Broadcast(n Notification) {
	n.SequenceNo = m.NextSequenceNo()

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	// Send to each subscriber in parallel with timeout
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				msg := n
				done <- s.stream.Send(&msg)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Err(err).Msgf("notification: send failed: id=%s seq=%d", s.id, n.SequenceNo)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send timed out: id=%s seq=%d", s.id, n.SequenceNo)
			}
		}(sub)
	}

	// Wait for all sends to complete or timeout
	wg.Wait()
}

// Send sends a notification to a specific subscriber without a sequence number.
func (m *Manager) Send(subscriptionID string, n *Notification) error {
	m.mu.RLock()
	sub, ok := m.subscriptions[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	return sub.stream.Send(n)
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}

// TypeFor maps a playback event to its notification type.
func TypeFor(t playback.EventType) Type {
	switch t {
	case playback.EventTrackChanged, playback.EventTrackRestarted:
		return TypeTrackChanged
	case playback.EventStateChanged:
		return TypeStateChanged
	case playback.EventQueueChanged:
		return TypeQueueChanged
	case playback.EventSeeked, playback.EventPositionChanged:
		return TypePosition
	case playback.EventDurationChanged:
		return TypeDuration
	case playback.EventVolumeChanged:
		return TypeVolume
	case playback.EventModeChanged:
		return TypeMode
	case playback.EventPlaybackFailed:
		return TypePlaybackFailed
	default:
		return TypeState
	}
}
