package notification

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19player/internal/app/playback"
)

type recordingStream struct {
	mu    sync.Mutex
	got   []*Notification
	err   error
	block chan struct{}
}

func (s *recordingStream) Send(n *Notification) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return s.err
}

func (s *recordingStream) received() []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Notification(nil), s.got...)
}

func TestBroadcastSequence(t *testing.T) {
	m := NewManager(0)
	a, b := &recordingStream{}, &recordingStream{}
	idA := m.Subscribe(a)
	m.Subscribe(b)
	assert.Equal(t, 2, m.SubscriberCount())

	m.Broadcast(Notification{Type: TypeVolume})
	m.Broadcast(Notification{Type: TypeMode})

	for _, s := range []*recordingStream{a, b} {
		got := s.received()
		require.Len(t, got, 2)
		assert.Equal(t, uint64(1), got[0].SequenceNo)
		assert.Equal(t, TypeVolume, got[0].Type)
		assert.Equal(t, uint64(2), got[1].SequenceNo)
	}

	m.Unsubscribe(idA)
	m.Broadcast(Notification{Type: TypeStateChanged})
	assert.Len(t, a.received(), 2)
	assert.Len(t, b.received(), 3)
	assert.Equal(t, uint64(3), b.received()[2].SequenceNo)
}

func TestBroadcastSlowSubscriberTimesOut(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	slow := &recordingStream{block: make(chan struct{})}
	defer close(slow.block)
	fast := &recordingStream{}
	m.Subscribe(slow)
	m.Subscribe(fast)

	start := time.Now()
	m.Broadcast(Notification{Type: TypeVolume})
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, fast.received(), 1)
}

func TestBroadcastSendErrorIgnored(t *testing.T) {
	m := NewManager(0)
	failing := &recordingStream{err: errors.New("stream closed")}
	ok := &recordingStream{}
	m.Subscribe(failing)
	m.Subscribe(ok)

	m.Broadcast(Notification{Type: TypeVolume})
	assert.Len(t, ok.received(), 1)
}

func TestSend(t *testing.T) {
	m := NewManager(0)
	s := &recordingStream{}
	id := m.Subscribe(s)

	require.NoError(t, m.Send(id, &Notification{Type: TypeState}))
	require.NoError(t, m.Send("unknown", &Notification{Type: TypeState}))
	require.Len(t, s.received(), 1)
	assert.Equal(t, uint64(0), s.received()[0].SequenceNo)

	m.Close()
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestTypeFor(t *testing.T) {
	tests := map[playback.EventType]Type{
		playback.EventTrackChanged:    TypeTrackChanged,
		playback.EventTrackRestarted:  TypeTrackChanged,
		playback.EventStateChanged:    TypeStateChanged,
		playback.EventQueueChanged:    TypeQueueChanged,
		playback.EventSeeked:          TypePosition,
		playback.EventPositionChanged: TypePosition,
		playback.EventDurationChanged: TypeDuration,
		playback.EventVolumeChanged:   TypeVolume,
		playback.EventModeChanged:     TypeMode,
		playback.EventPlaybackFailed:  TypePlaybackFailed,
	}
	for ev, want := range tests {
		assert.Equal(t, want, TypeFor(ev), ev.String())
	}
}
