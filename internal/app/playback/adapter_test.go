package playback

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19player/internal/domain/track"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeBackend records commands and lets tests drive backend events.
type fakeBackend struct {
	name    string
	emitter Emitter

	mu       sync.Mutex
	calls    []string
	gates    map[string]chan struct{}
	loadErr  error
	playErr  error
	token    LoadToken
	position time.Duration
	volume   float64
	released int
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{name: name, gates: make(map[string]chan struct{})}
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *fakeBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

func (b *fakeBackend) hasCall(call string) bool {
	return slices.Contains(b.Calls(), call)
}

func (b *fakeBackend) count(call string) int {
	n := 0
	for _, c := range b.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// gate makes the load of id block until the returned func is called.
func (b *fakeBackend) gate(id string) func() {
	ch := make(chan struct{})
	b.mu.Lock()
	b.gates[id] = ch
	b.mu.Unlock()
	return func() { close(ch) }
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Load(ctx context.Context, token LoadToken, t track.Track) error {
	b.record("load:" + t.ID)

	b.mu.Lock()
	gate := b.gates[t.ID]
	err := b.loadErr
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	b.record("loaded:" + t.ID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if token < b.token {
		return ErrStaleLoad
	}
	b.token = token
	b.position = 0
	return nil
}

func (b *fakeBackend) Play(ctx context.Context) error {
	b.record("play")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playErr
}

func (b *fakeBackend) Pause(ctx context.Context) error {
	b.record("pause")
	return nil
}

func (b *fakeBackend) Seek(ctx context.Context, pos time.Duration) error {
	b.record("seek:" + pos.String())
	b.mu.Lock()
	b.position = pos
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) SetVolume(ctx context.Context, v float64) error {
	b.record("volume")
	b.mu.Lock()
	b.volume = v
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) Position() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position
}

func (b *fakeBackend) Subscribe() (<-chan BackendEvent, func()) {
	return b.emitter.Subscribe()
}

func (b *fakeBackend) Release(ctx context.Context) error {
	b.record("release")
	b.mu.Lock()
	b.released++
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) currentToken() LoadToken {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

func (b *fakeBackend) emitTime(pos time.Duration) {
	b.mu.Lock()
	b.position = pos
	token := b.token
	b.mu.Unlock()
	b.emitter.Emit(BackendEvent{Type: BackendTimeUpdate, Token: token, Position: pos})
}

func (b *fakeBackend) emit(ev BackendEvent) {
	if ev.Token == 0 {
		ev.Token = b.currentToken()
	}
	b.emitter.Emit(ev)
}

type adapterHarness struct {
	controller *Controller
	adapter    *Adapter
	sub        *Subscription
	cancel     context.CancelFunc
	done       chan error

	mu     sync.Mutex
	events []Event
}

func startAdapter(t *testing.T, backends ...Backend) *adapterHarness {
	t.Helper()

	c := NewController(NewSession(), Config{})
	a, err := NewAdapter(c, AdapterConfig{}, backends...)
	require.NoError(t, err)

	h := &adapterHarness{
		controller: c,
		adapter:    a,
		sub:        c.Session().Subscribe(),
		done:       make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- a.Run(ctx) }()
	require.Eventually(t, func() bool { return c.Session().SubscriberCount() == 2 }, waitFor, tick)

	t.Cleanup(func() {
		h.stop(t)
		h.sub.Close()
	})
	return h
}

func (h *adapterHarness) stop(t *testing.T) {
	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("adapter did not stop")
	}
}

// collected returns every session event observed so far.
func (h *adapterHarness) collected() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, h.sub.Drain()...)
	return slices.Clone(h.events)
}

func (h *adapterHarness) sawFailure() bool {
	for _, ev := range h.collected() {
		if ev.Type == EventPlaybackFailed {
			return true
		}
	}
	return false
}

func TestNewAdapter_Validation(t *testing.T) {
	c := NewController(NewSession(), Config{})

	_, err := NewAdapter(c, AdapterConfig{})
	assert.Error(t, err)

	_, err = NewAdapter(c, AdapterConfig{}, newFakeBackend("local"), newFakeBackend("local"))
	assert.Error(t, err)

	a, err := NewAdapter(c, AdapterConfig{}, newFakeBackend("local"), newFakeBackend("remote"))
	require.NoError(t, err)
	assert.Equal(t, "local", a.Active())
	assert.Equal(t, []DeviceInfo{{Name: "local", Active: true}, {Name: "remote"}}, a.Devices())
}

func TestAdapter_LoadsAndPlays(t *testing.T) {
	b := newFakeBackend("local")
	h := startAdapter(t, b)

	h.controller.Seek(time.Minute)
	h.controller.SetCurrentTrack(testTracks("a")[0])

	require.Eventually(t, func() bool { return b.hasCall("play") }, waitFor, tick)
	assert.Equal(t, time.Duration(0), h.controller.Snapshot().Position, "position resets on source change")
	assert.True(t, h.controller.Snapshot().IsPlaying)

	calls := b.Calls()
	assert.Less(t, slices.Index(calls, "loaded:a"), slices.Index(calls, "play"))
}

func TestAdapter_StaleLoadDiscarded(t *testing.T) {
	b := newFakeBackend("local")
	h := startAdapter(t, b)
	tracks := testTracks("x", "y")

	releaseX := b.gate("x")
	h.controller.SetCurrentTrack(tracks[0])
	require.Eventually(t, func() bool { return b.hasCall("load:x") }, waitFor, tick)

	h.controller.SetCurrentTrack(tracks[1])
	require.Eventually(t, func() bool { return b.hasCall("play") }, waitFor, tick)
	h.controller.syncPosition(20 * time.Second)
	before := h.controller.Snapshot()

	releaseX()
	require.Eventually(t, func() bool { return b.hasCall("loaded:x") }, waitFor, tick)

	assert.Never(t, func() bool {
		snap := h.controller.Snapshot()
		return snap.CurrentTrack.ID != "y" || !snap.IsPlaying || snap.Position != before.Position
	}, 100*time.Millisecond, tick)
	assert.False(t, h.sawFailure())
	assert.Equal(t, 1, b.count("play"))
}

func TestAdapter_StaleBackendEventsIgnored(t *testing.T) {
	b := newFakeBackend("local")
	h := startAdapter(t, b)
	tracks := testTracks("a", "b")

	h.controller.SetCurrentTrack(tracks[0])
	require.Eventually(t, func() bool { return b.hasCall("play") }, waitFor, tick)
	oldToken := b.currentToken()

	h.controller.SetCurrentTrack(tracks[1])
	require.Eventually(t, func() bool { return b.count("play") == 2 }, waitFor, tick)

	b.emit(BackendEvent{Type: BackendEnded, Token: oldToken})
	b.emit(BackendEvent{Type: BackendTimeUpdate, Token: oldToken, Position: time.Minute})

	assert.Never(t, func() bool {
		snap := h.controller.Snapshot()
		return !snap.IsPlaying || snap.Position == time.Minute
	}, 100*time.Millisecond, tick)
}

func TestAdapter_PlayRejectedStopsPlayback(t *testing.T) {
	b := newFakeBackend("local")
	b.playErr = errors.New("autoplay blocked")
	h := startAdapter(t, b)

	h.controller.SetCurrentTrack(testTracks("a")[0])

	require.Eventually(t, h.sawFailure, waitFor, tick)
	assert.False(t, h.controller.Snapshot().IsPlaying)
	assert.Equal(t, 1, b.count("play"), "failures are never retried")
}

func TestAdapter_LoadFailureStopsPlayback(t *testing.T) {
	b := newFakeBackend("local")
	b.loadErr = ErrNotPlayable
	h := startAdapter(t, b)

	h.controller.SetCurrentTrack(testTracks("a")[0])

	require.Eventually(t, h.sawFailure, waitFor, tick)
	assert.False(t, h.controller.Snapshot().IsPlaying)
	assert.False(t, b.hasCall("play"))

	var failure error
	for _, ev := range h.collected() {
		if ev.Type == EventPlaybackFailed {
			failure = ev.Err
		}
	}
	assert.ErrorIs(t, failure, ErrNotPlayable)
}

func TestAdapter_BackendFeedsPositionAndDuration(t *testing.T) {
	b := newFakeBackend("local")
	h := startAdapter(t, b)

	h.controller.SetCurrentTrack(testTracks("a")[0])
	require.Eventually(t, func() bool { return b.hasCall("play") }, waitFor, tick)

	b.emit(BackendEvent{Type: BackendDurationKnown, Duration: 3 * time.Minute})
	b.emitTime(12 * time.Second)

	require.Eventually(t, func() bool {
		snap := h.controller.Snapshot()
		return snap.Duration == 3*time.Minute && snap.Position == 12*time.Second
	}, waitFor, tick)
}

func TestAdapter_EndedPolicy(t *testing.T) {
	tracks := testTracks("a", "b")

	t.Run("repeat off stops", func(t *testing.T) {
		b := newFakeBackend("local")
		h := startAdapter(t, b)
		h.controller.SetQueue(tracks)
		h.controller.SetCurrentTrack(tracks[1])
		require.Eventually(t, func() bool { return b.hasCall("play") }, waitFor, tick)

		b.emit(BackendEvent{Type: BackendEnded})
		require.Eventually(t, func() bool { return !h.controller.Snapshot().IsPlaying }, waitFor, tick)
		assert.Equal(t, "b", h.controller.Snapshot().CurrentTrack.ID)
	})

	t.Run("repeat one seeks to start", func(t *testing.T) {
		b := newFakeBackend("local")
		h := startAdapter(t, b)
		h.controller.SetQueue(tracks)
		h.controller.ToggleRepeat()
		h.controller.ToggleRepeat()
		h.controller.SetCurrentTrack(tracks[0])
		require.Eventually(t, func() bool { return b.hasCall("play") }, waitFor, tick)

		b.emitTime(3 * time.Minute)
		b.emit(BackendEvent{Type: BackendEnded})

		require.Eventually(t, func() bool { return b.count("play") == 2 }, waitFor, tick)
		assert.True(t, b.hasCall("seek:0s"))
		assert.Equal(t, 1, b.count("load:a"))
		assert.Equal(t, "a", h.controller.Snapshot().CurrentTrack.ID)
	})

	t.Run("repeat all loads next", func(t *testing.T) {
		b := newFakeBackend("local")
		h := startAdapter(t, b)
		h.controller.SetQueue(tracks)
		h.controller.ToggleRepeat()
		h.controller.SetCurrentTrack(tracks[1])
		require.Eventually(t, func() bool { return b.hasCall("play") }, waitFor, tick)

		b.emit(BackendEvent{Type: BackendEnded})
		require.Eventually(t, func() bool { return b.hasCall("loaded:a") && b.count("play") == 2 }, waitFor, tick)
		assert.Equal(t, "a", h.controller.Snapshot().CurrentTrack.ID)
	})
}

func TestAdapter_BackendErrorStopsPlayback(t *testing.T) {
	b := newFakeBackend("local")
	h := startAdapter(t, b)

	h.controller.SetCurrentTrack(testTracks("a")[0])
	require.Eventually(t, func() bool { return b.hasCall("play") }, waitFor, tick)

	b.emit(BackendEvent{Type: BackendError, Err: errors.New("stream reset")})
	require.Eventually(t, h.sawFailure, waitFor, tick)
	assert.False(t, h.controller.Snapshot().IsPlaying)

	// an explicit play reloads the source
	h.controller.Play()
	require.Eventually(t, func() bool { return b.count("load:a") == 2 }, waitFor, tick)
}

func TestAdapter_SeekTolerance(t *testing.T) {
	b := newFakeBackend("local")
	h := startAdapter(t, b)

	h.controller.SetCurrentTrack(testTracks("a")[0])
	require.Eventually(t, func() bool { return b.hasCall("play") }, waitFor, tick)
	b.emitTime(10 * time.Second)
	require.Eventually(t, func() bool { return h.controller.Snapshot().Position == 10*time.Second }, waitFor, tick)

	h.controller.Seek(10*time.Second + 500*time.Millisecond)
	h.controller.Seek(time.Minute)

	require.Eventually(t, func() bool { return b.hasCall("seek:1m0s") }, waitFor, tick)
	assert.False(t, b.hasCall("seek:10.5s"))
}

func TestAdapter_ForwardsPauseAndVolume(t *testing.T) {
	b := newFakeBackend("local")
	h := startAdapter(t, b)

	h.controller.SetCurrentTrack(testTracks("a")[0])
	require.Eventually(t, func() bool { return b.hasCall("play") }, waitFor, tick)

	h.controller.Pause()
	require.Eventually(t, func() bool { return b.hasCall("pause") }, waitFor, tick)

	h.controller.SetVolume(0.3)
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.volume == 0.3
	}, waitFor, tick)
}

func TestAdapter_PlayWithoutTrackIsSilent(t *testing.T) {
	b := newFakeBackend("local")
	h := startAdapter(t, b)

	h.controller.Play()
	assert.True(t, h.controller.Snapshot().IsPlaying)
	assert.Never(t, func() bool { return b.hasCall("play") }, 50*time.Millisecond, tick)
}

func TestAdapter_SelectDevice(t *testing.T) {
	local := newFakeBackend("local")
	remote := newFakeBackend("remote")
	h := startAdapter(t, local, remote)

	h.controller.SetCurrentTrack(testTracks("a")[0])
	require.Eventually(t, func() bool { return local.hasCall("play") }, waitFor, tick)
	local.emitTime(40 * time.Second)
	require.Eventually(t, func() bool { return h.controller.Snapshot().Position == 40*time.Second }, waitFor, tick)

	err := h.adapter.SelectDevice(context.Background(), "remote")
	require.NoError(t, err)
	assert.Equal(t, "remote", h.adapter.Active())

	require.Eventually(t, func() bool { return remote.hasCall("play") }, waitFor, tick)
	assert.True(t, local.hasCall("release"))
	assert.Equal(t, 0, local.emitter.Count())
	assert.True(t, remote.hasCall("load:a"))
	assert.True(t, remote.hasCall("seek:40s"))
	assert.Equal(t, 40*time.Second, h.controller.Snapshot().Position)

	// events from the released backend no longer reach the session
	local.emit(BackendEvent{Type: BackendEnded})
	assert.Never(t, func() bool { return !h.controller.Snapshot().IsPlaying }, 50*time.Millisecond, tick)

	err = h.adapter.SelectDevice(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

// switchTo moves playback of a at 40s onto a remote whose load of a is held.
func switchTo(t *testing.T, h *adapterHarness, local, remote *fakeBackend) func() {
	t.Helper()
	tracks := testTracks("a")
	h.controller.SetQueue(tracks)
	h.controller.SetCurrentTrack(tracks[0])
	require.Eventually(t, func() bool { return local.hasCall("play") }, waitFor, tick)
	local.emitTime(40 * time.Second)
	require.Eventually(t, func() bool { return h.controller.Snapshot().Position == 40*time.Second }, waitFor, tick)

	release := remote.gate("a")
	require.NoError(t, h.adapter.SelectDevice(context.Background(), "remote"))
	require.Eventually(t, func() bool { return remote.hasCall("load:a") }, waitFor, tick)
	return release
}

// waitHandled blocks until the loop has processed every session event
// published before it.
func waitHandled(t *testing.T, h *adapterHarness, b *fakeBackend) {
	t.Helper()
	h.controller.SetVolume(0.7)
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.volume == 0.7
	}, waitFor, tick)
}

func TestAdapter_RestartDuringDeviceSwitch(t *testing.T) {
	local := newFakeBackend("local")
	remote := newFakeBackend("remote")
	h := startAdapter(t, local, remote)
	release := switchTo(t, h, local, remote)

	h.controller.PreviousTrack()
	waitHandled(t, h, remote)
	release()

	require.Eventually(t, func() bool { return remote.hasCall("play") }, waitFor, tick)
	assert.False(t, remote.hasCall("seek:40s"))
	assert.Equal(t, time.Duration(0), h.controller.Snapshot().Position)
}

func TestAdapter_SeekDuringDeviceSwitch(t *testing.T) {
	local := newFakeBackend("local")
	remote := newFakeBackend("remote")
	h := startAdapter(t, local, remote)
	release := switchTo(t, h, local, remote)

	h.controller.Seek(15 * time.Second)
	waitHandled(t, h, remote)
	release()

	require.Eventually(t, func() bool { return remote.hasCall("play") }, waitFor, tick)
	assert.True(t, remote.hasCall("seek:15s"))
	assert.False(t, remote.hasCall("seek:40s"))
	assert.Equal(t, 15*time.Second, h.controller.Snapshot().Position)
}

func TestAdapter_SelectDeviceBeforeRun(t *testing.T) {
	c := NewController(NewSession(), Config{})
	a, err := NewAdapter(c, AdapterConfig{}, newFakeBackend("local"), newFakeBackend("remote"))
	require.NoError(t, err)

	require.NoError(t, a.SelectDevice(context.Background(), "remote"))
	assert.Equal(t, "remote", a.Active())
	assert.ErrorIs(t, a.SelectDevice(context.Background(), "nope"), ErrUnknownDevice)
}

func TestAdapter_Teardown(t *testing.T) {
	b := newFakeBackend("local")
	c := NewController(NewSession(), Config{})
	a, err := NewAdapter(c, AdapterConfig{}, b)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	releaseA := b.gate("a")
	c.SetCurrentTrack(testTracks("a")[0])
	require.Eventually(t, func() bool { return b.hasCall("load:a") && b.emitter.Count() == 1 }, waitFor, tick)
	assert.Equal(t, 1, c.Session().SubscriberCount())

	cancel()
	releaseA()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("run did not return")
	}

	assert.Equal(t, 1, b.count("release"))
	assert.Equal(t, 0, b.emitter.Count())
	assert.Equal(t, 0, c.Session().SubscriberCount())

	assert.Error(t, a.Run(context.Background()), "run is single use")
	assert.ErrorIs(t, a.SelectDevice(context.Background(), "local"), ErrNotRunning)
}
