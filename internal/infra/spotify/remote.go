package spotify

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/19player/internal/app/playback"
	"github.com/osa030/19player/internal/domain/track"
)

// RemoteConfig represents remote device configuration.
type RemoteConfig struct {
	Name              string        // Device name for selection
	DeviceName        string        // Spotify Connect device to play on
	PollInterval      time.Duration // Player state polling interval
	RequestsPerSecond float64       // Web API call pacing
	FailureThreshold  int           // Consecutive poll failures reported as a backend error
}

// RemoteBackend is a playback.Backend that drives a Spotify Connect device.
// The device has no separate load step: the source starts on the first Play.
type RemoteBackend struct {
	name             string
	deviceName       string
	player           Player
	limiter          *rate.Limiter
	pollInterval     time.Duration
	failureThreshold int
	emitter          playback.Emitter

	mu           sync.Mutex
	deviceID     string
	token        playback.LoadToken
	uri          string
	trackID      string
	started      bool
	playing      bool
	sawProgress  bool
	ended        bool
	durationSent bool
	position     time.Duration
	pendingSeek  time.Duration
	volume       int // Percent, -1 when never set
	volumeSent   bool
	failures     int

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

var _ playback.Backend = (*RemoteBackend)(nil)

// NewRemoteBackend creates a remote backend over player.
func NewRemoteBackend(player Player, cfg RemoteConfig) *RemoteBackend {
	if cfg.Name == "" {
		cfg.Name = "spotify"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	return &RemoteBackend{
		name:             cfg.Name,
		deviceName:       cfg.DeviceName,
		player:           player,
		limiter:          rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		pollInterval:     cfg.PollInterval,
		failureThreshold: cfg.FailureThreshold,
		volume:           -1,
	}
}

// Name returns the device name.
func (b *RemoteBackend) Name() string {
	return b.name
}

// CanPlay reports whether t is a Spotify track.
func (b *RemoteBackend) CanPlay(t track.Track) bool {
	return t.SpotifyURI() != ""
}

// Devices lists the Connect devices visible to the account.
func (b *RemoteBackend) Devices(ctx context.Context) ([]Device, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.player.Devices(ctx)
}

// Load resolves the device and installs the track's URI.
func (b *RemoteBackend) Load(ctx context.Context, token playback.LoadToken, t track.Track) error {
	uri := t.SpotifyURI()
	if uri == "" {
		return errors.Wrapf(playback.ErrNotPlayable, "track %s is not a spotify track", t.ID)
	}

	b.mu.Lock()
	stale := token < b.token
	wasPlaying := b.started && b.playing
	deviceID := b.deviceID
	b.mu.Unlock()
	if stale {
		return playback.ErrStaleLoad
	}

	if deviceID == "" {
		id, err := b.resolveDevice(ctx)
		if err != nil {
			return err
		}
		deviceID = id
	}

	if wasPlaying {
		if err := b.call(ctx, func(ctx context.Context) error {
			return b.player.Pause(ctx, deviceID)
		}); err != nil {
			zlog.Warn().Err(err).Msgf("spotify: pause before load failed: device=%s", b.deviceName)
		}
	}

	b.mu.Lock()
	if token < b.token {
		b.mu.Unlock()
		return playback.ErrStaleLoad
	}
	b.deviceID = deviceID
	b.token = token
	b.uri = uri
	b.trackID = strings.TrimPrefix(uri, "spotify:track:")
	b.started = false
	b.playing = false
	b.sawProgress = false
	b.ended = false
	b.position = 0
	b.pendingSeek = 0
	b.failures = 0
	b.durationSent = t.Duration > 0
	b.ensurePollerLocked()
	b.mu.Unlock()

	zlog.Debug().Msgf("spotify: loaded: token=%d uri=%s device=%s", token, uri, b.deviceName)

	if t.Duration > 0 {
		b.emitter.Emit(playback.BackendEvent{Type: playback.BackendDurationKnown, Token: token, Duration: t.Duration})
	}
	return nil
}

func (b *RemoteBackend) resolveDevice(ctx context.Context) (string, error) {
	devices, err := b.Devices(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to list devices")
	}
	for _, d := range devices {
		if strings.EqualFold(d.Name, b.deviceName) {
			if d.Restricted {
				return "", errors.Wrapf(playback.ErrNotPlayable, "device %q is restricted", d.Name)
			}
			return d.ID, nil
		}
	}
	return "", errors.Wrapf(playback.ErrUnknownDevice, "spotify device %q not found", b.deviceName)
}

// Play starts the loaded URI, or resumes it.
func (b *RemoteBackend) Play(ctx context.Context) error {
	b.mu.Lock()
	if b.uri == "" {
		b.mu.Unlock()
		return playback.ErrNoSource
	}
	deviceID, uri, started := b.deviceID, b.uri, b.started
	pendingSeek := b.pendingSeek
	volume, volumeSent := b.volume, b.volumeSent
	b.mu.Unlock()

	startURI := ""
	if !started {
		startURI = uri
	}
	if err := b.call(ctx, func(ctx context.Context) error {
		return b.player.Play(ctx, deviceID, startURI)
	}); err != nil {
		return errors.Wrap(err, "spotify play failed")
	}

	if !started && pendingSeek > 0 {
		if err := b.call(ctx, func(ctx context.Context) error {
			return b.player.Seek(ctx, deviceID, pendingSeek)
		}); err != nil {
			zlog.Warn().Err(err).Msgf("spotify: resume seek failed: device=%s", b.deviceName)
		}
	}
	if volume >= 0 && !volumeSent {
		b.sendVolume(ctx, deviceID, volume)
	}

	b.mu.Lock()
	if b.uri == uri {
		b.started = true
		b.playing = true
		b.sawProgress = false
		b.ended = false
		b.pendingSeek = 0
	}
	b.mu.Unlock()
	return nil
}

// Pause pauses the device. Before the first Play there is nothing to pause.
func (b *RemoteBackend) Pause(ctx context.Context) error {
	b.mu.Lock()
	deviceID, started := b.deviceID, b.started
	b.playing = false
	b.mu.Unlock()

	if !started {
		return nil
	}
	return b.call(ctx, func(ctx context.Context) error {
		return b.player.Pause(ctx, deviceID)
	})
}

// Seek seeks the device, or defers the seek until playback starts.
func (b *RemoteBackend) Seek(ctx context.Context, pos time.Duration) error {
	pos = max(pos, 0)

	b.mu.Lock()
	if b.uri == "" {
		b.mu.Unlock()
		return playback.ErrNoSource
	}
	deviceID, started := b.deviceID, b.started
	b.position = pos
	if !started {
		b.pendingSeek = pos
	}
	b.mu.Unlock()

	if !started {
		return nil
	}
	return b.call(ctx, func(ctx context.Context) error {
		return b.player.Seek(ctx, deviceID, pos)
	})
}

// SetVolume sets the device volume. It is deferred until a device is known.
func (b *RemoteBackend) SetVolume(ctx context.Context, v float64) error {
	percent := int(math.Round(min(max(v, 0), 1) * 100))

	b.mu.Lock()
	b.volume = percent
	b.volumeSent = false
	deviceID, started := b.deviceID, b.started
	b.mu.Unlock()

	if !started {
		return nil
	}
	return b.sendVolume(ctx, deviceID, percent)
}

func (b *RemoteBackend) sendVolume(ctx context.Context, deviceID string, percent int) error {
	err := b.call(ctx, func(ctx context.Context) error {
		return b.player.Volume(ctx, deviceID, percent)
	})
	if err != nil {
		// Some devices do not support remote volume
		zlog.Warn().Err(err).Msgf("spotify: set volume failed: device=%s", b.deviceName)
		return err
	}
	b.mu.Lock()
	if b.volume == percent {
		b.volumeSent = true
	}
	b.mu.Unlock()
	return nil
}

// Position returns the last known device position.
func (b *RemoteBackend) Position() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position
}

// Subscribe registers a backend event listener.
func (b *RemoteBackend) Subscribe() (<-chan playback.BackendEvent, func()) {
	return b.emitter.Subscribe()
}

// Release stops polling and pauses the device if it is playing.
func (b *RemoteBackend) Release(ctx context.Context) error {
	b.mu.Lock()
	cancel, done := b.pollCancel, b.pollDone
	b.pollCancel, b.pollDone = nil, nil
	deviceID, playing := b.deviceID, b.started && b.playing
	b.uri = ""
	b.trackID = ""
	b.started = false
	b.playing = false
	b.position = 0
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "poller did not stop")
		}
	}

	if playing {
		return b.call(ctx, func(ctx context.Context) error {
			return b.player.Pause(ctx, deviceID)
		})
	}
	return nil
}

// call paces a Web API call.
func (b *RemoteBackend) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// Must be called with mu held.
func (b *RemoteBackend) ensurePollerLocked() {
	if b.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.pollCancel, b.pollDone = cancel, done
	go b.poll(ctx, done)
}

func (b *RemoteBackend) poll(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ev := range b.pollOnce(ctx) {
				b.emitter.Emit(ev)
			}
		}
	}
}

// pollOnce fetches the player state and derives backend events from it.
// The device reports an ended track as paused at position 0.
func (b *RemoteBackend) pollOnce(ctx context.Context) []playback.BackendEvent {
	b.mu.Lock()
	active := b.started && !b.ended
	b.mu.Unlock()
	if !active {
		return nil
	}

	var st *PlayerState
	err := b.call(ctx, func(ctx context.Context) error {
		s, err := b.player.State(ctx)
		st = s
		return err
	})
	if ctx.Err() != nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started || b.ended {
		return nil
	}
	token := b.token

	if err != nil {
		b.failures++
		zlog.Debug().Err(err).Msgf("spotify: poll failed: failures=%d", b.failures)
		if b.failures < b.failureThreshold {
			return nil
		}
		b.failures = 0
		b.started = false
		b.playing = false
		return []playback.BackendEvent{{
			Type:  playback.BackendError,
			Token: token,
			Err:   errors.Wrap(err, "spotify player state unavailable"),
		}}
	}
	b.failures = 0

	var events []playback.BackendEvent
	if st.TrackID != b.trackID {
		// The device moved on, e.g. autoplay after our track finished
		if b.sawProgress {
			b.finishLocked()
			events = append(events, playback.BackendEvent{Type: playback.BackendEnded, Token: token})
		}
		return events
	}

	if !b.durationSent && st.Duration > 0 {
		b.durationSent = true
		events = append(events, playback.BackendEvent{Type: playback.BackendDurationKnown, Token: token, Duration: st.Duration})
	}

	b.position = st.Progress
	if st.Playing {
		if st.Progress > 0 {
			b.sawProgress = true
		}
		events = append(events, playback.BackendEvent{Type: playback.BackendTimeUpdate, Token: token, Position: st.Progress})
		return events
	}

	if b.sawProgress && st.Progress == 0 {
		b.finishLocked()
		events = append(events, playback.BackendEvent{Type: playback.BackendEnded, Token: token})
	}
	return events
}

// finishLocked marks the source ended. The device no longer holds our item
// at a usable position, so the next Play starts the URI again and seeks
// before that are deferred.
// Must be called with mu held.
func (b *RemoteBackend) finishLocked() {
	b.ended = true
	b.started = false
	b.playing = false
	b.sawProgress = false
	b.pendingSeek = 0
}
