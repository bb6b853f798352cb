package playback

import (
	"math/rand/v2"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19player/internal/domain/track"
)

// DefaultRestartThreshold is the position past which PreviousTrack restarts
// the current track instead of moving back.
const DefaultRestartThreshold = 3 * time.Second

// Config holds controller configuration.
type Config struct {
	RestartThreshold time.Duration   // Zero means DefaultRestartThreshold
	Intn             func(n int) int // Random source for shuffle; nil means math/rand/v2
}

// Controller owns transport logic and queue navigation policy.
// All operations are synchronous and never fail: invalid calls are no-ops.
type Controller struct {
	session *Session
	config  Config
}

// NewController creates a controller that mutates the given session.
func NewController(session *Session, config Config) *Controller {
	if config.RestartThreshold <= 0 {
		config.RestartThreshold = DefaultRestartThreshold
	}
	if config.Intn == nil {
		config.Intn = rand.IntN
	}
	return &Controller{
		session: session,
		config:  config,
	}
}

// Session returns the session this controller mutates.
func (c *Controller) Session() *Session {
	return c.session
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	return c.session.Snapshot()
}

// SetCurrentTrack makes t the current track and sets playing.
// The position is not reset here: it resets when the backend reports the new source.
func (c *Controller) SetCurrentTrack(t track.Track) {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.currentTrack == nil || *s.currentTrack != t
	wasPlaying := s.isPlaying

	s.currentTrack = &t
	s.isPlaying = true

	var events []Event
	if changed {
		events = append(events, c.eventLocked(EventTrackChanged))
	}
	if !wasPlaying {
		events = append(events, c.eventLocked(EventStateChanged))
	}
	s.publishLocked(events...)
}

// Play sets the playing flag. With no current track the flag still flips.
func (c *Controller) Play() {
	c.setPlaying(true)
}

// Pause clears the playing flag.
func (c *Controller) Pause() {
	c.setPlaying(false)
}

// TogglePlay flips the playing flag.
func (c *Controller) TogglePlay() {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	s.isPlaying = !s.isPlaying
	s.publishLocked(c.eventLocked(EventStateChanged))
}

func (c *Controller) setPlaying(playing bool) {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isPlaying == playing {
		return
	}
	s.isPlaying = playing
	s.publishLocked(c.eventLocked(EventStateChanged))
}

// SetQueue replaces the queue wholesale. The current track is not checked
// against the new queue.
func (c *Controller) SetQueue(tracks []track.Track) {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = track.Queue(tracks).Clone()
	if s.queue == nil {
		s.queue = track.Queue{}
	}
	s.publishLocked(c.eventLocked(EventQueueChanged))
}

// NextTrack advances to the next queue entry according to shuffle and repeat.
func (c *Controller) NextTrack() {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	c.nextTrackLocked()
}

// Must be called with session mu held.
func (c *Controller) nextTrackLocked() {
	s := c.session
	if s.currentTrack == nil || len(s.queue) == 0 {
		return
	}

	currentIndex := s.queue.IndexOf(s.currentTrack.ID)
	var nextIndex int

	if s.shuffle {
		candidates := make([]int, 0, len(s.queue))
		for i := range s.queue {
			if i != currentIndex {
				candidates = append(candidates, i)
			}
		}
		if len(candidates) == 0 {
			nextIndex = currentIndex
		} else {
			nextIndex = candidates[c.config.Intn(len(candidates))]
		}
	} else {
		nextIndex = currentIndex + 1
		if nextIndex >= len(s.queue) {
			if s.repeat == RepeatAll {
				nextIndex = 0
			} else {
				nextIndex = currentIndex
			}
		}
	}

	if nextIndex == currentIndex && s.repeat == RepeatOff {
		return
	}

	zlog.Debug().Msgf("playback: next track: from=%d to=%d shuffle=%t repeat=%s",
		currentIndex, nextIndex, s.shuffle, s.repeat)
	c.commitLocked(s.queue[nextIndex])
}

// PreviousTrack restarts the current track when past the restart threshold,
// otherwise moves to the previous queue entry, wrapping to the last.
func (c *Controller) PreviousTrack() {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentTrack == nil || len(s.queue) == 0 {
		return
	}

	if s.position > c.config.RestartThreshold {
		s.position = 0
		s.publishLocked(c.eventLocked(EventTrackRestarted))
		return
	}

	currentIndex := s.queue.IndexOf(s.currentTrack.ID)
	prevIndex := len(s.queue) - 1
	if currentIndex > 0 {
		prevIndex = currentIndex - 1
	}

	zlog.Debug().Msgf("playback: previous track: from=%d to=%d", currentIndex, prevIndex)
	c.commitLocked(s.queue[prevIndex])
}

// commitLocked makes t current at position 0 and playing.
// Must be called with session mu held.
func (c *Controller) commitLocked(t track.Track) {
	s := c.session
	same := s.currentTrack != nil && *s.currentTrack == t
	wasPlaying := s.isPlaying

	s.currentTrack = &t
	s.position = 0
	s.isPlaying = true

	events := make([]Event, 0, 2)
	if same {
		events = append(events, c.eventLocked(EventTrackRestarted))
	} else {
		events = append(events, c.eventLocked(EventTrackChanged))
	}
	if !wasPlaying {
		events = append(events, c.eventLocked(EventStateChanged))
	}
	s.publishLocked(events...)
}

// Seek sets the position. No clamping is done here.
func (c *Controller) Seek(to time.Duration) {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	s.position = to
	s.publishLocked(c.eventLocked(EventSeeked))
}

// SetVolume stores v clamped to [0,1].
func (c *Controller) SetVolume(v float64) {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	s.volume = clampVolume(v)
	s.publishLocked(c.eventLocked(EventVolumeChanged))
}

// ToggleShuffle flips shuffle. The queue order is never changed.
func (c *Controller) ToggleShuffle() {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shuffle = !s.shuffle
	s.publishLocked(c.eventLocked(EventModeChanged))
}

// ToggleRepeat cycles Off, All, One.
func (c *Controller) ToggleRepeat() {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	s.repeat = s.repeat.Next()
	s.publishLocked(c.eventLocked(EventModeChanged))
}

// handleTrackEnded applies the end-of-track policy. Called by the adapter only.
func (c *Controller) handleTrackEnded() {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentTrack == nil {
		return
	}

	switch s.repeat {
	case RepeatOne:
		wasPlaying := s.isPlaying
		s.position = 0
		s.isPlaying = true
		events := []Event{c.eventLocked(EventTrackRestarted)}
		if !wasPlaying {
			events = append(events, c.eventLocked(EventStateChanged))
		}
		s.publishLocked(events...)
	case RepeatAll:
		c.nextTrackLocked()
	default:
		if s.isPlaying {
			s.isPlaying = false
			s.publishLocked(c.eventLocked(EventStateChanged))
		}
	}
}

// failPlayback forces playing off and reports err. Called by the adapter only.
func (c *Controller) failPlayback(err error) {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	wasPlaying := s.isPlaying
	s.isPlaying = false

	events := make([]Event, 0, 2)
	if wasPlaying {
		events = append(events, c.eventLocked(EventStateChanged))
	}
	failed := c.eventLocked(EventPlaybackFailed)
	failed.Err = err
	events = append(events, failed)
	s.publishLocked(events...)
}

// syncPosition stores the backend-reported position. Called by the adapter only.
func (c *Controller) syncPosition(pos time.Duration) {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos < 0 {
		pos = 0
	}
	s.position = pos
	s.publishLocked(c.eventLocked(EventPositionChanged))
}

// syncDuration stores the backend-reported duration. Called by the adapter only.
func (c *Controller) syncDuration(d time.Duration) {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if d < 0 {
		d = 0
	}
	s.duration = d
	s.publishLocked(c.eventLocked(EventDurationChanged))
}

// Must be called with session mu held.
func (c *Controller) eventLocked(t EventType) Event {
	return Event{Type: t, Snapshot: c.session.snapshotLocked()}
}

func clampVolume(v float64) float64 {
	if v != v || v < 0 { // NaN or negative
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
