// Package playback provides the transport controller, the session state it owns,
// and the adapter that binds it to an audio backend.
package playback

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/19player/internal/domain/track"
)

// State represents the transport state derived from the playing flag.
type State int

const (
	StateStopped State = iota // Not playing (paused, ended, or nothing loaded)
	StatePlaying              // Playing
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// RepeatMode defines what happens at the end of a track or the queue.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota // Stop at track end, no wrap at queue end
	RepeatAll                   // Advance at track end, wrap at queue end
	RepeatOne                   // Restart the same track at track end
)

// String returns the repeat mode name.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return "unknown"
	}
}

// Next returns the mode that follows m in the Off, All, One cycle.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatAll
	case RepeatAll:
		return RepeatOne
	default:
		return RepeatOff
	}
}

// ParseRepeatMode parses "off", "all" or "one".
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return RepeatOff, nil
	case "all":
		return RepeatAll, nil
	case "one":
		return RepeatOne, nil
	default:
		return RepeatOff, errors.Newf("unknown repeat mode %q", s)
	}
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	CurrentTrack *track.Track // May be nil; not necessarily present in Queue
	Queue        track.Queue  // A copy; the caller may modify it
	IsPlaying    bool
	Position     time.Duration
	Duration     time.Duration
	Volume       float64 // In [0,1]
	Shuffle      bool
	Repeat       RepeatMode
}

// State returns the transport state.
func (s Snapshot) State() State {
	if s.IsPlaying {
		return StatePlaying
	}
	return StateStopped
}

// CurrentIndex returns the first queue index matching the current track id, or -1.
func (s Snapshot) CurrentIndex() int {
	if s.CurrentTrack == nil {
		return -1
	}
	return s.Queue.IndexOf(s.CurrentTrack.ID)
}

// Remaining returns the time left in the current track, never negative.
func (s Snapshot) Remaining() time.Duration {
	d := s.Duration
	if d == 0 && s.CurrentTrack != nil {
		d = s.CurrentTrack.Duration
	}
	if remaining := d - s.Position; remaining > 0 {
		return remaining
	}
	return 0
}
