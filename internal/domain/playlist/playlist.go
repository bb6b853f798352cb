// Package playlist provides the personal Playlist domain entity.
package playlist

import (
	"time"

	"github.com/osa030/19player/internal/domain/track"
)

// Playlist represents a listener's personal playlist.
type Playlist struct {
	ID        string        // UUID
	Name      string        // Playlist name
	Tracks    []track.Track // Tracks in insertion order
	CreatedAt time.Time     // Creation time
	CoverURI  string        // Cover art, optional
}

// TrackIDs returns all track IDs in the playlist.
func (p *Playlist) TrackIDs() []string {
	ids := make([]string, len(p.Tracks))
	for i, t := range p.Tracks {
		ids[i] = t.ID
	}
	return ids
}

// TotalDuration returns the total duration of all tracks.
func (p *Playlist) TotalDuration() time.Duration {
	var total time.Duration
	for _, t := range p.Tracks {
		total += t.Duration
	}
	return total
}

// Remove drops every entry with the given track ID and reports whether any was removed.
func (p *Playlist) Remove(trackID string) bool {
	kept := p.Tracks[:0]
	removed := false
	for _, t := range p.Tracks {
		if t.ID == trackID {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	p.Tracks = kept
	return removed
}

// Queue returns the playlist as a play queue.
func (p *Playlist) Queue() track.Queue {
	return track.Queue(p.Tracks).Clone()
}
