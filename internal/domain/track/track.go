// Package track provides the Track domain entity and the play queue.
package track

import (
	"strings"
	"time"
)

// UnknownAlbum is used when a track record carries no album name.
const UnknownAlbum = "Unknown Album"

// Source identifies where a track record came from.
type Source string

const (
	SourceCommunity Source = "community" // Uploaded to the shared catalog
	SourceSpotify   Source = "spotify"   // Streaming provider catalog
)

// Track is an immutable description of a playable audio item.
// Replace a queued track by constructing a new value.
type Track struct {
	ID       string        // Stable identifier, expected to be unique within a queue
	Title    string        // Track title
	Artist   string        // Artist name
	Album    string        // Album name (UnknownAlbum when absent)
	Duration time.Duration // Catalog duration, may be zero
	MediaURI string        // Playable source; empty means not locally playable
	CoverURI string        // Cover art, optional
	Source   Source        // Provenance, optional
}

// New creates a track, applying the album sentinel and clamping negative durations.
func New(id, title, artist, album string, duration time.Duration, mediaURI string) Track {
	if strings.TrimSpace(album) == "" {
		album = UnknownAlbum
	}
	if duration < 0 {
		duration = 0
	}
	return Track{
		ID:       id,
		Title:    title,
		Artist:   artist,
		Album:    album,
		Duration: duration,
		MediaURI: mediaURI,
	}
}

// WithCover returns a copy of the track with the cover set.
func (t Track) WithCover(uri string) Track {
	t.CoverURI = uri
	return t
}

// WithSource returns a copy of the track with the source tag set.
func (t Track) WithSource(s Source) Track {
	t.Source = s
	return t
}

// IsLocallyPlayable reports whether the track has a media source to decode.
func (t Track) IsLocallyPlayable() bool {
	return t.MediaURI != ""
}

// HasUnknownAlbum reports whether the album is missing or the sentinel.
func (t Track) HasUnknownAlbum() bool {
	return t.Album == "" || t.Album == UnknownAlbum
}

// SpotifyURI returns the spotify:track URI, or "" for non-spotify tracks.
func (t Track) SpotifyURI() string {
	if t.Source != SourceSpotify || t.ID == "" {
		return ""
	}
	if strings.HasPrefix(t.ID, "spotify:track:") {
		return t.ID
	}
	return "spotify:track:" + t.ID
}

// Queue is an ordered sequence of tracks; insertion order is playback order.
type Queue []Track

// IndexOf returns the index of the first track with the given id, or -1.
// Queues holding duplicate ids always resolve to the first match.
func (q Queue) IndexOf(id string) int {
	for i, t := range q {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Contains reports whether a track with the id is queued.
func (q Queue) Contains(id string) bool {
	return q.IndexOf(id) >= 0
}

// IDs returns the track ids in queue order.
func (q Queue) IDs() []string {
	ids := make([]string, len(q))
	for i, t := range q {
		ids[i] = t.ID
	}
	return ids
}

// TotalDuration returns the sum of catalog durations.
func (q Queue) TotalDuration() time.Duration {
	var total time.Duration
	for _, t := range q {
		total += t.Duration
	}
	return total
}

// Clone returns a copy that shares no backing array with q.
func (q Queue) Clone() Queue {
	if q == nil {
		return nil
	}
	c := make(Queue, len(q))
	copy(c, q)
	return c
}
