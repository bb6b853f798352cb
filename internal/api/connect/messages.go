package connect

import (
	"time"

	"github.com/osa030/19player/internal/app/filter"
	"github.com/osa030/19player/internal/app/notification"
	"github.com/osa030/19player/internal/app/playback"
	"github.com/osa030/19player/internal/app/session"
	"github.com/osa030/19player/internal/domain/playlist"
	"github.com/osa030/19player/internal/domain/track"
)

// Empty is the request or response of procedures without fields.
type Empty struct{}

// Track is a track on the wire.
type Track struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	MediaURI   string `json:"media_uri,omitempty"`
	CoverURI   string `json:"cover_uri,omitempty"`
	Source     string `json:"source,omitempty"`
}

// State is the playback session state.
type State struct {
	CurrentTrack *Track  `json:"current_track,omitempty"`
	CurrentIndex int     `json:"current_index"`
	Queue        []Track `json:"queue"`
	State        string  `json:"state"`
	PositionMs   int64   `json:"position_ms"`
	DurationMs   int64   `json:"duration_ms"`
	RemainingMs  int64   `json:"remaining_ms"`
	Volume       float64 `json:"volume"`
	Shuffle      bool    `json:"shuffle"`
	Repeat       string  `json:"repeat"`
}

// Device is a playback device.
type Device struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// StatusResponse is returned by GetStatus.
type StatusResponse struct {
	State   State    `json:"state"`
	Device  string   `json:"device"`
	Devices []Device `json:"devices"`
}

// StateResponse is returned by transport procedures.
type StateResponse struct {
	State State `json:"state"`
}

// SeekRequest moves the position.
type SeekRequest struct {
	PositionMs int64 `json:"position_ms"`
}

// SetVolumeRequest sets the volume in [0,1].
type SetVolumeRequest struct {
	Volume float64 `json:"volume"`
}

// PlayTrackRequest makes a queued track current.
type PlayTrackRequest struct {
	TrackID string `json:"track_id"`
}

// LoadQueueRequest replaces the queue with the given tracks.
type LoadQueueRequest struct {
	Tracks  []Track `json:"tracks"`
	StartID string  `json:"start_id,omitempty"`
}

// LoadSearchRequest queues catalog search results.
type LoadSearchRequest struct {
	Query string `json:"query"`
}

// LoadPlaylistRequest queues a personal playlist id or a catalog playlist URL.
type LoadPlaylistRequest struct {
	ID string `json:"id"`
}

// Rejection is a track dropped by the filter chain.
type Rejection struct {
	TrackID string `json:"track_id"`
	Title   string `json:"title"`
	Filter  string `json:"filter"`
	Code    string `json:"code"`
}

// LoadResponse reports what a load queued.
type LoadResponse struct {
	Queued   int         `json:"queued"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// SelectDeviceRequest switches the active device.
type SelectDeviceRequest struct {
	Name string `json:"name"`
}

// DevicesResponse lists the playback devices.
type DevicesResponse struct {
	Devices []Device `json:"devices"`
}

// TracksResponse is a list of tracks.
type TracksResponse struct {
	Tracks []Track `json:"tracks"`
}

// Playlist is a personal playlist.
type Playlist struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	CoverURI        string  `json:"cover_uri,omitempty"`
	CreatedAt       string  `json:"created_at"`
	TotalDurationMs int64   `json:"total_duration_ms"`
	Tracks          []Track `json:"tracks"`
}

// CreatePlaylistRequest creates an empty playlist.
type CreatePlaylistRequest struct {
	Name string `json:"name"`
}

// PlaylistRequest addresses a playlist.
type PlaylistRequest struct {
	ID string `json:"id"`
}

// PlaylistTrackRequest addresses a track within a playlist.
type PlaylistTrackRequest struct {
	PlaylistID string `json:"playlist_id"`
	TrackID    string `json:"track_id"`
}

// PlaylistsResponse lists playlists.
type PlaylistsResponse struct {
	Playlists []Playlist `json:"playlists"`
}

// LibraryTrackRequest addresses a track in the saved-tracks library.
type LibraryTrackRequest struct {
	TrackID string `json:"track_id"`
}

// SaveTrackResponse reports whether the track was newly saved.
type SaveTrackResponse struct {
	Added bool `json:"added"`
}

// IsTrackSavedResponse reports library membership.
type IsTrackSavedResponse struct {
	Saved bool `json:"saved"`
}

// Notification is a session change pushed to subscribers.
type Notification struct {
	SequenceNo uint64 `json:"sequence_no"`
	Type       string `json:"type"`
	State      State  `json:"state"`
	Device     string `json:"device"`
	Error      string `json:"error,omitempty"`
	Time       string `json:"time"`
}

func toTrack(t track.Track) Track {
	return Track{
		ID:         t.ID,
		Title:      t.Title,
		Artist:     t.Artist,
		Album:      t.Album,
		DurationMs: t.Duration.Milliseconds(),
		MediaURI:   t.MediaURI,
		CoverURI:   t.CoverURI,
		Source:     string(t.Source),
	}
}

func toTracks(tracks []track.Track) []Track {
	out := make([]Track, len(tracks))
	for i, t := range tracks {
		out[i] = toTrack(t)
	}
	return out
}

// FromTrack converts a wire track into a domain track.
func FromTrack(m Track) track.Track {
	return track.New(m.ID, m.Title, m.Artist, m.Album,
		time.Duration(m.DurationMs)*time.Millisecond, m.MediaURI).
		WithCover(m.CoverURI).
		WithSource(track.Source(m.Source))
}

func toState(s playback.Snapshot) State {
	st := State{
		CurrentIndex: s.CurrentIndex(),
		Queue:        toTracks(s.Queue),
		State:        s.State().String(),
		PositionMs:   s.Position.Milliseconds(),
		DurationMs:   s.Duration.Milliseconds(),
		RemainingMs:  s.Remaining().Milliseconds(),
		Volume:       s.Volume,
		Shuffle:      s.Shuffle,
		Repeat:       s.Repeat.String(),
	}
	if s.CurrentTrack != nil {
		t := toTrack(*s.CurrentTrack)
		st.CurrentTrack = &t
	}
	return st
}

func toDevices(devices []playback.DeviceInfo) []Device {
	out := make([]Device, len(devices))
	for i, d := range devices {
		out[i] = Device{Name: d.Name, Active: d.Active}
	}
	return out
}

func toStatus(s session.Status) *StatusResponse {
	return &StatusResponse{
		State:   toState(s.Snapshot),
		Device:  s.Device,
		Devices: toDevices(s.Devices),
	}
}

func toLoadResponse(r *session.LoadResult) *LoadResponse {
	resp := &LoadResponse{Queued: r.Queued}
	for _, rej := range r.Rejected {
		resp.Rejected = append(resp.Rejected, toRejection(rej))
	}
	return resp
}

func toRejection(r filter.Rejection) Rejection {
	return Rejection{
		TrackID: r.Track.ID,
		Title:   r.Track.Title,
		Filter:  r.Filter,
		Code:    r.Code,
	}
}

func toPlaylist(p playlist.Playlist) Playlist {
	return Playlist{
		ID:              p.ID,
		Name:            p.Name,
		CoverURI:        p.CoverURI,
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
		TotalDurationMs: p.TotalDuration().Milliseconds(),
		Tracks:          toTracks(p.Tracks),
	}
}

func toNotification(n *notification.Notification) *Notification {
	return &Notification{
		SequenceNo: n.SequenceNo,
		Type:       string(n.Type),
		State:      toState(n.Snapshot),
		Device:     n.Device,
		Error:      n.Error,
		Time:       n.Time.Format(time.RFC3339Nano),
	}
}
