package connect

import (
	"context"
	"strings"
	"time"

	"connectrpc.com/connect"
)

// Client is a typed client for the player service.
type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	opts       []connect.ClientOption
}

// NewClient creates a client for the server at baseURL. The token is sent
// with every unary call; it may be empty for read-only use.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts: append([]connect.ClientOption{
			connect.WithCodec(JSONCodec{}),
			connect.WithInterceptors(newTokenSender(token)),
		}, opts...),
	}
}

func call[Req, Res any](ctx context.Context, c *Client, procedure string, req *Req) (*Res, error) {
	client := connect.NewClient[Req, Res](c.httpClient, c.baseURL+procedure, c.opts...)
	resp, err := client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// GetStatus returns the session status.
func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	return call[Empty, StatusResponse](ctx, c, GetStatusProcedure, &Empty{})
}

// Play starts or resumes playback.
func (c *Client) Play(ctx context.Context) (*StateResponse, error) {
	return call[Empty, StateResponse](ctx, c, PlayProcedure, &Empty{})
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context) (*StateResponse, error) {
	return call[Empty, StateResponse](ctx, c, PauseProcedure, &Empty{})
}

// TogglePlay flips between playing and paused.
func (c *Client) TogglePlay(ctx context.Context) (*StateResponse, error) {
	return call[Empty, StateResponse](ctx, c, TogglePlayProcedure, &Empty{})
}

// NextTrack advances to the next track.
func (c *Client) NextTrack(ctx context.Context) (*StateResponse, error) {
	return call[Empty, StateResponse](ctx, c, NextTrackProcedure, &Empty{})
}

// PreviousTrack restarts the current track or moves back.
func (c *Client) PreviousTrack(ctx context.Context) (*StateResponse, error) {
	return call[Empty, StateResponse](ctx, c, PreviousTrackProcedure, &Empty{})
}

// Seek moves the position.
func (c *Client) Seek(ctx context.Context, pos time.Duration) (*StateResponse, error) {
	return call[SeekRequest, StateResponse](ctx, c, SeekProcedure, &SeekRequest{PositionMs: pos.Milliseconds()})
}

// SetVolume sets the volume in [0,1].
func (c *Client) SetVolume(ctx context.Context, v float64) (*StateResponse, error) {
	return call[SetVolumeRequest, StateResponse](ctx, c, SetVolumeProcedure, &SetVolumeRequest{Volume: v})
}

// ToggleShuffle flips shuffle.
func (c *Client) ToggleShuffle(ctx context.Context) (*StateResponse, error) {
	return call[Empty, StateResponse](ctx, c, ToggleShuffleProcedure, &Empty{})
}

// ToggleRepeat cycles the repeat mode.
func (c *Client) ToggleRepeat(ctx context.Context) (*StateResponse, error) {
	return call[Empty, StateResponse](ctx, c, ToggleRepeatProcedure, &Empty{})
}

// PlayTrack makes a queued track current.
func (c *Client) PlayTrack(ctx context.Context, trackID string) (*StateResponse, error) {
	return call[PlayTrackRequest, StateResponse](ctx, c, PlayTrackProcedure, &PlayTrackRequest{TrackID: trackID})
}

// LoadQueue replaces the queue.
func (c *Client) LoadQueue(ctx context.Context, req *LoadQueueRequest) (*LoadResponse, error) {
	return call[LoadQueueRequest, LoadResponse](ctx, c, LoadQueueProcedure, req)
}

// LoadSearch queues catalog search results.
func (c *Client) LoadSearch(ctx context.Context, query string) (*LoadResponse, error) {
	return call[LoadSearchRequest, LoadResponse](ctx, c, LoadSearchProcedure, &LoadSearchRequest{Query: query})
}

// LoadPlaylist queues a personal playlist id or a catalog playlist URL.
func (c *Client) LoadPlaylist(ctx context.Context, id string) (*LoadResponse, error) {
	return call[LoadPlaylistRequest, LoadResponse](ctx, c, LoadPlaylistProcedure, &LoadPlaylistRequest{ID: id})
}

// ListDevices lists the playback devices.
func (c *Client) ListDevices(ctx context.Context) (*DevicesResponse, error) {
	return call[Empty, DevicesResponse](ctx, c, ListDevicesProcedure, &Empty{})
}

// SelectDevice switches the active device.
func (c *Client) SelectDevice(ctx context.Context, name string) (*DevicesResponse, error) {
	return call[SelectDeviceRequest, DevicesResponse](ctx, c, SelectDeviceProcedure, &SelectDeviceRequest{Name: name})
}

// RecentlyPlayed returns the listening history.
func (c *Client) RecentlyPlayed(ctx context.Context) (*TracksResponse, error) {
	return call[Empty, TracksResponse](ctx, c, RecentlyPlayedProcedure, &Empty{})
}

// SaveTrack adds a queued track to the library.
func (c *Client) SaveTrack(ctx context.Context, trackID string) (*SaveTrackResponse, error) {
	return call[LibraryTrackRequest, SaveTrackResponse](ctx, c, SaveTrackProcedure, &LibraryTrackRequest{TrackID: trackID})
}

// RemoveSavedTrack drops a track from the library.
func (c *Client) RemoveSavedTrack(ctx context.Context, trackID string) error {
	_, err := call[LibraryTrackRequest, Empty](ctx, c, RemoveSavedTrackProcedure, &LibraryTrackRequest{TrackID: trackID})
	return err
}

// ListSavedTracks returns the library.
func (c *Client) ListSavedTracks(ctx context.Context) (*TracksResponse, error) {
	return call[Empty, TracksResponse](ctx, c, ListSavedTracksProcedure, &Empty{})
}

// IsTrackSaved reports whether a track is in the library.
func (c *Client) IsTrackSaved(ctx context.Context, trackID string) (*IsTrackSavedResponse, error) {
	return call[LibraryTrackRequest, IsTrackSavedResponse](ctx, c, IsTrackSavedProcedure, &LibraryTrackRequest{TrackID: trackID})
}

// CreatePlaylist creates an empty playlist.
func (c *Client) CreatePlaylist(ctx context.Context, name string) (*Playlist, error) {
	return call[CreatePlaylistRequest, Playlist](ctx, c, CreatePlaylistProcedure, &CreatePlaylistRequest{Name: name})
}

// ListPlaylists lists the playlists.
func (c *Client) ListPlaylists(ctx context.Context) (*PlaylistsResponse, error) {
	return call[Empty, PlaylistsResponse](ctx, c, ListPlaylistsProcedure, &Empty{})
}

// GetPlaylist returns a playlist with its tracks.
func (c *Client) GetPlaylist(ctx context.Context, id string) (*Playlist, error) {
	return call[PlaylistRequest, Playlist](ctx, c, GetPlaylistProcedure, &PlaylistRequest{ID: id})
}

// AddToPlaylist appends the current or a queued track to a playlist.
func (c *Client) AddToPlaylist(ctx context.Context, playlistID, trackID string) error {
	_, err := call[PlaylistTrackRequest, Empty](ctx, c, AddToPlaylistProcedure,
		&PlaylistTrackRequest{PlaylistID: playlistID, TrackID: trackID})
	return err
}

// RemoveFromPlaylist drops a track from a playlist.
func (c *Client) RemoveFromPlaylist(ctx context.Context, playlistID, trackID string) error {
	_, err := call[PlaylistTrackRequest, Empty](ctx, c, RemoveFromPlaylistProcedure,
		&PlaylistTrackRequest{PlaylistID: playlistID, TrackID: trackID})
	return err
}

// DeletePlaylist deletes a playlist.
func (c *Client) DeletePlaylist(ctx context.Context, id string) error {
	_, err := call[PlaylistRequest, Empty](ctx, c, DeletePlaylistProcedure, &PlaylistRequest{ID: id})
	return err
}

// Subscribe opens the notification stream. The first message is the current state.
func (c *Client) Subscribe(ctx context.Context) (*connect.ServerStreamForClient[Notification], error) {
	client := connect.NewClient[Empty, Notification](c.httpClient, c.baseURL+SubscribeProcedure, c.opts...)
	return client.CallServerStream(ctx, connect.NewRequest(&Empty{}))
}
