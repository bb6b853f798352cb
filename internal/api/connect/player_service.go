package connect

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19player/internal/app/notification"
	"github.com/osa030/19player/internal/app/playback"
	"github.com/osa030/19player/internal/app/session"
	"github.com/osa030/19player/internal/domain/track"
	"github.com/osa030/19player/internal/infra/store"
)

// PlayerService implements the player service RPC.
type PlayerService struct {
	session *session.Manager
}

// NewPlayerService creates a new PlayerService.
func NewPlayerService(session *session.Manager) *PlayerService {
	return &PlayerService{session: session}
}

// NewPlayerServiceHandler builds an HTTP handler for svc. It returns the path
// on which to mount the handler and the handler itself.
func NewPlayerServiceHandler(svc *PlayerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)
	mux := http.NewServeMux()

	unary(mux, GetStatusProcedure, svc.GetStatus, opts)
	unary(mux, PlayProcedure, svc.Play, opts)
	unary(mux, PauseProcedure, svc.Pause, opts)
	unary(mux, TogglePlayProcedure, svc.TogglePlay, opts)
	unary(mux, NextTrackProcedure, svc.NextTrack, opts)
	unary(mux, PreviousTrackProcedure, svc.PreviousTrack, opts)
	unary(mux, SeekProcedure, svc.Seek, opts)
	unary(mux, SetVolumeProcedure, svc.SetVolume, opts)
	unary(mux, ToggleShuffleProcedure, svc.ToggleShuffle, opts)
	unary(mux, ToggleRepeatProcedure, svc.ToggleRepeat, opts)
	unary(mux, PlayTrackProcedure, svc.PlayTrack, opts)
	unary(mux, LoadQueueProcedure, svc.LoadQueue, opts)
	unary(mux, LoadSearchProcedure, svc.LoadSearch, opts)
	unary(mux, LoadPlaylistProcedure, svc.LoadPlaylist, opts)
	unary(mux, ListDevicesProcedure, svc.ListDevices, opts)
	unary(mux, SelectDeviceProcedure, svc.SelectDevice, opts)
	unary(mux, RecentlyPlayedProcedure, svc.RecentlyPlayed, opts)
	unary(mux, CreatePlaylistProcedure, svc.CreatePlaylist, opts)
	unary(mux, ListPlaylistsProcedure, svc.ListPlaylists, opts)
	unary(mux, GetPlaylistProcedure, svc.GetPlaylist, opts)
	unary(mux, AddToPlaylistProcedure, svc.AddToPlaylist, opts)
	unary(mux, RemoveFromPlaylistProcedure, svc.RemoveFromPlaylist, opts)
	unary(mux, DeletePlaylistProcedure, svc.DeletePlaylist, opts)
	unary(mux, SaveTrackProcedure, svc.SaveTrack, opts)
	unary(mux, RemoveSavedTrackProcedure, svc.RemoveSavedTrack, opts)
	unary(mux, ListSavedTracksProcedure, svc.ListSavedTracks, opts)
	unary(mux, IsTrackSavedProcedure, svc.IsTrackSaved, opts)
	mux.Handle(SubscribeProcedure, connect.NewServerStreamHandler(SubscribeProcedure, svc.Subscribe, opts...))

	return "/" + PlayerServiceName + "/", mux
}

func unary[Req, Res any](
	mux *http.ServeMux,
	procedure string,
	fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error),
	opts []connect.HandlerOption,
) {
	mux.Handle(procedure, connect.NewUnaryHandler(procedure, fn, opts...))
}

// GetStatus returns the current session status.
func (s *PlayerService) GetStatus(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[StatusResponse], error) {
	return connect.NewResponse(toStatus(s.session.Status())), nil
}

// Play starts or resumes playback.
func (s *PlayerService) Play(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[StateResponse], error) {
	s.session.Controller().Play()
	return s.state(), nil
}

// Pause pauses playback.
func (s *PlayerService) Pause(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[StateResponse], error) {
	s.session.Controller().Pause()
	return s.state(), nil
}

// TogglePlay flips between playing and paused.
func (s *PlayerService) TogglePlay(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[StateResponse], error) {
	s.session.Controller().TogglePlay()
	return s.state(), nil
}

// NextTrack advances to the next track.
func (s *PlayerService) NextTrack(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[StateResponse], error) {
	s.session.Controller().NextTrack()
	return s.state(), nil
}

// PreviousTrack restarts the current track or moves back.
func (s *PlayerService) PreviousTrack(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[StateResponse], error) {
	s.session.Controller().PreviousTrack()
	return s.state(), nil
}

// Seek moves the position within the current track.
func (s *PlayerService) Seek(
	ctx context.Context,
	req *connect.Request[SeekRequest],
) (*connect.Response[StateResponse], error) {
	if req.Msg.PositionMs < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("position must not be negative"))
	}
	s.session.Controller().Seek(time.Duration(req.Msg.PositionMs) * time.Millisecond)
	return s.state(), nil
}

// SetVolume sets the volume. Values outside [0,1] are clamped.
func (s *PlayerService) SetVolume(
	ctx context.Context,
	req *connect.Request[SetVolumeRequest],
) (*connect.Response[StateResponse], error) {
	s.session.Controller().SetVolume(req.Msg.Volume)
	return s.state(), nil
}

// ToggleShuffle flips shuffle.
func (s *PlayerService) ToggleShuffle(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[StateResponse], error) {
	s.session.Controller().ToggleShuffle()
	return s.state(), nil
}

// ToggleRepeat cycles the repeat mode.
func (s *PlayerService) ToggleRepeat(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[StateResponse], error) {
	s.session.Controller().ToggleRepeat()
	return s.state(), nil
}

// PlayTrack makes a queued track current.
func (s *PlayerService) PlayTrack(
	ctx context.Context,
	req *connect.Request[PlayTrackRequest],
) (*connect.Response[StateResponse], error) {
	if err := s.session.PlayTrack(req.Msg.TrackID); err != nil {
		return nil, toConnectError(err)
	}
	return s.state(), nil
}

// LoadQueue replaces the queue with the given tracks.
func (s *PlayerService) LoadQueue(
	ctx context.Context,
	req *connect.Request[LoadQueueRequest],
) (*connect.Response[LoadResponse], error) {
	tracks := make([]track.Track, len(req.Msg.Tracks))
	for i, t := range req.Msg.Tracks {
		tracks[i] = FromTrack(t)
	}
	result, err := s.session.LoadQueue(ctx, tracks, req.Msg.StartID)
	return loadResponse(result, err)
}

// LoadSearch queues catalog search results.
func (s *PlayerService) LoadSearch(
	ctx context.Context,
	req *connect.Request[LoadSearchRequest],
) (*connect.Response[LoadResponse], error) {
	if req.Msg.Query == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("query is required"))
	}
	result, err := s.session.LoadSearch(ctx, req.Msg.Query)
	return loadResponse(result, err)
}

// LoadPlaylist queues a personal or catalog playlist.
func (s *PlayerService) LoadPlaylist(
	ctx context.Context,
	req *connect.Request[LoadPlaylistRequest],
) (*connect.Response[LoadResponse], error) {
	if req.Msg.ID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("id is required"))
	}
	result, err := s.session.LoadPlaylist(ctx, req.Msg.ID)
	return loadResponse(result, err)
}

func loadResponse(result *session.LoadResult, err error) (*connect.Response[LoadResponse], error) {
	if err != nil {
		cerr := toConnectError(err)
		if result != nil && len(result.Rejected) > 0 {
			cerr.Meta().Set("X-Rejected-Count", strconv.Itoa(len(result.Rejected)))
		}
		return nil, cerr
	}
	return connect.NewResponse(toLoadResponse(result)), nil
}

// ListDevices lists the playback devices.
func (s *PlayerService) ListDevices(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[DevicesResponse], error) {
	return connect.NewResponse(&DevicesResponse{Devices: toDevices(s.session.Devices())}), nil
}

// SelectDevice switches the active device.
func (s *PlayerService) SelectDevice(
	ctx context.Context,
	req *connect.Request[SelectDeviceRequest],
) (*connect.Response[DevicesResponse], error) {
	if err := s.session.SelectDevice(ctx, req.Msg.Name); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&DevicesResponse{Devices: toDevices(s.session.Devices())}), nil
}

// RecentlyPlayed returns the listening history.
func (s *PlayerService) RecentlyPlayed(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[TracksResponse], error) {
	tracks, err := s.session.RecentlyPlayed(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&TracksResponse{Tracks: toTracks(tracks)}), nil
}

// CreatePlaylist creates an empty playlist.
func (s *PlayerService) CreatePlaylist(
	ctx context.Context,
	req *connect.Request[CreatePlaylistRequest],
) (*connect.Response[Playlist], error) {
	if req.Msg.Name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("name is required"))
	}
	p, err := s.session.CreatePlaylist(ctx, req.Msg.Name)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := toPlaylist(*p)
	return connect.NewResponse(&resp), nil
}

// ListPlaylists lists the playlists.
func (s *PlayerService) ListPlaylists(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[PlaylistsResponse], error) {
	playlists, err := s.session.ListPlaylists(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := &PlaylistsResponse{Playlists: make([]Playlist, len(playlists))}
	for i, p := range playlists {
		resp.Playlists[i] = toPlaylist(p)
	}
	return connect.NewResponse(resp), nil
}

// GetPlaylist returns a playlist with its tracks.
func (s *PlayerService) GetPlaylist(
	ctx context.Context,
	req *connect.Request[PlaylistRequest],
) (*connect.Response[Playlist], error) {
	p, err := s.session.GetPlaylist(ctx, req.Msg.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := toPlaylist(*p)
	return connect.NewResponse(&resp), nil
}

// AddToPlaylist appends the current or a queued track to a playlist.
func (s *PlayerService) AddToPlaylist(
	ctx context.Context,
	req *connect.Request[PlaylistTrackRequest],
) (*connect.Response[Empty], error) {
	if err := s.session.AddToPlaylist(ctx, req.Msg.PlaylistID, req.Msg.TrackID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// RemoveFromPlaylist drops a track from a playlist.
func (s *PlayerService) RemoveFromPlaylist(
	ctx context.Context,
	req *connect.Request[PlaylistTrackRequest],
) (*connect.Response[Empty], error) {
	if err := s.session.RemoveFromPlaylist(ctx, req.Msg.PlaylistID, req.Msg.TrackID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// DeletePlaylist deletes a playlist.
func (s *PlayerService) DeletePlaylist(
	ctx context.Context,
	req *connect.Request[PlaylistRequest],
) (*connect.Response[Empty], error) {
	if err := s.session.DeletePlaylist(ctx, req.Msg.ID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// SaveTrack adds the current or a queued track to the library.
func (s *PlayerService) SaveTrack(
	ctx context.Context,
	req *connect.Request[LibraryTrackRequest],
) (*connect.Response[SaveTrackResponse], error) {
	if req.Msg.TrackID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("track_id is required"))
	}
	added, err := s.session.SaveTrack(ctx, req.Msg.TrackID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SaveTrackResponse{Added: added}), nil
}

// RemoveSavedTrack drops a track from the library.
func (s *PlayerService) RemoveSavedTrack(
	ctx context.Context,
	req *connect.Request[LibraryTrackRequest],
) (*connect.Response[Empty], error) {
	if err := s.session.RemoveSavedTrack(ctx, req.Msg.TrackID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// ListSavedTracks returns the library, most recently saved first.
func (s *PlayerService) ListSavedTracks(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[TracksResponse], error) {
	tracks, err := s.session.SavedTracks(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&TracksResponse{Tracks: toTracks(tracks)}), nil
}

// IsTrackSaved reports whether a track is in the library.
func (s *PlayerService) IsTrackSaved(
	ctx context.Context,
	req *connect.Request[LibraryTrackRequest],
) (*connect.Response[IsTrackSavedResponse], error) {
	saved, err := s.session.IsSaved(ctx, req.Msg.TrackID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&IsTrackSavedResponse{Saved: saved}), nil
}

// Subscribe streams the current state followed by live notifications until
// the client goes away or the session closes.
func (s *PlayerService) Subscribe(
	ctx context.Context,
	req *connect.Request[Empty],
	stream *connect.ServerStream[Notification],
) error {
	adapter := &notificationStreamAdapter{stream: stream}
	subscriptionID, err := s.session.Subscribe(adapter)
	if err != nil {
		return toConnectError(err)
	}
	zlog.Debug().Msgf("api: subscriber joined: id=%s", subscriptionID)

	select {
	case <-ctx.Done():
	case <-s.session.Done():
	}

	s.session.Unsubscribe(subscriptionID)
	adapter.close()
	zlog.Debug().Msgf("api: subscriber left: id=%s", subscriptionID)
	return nil
}

func (s *PlayerService) state() *connect.Response[StateResponse] {
	return connect.NewResponse(&StateResponse{State: toState(s.session.Controller().Snapshot())})
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
// Sends after close are dropped: the stream is invalid once the handler returns.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	closed bool
	stream *connect.ServerStream[Notification]
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("stream closed")
	}
	return a.stream.Send(toNotification(n))
}

func (a *notificationStreamAdapter) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

// toConnectError maps session errors to RPC codes.
func toConnectError(err error) *connect.Error {
	var code connect.Code
	switch {
	case errors.Is(err, session.ErrTrackNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, playback.ErrUnknownDevice):
		code = connect.CodeNotFound
	case errors.Is(err, session.ErrNoTracks):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, session.ErrCatalogUnavailable),
		errors.Is(err, session.ErrStoreUnavailable):
		code = connect.CodeUnimplemented
	case errors.Is(err, playback.ErrNotRunning):
		code = connect.CodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	default:
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}
