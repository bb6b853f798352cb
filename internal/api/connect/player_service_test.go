package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19player/internal/app/playback"
	"github.com/osa030/19player/internal/app/session"
	"github.com/osa030/19player/internal/domain/track"
	"github.com/osa030/19player/internal/infra/config"
	"github.com/osa030/19player/internal/infra/store"
)

type nopBackend struct {
	emitter playback.Emitter
}

func (b *nopBackend) Name() string { return "local" }
func (b *nopBackend) CanPlay(t track.Track) bool { return t.IsLocallyPlayable() }
func (b *nopBackend) Load(ctx context.Context, token playback.LoadToken, t track.Track) error {
	return nil
}
func (b *nopBackend) Play(ctx context.Context) error { return nil }
func (b *nopBackend) Pause(ctx context.Context) error { return nil }
func (b *nopBackend) Seek(ctx context.Context, pos time.Duration) error { return nil }
func (b *nopBackend) SetVolume(ctx context.Context, v float64) error { return nil }
func (b *nopBackend) Position() time.Duration { return 0 }
func (b *nopBackend) Release(ctx context.Context) error { return nil }
func (b *nopBackend) Subscribe() (<-chan playback.BackendEvent, func()) {
	return b.emitter.Subscribe()
}

const testToken = "secret"

func newTestServer(t *testing.T) (*session.Manager, string) {
	t.Helper()
	cfg, err := config.Parse([]byte("server:\n  token: " + testToken + "\nfilters:\n  playable_filter:\n    enabled: true\n"))
	require.NoError(t, err)

	st, err := store.Open(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	manager, err := session.NewManager(cfg, session.Deps{
		Backends: []playback.Backend{&nopBackend{}},
		Store:    st,
	})
	require.NoError(t, err)
	require.NoError(t, manager.Start(context.Background()))
	t.Cleanup(func() { _ = manager.Close() })

	path, handler := NewPlayerServiceHandler(
		NewPlayerService(manager),
		connect.WithInterceptors(NewTokenInterceptor(testToken)),
	)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return manager, server.URL
}

func wireTracks(ids ...string) []Track {
	tracks := make([]Track, len(ids))
	for i, id := range ids {
		tracks[i] = Track{
			ID:         id,
			Title:      "Title " + id,
			Artist:     "Artist",
			DurationMs: 180000,
			MediaURI:   "https://cdn/" + id + ".mp3",
			Source:     string(track.SourceCommunity),
		}
	}
	return tracks
}

func TestTokenInterceptor(t *testing.T) {
	_, url := newTestServer(t)
	ctx := context.Background()

	anonymous := NewClient(http.DefaultClient, url, "")
	_, err := anonymous.GetStatus(ctx)
	require.NoError(t, err)

	_, err = anonymous.Play(ctx)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	wrong := NewClient(http.DefaultClient, url, "nope")
	_, err = wrong.Pause(ctx)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	authorized := NewClient(http.DefaultClient, url, testToken)
	resp, err := authorized.Play(ctx)
	require.NoError(t, err)
	assert.Equal(t, "playing", resp.State.State)
}

func TestTransportProcedures(t *testing.T) {
	_, url := newTestServer(t)
	ctx := context.Background()
	client := NewClient(http.DefaultClient, url, testToken)

	loaded, err := client.LoadQueue(ctx, &LoadQueueRequest{Tracks: wireTracks("a", "b", "c"), StartID: "b"})
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Queued)

	status, err := client.GetStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.State.CurrentTrack)
	assert.Equal(t, "b", status.State.CurrentTrack.ID)
	assert.Equal(t, 1, status.State.CurrentIndex)
	assert.Equal(t, track.UnknownAlbum, status.State.CurrentTrack.Album)
	assert.Equal(t, "local", status.Device)
	assert.Equal(t, []Device{{Name: "local", Active: true}}, status.Devices)

	resp, err := client.NextTrack(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", resp.State.CurrentTrack.ID)

	resp, err = client.SetVolume(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1.0, resp.State.Volume)

	resp, err = client.ToggleRepeat(ctx)
	require.NoError(t, err)
	assert.Equal(t, "all", resp.State.Repeat)

	resp, err = client.ToggleShuffle(ctx)
	require.NoError(t, err)
	assert.True(t, resp.State.Shuffle)

	resp, err = client.Seek(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), resp.State.PositionMs)

	resp, err = client.PlayTrack(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", resp.State.CurrentTrack.ID)

	resp, err = client.TogglePlay(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stopped", resp.State.State)
}

func TestProcedureErrors(t *testing.T) {
	_, url := newTestServer(t)
	ctx := context.Background()
	client := NewClient(http.DefaultClient, url, testToken)

	_, err := client.Seek(ctx, -time.Second)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = client.PlayTrack(ctx, "missing")
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = client.LoadQueue(ctx, &LoadQueueRequest{Tracks: []Track{{ID: "x", Title: "X"}}})
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	_, err = client.LoadSearch(ctx, "query")
	assert.Equal(t, connect.CodeUnimplemented, connect.CodeOf(err))

	_, err = client.SelectDevice(ctx, "kitchen")
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = client.GetPlaylist(ctx, "missing")
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestPlaylistProcedures(t *testing.T) {
	_, url := newTestServer(t)
	ctx := context.Background()
	client := NewClient(http.DefaultClient, url, testToken)

	_, err := client.LoadQueue(ctx, &LoadQueueRequest{Tracks: wireTracks("a", "b")})
	require.NoError(t, err)

	p, err := client.CreatePlaylist(ctx, "Mine")
	require.NoError(t, err)
	assert.Equal(t, "Mine", p.Name)
	assert.NotEmpty(t, p.ID)

	require.NoError(t, client.AddToPlaylist(ctx, p.ID, "a"))
	require.NoError(t, client.AddToPlaylist(ctx, p.ID, "b"))

	got, err := client.GetPlaylist(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Tracks, 2)
	assert.Equal(t, int64(360000), got.TotalDurationMs)

	require.NoError(t, client.RemoveFromPlaylist(ctx, p.ID, "a"))

	list, err := client.ListPlaylists(ctx)
	require.NoError(t, err)
	require.Len(t, list.Playlists, 1)

	loaded, err := client.LoadPlaylist(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Queued)

	require.Eventually(t, func() bool {
		recent, err := client.RecentlyPlayed(ctx)
		return err == nil && len(recent.Tracks) > 0 && recent.Tracks[0].ID == "b"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.DeletePlaylist(ctx, p.ID))
	err = client.DeletePlaylist(ctx, p.ID)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestLibraryProcedures(t *testing.T) {
	_, url := newTestServer(t)
	ctx := context.Background()
	client := NewClient(http.DefaultClient, url, testToken)
	anonymous := NewClient(http.DefaultClient, url, "")

	_, err := client.LoadQueue(ctx, &LoadQueueRequest{Tracks: wireTracks("a", "b")})
	require.NoError(t, err)

	saved, err := client.SaveTrack(ctx, "a")
	require.NoError(t, err)
	assert.True(t, saved.Added)
	saved, err = client.SaveTrack(ctx, "a")
	require.NoError(t, err)
	assert.False(t, saved.Added)

	_, err = client.SaveTrack(ctx, "")
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	_, err = client.SaveTrack(ctx, "missing")
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
	_, err = anonymous.SaveTrack(ctx, "b")
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	// Reads need no token
	in, err := anonymous.IsTrackSaved(ctx, "a")
	require.NoError(t, err)
	assert.True(t, in.Saved)
	list, err := anonymous.ListSavedTracks(ctx)
	require.NoError(t, err)
	require.Len(t, list.Tracks, 1)
	assert.Equal(t, "a", list.Tracks[0].ID)

	require.NoError(t, client.RemoveSavedTrack(ctx, "a"))
	err = client.RemoveSavedTrack(ctx, "a")
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	in, err = client.IsTrackSaved(ctx, "a")
	require.NoError(t, err)
	assert.False(t, in.Saved)
}

func TestSubscribe(t *testing.T) {
	_, url := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := NewClient(http.DefaultClient, url, testToken)

	stream, err := client.Subscribe(ctx)
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Receive(), "initial state: %v", stream.Err())
	assert.Equal(t, "state", stream.Msg().Type)
	assert.Equal(t, "local", stream.Msg().Device)

	_, err = client.SetVolume(ctx, 0.5)
	require.NoError(t, err)

	for stream.Receive() {
		msg := stream.Msg()
		if msg.Type != "volume" {
			continue
		}
		assert.Equal(t, 0.5, msg.State.Volume)
		assert.Greater(t, msg.SequenceNo, uint64(0))
		return
	}
	t.Fatalf("stream ended: %v", stream.Err())
}

func TestJSONCodecEmptyBody(t *testing.T) {
	var req SeekRequest
	require.NoError(t, JSONCodec{}.Unmarshal(nil, &req))
	assert.Zero(t, req.PositionMs)

	data, err := JSONCodec{}.Marshal(&SeekRequest{PositionMs: 1500})
	require.NoError(t, err)
	assert.JSONEq(t, `{"position_ms":1500}`, string(data))
}
