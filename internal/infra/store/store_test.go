package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19player/internal/domain/track"
)

func openTestStore(t *testing.T, historyLimit int) *Store {
	t.Helper()
	s, err := Open(":memory:", historyLimit)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testTrack(id string) track.Track {
	return track.New(id, "Title "+id, "Artist", "", 3*time.Minute, "https://example.com/"+id+".mp3").
		WithCover("https://example.com/" + id + ".jpg").
		WithSource(track.SourceCommunity)
}

func TestRecentlyPlayedMoveToFront(t *testing.T) {
	s := openTestStore(t, 20)
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"a", "b", "c", "a"} {
		require.NoError(t, s.RecordPlayed(ctx, testTrack(id), now.Add(time.Duration(i)*time.Second)))
	}

	tracks, err := s.RecentlyPlayed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, track.Queue(tracks).IDs())

	// Round-trips every field
	assert.Equal(t, testTrack("a"), tracks[0])
}

func TestRecentlyPlayedCapped(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, s.RecordPlayed(ctx, testTrack(fmt.Sprintf("t%d", i)), time.Now()))
	}

	tracks, err := s.RecentlyPlayed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t4", "t3", "t2"}, track.Queue(tracks).IDs())
}

func TestRecentlyPlayedEmpty(t *testing.T) {
	s := openTestStore(t, 0)

	tracks, err := s.RecentlyPlayed(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, tracks)
	assert.Empty(t, tracks)
	assert.Equal(t, DefaultHistoryLimit, s.historyLimit)
}

func TestRecordPlayedRequiresID(t *testing.T) {
	s := openTestStore(t, 0)
	assert.Error(t, s.RecordPlayed(context.Background(), track.Track{}, time.Now()))
}

func TestLibrary(t *testing.T) {
	s := openTestStore(t, 20)
	ctx := context.Background()
	now := time.Now()

	saved, err := s.IsSaved(ctx, "a")
	require.NoError(t, err)
	assert.False(t, saved)

	for _, id := range []string{"a", "b", "c"} {
		added, err := s.SaveTrack(ctx, testTrack(id), now)
		require.NoError(t, err)
		assert.True(t, added)
	}

	// Saving again keeps the original place
	added, err := s.SaveTrack(ctx, testTrack("a"), now)
	require.NoError(t, err)
	assert.False(t, added)

	tracks, err := s.SavedTracks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, track.Queue(tracks).IDs())
	assert.Equal(t, testTrack("a"), tracks[2])

	saved, err = s.IsSaved(ctx, "b")
	require.NoError(t, err)
	assert.True(t, saved)

	removed, err := s.RemoveSavedTrack(ctx, "b")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveSavedTrack(ctx, "b")
	require.NoError(t, err)
	assert.False(t, removed)

	tracks, err = s.SavedTracks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, track.Queue(tracks).IDs())
}

func TestLibraryEmpty(t *testing.T) {
	s := openTestStore(t, 20)

	tracks, err := s.SavedTracks(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, tracks)
	assert.Empty(t, tracks)

	_, err = s.SaveTrack(context.Background(), track.Track{}, time.Now())
	assert.Error(t, err)
}

func TestPlaylistLifecycle(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	p, err := s.CreatePlaylist(ctx, "Morning")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Empty(t, p.Tracks)

	require.NoError(t, s.AddTrack(ctx, p.ID, testTrack("a")))
	require.NoError(t, s.AddTrack(ctx, p.ID, testTrack("b")))
	require.NoError(t, s.AddTrack(ctx, p.ID, testTrack("a")))

	got, err := s.GetPlaylist(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Morning", got.Name)
	assert.Equal(t, []string{"a", "b", "a"}, got.TrackIDs())
	assert.Equal(t, 9*time.Minute, got.TotalDuration())
	assert.Equal(t, "https://example.com/a.jpg", got.CoverURI)
	assert.Equal(t, p.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())

	removed, err := s.RemoveTrack(ctx, p.ID, "a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.RemoveTrack(ctx, p.ID, "a")
	require.NoError(t, err)
	assert.False(t, removed)

	got, err = s.GetPlaylist(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got.TrackIDs())

	// Appends after removal keep insertion order
	require.NoError(t, s.AddTrack(ctx, p.ID, testTrack("c")))
	got, err = s.GetPlaylist(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, got.TrackIDs())

	require.NoError(t, s.DeletePlaylist(ctx, p.ID))
	_, err = s.GetPlaylist(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeletePlaylist(ctx, p.ID), ErrNotFound)
}

func TestListPlaylists(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	empty, err := s.ListPlaylists(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first, err := s.CreatePlaylist(ctx, "First")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := s.CreatePlaylist(ctx, "Second")
	require.NoError(t, err)
	require.NoError(t, s.AddTrack(ctx, second.ID, testTrack("x")))

	playlists, err := s.ListPlaylists(ctx)
	require.NoError(t, err)
	require.Len(t, playlists, 2)
	assert.Equal(t, first.ID, playlists[0].ID)
	assert.Equal(t, second.ID, playlists[1].ID)
	assert.Equal(t, []string{"x"}, playlists[1].TrackIDs())
}

func TestPlaylistErrors(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	_, err := s.CreatePlaylist(ctx, "")
	assert.Error(t, err)

	assert.ErrorIs(t, s.AddTrack(ctx, "missing", testTrack("a")), ErrNotFound)
	_, err = s.RemoveTrack(ctx, "missing", "a")
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := s.CreatePlaylist(ctx, "P")
	require.NoError(t, err)
	assert.Error(t, s.AddTrack(ctx, p.ID, track.Track{}))
}

func TestOpenFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "player.db")
	ctx := context.Background()

	s, err := Open(path, 5)
	require.NoError(t, err)
	require.NoError(t, s.RecordPlayed(ctx, testTrack("a"), time.Now()))
	require.NoError(t, s.Close())

	s, err = Open(path, 5)
	require.NoError(t, err)
	defer s.Close()

	tracks, err := s.RecentlyPlayed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, track.Queue(tracks).IDs())
}
