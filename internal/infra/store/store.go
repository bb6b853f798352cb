// Package store persists listening history, the saved-tracks library and
// personal playlists in SQLite.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19player/internal/domain/playlist"
	"github.com/osa030/19player/internal/domain/track"
)

// DefaultHistoryLimit is the number of recently played tracks kept.
const DefaultHistoryLimit = 20

// Errors
var (
	ErrNotFound = errors.New("not found")
)

// Store is a SQLite-backed history and playlist store.
type Store struct {
	db           *sql.DB
	historyLimit int
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tracks (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		artist      TEXT NOT NULL,
		album       TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		media_uri   TEXT NOT NULL,
		cover_uri   TEXT NOT NULL,
		source      TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS history (
		track_id  TEXT PRIMARY KEY REFERENCES tracks(id),
		played_at INTEGER NOT NULL,
		seq       INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS history_seq ON history(seq DESC)`,
	`CREATE TABLE IF NOT EXISTS library (
		track_id TEXT PRIMARY KEY REFERENCES tracks(id),
		added_at INTEGER NOT NULL,
		seq      INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS library_seq ON library(seq DESC)`,
	`CREATE TABLE IF NOT EXISTS playlists (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		cover_uri  TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS playlist_tracks (
		playlist_id TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
		position    INTEGER NOT NULL,
		track_id    TEXT NOT NULL REFERENCES tracks(id),
		PRIMARY KEY (playlist_id, position)
	)`,
}

// Open opens (creating if needed) the database at path and migrates it.
// path may be ":memory:".
func Open(path string, historyLimit int) (*Store, error) {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}

	dsn := ":memory:?_foreign_keys=on"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrapf(err, "failed to create %s", dir)
			}
		}
		dsn = "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite db")
	}
	// One connection: keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping sqlite db")
	}

	s := &Store{db: db, historyLimit: historyLimit}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}

	zlog.Debug().Msgf("store: opened: path=%s history_limit=%d", path, historyLimit)
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertTrack(ctx context.Context, db execer, t track.Track) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tracks (id, title, artist, album, duration_ms, media_uri, cover_uri, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			album = excluded.album,
			duration_ms = excluded.duration_ms,
			media_uri = excluded.media_uri,
			cover_uri = excluded.cover_uri,
			source = excluded.source
	`, t.ID, t.Title, t.Artist, t.Album, t.Duration.Milliseconds(), t.MediaURI, t.CoverURI, string(t.Source))
	if err != nil {
		return errors.Wrapf(err, "failed to save track %s", t.ID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrack(row scanner) (track.Track, error) {
	var (
		t          track.Track
		durationMs int64
		source     string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Artist, &t.Album, &durationMs, &t.MediaURI, &t.CoverURI, &source); err != nil {
		return track.Track{}, err
	}
	t.Duration = time.Duration(durationMs) * time.Millisecond
	t.Source = track.Source(source)
	return t, nil
}

const trackColumns = "t.id, t.title, t.artist, t.album, t.duration_ms, t.media_uri, t.cover_uri, t.source"

// RecordPlayed moves t to the front of the history and trims it to the limit.
func (s *Store) RecordPlayed(ctx context.Context, t track.Track, at time.Time) error {
	if t.ID == "" {
		return errors.New("track id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := upsertTrack(ctx, tx, t); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO history (track_id, played_at, seq)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM history))
		ON CONFLICT(track_id) DO UPDATE SET played_at = excluded.played_at, seq = excluded.seq
	`, t.ID, at.UnixMilli()); err != nil {
		return errors.Wrap(err, "failed to record history")
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM history WHERE track_id NOT IN (
			SELECT track_id FROM history ORDER BY seq DESC LIMIT ?
		)
	`, s.historyLimit); err != nil {
		return errors.Wrap(err, "failed to trim history")
	}

	return errors.Wrap(tx.Commit(), "failed to commit history")
}

// RecentlyPlayed returns the history, most recent first.
func (s *Store) RecentlyPlayed(ctx context.Context) ([]track.Track, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+trackColumns+`
		FROM history h
		JOIN tracks t ON t.id = h.track_id
		ORDER BY h.seq DESC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query history")
	}
	defer rows.Close()

	tracks := []track.Track{}
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan history")
		}
		tracks = append(tracks, t)
	}
	return tracks, errors.Wrap(rows.Err(), "failed to iterate history")
}

// SaveTrack adds t to the library. It reports false when t was already
// saved; the existing entry keeps its place.
func (s *Store) SaveTrack(ctx context.Context, t track.Track, at time.Time) (bool, error) {
	if t.ID == "" {
		return false, errors.New("track id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := upsertTrack(ctx, tx, t); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO library (track_id, added_at, seq)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM library))
		ON CONFLICT(track_id) DO NOTHING
	`, t.ID, at.UnixMilli())
	if err != nil {
		return false, errors.Wrap(err, "failed to save library track")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to save library track")
	}

	return n > 0, errors.Wrap(tx.Commit(), "failed to commit library track")
}

// RemoveSavedTrack drops trackID from the library and reports whether it
// was there.
func (s *Store) RemoveSavedTrack(ctx context.Context, trackID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM library WHERE track_id = ?", trackID)
	if err != nil {
		return false, errors.Wrap(err, "failed to remove library track")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to remove library track")
	}
	return n > 0, nil
}

// IsSaved reports whether trackID is in the library.
func (s *Store) IsSaved(ctx context.Context, trackID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM library WHERE track_id = ?", trackID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to query library")
	}
	return true, nil
}

// SavedTracks returns the library, most recently saved first.
func (s *Store) SavedTracks(ctx context.Context) ([]track.Track, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+trackColumns+`
		FROM library l
		JOIN tracks t ON t.id = l.track_id
		ORDER BY l.seq DESC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query library")
	}
	defer rows.Close()

	tracks := []track.Track{}
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan library")
		}
		tracks = append(tracks, t)
	}
	return tracks, errors.Wrap(rows.Err(), "failed to iterate library")
}

// CreatePlaylist creates an empty playlist.
func (s *Store) CreatePlaylist(ctx context.Context, name string) (*playlist.Playlist, error) {
	if name == "" {
		return nil, errors.New("playlist name is required")
	}

	p := &playlist.Playlist{
		ID:        uuid.New().String(),
		Name:      name,
		Tracks:    []track.Track{},
		CreatedAt: time.Now().Truncate(time.Millisecond),
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO playlists (id, name, created_at) VALUES (?, ?, ?)",
		p.ID, p.Name, p.CreatedAt.UnixMilli(),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create playlist")
	}

	zlog.Info().Msgf("store: playlist created: id=%s name=%s", p.ID, p.Name)
	return p, nil
}

// GetPlaylist returns the playlist with its tracks in order.
func (s *Store) GetPlaylist(ctx context.Context, id string) (*playlist.Playlist, error) {
	var (
		p         playlist.Playlist
		createdAt int64
	)
	row := s.db.QueryRowContext(ctx, "SELECT id, name, cover_uri, created_at FROM playlists WHERE id = ?", id)
	if err := row.Scan(&p.ID, &p.Name, &p.CoverURI, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrNotFound, "playlist %s", id)
		}
		return nil, errors.Wrap(err, "failed to load playlist")
	}
	p.CreatedAt = time.UnixMilli(createdAt)

	tracks, err := s.playlistTracks(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Tracks = tracks
	if p.CoverURI == "" && len(tracks) > 0 {
		p.CoverURI = tracks[0].CoverURI
	}
	return &p, nil
}

func (s *Store) playlistTracks(ctx context.Context, id string) ([]track.Track, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+trackColumns+`
		FROM playlist_tracks pt
		JOIN tracks t ON t.id = pt.track_id
		WHERE pt.playlist_id = ?
		ORDER BY pt.position ASC
	`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load playlist tracks")
	}
	defer rows.Close()

	tracks := []track.Track{}
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan playlist track")
		}
		tracks = append(tracks, t)
	}
	return tracks, errors.Wrap(rows.Err(), "failed to iterate playlist tracks")
}

// ListPlaylists returns every playlist, oldest first.
func (s *Store) ListPlaylists(ctx context.Context) ([]playlist.Playlist, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM playlists ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list playlists")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan playlist")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate playlists")
	}

	playlists := make([]playlist.Playlist, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPlaylist(ctx, id)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, *p)
	}
	return playlists, nil
}

// AddTrack appends t to the playlist.
func (s *Store) AddTrack(ctx context.Context, playlistID string, t track.Track) error {
	if t.ID == "" {
		return errors.New("track id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := requirePlaylist(ctx, tx, playlistID); err != nil {
		return err
	}
	if err := upsertTrack(ctx, tx, t); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO playlist_tracks (playlist_id, position, track_id)
		VALUES (?, (SELECT COALESCE(MAX(position), -1) + 1 FROM playlist_tracks WHERE playlist_id = ?), ?)
	`, playlistID, playlistID, t.ID); err != nil {
		return errors.Wrap(err, "failed to add playlist track")
	}

	return errors.Wrap(tx.Commit(), "failed to commit playlist track")
}

// RemoveTrack drops every entry of trackID from the playlist and reports
// whether any was removed.
func (s *Store) RemoveTrack(ctx context.Context, playlistID, trackID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := requirePlaylist(ctx, tx, playlistID); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx,
		"DELETE FROM playlist_tracks WHERE playlist_id = ? AND track_id = ?",
		playlistID, trackID,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to remove playlist track")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to remove playlist track")
	}

	return n > 0, errors.Wrap(tx.Commit(), "failed to commit playlist track")
}

// DeletePlaylist deletes the playlist.
func (s *Store) DeletePlaylist(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM playlists WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "failed to delete playlist")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "playlist %s", id)
	}
	zlog.Info().Msgf("store: playlist deleted: id=%s", id)
	return nil
}

func requirePlaylist(ctx context.Context, tx *sql.Tx, id string) error {
	var exists int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM playlists WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(ErrNotFound, "playlist %s", id)
	}
	return errors.Wrap(err, "failed to load playlist")
}
