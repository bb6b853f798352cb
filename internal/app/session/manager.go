// Package session provides the session manager: it owns the playback
// controller and adapter and connects them to ingestion, history and
// remote subscribers.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19player/internal/app/filter"
	"github.com/osa030/19player/internal/app/notification"
	"github.com/osa030/19player/internal/app/playback"
	"github.com/osa030/19player/internal/domain/playlist"
	"github.com/osa030/19player/internal/domain/track"
	"github.com/osa030/19player/internal/infra/config"
	"github.com/osa030/19player/internal/infra/store"
)

// Errors
var (
	ErrSessionStarted     = errors.New("session already started")
	ErrNoTracks           = errors.New("no playable tracks")
	ErrTrackNotFound      = errors.New("track not found")
	ErrCatalogUnavailable = errors.New("catalog is not configured")
	ErrStoreUnavailable   = errors.New("store is not configured")
)

const (
	defaultSearchLimit     = 20
	defaultIngestTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Catalog is the streaming catalog used for search and playlist import.
type Catalog interface {
	Search(ctx context.Context, query string, limit int) ([]track.Track, error)
	GetPlaylistTracks(ctx context.Context, playlistURL string) ([]track.Track, error)
}

// Enricher fills in missing track metadata.
type Enricher interface {
	Enrich(ctx context.Context, t track.Track) track.Track
}

// Store persists listening history, the saved-tracks library and personal
// playlists.
type Store interface {
	RecordPlayed(ctx context.Context, t track.Track, at time.Time) error
	RecentlyPlayed(ctx context.Context) ([]track.Track, error)
	SaveTrack(ctx context.Context, t track.Track, at time.Time) (bool, error)
	RemoveSavedTrack(ctx context.Context, trackID string) (bool, error)
	IsSaved(ctx context.Context, trackID string) (bool, error)
	SavedTracks(ctx context.Context) ([]track.Track, error)
	CreatePlaylist(ctx context.Context, name string) (*playlist.Playlist, error)
	GetPlaylist(ctx context.Context, id string) (*playlist.Playlist, error)
	ListPlaylists(ctx context.Context) ([]playlist.Playlist, error)
	AddTrack(ctx context.Context, playlistID string, t track.Track) error
	RemoveTrack(ctx context.Context, playlistID, trackID string) (bool, error)
	DeletePlaylist(ctx context.Context, id string) error
}

// playabilityChecker is implemented by backends that can tell up front
// whether they can play a track.
type playabilityChecker interface {
	CanPlay(t track.Track) bool
}

// Deps are the collaborators of a Manager. Only Backends is required.
type Deps struct {
	Backends []playback.Backend
	Store    Store
	Catalog  Catalog
	Enricher Enricher
}

// Status is the session state reported to clients.
type Status struct {
	Snapshot playback.Snapshot
	Device   string
	Devices  []playback.DeviceInfo
}

// LoadResult reports what an ingestion queued.
type LoadResult struct {
	Queued   int
	Rejected []filter.Rejection
}

// Manager manages the playback session.
type Manager struct {
	mu sync.Mutex

	// Components
	controller   *playback.Controller
	adapter      *playback.Adapter
	backends     map[string]playback.Backend
	filterChain  *filter.Chain
	notification *notification.Manager
	store        Store
	catalog      Catalog
	enricher     Enricher

	lastRecorded string

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewManager creates a new session manager.
func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	repeat, err := playback.ParseRepeatMode(cfg.Playback.Repeat)
	if err != nil {
		return nil, err
	}

	session := playback.NewSession()
	controller := playback.NewController(session, playback.Config{
		RestartThreshold: cfg.Playback.RestartThreshold(),
	})

	adapter, err := playback.NewAdapter(controller, playback.AdapterConfig{
		SeekTolerance:  cfg.Playback.SeekTolerance(),
		CommandTimeout: cfg.Playback.CommandTimeout(),
	}, deps.Backends...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create adapter")
	}

	m := &Manager{
		controller:   controller,
		adapter:      adapter,
		backends:     make(map[string]playback.Backend, len(deps.Backends)),
		notification: notification.NewManager(notification.DefaultSendTimeout),
		store:        deps.Store,
		catalog:      deps.Catalog,
		enricher:     deps.Enricher,
		done:         make(chan struct{}),
	}
	for _, b := range deps.Backends {
		m.backends[b.Name()] = b
	}

	if name := cfg.DefaultDevice(); name != "" {
		if _, ok := m.backends[name]; ok {
			if err := adapter.SelectDevice(context.Background(), name); err != nil {
				return nil, err
			}
		}
	}

	// Setup filters
	enabled := make(map[string]map[string]any)
	for name, f := range cfg.Filters {
		if f.Enabled {
			enabled[name] = f.Settings
		}
	}
	m.filterChain, err = filter.Build(enabled, filter.Env{CanPlay: m.canPlay})
	if err != nil {
		return nil, errors.Wrap(err, "failed to setup filters")
	}

	// Initial transport settings
	controller.SetVolume(cfg.Playback.Volume)
	for controller.Snapshot().Repeat != repeat {
		controller.ToggleRepeat()
	}
	if cfg.Playback.Shuffle {
		controller.ToggleShuffle()
	}

	return m, nil
}

// Controller returns the playback controller.
func (m *Manager) Controller() *playback.Controller {
	return m.controller
}

// Start starts the adapter and the notification bridge.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrSessionStarted
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	sub := m.controller.Session().Subscribe()

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		if err := m.adapter.Run(ctx); err != nil {
			zlog.Error().Err(err).Msg("session: adapter stopped with error")
		}
	}()
	go func() {
		defer m.wg.Done()
		defer sub.Close()
		m.bridge(ctx, sub)
	}()

	zlog.Info().Msgf("session: started: device=%s", m.adapter.Active())
	return nil
}

// Close stops the session, releasing the active device and every subscription.
func (m *Manager) Close() error {
	m.mu.Lock()
	if !m.started {
		m.started = true
		m.mu.Unlock()
		close(m.done)
		return nil
	}
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		<-m.done
		return nil
	}
	cancel()

	stopped := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(stopped)
	}()

	var err error
	select {
	case <-stopped:
	case <-time.After(defaultShutdownTimeout):
		err = errors.New("session did not stop in time")
	}

	m.notification.Close()
	close(m.done)
	zlog.Info().Msg("session: closed")
	return err
}

// Done is closed once the session is closed.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// bridge forwards controller events to subscribers and history.
func (m *Manager) bridge(ctx context.Context, sub *playback.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Ready():
			for _, ev := range sub.Drain() {
				m.recordHistory(ctx, ev)
				n := m.newNotification(notification.TypeFor(ev.Type), ev.Snapshot)
				if ev.Err != nil {
					n.Error = ev.Err.Error()
				}
				m.notification.Broadcast(n)
			}
		}
	}
}

// recordHistory records the current track when it starts playing.
func (m *Manager) recordHistory(ctx context.Context, ev playback.Event) {
	if m.store == nil {
		return
	}
	snap := ev.Snapshot
	if !snap.IsPlaying || snap.CurrentTrack == nil {
		return
	}

	switch ev.Type {
	case playback.EventTrackRestarted:
	case playback.EventTrackChanged, playback.EventStateChanged:
		if snap.CurrentTrack.ID == m.lastRecorded {
			return
		}
	default:
		return
	}

	m.lastRecorded = snap.CurrentTrack.ID
	if err := m.store.RecordPlayed(ctx, *snap.CurrentTrack, time.Now()); err != nil {
		zlog.Warn().Err(err).Msgf("session: failed to record history: track_id=%s", snap.CurrentTrack.ID)
	}
}

func (m *Manager) newNotification(t notification.Type, snap playback.Snapshot) notification.Notification {
	return notification.Notification{
		Type:     t,
		Snapshot: snap,
		Device:   m.adapter.Active(),
		Time:     time.Now(),
	}
}

// Subscribe registers stream for notifications. The current state is sent
// first; live notifications follow it.
func (m *Manager) Subscribe(stream notification.Stream) (string, error) {
	s := &orderedStream{stream: stream}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := m.notification.Subscribe(s)
	initial := m.newNotification(notification.TypeState, m.controller.Snapshot())
	if err := stream.Send(&initial); err != nil {
		m.notification.Unsubscribe(id)
		return "", errors.Wrap(err, "failed to send initial state")
	}
	return id, nil
}

// Unsubscribe removes a notification subscription.
func (m *Manager) Unsubscribe(id string) {
	m.notification.Unsubscribe(id)
}

// orderedStream serializes sends to a stream.
type orderedStream struct {
	mu     sync.Mutex
	stream notification.Stream
}

func (s *orderedStream) Send(n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Send(n)
}

// Status returns the current session state.
func (m *Manager) Status() Status {
	return Status{
		Snapshot: m.controller.Snapshot(),
		Device:   m.adapter.Active(),
		Devices:  m.adapter.Devices(),
	}
}

// Devices lists the playback devices.
func (m *Manager) Devices() []playback.DeviceInfo {
	return m.adapter.Devices()
}

// SelectDevice switches playback to the named device.
func (m *Manager) SelectDevice(ctx context.Context, name string) error {
	if err := m.adapter.SelectDevice(ctx, name); err != nil {
		return err
	}
	zlog.Info().Msgf("session: device selected: device=%s", name)
	m.notification.Broadcast(m.newNotification(notification.TypeDeviceChanged, m.controller.Snapshot()))
	return nil
}

// canPlay asks the active device whether it can play t.
func (m *Manager) canPlay(t track.Track) bool {
	b, ok := m.backends[m.adapter.Active()]
	if !ok {
		return false
	}
	if c, ok := b.(playabilityChecker); ok {
		return c.CanPlay(t)
	}
	return true
}

// LoadQueue filters tracks into the queue and starts the track with startID,
// or the first queued track when startID is empty.
func (m *Manager) LoadQueue(ctx context.Context, tracks []track.Track, startID string) (*LoadResult, error) {
	if m.enricher != nil {
		enriched := make([]track.Track, len(tracks))
		for i, t := range tracks {
			if t.Source != track.SourceSpotify {
				t = m.enricher.Enrich(ctx, t)
			}
			enriched[i] = t
		}
		tracks = enriched
	}

	accepted, rejected := m.filterChain.Apply(ctx, tracks)
	if len(accepted) == 0 {
		return &LoadResult{Rejected: rejected}, ErrNoTracks
	}

	start := accepted[0]
	if startID != "" {
		idx := track.Queue(accepted).IndexOf(startID)
		if idx < 0 {
			return &LoadResult{Rejected: rejected}, errors.Wrapf(ErrTrackNotFound, "start track %s", startID)
		}
		start = accepted[idx]
	}

	m.controller.SetQueue(accepted)
	m.controller.SetCurrentTrack(start)

	zlog.Info().Msgf("session: queue loaded: queued=%d rejected=%d start=%s", len(accepted), len(rejected), start.ID)
	return &LoadResult{Queued: len(accepted), Rejected: rejected}, nil
}

// LoadSearch queues the catalog search results for query.
func (m *Manager) LoadSearch(ctx context.Context, query string) (*LoadResult, error) {
	if m.catalog == nil {
		return nil, ErrCatalogUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, defaultIngestTimeout)
	defer cancel()

	tracks, err := m.catalog.Search(ctx, query, defaultSearchLimit)
	if err != nil {
		return nil, err
	}
	return m.LoadQueue(ctx, tracks, "")
}

// LoadPlaylist queues a personal playlist by id, or a catalog playlist by URL.
func (m *Manager) LoadPlaylist(ctx context.Context, id string) (*LoadResult, error) {
	if m.store != nil {
		p, err := m.store.GetPlaylist(ctx, id)
		if err == nil {
			return m.LoadQueue(ctx, p.Queue(), "")
		}
		if !errors.Is(err, store.ErrNotFound) || m.catalog == nil {
			return nil, err
		}
	}
	if m.catalog == nil {
		return nil, ErrCatalogUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, defaultIngestTimeout)
	defer cancel()

	tracks, err := m.catalog.GetPlaylistTracks(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.LoadQueue(ctx, tracks, "")
}

// PlayTrack makes the queued track with the id current.
func (m *Manager) PlayTrack(id string) error {
	snap := m.controller.Snapshot()
	idx := snap.Queue.IndexOf(id)
	if idx < 0 {
		return errors.Wrapf(ErrTrackNotFound, "track %s is not queued", id)
	}
	m.controller.SetCurrentTrack(snap.Queue[idx])
	return nil
}

// lookupTrack finds id among the current and queued tracks.
func (m *Manager) lookupTrack(id string) (track.Track, error) {
	snap := m.controller.Snapshot()
	if snap.CurrentTrack != nil && snap.CurrentTrack.ID == id {
		return *snap.CurrentTrack, nil
	}
	if idx := snap.Queue.IndexOf(id); idx >= 0 {
		return snap.Queue[idx], nil
	}
	return track.Track{}, errors.Wrapf(ErrTrackNotFound, "track %s", id)
}

// RecentlyPlayed returns the listening history, most recent first.
func (m *Manager) RecentlyPlayed(ctx context.Context) ([]track.Track, error) {
	if m.store == nil {
		return nil, ErrStoreUnavailable
	}
	return m.store.RecentlyPlayed(ctx)
}

// SaveTrack adds the current or a queued track to the library. It reports
// false when the track was already saved.
func (m *Manager) SaveTrack(ctx context.Context, trackID string) (bool, error) {
	if m.store == nil {
		return false, ErrStoreUnavailable
	}
	t, err := m.lookupTrack(trackID)
	if err != nil {
		return false, err
	}
	added, err := m.store.SaveTrack(ctx, t, time.Now())
	if err != nil {
		return false, err
	}
	if added {
		zlog.Info().Msgf("session: track saved: track_id=%s", t.ID)
	}
	return added, nil
}

// RemoveSavedTrack drops a track from the library.
func (m *Manager) RemoveSavedTrack(ctx context.Context, trackID string) error {
	if m.store == nil {
		return ErrStoreUnavailable
	}
	removed, err := m.store.RemoveSavedTrack(ctx, trackID)
	if err != nil {
		return err
	}
	if !removed {
		return errors.Wrapf(ErrTrackNotFound, "track %s in library", trackID)
	}
	return nil
}

// IsSaved reports whether a track is in the library.
func (m *Manager) IsSaved(ctx context.Context, trackID string) (bool, error) {
	if m.store == nil {
		return false, ErrStoreUnavailable
	}
	return m.store.IsSaved(ctx, trackID)
}

// SavedTracks returns the library, most recently saved first.
func (m *Manager) SavedTracks(ctx context.Context) ([]track.Track, error) {
	if m.store == nil {
		return nil, ErrStoreUnavailable
	}
	return m.store.SavedTracks(ctx)
}

// CreatePlaylist creates an empty personal playlist.
func (m *Manager) CreatePlaylist(ctx context.Context, name string) (*playlist.Playlist, error) {
	if m.store == nil {
		return nil, ErrStoreUnavailable
	}
	return m.store.CreatePlaylist(ctx, name)
}

// ListPlaylists returns the personal playlists.
func (m *Manager) ListPlaylists(ctx context.Context) ([]playlist.Playlist, error) {
	if m.store == nil {
		return nil, ErrStoreUnavailable
	}
	return m.store.ListPlaylists(ctx)
}

// GetPlaylist returns a personal playlist.
func (m *Manager) GetPlaylist(ctx context.Context, id string) (*playlist.Playlist, error) {
	if m.store == nil {
		return nil, ErrStoreUnavailable
	}
	return m.store.GetPlaylist(ctx, id)
}

// AddToPlaylist appends the current or a queued track to a playlist.
func (m *Manager) AddToPlaylist(ctx context.Context, playlistID, trackID string) error {
	if m.store == nil {
		return ErrStoreUnavailable
	}
	t, err := m.lookupTrack(trackID)
	if err != nil {
		return err
	}
	return m.store.AddTrack(ctx, playlistID, t)
}

// RemoveFromPlaylist drops every entry of a track from a playlist.
func (m *Manager) RemoveFromPlaylist(ctx context.Context, playlistID, trackID string) error {
	if m.store == nil {
		return ErrStoreUnavailable
	}
	removed, err := m.store.RemoveTrack(ctx, playlistID, trackID)
	if err != nil {
		return err
	}
	if !removed {
		return errors.Wrapf(ErrTrackNotFound, "track %s in playlist %s", trackID, playlistID)
	}
	return nil
}

// DeletePlaylist deletes a personal playlist.
func (m *Manager) DeletePlaylist(ctx context.Context, id string) error {
	if m.store == nil {
		return ErrStoreUnavailable
	}
	return m.store.DeletePlaylist(ctx, id)
}
