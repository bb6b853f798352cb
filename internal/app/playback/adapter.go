package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19player/internal/domain/track"
)

const (
	DefaultSeekTolerance  = time.Second
	DefaultCommandTimeout = 10 * time.Second
	defaultReleaseTimeout = 5 * time.Second
)

// AdapterConfig holds adapter configuration.
type AdapterConfig struct {
	SeekTolerance  time.Duration // Seeks closer than this to the backend position are not forwarded
	CommandTimeout time.Duration // Timeout for each backend command except Load
}

// DeviceInfo describes a registered backend.
type DeviceInfo struct {
	Name   string
	Active bool
}

type adapterState int

const (
	adapterIdle adapterState = iota
	adapterRunning
	adapterStopped
)

type selectRequest struct {
	name  string
	reply chan error
}

// Adapter binds a Controller to exactly one active Backend at a time.
// It is the only component that issues backend commands.
type Adapter struct {
	controller *Controller
	config     AdapterConfig
	backends   map[string]Backend
	order      []string

	mu      sync.RWMutex
	active  Backend
	state   adapterState
	stopped chan struct{}

	selectCh chan selectRequest
}

// NewAdapter creates an adapter. The first backend is active until SelectDevice is called.
func NewAdapter(controller *Controller, config AdapterConfig, backends ...Backend) (*Adapter, error) {
	if controller == nil {
		return nil, errors.New("controller is required")
	}
	if len(backends) == 0 {
		return nil, errors.New("at least one backend is required")
	}
	if config.SeekTolerance <= 0 {
		config.SeekTolerance = DefaultSeekTolerance
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = DefaultCommandTimeout
	}

	a := &Adapter{
		controller: controller,
		config:     config,
		backends:   make(map[string]Backend, len(backends)),
		stopped:    make(chan struct{}),
		selectCh:   make(chan selectRequest),
	}
	for _, b := range backends {
		name := b.Name()
		if _, exists := a.backends[name]; exists {
			return nil, errors.Newf("duplicate backend name %q", name)
		}
		a.backends[name] = b
		a.order = append(a.order, name)
	}
	a.active = backends[0]
	return a, nil
}

// Devices lists registered backends in registration order.
func (a *Adapter) Devices() []DeviceInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	devices := make([]DeviceInfo, 0, len(a.order))
	for _, name := range a.order {
		devices = append(devices, DeviceInfo{
			Name:   name,
			Active: a.active.Name() == name,
		})
	}
	return devices
}

// Active returns the name of the active backend.
func (a *Adapter) Active() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active.Name()
}

// SelectDevice makes the named backend active. While running, the old backend is
// released and the current track is reloaded on the new one at the same position.
func (a *Adapter) SelectDevice(ctx context.Context, name string) error {
	a.mu.Lock()
	switch a.state {
	case adapterIdle:
		defer a.mu.Unlock()
		b, ok := a.backends[name]
		if !ok {
			return errors.Wrapf(ErrUnknownDevice, "device %q", name)
		}
		a.active = b
		return nil
	case adapterStopped:
		a.mu.Unlock()
		return ErrNotRunning
	}
	a.mu.Unlock()

	req := selectRequest{name: name, reply: make(chan error, 1)}
	select {
	case a.selectCh <- req:
	case <-a.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the active backend from session events until ctx is cancelled.
// On return the loaded source is released and every subscription is closed.
// Run can be called only once.
func (a *Adapter) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.state != adapterIdle {
		a.mu.Unlock()
		return errors.New("adapter already started")
	}
	a.state = adapterRunning
	backend := a.active
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.state = adapterStopped
		a.mu.Unlock()
		close(a.stopped)
	}()

	sub := a.controller.Session().Subscribe()
	defer sub.Close()

	loopCtx, cancelLoop := context.WithCancel(ctx)
	l := &adapterLoop{
		adapter:  a,
		ctx:      loopCtx,
		loadDone: make(chan loadResult, 1),
	}
	defer func() {
		cancelLoop()
		// Unsubscribe before waiting so a load blocked on emitting returns.
		if l.unsubscribe != nil {
			l.unsubscribe()
			l.unsubscribe = nil
		}
		l.wg.Wait()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultReleaseTimeout)
		defer cancel()
		l.detach(releaseCtx)
	}()

	l.attach(backend)
	l.syncInitial()

	zlog.Info().Msgf("adapter: started: device=%s", backend.Name())

	for {
		select {
		case <-ctx.Done():
			zlog.Info().Msg("adapter: stopped")
			return nil
		case <-sub.Ready():
			for _, ev := range sub.Drain() {
				l.handleSessionEvent(ev)
			}
		case ev := <-l.events:
			l.handleBackendEvent(ev)
		case res := <-l.loadDone:
			l.handleLoadResult(res)
		case req := <-a.selectCh:
			req.reply <- l.switchBackend(req.name)
		}
	}
}

type loadResult struct {
	token   LoadToken
	backend Backend
	err     error
}

// adapterLoop is the state owned by the Run goroutine.
type adapterLoop struct {
	adapter *Adapter
	ctx     context.Context

	backend     Backend
	events      <-chan BackendEvent
	unsubscribe func()

	gen        LoadToken // Latest issued token; only its load and events are applied
	wanted     *track.Track
	loaded     *track.Track
	loading    bool
	resumeAt   time.Duration
	cancelLoad context.CancelFunc

	loadDone chan loadResult
	wg       sync.WaitGroup
}

func (l *adapterLoop) controller() *Controller {
	return l.adapter.controller
}

func (l *adapterLoop) attach(b Backend) {
	l.backend = b
	l.events, l.unsubscribe = b.Subscribe()
}

func (l *adapterLoop) detach(ctx context.Context) {
	if l.unsubscribe != nil {
		l.unsubscribe()
		l.unsubscribe = nil
	}
	l.events = nil
	l.invalidate()
	if l.backend == nil {
		return
	}
	if err := l.backend.Release(ctx); err != nil {
		zlog.Warn().Err(err).Msgf("adapter: release failed: device=%s", l.backend.Name())
	}
}

// invalidate forgets the current source so that its pending load and
// later events are discarded.
func (l *adapterLoop) invalidate() {
	if l.cancelLoad != nil {
		l.cancelLoad()
		l.cancelLoad = nil
	}
	l.gen++
	l.loaded = nil
	l.loading = false
}

func (l *adapterLoop) syncInitial() {
	snap := l.controller().Snapshot()
	l.command("set volume", func(ctx context.Context) error {
		return l.backend.SetVolume(ctx, snap.Volume)
	})
	if snap.CurrentTrack != nil {
		l.requestLoad(*snap.CurrentTrack, snap.Position)
	}
}

func (l *adapterLoop) handleSessionEvent(ev Event) {
	snap := ev.Snapshot
	switch ev.Type {
	case EventTrackChanged:
		if snap.CurrentTrack == nil {
			return
		}
		if l.wanted != nil && sameSource(*l.wanted, *snap.CurrentTrack) {
			l.applyTransport(snap.IsPlaying)
			return
		}
		l.requestLoad(*snap.CurrentTrack, 0)

	case EventTrackRestarted:
		if snap.CurrentTrack == nil {
			return
		}
		if l.loading && l.wanted != nil && sameSource(*l.wanted, *snap.CurrentTrack) {
			// Applied once the pending load lands
			l.resumeAt = 0
			return
		}
		if l.loaded == nil || !sameSource(*l.loaded, *snap.CurrentTrack) {
			l.requestLoad(*snap.CurrentTrack, 0)
			return
		}
		l.command("seek", func(ctx context.Context) error {
			return l.backend.Seek(ctx, 0)
		})
		if snap.IsPlaying {
			l.startPlayback()
		}

	case EventStateChanged:
		if snap.IsPlaying && snap.CurrentTrack != nil && l.loaded == nil && !l.loading {
			l.requestLoad(*snap.CurrentTrack, snap.Position)
			return
		}
		l.applyTransport(snap.IsPlaying)

	case EventSeeked:
		if l.loading {
			l.resumeAt = max(snap.Position, 0)
			return
		}
		if l.loaded == nil {
			return
		}
		divergence := snap.Position - l.backend.Position()
		if divergence < 0 {
			divergence = -divergence
		}
		if divergence <= l.adapter.config.SeekTolerance {
			return
		}
		to := snap.Position
		if to < 0 {
			to = 0
		}
		l.command("seek", func(ctx context.Context) error {
			return l.backend.Seek(ctx, to)
		})

	case EventVolumeChanged:
		l.command("set volume", func(ctx context.Context) error {
			return l.backend.SetVolume(ctx, snap.Volume)
		})
	}
}

// applyTransport forwards the playing flag to a loaded source.
// With nothing loaded the flag has no audible effect.
func (l *adapterLoop) applyTransport(playing bool) {
	if l.loaded == nil || l.loading {
		return
	}
	if playing {
		l.startPlayback()
		return
	}
	l.command("pause", func(ctx context.Context) error {
		return l.backend.Pause(ctx)
	})
}

func (l *adapterLoop) startPlayback() {
	ctx, cancel := context.WithTimeout(l.ctx, l.adapter.config.CommandTimeout)
	defer cancel()
	if err := l.backend.Play(ctx); err != nil {
		zlog.Warn().Err(err).Msgf("adapter: play rejected: device=%s", l.backend.Name())
		l.controller().failPlayback(errors.Wrap(err, "play"))
	}
}

// command runs a best-effort backend command. Failures are logged only.
func (l *adapterLoop) command(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(l.ctx, l.adapter.config.CommandTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		zlog.Warn().Err(err).Msgf("adapter: %s failed: device=%s", name, l.backend.Name())
	}
}

func (l *adapterLoop) requestLoad(t track.Track, resumeAt time.Duration) {
	if l.cancelLoad != nil {
		l.cancelLoad()
	}

	l.gen++
	token := l.gen
	l.wanted = &t
	l.loaded = nil
	l.loading = true
	l.resumeAt = resumeAt

	loadCtx, cancel := context.WithCancel(l.ctx)
	l.cancelLoad = cancel
	backend := l.backend

	zlog.Debug().Msgf("adapter: load: token=%d track=%s device=%s", token, t.ID, backend.Name())

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := backend.Load(loadCtx, token, t)
		select {
		case l.loadDone <- loadResult{token: token, backend: backend, err: err}:
		case <-l.ctx.Done():
		}
	}()
}

func (l *adapterLoop) handleLoadResult(res loadResult) {
	if res.token != l.gen || res.backend != l.backend {
		zlog.Debug().Msgf("adapter: stale load discarded: token=%d current=%d", res.token, l.gen)
		return
	}

	l.loading = false
	if l.cancelLoad != nil {
		l.cancelLoad()
		l.cancelLoad = nil
	}

	if res.err != nil {
		zlog.Warn().Err(res.err).Msgf("adapter: load failed: token=%d device=%s", res.token, l.backend.Name())
		l.controller().failPlayback(errors.Wrap(res.err, "load"))
		return
	}

	l.loaded = l.wanted

	snap := l.controller().Snapshot()
	l.command("set volume", func(ctx context.Context) error {
		return l.backend.SetVolume(ctx, snap.Volume)
	})
	if l.resumeAt > 0 {
		resumeAt := l.resumeAt
		l.command("seek", func(ctx context.Context) error {
			return l.backend.Seek(ctx, resumeAt)
		})
		l.controller().syncPosition(resumeAt)
	} else {
		l.controller().syncPosition(0)
	}
	l.resumeAt = 0

	if snap.IsPlaying && snap.CurrentTrack != nil && sameSource(*snap.CurrentTrack, *l.loaded) {
		l.startPlayback()
	}
}

func (l *adapterLoop) handleBackendEvent(ev BackendEvent) {
	// Events for the pending load are accepted, e.g. a duration known
	// before the load call returns.
	if ev.Token != l.gen || (l.loaded == nil && !l.loading) {
		return
	}

	switch ev.Type {
	case BackendTimeUpdate:
		l.controller().syncPosition(ev.Position)
	case BackendDurationKnown:
		l.controller().syncDuration(ev.Duration)
	case BackendEnded:
		zlog.Debug().Msgf("adapter: track ended: token=%d", ev.Token)
		l.controller().handleTrackEnded()
	case BackendError:
		err := ev.Err
		if err == nil {
			err = errors.New("backend error")
		}
		zlog.Warn().Err(err).Msgf("adapter: backend error: token=%d device=%s", ev.Token, l.backend.Name())
		l.invalidate()
		l.controller().failPlayback(err)
	}
}

func (l *adapterLoop) switchBackend(name string) error {
	next, ok := l.adapter.backends[name]
	if !ok {
		return errors.Wrapf(ErrUnknownDevice, "device %q", name)
	}
	if next == l.backend {
		return nil
	}

	prev := l.backend.Name()
	snap := l.controller().Snapshot()

	releaseCtx, cancel := context.WithTimeout(l.ctx, l.adapter.config.CommandTimeout)
	l.detach(releaseCtx)
	cancel()

	l.attach(next)
	l.adapter.mu.Lock()
	l.adapter.active = next
	l.adapter.mu.Unlock()

	zlog.Info().Msgf("adapter: device switched: from=%s to=%s", prev, name)

	l.command("set volume", func(ctx context.Context) error {
		return next.SetVolume(ctx, snap.Volume)
	})
	l.wanted = nil
	if snap.CurrentTrack != nil {
		l.requestLoad(*snap.CurrentTrack, snap.Position)
	}
	return nil
}

// sameSource reports whether a and b resolve to the same loaded source.
func sameSource(a, b track.Track) bool {
	return a.ID == b.ID && a.MediaURI == b.MediaURI
}
