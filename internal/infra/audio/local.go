// Package audio provides the local playback device: it fetches a media source,
// decodes MP3 to PCM and streams it to a sink in real time.
package audio

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hajimehoshi/go-mp3"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19player/internal/app/playback"
	"github.com/osa030/19player/internal/domain/track"
)

// bytesPerFrame is the size of one 16-bit stereo PCM frame.
const bytesPerFrame = 4

// Decoder produces 16-bit little-endian stereo PCM.
type Decoder interface {
	io.ReadSeeker
	Length() int64 // Total PCM bytes
	SampleRate() int
}

// DecodeFunc creates a decoder over an encoded stream.
type DecodeFunc func(r io.ReadSeeker) (Decoder, error)

// DecodeMP3 decodes MP3 using go-mp3.
func DecodeMP3(r io.ReadSeeker) (Decoder, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Config represents local device configuration.
type Config struct {
	Name    string
	Sink    io.Writer     // PCM destination
	Tick    time.Duration // Pacing and time update interval
	Fetcher *Fetcher      // Media fetcher; nil uses a default fetcher
	Decode  DecodeFunc    // Nil uses DecodeMP3
}

// LocalBackend is a playback.Backend that decodes media in-process.
type LocalBackend struct {
	name    string
	sink    io.Writer
	tick    time.Duration
	fetcher *Fetcher
	decode  DecodeFunc
	emitter playback.Emitter

	mu             sync.Mutex
	token          playback.LoadToken
	decoder        Decoder
	bytesPerSecond int64
	offset         int64
	volume         float64
	playing        bool
	playGen        uint64

	wg sync.WaitGroup
}

var _ playback.Backend = (*LocalBackend)(nil)

// NewLocalBackend creates a local backend.
func NewLocalBackend(cfg Config) *LocalBackend {
	if cfg.Name == "" {
		cfg.Name = "local"
	}
	if cfg.Sink == nil {
		cfg.Sink = io.Discard
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 500 * time.Millisecond
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewFetcher(0)
	}
	if cfg.Decode == nil {
		cfg.Decode = DecodeMP3
	}
	return &LocalBackend{
		name:    cfg.Name,
		sink:    cfg.Sink,
		tick:    cfg.Tick,
		fetcher: cfg.Fetcher,
		decode:  cfg.Decode,
		volume:  1,
	}
}

// Name returns the device name.
func (b *LocalBackend) Name() string {
	return b.name
}

// CanPlay reports whether t has a media source to decode.
func (b *LocalBackend) CanPlay(t track.Track) bool {
	return t.IsLocallyPlayable()
}

// Load fetches and decodes the track's media source.
func (b *LocalBackend) Load(ctx context.Context, token playback.LoadToken, t track.Track) error {
	if !t.IsLocallyPlayable() {
		return errors.Wrapf(playback.ErrNotPlayable, "track %s has no media source", t.ID)
	}
	if b.isStale(token) {
		return playback.ErrStaleLoad
	}

	data, err := b.fetcher.Fetch(ctx, t.MediaURI)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dec, err := b.decode(newMemReader(data))
	if err != nil {
		return errors.Wrap(err, "failed to decode media")
	}
	if dec.SampleRate() <= 0 {
		return errors.New("decoder reported no sample rate")
	}

	b.mu.Lock()
	if token < b.token {
		b.mu.Unlock()
		return playback.ErrStaleLoad
	}
	b.stopLocked()
	b.token = token
	b.decoder = dec
	b.bytesPerSecond = int64(dec.SampleRate()) * bytesPerFrame
	b.offset = 0
	duration := b.durationLocked()
	b.mu.Unlock()

	zlog.Debug().Msgf("audio: loaded: token=%d track=%s bytes=%d duration=%s", token, t.ID, len(data), duration)

	if duration > 0 {
		b.emitter.Emit(playback.BackendEvent{Type: playback.BackendDurationKnown, Token: token, Duration: duration})
	}
	return nil
}

func (b *LocalBackend) isStale(token playback.LoadToken) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return token < b.token
}

// Play starts streaming from the current offset.
func (b *LocalBackend) Play(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.decoder == nil {
		return playback.ErrNoSource
	}
	if b.playing {
		return nil
	}
	b.playing = true
	b.playGen++

	b.wg.Add(1)
	go b.stream(b.playGen, b.token)
	return nil
}

// Pause stops streaming and keeps the offset.
func (b *LocalBackend) Pause(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	return nil
}

// Must be called with mu held. The stream goroutine notices on its next tick.
func (b *LocalBackend) stopLocked() {
	if b.playing {
		b.playing = false
		b.playGen++
	}
}

// Seek moves the decoder to pos, clamped to the source length.
func (b *LocalBackend) Seek(ctx context.Context, pos time.Duration) error {
	b.mu.Lock()
	if b.decoder == nil {
		b.mu.Unlock()
		return playback.ErrNoSource
	}

	var off int64
	switch length := b.decoder.Length(); {
	case pos <= 0:
		off = 0
	case length > 0 && pos >= b.durationLocked():
		off = length
	default:
		off = int64(pos) * b.bytesPerSecond / int64(time.Second) / bytesPerFrame * bytesPerFrame
	}
	if _, err := b.decoder.Seek(off, io.SeekStart); err != nil {
		b.mu.Unlock()
		return errors.Wrap(err, "failed to seek")
	}
	b.offset = off
	token := b.token
	position := b.positionLocked()
	b.mu.Unlock()

	b.emitter.Emit(playback.BackendEvent{Type: playback.BackendTimeUpdate, Token: token, Position: position})
	return nil
}

// SetVolume sets the PCM scaling factor.
func (b *LocalBackend) SetVolume(ctx context.Context, v float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volume = min(max(v, 0), 1)
	return nil
}

// Position returns the current stream position.
func (b *LocalBackend) Position() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positionLocked()
}

// Subscribe registers a backend event listener.
func (b *LocalBackend) Subscribe() (<-chan playback.BackendEvent, func()) {
	return b.emitter.Subscribe()
}

// Release stops streaming and drops the loaded source.
func (b *LocalBackend) Release(ctx context.Context) error {
	b.mu.Lock()
	b.stopLocked()
	b.decoder = nil
	b.offset = 0
	b.bytesPerSecond = 0
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "stream did not stop")
	}
}

// Must be called with mu held.
func (b *LocalBackend) positionLocked() time.Duration {
	if b.bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(b.offset * int64(time.Second) / b.bytesPerSecond)
}

// Must be called with mu held.
func (b *LocalBackend) durationLocked() time.Duration {
	length := b.decoder.Length()
	if length <= 0 || b.bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(length * int64(time.Second) / b.bytesPerSecond)
}

// stream paces PCM into the sink, one tick's worth of frames at a time.
func (b *LocalBackend) stream(gen uint64, token playback.LoadToken) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()

	for range ticker.C {
		chunk, position, eof, err := b.readChunk(gen)
		if chunk == nil && !eof && err == nil {
			return // stopped
		}

		if len(chunk) > 0 {
			if _, werr := b.sink.Write(chunk); werr != nil {
				err = errors.Wrap(werr, "failed to write to sink")
			}
			b.emitter.Emit(playback.BackendEvent{Type: playback.BackendTimeUpdate, Token: token, Position: position})
		}

		if err != nil {
			b.finish(gen)
			zlog.Warn().Err(err).Msgf("audio: stream failed: token=%d", token)
			b.emitter.Emit(playback.BackendEvent{Type: playback.BackendError, Token: token, Err: err})
			return
		}
		if eof {
			b.finish(gen)
			zlog.Debug().Msgf("audio: ended: token=%d", token)
			b.emitter.Emit(playback.BackendEvent{Type: playback.BackendEnded, Token: token})
			return
		}
	}
}

// readChunk reads the next tick of PCM. A nil chunk without eof or error
// means playback generation gen was stopped.
func (b *LocalBackend) readChunk(gen uint64) (chunk []byte, position time.Duration, eof bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.playGen != gen || !b.playing || b.decoder == nil {
		return nil, 0, false, nil
	}

	size := b.bytesPerSecond * int64(b.tick) / int64(time.Second)
	size = max(size/bytesPerFrame*bytesPerFrame, bytesPerFrame)
	buf := make([]byte, size)

	n, rerr := io.ReadFull(b.decoder, buf)
	buf = buf[:n]
	b.offset += int64(n)
	scaleVolume(buf, b.volume)

	switch {
	case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
		eof = true
	case rerr != nil:
		err = errors.Wrap(rerr, "failed to decode")
	}
	return buf, b.positionLocked(), eof, err
}

func (b *LocalBackend) finish(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.playGen == gen {
		b.playing = false
	}
}

// scaleVolume scales 16-bit little-endian samples in place.
func scaleVolume(pcm []byte, volume float64) {
	if volume >= 1 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		scaled := int16(float64(sample) * volume)
		pcm[i] = byte(scaled)
		pcm[i+1] = byte(scaled >> 8)
	}
}
