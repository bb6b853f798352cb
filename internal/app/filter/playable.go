package filter

import (
	"context"

	"github.com/osa030/19player/internal/domain/track"
)

// PlayableFilter drops tracks the active device cannot play.
type PlayableFilter struct {
	canPlay func(t track.Track) bool
}

// NewPlayableFilter creates a playable filter. A nil canPlay accepts
// locally playable tracks.
func NewPlayableFilter(canPlay func(t track.Track) bool) *PlayableFilter {
	if canPlay == nil {
		canPlay = track.Track.IsLocallyPlayable
	}
	return &PlayableFilter{canPlay: canPlay}
}

func (f *PlayableFilter) Name() string {
	return "playable_filter"
}

func (f *PlayableFilter) Description() string {
	return "Drops tracks the active device cannot play"
}

func (f *PlayableFilter) ReturnCodes() []string {
	return []string{"not_playable"}
}

func (f *PlayableFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *PlayableFilter) Check(ctx context.Context, t track.Track, accepted []track.Track) Result {
	if !f.canPlay(t) {
		return Reject("not_playable")
	}
	return Accept()
}

func init() {
	Register("playable_filter", func(env Env) Filter {
		return NewPlayableFilter(env.CanPlay)
	})
}
