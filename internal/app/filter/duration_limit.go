package filter

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19player/internal/domain/track"
)

// DurationLimitConfig represents the configuration for DurationLimitFilter.
// Zero means no limit.
type DurationLimitConfig struct {
	MinDurationSec int `yaml:"min_duration_sec" mapstructure:"min_duration_sec" validate:"gte=0"`
	MaxDurationSec int `yaml:"max_duration_sec" mapstructure:"max_duration_sec" validate:"gte=0"`
}

// DurationLimitFilter checks if track duration is within allowed limits.
// Tracks with an unknown duration pass.
type DurationLimitFilter struct {
	config *DurationLimitConfig
}

// NewDurationLimitFilter creates a new duration limit filter.
func NewDurationLimitFilter() *DurationLimitFilter {
	return &DurationLimitFilter{}
}

func (f *DurationLimitFilter) Name() string {
	return "duration_limit_filter"
}

func (f *DurationLimitFilter) Description() string {
	return "Checks if track duration is within allowed limits"
}

func (f *DurationLimitFilter) ReturnCodes() []string {
	return []string{"duration_limit_exceeded"}
}

func (f *DurationLimitFilter) ValidateConfig(settings map[string]any) error {
	var config DurationLimitConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}

	// min_duration_sec cannot be greater than max_duration_sec
	if config.MaxDurationSec > 0 && config.MinDurationSec > config.MaxDurationSec {
		return errors.New("min_duration_sec cannot be greater than max_duration_sec")
	}
	f.config = &config
	zlog.Info().Msgf("filter: duration limit config: min=%ds max=%ds", config.MinDurationSec, config.MaxDurationSec)
	return nil
}

func (f *DurationLimitFilter) Check(ctx context.Context, t track.Track, accepted []track.Track) Result {
	// If config is not set, accept all tracks
	if f.config == nil || t.Duration <= 0 {
		return Accept()
	}

	if minDuration := time.Duration(f.config.MinDurationSec) * time.Second; t.Duration < minDuration {
		return Reject("duration_limit_exceeded")
	}
	if f.config.MaxDurationSec > 0 && t.Duration > time.Duration(f.config.MaxDurationSec)*time.Second {
		return Reject("duration_limit_exceeded")
	}
	return Accept()
}

func init() {
	Register("duration_limit_filter", func(env Env) Filter {
		return NewDurationLimitFilter()
	})
}
