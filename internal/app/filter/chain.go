package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19player/internal/domain/track"
)

// Rejection records a track dropped by the chain.
type Rejection struct {
	Track  track.Track
	Filter string
	Code   string
}

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// Build creates a chain from the enabled filters and their settings.
// Filters run in registry name order.
func Build(enabled map[string]map[string]any, env Env) (*Chain, error) {
	c := NewChain()
	for _, name := range Names() {
		settings, ok := enabled[name]
		if !ok {
			continue
		}
		f := registry[name](env)
		if err := f.ValidateConfig(settings); err != nil {
			return nil, errors.Wrapf(err, "invalid %s settings", name)
		}
		c.Add(f)
		zlog.Info().Msgf("filter: enabled: name=%s", name)
	}
	for name := range enabled {
		if _, ok := registry[name]; !ok {
			return nil, errors.Newf("unknown filter: %s", name)
		}
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters on t and returns the first rejection.
func (c *Chain) Execute(ctx context.Context, t track.Track, accepted []track.Track) (Result, string) {
	for _, f := range c.filters {
		result := f.Check(ctx, t, accepted)
		if !result.Accepted {
			return result, f.Name()
		}
	}
	return Accept(), ""
}

// Apply filters tracks in order. Each track is checked against those
// accepted before it.
func (c *Chain) Apply(ctx context.Context, tracks []track.Track) ([]track.Track, []Rejection) {
	accepted := make([]track.Track, 0, len(tracks))
	var rejected []Rejection

	for _, t := range tracks {
		result, name := c.Execute(ctx, t, accepted)
		if !result.Accepted {
			zlog.Debug().Msgf("filter: rejected: id=%s filter=%s code=%s", t.ID, name, result.Code)
			rejected = append(rejected, Rejection{Track: t, Filter: name, Code: result.Code})
			continue
		}
		accepted = append(accepted, t)
	}
	return accepted, rejected
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
