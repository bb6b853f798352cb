// Package lastfm provides a client for the Last.fm API, used to fill in
// album and cover metadata for community tracks.
package lastfm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19player/internal/domain/track"
)

// errTrackNotFound is Last.fm error code 6.
const errTrackNotFound = 6

// Client is a Last.fm API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	// Track info cache, evicted oldest first
	cache     map[string]*TrackInfo
	cacheKeys []string
	cacheSize int
	cacheMu   sync.RWMutex
}

// Config represents Last.fm client configuration.
type Config struct {
	APIKey    string
	CacheSize int           // Cached lookups; 512 when zero
	Timeout   time.Duration // HTTP timeout; 10s when zero
}

// TrackInfo is the metadata Last.fm knows about a track.
// A nil-valued lookup result means Last.fm does not know the track.
type TrackInfo struct {
	Album    string
	CoverURI string
	Duration time.Duration
}

// GetInfoResponse represents the response from track.getInfo API.
type GetInfoResponse struct {
	Track struct {
		Name     string `json:"name"`
		Duration string `json:"duration"` // Milliseconds as a string
		Album    struct {
			Title string `json:"title"`
			Image []struct {
				URL  string `json:"#text"`
				Size string `json:"size"`
			} `json:"image"`
		} `json:"album"`
	} `json:"track"`
}

// LastFMError represents an error response from Last.fm API.
type LastFMError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// New creates a new Last.fm client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("last.fm API key is required")
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    "https://ws.audioscrobbler.com/2.0/",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      make(map[string]*TrackInfo),
		cacheSize:  cfg.CacheSize,
	}, nil
}

// GetTrackInfo retrieves album, cover and duration for a track.
// It returns nil, nil when Last.fm does not know the track.
// Reference: https://www.last.fm/api/show/track.getInfo
func (c *Client) GetTrackInfo(ctx context.Context, title, artist string) (*TrackInfo, error) {
	if title == "" || artist == "" {
		return nil, errors.New("track name and artist name are required")
	}

	cacheKey := strings.ToLower(artist + "\x00" + title)
	c.cacheMu.RLock()
	if info, ok := c.cache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		zlog.Debug().Msgf("lastfm: cache hit: artist=%s track=%s", artist, title)
		return info, nil
	}
	c.cacheMu.RUnlock()

	params := url.Values{}
	params.Set("method", "track.getInfo")
	params.Set("artist", artist)
	params.Set("track", title)
	params.Set("autocorrect", "1")

	var response GetInfoResponse
	err := c.get(ctx, params, &response)

	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.code == errTrackNotFound {
		c.store(cacheKey, nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	info := &TrackInfo{Album: response.Track.Album.Title}
	if ms, err := strconv.ParseInt(response.Track.Duration, 10, 64); err == nil && ms > 0 {
		info.Duration = time.Duration(ms) * time.Millisecond
	}
	// Images are listed smallest first
	for _, img := range response.Track.Album.Image {
		if img.URL != "" {
			info.CoverURI = img.URL
		}
	}

	c.store(cacheKey, info)
	return info, nil
}

// Enrich fills a missing album, cover or duration from Last.fm.
// Lookup failures leave the track unchanged.
func (c *Client) Enrich(ctx context.Context, t track.Track) track.Track {
	if !t.HasUnknownAlbum() && t.CoverURI != "" && t.Duration > 0 {
		return t
	}

	info, err := c.GetTrackInfo(ctx, t.Title, t.Artist)
	if err != nil {
		zlog.Warn().Err(err).Msgf("lastfm: enrich failed: id=%s", t.ID)
		return t
	}
	if info == nil {
		return t
	}

	album := t.Album
	if t.HasUnknownAlbum() && info.Album != "" {
		album = info.Album
	}
	duration := t.Duration
	if duration <= 0 {
		duration = info.Duration
	}
	enriched := track.New(t.ID, t.Title, t.Artist, album, duration, t.MediaURI).
		WithCover(t.CoverURI).
		WithSource(t.Source)
	if enriched.CoverURI == "" {
		enriched = enriched.WithCover(info.CoverURI)
	}
	return enriched
}

func (c *Client) store(key string, info *TrackInfo) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	if _, ok := c.cache[key]; !ok {
		c.cacheKeys = append(c.cacheKeys, key)
	}
	c.cache[key] = info

	for len(c.cacheKeys) > c.cacheSize {
		delete(c.cache, c.cacheKeys[0])
		c.cacheKeys = c.cacheKeys[1:]
	}
}

type apiError struct {
	code    int
	message string
}

func (e *apiError) Error() string {
	return "last.fm API error " + strconv.Itoa(e.code) + ": " + e.message
}

// get calls a Last.fm method and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")
	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	// Check for Last.fm API errors
	var lfmErr LastFMError
	if err := json.Unmarshal(body, &lfmErr); err == nil && lfmErr.Error != 0 {
		return &apiError{code: lfmErr.Error, message: lfmErr.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("last.fm returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}
