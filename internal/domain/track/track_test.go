package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_AlbumSentinel(t *testing.T) {
	tests := []struct {
		name     string
		album    string
		expected string
	}{
		{name: "album given", album: "Blue", expected: "Blue"},
		{name: "empty album", album: "", expected: UnknownAlbum},
		{name: "blank album", album: "   ", expected: UnknownAlbum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New("id", "Title", "Artist", tt.album, time.Minute, "")
			assert.Equal(t, tt.expected, tr.Album)
		})
	}
}

func TestNew_NegativeDuration(t *testing.T) {
	tr := New("id", "Title", "Artist", "", -time.Second, "")
	assert.Equal(t, time.Duration(0), tr.Duration)
}

func TestTrack_SpotifyURI(t *testing.T) {
	tests := []struct {
		name     string
		track    Track
		expected string
	}{
		{
			name:     "spotify id",
			track:    Track{ID: "4uLU6hMCjMI75M1A2tKUQC", Source: SourceSpotify},
			expected: "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "already a uri",
			track:    Track{ID: "spotify:track:abc", Source: SourceSpotify},
			expected: "spotify:track:abc",
		},
		{
			name:     "community upload",
			track:    Track{ID: "abc", Source: SourceCommunity},
			expected: "",
		},
		{
			name:     "no source",
			track:    Track{ID: "abc"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.track.SpotifyURI())
		})
	}
}

func TestTrack_WithersDoNotMutate(t *testing.T) {
	orig := New("id", "Title", "Artist", "", 0, "")
	withCover := orig.WithCover("http://cover").WithSource(SourceCommunity)

	assert.Empty(t, orig.CoverURI)
	assert.Empty(t, orig.Source)
	assert.Equal(t, "http://cover", withCover.CoverURI)
	assert.Equal(t, SourceCommunity, withCover.Source)
}

func TestQueue_IndexOf_FirstMatch(t *testing.T) {
	q := Queue{{ID: "a"}, {ID: "b"}, {ID: "a"}}

	assert.Equal(t, 0, q.IndexOf("a"))
	assert.Equal(t, 1, q.IndexOf("b"))
	assert.Equal(t, -1, q.IndexOf("missing"))
	assert.True(t, q.Contains("b"))
	assert.False(t, Queue(nil).Contains("a"))
}

func TestQueue_CloneAndTotals(t *testing.T) {
	q := Queue{
		{ID: "a", Duration: time.Minute},
		{ID: "b", Duration: 30 * time.Second},
	}

	c := q.Clone()
	c[0] = Track{ID: "z"}

	assert.Equal(t, "a", q[0].ID)
	assert.Equal(t, []string{"a", "b"}, q.IDs())
	assert.Equal(t, 90*time.Second, q.TotalDuration())
	assert.Nil(t, Queue(nil).Clone())
}
