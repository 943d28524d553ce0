// Package track provides the Track domain entity.
package track

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Origin classifies where a track's audio lives. It is fixed at creation;
// the origin decides which backend owns playback for the lifetime of the
// track object.
type Origin string

const (
	// OriginLocal marks a track backed by a locally hosted audio file.
	OriginLocal Origin = "local"
	// OriginSpotify marks a track streamed through Spotify Connect.
	OriginSpotify Origin = "spotify"
)

// Track represents a playable unit.
type Track struct {
	ID         string        // Stable identifier (catalog ID or Spotify ID)
	Title      string        // Track title
	Artists    []string      // Artist names
	Album      string        // Album name
	Duration   time.Duration // Track length
	ArtworkURL string        // Album art reference
	AudioPath  string        // Local audio file path (empty for remote tracks)
	SpotifyURI string        // spotify:track:... URI (empty for local tracks)
	Origin     Origin        // Backend ownership, fixed at creation
	External   bool          // Sourced from an external catalog rather than the bundled library
}

// HasLocalAudio reports whether the track carries a playable local file.
func (t *Track) HasLocalAudio() bool {
	return t.AudioPath != ""
}

// HasRemoteAudio reports whether the track carries a remote-playable URI.
func (t *Track) HasRemoteAudio() bool {
	return t.SpotifyURI != ""
}

// ArtistLine returns the artist names joined for display and lyric lookups.
func (t *Track) ArtistLine() string {
	return strings.Join(t.Artists, ", ")
}

// QueueItem represents a track entry in the playback queue. Entry IDs are
// unique per enqueue so the same track can appear in the queue twice and
// still be addressed individually.
type QueueItem struct {
	EntryID string
	Track   Track
	AddedAt time.Time
}

// NewQueueItem wraps a track in a queue entry with a fresh entry ID.
func NewQueueItem(t Track) QueueItem {
	return QueueItem{
		EntryID: uuid.New().String(),
		Track:   t,
		AddedAt: time.Now(),
	}
}
