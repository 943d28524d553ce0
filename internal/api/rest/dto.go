package rest

import (
	"time"

	"github.com/20Josy07/harmonia/internal/app/lyricsvc"
	"github.com/20Josy07/harmonia/internal/app/player"
	"github.com/20Josy07/harmonia/internal/domain/lyrics"
	"github.com/20Josy07/harmonia/internal/domain/track"
)

type trackJSON struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Artists    []string `json:"artists"`
	Album      string   `json:"album,omitempty"`
	DurationMs int64    `json:"duration_ms"`
	ArtworkURL string   `json:"artwork_url,omitempty"`
	Origin     string   `json:"origin"`
	External   bool     `json:"external"`
}

func toTrackJSON(t track.Track) trackJSON {
	return trackJSON{
		ID:         t.ID,
		Title:      t.Title,
		Artists:    t.Artists,
		Album:      t.Album,
		DurationMs: t.Duration.Milliseconds(),
		ArtworkURL: t.ArtworkURL,
		Origin:     string(t.Origin),
		External:   t.External,
	}
}

type queueItemJSON struct {
	EntryID string    `json:"entry_id"`
	Track   trackJSON `json:"track"`
	AddedAt time.Time `json:"added_at"`
}

type queueJSON struct {
	Items []queueItemJSON `json:"items"`
	Index int             `json:"index"`
}

func toQueueJSON(items []track.QueueItem, index int) queueJSON {
	out := queueJSON{Items: make([]queueItemJSON, len(items)), Index: index}
	for i, it := range items {
		out.Items[i] = queueItemJSON{
			EntryID: it.EntryID,
			Track:   toTrackJSON(it.Track),
			AddedAt: it.AddedAt,
		}
	}
	return out
}

type playerStateJSON struct {
	State     string     `json:"state"`
	Track     *trackJSON `json:"track,omitempty"`
	Progress  float64    `json:"progress"`
	Volume    float64    `json:"volume"`
	Muted     bool       `json:"muted"`
	Shuffle   bool       `json:"shuffle"`
	Repeat    string     `json:"repeat"`
	Connected bool       `json:"connected"`
	DeviceID  string     `json:"device_id,omitempty"`
}

func toPlayerStateJSON(s player.Snapshot) playerStateJSON {
	out := playerStateJSON{
		State:     s.State.String(),
		Progress:  s.Progress,
		Volume:    s.Volume,
		Muted:     s.Muted,
		Shuffle:   s.Shuffle,
		Repeat:    s.Repeat.String(),
		Connected: s.Connected,
		DeviceID:  s.DeviceID,
	}
	if s.Track != nil {
		t := toTrackJSON(*s.Track)
		out.Track = &t
	}
	return out
}

type playlistJSON struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Tracks []trackJSON `json:"tracks"`
}

type lyricLineJSON struct {
	TimeMs int64  `json:"time_ms"`
	Text   string `json:"text"`
}

type lyricsJSON struct {
	Synced      bool            `json:"synced"`
	Lines       []lyricLineJSON `json:"lines,omitempty"`
	Plain       string          `json:"plain,omitempty"`
	ActiveIndex int             `json:"active_index"`
}

func toLyricsJSON(ly lyricsvc.Lyrics, position time.Duration) lyricsJSON {
	out := lyricsJSON{
		Synced:      ly.Synced,
		Plain:       ly.Plain,
		ActiveIndex: -1,
	}
	if ly.Synced {
		out.Lines = make([]lyricLineJSON, len(ly.Lines))
		for i, l := range ly.Lines {
			out.Lines[i] = lyricLineJSON{TimeMs: l.At.Milliseconds(), Text: l.Text}
		}
		out.ActiveIndex = lyrics.ActiveIndex(ly.Lines, position)
	}
	return out
}

type seekRequest struct {
	Progress float64 `json:"progress"`
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

type playRequest struct {
	TrackID    string `json:"track_id,omitempty"`
	PlaylistID string `json:"playlist_id,omitempty"`
	Index      int    `json:"index,omitempty"`
}

type queueAddRequest struct {
	TrackID string `json:"track_id"`
}

type reorderRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type immersiveRequest struct {
	On bool `json:"on"`
}

type repeatResponse struct {
	Repeat string `json:"repeat"`
}

type authStatusJSON struct {
	Authenticated bool `json:"authenticated"`
	Connected     bool `json:"connected"`
}

type errorJSON struct {
	Error string `json:"error"`
}

type eventJSON struct {
	SequenceNo uint64     `json:"sequence_no"`
	Type       string     `json:"type"`
	State      string     `json:"state,omitempty"`
	Track      *trackJSON `json:"track,omitempty"`
	Connected  bool       `json:"connected"`
}
