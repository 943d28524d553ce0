package spotify

import (
	"time"

	spotifyapi "github.com/zmb3/spotify/v2"

	"github.com/20Josy07/harmonia/internal/domain/track"
)

// Profile is the authenticated user's profile.
type Profile struct {
	ID          string
	DisplayName string
	Product     string
}

// Device is a remote playback device.
type Device struct {
	ID         string
	Name       string
	Type       string
	Active     bool
	Restricted bool
	Volume     int // 0-100
}

// State is a snapshot of remote playback, converted to domain types so the
// orchestrator never handles wire structures.
type State struct {
	Track    *track.Track
	Playing  bool
	Progress time.Duration
	Shuffle  bool
	Repeat   string // "off", "track" or "context"
	Device   Device
}

// convertState maps a Web API player state to a domain snapshot. A state
// with no item and no device means nothing is playing anywhere; that maps
// to nil.
func convertState(st *spotifyapi.PlayerState) *State {
	if st == nil || (st.Item == nil && st.Device.ID == "") {
		return nil
	}
	out := &State{
		Playing:  st.Playing,
		Progress: time.Duration(st.Progress) * time.Millisecond,
		Shuffle:  st.ShuffleState,
		Repeat:   st.RepeatState,
		Device: Device{
			ID:         string(st.Device.ID),
			Name:       st.Device.Name,
			Type:       st.Device.Type,
			Active:     st.Device.Active,
			Restricted: st.Device.Restricted,
			Volume:     int(st.Device.Volume),
		},
	}
	if st.Item != nil {
		out.Track = convertTrack(st.Item)
	}
	return out
}

// convertTrack maps a Web API full track to the domain entity. Remote tracks
// are marked externally sourced; their origin never changes afterwards.
func convertTrack(t *spotifyapi.FullTrack) *track.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	var artwork string
	if len(t.Album.Images) > 0 {
		artwork = t.Album.Images[0].URL
	}

	return &track.Track{
		ID:         string(t.ID),
		Title:      t.Name,
		Artists:    artists,
		Album:      t.Album.Name,
		Duration:   time.Duration(t.Duration) * time.Millisecond,
		ArtworkURL: artwork,
		SpotifyURI: string(t.URI),
		Origin:     track.OriginSpotify,
		External:   true,
	}
}
