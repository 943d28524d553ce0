// Package library provides the local track catalog, loaded from a YAML
// manifest.
package library

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/20Josy07/harmonia/internal/domain/track"
)

// ErrNotFound indicates the requested catalog entry does not exist.
var ErrNotFound = errors.New("not found in library")

type manifestTrack struct {
	ID          string   `yaml:"id" validate:"required"`
	Title       string   `yaml:"title" validate:"required"`
	Artists     []string `yaml:"artists"`
	Album       string   `yaml:"album"`
	DurationSec int      `yaml:"duration_sec" validate:"gte=0"`
	File        string   `yaml:"file"`
	SpotifyURI  string   `yaml:"spotify_uri"`
	Artwork     string   `yaml:"artwork"`
}

type manifestPlaylist struct {
	ID     string   `yaml:"id" validate:"required"`
	Name   string   `yaml:"name" validate:"required"`
	Tracks []string `yaml:"tracks" validate:"min=1"`
}

type manifest struct {
	Tracks    []manifestTrack    `yaml:"tracks"`
	Playlists []manifestPlaylist `yaml:"playlists"`
}

// Playlist is an ordered, named selection of catalog tracks.
type Playlist struct {
	ID     string
	Name   string
	Tracks []track.Track
}

// Library is the immutable in-memory catalog. Loaded once at startup; safe
// for concurrent reads.
type Library struct {
	tracks    []track.Track
	byID      map[string]track.Track
	playlists []Playlist
}

// Load reads and validates the manifest. Relative audio file paths resolve
// against musicDir.
func Load(manifestPath, musicDir string) (*Library, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read library manifest")
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse library manifest")
	}

	validate := validator.New()
	lib := &Library{byID: make(map[string]track.Track, len(m.Tracks))}

	for i, mt := range m.Tracks {
		if err := validate.Struct(mt); err != nil {
			return nil, errors.Wrapf(err, "invalid track at index %d", i)
		}
		if _, dup := lib.byID[mt.ID]; dup {
			return nil, errors.Newf("duplicate track id %q", mt.ID)
		}

		t := track.Track{
			ID:         mt.ID,
			Title:      mt.Title,
			Artists:    mt.Artists,
			Album:      mt.Album,
			Duration:   time.Duration(mt.DurationSec) * time.Second,
			ArtworkURL: mt.Artwork,
			SpotifyURI: mt.SpotifyURI,
		}
		if mt.File != "" {
			if filepath.IsAbs(mt.File) {
				t.AudioPath = mt.File
			} else {
				t.AudioPath = filepath.Join(musicDir, mt.File)
			}
			t.Origin = track.OriginLocal
		} else if mt.SpotifyURI != "" {
			t.Origin = track.OriginSpotify
			t.External = true
		} else {
			// Catalog-only entry, playable conceptually.
			t.Origin = track.OriginLocal
		}

		lib.tracks = append(lib.tracks, t)
		lib.byID[t.ID] = t
	}

	for i, mp := range m.Playlists {
		if err := validate.Struct(mp); err != nil {
			return nil, errors.Wrapf(err, "invalid playlist at index %d", i)
		}
		pl := Playlist{ID: mp.ID, Name: mp.Name}
		for _, id := range mp.Tracks {
			t, ok := lib.byID[id]
			if !ok {
				return nil, errors.Newf("playlist %q references unknown track %q", mp.ID, id)
			}
			pl.Tracks = append(pl.Tracks, t)
		}
		lib.playlists = append(lib.playlists, pl)
	}

	zlog.Info().Msgf("library: loaded %d tracks, %d playlists from %s",
		len(lib.tracks), len(lib.playlists), manifestPath)
	return lib, nil
}

// Tracks returns the catalog in manifest order.
func (l *Library) Tracks() []track.Track {
	out := make([]track.Track, len(l.tracks))
	copy(out, l.tracks)
	return out
}

// Track returns the catalog entry with the given ID.
func (l *Library) Track(id string) (track.Track, error) {
	t, ok := l.byID[id]
	if !ok {
		return track.Track{}, errors.Wrapf(ErrNotFound, "track %q", id)
	}
	return t, nil
}

// Playlists returns the playlists in manifest order.
func (l *Library) Playlists() []Playlist {
	out := make([]Playlist, len(l.playlists))
	copy(out, l.playlists)
	return out
}

// Playlist returns the playlist with the given ID.
func (l *Library) Playlist(id string) (Playlist, error) {
	for _, pl := range l.playlists {
		if pl.ID == id {
			return pl, nil
		}
	}
	return Playlist{}, errors.Wrapf(ErrNotFound, "playlist %q", id)
}

// Search returns tracks whose title, artist or album contains the query,
// case-insensitively. An empty query returns the full catalog.
func (l *Library) Search(query string) []track.Track {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return l.Tracks()
	}

	var out []track.Track
	for _, t := range l.tracks {
		if matches(t, query) {
			out = append(out, t)
		}
	}
	return out
}

func matches(t track.Track, query string) bool {
	if strings.Contains(strings.ToLower(t.Title), query) {
		return true
	}
	if strings.Contains(strings.ToLower(t.Album), query) {
		return true
	}
	for _, a := range t.Artists {
		if strings.Contains(strings.ToLower(a), query) {
			return true
		}
	}
	return false
}
