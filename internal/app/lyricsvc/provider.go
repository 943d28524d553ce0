// Package lyricsvc resolves lyrics for tracks through a configurable
// provider.
package lyricsvc

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/20Josy07/harmonia/internal/domain/track"
	"github.com/20Josy07/harmonia/internal/infra/lrclib"
)

// ErrNoLyrics indicates no usable lyrics exist for the track.
var ErrNoLyrics = errors.New("no lyrics available")

// Provider fetches raw lyric text for a track. Either return value may be
// empty; both empty means the provider found nothing usable.
type Provider interface {
	Lyrics(ctx context.Context, t track.Track) (synced, plain string, err error)
}

// NewProvider builds the provider named in the config, decoding its
// settings map.
func NewProvider(name string, settings map[string]any) (Provider, error) {
	switch name {
	case "", "lrclib":
		cfg, err := lrclib.SettingsFromMap(settings)
		if err != nil {
			return nil, err
		}
		return &lrclibProvider{client: lrclib.New(cfg)}, nil
	default:
		return nil, errors.Newf("unknown lyrics provider %q", name)
	}
}

type lrclibProvider struct {
	client *lrclib.Client
}

func (p *lrclibProvider) Lyrics(ctx context.Context, t track.Track) (string, string, error) {
	if len(t.Artists) == 0 {
		return "", "", errors.Wrapf(ErrNoLyrics, "track %q has no artist", t.ID)
	}
	artist := t.Artists[0]

	results, err := p.client.Search(ctx, t.Title, artist, t.Album)
	if err != nil {
		return "", "", err
	}

	best := lrclib.Best(results, t.Title, artist, t.Duration)
	if best == nil || best.Instrumental {
		return "", "", errors.Wrapf(ErrNoLyrics, "track %q", t.ID)
	}
	return best.SyncedLyrics, best.PlainLyrics, nil
}
