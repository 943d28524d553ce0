package lyricsvc

import (
	"context"
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/20Josy07/harmonia/internal/domain/lyrics"
	"github.com/20Josy07/harmonia/internal/domain/track"
)

// Lyrics is a resolved lyric sheet. Synced marks timestamped lines parsed
// from LRC; otherwise only Plain is set.
type Lyrics struct {
	Lines  []lyrics.Line
	Synced bool
	Plain  string
}

// Service resolves and caches lyrics per track.
type Service struct {
	provider Provider

	mu    sync.Mutex
	cache map[string]Lyrics
}

// NewService creates a lyrics service over the given provider.
func NewService(provider Provider) *Service {
	return &Service{
		provider: provider,
		cache:    make(map[string]Lyrics),
	}
}

// Lookup resolves lyrics for the track, consulting the cache first. Synced
// LRC text is parsed into timestamped lines; plain text is the fallback.
func (s *Service) Lookup(ctx context.Context, t track.Track) (Lyrics, error) {
	s.mu.Lock()
	if cached, ok := s.cache[t.ID]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	synced, plain, err := s.provider.Lyrics(ctx, t)
	if err != nil {
		return Lyrics{}, err
	}

	var ly Lyrics
	if synced != "" {
		if lines := lyrics.Parse(synced); len(lines) > 0 {
			ly = Lyrics{Lines: lines, Synced: true, Plain: plain}
		} else {
			zlog.Debug().Msgf("lyricsvc: no usable synced lines for %s", t.ID)
		}
	}
	if !ly.Synced {
		if plain == "" {
			return Lyrics{}, ErrNoLyrics
		}
		ly = Lyrics{Plain: plain}
	}

	s.mu.Lock()
	s.cache[t.ID] = ly
	s.mu.Unlock()
	return ly, nil
}
