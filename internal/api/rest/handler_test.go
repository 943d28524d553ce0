package rest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/20Josy07/harmonia/internal/app/library"
	"github.com/20Josy07/harmonia/internal/app/lyricsvc"
	"github.com/20Josy07/harmonia/internal/app/notify"
	"github.com/20Josy07/harmonia/internal/app/player"
	"github.com/20Josy07/harmonia/internal/domain/lyrics"
	"github.com/20Josy07/harmonia/internal/domain/queue"
	"github.com/20Josy07/harmonia/internal/domain/track"
	"github.com/20Josy07/harmonia/internal/infra/token"
)

type fakePlayer struct {
	mu       sync.Mutex
	snapshot player.Snapshot
	calls    []string
	playlist []track.Track
	start    int
	seeked   float64
	volume   float64
	queueErr error
	connects int
}

func (p *fakePlayer) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePlayer) called() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePlayer) Snapshot() player.Snapshot            { return p.snapshot }
func (p *fakePlayer) TogglePlayPause(context.Context)      { p.record("toggle") }
func (p *fakePlayer) Next(context.Context)                 { p.record("next") }
func (p *fakePlayer) Previous(context.Context)             { p.record("previous") }
func (p *fakePlayer) ToggleMute(context.Context)           { p.record("mute") }
func (p *fakePlayer) ToggleShuffle(context.Context)        { p.record("shuffle") }
func (p *fakePlayer) ClearQueue()                          { p.record("clear") }
func (p *fakePlayer) Disconnect()                          { p.record("disconnect") }
func (p *fakePlayer) PlayTrack(_ context.Context, t track.Track) {
	p.record("play:" + t.ID)
}

func (p *fakePlayer) Seek(_ context.Context, progress float64) {
	p.record("seek")
	p.seeked = progress
}

func (p *fakePlayer) SetVolume(_ context.Context, v float64) {
	p.record("volume")
	p.volume = v
}

func (p *fakePlayer) CycleRepeatMode(context.Context) player.RepeatMode {
	p.record("repeat")
	return player.RepeatAll
}

func (p *fakePlayer) PlayFromQueue(_ context.Context, index int) error {
	p.record("playqueue")
	return p.queueErr
}

func (p *fakePlayer) PlayPlaylist(_ context.Context, tracks []track.Track, startIndex int) error {
	p.record("playlist")
	p.playlist = tracks
	p.start = startIndex
	return nil
}

func (p *fakePlayer) AddToQueue(t track.Track)       { p.record("add:" + t.ID) }
func (p *fakePlayer) RemoveFromQueue(index int) error { p.record("remove"); return p.queueErr }
func (p *fakePlayer) ReorderQueue(from, to int) error { p.record("reorder"); return p.queueErr }

func (p *fakePlayer) Connect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
	return nil
}

func (p *fakePlayer) connectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

type fakeCatalog struct {
	tracks    map[string]track.Track
	playlists map[string]library.Playlist
}

func (c *fakeCatalog) Tracks() []track.Track {
	var out []track.Track
	for _, t := range c.tracks {
		out = append(out, t)
	}
	return out
}

func (c *fakeCatalog) Track(id string) (track.Track, error) {
	t, ok := c.tracks[id]
	if !ok {
		return track.Track{}, errors.Wrapf(library.ErrNotFound, "track %q", id)
	}
	return t, nil
}

func (c *fakeCatalog) Playlists() []library.Playlist {
	var out []library.Playlist
	for _, pl := range c.playlists {
		out = append(out, pl)
	}
	return out
}

func (c *fakeCatalog) Playlist(id string) (library.Playlist, error) {
	pl, ok := c.playlists[id]
	if !ok {
		return library.Playlist{}, errors.Wrapf(library.ErrNotFound, "playlist %q", id)
	}
	return pl, nil
}

func (c *fakeCatalog) Search(string) []track.Track { return c.Tracks() }

type fakeLyrics struct {
	result lyricsvc.Lyrics
	err    error
}

func (l *fakeLyrics) Lookup(context.Context, track.Track) (lyricsvc.Lyrics, error) {
	return l.result, l.err
}

type fakeTokens struct {
	mu      sync.Mutex
	tok     *token.Token
	access  string
	refresh string
	expires time.Duration
	cleared bool
}

func (s *fakeTokens) Save(access string, expiresIn time.Duration, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access, s.expires, s.refresh = access, expiresIn, refresh
	return nil
}

func (s *fakeTokens) Load() (*token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tok, nil
}

func (s *fakeTokens) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = true
	return nil
}

type fakeCadence struct {
	on bool
}

func (c *fakeCadence) SetImmersive(on bool) { c.on = on }
func (c *fakeCadence) Immersive() bool      { return c.on }

type fixture struct {
	handler *Handler
	player  *fakePlayer
	tokens  *fakeTokens
	cadence *fakeCadence
	hub     *notify.Hub
	lyrics  *fakeLyrics
}

func newFixture() *fixture {
	t1 := track.Track{ID: "t1", Title: "Midnight Drive", Artists: []string{"Neon Harbor"}, Duration: 3 * time.Minute, Origin: track.OriginLocal}
	t2 := track.Track{ID: "t2", Title: "Paper Planes", Artists: []string{"Kites"}, Duration: 2 * time.Minute, Origin: track.OriginSpotify, External: true}

	f := &fixture{
		player: &fakePlayer{snapshot: player.Snapshot{
			State:      player.StatePlaying,
			Track:      &t1,
			Progress:   0.25,
			Volume:     0.7,
			Repeat:     player.RepeatNone,
			QueueIndex: -1,
		}},
		tokens:  &fakeTokens{},
		cadence: &fakeCadence{},
		hub:     notify.NewHub(),
		lyrics:  &fakeLyrics{},
	}
	catalog := &fakeCatalog{
		tracks: map[string]track.Track{"t1": t1, "t2": t2},
		playlists: map[string]library.Playlist{
			"p1": {ID: "p1", Name: "Evening", Tracks: []track.Track{t1, t2}},
		},
	}
	f.handler = NewHandler(f.player, catalog, f.lyrics, f.tokens, f.hub, f.cadence)
	return f
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPlayerState(t *testing.T) {
	f := newFixture()
	rec := doJSON(t, f.handler, http.MethodGet, "/api/player", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got playerStateJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "playing", got.State)
	require.NotNil(t, got.Track)
	assert.Equal(t, "t1", got.Track.ID)
	assert.InDelta(t, 0.25, got.Progress, 1e-9)
}

func TestPlayTrack(t *testing.T) {
	f := newFixture()
	rec := doJSON(t, f.handler, http.MethodPost, "/api/player/play", playRequest{TrackID: "t2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.player.called(), "play:t2")
}

func TestPlayUnknownTrack(t *testing.T) {
	f := newFixture()
	rec := doJSON(t, f.handler, http.MethodPost, "/api/player/play", playRequest{TrackID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlayPlaylist(t *testing.T) {
	f := newFixture()
	rec := doJSON(t, f.handler, http.MethodPost, "/api/player/play", playRequest{PlaylistID: "p1", Index: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.player.called(), "playlist")
	assert.Equal(t, 1, f.player.start)
	require.Len(t, f.player.playlist, 2)
}

func TestPlayRequiresTarget(t *testing.T) {
	f := newFixture()
	rec := doJSON(t, f.handler, http.MethodPost, "/api/player/play", playRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransportEndpoints(t *testing.T) {
	tests := []struct {
		path string
		call string
	}{
		{"/api/player/toggle", "toggle"},
		{"/api/player/next", "next"},
		{"/api/player/previous", "previous"},
		{"/api/player/mute", "mute"},
		{"/api/player/shuffle", "shuffle"},
	}
	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			f := newFixture()
			rec := doJSON(t, f.handler, http.MethodPost, tt.path, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, f.player.called(), tt.call)
		})
	}
}

func TestSeekValidation(t *testing.T) {
	f := newFixture()

	rec := doJSON(t, f.handler, http.MethodPost, "/api/player/seek", seekRequest{Progress: 1.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.handler, http.MethodPost, "/api/player/seek", seekRequest{Progress: 0.5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.5, f.player.seeked, 1e-9)
}

func TestVolumeValidation(t *testing.T) {
	f := newFixture()

	rec := doJSON(t, f.handler, http.MethodPost, "/api/player/volume", volumeRequest{Volume: -0.1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.handler, http.MethodPost, "/api/player/volume", volumeRequest{Volume: 0.4})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.4, f.player.volume, 1e-9)
}

func TestRepeatCycle(t *testing.T) {
	f := newFixture()
	rec := doJSON(t, f.handler, http.MethodPost, "/api/player/repeat", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got repeatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "all", got.Repeat)
}

func TestImmersiveToggle(t *testing.T) {
	f := newFixture()
	rec := doJSON(t, f.handler, http.MethodPost, "/api/player/immersive", immersiveRequest{On: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.cadence.on)
}

func TestQueueEndpoints(t *testing.T) {
	f := newFixture()

	rec := doJSON(t, f.handler, http.MethodPost, "/api/queue", queueAddRequest{TrackID: "t1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.player.called(), "add:t1")

	rec = doJSON(t, f.handler, http.MethodPost, "/api/queue", queueAddRequest{TrackID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, f.handler, http.MethodPost, "/api/queue/2/play", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, f.player.called(), "playqueue")

	rec = doJSON(t, f.handler, http.MethodDelete, "/api/queue/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.handler, http.MethodDelete, "/api/queue", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestQueueErrorMapping(t *testing.T) {
	f := newFixture()
	f.player.queueErr = errors.Wrap(queue.ErrIndexOutOfRange, "index 9")

	rec := doJSON(t, f.handler, http.MethodPost, "/api/queue/reorder", reorderRequest{From: 0, To: 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLibraryEndpoints(t *testing.T) {
	f := newFixture()

	rec := doJSON(t, f.handler, http.MethodGet, "/api/library/tracks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tracks []trackJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tracks))
	assert.Len(t, tracks, 2)

	rec = doJSON(t, f.handler, http.MethodGet, "/api/library/playlists/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pl playlistJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pl))
	assert.Equal(t, "Evening", pl.Name)
	assert.Len(t, pl.Tracks, 2)

	rec = doJSON(t, f.handler, http.MethodGet, "/api/library/playlists/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLyricsLookup(t *testing.T) {
	f := newFixture()
	f.lyrics.result = lyricsvc.Lyrics{
		Synced: true,
		Lines: []lyrics.Line{
			{At: 10 * time.Second, Text: "one"},
			{At: 20 * time.Second, Text: "two"},
		},
	}

	rec := doJSON(t, f.handler, http.MethodGet, "/api/lyrics?track_id=t1&position_ms=15000", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got lyricsJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Synced)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, 0, got.ActiveIndex)
}

func TestLyricsLookupErrors(t *testing.T) {
	f := newFixture()

	rec := doJSON(t, f.handler, http.MethodGet, "/api/lyrics", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.handler, http.MethodGet, "/api/lyrics?track_id=nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.lyrics.err = lyricsvc.ErrNoLyrics
	rec = doJSON(t, f.handler, http.MethodGet, "/api/lyrics?track_id=t1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthStatus(t *testing.T) {
	f := newFixture()

	rec := doJSON(t, f.handler, http.MethodGet, "/api/auth/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got authStatusJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.Authenticated)

	f.tokens.tok = &token.Token{AccessToken: "x"}
	rec = doJSON(t, f.handler, http.MethodGet, "/api/auth/status", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Authenticated)
}

func TestAuthLogout(t *testing.T) {
	f := newFixture()
	rec := doJSON(t, f.handler, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, f.tokens.cleared)
	assert.Contains(t, f.player.called(), "disconnect")
}

func TestAuthCallback(t *testing.T) {
	f := newFixture()

	rec := doJSON(t, f.handler, http.MethodGet,
		"/api/auth/callback?access_token=acc&refresh_token=ref&expires_in=3600", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	assert.Equal(t, "acc", f.tokens.access)
	assert.Equal(t, "ref", f.tokens.refresh)
	assert.Equal(t, time.Hour, f.tokens.expires)

	assert.Eventually(t, func() bool {
		return f.player.connectCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAuthCallbackRequiresToken(t *testing.T) {
	f := newFixture()
	rec := doJSON(t, f.handler, http.MethodGet, "/api/auth/callback", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsStream(t *testing.T) {
	f := newFixture()
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the subscription a moment to register before broadcasting.
	require.Eventually(t, func() bool {
		return f.hub.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)
	f.hub.Broadcast(player.Event{Type: player.EventStateChanged, State: player.StatePlaying})

	reader := bufio.NewReader(resp.Body)
	var data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			break
		}
	}

	var ev eventJSON
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "state_changed", ev.Type)
	assert.Equal(t, "playing", ev.State)
	assert.Equal(t, uint64(1), ev.SequenceNo)
}
