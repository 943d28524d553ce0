// Package rest provides the HTTP/JSON control surface over the player.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/20Josy07/harmonia/internal/app/library"
	"github.com/20Josy07/harmonia/internal/app/lyricsvc"
	"github.com/20Josy07/harmonia/internal/app/notify"
	"github.com/20Josy07/harmonia/internal/app/player"
	"github.com/20Josy07/harmonia/internal/domain/queue"
	"github.com/20Josy07/harmonia/internal/domain/track"
	"github.com/20Josy07/harmonia/internal/infra/spotify"
	"github.com/20Josy07/harmonia/internal/infra/token"
)

// PlayerService is the orchestrator surface the handlers need.
type PlayerService interface {
	Snapshot() player.Snapshot
	TogglePlayPause(ctx context.Context)
	Next(ctx context.Context)
	Previous(ctx context.Context)
	Seek(ctx context.Context, progress float64)
	SetVolume(ctx context.Context, v float64)
	ToggleMute(ctx context.Context)
	ToggleShuffle(ctx context.Context)
	CycleRepeatMode(ctx context.Context) player.RepeatMode
	PlayTrack(ctx context.Context, t track.Track)
	PlayFromQueue(ctx context.Context, index int) error
	PlayPlaylist(ctx context.Context, tracks []track.Track, startIndex int) error
	AddToQueue(t track.Track)
	RemoveFromQueue(index int) error
	ReorderQueue(from, to int) error
	ClearQueue()
	Connect(ctx context.Context) error
	Disconnect()
}

// Catalog is the library surface the handlers need.
type Catalog interface {
	Tracks() []track.Track
	Track(id string) (track.Track, error)
	Playlists() []library.Playlist
	Playlist(id string) (library.Playlist, error)
	Search(query string) []track.Track
}

// LyricsService resolves lyrics for a track.
type LyricsService interface {
	Lookup(ctx context.Context, t track.Track) (lyricsvc.Lyrics, error)
}

// TokenStore is the persisted session surface the auth handlers need.
type TokenStore interface {
	Save(access string, expiresIn time.Duration, refresh string) error
	Load() (*token.Token, error)
	Clear() error
}

// CadenceControl switches the reconciliation poll cadence.
type CadenceControl interface {
	SetImmersive(on bool)
	Immersive() bool
}

// Handler is the HTTP adapter. It decodes requests, calls the player, and
// encodes responses; no playback policy lives here.
type Handler struct {
	player  PlayerService
	catalog Catalog
	lyrics  LyricsService
	tokens  TokenStore
	hub     *notify.Hub
	cadence CadenceControl
	router  *http.ServeMux
}

// NewHandler initializes the HTTP adapter and sets up routes.
func NewHandler(p PlayerService, catalog Catalog, lyrics LyricsService, tokens TokenStore, hub *notify.Hub, cadence CadenceControl) *Handler {
	h := &Handler{
		player:  p,
		catalog: catalog,
		lyrics:  lyrics,
		tokens:  tokens,
		hub:     hub,
		cadence: cadence,
		router:  http.NewServeMux(),
	}
	h.routes()
	return h
}

// ServeHTTP satisfies the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.router.HandleFunc("GET /health", h.health)

	h.router.HandleFunc("GET /api/player", h.playerState)
	h.router.HandleFunc("POST /api/player/play", h.play)
	h.router.HandleFunc("POST /api/player/toggle", h.toggle)
	h.router.HandleFunc("POST /api/player/next", h.next)
	h.router.HandleFunc("POST /api/player/previous", h.previous)
	h.router.HandleFunc("POST /api/player/seek", h.seek)
	h.router.HandleFunc("POST /api/player/volume", h.volume)
	h.router.HandleFunc("POST /api/player/mute", h.mute)
	h.router.HandleFunc("POST /api/player/shuffle", h.shuffle)
	h.router.HandleFunc("POST /api/player/repeat", h.repeat)
	h.router.HandleFunc("POST /api/player/immersive", h.immersive)

	h.router.HandleFunc("GET /api/queue", h.queueState)
	h.router.HandleFunc("POST /api/queue", h.queueAdd)
	h.router.HandleFunc("DELETE /api/queue", h.queueClear)
	h.router.HandleFunc("POST /api/queue/reorder", h.queueReorder)
	h.router.HandleFunc("POST /api/queue/{index}/play", h.queuePlay)
	h.router.HandleFunc("DELETE /api/queue/{index}", h.queueRemove)

	h.router.HandleFunc("GET /api/library/tracks", h.libraryTracks)
	h.router.HandleFunc("GET /api/library/playlists", h.libraryPlaylists)
	h.router.HandleFunc("GET /api/library/playlists/{id}", h.libraryPlaylist)

	h.router.HandleFunc("GET /api/lyrics", h.lyricsLookup)

	h.router.HandleFunc("GET /api/auth/status", h.authStatus)
	h.router.HandleFunc("POST /api/auth/logout", h.authLogout)
	h.router.HandleFunc("GET /api/auth/callback", h.authCallback)

	h.router.HandleFunc("POST /api/connect", h.connect)
	h.router.HandleFunc("POST /api/disconnect", h.disconnect)

	h.router.HandleFunc("GET /api/events", h.events)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) playerState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toPlayerStateJSON(h.player.Snapshot()))
}

// play starts a catalog track or playlist. A track request plays a single
// track; a playlist request replaces the queue and starts at the index.
func (h *Handler) play(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch {
	case req.TrackID != "":
		t, err := h.catalog.Track(req.TrackID)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		h.player.PlayTrack(r.Context(), t)
	case req.PlaylistID != "":
		pl, err := h.catalog.Playlist(req.PlaylistID)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		if err := h.player.PlayPlaylist(r.Context(), pl.Tracks, req.Index); err != nil {
			writeError(w, statusForError(err), err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, errors.New("track_id or playlist_id is required"))
		return
	}
	writeJSON(w, http.StatusOK, toPlayerStateJSON(h.player.Snapshot()))
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	h.player.TogglePlayPause(r.Context())
	writeJSON(w, http.StatusOK, toPlayerStateJSON(h.player.Snapshot()))
}

func (h *Handler) next(w http.ResponseWriter, r *http.Request) {
	h.player.Next(r.Context())
	writeJSON(w, http.StatusOK, toPlayerStateJSON(h.player.Snapshot()))
}

func (h *Handler) previous(w http.ResponseWriter, r *http.Request) {
	h.player.Previous(r.Context())
	writeJSON(w, http.StatusOK, toPlayerStateJSON(h.player.Snapshot()))
}

func (h *Handler) seek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Progress < 0 || req.Progress > 1 {
		writeError(w, http.StatusBadRequest, errors.New("progress must be within [0, 1]"))
		return
	}
	h.player.Seek(r.Context(), req.Progress)
	writeJSON(w, http.StatusOK, toPlayerStateJSON(h.player.Snapshot()))
}

func (h *Handler) volume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Volume < 0 || req.Volume > 1 {
		writeError(w, http.StatusBadRequest, errors.New("volume must be within [0, 1]"))
		return
	}
	h.player.SetVolume(r.Context(), req.Volume)
	writeJSON(w, http.StatusOK, toPlayerStateJSON(h.player.Snapshot()))
}

func (h *Handler) mute(w http.ResponseWriter, r *http.Request) {
	h.player.ToggleMute(r.Context())
	writeJSON(w, http.StatusOK, toPlayerStateJSON(h.player.Snapshot()))
}

func (h *Handler) shuffle(w http.ResponseWriter, r *http.Request) {
	h.player.ToggleShuffle(r.Context())
	writeJSON(w, http.StatusOK, toPlayerStateJSON(h.player.Snapshot()))
}

func (h *Handler) repeat(w http.ResponseWriter, r *http.Request) {
	mode := h.player.CycleRepeatMode(r.Context())
	writeJSON(w, http.StatusOK, repeatResponse{Repeat: mode.String()})
}

func (h *Handler) immersive(w http.ResponseWriter, r *http.Request) {
	var req immersiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.cadence.SetImmersive(req.On)
	writeJSON(w, http.StatusOK, map[string]bool{"immersive": h.cadence.Immersive()})
}

func (h *Handler) queueState(w http.ResponseWriter, _ *http.Request) {
	snap := h.player.Snapshot()
	writeJSON(w, http.StatusOK, toQueueJSON(snap.Queue, snap.QueueIndex))
}

func (h *Handler) queueAdd(w http.ResponseWriter, r *http.Request) {
	var req queueAddRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := h.catalog.Track(req.TrackID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	h.player.AddToQueue(t)

	snap := h.player.Snapshot()
	writeJSON(w, http.StatusOK, toQueueJSON(snap.Queue, snap.QueueIndex))
}

func (h *Handler) queueClear(w http.ResponseWriter, _ *http.Request) {
	h.player.ClearQueue()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) queueReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.player.ReorderQueue(req.From, req.To); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	snap := h.player.Snapshot()
	writeJSON(w, http.StatusOK, toQueueJSON(snap.Queue, snap.QueueIndex))
}

func (h *Handler) queuePlay(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.player.PlayFromQueue(r.Context(), index); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toPlayerStateJSON(h.player.Snapshot()))
}

func (h *Handler) queueRemove(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.player.RemoveFromQueue(index); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	snap := h.player.Snapshot()
	writeJSON(w, http.StatusOK, toQueueJSON(snap.Queue, snap.QueueIndex))
}

func (h *Handler) libraryTracks(w http.ResponseWriter, r *http.Request) {
	tracks := h.catalog.Search(r.URL.Query().Get("q"))
	out := make([]trackJSON, len(tracks))
	for i, t := range tracks {
		out[i] = toTrackJSON(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) libraryPlaylists(w http.ResponseWriter, _ *http.Request) {
	pls := h.catalog.Playlists()
	out := make([]playlistJSON, len(pls))
	for i, pl := range pls {
		out[i] = toPlaylistJSON(pl)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) libraryPlaylist(w http.ResponseWriter, r *http.Request) {
	pl, err := h.catalog.Playlist(r.PathValue("id"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toPlaylistJSON(pl))
}

// lyricsLookup resolves lyrics for a track and reports which line is active
// at the given position.
func (h *Handler) lyricsLookup(w http.ResponseWriter, r *http.Request) {
	trackID := r.URL.Query().Get("track_id")
	if trackID == "" {
		writeError(w, http.StatusBadRequest, errors.New("track_id is required"))
		return
	}
	t, err := h.catalog.Track(trackID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	var position time.Duration
	if raw := r.URL.Query().Get("position_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			writeError(w, http.StatusBadRequest, errors.New("position_ms must be a non-negative integer"))
			return
		}
		position = time.Duration(ms) * time.Millisecond
	}

	ly, err := h.lyrics.Lookup(r.Context(), t)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toLyricsJSON(ly, position))
}

func (h *Handler) authStatus(w http.ResponseWriter, _ *http.Request) {
	tok, err := h.tokens.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, authStatusJSON{
		Authenticated: tok != nil,
		Connected:     h.player.Snapshot().Connected,
	})
}

func (h *Handler) authLogout(w http.ResponseWriter, _ *http.Request) {
	h.player.Disconnect()
	if err := h.tokens.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authCallback consumes the token parameters handed over by the auth
// helper's redirect, persists them once, and redirects to a clean URL so
// the tokens never stay in the address bar.
func (h *Handler) authCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	access := q.Get("access_token")
	if access == "" {
		writeError(w, http.StatusBadRequest, errors.New("access_token is required"))
		return
	}

	expiresIn := time.Hour
	if raw := q.Get("expires_in"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("expires_in must be a positive integer"))
			return
		}
		expiresIn = time.Duration(secs) * time.Second
	}

	if err := h.tokens.Save(access, expiresIn, q.Get("refresh_token")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Connect eagerly so the session is live by the time the UI reloads.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.player.Connect(ctx); err != nil {
			zlog.Warn().Msgf("rest: connect after auth callback failed: %v", err)
		}
	}()

	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	if err := h.player.Connect(r.Context()); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toPlayerStateJSON(h.player.Snapshot()))
}

func (h *Handler) disconnect(w http.ResponseWriter, _ *http.Request) {
	h.player.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

// events streams player notifications as server-sent events.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	id, ch := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			fl.Flush()
		case n, open := <-ch:
			if !open {
				return
			}
			ev := eventJSON{
				SequenceNo: n.SequenceNo,
				Type:       n.Event.Type.String(),
				State:      n.Event.State.String(),
				Connected:  n.Event.Connected,
			}
			if n.Event.Track != nil {
				t := toTrackJSON(*n.Event.Track)
				ev.Track = &t
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Event.Type, data)
			fl.Flush()
		}
	}
}

func toPlaylistJSON(pl library.Playlist) playlistJSON {
	out := playlistJSON{ID: pl.ID, Name: pl.Name, Tracks: make([]trackJSON, len(pl.Tracks))}
	for i, t := range pl.Tracks {
		out.Tracks[i] = toTrackJSON(t)
	}
	return out
}

func pathIndex(r *http.Request) (int, error) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		return 0, errors.New("index must be an integer")
	}
	return index, nil
}

func decodeJSON(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Msgf("rest: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		zlog.Error().Msgf("rest: %v", err)
	} else {
		zlog.Debug().Msgf("rest: %v", err)
	}
	writeJSON(w, status, errorJSON{Error: err.Error()})
}

// statusForError maps domain errors onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, library.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrIndexOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, lyricsvc.ErrNoLyrics):
		return http.StatusNotFound
	case errors.Is(err, spotify.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, player.ErrRemoteNotConfigured):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
