package player

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/20Josy07/harmonia/internal/app/audio"
	"github.com/20Josy07/harmonia/internal/domain/queue"
	"github.com/20Josy07/harmonia/internal/domain/track"
	"github.com/20Josy07/harmonia/internal/infra/spotify"
)

// ErrRemoteNotConfigured indicates no Spotify credentials are available.
var ErrRemoteNotConfigured = errors.New("spotify is not configured")

// RemoteController is the remote playback surface the orchestrator dispatches
// to. Implemented by the Spotify client; faked in tests.
type RemoteController interface {
	PlaybackState(ctx context.Context) (*spotify.State, error)
	Devices(ctx context.Context) ([]spotify.Device, error)
	Play(ctx context.Context, deviceID string, uris []string, position time.Duration) error
	Resume(ctx context.Context, deviceID string) error
	Pause(ctx context.Context, deviceID string) error
	Next(ctx context.Context, deviceID string) error
	Previous(ctx context.Context, deviceID string) error
	SeekTo(ctx context.Context, deviceID string, position time.Duration) error
	SetVolume(ctx context.Context, deviceID string, percent int) error
	SetShuffle(ctx context.Context, deviceID string, on bool) error
	SetRepeat(ctx context.Context, deviceID string, state string) error
}

// backend identifies which playback path owns a track.
type backend int

const (
	backendNone backend = iota
	backendLocal
	backendRemote
	backendConceptual
)

// Config holds orchestrator configuration.
type Config struct {
	// Previous restarts the current track instead of moving back once this
	// much has elapsed.
	RestartThreshold time.Duration
	// Delay after a state-changing remote command before reconciliation
	// polls may merge, giving Spotify time to apply the change.
	CommandSettle time.Duration
	// Refuse catalog entries without any playable media instead of marking
	// them playing for UI purposes only.
	DisableConceptual bool
	InitialVolume     float64
}

// Orchestrator owns playback state and the queue, and decides per operation
// which backend handles the current track. It is the single control surface
// consumed by all callers; no other component mutates playback state.
type Orchestrator struct {
	mu sync.RWMutex

	cfg    Config
	engine audio.Engine
	remote RemoteController
	rng    *rand.Rand

	queue   *queue.Queue
	current *track.QueueItem

	state    State
	progress float64 // normalized 0..1 for the current track
	volume   float64 // normalized 0..1
	muted    bool
	preMute  float64
	shuffle  bool
	repeat   RepeatMode

	connected   bool
	deviceID    string
	settleUntil time.Time

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Snapshot is a consistent copy of the orchestrator state for callers.
type Snapshot struct {
	State      State
	Track      *track.Track
	Progress   float64
	Volume     float64
	Muted      bool
	Shuffle    bool
	Repeat     RepeatMode
	Connected  bool
	DeviceID   string
	Queue      []track.QueueItem
	QueueIndex int
}

// New creates an orchestrator. The remote controller may be nil, in which
// case every track falls back to local or conceptual playback.
func New(cfg Config, engine audio.Engine, remote RemoteController) *Orchestrator {
	if cfg.RestartThreshold <= 0 {
		cfg.RestartThreshold = 3 * time.Second
	}
	if cfg.CommandSettle < 0 {
		cfg.CommandSettle = 0
	}
	if cfg.InitialVolume <= 0 || cfg.InitialVolume > 1 {
		cfg.InitialVolume = 0.7
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:     cfg,
		engine:  engine,
		remote:  remote,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		queue:   queue.New(),
		state:   StateIdle,
		volume:  cfg.InitialVolume,
		preMute: cfg.InitialVolume,
		events:  make(chan Event, 32),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	engine.SetVolume(cfg.InitialVolume)
	return o
}

// Run starts the engine event drain and the local progress refresh loop.
func (o *Orchestrator) Run() {
	go o.loop()
}

// Close stops the orchestrator and tears down local playback.
func (o *Orchestrator) Close() {
	o.cancel()
	<-o.done
	o.engine.Stop()
}

// Events returns the orchestrator event channel for UI subscribers.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

func (o *Orchestrator) loop() {
	defer close(o.done)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case ev := <-o.engine.Events():
			o.handleEngineEvent(ev)
		case <-ticker.C:
			o.refreshLocalProgress()
		}
	}
}

// handleEngineEvent applies a local engine event to the state machine.
func (o *Orchestrator) handleEngineEvent(ev audio.Event) {
	o.mu.Lock()
	owned := o.current != nil &&
		o.current.Track.ID == ev.TrackID &&
		o.backendForLocked(&o.current.Track) == backendLocal

	switch ev.Type {
	case audio.EventEnded:
		o.mu.Unlock()
		if owned {
			o.advance(o.ctx)
		}
		return
	case audio.EventFailed:
		if owned {
			// Track unplayable: transport stays paused, current track stays
			// set so the failure is visible, no auto-skip.
			zlog.Warn().Msgf("player: local playback failed for %s: %v", ev.TrackID, ev.Err)
			o.state = StatePaused
			o.sendEventLocked(Event{Type: EventStateChanged, Track: o.currentTrackLocked(), State: o.state})
		}
	case audio.EventLoaded, audio.EventPlaying:
		if owned && o.state != StatePlaying {
			o.state = StatePlaying
			o.sendEventLocked(Event{Type: EventStateChanged, Track: o.currentTrackLocked(), State: o.state})
		}
	case audio.EventPaused:
		if owned && o.state == StatePlaying {
			o.state = StatePaused
			o.sendEventLocked(Event{Type: EventStateChanged, Track: o.currentTrackLocked(), State: o.state})
		}
	}
	o.mu.Unlock()
}

// refreshLocalProgress republishes normalized progress while a local track
// plays. The loop stops contributing whenever the track is paused, stopped
// or remote.
func (o *Orchestrator) refreshLocalProgress() {
	o.mu.Lock()
	active := o.current != nil &&
		o.state == StatePlaying &&
		o.backendForLocked(&o.current.Track) == backendLocal
	o.mu.Unlock()
	if !active {
		return
	}

	p := o.engine.Progress()
	o.mu.Lock()
	o.progress = p
	o.mu.Unlock()
}

// Snapshot returns a consistent copy of the playback state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return Snapshot{
		State:      o.state,
		Track:      o.currentTrackLocked(),
		Progress:   o.progress,
		Volume:     o.volume,
		Muted:      o.muted,
		Shuffle:    o.shuffle,
		Repeat:     o.repeat,
		Connected:  o.connected,
		DeviceID:   o.deviceID,
		Queue:      o.queue.Items(),
		QueueIndex: o.queue.Index(),
	}
}

// Connected reports whether a remote session is active.
func (o *Orchestrator) Connected() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.connected
}

// CurrentIsRemote reports whether the current track is owned by the remote
// backend.
func (o *Orchestrator) CurrentIsRemote() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current != nil && o.backendForLocked(&o.current.Track) == backendRemote
}

// Connect enumerates remote devices and activates the remote session. The
// active device is preferred; otherwise the first usable device is chosen.
// The session connects even when no device is available, so remote state
// still reconciles; playback falls back to local until a device appears.
func (o *Orchestrator) Connect(ctx context.Context) error {
	if o.remote == nil {
		return ErrRemoteNotConfigured
	}
	devices, err := o.remote.Devices(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.connected = true
	o.deviceID = pickDevice(devices)
	connected := o.connected
	o.sendEventLocked(Event{Type: EventConnectionChanged, Connected: connected})
	o.mu.Unlock()

	zlog.Info().Msgf("player: remote session connected, device=%q", o.DeviceID())
	return nil
}

// Disconnect downgrades the remote session, clearing the active device.
func (o *Orchestrator) Disconnect() {
	o.mu.Lock()
	was := o.connected
	o.connected = false
	o.deviceID = ""
	if was {
		o.sendEventLocked(Event{Type: EventConnectionChanged, Connected: false})
	}
	o.mu.Unlock()
	if was {
		zlog.Info().Msg("player: remote session disconnected")
	}
}

// DeviceID returns the active remote device identifier ("" when none).
func (o *Orchestrator) DeviceID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.deviceID
}

// PlayTrack plays a single track outside the queue context.
func (o *Orchestrator) PlayTrack(ctx context.Context, t track.Track) {
	o.playItem(ctx, track.NewQueueItem(t), -1)
}

// PlayFromQueue plays the queue entry at the given index.
func (o *Orchestrator) PlayFromQueue(ctx context.Context, index int) error {
	o.mu.Lock()
	items := o.queue.Items()
	if index < 0 || index >= len(items) {
		o.mu.Unlock()
		return errors.Wrapf(queue.ErrIndexOutOfRange, "index %d, length %d", index, len(items))
	}
	item := items[index]
	o.mu.Unlock()

	o.playItem(ctx, item, index)
	return nil
}

// PlayPlaylist replaces the queue with the given tracks and starts playback
// at startIndex.
func (o *Orchestrator) PlayPlaylist(ctx context.Context, tracks []track.Track, startIndex int) error {
	if len(tracks) == 0 {
		return errors.New("no tracks to play")
	}
	if startIndex < 0 || startIndex >= len(tracks) {
		return errors.Wrapf(queue.ErrIndexOutOfRange, "start index %d, length %d", startIndex, len(tracks))
	}

	items := make([]track.QueueItem, len(tracks))
	for i, t := range tracks {
		items[i] = track.NewQueueItem(t)
	}

	o.mu.Lock()
	if err := o.queue.Replace(items, startIndex); err != nil {
		o.mu.Unlock()
		return err
	}
	o.shuffle = false
	item := items[startIndex]
	o.sendEventLocked(Event{Type: EventQueueChanged})
	o.mu.Unlock()

	o.playItem(ctx, item, startIndex)
	return nil
}

// playItem is the single dispatch point for starting playback of a track.
// The current track is set optimistically before the backend confirms, and
// any track change resets progress to zero before the new source loads.
func (o *Orchestrator) playItem(ctx context.Context, item track.QueueItem, index int) {
	o.mu.Lock()
	prev := o.currentBackendLocked()
	o.current = &item
	if index >= 0 && index < o.queue.Len() {
		_ = o.queue.SetIndex(index)
	} else {
		_ = o.queue.SetIndex(-1)
	}
	o.progress = 0
	o.state = StateLoading
	b := o.backendForLocked(&item.Track)
	deviceID := o.deviceID
	vol := o.effectiveVolumeLocked()
	o.sendEventLocked(Event{Type: EventTrackChanged, Track: o.currentTrackLocked(), State: o.state})
	o.mu.Unlock()

	switch b {
	case backendRemote:
		// Pause any local audio unconditionally before the remote dispatch
		// to avoid double audio.
		o.engine.Stop()
		err := o.remote.Play(ctx, deviceID, []string{item.Track.SpotifyURI}, 0)
		o.mu.Lock()
		if err != nil {
			o.state = StatePaused
			o.downgradeLocked()
		} else {
			o.state = StatePlaying
			o.markSettledLocked()
		}
		o.sendEventLocked(Event{Type: EventStateChanged, Track: o.currentTrackLocked(), State: o.state})
		o.mu.Unlock()

	case backendLocal:
		if prev == backendRemote && deviceID != "" {
			// Best effort; the local track starts regardless.
			go func() { _ = o.remote.Pause(context.Background(), deviceID) }()
		}
		err := o.engine.Load(item.Track)
		o.mu.Lock()
		if err != nil {
			o.state = StatePaused
		} else {
			o.state = StatePlaying
		}
		o.sendEventLocked(Event{Type: EventStateChanged, Track: o.currentTrackLocked(), State: o.state})
		o.mu.Unlock()
		if err == nil {
			o.engine.SetVolume(vol)
		}

	case backendConceptual:
		// Catalog entry without real media: playing for UI purposes only.
		o.engine.Stop()
		o.mu.Lock()
		o.state = StatePlaying
		o.sendEventLocked(Event{Type: EventStateChanged, Track: o.currentTrackLocked(), State: o.state})
		o.mu.Unlock()

	default:
		o.engine.Stop()
		o.mu.Lock()
		o.state = StatePaused
		o.sendEventLocked(Event{Type: EventStateChanged, Track: o.currentTrackLocked(), State: o.state})
		o.mu.Unlock()
	}
}

// TogglePlayPause pauses or resumes the current track. With no current
// track and a non-empty queue, playback starts at the queue position.
func (o *Orchestrator) TogglePlayPause(ctx context.Context) {
	o.mu.Lock()
	if o.current == nil {
		if o.queue.Len() == 0 {
			o.mu.Unlock()
			return
		}
		start := o.queue.Index()
		if start < 0 {
			start = 0
		}
		item := o.queue.Items()[start]
		o.mu.Unlock()
		o.playItem(ctx, item, start)
		return
	}

	b := o.backendForLocked(&o.current.Track)
	playing := o.state == StatePlaying
	deviceID := o.deviceID

	switch b {
	case backendRemote:
		// Optimistic flip; the post-command poll reconciles the actual
		// acknowledgment.
		if playing {
			o.state = StatePaused
		} else {
			o.state = StatePlaying
		}
		o.sendEventLocked(Event{Type: EventStateChanged, Track: o.currentTrackLocked(), State: o.state})
		o.mu.Unlock()

		var err error
		if playing {
			err = o.remote.Pause(ctx, deviceID)
		} else {
			err = o.remote.Resume(ctx, deviceID)
		}
		if err != nil {
			o.HandleRemoteFailure()
			return
		}
		o.markSettled()

	case backendLocal:
		if playing {
			o.state = StatePaused
			o.mu.Unlock()
			o.engine.Pause()
		} else {
			o.state = StatePlaying
			o.mu.Unlock()
			o.engine.Play()
		}

	default:
		if playing {
			o.state = StatePaused
		} else {
			o.state = StatePlaying
		}
		o.sendEventLocked(Event{Type: EventStateChanged, Track: o.currentTrackLocked(), State: o.state})
		o.mu.Unlock()
	}
}

// Next advances to the next track.
func (o *Orchestrator) Next(ctx context.Context) {
	o.advance(ctx)
}

// advance implements the next-track decision, shared by Next and natural
// end-of-track.
func (o *Orchestrator) advance(ctx context.Context) {
	o.mu.Lock()
	if o.current == nil {
		o.mu.Unlock()
		return
	}

	if o.backendForLocked(&o.current.Track) == backendRemote {
		deviceID := o.deviceID
		o.mu.Unlock()
		if err := o.remote.Next(ctx, deviceID); err != nil {
			o.HandleRemoteFailure()
			return
		}
		o.markSettled()
		return
	}

	if o.repeat == RepeatOne {
		item := *o.current
		index := o.queue.Index()
		o.mu.Unlock()
		o.playItem(ctx, item, index)
		return
	}

	next := o.queue.Index() + 1
	if next >= o.queue.Len() {
		if o.repeat == RepeatAll && o.queue.Len() > 0 {
			next = 0
		} else {
			// Queue exhausted: stop, keeping the current track visible.
			o.state = StatePaused
			o.progress = 0
			o.sendEventLocked(Event{Type: EventStateChanged, Track: o.currentTrackLocked(), State: o.state})
			o.mu.Unlock()
			o.engine.Stop()
			return
		}
	}
	item := o.queue.Items()[next]
	o.mu.Unlock()
	o.playItem(ctx, item, next)
}

// Previous rewinds to the start of the current track once the restart
// threshold has elapsed, otherwise moves to the prior queue entry with the
// same wrap/stop rule as Next.
func (o *Orchestrator) Previous(ctx context.Context) {
	o.mu.Lock()
	if o.current == nil {
		o.mu.Unlock()
		return
	}

	if o.backendForLocked(&o.current.Track) == backendRemote {
		deviceID := o.deviceID
		o.mu.Unlock()
		if err := o.remote.Previous(ctx, deviceID); err != nil {
			o.HandleRemoteFailure()
			return
		}
		o.markSettled()
		return
	}

	elapsed := time.Duration(o.progress * float64(o.current.Track.Duration))
	if elapsed > o.cfg.RestartThreshold {
		o.progress = 0
		o.mu.Unlock()
		_ = o.engine.Seek(0)
		return
	}

	prev := o.queue.Index() - 1
	if o.queue.Index() < 0 || prev < 0 {
		if o.repeat == RepeatAll && o.queue.Len() > 0 {
			prev = o.queue.Len() - 1
		} else {
			o.state = StatePaused
			o.progress = 0
			o.sendEventLocked(Event{Type: EventStateChanged, Track: o.currentTrackLocked(), State: o.state})
			o.mu.Unlock()
			o.engine.Stop()
			return
		}
	}
	item := o.queue.Items()[prev]
	o.mu.Unlock()
	o.playItem(ctx, item, prev)
}

// Seek jumps to a normalized position within the current track.
func (o *Orchestrator) Seek(ctx context.Context, progress float64) {
	progress = clamp01(progress)

	o.mu.Lock()
	if o.current == nil {
		o.mu.Unlock()
		return
	}
	b := o.backendForLocked(&o.current.Track)
	o.progress = progress
	position := time.Duration(progress * float64(o.current.Track.Duration))
	deviceID := o.deviceID
	o.mu.Unlock()

	switch b {
	case backendRemote:
		if err := o.remote.SeekTo(ctx, deviceID, position); err != nil {
			o.HandleRemoteFailure()
			return
		}
		o.markSettled()
	case backendLocal:
		_ = o.engine.Seek(progress)
	}
}

// SetVolume applies a normalized volume to whichever backend is active. A
// non-zero volume also clears the mute flag.
func (o *Orchestrator) SetVolume(ctx context.Context, v float64) {
	v = clamp01(v)

	o.mu.Lock()
	o.volume = v
	if v > 0 {
		o.muted = false
		o.preMute = v
	}
	b := backendNone
	if o.current != nil {
		b = o.backendForLocked(&o.current.Track)
	}
	deviceID := o.deviceID
	effective := o.effectiveVolumeLocked()
	o.mu.Unlock()

	o.engine.SetVolume(effective)
	if b == backendRemote {
		if err := o.remote.SetVolume(ctx, deviceID, int(math.Round(effective*100))); err != nil {
			o.HandleRemoteFailure()
			return
		}
		o.markSettled()
	}
}

// ToggleMute mutes or unmutes, restoring the remembered pre-mute volume on
// unmute.
func (o *Orchestrator) ToggleMute(ctx context.Context) {
	o.mu.Lock()
	if o.muted {
		o.muted = false
		if o.volume == 0 {
			o.volume = o.preMute
		}
	} else {
		if o.volume > 0 {
			o.preMute = o.volume
		}
		o.muted = true
	}
	b := backendNone
	if o.current != nil {
		b = o.backendForLocked(&o.current.Track)
	}
	deviceID := o.deviceID
	effective := o.effectiveVolumeLocked()
	o.mu.Unlock()

	o.engine.SetVolume(effective)
	if b == backendRemote {
		if err := o.remote.SetVolume(ctx, deviceID, int(math.Round(effective*100))); err != nil {
			o.HandleRemoteFailure()
		}
	}
}

// ToggleShuffle flips shuffle mode. The remote path delegates entirely to
// Spotify and reconciles via poll; the local path permutes the queue
// immediately, retaining the original-order snapshot.
func (o *Orchestrator) ToggleShuffle(ctx context.Context) {
	o.mu.Lock()
	remote := o.current != nil &&
		o.backendForLocked(&o.current.Track) == backendRemote

	if remote {
		target := !o.shuffle
		o.shuffle = target
		deviceID := o.deviceID
		o.mu.Unlock()
		if err := o.remote.SetShuffle(ctx, deviceID, target); err != nil {
			o.HandleRemoteFailure()
			return
		}
		o.markSettled()
		return
	}

	if o.shuffle {
		o.shuffle = false
		o.queue.Unshuffle()
	} else {
		o.shuffle = true
		o.queue.Shuffle(o.rng)
	}
	o.syncCurrentFromQueueLocked()
	o.sendEventLocked(Event{Type: EventQueueChanged})
	o.mu.Unlock()
}

// CycleRepeatMode cycles none -> all -> one -> none, mapped to the Spotify
// vocabulary while a remote session is active.
func (o *Orchestrator) CycleRepeatMode(ctx context.Context) RepeatMode {
	o.mu.Lock()
	o.repeat = o.repeat.Next()
	mode := o.repeat
	connected := o.connected
	deviceID := o.deviceID
	o.mu.Unlock()

	if connected && o.remote != nil {
		if err := o.remote.SetRepeat(ctx, deviceID, mode.RemoteValue()); err != nil {
			o.HandleRemoteFailure()
		} else {
			o.markSettled()
		}
	}
	return mode
}

// AddToQueue appends a track to the queue.
func (o *Orchestrator) AddToQueue(t track.Track) {
	o.mu.Lock()
	o.queue.Add(track.NewQueueItem(t))
	o.sendEventLocked(Event{Type: EventQueueChanged})
	o.mu.Unlock()
}

// RemoveFromQueue removes the entry at the given index, preserving the
// current entry's identity.
func (o *Orchestrator) RemoveFromQueue(index int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.queue.Remove(index); err != nil {
		return err
	}
	o.sendEventLocked(Event{Type: EventQueueChanged})
	return nil
}

// ReorderQueue moves an entry, preserving the current entry's identity.
func (o *Orchestrator) ReorderQueue(from, to int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.queue.Move(from, to); err != nil {
		return err
	}
	o.sendEventLocked(Event{Type: EventQueueChanged})
	return nil
}

// ClearQueue empties the queue. The current track keeps playing.
func (o *Orchestrator) ClearQueue() {
	o.mu.Lock()
	o.queue.Clear()
	o.sendEventLocked(Event{Type: EventQueueChanged})
	o.mu.Unlock()
}

// HandleRemoteFailure downgrades the remote session after an unavailable
// response; subsequent operations fall back to local or conceptual handling
// until reconnection.
func (o *Orchestrator) HandleRemoteFailure() {
	zlog.Warn().Msg("player: remote unavailable, downgrading connection")
	o.Disconnect()
}

// ApplyRemoteState merges a polled remote snapshot into orchestrator state.
// Merging is idempotent: stale reads cannot corrupt local state, and the
// current track object is only replaced when its identity actually differs.
func (o *Orchestrator) ApplyRemoteState(st *spotify.State) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.connected {
		return
	}
	if time.Now().Before(o.settleUntil) {
		// A user-initiated command is still settling; skip this read.
		return
	}
	if st == nil {
		return
	}

	// A track actively owned by the local engine is not remote-controlled;
	// only the device identity is worth merging then.
	if o.current != nil &&
		o.backendForLocked(&o.current.Track) == backendLocal &&
		(o.state == StatePlaying || o.state == StateLoading) {
		if st.Device.ID != "" {
			o.deviceID = st.Device.ID
		}
		return
	}

	if st.Track != nil {
		changed := o.current == nil || !sameTrack(&o.current.Track, st.Track)
		if changed {
			if idx, item, ok := o.findInQueueLocked(st.Track); ok {
				o.current = &item
				_ = o.queue.SetIndex(idx)
			} else {
				item := track.NewQueueItem(*st.Track)
				o.current = &item
				_ = o.queue.SetIndex(-1)
			}
			o.progress = 0
			o.sendEventLocked(Event{Type: EventTrackChanged, Track: o.currentTrackLocked(), State: o.state})
		}
		if st.Track.Duration > 0 {
			o.progress = clamp01(float64(st.Progress) / float64(st.Track.Duration))
		}
	}

	if o.current != nil {
		prev := o.state
		if st.Playing {
			o.state = StatePlaying
		} else {
			o.state = StatePaused
		}
		if prev != o.state {
			o.sendEventLocked(Event{Type: EventStateChanged, Track: o.currentTrackLocked(), State: o.state})
		}
	}

	o.shuffle = st.Shuffle
	o.repeat = RepeatFromRemote(st.Repeat)

	if st.Device.ID != "" {
		o.deviceID = st.Device.ID
		if !o.muted {
			o.volume = clamp01(float64(st.Device.Volume) / 100)
		}
	}
}

// --- internal helpers ---

// backendForLocked evaluates the backend selection rule for a track: remote
// when the track is remote-origin, a session is connected, a device is known
// and the track carries a remote URI; otherwise local when a local file is
// present; otherwise conceptual (unless disabled).
func (o *Orchestrator) backendForLocked(t *track.Track) backend {
	if t.Origin == track.OriginSpotify && o.connected && o.deviceID != "" && t.HasRemoteAudio() {
		return backendRemote
	}
	if t.HasLocalAudio() {
		return backendLocal
	}
	if !o.cfg.DisableConceptual {
		return backendConceptual
	}
	return backendNone
}

func (o *Orchestrator) currentBackendLocked() backend {
	if o.current == nil {
		return backendNone
	}
	return o.backendForLocked(&o.current.Track)
}

func (o *Orchestrator) currentTrackLocked() *track.Track {
	if o.current == nil {
		return nil
	}
	t := o.current.Track
	return &t
}

func (o *Orchestrator) effectiveVolumeLocked() float64 {
	if o.muted {
		return 0
	}
	return o.volume
}

// syncCurrentFromQueueLocked re-points the current item at the queue entry
// matching its identity after a reorder.
func (o *Orchestrator) syncCurrentFromQueueLocked() {
	if o.current == nil {
		return
	}
	for i, it := range o.queue.Items() {
		if it.EntryID == o.current.EntryID {
			_ = o.queue.SetIndex(i)
			return
		}
	}
}

func (o *Orchestrator) findInQueueLocked(t *track.Track) (int, track.QueueItem, bool) {
	for i, it := range o.queue.Items() {
		if sameTrack(&it.Track, t) {
			return i, it, true
		}
	}
	return -1, track.QueueItem{}, false
}

func (o *Orchestrator) downgradeLocked() {
	was := o.connected
	o.connected = false
	o.deviceID = ""
	if was {
		o.sendEventLocked(Event{Type: EventConnectionChanged, Connected: false})
	}
}

func (o *Orchestrator) markSettled() {
	o.mu.Lock()
	o.markSettledLocked()
	o.mu.Unlock()
}

func (o *Orchestrator) markSettledLocked() {
	o.settleUntil = time.Now().Add(o.cfg.CommandSettle)
}

// sendEventLocked sends without blocking; slow subscribers lose events
// rather than stalling playback.
func (o *Orchestrator) sendEventLocked(e Event) {
	select {
	case o.events <- e:
	default:
	}
}

func sameTrack(a, b *track.Track) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	return a.SpotifyURI != "" && a.SpotifyURI == b.SpotifyURI
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func pickDevice(devices []spotify.Device) string {
	for _, d := range devices {
		if d.Active && !d.Restricted {
			return d.ID
		}
	}
	for _, d := range devices {
		if !d.Restricted {
			return d.ID
		}
	}
	return ""
}
