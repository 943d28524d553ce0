package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/20Josy07/harmonia/internal/app/audio"
	"github.com/20Josy07/harmonia/internal/domain/track"
	"github.com/20Josy07/harmonia/internal/infra/spotify"
)

type fakeEngine struct {
	mu        sync.Mutex
	events    chan audio.Event
	loads     []string
	active    string
	instances int
	playing   bool
	vol       float64
	progress  float64
	seeks     []float64
	loadErr   error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan audio.Event, 16)}
}

func (e *fakeEngine) Load(t track.Track) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loadErr != nil {
		return e.loadErr
	}
	if e.active != "" {
		e.instances--
	}
	e.active = t.ID
	e.instances++
	e.loads = append(e.loads, t.ID)
	e.playing = true
	e.progress = 0
	return nil
}

func (e *fakeEngine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = true
}

func (e *fakeEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
}

func (e *fakeEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != "" {
		e.instances--
		e.active = ""
	}
	e.playing = false
}

func (e *fakeEngine) Seek(progress float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = progress
	e.seeks = append(e.seeks, progress)
	return nil
}

func (e *fakeEngine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vol = v
}

func (e *fakeEngine) Progress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

func (e *fakeEngine) Events() <-chan audio.Event { return e.events }
func (e *fakeEngine) Close() error              { return nil }

func (e *fakeEngine) snapshot() (active string, instances int, playing bool, vol float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active, e.instances, e.playing, e.vol
}

type remotePlay struct {
	deviceID string
	uris     []string
}

type fakeRemote struct {
	mu       sync.Mutex
	err      error
	devices  []spotify.Device
	plays    []remotePlay
	pauses   int
	resumes  int
	nexts    int
	volumes  []int
	shuffles []bool
	repeats  []string
}

func (r *fakeRemote) PlaybackState(context.Context) (*spotify.State, error) { return nil, r.err }

func (r *fakeRemote) Devices(context.Context) ([]spotify.Device, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.devices, nil
}

func (r *fakeRemote) Play(_ context.Context, deviceID string, uris []string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.plays = append(r.plays, remotePlay{deviceID: deviceID, uris: uris})
	return nil
}

func (r *fakeRemote) Resume(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.resumes++
	return nil
}

func (r *fakeRemote) Pause(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.pauses++
	return nil
}

func (r *fakeRemote) Next(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.nexts++
	return nil
}

func (r *fakeRemote) Previous(context.Context, string) error { return r.err }

func (r *fakeRemote) SeekTo(context.Context, string, time.Duration) error { return r.err }

func (r *fakeRemote) SetVolume(_ context.Context, _ string, percent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.volumes = append(r.volumes, percent)
	return nil
}

func (r *fakeRemote) SetShuffle(_ context.Context, _ string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.shuffles = append(r.shuffles, on)
	return nil
}

func (r *fakeRemote) SetRepeat(_ context.Context, _ string, state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.repeats = append(r.repeats, state)
	return nil
}

func localTrack(id string, d time.Duration) track.Track {
	return track.Track{
		ID:        id,
		Title:     id,
		Artists:   []string{"artist"},
		Duration:  d,
		AudioPath: "/music/" + id + ".mp3",
		Origin:    track.OriginLocal,
	}
}

func remoteTrack(id string, d time.Duration) track.Track {
	return track.Track{
		ID:         id,
		Title:      id,
		Artists:    []string{"artist"},
		Duration:   d,
		SpotifyURI: "spotify:track:" + id,
		Origin:     track.OriginSpotify,
		External:   true,
	}
}

func newTestOrchestrator(cfg Config, remote RemoteController) (*Orchestrator, *fakeEngine) {
	engine := newFakeEngine()
	return New(cfg, engine, remote), engine
}

func connectRemote(t *testing.T, o *Orchestrator, deviceID string) {
	t.Helper()
	o.mu.Lock()
	o.connected = true
	o.deviceID = deviceID
	o.mu.Unlock()
}

func TestPlayPlaylistThroughQueueEnd(t *testing.T) {
	o, engine := newTestOrchestrator(Config{}, nil)
	ctx := context.Background()

	tracks := []track.Track{
		localTrack("a", 3*time.Minute),
		localTrack("b", 3*time.Minute),
		localTrack("c", 3*time.Minute),
	}
	require.NoError(t, o.PlayPlaylist(ctx, tracks, 1))

	snap := o.Snapshot()
	require.NotNil(t, snap.Track)
	assert.Equal(t, "b", snap.Track.ID)
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, 1, snap.QueueIndex)
	assert.Len(t, snap.Queue, 3)

	o.Next(ctx)
	snap = o.Snapshot()
	require.NotNil(t, snap.Track)
	assert.Equal(t, "c", snap.Track.ID)
	assert.Equal(t, StatePlaying, snap.State)

	// End of queue without repeat: stop, keep the last track visible.
	o.Next(ctx)
	snap = o.Snapshot()
	require.NotNil(t, snap.Track)
	assert.Equal(t, "c", snap.Track.ID)
	assert.Equal(t, StatePaused, snap.State)
	assert.Zero(t, snap.Progress)

	active, _, playing, _ := engine.snapshot()
	assert.Empty(t, active)
	assert.False(t, playing)
	assert.Equal(t, []string{"b", "c"}, engine.loads)
}

func TestSingleLocalInstance(t *testing.T) {
	o, engine := newTestOrchestrator(Config{}, nil)
	ctx := context.Background()

	o.PlayTrack(ctx, localTrack("a", time.Minute))
	o.PlayTrack(ctx, localTrack("b", time.Minute))

	active, instances, _, _ := engine.snapshot()
	assert.Equal(t, "b", active)
	assert.Equal(t, 1, instances)
	assert.Equal(t, []string{"a", "b"}, engine.loads)
}

func TestRepeatOneRestartsTrack(t *testing.T) {
	o, engine := newTestOrchestrator(Config{}, nil)
	ctx := context.Background()

	tracks := []track.Track{
		localTrack("a", time.Minute),
		localTrack("b", time.Minute),
	}
	require.NoError(t, o.PlayPlaylist(ctx, tracks, 0))

	o.CycleRepeatMode(ctx) // all
	mode := o.CycleRepeatMode(ctx)
	require.Equal(t, RepeatOne, mode)

	o.handleEngineEvent(audio.Event{Type: audio.EventEnded, TrackID: "a"})

	snap := o.Snapshot()
	require.NotNil(t, snap.Track)
	assert.Equal(t, "a", snap.Track.ID)
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, 0, snap.QueueIndex)
	assert.Equal(t, []string{"a", "a"}, engine.loads)
}

func TestRepeatAllWrapsQueue(t *testing.T) {
	o, engine := newTestOrchestrator(Config{}, nil)
	ctx := context.Background()

	tracks := []track.Track{
		localTrack("a", time.Minute),
		localTrack("b", time.Minute),
	}
	require.NoError(t, o.PlayPlaylist(ctx, tracks, 1))

	o.CycleRepeatMode(ctx) // all
	o.Next(ctx)

	snap := o.Snapshot()
	require.NotNil(t, snap.Track)
	assert.Equal(t, "a", snap.Track.ID)
	assert.Equal(t, 0, snap.QueueIndex)
	assert.Equal(t, []string{"b", "a"}, engine.loads)
}

func TestMuteRoundTrip(t *testing.T) {
	o, engine := newTestOrchestrator(Config{}, nil)
	ctx := context.Background()

	o.SetVolume(ctx, 0.8)

	o.ToggleMute(ctx)
	snap := o.Snapshot()
	assert.True(t, snap.Muted)
	_, _, _, vol := engine.snapshot()
	assert.Zero(t, vol)

	o.ToggleMute(ctx)
	snap = o.Snapshot()
	assert.False(t, snap.Muted)
	assert.InDelta(t, 0.8, snap.Volume, 1e-9)
	_, _, _, vol = engine.snapshot()
	assert.InDelta(t, 0.8, vol, 1e-9)
}

func TestSetVolumeClearsMute(t *testing.T) {
	o, _ := newTestOrchestrator(Config{}, nil)
	ctx := context.Background()

	o.SetVolume(ctx, 0.5)
	o.ToggleMute(ctx)
	o.SetVolume(ctx, 0.3)

	snap := o.Snapshot()
	assert.False(t, snap.Muted)
	assert.InDelta(t, 0.3, snap.Volume, 1e-9)
}

func TestPreviousRestartsAfterThreshold(t *testing.T) {
	o, engine := newTestOrchestrator(Config{RestartThreshold: 3 * time.Second}, nil)
	ctx := context.Background()

	tracks := []track.Track{
		localTrack("a", 4*time.Minute),
		localTrack("b", 4*time.Minute),
	}
	require.NoError(t, o.PlayPlaylist(ctx, tracks, 1))

	// Deep into the track: Previous restarts it.
	o.mu.Lock()
	o.progress = 0.5
	o.mu.Unlock()
	o.Previous(ctx)

	snap := o.Snapshot()
	require.NotNil(t, snap.Track)
	assert.Equal(t, "b", snap.Track.ID)
	assert.Zero(t, snap.Progress)
	assert.Equal(t, []float64{0}, engine.seeks)

	// Right at the start: Previous moves to the prior entry.
	o.Previous(ctx)
	snap = o.Snapshot()
	require.NotNil(t, snap.Track)
	assert.Equal(t, "a", snap.Track.ID)
	assert.Equal(t, 0, snap.QueueIndex)
}

func TestTogglePlayPauseLocal(t *testing.T) {
	o, engine := newTestOrchestrator(Config{}, nil)
	ctx := context.Background()

	o.PlayTrack(ctx, localTrack("a", time.Minute))
	require.Equal(t, StatePlaying, o.Snapshot().State)

	o.TogglePlayPause(ctx)
	assert.Equal(t, StatePaused, o.Snapshot().State)
	_, _, playing, _ := engine.snapshot()
	assert.False(t, playing)

	o.TogglePlayPause(ctx)
	assert.Equal(t, StatePlaying, o.Snapshot().State)
	_, _, playing, _ = engine.snapshot()
	assert.True(t, playing)
}

func TestTogglePlayPauseStartsQueue(t *testing.T) {
	o, engine := newTestOrchestrator(Config{}, nil)
	ctx := context.Background()

	o.AddToQueue(localTrack("a", time.Minute))
	o.AddToQueue(localTrack("b", time.Minute))

	o.TogglePlayPause(ctx)

	snap := o.Snapshot()
	require.NotNil(t, snap.Track)
	assert.Equal(t, "a", snap.Track.ID)
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, []string{"a"}, engine.loads)
}

func TestToggleShuffleReversible(t *testing.T) {
	o, _ := newTestOrchestrator(Config{}, nil)
	ctx := context.Background()

	tracks := []track.Track{
		localTrack("a", time.Minute),
		localTrack("b", time.Minute),
		localTrack("c", time.Minute),
		localTrack("d", time.Minute),
		localTrack("e", time.Minute),
	}
	require.NoError(t, o.PlayPlaylist(ctx, tracks, 2))

	before := o.Snapshot()
	currentEntry := before.Queue[before.QueueIndex].EntryID

	o.ToggleShuffle(ctx)
	mid := o.Snapshot()
	assert.True(t, mid.Shuffle)
	assert.Equal(t, currentEntry, mid.Queue[mid.QueueIndex].EntryID,
		"current entry identity survives shuffle")

	o.ToggleShuffle(ctx)
	after := o.Snapshot()
	assert.False(t, after.Shuffle)
	require.Len(t, after.Queue, 5)
	for i, it := range before.Queue {
		assert.Equal(t, it.EntryID, after.Queue[i].EntryID)
	}
	assert.Equal(t, 2, after.QueueIndex)
}

func TestRemoteDispatch(t *testing.T) {
	remote := &fakeRemote{}
	o, engine := newTestOrchestrator(Config{CommandSettle: time.Minute}, remote)
	ctx := context.Background()
	connectRemote(t, o, "dev1")

	o.PlayTrack(ctx, remoteTrack("r1", 3*time.Minute))

	require.Len(t, remote.plays, 1)
	assert.Equal(t, "dev1", remote.plays[0].deviceID)
	assert.Equal(t, []string{"spotify:track:r1"}, remote.plays[0].uris)

	snap := o.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	active, _, _, _ := engine.snapshot()
	assert.Empty(t, active, "local audio stops before remote dispatch")

	o.TogglePlayPause(ctx)
	assert.Equal(t, 1, remote.pauses)
	assert.Equal(t, StatePaused, o.Snapshot().State)

	o.Next(ctx)
	assert.Equal(t, 1, remote.nexts)
}

func TestRemoteFailureDowngrades(t *testing.T) {
	remote := &fakeRemote{}
	o, _ := newTestOrchestrator(Config{}, remote)
	ctx := context.Background()
	connectRemote(t, o, "dev1")

	remote.err = spotify.ErrUnavailable
	o.PlayTrack(ctx, remoteTrack("r1", 3*time.Minute))

	snap := o.Snapshot()
	assert.False(t, snap.Connected)
	assert.Empty(t, snap.DeviceID)
	assert.Equal(t, StatePaused, snap.State)
}

func TestConnectPicksActiveDevice(t *testing.T) {
	remote := &fakeRemote{devices: []spotify.Device{
		{ID: "restricted", Name: "TV", Restricted: true},
		{ID: "idle", Name: "Desk"},
		{ID: "active", Name: "Phone", Active: true},
	}}
	o, _ := newTestOrchestrator(Config{}, remote)

	require.NoError(t, o.Connect(context.Background()))
	assert.True(t, o.Connected())
	assert.Equal(t, "active", o.DeviceID())
}

func TestConnectWithoutRemote(t *testing.T) {
	o, _ := newTestOrchestrator(Config{}, nil)
	err := o.Connect(context.Background())
	assert.ErrorIs(t, err, ErrRemoteNotConfigured)
}

func TestConceptualPlayback(t *testing.T) {
	o, _ := newTestOrchestrator(Config{}, nil)
	ctx := context.Background()

	// No audio path and no remote session: playing for UI purposes only.
	o.PlayTrack(ctx, track.Track{ID: "ghost", Title: "Ghost", Origin: track.OriginLocal})
	assert.Equal(t, StatePlaying, o.Snapshot().State)
}

func TestConceptualPlaybackDisabled(t *testing.T) {
	o, _ := newTestOrchestrator(Config{DisableConceptual: true}, nil)
	ctx := context.Background()

	o.PlayTrack(ctx, track.Track{ID: "ghost", Title: "Ghost", Origin: track.OriginLocal})
	assert.Equal(t, StatePaused, o.Snapshot().State)
}

func TestLocalFailureKeepsTrackPaused(t *testing.T) {
	o, engine := newTestOrchestrator(Config{}, nil)
	ctx := context.Background()

	o.PlayTrack(ctx, localTrack("a", time.Minute))
	o.handleEngineEvent(audio.Event{Type: audio.EventFailed, TrackID: "a", Err: assert.AnError})

	snap := o.Snapshot()
	require.NotNil(t, snap.Track)
	assert.Equal(t, "a", snap.Track.ID)
	assert.Equal(t, StatePaused, snap.State)
	assert.Equal(t, []string{"a"}, engine.loads, "no auto-skip on failure")
}

func TestApplyRemoteState(t *testing.T) {
	newRemoteState := func(id string, playing bool) *spotify.State {
		tr := remoteTrack(id, 3*time.Minute)
		return &spotify.State{
			Track:    &tr,
			Playing:  playing,
			Progress: 90 * time.Second,
			Repeat:   "context",
			Device:   spotify.Device{ID: "dev1", Volume: 40},
		}
	}

	t.Run("adopts matching queue entry", func(t *testing.T) {
		o, _ := newTestOrchestrator(Config{}, &fakeRemote{})
		connectRemote(t, o, "dev1")

		o.mu.Lock()
		o.queue.Add(track.NewQueueItem(remoteTrack("r1", 3*time.Minute)))
		o.queue.Add(track.NewQueueItem(remoteTrack("r2", 3*time.Minute)))
		o.mu.Unlock()

		o.ApplyRemoteState(newRemoteState("r2", true))

		snap := o.Snapshot()
		require.NotNil(t, snap.Track)
		assert.Equal(t, "r2", snap.Track.ID)
		assert.Equal(t, 1, snap.QueueIndex)
		assert.Equal(t, StatePlaying, snap.State)
		assert.Equal(t, RepeatAll, snap.Repeat)
		assert.InDelta(t, 0.5, snap.Progress, 1e-9)
		assert.InDelta(t, 0.4, snap.Volume, 1e-9)
	})

	t.Run("detaches on unknown track", func(t *testing.T) {
		o, _ := newTestOrchestrator(Config{}, &fakeRemote{})
		connectRemote(t, o, "dev1")

		o.ApplyRemoteState(newRemoteState("elsewhere", true))

		snap := o.Snapshot()
		require.NotNil(t, snap.Track)
		assert.Equal(t, "elsewhere", snap.Track.ID)
		assert.Equal(t, -1, snap.QueueIndex)
	})

	t.Run("idempotent for identical snapshots", func(t *testing.T) {
		o, _ := newTestOrchestrator(Config{}, &fakeRemote{})
		connectRemote(t, o, "dev1")

		st := newRemoteState("r1", true)
		o.ApplyRemoteState(st)
		first := o.Snapshot()
		entry := first.Queue // no queue entries; identity via current track

		o.ApplyRemoteState(st)
		second := o.Snapshot()
		assert.Equal(t, first.Track.ID, second.Track.ID)
		assert.Equal(t, first.State, second.State)
		assert.Equal(t, first.Progress, second.Progress)
		assert.Equal(t, len(entry), len(second.Queue))
	})

	t.Run("skipped inside settle window", func(t *testing.T) {
		o, _ := newTestOrchestrator(Config{CommandSettle: time.Minute}, &fakeRemote{})
		connectRemote(t, o, "dev1")
		o.markSettled()

		o.ApplyRemoteState(newRemoteState("r1", true))
		assert.Nil(t, o.Snapshot().Track)
	})

	t.Run("merges device only while local track plays", func(t *testing.T) {
		o, _ := newTestOrchestrator(Config{}, &fakeRemote{})
		ctx := context.Background()

		o.PlayTrack(ctx, localTrack("a", time.Minute))
		connectRemote(t, o, "old-dev")

		o.ApplyRemoteState(newRemoteState("r1", true))

		snap := o.Snapshot()
		require.NotNil(t, snap.Track)
		assert.Equal(t, "a", snap.Track.ID, "local playback not clobbered by stale remote reads")
		assert.Equal(t, "dev1", snap.DeviceID)
	})

	t.Run("mute survives volume merge", func(t *testing.T) {
		o, _ := newTestOrchestrator(Config{}, &fakeRemote{})
		ctx := context.Background()
		connectRemote(t, o, "dev1")

		o.SetVolume(ctx, 0.8)
		o.ToggleMute(ctx)
		o.ApplyRemoteState(newRemoteState("r1", true))

		snap := o.Snapshot()
		assert.True(t, snap.Muted)
		assert.InDelta(t, 0.8, snap.Volume, 1e-9)
	})

	t.Run("ignored while disconnected", func(t *testing.T) {
		o, _ := newTestOrchestrator(Config{}, &fakeRemote{})
		o.ApplyRemoteState(newRemoteState("r1", true))
		assert.Nil(t, o.Snapshot().Track)
	})
}

func TestQueueEditKeepsCurrentIdentity(t *testing.T) {
	o, _ := newTestOrchestrator(Config{}, nil)
	ctx := context.Background()

	tracks := []track.Track{
		localTrack("a", time.Minute),
		localTrack("b", time.Minute),
		localTrack("c", time.Minute),
	}
	require.NoError(t, o.PlayPlaylist(ctx, tracks, 1))

	require.NoError(t, o.RemoveFromQueue(0))
	snap := o.Snapshot()
	require.NotNil(t, snap.Track)
	assert.Equal(t, "b", snap.Track.ID)
	assert.Equal(t, 0, snap.QueueIndex)

	require.NoError(t, o.ReorderQueue(0, 1))
	snap = o.Snapshot()
	assert.Equal(t, 1, snap.QueueIndex)
	assert.Equal(t, "b", snap.Queue[snap.QueueIndex].Track.ID)
}
