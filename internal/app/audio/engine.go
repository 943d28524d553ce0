// Package audio provides the local audio engine adapter.
package audio

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	zlog "github.com/rs/zerolog/log"

	"github.com/20Josy07/harmonia/internal/domain/track"
)

// ErrUnsupportedFormat indicates the audio file extension has no decoder.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Engine is the capability surface the orchestrator needs from a local
// playback backend. Exactly one track instance is active at a time; Load
// always tears the previous one down before the new one starts.
type Engine interface {
	// Load decodes the track's audio file and begins playback immediately.
	Load(t track.Track) error
	// Play resumes paused playback.
	Play()
	// Pause suspends playback, keeping the position.
	Pause()
	// Stop tears down the active instance, releasing its resources.
	Stop()
	// Seek jumps to a normalized position in the active track.
	Seek(progress float64) error
	// SetVolume applies a 0..1 volume to the active and future instances.
	SetVolume(v float64)
	// Progress returns the normalized playback position (0 when idle).
	Progress() float64
	// Events exposes the engine's typed event stream.
	Events() <-chan Event
	// Close releases the engine.
	Close() error
}

const mixSampleRate = beep.SampleRate(44100)

// BeepEngine plays local audio files through the beep speaker.
type BeepEngine struct {
	mu sync.Mutex

	streamer beep.StreamSeekCloser
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	trackID  string
	vol      float64

	// Generation counter; end callbacks from torn-down instances compare
	// against it and drop themselves.
	gen atomic.Int64

	events chan Event
}

// NewBeepEngine initializes the speaker and returns an idle engine.
func NewBeepEngine() (*BeepEngine, error) {
	if err := speaker.Init(mixSampleRate, mixSampleRate.N(100*time.Millisecond)); err != nil {
		return nil, errors.Wrap(err, "failed to initialize speaker")
	}
	return &BeepEngine{
		vol:    1,
		events: make(chan Event, 16),
	}, nil
}

// Load implements Engine. Any prior instance is fully stopped and released
// before the new one starts, so overlapping audio cannot occur.
func (e *BeepEngine) Load(t track.Track) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.teardownLocked()

	f, err := os.Open(t.AudioPath)
	if err != nil {
		err = errors.Wrap(err, "failed to open audio file")
		e.emit(Event{Type: EventFailed, TrackID: t.ID, Err: err})
		return err
	}

	streamer, format, err := decode(t.AudioPath, f)
	if err != nil {
		f.Close()
		err = errors.Wrapf(err, "failed to decode %s", filepath.Base(t.AudioPath))
		e.emit(Event{Type: EventFailed, TrackID: t.ID, Err: err})
		return err
	}

	gen := e.gen.Add(1)
	trackID := t.ID

	var source beep.Streamer = streamer
	if format.SampleRate != mixSampleRate {
		source = beep.Resample(4, format.SampleRate, mixSampleRate, streamer)
	}

	e.streamer = streamer
	e.trackID = trackID
	e.ctrl = &beep.Ctrl{
		Streamer: beep.Seq(source, beep.Callback(func() {
			// Runs on the speaker goroutine; only signal, never lock.
			if e.gen.Load() == gen {
				e.emit(Event{Type: EventEnded, TrackID: trackID})
			}
		})),
	}
	e.volume = &effects.Volume{
		Streamer: e.ctrl,
		Base:     2,
		Volume:   volumeExponent(e.vol),
		Silent:   e.vol == 0,
	}

	speaker.Play(e.volume)
	e.emit(Event{Type: EventLoaded, TrackID: trackID})
	return nil
}

// Play implements Engine.
func (e *BeepEngine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctrl == nil {
		return
	}
	speaker.Lock()
	e.ctrl.Paused = false
	speaker.Unlock()
	e.emit(Event{Type: EventPlaying, TrackID: e.trackID})
}

// Pause implements Engine.
func (e *BeepEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctrl == nil {
		return
	}
	speaker.Lock()
	e.ctrl.Paused = true
	speaker.Unlock()
	e.emit(Event{Type: EventPaused, TrackID: e.trackID})
}

// Stop implements Engine.
func (e *BeepEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked()
}

// Seek implements Engine.
func (e *BeepEngine) Seek(progress float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streamer == nil {
		return nil
	}
	progress = clamp01(progress)

	speaker.Lock()
	pos := int(progress * float64(e.streamer.Len()))
	if pos >= e.streamer.Len() {
		pos = e.streamer.Len() - 1
	}
	err := e.streamer.Seek(pos)
	speaker.Unlock()

	if err != nil {
		return errors.Wrap(err, "seek failed")
	}
	return nil
}

// SetVolume implements Engine.
func (e *BeepEngine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vol = clamp01(v)
	if e.volume == nil {
		return
	}
	speaker.Lock()
	e.volume.Volume = volumeExponent(e.vol)
	e.volume.Silent = e.vol == 0
	speaker.Unlock()
}

// Progress implements Engine.
func (e *BeepEngine) Progress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.streamer == nil {
		return 0
	}
	speaker.Lock()
	pos, length := e.streamer.Position(), e.streamer.Len()
	speaker.Unlock()
	if length <= 0 {
		return 0
	}
	return float64(pos) / float64(length)
}

// Events implements Engine.
func (e *BeepEngine) Events() <-chan Event {
	return e.events
}

// Close implements Engine.
func (e *BeepEngine) Close() error {
	e.Stop()
	speaker.Close()
	return nil
}

func (e *BeepEngine) teardownLocked() {
	if e.streamer == nil {
		return
	}
	e.gen.Add(1) // invalidate the pending end callback
	speaker.Clear()
	if err := e.streamer.Close(); err != nil {
		zlog.Debug().Msgf("audio: close streamer: %v", err)
	}
	e.streamer = nil
	e.ctrl = nil
	e.volume = nil
	e.trackID = ""
}

// emit sends without blocking; the orchestrator's drain loop keeps the
// buffer shallow, and dropping is preferable to stalling the speaker.
func (e *BeepEngine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		zlog.Warn().Msgf("audio: dropping event %s", ev.Type)
	}
}

func decode(path string, f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return mp3.Decode(f)
	case ".wav":
		return wav.Decode(f)
	case ".flac":
		return flac.Decode(f)
	case ".ogg":
		return vorbis.Decode(f)
	default:
		return nil, beep.Format{}, errors.Wrapf(ErrUnsupportedFormat, "%s", filepath.Ext(path))
	}
}

// volumeExponent maps a linear 0..1 volume onto beep's exponential scale
// (base 2): 1.0 keeps unity gain, 0.5 halves perceived loudness.
func volumeExponent(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Log2(v)
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
