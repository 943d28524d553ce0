// Package poller periodically reconciles remote playback state into the
// orchestrator.
package poller

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/20Josy07/harmonia/internal/infra/spotify"
)

// Source provides the remote playback snapshot.
type Source interface {
	PlaybackState(ctx context.Context) (*spotify.State, error)
}

// Target consumes reconciliation results. Implemented by the player
// orchestrator.
type Target interface {
	Connected() bool
	ApplyRemoteState(st *spotify.State)
	HandleRemoteFailure()
}

// Config holds the polling cadences. The immersive cadence serves the
// lyrics view, which needs finer progress granularity than the normal one.
type Config struct {
	Interval          time.Duration
	ImmersiveInterval time.Duration
}

// Poller drives the reconciliation loop. Only one poll is in flight at a
// time; a slow response simply delays the next tick.
type Poller struct {
	cfg    Config
	source Source
	target Target

	mu        sync.Mutex
	immersive bool

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a poller. Zero cadences fall back to 5s normal / 800ms
// immersive.
func New(cfg Config, source Source, target Target) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ImmersiveInterval <= 0 {
		cfg.ImmersiveInterval = 800 * time.Millisecond
	}
	return &Poller{
		cfg:    cfg,
		source: source,
		target: target,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Run starts the polling loop.
func (p *Poller) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.loop(ctx)
}

// Close stops the polling loop and waits for it to exit.
func (p *Poller) Close() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// SetImmersive switches between the normal and immersive cadences. The
// change takes effect immediately.
func (p *Poller) SetImmersive(on bool) {
	p.mu.Lock()
	changed := p.immersive != on
	p.immersive = on
	p.mu.Unlock()

	if changed {
		select {
		case p.wake <- struct{}{}:
		default:
		}
		zlog.Debug().Msgf("poller: immersive=%v", on)
	}
}

// Immersive reports the current cadence mode.
func (p *Poller) Immersive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.immersive
}

// Poll performs a single reconciliation pass.
func (p *Poller) Poll(ctx context.Context) {
	if !p.target.Connected() {
		return
	}

	st, err := p.source.PlaybackState(ctx)
	if err != nil {
		zlog.Debug().Msgf("poller: playback state fetch failed: %v", err)
		p.target.HandleRemoteFailure()
		return
	}
	p.target.ApplyRemoteState(st)
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	timer := time.NewTimer(p.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.interval())
		case <-timer.C:
			p.Poll(ctx)
			timer.Reset(p.interval())
		}
	}
}

func (p *Poller) interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.immersive {
		return p.cfg.ImmersiveInterval
	}
	return p.cfg.Interval
}
