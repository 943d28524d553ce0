// Package spotify provides the remote playback client for the Spotify Web
// API.
package spotify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	spotifyapi "github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/20Josy07/harmonia/internal/infra/token"
)

// ErrUnavailable is the sentinel failure value every remote operation
// degrades to. Callers treat it as "remote playback unavailable right now"
// rather than an exception to propagate.
var ErrUnavailable = errors.New("spotify unavailable")

// refresher is the token lifecycle surface the client needs.
type refresher interface {
	Refresh(ctx context.Context) (*oauth2.Token, error)
	Invalidate()
}

// Client presents a uniform call surface over the Spotify Web API player
// endpoints. Authentication concerns are handled internally: expired tokens
// refresh proactively through the token source, a 401 triggers exactly one
// refresh-and-retry cycle, and a 403 surfaces as unavailable without retry.
type Client struct {
	api       *spotifyapi.Client
	refresher refresher

	mu         sync.Mutex
	onAuthLost func()
}

// New creates a client whose HTTP transport draws bearer tokens from the
// refresher.
func New(r *token.Refresher) *Client {
	httpClient := oauth2.NewClient(context.Background(), r)
	httpClient.Timeout = 15 * time.Second
	return &Client{
		api:       spotifyapi.New(httpClient),
		refresher: r,
	}
}

// OnAuthLost registers a callback fired when authentication is terminally
// lost, so the orchestrator can downgrade its connection state.
func (c *Client) OnAuthLost(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAuthLost = fn
}

func (c *Client) authLost() {
	c.refresher.Invalidate()
	c.mu.Lock()
	fn := c.onAuthLost
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// do executes a remote operation with unified error handling. Any failure
// resolves to ErrUnavailable; callers never see raw HTTP errors.
func (c *Client) do(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	switch statusOf(err) {
	case http.StatusUnauthorized:
		if _, rerr := c.refresher.Refresh(ctx); rerr != nil {
			zlog.Warn().Msgf("spotify: %s: refresh after 401 failed: %v", op, rerr)
			c.authLost()
			return ErrUnavailable
		}
		if err = fn(); err == nil {
			return nil
		}
		if statusOf(err) == http.StatusUnauthorized {
			// A freshly refreshed token was rejected again; the session is
			// gone for good.
			zlog.Warn().Msgf("spotify: %s: still unauthorized after refresh", op)
			c.authLost()
			return ErrUnavailable
		}
		zlog.Warn().Msgf("spotify: %s failed after refresh: %v", op, err)
		return ErrUnavailable
	case http.StatusForbidden:
		// Permission problem, not an expiry problem. Refreshing cannot help.
		zlog.Warn().Msgf("spotify: %s forbidden: %v", op, err)
		return ErrUnavailable
	default:
		zlog.Warn().Msgf("spotify: %s failed: %v", op, err)
		return ErrUnavailable
	}
}

// statusOf extracts the HTTP status from a Spotify API error, or 0.
func statusOf(err error) int {
	var se spotifyapi.Error
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// Profile returns the authenticated user's id and display name.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var result *Profile
	err := c.do(ctx, "profile", func() error {
		u, err := c.api.CurrentUser(ctx)
		if err != nil {
			return err
		}
		result = &Profile{ID: u.ID, DisplayName: u.DisplayName, Product: u.Product}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PlaybackState fetches the remote player state. Returns (nil, nil) when
// nothing is playing on any device.
func (c *Client) PlaybackState(ctx context.Context) (*State, error) {
	var result *State
	err := c.do(ctx, "playback state", func() error {
		st, err := c.api.PlayerState(ctx)
		if err != nil {
			return err
		}
		result = convertState(st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Devices lists the user's available playback devices.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var result []Device
	err := c.do(ctx, "devices", func() error {
		devices, err := c.api.PlayerDevices(ctx)
		if err != nil {
			return err
		}
		result = make([]Device, 0, len(devices))
		for _, d := range devices {
			result = append(result, Device{
				ID:         string(d.ID),
				Name:       d.Name,
				Type:       d.Type,
				Active:     d.Active,
				Restricted: d.Restricted,
				Volume:     int(d.Volume),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Play starts playback of the given track URIs on the device.
func (c *Client) Play(ctx context.Context, deviceID string, uris []string, position time.Duration) error {
	opt := playOptions(deviceID)
	for _, u := range uris {
		opt.URIs = append(opt.URIs, spotifyapi.URI(u))
	}
	opt.PositionMs = spotifyapi.Numeric(position.Milliseconds())
	return c.do(ctx, "play", func() error {
		return c.api.PlayOpt(ctx, opt)
	})
}

// Resume resumes playback on the device without changing the track.
func (c *Client) Resume(ctx context.Context, deviceID string) error {
	return c.do(ctx, "resume", func() error {
		return c.api.PlayOpt(ctx, playOptions(deviceID))
	})
}

// Pause pauses playback on the device.
func (c *Client) Pause(ctx context.Context, deviceID string) error {
	return c.do(ctx, "pause", func() error {
		return c.api.PauseOpt(ctx, playOptions(deviceID))
	})
}

// Next skips to the next track in the remote context.
func (c *Client) Next(ctx context.Context, deviceID string) error {
	return c.do(ctx, "next", func() error {
		return c.api.NextOpt(ctx, playOptions(deviceID))
	})
}

// Previous skips to the previous track in the remote context.
func (c *Client) Previous(ctx context.Context, deviceID string) error {
	return c.do(ctx, "previous", func() error {
		return c.api.PreviousOpt(ctx, playOptions(deviceID))
	})
}

// SeekTo seeks the current remote track to an absolute position.
func (c *Client) SeekTo(ctx context.Context, deviceID string, position time.Duration) error {
	return c.do(ctx, "seek", func() error {
		return c.api.SeekOpt(ctx, int(position.Milliseconds()), playOptions(deviceID))
	})
}

// SetVolume sets the device volume as a 0-100 integer percentage.
func (c *Client) SetVolume(ctx context.Context, deviceID string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return c.do(ctx, "volume", func() error {
		return c.api.VolumeOpt(ctx, percent, playOptions(deviceID))
	})
}

// SetShuffle toggles remote shuffle mode.
func (c *Client) SetShuffle(ctx context.Context, deviceID string, on bool) error {
	return c.do(ctx, "shuffle", func() error {
		return c.api.ShuffleOpt(ctx, on, playOptions(deviceID))
	})
}

// SetRepeat sets the remote repeat state ("off", "track" or "context").
func (c *Client) SetRepeat(ctx context.Context, deviceID string, state string) error {
	return c.do(ctx, "repeat", func() error {
		return c.api.RepeatOpt(ctx, state, playOptions(deviceID))
	})
}

func playOptions(deviceID string) *spotifyapi.PlayOptions {
	opt := &spotifyapi.PlayOptions{}
	if deviceID != "" {
		id := spotifyapi.ID(deviceID)
		opt.DeviceID = &id
	}
	return opt
}
