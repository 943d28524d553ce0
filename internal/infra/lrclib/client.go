// Package lrclib provides a client for the LRCLIB lyrics lookup service.
package lrclib

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// Result represents a lyrics record.
type Result struct {
	ID           int64   `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"` // seconds
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// Config represents lyrics provider configuration.
type Config struct {
	BaseURL    string `mapstructure:"base_url"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// SettingsFromMap decodes the provider settings map from the config file.
func SettingsFromMap(m map[string]any) (Config, error) {
	var cfg Config
	if err := mapstructure.Decode(m, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode lyrics settings")
	}
	return cfg, nil
}

// Client is an LRCLIB API client with a small in-memory search cache.
type Client struct {
	baseURL    string
	httpClient *http.Client

	cacheMu     sync.RWMutex
	searchCache map[string][]Result
}

// New creates a new LRCLIB client.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://lrclib.net"
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		searchCache: make(map[string][]Result),
	}
}

// Search looks up lyric records by track and artist name.
// Reference: https://lrclib.net/docs
func (c *Client) Search(ctx context.Context, trackName, artistName, albumName string) ([]Result, error) {
	if trackName == "" || artistName == "" {
		return nil, errors.New("track name and artist name are required")
	}

	cacheKey := fmt.Sprintf("%s\x00%s\x00%s", artistName, trackName, albumName)
	c.cacheMu.RLock()
	if cached, ok := c.searchCache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		zlog.Debug().Msgf("lrclib: using cached results for %s - %s", artistName, trackName)
		return cached, nil
	}
	c.cacheMu.RUnlock()

	params := url.Values{}
	params.Set("track_name", trackName)
	params.Set("artist_name", artistName)
	if albumName != "" {
		params.Set("album_name", albumName)
	}

	var results []Result
	if err := c.get(ctx, "/api/search?"+params.Encode(), &results); err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.searchCache[cacheKey] = results
	c.cacheMu.Unlock()

	return results, nil
}

// Get fetches a single lyrics record by ID.
func (c *Client) Get(ctx context.Context, id int64) (*Result, error) {
	var result Result
	if err := c.get(ctx, fmt.Sprintf("/api/get/%d", id), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Best picks the most suitable record: a synced match on track and artist
// within the duration tolerance wins; a plain-lyrics match on track and
// artist is the fallback. Nil when nothing usable matched.
func Best(results []Result, trackName, artistName string, duration time.Duration) *Result {
	const tolerance = 2 * time.Second

	matches := func(r *Result) bool {
		return strings.EqualFold(r.TrackName, trackName) &&
			strings.EqualFold(r.ArtistName, artistName)
	}

	for i := range results {
		r := &results[i]
		if r.SyncedLyrics == "" || !matches(r) {
			continue
		}
		if duration > 0 {
			diff := time.Duration(r.Duration*float64(time.Second)) - duration
			if diff < 0 {
				diff = -diff
			}
			if diff > tolerance {
				continue
			}
		}
		return r
	}

	for i := range results {
		r := &results[i]
		if matches(r) && (r.PlainLyrics != "" || r.Instrumental) {
			return r
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode == http.StatusNotFound {
		return errors.Newf("lyrics not found: %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("lrclib request failed with status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}
