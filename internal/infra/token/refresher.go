package token

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// Errors.
var (
	// ErrNoToken indicates no session token is stored; the user has not
	// connected a Spotify account.
	ErrNoToken = errors.New("no session token")
	// ErrAuthRevoked indicates the refresh grant is invalid or revoked; the
	// stored token pair has been cleared and the user must re-authenticate.
	ErrAuthRevoked = errors.New("authorization revoked")
)

// Refresher exchanges the stored refresh token for new access tokens at the
// Spotify token endpoint, persisting results back into the store. At most
// one refresh is in flight at a time; concurrent callers share the
// in-progress attempt's outcome.
//
// Refresher implements oauth2.TokenSource, so it can back an authenticated
// HTTP client directly.
type Refresher struct {
	store        *Store
	clientID     string
	clientSecret string
	tokenURL     string
	httpClient   *http.Client
	onAuthLost   func()

	mu       sync.Mutex
	inflight *refreshCall
}

type refreshCall struct {
	done chan struct{}
	tok  *oauth2.Token
	err  error
}

// RefresherConfig configures a Refresher.
type RefresherConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string // defaults to the Spotify accounts token endpoint
}

// NewRefresher creates a refresher bound to the given store.
func NewRefresher(store *Store, cfg RefresherConfig) *Refresher {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}
	return &Refresher{
		store:        store,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     tokenURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// OnAuthLost registers a callback fired when the session becomes terminally
// unauthenticated (revoked grant or explicit invalidation).
func (r *Refresher) OnAuthLost(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAuthLost = fn
}

// Token returns a valid access token, refreshing proactively when the stored
// token is inside the expiry guard window. Implements oauth2.TokenSource.
func (r *Refresher) Token() (*oauth2.Token, error) {
	tok, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrNoToken
	}
	if !r.store.Expired(tok) {
		return &oauth2.Token{AccessToken: tok.AccessToken, Expiry: tok.ExpiresAt}, nil
	}
	return r.Refresh(context.Background())
}

// Refresh forces a refresh-token exchange. Concurrent calls observe the
// outcome of the single in-flight attempt rather than issuing duplicate
// requests.
func (r *Refresher) Refresh(ctx context.Context) (*oauth2.Token, error) {
	r.mu.Lock()
	if c := r.inflight; c != nil {
		r.mu.Unlock()
		select {
		case <-c.done:
			return c.tok, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &refreshCall{done: make(chan struct{})}
	r.inflight = c
	r.mu.Unlock()

	c.tok, c.err = r.refresh(ctx)

	r.mu.Lock()
	r.inflight = nil
	r.mu.Unlock()
	close(c.done)

	return c.tok, c.err
}

// Invalidate clears the stored token pair and signals auth loss. Used when
// the remote API keeps rejecting a token that refresh cannot repair.
func (r *Refresher) Invalidate() {
	if err := r.store.Clear(); err != nil {
		zlog.Warn().Msgf("token: failed to clear store: %v", err)
	}
	r.mu.Lock()
	fn := r.onAuthLost
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *Refresher) refresh(ctx context.Context) (*oauth2.Token, error) {
	tok, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.RefreshToken == "" {
		r.Invalidate()
		return nil, ErrAuthRevoked
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", tok.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create refresh request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(r.clientID, r.clientSecret)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "refresh request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read refresh response")
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		if isTerminalGrantError(resp.StatusCode, apiErr.Error) {
			zlog.Info().Msgf("token: refresh grant rejected (%s), logging out", apiErr.Error)
			r.Invalidate()
			return nil, ErrAuthRevoked
		}
		return nil, errors.Newf("refresh failed with status %d", resp.StatusCode)
	}

	var res struct {
		AccessToken  string `json:"access_token"`
		ExpiresIn    int    `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Wrap(err, "failed to decode refresh response")
	}
	if res.AccessToken == "" {
		return nil, errors.New("refresh response contained no access token")
	}

	expiresIn := time.Duration(res.ExpiresIn) * time.Second
	if err := r.store.Save(res.AccessToken, expiresIn, res.RefreshToken); err != nil {
		return nil, err
	}

	zlog.Debug().Msgf("token: refreshed, expires in %v", expiresIn)
	return &oauth2.Token{
		AccessToken: res.AccessToken,
		Expiry:      time.Now().Add(expiresIn),
	}, nil
}

// isTerminalGrantError classifies a token endpoint failure. Invalid or
// revoked grants cannot be repaired by retrying; anything else (rate limit,
// 5xx) is transient.
func isTerminalGrantError(status int, code string) bool {
	if status != http.StatusBadRequest && status != http.StatusUnauthorized {
		return false
	}
	return code == "invalid_grant" || code == "invalid_client" || code == "invalid_request"
}
