package spotify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Artist is a canonical catalog entry.
type Artist struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres"`
}

// Track is one playable item from an artist's catalog.
type Track struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// APIError carries the upstream status so callers can tell transient
// failures (429/5xx) from permanent ones. RetryAfter is populated from the
// Retry-After header on 429 responses.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify: %d %s", e.StatusCode, e.Message)
}

// Transient reports whether retrying the same call can reasonably succeed.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Config struct {
	BaseURL      string // defaults to https://api.spotify.com
	AccountsURL  string // defaults to https://accounts.spotify.com
	ClientID     string
	ClientSecret string
	RefreshToken string
	UserID       string
}

type Client struct {
	httpClient   *http.Client
	baseURL      string
	accountsURL  string
	clientID     string
	clientSecret string
	refreshToken string
	userID       string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.spotify.com"
	}
	accounts := cfg.AccountsURL
	if accounts == "" {
		accounts = "https://accounts.spotify.com"
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:      strings.TrimRight(base, "/"),
		accountsURL:  strings.TrimRight(accounts, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		refreshToken: cfg.RefreshToken,
		userID:       cfg.UserID,
	}
}

// UserID returns the playlist owner configured for this client.
func (c *Client) UserID() string {
	return c.userID
}

// SearchArtists queries the catalog by artist name.
func (c *Client) SearchArtists(ctx context.Context, name string, limit int) ([]Artist, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{
		"q":     {name},
		"type":  {"artist"},
		"limit": {strconv.Itoa(limit)},
	}

	var result struct {
		Artists struct {
			Items []Artist `json:"items"`
		} `json:"artists"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/search?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return result.Artists.Items, nil
}

// TopTracks returns the artist's most played tracks, best first.
func (c *Client) TopTracks(ctx context.Context, artistID string) ([]Track, error) {
	var result struct {
		Tracks []Track `json:"tracks"`
	}
	path := fmt.Sprintf("/v1/artists/%s/top-tracks?market=from_token", artistID)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Tracks, nil
}

// CreatePlaylist creates an empty private playlist for the configured user
// and returns its id.
func (c *Client) CreatePlaylist(ctx context.Context, name, description string) (string, error) {
	body := map[string]any{
		"name":        name,
		"description": description,
		"public":      false,
	}
	var result struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/v1/users/%s/playlists", url.PathEscape(c.userID))
	if err := c.do(ctx, http.MethodPost, path, body, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// AddTracks appends tracks to the playlist in order.
func (c *Client) AddTracks(ctx context.Context, playlistID string, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	body := map[string]any{"uris": uris}
	path := fmt.Sprintf("/v1/playlists/%s/tracks", playlistID)
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// UnfollowPlaylist removes the playlist from the configured user's library,
// which is how the API deletes an owned playlist.
func (c *Client) UnfollowPlaylist(ctx context.Context, playlistID string) error {
	path := fmt.Sprintf("/v1/playlists/%s/followers", playlistID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("spotify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode spotify response: %w", err)
	}
	return nil
}

// token returns a cached access token, refreshing it via the refresh-token
// grant when missing or about to expire.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Until(c.tokenExpiry) > 30*time.Second {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.accountsURL+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+creds)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func apiError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	if resp.StatusCode == http.StatusTooManyRequests {
		if raw := resp.Header.Get("Retry-After"); raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
				apiErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
