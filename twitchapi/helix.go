// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for clip, user and game lookups, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// maxLoginsPerRequest is the Helix limit for repeated login/id query parameters.
const maxLoginsPerRequest = 100

// ErrNotFound is returned when Helix answers with an empty data array.
var ErrNotFound = errors.New("twitchapi: not found")

// StatusError reports a non-200 Helix response.
type StatusError struct {
	Resource string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("helix %s: unexpected status %d: %s", e.Resource, e.Code, e.Body)
}

// HelixClient provides the lookups needed to enrich clip notices.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	BaseURL        string
	HTTPClient     *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultBaseURL
}

// Clip is the subset of the Helix clip object used by the relay.
type Clip struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	BroadcasterID   string    `json:"broadcaster_id"`
	BroadcasterName string    `json:"broadcaster_name"`
	CreatorID       string    `json:"creator_id"`
	CreatorName     string    `json:"creator_name"`
	GameID          string    `json:"game_id"`
	Title           string    `json:"title"`
	ThumbnailURL    string    `json:"thumbnail_url"`
	ViewCount       int       `json:"view_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// User is the subset of the Helix user object used by the relay.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Game is a Helix game (category). BoxArtURL contains {width} and {height} placeholders.
type Game struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BoxArtURL string `json:"box_art_url"`
}

// get performs an authenticated GET on resource and decodes {"data": [...]} into out.
func (hc *HelixClient) get(ctx context.Context, resource string, q url.Values, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+"/"+resource, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return fmt.Errorf("helix %s: %w", resource, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Resource: resource, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("helix %s: decode: %w", resource, err)
	}
	if len(body.Data) == 0 || string(body.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(body.Data, out); err != nil {
		return fmt.Errorf("helix %s: decode data: %w", resource, err)
	}
	return nil
}

// GetClip looks up a clip by id.
func (hc *HelixClient) GetClip(ctx context.Context, id string) (*Clip, error) {
	if id == "" {
		return nil, fmt.Errorf("clip id empty")
	}
	var data []Clip
	if err := hc.get(ctx, "clips", url.Values{"id": {id}}, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("clip %s: %w", id, ErrNotFound)
	}
	return &data[0], nil
}

// GetUser looks up a user by id.
func (hc *HelixClient) GetUser(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, fmt.Errorf("user id empty")
	}
	var data []User
	if err := hc.get(ctx, "users", url.Values{"id": {id}}, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return &data[0], nil
}

// GetGame looks up a game by id.
func (hc *HelixClient) GetGame(ctx context.Context, id string) (*Game, error) {
	if id == "" {
		return nil, fmt.Errorf("game id empty")
	}
	var data []Game
	if err := hc.get(ctx, "games", url.Values{"id": {id}}, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	return &data[0], nil
}

// GetUserIDs resolves login names to user ids in batches of 100. Logins Helix doesn't know
// are absent from the returned map; keys are lower-case.
func (hc *HelixClient) GetUserIDs(ctx context.Context, logins []string) (map[string]string, error) {
	out := make(map[string]string, len(logins))
	for start := 0; start < len(logins); start += maxLoginsPerRequest {
		end := min(start+maxLoginsPerRequest, len(logins))
		q := url.Values{}
		for _, l := range logins[start:end] {
			q.Add("login", strings.ToLower(l))
		}
		var data []User
		if err := hc.get(ctx, "users", q, &data); err != nil {
			return nil, err
		}
		for _, u := range data {
			out[strings.ToLower(u.Login)] = u.ID
		}
	}
	return out, nil
}
