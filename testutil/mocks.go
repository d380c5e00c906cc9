package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/onnwee/cliprelay/twitchapi"
)

// MockTwitchServer creates a test server that mocks the Twitch token endpoint and
// Helix clips, users and games lookups.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	hits  map[string]int
	clips map[string]map[string]any
	users []map[string]string
	games map[string]map[string]string
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
		clips:    make(map[string]map[string]any),
		games:    make(map[string]map[string]string),
	}
	m.Handlers["/helix/clips"] = m.serveClips
	m.Handlers["/helix/users"] = m.serveUsers
	m.Handlers["/helix/games"] = m.serveGames
	m.Handlers["/oauth2/token"] = tokenHandler("test-app-token", 3600)
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.hits[key]++
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Hits returns how many requests path has received.
func (m *MockTwitchServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

// HelixURL is the base URL to give a HelixClient.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// TokenURL is the token endpoint to give a TokenSource.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// HelixClient returns a client wired to the mock with app credentials cid/secret.
func (m *MockTwitchServer) HelixClient() *twitchapi.HelixClient {
	ts := &twitchapi.TokenSource{ClientID: "cid", ClientSecret: "secret", TokenURL: m.TokenURL(), HTTPClient: m.Client()}
	return &twitchapi.HelixClient{AppTokenSource: ts, ClientID: "cid", BaseURL: m.HelixURL(), HTTPClient: m.Client()}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers["/oauth2/token"] = tokenHandler(accessToken, expiresIn)
}

func tokenHandler(accessToken string, expiresIn int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}
}

// AddClip registers a clip served by /helix/clips. gameID may be empty.
func (m *MockTwitchServer) AddClip(id, title, broadcasterID, creatorID, gameID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clips[id] = map[string]any{
		"id":             id,
		"url":            "https://clips.twitch.tv/" + id,
		"title":          title,
		"broadcaster_id": broadcasterID,
		"creator_id":     creatorID,
		"game_id":        gameID,
		"created_at":     "2024-05-01T12:00:00Z",
	}
}

// AddUser registers a user served by /helix/users, looked up by id or login.
func (m *MockTwitchServer) AddUser(id, login, displayName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, map[string]string{
		"id":                id,
		"login":             login,
		"display_name":      displayName,
		"profile_image_url": "https://static-cdn.jtvnw.net/" + login + ".png",
	})
}

// AddGame registers a game served by /helix/games.
func (m *MockTwitchServer) AddGame(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[id] = map[string]string{
		"id":          id,
		"name":        name,
		"box_art_url": "https://static-cdn.jtvnw.net/ttv-boxart/" + id + "-{width}x{height}.jpg",
	}
}

func (m *MockTwitchServer) serveClips(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := []map[string]any{}
	if c, ok := m.clips[r.URL.Query().Get("id")]; ok {
		data = append(data, c)
	}
	writeJSON(w, map[string]any{"data": data})
}

func (m *MockTwitchServer) serveUsers(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := r.URL.Query()
	ids, logins := map[string]bool{}, map[string]bool{}
	for _, id := range q["id"] {
		ids[id] = true
	}
	for _, l := range q["login"] {
		logins[strings.ToLower(l)] = true
	}
	data := []map[string]string{}
	for _, u := range m.users {
		if ids[u["id"]] || logins[u["login"]] {
			data = append(data, u)
		}
	}
	writeJSON(w, map[string]any{"data": data})
}

func (m *MockTwitchServer) serveGames(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := []map[string]string{}
	if g, ok := m.games[r.URL.Query().Get("id")]; ok {
		data = append(data, g)
	}
	writeJSON(w, map[string]any{"data": data})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
