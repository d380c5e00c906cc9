package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// seededTokens returns a token source that never hits the network.
func seededTokens() *TokenSource {
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret"}
	ts.token = "test-token"
	ts.expiresAt = time.Now().Add(1 * time.Hour)
	return ts
}

func newTestHelix(t *testing.T, h http.HandlerFunc) *HelixClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Client-Id") != "test-client-id" {
			t.Errorf("missing or wrong Client-Id header")
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing or wrong Authorization header")
		}
		h(w, r)
	}))
	t.Cleanup(server.Close)
	return &HelixClient{AppTokenSource: seededTokens(), ClientID: "test-client-id", BaseURL: server.URL}
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func TestHelixClient_GetClip(t *testing.T) {
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clips" {
			t.Errorf("path = %s, want /clips", r.URL.Path)
		}
		switch r.URL.Query().Get("id") {
		case "Found":
			writeData(w, []map[string]any{{
				"id": "Found", "url": "https://clips.twitch.tv/Found", "broadcaster_id": "1",
				"creator_id": "2", "game_id": "3", "title": "  nice  ", "created_at": "2024-01-01T10:00:00Z",
			}})
		case "Boom":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("upstream down"))
		default:
			writeData(w, []any{})
		}
	})

	c, err := hc.GetClip(context.Background(), "Found")
	if err != nil {
		t.Fatalf("GetClip() error = %v", err)
	}
	if c.BroadcasterID != "1" || c.CreatorID != "2" || c.GameID != "3" || c.Title != "  nice  " {
		t.Errorf("GetClip() = %+v", c)
	}
	if !c.CreatedAt.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", c.CreatedAt)
	}

	if _, err := hc.GetClip(context.Background(), "Missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetClip(missing) error = %v, want ErrNotFound", err)
	}

	_, err = hc.GetClip(context.Background(), "Boom")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Errorf("GetClip(boom) error = %v, want StatusError 500", err)
	}

	if _, err := hc.GetClip(context.Background(), ""); err == nil {
		t.Error("GetClip(\"\") should fail")
	}
}

func TestHelixClient_GetUserAndGame(t *testing.T) {
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users":
			if r.URL.Query().Get("id") == "42" {
				writeData(w, []map[string]string{{"id": "42", "login": "someone", "display_name": "SomeOne", "profile_image_url": "https://img/p.png"}})
				return
			}
		case "/games":
			if r.URL.Query().Get("id") == "7" {
				writeData(w, []map[string]string{{"id": "7", "name": "Chess", "box_art_url": "https://img/{width}x{height}.jpg"}})
				return
			}
		}
		writeData(w, []any{})
	})
	ctx := context.Background()

	u, err := hc.GetUser(ctx, "42")
	if err != nil || u.DisplayName != "SomeOne" || u.Login != "someone" || u.ProfileImageURL != "https://img/p.png" {
		t.Errorf("GetUser() = %+v, %v", u, err)
	}
	if _, err := hc.GetUser(ctx, "43"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser(missing) error = %v, want ErrNotFound", err)
	}
	g, err := hc.GetGame(ctx, "7")
	if err != nil || g.Name != "Chess" {
		t.Errorf("GetGame() = %+v, %v", g, err)
	}
	if _, err := hc.GetGame(ctx, "8"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetGame(missing) error = %v, want ErrNotFound", err)
	}
}

func TestHelixClient_GetUserIDsBatches(t *testing.T) {
	var requests atomic.Int32
	hc := newTestHelix(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		logins := r.URL.Query()["login"]
		if len(logins) > maxLoginsPerRequest {
			t.Errorf("batch of %d logins exceeds limit", len(logins))
		}
		var data []map[string]string
		for _, l := range logins {
			if strings.HasPrefix(l, "gone") {
				continue
			}
			data = append(data, map[string]string{"id": "id-" + l, "login": l})
		}
		writeData(w, data)
	})

	logins := make([]string, 0, 150)
	for i := 0; i < 149; i++ {
		logins = append(logins, fmt.Sprintf("User%d", i))
	}
	logins = append(logins, "gone_user")

	ids, err := hc.GetUserIDs(context.Background(), logins)
	if err != nil {
		t.Fatalf("GetUserIDs() error = %v", err)
	}
	if requests.Load() != 2 {
		t.Errorf("requests = %d, want 2", requests.Load())
	}
	if len(ids) != 149 {
		t.Errorf("len(ids) = %d, want 149", len(ids))
	}
	if ids["user0"] != "id-user0" {
		t.Errorf("ids[user0] = %q", ids["user0"])
	}
	if _, ok := ids["gone_user"]; ok {
		t.Error("unresolved login should be absent")
	}
}

func TestHelixClient_GetUserIDsDefaultBase(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/users" {
			t.Errorf("path = %s, want /helix/users", r.URL.Path)
		}
		var data []map[string]string
		for _, l := range r.URL.Query()["login"] {
			if l == "testuser" {
				data = append(data, map[string]string{"id": "12345", "login": "TestUser"})
			}
		}
		writeData(w, data)
	}))
	defer server.Close()

	// Default base URL, redirected to the test server.
	client := &HelixClient{
		AppTokenSource: seededTokens(),
		ClientID:       "test-client-id",
		HTTPClient: &http.Client{
			Transport: &rewriteTransport{Transport: http.DefaultTransport, host: server.URL},
		},
	}

	tests := []struct {
		name   string
		logins []string
		want   map[string]string
	}{
		{"known login", []string{"TestUser"}, map[string]string{"testuser": "12345"}},
		{"unknown login", []string{"nonexistent"}, map[string]string{}},
		{"no logins", nil, map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.GetUserIDs(context.Background(), tt.logins)
			if err != nil {
				t.Fatalf("GetUserIDs() unexpected error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("GetUserIDs() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("GetUserIDs()[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestHelixClient_TokenFailure(t *testing.T) {
	hc := &HelixClient{AppTokenSource: &TokenSource{}, ClientID: "x", BaseURL: "http://127.0.0.1:0"}
	if _, err := hc.GetClip(context.Background(), "abc"); err == nil {
		t.Error("GetClip() should fail when no token can be obtained")
	}
}

type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Rewrite URL to point to test server
	req.URL.Scheme = "http"
	if t.host != "" {
		host := strings.TrimPrefix(t.host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
