package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/onnwee/cliprelay/discord"
)

// WebhookPost is one request received by a WebhookRecorder.
type WebhookPost struct {
	Path    string
	Message discord.Message
}

// WebhookRecorder is a fake Discord webhook endpoint. It answers 204 unless Status says
// otherwise.
type WebhookRecorder struct {
	*httptest.Server

	mu    sync.Mutex
	posts []WebhookPost
	// Status picks the response code for the n-th request (0-based).
	Status func(n int) int
}

// NewWebhookRecorder starts a recorder that is closed with the test.
func NewWebhookRecorder(t *testing.T) *WebhookRecorder {
	t.Helper()
	rec := &WebhookRecorder{}
	rec.Server = httptest.NewServer(http.HandlerFunc(rec.serve))
	t.Cleanup(rec.Close)
	return rec
}

// Hook returns a webhook URL on the recorder for name.
func (rec *WebhookRecorder) Hook(name string) string {
	return rec.URL + "/api/webhooks/" + name
}

// Posts returns a copy of the requests received so far.
func (rec *WebhookRecorder) Posts() []WebhookPost {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]WebhookPost(nil), rec.posts...)
}

func (rec *WebhookRecorder) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var msg discord.Message
	if err := json.Unmarshal(body, &msg); err != nil || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rec.mu.Lock()
	n := len(rec.posts)
	rec.posts = append(rec.posts, WebhookPost{Path: r.URL.Path, Message: msg})
	status := http.StatusNoContent
	if rec.Status != nil {
		status = rec.Status(n)
	}
	rec.mu.Unlock()
	w.WriteHeader(status)
}
