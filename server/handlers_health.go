package server

import (
	"encoding/json"
	"errors"
	"net/http"
)

type readinessCheck struct {
	name string
	run  func(r *http.Request) error
}

func (h *Handlers) readinessChecks() []readinessCheck {
	return []readinessCheck{
		{"database", func(r *http.Request) error { return h.db.PingContext(r.Context()) }},
		{"posted_clips", func(r *http.Request) error {
			_, err := h.store.Count(r.Context())
			return err
		}},
		{"pipeline", func(*http.Request) error {
			if h.pipeline == nil || !h.pipeline.Started() {
				return errors.New("relay pipeline not started")
			}
			return nil
		}},
	}
}

// HandleHealthz is the liveness probe: the process is up and the database answers.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the store answers and the pipeline is consuming chat.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	for _, c := range h.readinessChecks() {
		if err := c.run(r); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": c.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
