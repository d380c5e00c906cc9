package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/cliprelay/config"
	"github.com/onnwee/cliprelay/routing"
)

type destinationView struct {
	ID           string             `json:"id"`
	Channels     []string           `json:"channels"`
	Presentation string             `json:"presentation"`
	Permissions  config.Permissions `json:"permissions"`
	DisplayName  string             `json:"display_name,omitempty"`
}

// Webhook URLs embed their secret, so they never leave the process.
func destinationViews(routes []routing.Route) []destinationView {
	out := make([]destinationView, 0, len(routes))
	for _, r := range routes {
		d := r.Destination
		out = append(out, destinationView{
			ID:           d.ID,
			Channels:     d.Channels,
			Presentation: string(d.Presentation),
			Permissions:  d.Permissions,
			DisplayName:  d.DisplayName,
		})
	}
	return out
}

// HandleConfig returns the effective configuration with secrets removed.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{"destinations": destinationViews(h.routes)}
	if c := h.cfg; c != nil {
		resp["log_level"] = c.LogLevel
		resp["log_format"] = c.LogFormat
		resp["http_addr"] = c.HTTPAddr
		resp["event_buffer"] = c.EventBuffer
		resp["max_concurrent_deliveries"] = c.MaxConcurrentDeliveries
		resp["http_timeout"] = c.HTTPTimeout.String()
		resp["twitch_app_credentials"] = c.HasAppCredentials()
		resp["twitch_bot_username"] = c.TwitchBotUsername
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStatus returns a lightweight summary of the relay.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"metadata_mode": h.mode,
		"destinations":  destinationViews(h.routes),
		"channels":      routing.Channels(h.routes),
	}
	if h.pipeline != nil {
		resp["pipeline_started"] = h.pipeline.Started()
		resp["active_deliveries"] = h.pipeline.ActiveDeliveries()
		resp["max_concurrent_deliveries"] = h.pipeline.MaxConcurrentDeliveries()
	}
	if n, err := h.store.Count(r.Context()); err != nil {
		slog.Warn("failed to count posted clips", slog.Any("err", err), slog.String("component", "http"))
	} else {
		resp["posted_clips"] = n
	}
	writeJSON(w, http.StatusOK, resp)
}
