// Package routing decides which destinations a chat event may be relayed to.
package routing

import (
	"log/slog"

	"github.com/onnwee/cliprelay/chat"
	"github.com/onnwee/cliprelay/config"
)

// Route is a destination plus the broadcaster ids of its watched channels.
type Route struct {
	Destination config.Destination
	// broadcasters is nil when channel ids are unknown (fallback mode).
	broadcasters map[string]bool
}

// NewRoute builds a route; ids maps channel login to broadcaster id and may be nil.
func NewRoute(d config.Destination, ids map[string]string) Route {
	r := Route{Destination: d}
	if ids != nil {
		r.broadcasters = make(map[string]bool, len(d.Channels))
		for _, ch := range d.Channels {
			if id, ok := ids[ch]; ok {
				r.broadcasters[id] = true
			}
		}
	}
	return r
}

// AllowsBroadcaster applies the watched-broadcasters veto. It only rejects when the
// destination restricts broadcasters, the clip's broadcaster id is known, and the id isn't
// one of the destination's watched channels.
func (r Route) AllowsBroadcaster(broadcasterID string) bool {
	if !r.Destination.Permissions.WatchedBroadcastersOnly || r.broadcasters == nil || broadcasterID == "" {
		return true
	}
	return r.broadcasters[broadcasterID]
}

// Build turns destinations into routes. When authenticated, channels missing from ids are
// removed from every destination with a warning; a destination left without channels is
// kept but never matches.
func Build(dests []config.Destination, ids map[string]string, authenticated bool) []Route {
	routes := make([]Route, 0, len(dests))
	warned := map[string]bool{}
	for _, d := range dests {
		if authenticated {
			kept := make([]string, 0, len(d.Channels))
			for _, ch := range d.Channels {
				if _, ok := ids[ch]; ok {
					kept = append(kept, ch)
					continue
				}
				if !warned[ch] {
					slog.Warn("twitch channel could not be resolved; ignoring it",
						slog.String("channel", ch), slog.String("component", "routing"))
					warned[ch] = true
				}
			}
			d.Channels = kept
			routes = append(routes, NewRoute(d, ids))
			continue
		}
		routes = append(routes, NewRoute(d, nil))
	}
	return routes
}

// Channels returns the union of channels across routes, in first-seen order.
func Channels(routes []Route) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range routes {
		for _, ch := range r.Destination.Channels {
			if !seen[ch] {
				seen[ch] = true
				out = append(out, ch)
			}
		}
	}
	return out
}

// Permits reports whether a chatter with roles may trigger a relay under p.
func Permits(p config.Permissions, roles chat.Roles) bool {
	if p.AllowEveryone {
		return true
	}
	return (p.AllowSubscribers && roles.Subscriber) ||
		(p.AllowMods && roles.Moderator) ||
		(p.AllowBroadcaster && roles.Broadcaster)
}

// Denial is reported for a watching destination whose permissions reject the poster.
type Denial struct {
	Route Route
	Roles chat.Roles
}

// Eligible returns the routes that watch ev's channel and permit its author, in
// configuration order, plus the routes that watch the channel but deny the author.
func Eligible(ev chat.Event, routes []Route) (eligible []Route, denied []Denial) {
	for _, r := range routes {
		if !r.Destination.Watches(ev.Channel) {
			continue
		}
		if Permits(r.Destination.Permissions, ev.Roles) {
			eligible = append(eligible, r)
			continue
		}
		denied = append(denied, Denial{Route: r, Roles: ev.Roles})
		slog.Info("poster not permitted for destination",
			slog.String("destination", r.Destination.ID),
			slog.String("channel", ev.Channel),
			slog.String("user", ev.Sender),
			slog.Bool("broadcaster", ev.Roles.Broadcaster),
			slog.Bool("mod", ev.Roles.Moderator),
			slog.Bool("subscriber", ev.Roles.Subscriber),
			slog.String("component", "routing"))
	}
	return eligible, denied
}
