// Package clip finds Twitch clip links in chat text.
package clip

import (
	"net/url"
	"regexp"
	"strings"
)

// BaseURL is the canonical clip host used when a clip URL has to be constructed from an id.
const BaseURL = "https://clips.twitch.tv/"

var pattern = regexp.MustCompile(`(?i)(twitch\.tv/(.*/)?clip/)|(clips\.twitch\.tv/[\w-]+)`)

// Reference identifies a clip mentioned in a chat channel.
type Reference struct {
	ID      string
	Channel string
}

// URL returns the canonical clip URL.
func (r Reference) URL() string { return BaseURL + r.ID }

// Extract returns the clip referenced by the first matching token in text.
// Only the first clip link in a message is considered.
func Extract(channel, text string) (Reference, bool) {
	for _, tok := range strings.Fields(text) {
		if !pattern.MatchString(tok) {
			continue
		}
		id := idFromToken(tok)
		if id == "" {
			return Reference{}, false
		}
		return Reference{ID: id, Channel: channel}, true
	}
	return Reference{}, false
}

func idFromToken(tok string) string {
	raw := tok
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host != "twitch.tv" && !strings.HasSuffix(host, ".twitch.tv") {
		return ""
	}
	if c := u.Query().Get("clip"); c != "" && host == "clips.twitch.tv" {
		return c
	}
	segs := strings.Split(u.Path, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] != "" {
			if strings.EqualFold(segs[i], "clip") || (strings.EqualFold(segs[i], "embed") && host == "clips.twitch.tv") {
				return ""
			}
			return segs[i]
		}
	}
	return ""
}
