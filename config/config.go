// Package config loads the relay configuration and provides the typed, immutable Config used across the service.
// Values come from an optional YAML file, then CLIPRELAY_ prefixed environment overrides, then the legacy
// single-destination environment variables. Sensible defaults are applied so the binary runs locally with
// nothing more than a webhook URL and a channel.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides. A double underscore separates levels:
// CLIPRELAY_TWITCH__CLIENT_ID sets twitch.client_id.
const EnvPrefix = "CLIPRELAY_"

const (
	DefaultDBDsn                   = "cliprelay.db"
	DefaultHTTPAddr                = ":8080"
	DefaultEventBuffer             = 256
	DefaultMaxConcurrentDeliveries = 8
	DefaultHTTPTimeout             = 10 * time.Second
)

// Presentation selects how a destination renders a clip notice.
type Presentation string

const (
	PresentationPlain     Presentation = "plain"
	PresentationRichEmbed Presentation = "rich_embed"
)

func parsePresentation(s string) (Presentation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "plain", "text":
		return PresentationPlain, nil
	case "rich_embed", "rich", "embed":
		return PresentationRichEmbed, nil
	default:
		return "", fmt.Errorf("unknown presentation %q", s)
	}
}

// Permissions decides which chatters may trigger a relay to a destination.
type Permissions struct {
	AllowEveryone    bool `json:"allow_everyone"`
	AllowSubscribers bool `json:"allow_subscribers"`
	AllowMods        bool `json:"allow_mods"`
	AllowBroadcaster bool `json:"allow_broadcaster"`
	// WatchedBroadcastersOnly drops clips whose broadcaster is not one of the destination's channels.
	WatchedBroadcastersOnly bool `json:"watched_broadcasters_only"`
}

// DefaultPermissions allows everyone and restricts clips to watched broadcasters.
func DefaultPermissions() Permissions {
	return Permissions{AllowEveryone: true, WatchedBroadcastersOnly: true}
}

// Destination is one configured webhook target.
type Destination struct {
	ID           string
	WebhookURL   string
	Channels     []string
	Permissions  Permissions
	Presentation Presentation
	DisplayName  string
	AvatarURL    string
}

// Watches reports whether channel is one of the destination's channels (case-insensitive).
func (d Destination) Watches(channel string) bool {
	return slices.Contains(d.Channels, normalizeChannel(channel))
}

type Config struct {
	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Storage
	DBDsn string

	// HTTP
	HTTPAddr string
	// HTTPAdminToken guards /config; empty leaves it open.
	HTTPAdminToken string

	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	TwitchBotUsername  string
	TwitchOAuthToken   string

	// Relay
	EventBuffer             int
	MaxConcurrentDeliveries int
	HTTPTimeout             time.Duration

	Destinations []Destination
}

// HasAppCredentials reports whether Helix app credentials are configured.
func (c *Config) HasAppCredentials() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != ""
}

// Channels returns the sorted union of every destination's channels.
func (c *Config) Channels() []string {
	var out []string
	for _, d := range c.Destinations {
		for _, ch := range d.Channels {
			if !slices.Contains(out, ch) {
				out = append(out, ch)
			}
		}
	}
	slices.Sort(out)
	return out
}

// Validate checks the destination list.
func (c *Config) Validate() error {
	if len(c.Destinations) == 0 {
		return errors.New("no destinations configured: add destinations to the config file or set DISCORD_WEBHOOK_URL")
	}
	seen := make(map[string]bool, len(c.Destinations))
	var errs []error
	for i, d := range c.Destinations {
		if d.WebhookURL == "" {
			errs = append(errs, fmt.Errorf("destination %d: webhook_url is required", i))
		} else if u, err := url.Parse(d.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("destination %d: invalid webhook_url", i))
		}
		if len(d.Channels) == 0 {
			errs = append(errs, fmt.Errorf("destination %d (%s): at least one channel is required", i, d.ID))
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("destination %d: duplicate id %q", i, d.ID))
		}
		seen[d.ID] = true
	}
	return errors.Join(errs...)
}

// Load reads path (optional, "" skips the file), applies environment overrides and defaults.
// It doesn't validate; call Validate before starting the relay.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	envKey := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	var raw fileConfig
	if err := k.Unmarshal("", &raw); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyLegacyEnv(&raw)
	return raw.build()
}

type fileConfig struct {
	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
		File   string `koanf:"file"`
	} `koanf:"log"`
	DB struct {
		DSN string `koanf:"dsn"`
	} `koanf:"db"`
	HTTP struct {
		Addr       string `koanf:"addr"`
		AdminToken string `koanf:"admin_token"`
	} `koanf:"http"`
	Twitch struct {
		ClientID     string `koanf:"client_id"`
		ClientSecret string `koanf:"client_secret"`
		BotUsername  string `koanf:"bot_username"`
		OAuthToken   string `koanf:"oauth_token"`
	} `koanf:"twitch"`
	Relay struct {
		EventBuffer             int           `koanf:"event_buffer"`
		MaxConcurrentDeliveries int           `koanf:"max_concurrent_deliveries"`
		HTTPTimeout             time.Duration `koanf:"http_timeout"`
	} `koanf:"relay"`
	Defaults     fileDefaults      `koanf:"defaults"`
	Destinations []fileDestination `koanf:"destinations"`
}

type fileDefaults struct {
	Permissions  *filePermissions `koanf:"permissions"`
	Presentation string           `koanf:"presentation"`
	BotUsername  string           `koanf:"bot_username"`
	AvatarURL    string           `koanf:"avatar_url"`
}

type fileDestination struct {
	ID           string           `koanf:"id"`
	WebhookURL   string           `koanf:"webhook_url"`
	Channels     []string         `koanf:"channels"`
	Permissions  *filePermissions `koanf:"permissions"`
	Presentation string           `koanf:"presentation"`
	BotUsername  string           `koanf:"bot_username"`
	AvatarURL    string           `koanf:"avatar_url"`
}

type filePermissions struct {
	AllowEveryone           *bool `koanf:"allow_everyone"`
	AllowSubscribers        *bool `koanf:"allow_subscribers"`
	AllowMods               *bool `koanf:"allow_mods"`
	AllowBroadcaster        *bool `koanf:"allow_broadcaster"`
	WatchedBroadcastersOnly *bool `koanf:"watched_broadcasters_only"`
}

// resolve overlays p onto base. When a block is present, unset allow_* flags are false so that a
// destination listing only allow_mods does not inherit allow_everyone; the broadcaster restriction
// keeps the base value unless set.
func (p *filePermissions) resolve(base Permissions) Permissions {
	if p == nil {
		return base
	}
	out := Permissions{WatchedBroadcastersOnly: base.WatchedBroadcastersOnly}
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&out.AllowEveryone, p.AllowEveryone)
	set(&out.AllowSubscribers, p.AllowSubscribers)
	set(&out.AllowMods, p.AllowMods)
	set(&out.AllowBroadcaster, p.AllowBroadcaster)
	set(&out.WatchedBroadcastersOnly, p.WatchedBroadcastersOnly)
	return out
}

func (raw *fileConfig) build() (*Config, error) {
	cfg := &Config{
		LogLevel:                strings.ToLower(raw.Log.Level),
		LogFormat:               strings.ToLower(raw.Log.Format),
		LogFile:                 raw.Log.File,
		DBDsn:                   raw.DB.DSN,
		HTTPAddr:                raw.HTTP.Addr,
		HTTPAdminToken:          raw.HTTP.AdminToken,
		TwitchClientID:          raw.Twitch.ClientID,
		TwitchClientSecret:      raw.Twitch.ClientSecret,
		TwitchBotUsername:       strings.ToLower(strings.TrimSpace(raw.Twitch.BotUsername)),
		TwitchOAuthToken:        raw.Twitch.OAuthToken,
		EventBuffer:             raw.Relay.EventBuffer,
		MaxConcurrentDeliveries: raw.Relay.MaxConcurrentDeliveries,
		HTTPTimeout:             raw.Relay.HTTPTimeout,
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.DBDsn == "" {
		cfg.DBDsn = DefaultDBDsn
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.MaxConcurrentDeliveries <= 0 {
		cfg.MaxConcurrentDeliveries = DefaultMaxConcurrentDeliveries
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}

	defPerms := raw.Defaults.Permissions.resolve(DefaultPermissions())
	defPresentation, err := parsePresentation(raw.Defaults.Presentation)
	if err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}

	for i, fd := range raw.Destinations {
		d := Destination{
			ID:          strings.TrimSpace(fd.ID),
			WebhookURL:  strings.TrimSpace(fd.WebhookURL),
			Channels:    normalizeChannels(fd.Channels),
			Permissions: fd.Permissions.resolve(defPerms),
			DisplayName: firstNonEmpty(fd.BotUsername, raw.Defaults.BotUsername),
			AvatarURL:   firstNonEmpty(fd.AvatarURL, raw.Defaults.AvatarURL),
		}
		d.Presentation = defPresentation
		if fd.Presentation != "" {
			if d.Presentation, err = parsePresentation(fd.Presentation); err != nil {
				return nil, fmt.Errorf("destination %d: %w", i, err)
			}
		}
		if d.ID == "" && d.WebhookURL != "" {
			d.ID = DestinationID(d.WebhookURL)
		}
		cfg.Destinations = append(cfg.Destinations, d)
	}
	return cfg, nil
}

// DestinationID derives a stable id from a webhook URL without storing the URL (and its token) itself.
func DestinationID(webhookURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(webhookURL)).String()
}

// applyLegacyEnv fills unset values from plain environment variables (LOG_LEVEL, DB_DSN,
// TWITCH_CLIENT_ID, ...) and, when no destinations are configured, synthesizes a single
// destination from DISCORD_WEBHOOK_URL and its companion variables.
func applyLegacyEnv(raw *fileConfig) {
	fill := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	fill(&raw.Log.Level, "LOG_LEVEL")
	fill(&raw.Log.Format, "LOG_FORMAT")
	fill(&raw.Log.File, "LOG_FILE")
	fill(&raw.DB.DSN, "DB_DSN", "DB_FILE")
	fill(&raw.HTTP.Addr, "HTTP_ADDR")
	fill(&raw.HTTP.AdminToken, "ADMIN_TOKEN")
	fill(&raw.Twitch.ClientID, "TWITCH_CLIENT_ID")
	fill(&raw.Twitch.ClientSecret, "TWITCH_CLIENT_SECRET")
	fill(&raw.Twitch.BotUsername, "TWITCH_BOT_USERNAME")
	fill(&raw.Twitch.OAuthToken, "TWITCH_OAUTH_TOKEN")

	webhook := os.Getenv("DISCORD_WEBHOOK_URL")
	if len(raw.Destinations) > 0 || webhook == "" {
		return
	}
	d := fileDestination{
		WebhookURL:  webhook,
		Channels:    strings.Fields(os.Getenv("TWITCH_CHANNELS")),
		BotUsername: os.Getenv("BOT_USERNAME"),
		AvatarURL:   os.Getenv("URL_AVATAR"),
	}
	if envBool("RICH_EMBED") {
		d.Presentation = string(PresentationRichEmbed)
	}
	broadcaster, mods, subs := envBool("BROADCASTER_ONLY"), envBool("MODS_ONLY"), envBool("SUBS_ONLY")
	restrict := true
	if v := os.Getenv("RESTRICT_CHANNELS"); v != "" {
		restrict = v == "true"
	}
	everyone := !broadcaster && !mods && !subs
	// MODS_ONLY always let the broadcaster through as well.
	allowBroadcaster := broadcaster || mods
	d.Permissions = &filePermissions{
		AllowEveryone:           &everyone,
		AllowSubscribers:        &subs,
		AllowMods:               &mods,
		AllowBroadcaster:        &allowBroadcaster,
		WatchedBroadcastersOnly: &restrict,
	}
	raw.Destinations = []fileDestination{d}
}

func envBool(key string) bool { return os.Getenv(key) == "true" }

func normalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}

func normalizeChannels(in []string) []string {
	out := make([]string, 0, len(in))
	for _, ch := range in {
		ch = normalizeChannel(ch)
		if ch != "" && !slices.Contains(out, ch) {
			out = append(out, ch)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
