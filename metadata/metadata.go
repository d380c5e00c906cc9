// Package metadata turns a clip reference into the details needed to announce it.
//
// With Twitch app credentials the resolver enriches clips through Helix (authenticated mode).
// Without them, or when the startup token exchange fails, it synthesizes metadata from the
// chat message alone (fallback mode).
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/cliprelay/clip"
	"github.com/onnwee/cliprelay/telemetry"
	"github.com/onnwee/cliprelay/twitchapi"
)

// ErrClipNotFound is returned when Helix has no clip for the referenced id.
var ErrClipNotFound = errors.New("clip not found")

// Mode is the resolver's enrichment capability.
type Mode int

const (
	ModeFallback Mode = iota
	ModeAuthenticated
)

func (m Mode) String() string {
	if m == ModeAuthenticated {
		return "authenticated"
	}
	return "fallback"
}

type User struct {
	ID              string
	Login           string
	DisplayName     string
	ProfileImageURL string
}

type Game struct {
	ID        string
	Name      string
	BoxArtURL string
}

// Clip is everything the message builder knows about a clip.
type Clip struct {
	ID            string
	URL           string
	Title         string
	CreatedAt     time.Time
	BroadcasterID string
	CreatorID     string
	GameID        string

	Creator     *User
	Broadcaster *User
	Game        *Game

	// Poster is the chat display name of whoever linked the clip.
	Poster string
	// Synthesized is set in fallback mode: Creator and Broadcaster carry the poster's name.
	Synthesized bool
}

// Enriched reports whether Helix supplied both creator and broadcaster.
func (c *Clip) Enriched() bool {
	return c != nil && !c.Synthesized && c.Creator != nil && c.Broadcaster != nil
}

// Helix is the subset of the Helix client the resolver needs.
type Helix interface {
	GetClip(ctx context.Context, id string) (*twitchapi.Clip, error)
	GetUser(ctx context.Context, id string) (*twitchapi.User, error)
	GetGame(ctx context.Context, id string) (*twitchapi.Game, error)
	GetUserIDs(ctx context.Context, logins []string) (map[string]string, error)
}

// Resolver fetches clip metadata. A Resolver with a nil Helix runs in fallback mode.
type Resolver struct {
	helix Helix
}

// NewResolver returns an authenticated resolver, or a fallback one when h is nil.
func NewResolver(h Helix) *Resolver { return &Resolver{helix: h} }

// Connect exchanges the app credentials for a token and returns an authenticated resolver.
// Missing credentials or a rejected exchange yield a fallback resolver; the failure is logged
// here and nowhere else.
func Connect(ctx context.Context, clientID, clientSecret, baseURL string, hc *http.Client) *Resolver {
	logger := slog.Default().With(slog.String("component", "metadata"))
	if clientID == "" || clientSecret == "" {
		logger.Info("twitch app credentials not configured, clip metadata in fallback mode")
		return NewResolver(nil)
	}
	ts := &twitchapi.TokenSource{ClientID: clientID, ClientSecret: clientSecret, HTTPClient: hc}
	tok, err := ts.Get(ctx)
	if err != nil {
		logger.Warn("twitch app token exchange failed, clip metadata in fallback mode", slog.Any("err", err))
		return NewResolver(nil)
	}
	if len(tok) > 6 {
		logger.Info("twitch app token acquired", slog.String("tail", "***"+tok[len(tok)-6:]))
	}
	return NewResolver(&twitchapi.HelixClient{
		AppTokenSource: ts,
		ClientID:       clientID,
		BaseURL:        baseURL,
		HTTPClient:     hc,
	})
}

// Mode reports whether the resolver can enrich clips.
func (r *Resolver) Mode() Mode {
	if r.helix == nil {
		return ModeFallback
	}
	return ModeAuthenticated
}

// Resolve returns metadata for ref. poster is the chat display name of the message author.
// In authenticated mode a failed lookup aborts the whole resolution; a missing user or game
// is tolerated and left nil.
func (r *Resolver) Resolve(ctx context.Context, ref clip.Reference, poster string) (*Clip, error) {
	if r.helix == nil {
		u := &User{DisplayName: poster}
		return &Clip{
			ID:          ref.ID,
			URL:         ref.URL(),
			Poster:      poster,
			Creator:     u,
			Broadcaster: u,
			Synthesized: true,
		}, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "metadata", "Resolve")
	defer span.End()

	hc, err := r.helix.GetClip(ctx, ref.ID)
	if err != nil {
		if errors.Is(err, twitchapi.ErrNotFound) {
			err = fmt.Errorf("%s: %w", ref.ID, ErrClipNotFound)
		}
		telemetry.RecordError(span, err)
		return nil, err
	}

	out := &Clip{
		ID:            hc.ID,
		URL:           hc.URL,
		Title:         strings.TrimSpace(hc.Title),
		CreatedAt:     hc.CreatedAt,
		BroadcasterID: hc.BroadcasterID,
		CreatorID:     hc.CreatorID,
		GameID:        hc.GameID,
		Poster:        poster,
	}
	if out.ID == "" {
		out.ID = ref.ID
	}
	if out.URL == "" {
		out.URL = ref.URL()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Creator, err = r.user(gctx, hc.CreatorID)
		return err
	})
	g.Go(func() (err error) {
		out.Broadcaster, err = r.user(gctx, hc.BroadcasterID)
		return err
	})
	if hc.GameID != "" {
		g.Go(func() error {
			game, err := r.helix.GetGame(gctx, hc.GameID)
			switch {
			case errors.Is(err, twitchapi.ErrNotFound):
				return nil
			case err != nil:
				return fmt.Errorf("game %s: %w", hc.GameID, err)
			}
			out.Game = &Game{ID: game.ID, Name: game.Name, BoxArtURL: game.BoxArtURL}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetSpanSuccess(span)
	return out, nil
}

func (r *Resolver) user(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, nil
	}
	u, err := r.helix.GetUser(ctx, id)
	if errors.Is(err, twitchapi.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}
	return &User{ID: u.ID, Login: u.Login, DisplayName: u.DisplayName, ProfileImageURL: u.ProfileImageURL}, nil
}

// ResolveChannelIDs maps channel logins to broadcaster ids. Channels Helix doesn't know are
// absent from the result. In fallback mode it returns nil.
func (r *Resolver) ResolveChannelIDs(ctx context.Context, channels []string) (map[string]string, error) {
	if r.helix == nil || len(channels) == 0 {
		return nil, nil
	}
	ids, err := r.helix.GetUserIDs(ctx, channels)
	if err != nil {
		return nil, fmt.Errorf("resolve channel ids: %w", err)
	}
	return ids, nil
}
