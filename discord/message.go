// Package discord renders clip notices as Discord webhook payloads and posts them.
package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/cliprelay/clip"
	"github.com/onnwee/cliprelay/config"
	"github.com/onnwee/cliprelay/metadata"
)

// EmbedColor is the accent color of rich clip embeds (Twitch purple).
const EmbedColor = 9442302

const channelURL = "https://www.twitch.tv/"

// Message is a webhook execute payload.
type Message struct {
	Content   string  `json:"content,omitempty"`
	Embeds    []Embed `json:"embeds,omitempty"`
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
}

type Embed struct {
	Title     string          `json:"title,omitempty"`
	URL       string          `json:"url,omitempty"`
	Color     int             `json:"color,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Thumbnail *EmbedThumbnail `json:"thumbnail,omitempty"`
	Author    *EmbedAuthor    `json:"author,omitempty"`
	Fields    []EmbedField    `json:"fields,omitempty"`
}

type EmbedThumbnail struct {
	URL string `json:"url"`
}

type EmbedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Branding is the webhook identity a destination posts as.
type Branding struct {
	Username  string
	AvatarURL string
}

// Outbound is what gets sent for one clip to one destination. When Preview is set it must be
// delivered, and accepted, before Body.
type Outbound struct {
	Preview *Message
	Body    Message
}

// TwoPhase reports whether the outbound needs a preview post first.
func (o Outbound) TwoPhase() bool { return o.Preview != nil }

// Build renders md for a destination. Without full creator and broadcaster details the
// notice degrades to a one-line mention of the poster, whatever the presentation.
func Build(md *metadata.Clip, pres config.Presentation, b Branding) Outbound {
	brand := func(m Message) Message {
		m.Username = b.Username
		m.AvatarURL = b.AvatarURL
		return m
	}

	if !md.Enriched() {
		return Outbound{Body: brand(Message{Content: minimal(md)})}
	}

	link := fmt.Sprintf("[%s](%s)", md.Title, md.URL)
	if pres != config.PresentationRichEmbed {
		var sb strings.Builder
		sb.WriteString(link)
		// asterisks and underscores are Discord markdown
		fmt.Fprintf(&sb, "\n\n*%s* created a clip of *%s*", md.Creator.DisplayName, md.Broadcaster.DisplayName)
		if md.Game != nil && md.Game.Name != "" {
			fmt.Fprintf(&sb, " playing __%s__", md.Game.Name)
		}
		return Outbound{Body: brand(Message{Content: sb.String()})}
	}

	preview := brand(Message{Content: link})
	return Outbound{Preview: &preview, Body: brand(Message{Embeds: []Embed{richEmbed(md)}})}
}

func minimal(md *metadata.Clip) string {
	return fmt.Sprintf("**%s** posted a clip: %s%s", md.Poster, clip.BaseURL, md.ID)
}

func richEmbed(md *metadata.Clip) Embed {
	e := Embed{
		Title: md.Title,
		URL:   md.URL,
		Color: EmbedColor,
		Author: &EmbedAuthor{
			Name:    md.Creator.DisplayName,
			URL:     channelURL + md.Creator.Login,
			IconURL: md.Creator.ProfileImageURL,
		},
		Fields: []EmbedField{{
			Name:   "Channel",
			Value:  fmt.Sprintf("[%s](%s%s)", md.Broadcaster.DisplayName, channelURL, md.Broadcaster.Login),
			Inline: true,
		}},
	}
	if !md.CreatedAt.IsZero() {
		e.Timestamp = md.CreatedAt.UTC().Format(time.RFC3339)
	}
	if g := md.Game; g != nil {
		if g.BoxArtURL != "" {
			art := strings.NewReplacer("{width}", "80", "{height}", "80").Replace(g.BoxArtURL)
			e.Thumbnail = &EmbedThumbnail{URL: art}
		}
		if g.Name != "" {
			e.Fields = append(e.Fields, EmbedField{Name: "Game", Value: g.Name, Inline: true})
		}
	}
	return e
}
