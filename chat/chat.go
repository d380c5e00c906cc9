package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Roles are the chat privileges of a message author.
type Roles struct {
	Broadcaster bool
	Moderator   bool
	Subscriber  bool
}

// Event is one chat message.
type Event struct {
	Channel     string
	Sender      string
	DisplayName string
	Text        string
	Roles       Roles
	// Echo marks messages sent by the relay's own bot account.
	Echo bool
}

// Listener reads Twitch chat for a fixed set of channels.
type Listener struct {
	client   *twitch.Client
	botName  string
	channels []string
	events   chan Event
}

// NewListener builds a listener. An empty botUsername or oauthToken connects anonymously.
// buffer bounds the event channel.
func NewListener(botUsername, oauthToken string, channels []string, buffer int) *Listener {
	if buffer <= 0 {
		buffer = 1
	}
	l := &Listener{
		botName:  strings.ToLower(botUsername),
		channels: channels,
		events:   make(chan Event, buffer),
	}
	if botUsername != "" && oauthToken != "" {
		if !strings.HasPrefix(oauthToken, "oauth:") {
			oauthToken = "oauth:" + oauthToken
		}
		l.client = twitch.NewClient(l.botName, oauthToken)
	} else {
		l.botName = ""
		l.client = twitch.NewAnonymousClient()
	}
	return l
}

// Events returns the channel the listener publishes to.
func (l *Listener) Events() <-chan Event { return l.events }

// Run connects and blocks until ctx is cancelled or the connection fails for good.
func (l *Listener) Run(ctx context.Context) error {
	logger := slog.Default().With(slog.String("component", "chat"))
	if len(l.channels) == 0 {
		logger.Warn("no channels to join; chat listener idle")
		<-ctx.Done()
		return nil
	}

	l.client.OnConnect(func() {
		logger.Info("connected to twitch chat", slog.Any("channels", l.channels), slog.Bool("anonymous", l.botName == ""))
	})
	l.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		ev := toEvent(msg, l.botName)
		select {
		case l.events <- ev:
		case <-ctx.Done():
		}
	})

	// Handle context cancellation by closing the client
	go func() {
		<-ctx.Done()
		if err := l.client.Disconnect(); err != nil {
			logger.Debug("twitch chat disconnect", slog.Any("err", err))
		}
	}()

	l.client.Join(l.channels...)
	err := l.client.Connect()
	if ctx.Err() != nil || errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	if err != nil {
		logger.Error("twitch chat connect error", slog.Any("err", err))
	}
	return err
}

func toEvent(msg twitch.PrivateMessage, botName string) Event {
	badges := msg.User.Badges
	ev := Event{
		Channel:     strings.ToLower(msg.Channel),
		Sender:      strings.ToLower(msg.User.Name),
		DisplayName: msg.User.DisplayName,
		Text:        msg.Message,
		Roles: Roles{
			Broadcaster: badges["broadcaster"] > 0 || strings.EqualFold(msg.User.Name, msg.Channel),
			Moderator:   badges["moderator"] > 0 || msg.Tags["mod"] == "1",
			Subscriber:  badges["subscriber"] > 0 || badges["founder"] > 0 || msg.Tags["subscriber"] == "1",
		},
	}
	if ev.DisplayName == "" {
		ev.DisplayName = msg.User.Name
	}
	ev.Echo = botName != "" && ev.Sender == botName
	return ev
}
