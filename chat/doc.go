// Package chat connects to Twitch IRC and turns chat messages into Events.
//
// The Listener joins the watched channels and pushes one Event per PRIVMSG into a bounded
// channel. When the channel is full the IRC reader blocks, so a slow relay applies
// backpressure instead of growing memory.
//
// Credentials: with a bot username and an OAuth token (chat:read scope) the client logs in as
// the bot, and the bot's own messages are flagged as Echo. Without them the client connects
// anonymously (read-only) and echo detection is disabled.
package chat
