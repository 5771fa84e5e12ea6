// Package output implements the assistant's delivery sinks: the required
// voice channel (an interface only — TTS is an out-of-scope collaborator)
// and the optional Discord proactive-delivery sink that mirrors reminders
// the Proactive Poller surfaces, grounded on the teacher's Discord channel
// (pkg/devclaw/channels/discord/discord.go) trimmed to send-only.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordMessageLimit is Discord's hard per-message character cap.
const discordMessageLimit = 2000

// reminderSendTimeout bounds how long a reminder mirror attempt waits
// before giving up.
const reminderSendTimeout = 10 * time.Second

// DiscordSink mirrors proactive reminders to a single configured channel.
// Unlike the teacher's full Discord channel, it never receives messages —
// the companion's only inbound surface is the microphone.
type DiscordSink struct {
	channelID string
	logger    *slog.Logger
	session   *discordgo.Session
}

// NewDiscordSink connects a bot session and returns a sink bound to
// channelID. The caller is responsible for calling Close when done.
func NewDiscordSink(botToken, channelID string, logger *slog.Logger) (*DiscordSink, error) {
	if botToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord: creating session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: opening gateway: %w", err)
	}

	return &DiscordSink{
		channelID: channelID,
		logger:    logger.With("component", "discord_sink"),
		session:   session,
	}, nil
}

// Send delivers text to the configured channel, chunking it if it exceeds
// Discord's per-message character limit.
func (d *DiscordSink) Send(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, reminderSendTimeout)
	defer cancel()

	for _, chunk := range splitMessage(text, discordMessageLimit) {
		if ctx.Err() != nil {
			return fmt.Errorf("discord: send reminder: %w", ctx.Err())
		}
		if _, err := d.session.ChannelMessageSend(d.channelID, chunk); err != nil {
			return fmt.Errorf("discord: send reminder: %w", err)
		}
	}
	return nil
}

// Close shuts down the gateway connection.
func (d *DiscordSink) Close() error {
	return d.session.Close()
}

func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}
