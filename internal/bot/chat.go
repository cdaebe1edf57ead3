package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/engibot/engi/internal/session"
	"github.com/engibot/engi/internal/split"
)

// messageDelay spaces out multi-chunk replies so they arrive in order
// without tripping the platform's own rate limits.
const messageDelay = 300 * time.Millisecond

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Never answer ourselves or other bots.
	if m.Author == nil || m.Author.Bot || m.Author.ID == s.State.User.ID {
		return
	}
	if strings.TrimSpace(m.Content) == "" {
		return
	}
	// Prefixed messages are meant for other bots.
	if b.opts.Prefix != "" && strings.HasPrefix(m.Content, b.opts.Prefix) {
		return
	}

	if err := b.checkCategory(m.ChannelID); err != nil {
		if !errors.Is(err, ErrWrongChannel) {
			b.logger.Warn("category check failed", "channel", m.ChannelID, "error", err)
		}
		return
	}

	if wait := b.limiter.Check(m.Author.ID); wait > 0 {
		b.sendThrottleNotice(m.ChannelID, m.Author.ID, wait)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.RequestTimeout)
	defer cancel()

	history := b.sessions.History(m.ChannelID)
	b.sessions.Append(m.ChannelID, session.RoleUser, m.Content)

	if err := b.session.ChannelTyping(m.ChannelID); err != nil {
		b.logger.Debug("typing indicator failed", "error", err)
	}

	reply, err := b.model.Chat(ctx, history, m.Content)
	if err != nil {
		b.logger.Error("chat generation failed",
			"channel", m.ChannelID,
			"user", m.Author.ID,
			"error", err)
		b.send(m.ChannelID, "I could not come up with a reply. Try again in a moment.")
		return
	}

	b.sessions.Append(m.ChannelID, session.RoleModel, reply)
	for idx, chunk := range b.chunks(reply) {
		if idx > 0 {
			time.Sleep(messageDelay)
		}
		b.send(m.ChannelID, chunk)
	}
}

func (b *Bot) onThreadCreate(s *discordgo.Session, t *discordgo.ThreadCreate) {
	if b.opts.ThreadChannelID == "" || t.ParentID != b.opts.ThreadChannelID {
		return
	}
	// NewlyCreated distinguishes fresh threads from ones the gateway
	// just told us about (unarchive, permission change).
	if !t.NewlyCreated {
		return
	}

	b.logger.Info("greeting new thread", "thread", t.ID, "name", t.Name)
	b.send(t.ID, fmt.Sprintf(
		"Hi! I'm %s. Ask me anything here, or use `/ask` to query ingested documentation.",
		b.opts.BotName))
}

func (b *Bot) sendThrottleNotice(channelID, userID string, wait time.Duration) {
	b.logger.Debug("user throttled", "user", userID, "wait", wait)
	b.send(channelID, fmt.Sprintf(
		"<@%s> easy there! Try again in %.1f seconds.", userID, wait.Seconds()))
}

func (b *Bot) send(channelID, content string) {
	if _, err := b.session.ChannelMessageSend(channelID, content); err != nil {
		b.logger.Warn("sending message failed", "channel", channelID, "error", err)
	}
}

// chunks splits content into platform-sized messages, keeping fenced
// code blocks intact.
func (b *Bot) chunks(content string) []string {
	return split.Messages(content, b.opts.MaxMessageChars)
}
