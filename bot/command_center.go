package bot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"strings"
	"time"
)

const (
	agentThreadPrefix      = "🤖-"
	promptSuggestionHeader = "Perhaps I can help you with the following:"
	noPromptsMessage       = "What would you like me to help you with today?"
)

// handleCommandCenterMessage hands messages that mention the bot in the
// command center channel, or one of its threads, to the agents.
//
// A bare mention in the channel itself gets the prompt suggestions.
// Anything else is answered in a thread: the current one, or a new one
// started on the message.
func (b *Bot) handleCommandCenterMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.WebhookID != "" {
		return
	}
	botID := b.BotUserID()
	if !messageMentionsUser(m.Message, botID) {
		return
	}

	channel, err := b.session.Channel(m.ChannelID, discordgo.WithContext(ctx))
	if err != nil {
		b.logger.WarnContext(ctx, "error getting channel", "channel_id", m.ChannelID, tint.Err(err))
		return
	}
	if !b.inCommandCenter(channel) {
		return
	}
	logger := b.logger.With("channel_id", m.ChannelID, "user_id", m.Author.ID)

	if !b.agentsReady() {
		logger.WarnContext(ctx, "agents unavailable, ignoring mention")
		return
	}

	if !b.limiter.Allow(m.Author.ID) {
		b.metrics.RateLimited.Inc()
		logger.WarnContext(ctx, "user rate limited")
		_, _ = b.session.ChannelMessageSendReply(
			m.ChannelID,
			DefaultRateLimitMessage,
			m.Reference(),
			discordgo.WithContext(ctx),
		)
		return
	}

	request := stripMention(m.Content, botID)
	isThread := channel.IsThread()

	if request == "" && !isThread {
		withTyping(
			ctx, b.session, m.ChannelID, func(ctx context.Context) {
				if e := b.sendPromptSuggestions(ctx, m.ChannelID); e != nil {
					logger.ErrorContext(ctx, "error sending prompt suggestions", tint.Err(e))
				}
			},
		)
		return
	}

	threadID := m.ChannelID
	if !isThread {
		thread, e := b.session.MessageThreadStart(
			m.ChannelID,
			m.ID,
			agentThreadPrefix+threadTimestamp(time.Now()),
			discordThreadArchiveDuration,
			discordgo.WithContext(ctx),
		)
		if e != nil {
			logger.ErrorContext(ctx, "error starting thread", tint.Err(e))
			return
		}
		threadID = thread.ID
	}

	withTyping(
		ctx, b.session, threadID, func(ctx context.Context) {
			b.manager.HandleUserMessage(ctx, m.Content, threadID)
		},
	)
}

// inCommandCenter reports whether channel is the command center channel,
// or a thread in it
func (b *Bot) inCommandCenter(channel *discordgo.Channel) bool {
	ccID := b.config.CommandCenter.ChannelID
	if ccID == "" || channel == nil {
		return false
	}
	if channel.ID == ccID {
		return true
	}
	return channel.IsThread() && channel.ParentID == ccID
}

// stripMention removes mentions of userID from content
func stripMention(content string, userID string) string {
	if userID != "" {
		content = strings.ReplaceAll(content, fmt.Sprintf("<@%s>", userID), "")
		content = strings.ReplaceAll(content, fmt.Sprintf("<@!%s>", userID), "")
	}
	return strings.TrimSpace(content)
}

// agentsReady reports whether the agents module is enabled and the
// agents were created
func (b *Bot) agentsReady() bool {
	return b.manager != nil && b.modules.Enabled(moduleAgents)
}
