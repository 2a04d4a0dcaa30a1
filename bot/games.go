package bot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"strconv"
	"strings"
	"time"
)

const (
	countHistoryLimit    = 50
	countInvalidNumber   = "Oops! You counted wrong! Please use a valid number."
	countWrongNumber     = "Oops! You counted wrong! The next number should be %d."
	storyConsecutiveTurn = "Let others share their story!"
)

// gameReplyLifetime is how long game corrections stay in the channel
var gameReplyLifetime = 3 * time.Second

// handleGameMessage enforces the rules of the counting and story
// channels. Rule breaking messages are deleted, with a short-lived
// correction.
func (b *Bot) handleGameMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	switch m.ChannelID {
	case "":
		return
	case b.config.Games.CountChannelID:
		b.checkCount(ctx, m.Message)
	case b.config.Games.StoryChannelID:
		b.checkStoryTurn(ctx, m.Message)
	}
}

// checkCount requires the message to be the number after the last
// counted number. The first count in an empty channel may be any number.
func (b *Bot) checkCount(ctx context.Context, m *discordgo.Message) {
	n, err := strconv.Atoi(strings.TrimSpace(m.Content))
	if err != nil {
		b.rejectGameMessage(ctx, m, countInvalidNumber)
		return
	}

	history, err := b.session.ChannelMessages(
		m.ChannelID,
		countHistoryLimit,
		m.ID,
		"",
		"",
		discordgo.WithContext(ctx),
	)
	if err != nil {
		b.logger.ErrorContext(ctx, "error reading count history", tint.Err(err))
		return
	}

	last, ok := lastCount(history)
	if !ok {
		return
	}
	if n != last+1 {
		b.rejectGameMessage(ctx, m, fmt.Sprintf(countWrongNumber, last+1))
	}
}

// lastCount returns the most recent valid count in messages, which are
// newest-first. Bot messages are ignored.
func lastCount(messages []*discordgo.Message) (int, bool) {
	for _, msg := range messages {
		if msg.Author != nil && msg.Author.Bot {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(msg.Content)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// checkStoryTurn stops a member from adding to the story twice in a row
func (b *Bot) checkStoryTurn(ctx context.Context, m *discordgo.Message) {
	previous, err := b.session.ChannelMessages(
		m.ChannelID,
		1,
		m.ID,
		"",
		"",
		discordgo.WithContext(ctx),
	)
	if err != nil {
		b.logger.ErrorContext(ctx, "error reading story history", tint.Err(err))
		return
	}
	if len(previous) == 0 || previous[0].Author == nil {
		return
	}
	if previous[0].Author.ID == m.Author.ID {
		b.rejectGameMessage(ctx, m, storyConsecutiveTurn)
	}
}

// rejectGameMessage deletes m, and posts reply for gameReplyLifetime
func (b *Bot) rejectGameMessage(ctx context.Context, m *discordgo.Message, reply string) {
	logger := b.logger.With("channel_id", m.ChannelID, "user_id", m.Author.ID)
	logger.InfoContext(ctx, "rejecting game message", "reply", reply)

	if err := b.session.ChannelMessageDelete(m.ChannelID, m.ID, discordgo.WithContext(ctx)); err != nil {
		logger.ErrorContext(ctx, "error deleting message", tint.Err(err))
	}
	sent, err := b.session.ChannelMessageSend(m.ChannelID, reply, discordgo.WithContext(ctx))
	if err != nil {
		logger.ErrorContext(ctx, "error sending reply", tint.Err(err))
		return
	}
	b.afterDelay(
		ctx, gameReplyLifetime, func(ctx context.Context) {
			_ = b.session.ChannelMessageDelete(sent.ChannelID, sent.ID, discordgo.WithContext(ctx))
		},
	)
}
