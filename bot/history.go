package bot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
)

// BuildHistory reads the newest maxMessages messages of a channel or
// thread, and returns them oldest-first as conversation turns. Messages
// written by botUserID are attributed to the model, everything else to
// the user. Messages with no text are skipped.
//
// If maxMessages <= 0, the entire history of the channel is read.
func BuildHistory(
	ctx context.Context,
	reader MessageReader,
	channelID string,
	botUserID string,
	maxMessages int,
) ([]ConversationTurn, error) {
	messages, err := fetchMessages(ctx, reader, channelID, maxMessages)
	if err != nil {
		return nil, err
	}

	turns := make([]ConversationTurn, 0, len(messages))
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		role := RoleUser
		if m.Author != nil && m.Author.ID == botUserID {
			role = RoleModel
		}
		turns = append(turns, ConversationTurn{Role: role, Text: text})
	}
	return ReverseTurns(turns), nil
}

// ReverseTurns returns a reversed copy of turns
func ReverseTurns(turns []ConversationTurn) []ConversationTurn {
	reversed := make([]ConversationTurn, len(turns))
	for i, t := range turns {
		reversed[len(turns)-1-i] = t
	}
	return reversed
}

// fetchMessages returns up to limit messages of the channel,
// newest-first, paging backwards through history. If limit <= 0, all
// messages are returned.
func fetchMessages(
	ctx context.Context,
	reader MessageReader,
	channelID string,
	limit int,
) ([]*discordgo.Message, error) {
	var messages []*discordgo.Message
	beforeID := ""
	for limit <= 0 || len(messages) < limit {
		if err := ctx.Err(); err != nil {
			return messages, err
		}
		pageSize := discordMessagePageSize
		if limit > 0 && limit-len(messages) < pageSize {
			pageSize = limit - len(messages)
		}
		page, err := reader.ChannelMessages(
			channelID,
			pageSize,
			beforeID,
			"",
			"",
			discordgo.WithContext(ctx),
		)
		if err != nil {
			return messages, fmt.Errorf(
				"error reading messages for channel %s: %w",
				channelID,
				err,
			)
		}
		messages = append(messages, page...)
		if len(page) < pageSize {
			break
		}
		beforeID = page[len(page)-1].ID
	}
	return messages, nil
}
