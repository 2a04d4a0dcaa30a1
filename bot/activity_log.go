package bot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"slices"
)

const (
	logActionMessageDelete    = "message_delete"
	logActionMessageEdit      = "message_edit"
	logActionChannelCreate    = "channel_create"
	logActionChannelDelete    = "channel_delete"
	logActionVoiceStateUpdate = "voice_state_update"
	logActionMemberJoin       = "member_join"
	logActionMemberRemove     = "member_remove"
)

// activityLogEnabled reports whether action should be posted to the
// activity log channel
func (b *Bot) activityLogEnabled(action string) bool {
	if b.config.ActivityLog.ChannelID == "" || !b.modules.Enabled(moduleLogging) {
		return false
	}
	return slices.Contains(b.config.ActivityLog.Actions, action)
}

func (b *Bot) postActivity(ctx context.Context, action string, content string) {
	if !b.activityLogEnabled(action) {
		return
	}
	if _, err := b.session.ChannelMessageSend(
		b.config.ActivityLog.ChannelID,
		truncate(content, discordMaxMessageLength),
		discordgo.WithContext(ctx),
	); err != nil {
		b.logger.ErrorContext(ctx, "error posting to activity log", "action", action, tint.Err(err))
	}
}

func (b *Bot) channelName(ctx context.Context, channelID string) string {
	if ch, err := b.session.Channel(channelID, discordgo.WithContext(ctx)); err == nil && ch.Name != "" {
		return ch.Name
	}
	return channelID
}

func (b *Bot) logMessageDelete(ctx context.Context, m *discordgo.MessageDelete) {
	before := m.BeforeDelete
	if before == nil || before.Author == nil || before.Author.Bot {
		return
	}
	b.postActivity(
		ctx,
		logActionMessageDelete,
		messageDeletedEntry(b.channelName(ctx, m.ChannelID), before),
	)
}

func messageDeletedEntry(channelName string, m *discordgo.Message) string {
	return fmt.Sprintf(
		"❌ Message deleted | #%s | %s\n```%s```",
		channelName,
		memberDisplayName(m.Member, m.Author),
		m.Content,
	)
}

func (b *Bot) logMessageEdit(ctx context.Context, m *discordgo.MessageUpdate) {
	before := m.BeforeUpdate
	if before == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if before.Content == m.Content {
		return
	}
	b.postActivity(
		ctx,
		logActionMessageEdit,
		messageEditedEntry(b.channelName(ctx, m.ChannelID), before, m.Message),
	)
}

func messageEditedEntry(channelName string, before *discordgo.Message, after *discordgo.Message) string {
	return fmt.Sprintf(
		"📝 Message edited | #%s | %s\n**Before:**\n```%s```\n**After:**\n```%s```",
		channelName,
		memberDisplayName(after.Member, after.Author),
		before.Content,
		after.Content,
	)
}

func (b *Bot) logChannelCreate(ctx context.Context, c *discordgo.ChannelCreate) {
	if c.Channel == nil || c.IsThread() {
		return
	}
	b.postActivity(
		ctx,
		logActionChannelCreate,
		fmt.Sprintf("➕ Channel created | #%s | ID: %s", c.Name, c.ID),
	)
}

func (b *Bot) logChannelDelete(ctx context.Context, c *discordgo.ChannelDelete) {
	if c.Channel == nil || c.IsThread() {
		return
	}
	b.postActivity(
		ctx,
		logActionChannelDelete,
		fmt.Sprintf("➖ Channel deleted | #%s | ID: %s", c.Name, c.ID),
	)
}

func (b *Bot) logVoiceState(ctx context.Context, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil || (v.Member != nil && v.Member.User != nil && v.Member.User.Bot) {
		return
	}
	var before string
	if v.BeforeUpdate != nil {
		before = v.BeforeUpdate.ChannelID
	}
	if before == v.ChannelID {
		return
	}

	var name string
	if v.Member != nil {
		name = memberDisplayName(v.Member, v.Member.User)
	} else {
		name = v.UserID
	}

	var entry string
	switch {
	case before == "":
		entry = fmt.Sprintf("🔊 Voice | %s joined %s", name, b.channelName(ctx, v.ChannelID))
	case v.ChannelID == "":
		entry = fmt.Sprintf("🔊 Voice | %s left %s", name, b.channelName(ctx, before))
	default:
		entry = fmt.Sprintf(
			"🔊 Voice | %s moved: %s → %s",
			name,
			b.channelName(ctx, before),
			b.channelName(ctx, v.ChannelID),
		)
	}
	b.postActivity(ctx, logActionVoiceStateUpdate, entry)
}

func (b *Bot) logMemberJoin(ctx context.Context, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil {
		return
	}
	b.postActivity(
		ctx,
		logActionMemberJoin,
		fmt.Sprintf("➕ Member joined | %s | ID: %s", memberDisplayName(m.Member, m.User), m.User.ID),
	)
}

func (b *Bot) logMemberRemove(ctx context.Context, m *discordgo.GuildMemberRemove) {
	if m.Member == nil || m.User == nil {
		return
	}
	b.postActivity(
		ctx,
		logActionMemberRemove,
		fmt.Sprintf("➖ Member left | %s | ID: %s", memberDisplayName(m.Member, m.User), m.User.ID),
	)
}
