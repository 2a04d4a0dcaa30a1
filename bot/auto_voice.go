package bot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// ownerVoicePermissions are granted to the member a temporary voice
// channel was created for
const ownerVoicePermissions = discordgo.PermissionManageChannels |
	discordgo.PermissionVoiceMuteMembers |
	discordgo.PermissionVoiceMoveMembers

// VoiceChannel is a temporary voice channel created by the bot, deleted
// once it's empty.
type VoiceChannel struct {
	ChannelID string `gorm:"primaryKey;size:32" json:"channel_id"`
	GuildID   string `gorm:"index;size:32;not null" json:"guild_id"`
	OwnerID   string `gorm:"size:32;not null" json:"owner_id"`
	ModelUnixTime
}

func (VoiceChannel) TableName() string {
	return "voice_channels"
}

// handleAutoVoice creates a temporary voice channel for members joining
// the 'join to create' channel, and removes temporary channels once the
// last member leaves
func (b *Bot) handleAutoVoice(ctx context.Context, v *discordgo.VoiceStateUpdate) {
	joinChannelID := b.config.AutoVoice.JoinChannelID
	if joinChannelID == "" || v.VoiceState == nil {
		return
	}

	var previousChannelID string
	if v.BeforeUpdate != nil {
		previousChannelID = v.BeforeUpdate.ChannelID
	}
	if previousChannelID == v.ChannelID {
		return
	}

	if previousChannelID != "" {
		b.removeEmptyVoiceChannel(ctx, v.GuildID, previousChannelID)
	}
	if v.ChannelID == joinChannelID {
		if err := b.createVoiceChannel(ctx, v.VoiceState); err != nil {
			b.logger.ErrorContext(
				ctx,
				"error creating voice channel",
				"user_id", v.UserID,
				tint.Err(err),
			)
		}
	}
}

// createVoiceChannel creates a voice channel next to the join channel,
// owned by the joining member, and moves the member into it
func (b *Bot) createVoiceChannel(ctx context.Context, vs *discordgo.VoiceState) error {
	joinChannel, err := b.session.Channel(vs.ChannelID, discordgo.WithContext(ctx))
	if err != nil {
		return &ChannelUnavailableError{ChannelID: vs.ChannelID, Err: err}
	}

	member := vs.Member
	if member == nil {
		member, err = b.session.GuildMember(vs.GuildID, vs.UserID, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("error getting member: %w", err)
		}
	}

	channel, err := b.session.GuildChannelCreateComplex(
		vs.GuildID,
		discordgo.GuildChannelCreateData{
			Name:      fmt.Sprintf("%s's Channel", memberDisplayName(member, member.User)),
			Type:      discordgo.ChannelTypeGuildVoice,
			UserLimit: b.config.AutoVoice.UserLimit,
			ParentID:  joinChannel.ParentID,
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return err
	}

	if _, err = b.db.Create(
		ctx,
		&VoiceChannel{ChannelID: channel.ID, GuildID: vs.GuildID, OwnerID: vs.UserID},
	); err != nil {
		b.logger.ErrorContext(ctx, "error saving voice channel", "channel_id", channel.ID, tint.Err(err))
	}

	if err = b.session.ChannelPermissionSet(
		channel.ID,
		vs.UserID,
		discordgo.PermissionOverwriteTypeMember,
		ownerVoicePermissions,
		0,
		discordgo.WithContext(ctx),
	); err != nil {
		b.logger.WarnContext(ctx, "error granting owner permissions", "channel_id", channel.ID, tint.Err(err))
	}

	if err = b.session.GuildMemberMove(
		vs.GuildID,
		vs.UserID,
		&channel.ID,
		discordgo.WithContext(ctx),
	); err != nil {
		return fmt.Errorf("error moving member to %s: %w", channel.ID, err)
	}
	b.logger.InfoContext(ctx, "created voice channel", "channel_id", channel.ID, "owner_id", vs.UserID)
	return nil
}

// removeEmptyVoiceChannel deletes channelID if it's a temporary voice
// channel with nobody left in it
func (b *Bot) removeEmptyVoiceChannel(ctx context.Context, guildID string, channelID string) {
	var tracked VoiceChannel
	if err := b.db.DB().WithContext(ctx).Where(
		"channel_id = ?",
		channelID,
	).Limit(1).Find(&tracked).Error; err != nil {
		b.logger.ErrorContext(ctx, "error looking up voice channel", "channel_id", channelID, tint.Err(err))
		return
	}
	if tracked.ChannelID == "" {
		return
	}

	count, err := b.session.VoiceChannelMemberCount(guildID, channelID)
	if err != nil {
		b.logger.WarnContext(ctx, "error counting voice members", "channel_id", channelID, tint.Err(err))
		return
	}
	if count > 0 {
		return
	}
	b.deleteVoiceChannel(ctx, tracked)
}

func (b *Bot) deleteVoiceChannel(ctx context.Context, vc VoiceChannel) {
	if _, err := b.session.ChannelDelete(vc.ChannelID, discordgo.WithContext(ctx)); err != nil {
		b.logger.WarnContext(ctx, "error deleting voice channel", "channel_id", vc.ChannelID, tint.Err(err))
	}
	if _, err := b.db.Delete(ctx, &VoiceChannel{}, "channel_id = ?", vc.ChannelID); err != nil {
		b.logger.ErrorContext(ctx, "error removing voice channel record", "channel_id", vc.ChannelID, tint.Err(err))
	}
}

// cleanupVoiceChannels removes temporary voice channels left empty, or
// deleted, while the bot was offline
func (b *Bot) cleanupVoiceChannels(ctx context.Context) {
	var channels []VoiceChannel
	if err := b.db.DB().WithContext(ctx).Find(&channels).Error; err != nil {
		b.logger.ErrorContext(ctx, "error listing voice channels", tint.Err(err))
		return
	}
	removed := 0
	for _, vc := range channels {
		if _, err := b.session.Channel(vc.ChannelID, discordgo.WithContext(ctx)); err != nil {
			if _, err = b.db.Delete(ctx, &VoiceChannel{}, "channel_id = ?", vc.ChannelID); err == nil {
				removed++
			}
			continue
		}
		count, err := b.session.VoiceChannelMemberCount(vc.GuildID, vc.ChannelID)
		if err != nil || count > 0 {
			continue
		}
		b.deleteVoiceChannel(ctx, vc)
		removed++
	}
	if removed > 0 {
		b.logger.InfoContext(ctx, "cleaned up voice channels", "removed", removed)
	}
}
