package bot

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"slices"
)

const (
	adminOnlyMessage      = "🚫 You must be an admin to use this command."
	sponsorOnlyMessage    = "🚫 You must be a sponsor to use this command."
	premiumSupportMessage = "🚫 You must be a sponsor to create premium support tickets."
)

// CapabilityChecker decides whether a guild member may perform an action
type CapabilityChecker interface {
	Allowed(member *discordgo.Member) bool
}

// RoleSet allows members holding any of its role IDs
type RoleSet []string

func (r RoleSet) Allowed(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	for _, id := range r {
		if id != "" && slices.Contains(member.Roles, id) {
			return true
		}
	}
	return false
}

// AdminCheck allows members with the admin role, or with the
// Administrator permission
type AdminCheck struct {
	RoleID string
}

func (a AdminCheck) Allowed(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	if member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return RoleSet{a.RoleID}.Allowed(member)
}

// SponsorTier is a level of sponsorship, with the role granted for it
type SponsorTier struct {
	Name      string
	Emoji     string
	RoleID    string
	Recurring bool
}

// SponsorTiers returns the configured tiers, recurring tiers ordered
// highest first, followed by the one-off community tier
func (s SponsorsConfig) SponsorTiers() []SponsorTier {
	return []SponsorTier{
		{Name: "ultra", Emoji: "🏆", RoleID: s.UltraRoleID, Recurring: true},
		{Name: "pro", Emoji: "🥇", RoleID: s.ProRoleID, Recurring: true},
		{Name: "plus", Emoji: "🥈", RoleID: s.PlusRoleID, Recurring: true},
		{Name: "lite", Emoji: "🥉", RoleID: s.LiteRoleID, Recurring: true},
		{Name: "community", Emoji: "🤝", RoleID: s.CommunityRoleID},
	}
}

// RecurringSponsorTiers returns the member's recurring sponsor tiers,
// highest first
func (s SponsorsConfig) RecurringSponsorTiers(member *discordgo.Member) []SponsorTier {
	var tiers []SponsorTier
	for _, t := range s.SponsorTiers() {
		if t.Recurring && (RoleSet{t.RoleID}).Allowed(member) {
			tiers = append(tiers, t)
		}
	}
	return tiers
}

// RecurringSponsorCheck allows members holding a recurring sponsor role
type RecurringSponsorCheck struct {
	Sponsors SponsorsConfig
}

func (r RecurringSponsorCheck) Allowed(member *discordgo.Member) bool {
	return len(r.Sponsors.RecurringSponsorTiers(member)) > 0
}

// anyOf allows members passing any of the checks
type anyOf []CapabilityChecker

func (a anyOf) Allowed(member *discordgo.Member) bool {
	for _, c := range a {
		if c.Allowed(member) {
			return true
		}
	}
	return false
}

// requireCapability responds with denied and returns false if the
// interaction's member doesn't pass check
func (b *Bot) requireCapability(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	check CapabilityChecker,
	denied string,
) bool {
	if check.Allowed(i.Member) {
		return true
	}
	b.logger.WarnContext(
		ctx,
		"member not allowed",
		append(interactionLogAttrs(*i), "reply", denied)...,
	)
	b.respondEphemeral(ctx, i, denied)
	return false
}

func (b *Bot) adminCheck() AdminCheck {
	return AdminCheck{RoleID: b.config.AdminRoleID}
}
