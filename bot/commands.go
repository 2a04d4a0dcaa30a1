package bot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	commandModule        = "module"
	commandSyncCommands  = "sync_commands"
	commandReloadPrompts = "reload_prompts"

	subcommandList    = "list"
	subcommandEnable  = "enable"
	subcommandDisable = "disable"
	moduleNameOption  = "name"
)

// slashCommand is an application command, and the module that has to be
// enabled for it to run
type slashCommand struct {
	command *discordgo.ApplicationCommand

	// module is empty for commands that are always available
	module string

	// admin restricts the command to members passing adminCheck
	admin bool

	handler ComponentHandler
}

func (b *Bot) slashCommands() []slashCommand {
	commands := []slashCommand{
		{
			command: b.moduleCommand(),
			admin:   true,
			handler: b.handleModuleCommand,
		},
		{
			command: &discordgo.ApplicationCommand{
				Name:        commandSyncCommands,
				Description: "Sync slash commands with Discord (Admin Only)",
			},
			admin:   true,
			handler: b.handleSyncCommands,
		},
		{
			command: &discordgo.ApplicationCommand{
				Name:        commandReloadPrompts,
				Description: "Reload prompts and the service catalog (Admin Only)",
			},
			module:  moduleAgents,
			admin:   true,
			handler: b.handleReloadPrompts,
		},
	}

	handlers := map[string]ComponentHandler{
		commandCreateSupportTicket: b.handleCreateSupportTicket,
		commandSetupSupportTickets: b.handleSetupTickets(supportTicketMenu),
		commandCreateReportTicket:  b.handleCreateReportTicket("plugin"),
		commandSetupReportTickets:  b.handleSetupTickets(reportTicketMenu),
		commandCreateSponsorTicket: b.handleCreateSponsorTicket(buttonSubmitEnquiry),
		commandSetupSponsorTickets: b.handleSetupTickets(sponsorTicketMenu),
	}
	ticketCmds := ticketCommands()
	for _, module := range []string{moduleSupportTickets, moduleReportTickets, moduleSponsorTickets} {
		for _, cmd := range ticketCmds[module] {
			commands = append(
				commands, slashCommand{
					command: cmd,
					module:  module,
					handler: handlers[cmd.Name],
				},
			)
		}
	}
	return commands
}

func (b *Bot) moduleCommand() *discordgo.ApplicationCommand {
	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, name := range b.modules.Names() {
		choices = append(
			choices,
			&discordgo.ApplicationCommandOptionChoice{Name: name, Value: name},
		)
	}
	nameOption := []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        moduleNameOption,
			Description: "Module name",
			Required:    true,
			Choices:     choices,
		},
	}
	return &discordgo.ApplicationCommand{
		Name:        commandModule,
		Description: "Manage bot modules (Admin Only)",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandList,
				Description: "List all modules and their status",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandEnable,
				Description: "Enable a module",
				Options:     nameOption,
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandDisable,
				Description: "Disable a module",
				Options:     nameOption,
			},
		},
	}
}

// dispatchCommand runs the handler for a slash command, if its module is
// enabled and the member is allowed to use it
func (b *Bot) dispatchCommand(ctx context.Context, i *discordgo.InteractionCreate) {
	name := i.ApplicationCommandData().Name
	cmd, ok := b.commands[name]
	if !ok {
		b.logger.WarnContext(ctx, "unknown command", "command", name)
		b.respondEphemeral(ctx, i, componentUnavailableMessage)
		return
	}
	if cmd.module != "" && !b.modules.Enabled(cmd.module) {
		b.respondEphemeral(ctx, i, componentUnavailableMessage)
		return
	}
	if cmd.admin && !b.requireCapability(ctx, i, b.adminCheck(), adminOnlyMessage) {
		return
	}
	cmd.handler(ctx, i)
}

func (b *Bot) handleModuleCommand(ctx context.Context, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		b.respondEphemeral(ctx, i, b.modules.StatusMessage())
		return
	}
	sub := data.Options[0].Name
	var name string
	if opt, ok := discordInteractionOptions(i)[moduleNameOption]; ok {
		name = opt.StringValue()
	}

	switch sub {
	case subcommandEnable:
		b.respondEphemeral(ctx, i, moduleEnableMessage(name, b.modules.Enable(ctx, name)))
	case subcommandDisable:
		b.respondEphemeral(ctx, i, moduleDisableMessage(name, b.modules.Disable(ctx, name)))
	default:
		b.respondEphemeral(ctx, i, b.modules.StatusMessage())
	}
}

func moduleEnableMessage(name string, err error) string {
	switch {
	case err == nil:
		return fmt.Sprintf("✅ Enabled `%s`", name)
	case errors.Is(err, ErrModuleAlreadyEnabled):
		return fmt.Sprintf("Module `%s` is already enabled.", name)
	default:
		return fmt.Sprintf("❌ Failed to enable `%s`: %s", name, err)
	}
}

func moduleDisableMessage(name string, err error) string {
	switch {
	case err == nil:
		return fmt.Sprintf("🚫 Disabled `%s`", name)
	case errors.Is(err, ErrModuleNotEnabled):
		return fmt.Sprintf("Module `%s` is not enabled.", name)
	default:
		return fmt.Sprintf("❌ Failed to disable `%s`: %s", name, err)
	}
}

// registerCommands overwrites the application's commands with the
// bot's current command set
func (b *Bot) registerCommands(ctx context.Context) (int, error) {
	commands := make([]*discordgo.ApplicationCommand, 0, len(b.commands))
	for _, cmd := range b.slashCommands() {
		commands = append(commands, cmd.command)
	}
	created, err := b.session.ApplicationCommandBulkOverwrite(
		b.config.Discord.ApplicationID,
		b.config.Discord.GuildID,
		commands,
		discordgo.WithContext(ctx),
	)
	return len(created), err
}

func (b *Bot) handleSyncCommands(ctx context.Context, i *discordgo.InteractionCreate) {
	if err := b.deferEphemeral(ctx, i); err != nil {
		return
	}
	n, err := b.registerCommands(ctx)
	if err != nil {
		b.followupEphemeral(
			ctx,
			i,
			fmt.Sprintf("❌ Error syncing commands: %s. You may have hit a rate limit.", err),
		)
		return
	}

	target := "all guilds"
	if guildID := b.config.Discord.GuildID; guildID != "" {
		target = guildID
		if g, e := b.session.Guild(guildID, discordgo.WithContext(ctx)); e == nil && g.Name != "" {
			target = g.Name
		}
	}
	b.followupEphemeral(ctx, i, fmt.Sprintf("✅ Successfully synced %d commands to %s.", n, target))
}

// handleReloadPrompts reloads the prompt and service catalogs, then asks
// any other instances to do the same
func (b *Bot) handleReloadPrompts(ctx context.Context, i *discordgo.InteractionCreate) {
	if err := b.deferEphemeral(ctx, i); err != nil {
		return
	}
	if err := b.loadCatalog(ctx); err != nil {
		b.followupEphemeral(ctx, i, fmt.Sprintf("❌ Failed to reload prompts: %s", err))
		return
	}
	if b.notifier != nil {
		if err := b.notifier.Notify(ctx); err != nil {
			b.logger.ErrorContext(ctx, "error notifying other instances", tint.Err(err))
		}
	}
	b.followupEphemeral(
		ctx,
		i,
		fmt.Sprintf("✅ Reloaded %d prompts.", len(b.commandCenter.UserPrompts())),
	)
}

func (b *Bot) deferEphemeral(ctx context.Context, i *discordgo.InteractionCreate) error {
	err := b.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		b.logger.ErrorContext(
			ctx,
			"error deferring interaction response",
			append(interactionLogAttrs(*i), tint.Err(err))...,
		)
	}
	return err
}
