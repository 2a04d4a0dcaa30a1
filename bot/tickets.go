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
	buttonCreateSupportTicket = "support_tickets#main_menu.create_ticket"
	buttonReportTheme         = "report_tickets#main_menu.report_a_theme"
	buttonReportPlugin        = "report_tickets#main_menu.report_a_plugin"
	buttonBecomeSponsor       = "sponsor_tickets#main_menu.become_a_sponsor"
	buttonClaimSponsorRole    = "sponsor_tickets#main_menu.claim_sponsor_role"
	buttonSubmitEnquiry       = "sponsor_tickets#main_menu.submit_enquiry"

	buttonCloseTicket        = "common#close_ticket.close_ticket"
	buttonConfirmCloseTicket = "common#confirm_close_ticket.confirm"
	buttonCancelCloseTicket  = "common#cancel_close_ticket.cancel"
	buttonExportTicket       = "common#export_ticket.export_ticket"

	commandCreateSupportTicket = "create_support_ticket"
	commandSetupSupportTickets = "setup_support_tickets_module"
	commandCreateReportTicket  = "create_report_ticket"
	commandSetupReportTickets  = "setup_report_tickets_module"
	commandCreateSponsorTicket = "create_sponsor_ticket"
	commandSetupSponsorTickets = "setup_sponsor_tickets_module"

	setupChannelOption = "channel"

	ticketResponseNote = "📌 **Note:** Tickets will be addressed as soon as possible.\n" +
		"You will typically get a **first response within 24 hours**, " +
		"but resolution time may vary. Thank you for your understanding!"

	noMessagesToExport = "ℹ️ No messages found in the target channel."
	exportAssetsNote   = "\n⚠️ **Note:** This log includes URLs to attachments and images. " +
		"Please download any important files now, as they will become inaccessible when the channel is deleted."

	// supportTicketDefaultEmoji prefixes support tickets opened by admins
	// who don't hold a sponsor tier
	supportTicketDefaultEmoji = "🎫"
)

// closeConfirmationTimeout is how long the close confirmation stays up
var closeConfirmationTimeout = 10 * time.Second

// ticketKind describes one kind of ticket a member can open
type ticketKind struct {
	// counter is the ticket_counters row numbering this kind
	counter string

	// label is used in metrics and log messages
	label string

	categoryID func(cfg *Config) string

	// channelName returns the name of the ticket channel
	channelName func(member *discordgo.Member, n int) string

	// info is posted in the new ticket channel
	info func(n int) *discordgo.MessageEmbed

	// created is shown to the member once the channel is ready
	created string
}

func (b *Bot) supportTicket() ticketKind {
	sponsors := b.config.Sponsors
	return ticketKind{
		counter:    counterSupportTickets,
		label:      "support",
		categoryID: func(cfg *Config) string { return cfg.Tickets.SupportCategoryID },
		channelName: func(member *discordgo.Member, n int) string {
			emoji := supportTicketDefaultEmoji
			if tiers := sponsors.RecurringSponsorTiers(member); len(tiers) > 0 {
				emoji = tiers[0].Emoji
			}
			return fmt.Sprintf("%s-support-%d", emoji, n)
		},
		info: func(n int) *discordgo.MessageEmbed {
			return ticketInfoEmbed(
				"🗳 Support Ticket Opened",
				"Hello there! Please describe your issue(s) in as much detail as possible.\n\n"+
					"**🔹 Below is a suggested template:**\n"+
					"1️⃣ **Type of issue** (e.g. bug, clarification required)\n"+
					"2️⃣ **Issue description** (e.g. button does not work)\n"+
					"3️⃣ **Urgency** (e.g. low priority, very urgent)\n\n"+
					"⚠️ **If reaching out for help with a bug, provide steps to reproduce it.**\n\n"+
					ticketResponseNote,
				n,
			)
		},
		created: "✅ Support ticket created: %s",
	}
}

func reportTicket(reportType string) ticketKind {
	var title, description string
	switch reportType {
	case "theme":
		title = "📕 Report a Theme"
		description = "Hello there! Please describe the theme that you are reporting.\n\n" +
			"**🔹 Below is a suggested template:**\n" +
			"1️⃣ **Link to theme**\n" +
			"2️⃣ **Report description** (e.g. the theme is offensive)\n" +
			"3️⃣ **Urgency** (e.g. low priority, very urgent)\n\n" +
			ticketResponseNote
	default:
		reportType = "plugin"
		title = "📕 Report a Plugin"
		description = "Hello there! Please describe the plugin that you are reporting.\n\n" +
			"**🔹 Below is a suggested template:**\n" +
			"1️⃣ **Link to plugin**\n" +
			"2️⃣ **Report description** (e.g. the plugin is malicious)\n" +
			"3️⃣ **Urgency** (e.g. low priority, very urgent)\n\n" +
			ticketResponseNote
	}
	return ticketKind{
		counter:    counterReportTickets,
		label:      "report",
		categoryID: func(cfg *Config) string { return cfg.Tickets.ReportCategoryID },
		channelName: func(_ *discordgo.Member, n int) string {
			return fmt.Sprintf("📌-report-%d", n)
		},
		info: func(n int) *discordgo.MessageEmbed {
			return ticketInfoEmbed(title, description, n)
		},
		created: "✅ Report ticket (" + reportType + ") created: %s",
	}
}

func sponsorTicket(action string) ticketKind {
	var title, description string
	switch action {
	case buttonBecomeSponsor:
		title = "📕 Become a Sponsor"
		description = "Hello there! Thank you for your interest in sponsoring the project.\n\n" +
			"**🔹 Do let us know:**\n" +
			"1️⃣ **Sponsor tier** you are interested in\n" +
			"2️⃣ **Platform** you intend to sponsor through (e.g. GitHub)\n" +
			"3️⃣ **Any questions** you have about sponsorship\n\n" +
			ticketResponseNote
	case buttonClaimSponsorRole:
		title = "📕 Claim Sponsor Role"
		description = "Sponsored the project and looking to claim your sponsor role? \n\n" +
			"**🔹 Do provide the details below:**\n" +
			"1️⃣ **Date sponsored** (e.g. 12/20/2025)\n" +
			"2️⃣ **Email used**\n" +
			"3️⃣ **Platform used** (e.g. GitHub)\n\n" +
			"⚠️ **Feel free to provide any additional screenshots!**\n\n" +
			ticketResponseNote
	default:
		title = "📕 Submit Enquiry"
		description = "Hello there! Have enquiries about sponsorship? " +
			"Perhaps you're exploring interesting ways to sponsor " +
			"or contribute to the project? Feel free to let us know!\n\n" +
			ticketResponseNote
	}
	return ticketKind{
		counter:    counterSponsorTickets,
		label:      "sponsor",
		categoryID: func(cfg *Config) string { return cfg.Tickets.SponsorCategoryID },
		channelName: func(_ *discordgo.Member, n int) string {
			return fmt.Sprintf("📌-sponsor-%d", n)
		},
		info: func(n int) *discordgo.MessageEmbed {
			return ticketInfoEmbed(title, description, n)
		},
		created: "✅ Sponsor ticket created: %s",
	}
}

func ticketInfoEmbed(title string, description string, n int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       colorBlue,
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Ticket #%d", n)},
	}
}

// ticketButton returns a button, with its emoji in front of the label
func ticketButton(label string, emoji string, customID string, style discordgo.ButtonStyle) discordgo.Button {
	return discordgo.Button{
		Label:    fmt.Sprintf("%s %s", emoji, label),
		CustomID: customID,
		Style:    style,
	}
}

func buttonRows(buttons ...discordgo.Button) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for _, chunk := range chunkItems(discordMaxButtonsPerActionRow, buttons...) {
		row := discordgo.ActionsRow{}
		for _, btn := range chunk {
			row.Components = append(row.Components, btn)
		}
		rows = append(rows, row)
	}
	return rows
}

var (
	closeTicketButton = ticketButton(
		"Close Ticket", "🔒", buttonCloseTicket, discordgo.DangerButton,
	)
	exportTicketButton = ticketButton(
		"Export Ticket", "📥", buttonExportTicket, discordgo.SecondaryButton,
	)
	confirmCloseTicketButton = ticketButton(
		"Confirm", "✅", buttonConfirmCloseTicket, discordgo.DangerButton,
	)
	cancelCloseTicketButton = ticketButton(
		"Cancel", "❌", buttonCancelCloseTicket, discordgo.SecondaryButton,
	)
)

// createTicket opens a private ticket channel for the interaction's
// member, visible to the member and the admin role
func (b *Bot) createTicket(ctx context.Context, i *discordgo.InteractionCreate, kind ticketKind) {
	logger := b.logger.With(append(interactionLogAttrs(*i), "ticket_type", kind.label)...)
	failed := fmt.Sprintf("❌ Failed to create a %s ticket channel.", kind.label)

	if i.Member == nil || i.Member.User == nil || i.GuildID == "" {
		b.respondEphemeral(ctx, i, failed)
		return
	}
	categoryID := kind.categoryID(b.config)
	if categoryID == "" {
		logger.ErrorContext(ctx, "ticket category not configured")
		b.respondEphemeral(ctx, i, failed)
		return
	}

	n, err := NextTicketNumber(ctx, b.db, kind.counter)
	if err != nil {
		logger.ErrorContext(ctx, "error getting ticket number", tint.Err(err))
		b.respondEphemeral(ctx, i, failed)
		return
	}

	channel, err := b.session.GuildChannelCreateComplex(
		i.GuildID,
		discordgo.GuildChannelCreateData{
			Name:                 kind.channelName(i.Member, n),
			Type:                 discordgo.ChannelTypeGuildText,
			ParentID:             categoryID,
			PermissionOverwrites: b.ticketPermissions(i.GuildID, i.Member.User.ID),
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error creating ticket channel", tint.Err(err))
		b.respondEphemeral(ctx, i, failed)
		return
	}

	if _, err = b.session.ChannelMessageSendComplex(
		channel.ID,
		&discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{kind.info(n)},
			Components: buttonRows(closeTicketButton, exportTicketButton),
		},
		discordgo.WithContext(ctx),
	); err != nil {
		logger.ErrorContext(ctx, "error sending ticket info", tint.Err(err))
	}

	b.metrics.TicketsCreated.WithLabelValues(kind.label).Inc()
	logger.InfoContext(ctx, "created ticket", "channel_id", channel.ID, "ticket_number", n)
	b.respondEphemeral(
		ctx,
		i,
		"",
		&discordgo.MessageEmbed{
			Title:       "Ticket Created",
			Description: fmt.Sprintf(kind.created, channel.Mention()),
			Color:       colorGreen,
		},
	)
}

// ticketPermissions hides the channel from @everyone, and lets the
// member and the admin role read and send messages
func (b *Bot) ticketPermissions(guildID string, userID string) []*discordgo.PermissionOverwrite {
	allow := int64(discordgo.PermissionViewChannel | discordgo.PermissionSendMessages)
	overwrites := []*discordgo.PermissionOverwrite{
		{
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
		{
			ID:    userID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: allow,
		},
	}
	if b.config.AdminRoleID != "" {
		overwrites = append(
			overwrites, &discordgo.PermissionOverwrite{
				ID:    b.config.AdminRoleID,
				Type:  discordgo.PermissionOverwriteTypeRole,
				Allow: allow,
			},
		)
	}
	return overwrites
}

func (b *Bot) handleCreateSupportTicket(ctx context.Context, i *discordgo.InteractionCreate) {
	check := anyOf{RecurringSponsorCheck{Sponsors: b.config.Sponsors}, b.adminCheck()}
	if !b.requireCapability(ctx, i, check, premiumSupportMessage) {
		return
	}
	b.createTicket(ctx, i, b.supportTicket())
}

// handleCreateReportTicket opens a report ticket. The slash command
// doesn't say what's being reported, and opens a plugin report.
func (b *Bot) handleCreateReportTicket(reportType string) ComponentHandler {
	return func(ctx context.Context, i *discordgo.InteractionCreate) {
		b.createTicket(ctx, i, reportTicket(reportType))
	}
}

func (b *Bot) handleCreateSponsorTicket(action string) ComponentHandler {
	return func(ctx context.Context, i *discordgo.InteractionCreate) {
		b.createTicket(ctx, i, sponsorTicket(action))
	}
}

// ticketMenu is the embed and buttons posted by a setup command
type ticketMenu struct {
	title       string
	description string
	footer      string
	buttons     []discordgo.Button
	setupDone   string
}

var (
	supportTicketMenu = ticketMenu{
		title: "📩 Support Ticket System",
		description: "Looking to expedite your issue, seeking suggestions, or perhaps another opinion? " +
			"Click the button below to open a premium support ticket!\n\n" +
			"Available for **Bronze, Silver, Gold, and Platinum Sponsors**.",
		footer: "Support Ticket System",
		buttons: []discordgo.Button{
			ticketButton("Create Ticket", "🎫", buttonCreateSupportTicket, discordgo.PrimaryButton),
		},
		setupDone: "✅ Support ticket system has been set up in %s",
	}
	reportTicketMenu = ticketMenu{
		title: "📩 Report Ticket System",
		description: "Spotted a malicious plugin, or perhaps an offensive theme? " +
			"Help inform us by creating a report!\n\n" +
			"Note that this is **not for bug reports**.",
		footer: "Report Ticket System",
		buttons: []discordgo.Button{
			ticketButton("Report a Theme", "🎫", buttonReportTheme, discordgo.PrimaryButton),
			ticketButton("Report a Plugin", "🎫", buttonReportPlugin, discordgo.PrimaryButton),
		},
		setupDone: "✅ Report ticket system has been set up in %s",
	}
	sponsorTicketMenu = ticketMenu{
		title: "📩 Sponsor Ticket System",
		description: "Looking to become a sponsor, have enquiries about sponsoring or claiming your sponsor role? " +
			"This is the place!\n\n",
		footer: "Sponsor Ticket System",
		buttons: []discordgo.Button{
			ticketButton("Become a Sponsor", "🎫", buttonBecomeSponsor, discordgo.PrimaryButton),
			ticketButton("Submit Enquiry", "🎫", buttonSubmitEnquiry, discordgo.PrimaryButton),
			ticketButton("Claim Sponsor Role", "🎫", buttonClaimSponsorRole, discordgo.PrimaryButton),
		},
		setupDone: "✅ Sponsor ticket system has been set up in %s",
	}
)

// handleSetupTickets posts the ticket menu to the channel given in the
// command options, or the current channel
func (b *Bot) handleSetupTickets(menu ticketMenu) ComponentHandler {
	return func(ctx context.Context, i *discordgo.InteractionCreate) {
		if !b.requireCapability(ctx, i, b.adminCheck(), adminOnlyMessage) {
			return
		}
		channelID := i.ChannelID
		if opt, ok := discordInteractionOptions(i)[setupChannelOption]; ok {
			if id, isString := opt.Value.(string); isString && id != "" {
				channelID = id
			}
		}

		if _, err := b.session.ChannelMessageSendComplex(
			channelID,
			&discordgo.MessageSend{
				Embeds: []*discordgo.MessageEmbed{
					{
						Title:       menu.title,
						Description: menu.description,
						Color:       colorBlue,
						Footer:      &discordgo.MessageEmbedFooter{Text: menu.footer},
					},
				},
				Components: buttonRows(menu.buttons...),
			},
			discordgo.WithContext(ctx),
		); err != nil {
			b.logger.ErrorContext(ctx, "error sending setup message", tint.Err(err))
			b.respondEphemeral(ctx, i, fmt.Sprintf("❌ Error sending setup message: %s", err))
			return
		}
		b.respondEphemeral(
			ctx,
			i,
			"",
			&discordgo.MessageEmbed{
				Title:       "Setup Complete",
				Description: fmt.Sprintf(menu.setupDone, fmt.Sprintf("<#%s>", channelID)),
				Color:       colorGreen,
			},
		)
	}
}

// handleCloseTicket asks for confirmation before deleting the ticket
// channel. The confirmation is removed if not answered in time.
func (b *Bot) handleCloseTicket(ctx context.Context, i *discordgo.InteractionCreate) {
	resp := ephemeralResponse(
		"",
		&discordgo.MessageEmbed{
			Title: "Close Ticket Confirmation",
			Description: "Are you sure you want to close this ticket? This will **delete the entire channel**. " +
				"If you need a copy of the ticket contents, click on the **Export Ticket** button.",
			Color: colorYellow,
		},
	)
	resp.Data.Components = buttonRows(confirmCloseTicketButton, cancelCloseTicketButton)
	if err := b.session.InteractionRespond(i.Interaction, resp, discordgo.WithContext(ctx)); err != nil {
		b.logger.ErrorContext(
			ctx,
			"error sending close confirmation",
			append(interactionLogAttrs(*i), tint.Err(err))...,
		)
		return
	}

	b.afterDelay(
		ctx, closeConfirmationTimeout, func(ctx context.Context) {
			_ = b.session.InteractionResponseDelete(i.Interaction, discordgo.WithContext(ctx))
		},
	)
}

func (b *Bot) handleConfirmCloseTicket(ctx context.Context, i *discordgo.InteractionCreate) {
	if err := b.acknowledge(ctx, i); err != nil {
		return
	}
	if _, err := b.session.ChannelDelete(i.ChannelID, discordgo.WithContext(ctx)); err != nil {
		b.followupEphemeral(ctx, i, fmt.Sprintf("❌ Error deleting channel: %s", err))
		return
	}
	b.logger.InfoContext(ctx, "🗑️ deleted ticket channel", "channel_id", i.ChannelID)
}

func (b *Bot) handleCancelCloseTicket(ctx context.Context, i *discordgo.InteractionCreate) {
	if err := b.acknowledge(ctx, i); err != nil {
		return
	}
	if err := b.session.InteractionResponseDelete(i.Interaction, discordgo.WithContext(ctx)); err != nil {
		b.logger.WarnContext(ctx, "error deleting close confirmation", tint.Err(err))
	}
}

func (b *Bot) handleExportTicket(ctx context.Context, i *discordgo.InteractionCreate) {
	if err := b.acknowledge(ctx, i); err != nil {
		return
	}
	if err := b.exportChannel(ctx, i.ChannelID, i.ChannelID); err != nil {
		b.logger.ErrorContext(ctx, "error exporting chat history", tint.Err(err))
		b.followupEphemeral(ctx, i, fmt.Sprintf("❌ Error exporting chat history: %s", err))
	}
}

// exportChannel uploads the full history of targetID to downloadID, as
// a text file, oldest message first
func (b *Bot) exportChannel(ctx context.Context, targetID string, downloadID string) error {
	target, err := b.session.Channel(targetID, discordgo.WithContext(ctx))
	if err != nil {
		return &ChannelUnavailableError{ChannelID: targetID, Err: err}
	}
	messages, err := fetchMessages(ctx, b.session, targetID, 0)
	if err != nil {
		return fmt.Errorf("error reading messages: %w", err)
	}
	if len(messages) == 0 {
		_, err = b.session.ChannelMessageSend(downloadID, noMessagesToExport, discordgo.WithContext(ctx))
		return err
	}

	entries := make([]string, 0, len(messages))
	for idx := len(messages) - 1; idx >= 0; idx-- {
		entries = append(entries, exportMessage(messages[idx]))
	}

	_, err = b.session.ChannelMessageSendComplex(
		downloadID,
		&discordgo.MessageSend{
			Content: fmt.Sprintf("📁 Here is the chat history of **#%s**:", target.Name) + exportAssetsNote,
			Files: []*discordgo.File{
				{
					Name:        fmt.Sprintf("chat_history_%s.txt", target.Name),
					ContentType: "text/plain",
					Reader:      strings.NewReader(strings.Join(entries, "\n\n")),
				},
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	b.logger.InfoContext(ctx, "✅ exported chat history", "channel", target.Name, "messages", len(entries))
	return nil
}

// exportMessage formats a message for a chat history export, with
// attachment and embed details
func exportMessage(m *discordgo.Message) string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(
		&sb,
		"[%s] %s: %s",
		m.Timestamp.UTC().Format("2006-01-02 15:04:05-07:00"),
		memberDisplayName(m.Member, m.Author),
		m.Content,
	)
	if len(m.Attachments) > 0 {
		sb.WriteString("\n")
		for _, a := range m.Attachments {
			_, _ = fmt.Fprintf(&sb, "\n- Attachment: %s", a.URL)
		}
	}
	for idx, e := range m.Embeds {
		_, _ = fmt.Fprintf(&sb, "\n- Embed %d:", idx+1)
		if e.Title != "" {
			_, _ = fmt.Fprintf(&sb, "\n  Title: %s", e.Title)
		}
		if e.Description != "" {
			_, _ = fmt.Fprintf(&sb, "\n  Description: %s", e.Description)
		}
		for _, f := range e.Fields {
			_, _ = fmt.Fprintf(&sb, "\n  Field - %s: %s", f.Name, f.Value)
		}
		if e.Image != nil {
			_, _ = fmt.Fprintf(&sb, "\n  Image: %s", e.Image.URL)
		}
		if e.Thumbnail != nil {
			_, _ = fmt.Fprintf(&sb, "\n  Thumbnail: %s", e.Thumbnail.URL)
		}
	}
	return sb.String()
}

// acknowledge defers an update to the interaction's message
func (b *Bot) acknowledge(ctx context.Context, i *discordgo.InteractionCreate) error {
	err := b.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		b.logger.ErrorContext(
			ctx,
			"error acknowledging interaction",
			append(interactionLogAttrs(*i), tint.Err(err))...,
		)
	}
	return err
}

func (b *Bot) followupEphemeral(ctx context.Context, i *discordgo.InteractionCreate, content string) {
	if _, err := b.session.FollowupMessageCreate(
		i.Interaction,
		false,
		&discordgo.WebhookParams{Content: content, Flags: discordgo.MessageFlagsEphemeral},
		discordgo.WithContext(ctx),
	); err != nil {
		b.logger.ErrorContext(ctx, "error sending followup", tint.Err(err))
	}
}

// afterDelay runs fn once d has elapsed, unless ctx is canceled first
func (b *Bot) afterDelay(ctx context.Context, d time.Duration, fn func(ctx context.Context)) {
	b.runtimeWG.Add(1)
	go func() {
		defer b.runtimeWG.Done()
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			fn(ctx)
		}
	}()
}

func ticketCommands() map[string][]*discordgo.ApplicationCommand {
	setupOption := []*discordgo.ApplicationCommandOption{
		{
			Type:         discordgo.ApplicationCommandOptionChannel,
			Name:         setupChannelOption,
			Description:  "The channel to set up the system in",
			ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
			Required:     false,
		},
	}
	return map[string][]*discordgo.ApplicationCommand{
		moduleSupportTickets: {
			{
				Name:        commandCreateSupportTicket,
				Description: "Open a support ticket (Sponsors only)",
			},
			{
				Name:        commandSetupSupportTickets,
				Description: "Set up the support ticket system (Admin Only)",
				Options:     setupOption,
			},
		},
		moduleReportTickets: {
			{
				Name:        commandCreateReportTicket,
				Description: "Open a report ticket",
			},
			{
				Name:        commandSetupReportTickets,
				Description: "Set up the report ticket system (Admin Only)",
				Options:     setupOption,
			},
		},
		moduleSponsorTickets: {
			{
				Name:        commandCreateSponsorTicket,
				Description: "Open a sponsor ticket",
			},
			{
				Name:        commandSetupSponsorTickets,
				Description: "Set up the sponsor ticket system (Admin Only)",
				Options:     setupOption,
			},
		},
	}
}
