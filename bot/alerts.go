package bot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"time"
)

const (
	alertWebhookName      = "Alert Webhook"
	alertWebhookUsername  = "🚨 Alert"
	alertWebhookAvatarURL = "http://cdn-icons-png.flaticon.com/512/5585/5585025.png"
	alertEmbedTitle       = "Alert"
	alertThreadPrefix     = "🚨-"
	noMessageProvided     = "No message provided."

	colorBlue   = 0x3498db
	colorGreen  = 0x2ecc71
	colorYellow = 0xf1c40f
	colorOrange = 0xe67e22
	colorRed    = 0xe74c3c
)

var alertColors = map[AlertType]int{
	AlertServiceDown:             colorRed,
	AlertServiceDegraded:         colorOrange,
	AlertServiceRestarting:       colorYellow,
	AlertServiceRestartFailed:    colorRed,
	AlertServiceRestartSucceeded: colorGreen,
}

// alertColor returns the embed colour for the alert type, yellow for
// anything unrecognized
func alertColor(t AlertType) int {
	if c, ok := alertColors[t]; ok {
		return c
	}
	return colorYellow
}

// handleAlertEvent posts an alert to the command center channel. Known
// alert types are handed to the agents when the alerts and agents
// modules are enabled. Anything else is posted as-is.
func (b *Bot) handleAlertEvent(ctx context.Context, event AlertEvent) {
	alertType := event.AlertType()
	b.metrics.AlertsReceived.WithLabelValues(string(alertType)).Inc()
	logger := b.logger.With("alert_type", alertType)

	channelID := b.config.CommandCenter.ChannelID
	if channelID == "" {
		logger.WarnContext(ctx, "command center channel not configured, dropping alert")
		return
	}

	switch {
	case b.modules.Enabled(moduleAlerts) && b.agentsReady():
		if err := b.handleWebhookInput(ctx, channelID, event); err != nil {
			logger.ErrorContext(ctx, "error handling alert", tint.Err(err))
		}
	case b.modules.Enabled(moduleCommandCenter):
		if err := b.postWebhookEvent(ctx, channelID, event.Message); err != nil {
			logger.ErrorContext(ctx, "error posting webhook event", tint.Err(err))
		}
	default:
		logger.WarnContext(ctx, "alerts and command center disabled, dropping alert")
	}
}

// handleWebhookInput routes a known alert type to the agents, and
// posts anything else to the channel
func (b *Bot) handleWebhookInput(ctx context.Context, channelID string, event AlertEvent) error {
	alertType := event.AlertType()
	instruction, ok := alertType.Instruction()
	if !ok {
		return b.postWebhookEvent(ctx, channelID, event.Message)
	}
	return b.sendServiceAlert(ctx, channelID, alertType, instruction, event.Message)
}

func (b *Bot) postWebhookEvent(ctx context.Context, channelID string, message string) error {
	if message == "" {
		message = noMessageProvided
	}
	_, err := b.session.ChannelMessageSend(
		channelID,
		fmt.Sprintf("Webhook event received: %s", message),
		discordgo.WithContext(ctx),
	)
	return err
}

// sendServiceAlert posts the alert through the channel's alert webhook,
// opens a thread on it and has the agent manager handle it there
func (b *Bot) sendServiceAlert(
	ctx context.Context,
	channelID string,
	alertType AlertType,
	instruction string,
	message string,
) error {
	webhook, err := b.alertWebhook(ctx, channelID)
	if err != nil {
		return err
	}

	content := fmt.Sprintf(
		"<@%s> %s Here are the details:\n%s",
		b.BotUserID(),
		instruction,
		message,
	)
	msg, err := b.session.WebhookExecute(
		webhook.ID,
		webhook.Token,
		true,
		&discordgo.WebhookParams{
			Username:  alertWebhookUsername,
			AvatarURL: alertWebhookAvatarURL,
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       alertEmbedTitle,
					Description: content,
					Color:       alertColor(alertType),
				},
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error executing alert webhook: %w", err)
	}

	thread, err := b.session.MessageThreadStart(
		channelID,
		msg.ID,
		alertThreadPrefix+threadTimestamp(time.Now()),
		discordThreadArchiveDuration,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error starting alert thread: %w", err)
	}
	b.logger.InfoContext(
		ctx,
		"opened alert thread",
		"alert_type", alertType,
		"thread_id", thread.ID,
	)

	withTyping(
		ctx, b.session, thread.ID, func(ctx context.Context) {
			b.manager.HandleAlert(ctx, content, thread.ID)
		},
	)
	return nil
}

// alertWebhook returns the channel's alert webhook, creating it if it
// doesn't exist yet
func (b *Bot) alertWebhook(ctx context.Context, channelID string) (*discordgo.Webhook, error) {
	webhooks, err := b.session.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, &ChannelUnavailableError{ChannelID: channelID, Err: err}
	}
	for _, w := range webhooks {
		if w.Name == alertWebhookName {
			return w, nil
		}
	}
	w, err := b.session.WebhookCreate(channelID, alertWebhookName, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("error creating alert webhook: %w", err)
	}
	b.logger.InfoContext(ctx, "created alert webhook", "channel_id", channelID, "webhook_id", w.ID)
	return w, nil
}
