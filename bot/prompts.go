package bot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"time"
)

const (
	promptSuggestionSelectID    = "prompt_suggestion_select"
	promptSuggestionPlaceholder = "Click Me!"
	discordSelectTextLimit      = 100
)

// sendPromptSuggestions offers the user prompts in a select menu, or
// asks what the user needs if there are none
func (b *Bot) sendPromptSuggestions(ctx context.Context, channelID string) error {
	prompts := b.commandCenter.UserPrompts()
	if len(prompts) == 0 {
		_, err := b.session.ChannelMessageSend(channelID, noPromptsMessage, discordgo.WithContext(ctx))
		return err
	}
	_, err := b.session.ChannelMessageSendComplex(
		channelID,
		promptSuggestionMessage(prompts),
		discordgo.WithContext(ctx),
	)
	return err
}

func promptSuggestionMessage(prompts []Prompt) *discordgo.MessageSend {
	if len(prompts) > discordMaxSelectOptions {
		prompts = prompts[:discordMaxSelectOptions]
	}
	options := make([]discordgo.SelectMenuOption, 0, len(prompts))
	for _, p := range prompts {
		label := p.Title
		if label == "" {
			label = p.Content
		}
		options = append(
			options, discordgo.SelectMenuOption{
				Label:       truncate(label, discordSelectTextLimit),
				Value:       p.ID,
				Description: truncate(p.Description, discordSelectTextLimit),
			},
		)
	}
	return &discordgo.MessageSend{
		Content: promptSuggestionHeader,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.SelectMenu{
						MenuType:    discordgo.StringSelectMenu,
						CustomID:    promptSuggestionSelectID,
						Placeholder: promptSuggestionPlaceholder,
						Options:     options,
					},
				},
			},
		},
	}
}

// registerPromptComponents replaces the registered prompt handlers with
// one for each of the current user prompts
func (b *Bot) registerPromptComponents() {
	b.promptMu.Lock()
	defer b.promptMu.Unlock()

	b.components.Unregister(b.promptIDs...)
	b.promptIDs = nil
	if b.commandCenter == nil || !b.modules.Enabled(moduleCommandCenter) {
		return
	}
	for _, p := range b.commandCenter.UserPrompts() {
		b.components.Register(p.ID, b.handlePromptSelection)
		b.promptIDs = append(b.promptIDs, p.ID)
	}
}

func (b *Bot) unregisterPromptComponents() {
	b.promptMu.Lock()
	defer b.promptMu.Unlock()
	b.components.Unregister(b.promptIDs...)
	b.promptIDs = nil
}

// handlePromptSelection runs the content of the selected prompt through
// the agents, in a new thread
func (b *Bot) handlePromptSelection(ctx context.Context, i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()
	if len(data.Values) == 0 {
		b.respondEphemeral(ctx, i, componentUnavailableMessage)
		return
	}
	logger := b.logger.With(interactionLogAttrs(*i)...)

	prompt, ok := b.commandCenter.Prompt(data.Values[0])
	if !ok || !b.agentsReady() {
		logger.WarnContext(ctx, "prompt unavailable", "prompt_id", data.Values[0])
		b.respondEphemeral(ctx, i, componentUnavailableMessage)
		return
	}

	if u := interactionUser(i.Interaction); u != nil && !b.limiter.Allow(u.ID) {
		b.metrics.RateLimited.Inc()
		b.respondEphemeral(ctx, i, DefaultRateLimitMessage)
		return
	}

	if err := b.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate},
		discordgo.WithContext(ctx),
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging prompt selection", tint.Err(err))
		return
	}

	label := prompt.Title
	if label == "" {
		label = prompt.Content
	}
	starter, err := b.session.ChannelMessageSend(
		i.ChannelID,
		fmt.Sprintf("💡 %s", truncate(label, discordSelectTextLimit)),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error sending prompt message", tint.Err(err))
		return
	}
	thread, err := b.session.MessageThreadStart(
		i.ChannelID,
		starter.ID,
		agentThreadPrefix+threadTimestamp(time.Now()),
		discordThreadArchiveDuration,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error starting prompt thread", tint.Err(err))
		return
	}

	logger.InfoContext(ctx, "handling prompt", "prompt_id", prompt.ID, "thread_id", thread.ID)
	withTyping(
		ctx, b.session, thread.ID, func(ctx context.Context) {
			b.manager.HandleUserMessage(ctx, prompt.Content, thread.ID)
		},
	)
}
