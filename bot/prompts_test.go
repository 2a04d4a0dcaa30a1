package bot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func newTestSelectInteraction(channelID string, user *discordgo.User, values ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction-select",
			Type:      discordgo.InteractionMessageComponent,
			GuildID:   testGuildID,
			ChannelID: channelID,
			Member:    &discordgo.Member{User: user},
			Data: discordgo.MessageComponentInteractionData{
				CustomID:      promptSuggestionSelectID,
				ComponentType: discordgo.SelectMenuComponent,
				Values:        values,
			},
		},
	}
}

func promptTestBot(t *testing.T, model *scriptedModel) (*Bot, *mockDiscordSession) {
	t.Helper()
	invoker := &staticInvoker{
		prompts: []Prompt{
			{ID: "system://main", Content: "You are the ops assistant"},
			{ID: "check_api", Title: "Check the API", Content: "Is the api healthy?"},
			{ID: "restart_web", Content: "Restart the web service"},
		},
		contents: []string{"api, web"},
	}
	b, session := commandCenterTestBot(t, nil, model, invoker)
	require.NoError(t, b.loadCatalog(context.Background()))
	return b, session
}

func TestHandlePromptSelection(t *testing.T) {
	model := &scriptedModel{
		generate: func(string) (string, error) {
			return "command_center", nil
		},
		text: "The api is healthy",
	}
	b, session := promptTestBot(t, model)

	b.dispatchComponent(
		context.Background(),
		newTestSelectInteraction(testCommandCenterChannelID, newTestUser("u1"), "check_api"),
	)

	responses := session.interactionResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, discordgo.InteractionResponseDeferredMessageUpdate, responses[0].Type)

	assert.Equal(t, []string{"💡 Check the API"}, session.botMessages(testCommandCenterChannelID))

	threads := session.threads()
	require.Len(t, threads, 1)
	assert.True(t, strings.HasPrefix(threads[0].Name, agentThreadPrefix))
	assert.Equal(t, []string{"The api is healthy"}, session.botMessages(threads[0].ID))

	requests := model.chatRequests()
	require.Len(t, requests, 1)
	assert.Equal(t, "Is the api healthy?", requests[0].Input)
	assert.Equal(t, renderSystemContext(ServiceCatalog{"api", "web"}), requests[0].System)
}

func TestHandlePromptSelection_ContentLabel(t *testing.T) {
	model := &scriptedModel{
		generate: func(string) (string, error) {
			return "command_center", nil
		},
		text: "Restarted",
	}
	b, session := promptTestBot(t, model)

	b.dispatchComponent(
		context.Background(),
		newTestSelectInteraction(testCommandCenterChannelID, newTestUser("u1"), "restart_web"),
	)
	assert.Equal(
		t,
		[]string{"💡 Restart the web service"},
		session.botMessages(testCommandCenterChannelID),
	)
}

func TestHandlePromptSelection_Unavailable(t *testing.T) {
	model := &scriptedModel{}
	b, session := promptTestBot(t, model)
	ctx := context.Background()

	// system prompts aren't selectable
	b.dispatchComponent(
		ctx,
		newTestSelectInteraction(testCommandCenterChannelID, newTestUser("u1"), "system://main"),
	)
	assert.Equal(t, componentUnavailableMessage, session.lastResponse(t).Data.Content)

	// no value
	b.handlePromptSelection(ctx, newTestSelectInteraction(testCommandCenterChannelID, newTestUser("u1")))
	assert.Equal(t, componentUnavailableMessage, session.lastResponse(t).Data.Content)

	// agents disabled
	require.NoError(t, b.modules.Disable(ctx, moduleAgents))
	b.handlePromptSelection(
		ctx,
		newTestSelectInteraction(testCommandCenterChannelID, newTestUser("u1"), "check_api"),
	)
	assert.Equal(t, componentUnavailableMessage, session.lastResponse(t).Data.Content)

	assert.Empty(t, session.threads())
	assert.Empty(t, model.chatRequests())
}

func TestRegisterPromptComponents(t *testing.T) {
	b, _ := promptTestBot(t, &scriptedModel{})
	ctx := context.Background()

	_, ok := b.components.Handler("check_api")
	assert.True(t, ok)
	_, ok = b.components.Handler("restart_web")
	assert.True(t, ok)
	_, ok = b.components.Handler("system://main")
	assert.False(t, ok)

	require.NoError(t, b.modules.Disable(ctx, moduleCommandCenter))
	_, ok = b.components.Handler("check_api")
	assert.False(t, ok)

	require.NoError(t, b.modules.Enable(ctx, moduleCommandCenter))
	_, ok = b.components.Handler("check_api")
	assert.True(t, ok)
}

func TestPromptSuggestionMessage_Limits(t *testing.T) {
	t.Parallel()
	prompts := make([]Prompt, 0, discordMaxSelectOptions+5)
	for i := 0; i < discordMaxSelectOptions+5; i++ {
		prompts = append(
			prompts, Prompt{
				ID:          fmt.Sprintf("p%d", i),
				Title:       strings.Repeat("t", 150),
				Description: strings.Repeat("d", 150),
			},
		)
	}
	msg := promptSuggestionMessage(prompts)
	row := msg.Components[0].(discordgo.ActionsRow)
	menu := row.Components[0].(discordgo.SelectMenu)
	require.Len(t, menu.Options, discordMaxSelectOptions)
	assert.Len(t, menu.Options[0].Label, discordSelectTextLimit)
	assert.Len(t, menu.Options[0].Description, discordSelectTextLimit)
	assert.Equal(t, promptSuggestionPlaceholder, menu.Placeholder)
}
