package bot

import (
	"bytes"
	"context"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
	"time"
)

func TestBot_Run(t *testing.T) {
	cfg := testConfig(t)
	cfg.LoadedModules = []string{moduleGames, moduleLogging, "missing"}
	cfg.Discord.CustomStatus = "Watching the services"
	b, session := newTestBot(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- b.Run(ctx)
	}()

	waitFor(
		t, func() bool {
			session.mu.Lock()
			defer session.mu.Unlock()
			return session.opened &&
				len(session.commands) > 0 &&
				session.customStatus == "Watching the services"
		}, "bot should connect and register commands",
	)
	assert.Equal(t, []string{moduleGames, moduleLogging}, b.modules.EnabledNames())
	session.mu.Lock()
	assert.Positive(t, session.handlers)
	session.mu.Unlock()

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bot did not shut down")
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.False(t, session.opened)
	assert.Equal(t, 0, session.handlers)
}

func TestBot_Run_InvalidConfig(t *testing.T) {
	b, session := newTestBot(t, nil)
	b.config.Discord.Token = ""

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.False(t, session.opened)
}

func TestBot_HandleReady(t *testing.T) {
	invoker := &staticInvoker{
		prompts:  []Prompt{{ID: "check_api", Content: "Is the api healthy?"}},
		contents: []string{"api"},
	}
	b, _ := commandCenterTestBot(t, nil, &scriptedModel{}, invoker)
	b.botUserID.Store(nil)
	assert.Empty(t, b.BotUserID())

	b.handleReady(context.Background(), &discordgo.Ready{User: &discordgo.User{ID: "new-id", Username: "bot"}})
	assert.Equal(t, "new-id", b.BotUserID())
	assert.True(t, b.connected.Load())
	assert.Len(t, b.commandCenter.UserPrompts(), 1)
	assert.Equal(t, ServiceCatalog{"api"}, b.commandCenter.Services())
}

func TestBot_HandleReady_CleansVoiceChannels(t *testing.T) {
	b, session := newTestBot(t, nil)
	enableModules(t, b, moduleAutoVoice)
	_, err := b.db.Create(context.Background(), &VoiceChannel{ChannelID: "stale", GuildID: testGuildID, OwnerID: "u1"})
	require.NoError(t, err)
	session.addChannel(&discordgo.Channel{ID: "stale", Type: discordgo.ChannelTypeGuildVoice})

	b.handleReady(context.Background(), &discordgo.Ready{User: session.botUser})
	assert.Equal(t, []string{"stale"}, session.deleted())
}

func TestBot_HandleMessage(t *testing.T) {
	b, session := gameTestBot(t)
	ctx := context.Background()
	require.NoError(t, b.modules.Disable(ctx, moduleGames))

	msg := session.addMessage(testCountChannelID, newTestUser("u1"), "not a number")
	b.handleMessage(ctx, &discordgo.MessageCreate{Message: msg})
	assert.Empty(t, session.deletedMessageIDs())

	enableModules(t, b, moduleGames)
	b.handleMessage(ctx, &discordgo.MessageCreate{Message: msg})
	assert.Contains(t, session.deletedMessageIDs(), msg.ID)

	// the bot's own messages are ignored
	own := session.addMessage(testCountChannelID, session.botUser, "also not a number")
	b.handleMessage(ctx, &discordgo.MessageCreate{Message: own})
	b.runtimeWG.Wait()
	assert.NotContains(t, session.deletedMessageIDs(), own.ID)
}

func TestBot_HandleVoiceState(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoVoice.JoinChannelID = testJoinChannelID
	cfg.ActivityLog.ChannelID = testActivityLogChannelID
	b, session := newTestBot(t, cfg)
	session.addChannel(&discordgo.Channel{ID: testJoinChannelID, Name: "Join to Create"})
	session.addMember(&discordgo.Member{User: newTestUser("u1")})
	enableModules(t, b, moduleLogging)

	b.handleVoiceState(context.Background(), voiceUpdate("u1", "", testJoinChannelID))
	assert.Equal(t, []string{"🔊 Voice | u1 joined Join to Create"}, session.botMessages(testActivityLogChannelID))
	assert.Empty(t, session.created())

	enableModules(t, b, moduleAutoVoice)
	b.handleVoiceState(context.Background(), voiceUpdate("u1", "", testJoinChannelID))
	assert.Len(t, session.created(), 1)
}

func TestBot_HandleInteraction(t *testing.T) {
	b, session := newTestBot(t, nil)
	ctx := context.Background()

	b.handleInteraction(ctx, newTestComponentInteraction("unknown_button", "c1", newTestUser("u1")))
	assert.Equal(t, componentUnavailableMessage, session.lastResponse(t).Data.Content)

	b.handleInteraction(
		ctx,
		newTestCommandInteraction(
			discordgo.ApplicationCommandInteractionData{Name: "unknown"},
			"c1",
			newTestUser("u1"),
		),
	)
	assert.Len(t, session.interactionResponses(), 2)

	b.handleInteraction(
		ctx,
		&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing}},
	)
	assert.Len(t, session.interactionResponses(), 2)
}

func TestBot_HandleRecover(t *testing.T) {
	b, _ := newTestBot(t, nil)
	buf := &bytes.Buffer{}
	b.logger = slog.New(slog.NewJSONHandler(buf, nil))

	testCases := []struct {
		name     string
		panicArg any
		expected string
	}{
		{name: "error", panicArg: errors.New("bad state"), expected: "bad state"},
		{name: "string", panicArg: "out of range", expected: "out of range"},
		{name: "other", panicArg: 42, expected: `"panic_arg":42`},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				buf.Reset()
				b.handle(
					context.Background(), "test", func(context.Context) {
						panic(tc.panicArg)
					},
				)
				b.runtimeWG.Wait()
				assert.Contains(t, buf.String(), "recovered from panic")
				assert.Contains(t, buf.String(), tc.expected)
				assert.Contains(t, buf.String(), `"source":"test"`)
			},
		)
	}
}

func TestBot_UpdateLogLevels(t *testing.T) {
	b, _ := newTestBot(t, nil)

	updated := DefaultConfig()
	updated.LogLevel.Set(slog.LevelError)
	updated.Discord.LogLevel.Set(slog.LevelDebug)
	updated.CommandCenter.LogLevel.Set(slog.LevelWarn)
	updated.WebhookServer.LogLevel = nil

	before := b.config.WebhookServer.LogLevel.Level()
	b.UpdateLogLevels(updated)
	assert.Equal(t, slog.LevelError, b.config.LogLevel.Level())
	assert.Equal(t, slog.LevelDebug, b.config.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, b.config.CommandCenter.LogLevel.Level())
	assert.Equal(t, before, b.config.WebhookServer.LogLevel.Level())
}

func TestBot_SetSession(t *testing.T) {
	b, session := newTestBot(t, nil)
	withAgents(b, &scriptedModel{}, &staticInvoker{})
	previous := b.manager

	other := newMockDiscordSession()
	b.SetSession(other)
	assert.NotSame(t, previous, b.manager)
	assert.NotSame(t, session, b.session)
}

func TestBot_New_ModelUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.CommandCenter.Provider = providerGemini
	cfg.Gemini.APIKey = ""
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	b, err := New(cfg)
	require.NoError(t, err)
	assert.Nil(t, b.model)
	require.Error(t, b.modelErr)

	err = b.modules.Enable(context.Background(), moduleAgents)
	assert.ErrorIs(t, err, b.modelErr)
	assert.False(t, b.modules.Enabled(moduleAgents))
}
