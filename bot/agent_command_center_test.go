package bot

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func newTestCommandCenterAgent(
	invoker ToolInvoker,
	model LanguageModel,
	session *mockDiscordSession,
) *CommandCenterAgent {
	return NewCommandCenterAgent(
		CommandCenterConfig{},
		invoker,
		model,
		session,
		func() string { return testBotUserID },
		nil,
	)
}

func TestCommandCenterAgent_GetResponse(t *testing.T) {
	t.Parallel()
	ts, invoker := newTestToolServer(t, nil)
	session := newMockDiscordSession()
	session.addMessage("thread", newTestUser("u1"), "is everything ok?")
	session.addMessage("thread", session.botUser, "Let me look")

	model := &scriptedModel{
		calls: [][]ToolCall{
			{
				{Name: toolGetServiceHealth, Args: map[string]any{"service_name": "api"}},
				{Name: toolGetServiceHealth, Args: map[string]any{"service_name": "web"}},
			},
			{
				{Name: toolTriggerUser, Args: map[string]any{"message": "all good"}},
			},
		},
		text: "✅ Both services are healthy",
	}
	agent := newTestCommandCenterAgent(invoker, model, session)

	text, actions := agent.GetResponse(context.Background(), "check the services", "thread")
	assert.Equal(t, "✅ Both services are healthy", text)
	assert.Equal(
		t,
		[]ActionRecord{
			{
				Name:   toolGetServiceHealth,
				Args:   map[string]any{"service_name": "api"},
				Result: map[string]any{"service": "api", "status": "healthy"},
			},
			{
				Name:   toolGetServiceHealth,
				Args:   map[string]any{"service_name": "web"},
				Result: map[string]any{"service": "web", "status": "healthy"},
			},
			{
				Name:   toolTriggerUser,
				Args:   map[string]any{"message": "all good"},
				Result: "notified",
			},
		},
		actions,
	)
	assert.Len(t, ts.toolCalls(), 3)

	requests := model.chatRequests()
	require.Len(t, requests, 1)
	req := requests[0]
	assert.Equal(t, "check the services", req.Input)
	assert.Equal(
		t,
		[]ConversationTurn{
			{Role: RoleUser, Text: "is everything ok?"},
			{Role: RoleModel, Text: "Let me look"},
		},
		req.History,
	)
	assert.Equal(t, commandCenterTools, req.Tools)
	assert.Equal(t, renderSystemContext(nil), req.System)
}

func TestCommandCenterAgent_GetResponse_ToolError(t *testing.T) {
	t.Parallel()
	_, invoker := newTestToolServer(t, nil)
	model := &scriptedModel{
		calls: [][]ToolCall{
			{{Name: toolGetServiceHealth, Args: map[string]any{"service_name": "billing"}}},
		},
		text: "I couldn't find that service",
	}
	agent := newTestCommandCenterAgent(invoker, model, newMockDiscordSession())

	text, actions := agent.GetResponse(context.Background(), "check billing", "thread")
	assert.Equal(t, "I couldn't find that service", text)
	require.Len(t, actions, 1)
	result, ok := actions[0].Result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, result["error"], `unknown service "billing"`)
}

func TestCommandCenterAgent_GetResponse_ModelError(t *testing.T) {
	t.Parallel()
	model := &scriptedModel{
		chatErr: &ModelCallError{Provider: "scripted", Err: errors.New("quota exceeded")},
	}
	agent := newTestCommandCenterAgent(&staticInvoker{}, model, newMockDiscordSession())

	text, actions := agent.GetResponse(context.Background(), "hello", "thread")
	assert.Equal(t, DefaultAgentApology, text)
	assert.Nil(t, actions)
}

func TestCommandCenterAgent_GetResponse_EmptyText(t *testing.T) {
	t.Parallel()
	invoker := &staticInvoker{results: map[string]any{toolRestartService: "restarted api"}}
	model := &scriptedModel{
		calls: [][]ToolCall{
			{{Name: toolRestartService, Args: map[string]any{"service_name": "api"}}},
		},
	}
	agent := newTestCommandCenterAgent(invoker, model, newMockDiscordSession())

	text, actions := agent.GetResponse(context.Background(), "restart api", "thread")
	assert.Equal(t, DefaultAgentApology, text)
	require.Len(t, actions, 1)
	assert.Equal(t, "restarted api", actions[0].Result)
}

func TestCommandCenterAgent_GetResponse_HistoryError(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession()
	session.channelMessagesErr = errors.New("missing access")
	model := &scriptedModel{text: "hi"}
	agent := newTestCommandCenterAgent(&staticInvoker{}, model, session)

	text, _ := agent.GetResponse(context.Background(), "hello", "thread")
	assert.Equal(t, "hi", text)
	requests := model.chatRequests()
	require.Len(t, requests, 1)
	assert.Empty(t, requests[0].History)
}

func TestCommandCenterAgent_LoadPrompts(t *testing.T) {
	t.Parallel()
	invoker := &staticInvoker{
		prompts: []Prompt{
			{ID: "system://main", Content: "You are the ops assistant"},
			{ID: "check_api", Title: "Check API", Content: "Is the api healthy?"},
		},
	}
	agent := newTestCommandCenterAgent(invoker, &scriptedModel{}, newMockDiscordSession())
	assert.Empty(t, agent.UserPrompts())

	ctx := context.Background()
	require.NoError(t, agent.LoadPrompts(ctx))
	require.NoError(t, agent.LoadPrompts(ctx))

	assert.Len(t, agent.UserPrompts(), 1)
	assert.Len(t, agent.SystemPrompts(), 1)

	p, ok := agent.Prompt("check_api")
	require.True(t, ok)
	assert.Equal(t, "Is the api healthy?", p.Content)
	_, ok = agent.Prompt("system://main")
	assert.False(t, ok)

	invoker.prompts = invoker.prompts[1:]
	require.NoError(t, agent.LoadPrompts(ctx))
	assert.Empty(t, agent.SystemPrompts())
	assert.Len(t, agent.UserPrompts(), 1)
}

func TestCommandCenterAgent_LoadPrompts_Error(t *testing.T) {
	t.Parallel()
	invoker := &staticInvoker{prompts: []Prompt{{ID: "check_api"}}}
	agent := newTestCommandCenterAgent(invoker, &scriptedModel{}, newMockDiscordSession())
	require.NoError(t, agent.LoadPrompts(context.Background()))

	invoker.err = errors.New("unreachable")
	err := agent.LoadPrompts(context.Background())
	assert.ErrorIs(t, err, invoker.err)
	assert.Len(t, agent.UserPrompts(), 1)
}

func TestCommandCenterAgent_SystemInstruction(t *testing.T) {
	t.Parallel()
	invoker := &staticInvoker{
		prompts:  []Prompt{{ID: "system://main", Content: "You are the ops assistant"}},
		contents: []string{`["api", "web"]`},
	}
	agent := newTestCommandCenterAgent(invoker, &scriptedModel{}, newMockDiscordSession())
	ctx := context.Background()

	assert.Equal(t, renderSystemContext(nil), agent.SystemInstruction())

	require.NoError(t, agent.LoadPrompts(ctx))
	assert.Equal(t, "You are the ops assistant", agent.SystemInstruction())

	require.NoError(t, agent.SetSystemContext(ctx))
	assert.Equal(t, renderSystemContext(ServiceCatalog{"api", "web"}), agent.SystemInstruction())
	assert.Equal(t, ServiceCatalog{"api", "web"}, agent.Services())
}

func TestCommandCenterAgent_SetSystemContext_MCP(t *testing.T) {
	t.Parallel()
	_, invoker := newTestToolServer(t, nil)
	agent := newTestCommandCenterAgent(invoker, &scriptedModel{}, newMockDiscordSession())
	assert.Nil(t, agent.Services())

	require.NoError(t, agent.SetSystemContext(context.Background()))
	assert.Equal(t, ServiceCatalog{"api", "web"}, agent.Services())
	assert.Contains(t, agent.SystemInstruction(), "following available services: api, web")
}

func TestCommandCenterAgent_AvailableTools(t *testing.T) {
	t.Parallel()
	agent := newTestCommandCenterAgent(&staticInvoker{}, &scriptedModel{}, newMockDiscordSession())
	assert.Equal(
		t,
		[]string{toolGetServiceHealth, toolRestartService, toolTriggerUser},
		agent.AvailableTools(),
	)
}

func TestExtractActions(t *testing.T) {
	t.Parallel()
	turns := []Turn{
		{Role: RoleUser, Text: "check api and web"},
		{
			Role: RoleModel,
			Calls: []ToolCall{
				{Name: toolGetServiceHealth, Args: map[string]any{"service_name": "api"}},
				{Name: toolRestartService, Args: map[string]any{"service_name": "web"}},
			},
		},
		{
			Role: RoleUser,
			Results: []ToolResult{
				{Name: toolRestartService, Error: "permission denied"},
				{Name: toolGetServiceHealth, Result: "healthy"},
			},
		},
		{Role: RoleModel, Text: "done"},
		{
			Role:  RoleModel,
			Calls: []ToolCall{{Name: toolTriggerUser}},
		},
	}

	assert.Equal(
		t,
		[]ActionRecord{
			{
				Name:   toolGetServiceHealth,
				Args:   map[string]any{"service_name": "api"},
				Result: "healthy",
			},
			{
				Name:   toolRestartService,
				Args:   map[string]any{"service_name": "web"},
				Result: map[string]any{"error": "permission denied"},
			},
		},
		extractActions(turns),
	)
	assert.Empty(t, extractActions(nil))
}
