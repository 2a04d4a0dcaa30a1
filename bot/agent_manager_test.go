package bot

import (
	"context"
	"errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
	"time"
)

// newTestAgentManager wires both agents to the same model and session
func newTestAgentManager(
	model LanguageModel,
	invoker ToolInvoker,
	session *mockDiscordSession,
) *AgentManager {
	support := NewSupportAgent(model, session, testInsightsChannelID, nil)
	commandCenter := newTestCommandCenterAgent(invoker, model, session)
	m := NewAgentManager(support, commandCenter, session, nil)
	m.responses = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_agent_responses_total"},
		[]string{"route"},
	)
	return m
}

func TestAgentManager_HandleAlert_Resolve(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession()
	session.addMessage("t1", newTestUser("u1"), "api recovered on its own")

	model := &scriptedModel{
		generate: func(prompt string) (string, error) {
			if strings.HasPrefix(prompt, "Summarize") {
				return "api recovered without intervention", nil
			}
			return "The issue is resolved. resolve_thread(thread_id=t1)", nil
		},
	}
	m := newTestAgentManager(model, &staticInvoker{}, session)

	m.HandleAlert(context.Background(), "api is back up", "t1")

	assert.Equal(
		t,
		[]string{"api recovered without intervention"},
		session.botMessages(testInsightsChannelID),
	)
	edits := session.edits("t1")
	require.Len(t, edits, 1)
	require.NotNil(t, edits[0].Archived)
	assert.True(t, *edits[0].Archived)
	assert.Empty(t, session.botMessages("t1"))
	assert.Empty(t, model.chatRequests())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responses.WithLabelValues(routeResolve)))
}

func TestAgentManager_HandleAlert_Remedy(t *testing.T) {
	t.Parallel()
	ts, invoker := newTestToolServer(t, nil)
	ts.setHealth("api", "down")
	session := newMockDiscordSession()

	model := &scriptedModel{
		generate: func(string) (string, error) {
			return "Check the api health and restart it if it's down", nil
		},
		calls: [][]ToolCall{
			{{Name: toolGetServiceHealth, Args: map[string]any{"service_name": "api"}}},
			{{Name: toolRestartService, Args: map[string]any{"service_name": "api"}}},
		},
		text: "✅ The api was down, and has been restarted",
	}
	m := newTestAgentManager(model, invoker, session)

	m.HandleAlert(context.Background(), "api is down", "t1")

	requests := model.chatRequests()
	require.Len(t, requests, 1)
	assert.Equal(t, "Check the api health and restart it if it's down", requests[0].Input)

	messages := session.botMessages("t1")
	require.Len(t, messages, 1)
	assert.Equal(
		t,
		FormatResponse(
			"✅ The api was down, and has been restarted",
			[]ActionRecord{
				{
					Name:   toolGetServiceHealth,
					Args:   map[string]any{"service_name": "api"},
					Result: map[string]any{"service": "api", "status": "down"},
				},
				{
					Name:   toolRestartService,
					Args:   map[string]any{"service_name": "api"},
					Result: "restarted api",
				},
			},
		),
		messages[0],
	)
	assert.Empty(t, session.edits("t1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responses.WithLabelValues(routeAlert)))
}

func TestAgentManager_HandleUserMessage(t *testing.T) {
	t.Parallel()

	t.Run(
		"support", func(t *testing.T) {
			session := newMockDiscordSession()
			session.addMessage("t1", newTestUser("u1"), "what happened here?")
			model := &scriptedModel{
				generate: func(prompt string) (string, error) {
					if strings.HasPrefix(prompt, "Summarize") {
						return "The api went down and was restarted", nil
					}
					return "support", nil
				},
			}
			m := newTestAgentManager(model, &staticInvoker{}, session)

			m.HandleUserMessage(context.Background(), "summarize this thread", "t1")
			assert.Equal(t, []string{"The api went down and was restarted"}, session.botMessages("t1"))
			assert.Empty(t, model.chatRequests())
			assert.Equal(t, 1.0, testutil.ToFloat64(m.responses.WithLabelValues(routeSupport)))
		},
	)

	t.Run(
		"command center", func(t *testing.T) {
			session := newMockDiscordSession()
			model := &scriptedModel{
				generate: func(string) (string, error) {
					return "command_center", nil
				},
				text: "All services are healthy",
			}
			m := newTestAgentManager(model, &staticInvoker{}, session)

			m.HandleUserMessage(context.Background(), "how are the services?", "t1")
			assert.Equal(t, []string{"All services are healthy"}, session.botMessages("t1"))
			requests := model.chatRequests()
			require.Len(t, requests, 1)
			assert.Equal(t, "how are the services?", requests[0].Input)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.responses.WithLabelValues(routeCommandCenter)))
		},
	)
}

func TestAgentManager_ResolveThread(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession()
	model := &scriptedModel{
		generate: func(string) (string, error) {
			return "nothing notable", nil
		},
	}
	m := newTestAgentManager(model, &staticInvoker{}, session)
	m.ResolveThread(context.Background(), "t1")
	assert.Equal(t, []string{"nothing notable"}, session.botMessages(testInsightsChannelID))
	assert.Len(t, session.edits("t1"), 1)
}

func TestAgentManager_HandleAlert_NoRemedy(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession()
	model := &scriptedModel{
		generate: func(string) (string, error) {
			return "", &ModelCallError{Provider: "scripted", Err: errors.New("quota exceeded")}
		},
		text: "should never be sent",
	}
	m := newTestAgentManager(model, &staticInvoker{}, session)

	m.HandleAlert(context.Background(), "api is down", "t1")

	assert.Empty(t, model.chatRequests())
	assert.Equal(t, []string{DefaultAgentApology}, session.botMessages("t1"))
	assert.Empty(t, session.edits("t1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responses.WithLabelValues(routeAlert)))
}

func TestAgentManager_ResolveThread_NoSummary(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession()
	session.addMessage("t1", newTestUser("u1"), "api recovered on its own")
	model := &scriptedModel{
		generate: func(prompt string) (string, error) {
			if strings.HasPrefix(prompt, "Summarize") {
				return "", errors.New("model unavailable")
			}
			return "resolve_thread(thread_id=t1)", nil
		},
	}
	m := newTestAgentManager(model, &staticInvoker{}, session)

	m.HandleAlert(context.Background(), "api is back up", "t1")

	assert.Empty(t, session.botMessages(testInsightsChannelID))
	assert.Empty(t, session.edits("t1"))
	assert.Equal(t, []string{DefaultAgentApology}, session.botMessages("t1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responses.WithLabelValues(routeResolve)))
}

func TestAgentManager_HandleUserMessage_NoSummary(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession()
	session.channelMessagesErr = errors.New("missing access")
	model := &scriptedModel{
		generate: func(string) (string, error) {
			return "support", nil
		},
	}
	m := newTestAgentManager(model, &staticInvoker{}, session)

	m.HandleUserMessage(context.Background(), "summarize this thread", "t1")
	assert.Equal(t, []string{DefaultAgentApology}, session.botMessages("t1"))
	assert.Empty(t, model.chatRequests())
}

func TestFormatResponse(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "just text", FormatResponse("just text", nil))

	formatted := FormatResponse(
		"Done",
		[]ActionRecord{
			{
				Name:   toolRestartService,
				Args:   map[string]any{"service_name": "api"},
				Result: "restarted api",
			},
			{
				Name:   toolTriggerUser,
				Args:   nil,
				Result: map[string]any{"error": "no user"},
			},
		},
	)
	assert.Equal(
		t,
		"Done\n\n**Actions Taken:**\n"+
			"- **restart_service**\n  - Args: `{\"service_name\":\"api\"}`\n  - Result: `\"restarted api\"`\n"+
			"- **trigger_user**\n  - Args: `{}`\n  - Result: `{\"error\":\"no user\"}`\n",
		formatted,
	)
}

func TestSendChunked(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession()
	ctx := context.Background()

	require.NoError(t, sendChunked(ctx, session, "c1", "   "))
	assert.Empty(t, session.botMessages("c1"))

	long := strings.Repeat("line of text\n", 400)
	require.NoError(t, sendChunked(ctx, session, "c1", long))
	messages := session.botMessages("c1")
	assert.Greater(t, len(messages), 1)
	assert.Equal(t, long, strings.Join(messages, ""))
}

func TestWithTyping(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession()
	ran := false
	withTyping(
		context.Background(), session, "c1", func(_ context.Context) {
			waitFor(
				t, func() bool {
					return session.typingCount("c1") > 0
				},
			)
			ran = true
		},
	)
	assert.True(t, ran)

	count := session.typingCount("c1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, session.typingCount("c1"))
}
