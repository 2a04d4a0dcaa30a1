package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"log/slog"
	"strings"
	"time"
)

const (
	resolveThreadTool = "resolve_thread"
	routeAlert        = "alert"
	routeResolve      = "resolve"
	actionsHeader     = "\n\n**Actions Taken:**\n"

	// typingRefreshInterval is how often the typing indicator is renewed
	// while the agents work. Discord clears it after ten seconds.
	typingRefreshInterval = 8 * time.Second
)

// AgentManager coordinates the support and command center agents for
// alerts and user messages.
//
// There's no per-scope serialization: two events for the same thread
// may be processed concurrently, and their replies interleave.
type AgentManager struct {
	support       *SupportAgent
	commandCenter *CommandCenterAgent
	session       DiscordSessionHandler
	logger        *slog.Logger

	// responses, if set, counts handled events by route
	responses *prometheus.CounterVec
}

func NewAgentManager(
	support *SupportAgent,
	commandCenter *CommandCenterAgent,
	session DiscordSessionHandler,
	logger *slog.Logger,
) *AgentManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentManager{
		support:       support,
		commandCenter: commandCenter,
		session:       session,
		logger:        logger.With(loggerNameKey, "agent_manager"),
	}
}

// HandleAlert asks the support agent for a remedy. If the support agent
// considers the issue resolved, the thread is resolved. Otherwise the
// remedy is handed to the command center agent, and its response is
// sent to the thread. Without a remedy, only the apology is sent.
func (m *AgentManager) HandleAlert(ctx context.Context, alert string, scopeID string) {
	logger := m.logger.With("scope_id", scopeID)
	remedy, err := m.support.SuggestRemedy(ctx, alert, m.commandCenter.AvailableTools(), scopeID)
	if err != nil {
		m.count(routeAlert)
		m.send(ctx, scopeID, DefaultAgentApology)
		return
	}
	logger.InfoContext(ctx, "suggested remedy", "remedy", remedy)

	if strings.Contains(remedy, resolveThreadTool) {
		m.ResolveThread(ctx, scopeID)
		return
	}

	m.count(routeAlert)
	text, actions := m.commandCenter.GetResponse(ctx, remedy, scopeID)
	m.send(ctx, scopeID, FormatResponse(text, actions))
}

// HandleUserMessage routes message to the support agent, which replies
// with a summary of the thread, or to the command center agent.
func (m *AgentManager) HandleUserMessage(ctx context.Context, message string, scopeID string) {
	route := m.support.Route(ctx, message, scopeID)
	m.logger.InfoContext(ctx, "routed message", "scope_id", scopeID, "route", route)

	m.count(route)
	var text string
	var actions []ActionRecord
	if route == routeSupport {
		summary, err := m.support.SummarizeThread(ctx, scopeID)
		if err != nil {
			summary = DefaultAgentApology
		}
		text = summary
	} else {
		text, actions = m.commandCenter.GetResponse(ctx, message, scopeID)
	}
	m.send(ctx, scopeID, FormatResponse(text, actions))
}

// ResolveThread posts a summary of the thread to the insights channel,
// then archives the thread. If the thread can't be summarized, it's left
// open with an apology, and no insight is posted.
func (m *AgentManager) ResolveThread(ctx context.Context, threadID string) {
	logger := m.logger.With("thread_id", threadID)
	m.count(routeResolve)
	summary, err := m.support.SummarizeThread(ctx, threadID)
	if err != nil {
		m.send(ctx, threadID, DefaultAgentApology)
		return
	}
	m.support.PostInsight(ctx, summary)

	archived := true
	if _, err := m.session.ChannelEdit(
		threadID,
		&discordgo.ChannelEdit{Archived: &archived},
		discordgo.WithContext(ctx),
	); err != nil {
		logger.ErrorContext(ctx, "error archiving thread", "error", err)
		return
	}
	logger.InfoContext(ctx, "resolved thread")
}

func (m *AgentManager) count(route string) {
	if m.responses != nil {
		m.responses.WithLabelValues(route).Inc()
	}
}

func (m *AgentManager) send(ctx context.Context, channelID string, content string) {
	if err := sendChunked(ctx, m.session, channelID, content); err != nil {
		m.logger.ErrorContext(
			ctx,
			"error sending response",
			"channel_id", channelID,
			"error", err,
		)
	}
}

// FormatResponse appends a list of the actions taken to text, if there
// were any. Arguments and results are shown as JSON.
func FormatResponse(text string, actions []ActionRecord) string {
	if len(actions) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString(actionsHeader)
	for _, a := range actions {
		_, _ = fmt.Fprintf(
			&sb,
			"- **%s**\n  - Args: `%s`\n  - Result: `%s`\n",
			a.Name,
			compactJSON(a.Args),
			compactJSON(a.Result),
		)
	}
	return sb.String()
}

func compactJSON(v any) string {
	if m, ok := v.(map[string]any); ok && m == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// sendChunked sends content to the channel, split into as many messages
// as needed to stay within Discord's message length limit
func sendChunked(
	ctx context.Context,
	session DiscordSessionHandler,
	channelID string,
	content string,
) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	for _, part := range splitMessage(content, discordMaxMessageLength) {
		if _, err := session.ChannelMessageSend(
			channelID,
			part,
			discordgo.WithContext(ctx),
		); err != nil {
			return err
		}
	}
	return nil
}

// withTyping shows the typing indicator in channelID until fn returns
func withTyping(
	ctx context.Context,
	session DiscordSessionHandler,
	channelID string,
	fn func(ctx context.Context),
) {
	typingCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		for {
			_ = session.ChannelTyping(channelID, discordgo.WithContext(typingCtx))
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	fn(ctx)
}
