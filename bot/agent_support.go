package bot

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"strings"
)

const (
	routeSupport       = "support"
	routeCommandCenter = "command_center"
)

// ChannelUnavailableError is returned when a configured channel is
// missing or can't be reached
type ChannelUnavailableError struct {
	ChannelID string
	Err       error
}

func (e *ChannelUnavailableError) Error() string {
	if e.ChannelID == "" {
		return "channel not configured"
	}
	return fmt.Sprintf("channel %s unavailable: %v", e.ChannelID, e.Err)
}

func (e *ChannelUnavailableError) Unwrap() error {
	return e.Err
}

// SupportAgent summarizes conversations, keeps the insights channel up
// to date, suggests remedies for alerts and routes user messages.
type SupportAgent struct {
	model             LanguageModel
	session           DiscordSessionHandler
	insightsChannelID string
	logger            *slog.Logger
}

func NewSupportAgent(
	model LanguageModel,
	session DiscordSessionHandler,
	insightsChannelID string,
	logger *slog.Logger,
) *SupportAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &SupportAgent{
		model:             model,
		session:           session,
		insightsChannelID: insightsChannelID,
		logger:            logger.With(loggerNameKey, "support_agent"),
	}
}

// SummarizeThread returns the model's summary of the full transcript of
// scopeID. Errors are logged before they're returned.
func (s *SupportAgent) SummarizeThread(ctx context.Context, scopeID string) (string, error) {
	messages, err := fetchMessages(ctx, s.session, scopeID, 0)
	if err != nil {
		s.logger.ErrorContext(ctx, "error reading thread", "scope_id", scopeID, "error", err)
		return "", fmt.Errorf("error reading thread %s: %w", scopeID, err)
	}
	contents := make([]string, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		contents = append(contents, messages[i].Content)
	}

	summary, err := s.model.GenerateText(ctx, summarizePrompt(strings.Join(contents, "\n")))
	if err != nil {
		s.logger.ErrorContext(ctx, "error summarizing thread", "scope_id", scopeID, "error", err)
		return "", fmt.Errorf("error summarizing thread %s: %w", scopeID, err)
	}
	return summary, nil
}

// PostInsight sends text to the insights channel. If the channel isn't
// configured or can't be reached, it's logged and skipped.
func (s *SupportAgent) PostInsight(ctx context.Context, text string) {
	if s.insightsChannelID == "" {
		s.logger.WarnContext(ctx, "insights channel not configured, skipping insight")
		return
	}
	if err := sendChunked(ctx, s.session, s.insightsChannelID, text); err != nil {
		s.logger.WarnContext(
			ctx,
			"error posting insight",
			"error", &ChannelUnavailableError{ChannelID: s.insightsChannelID, Err: err},
		)
	}
}

// LatestInsight returns the newest message in the insights channel, or
// an empty string if there are none or the channel can't be read
func (s *SupportAgent) LatestInsight(ctx context.Context) string {
	if s.insightsChannelID == "" {
		return ""
	}
	messages, err := s.session.ChannelMessages(
		s.insightsChannelID,
		1,
		"",
		"",
		"",
		discordgo.WithContext(ctx),
	)
	if err != nil {
		s.logger.WarnContext(
			ctx,
			"error reading insights",
			"error", &ChannelUnavailableError{ChannelID: s.insightsChannelID, Err: err},
		)
		return ""
	}
	if len(messages) == 0 {
		return ""
	}
	return messages[0].Content
}

// SuggestRemedy asks the model how to handle an alert, given the
// available tools and the latest insight from previous conversations.
// Errors are logged before they're returned.
func (s *SupportAgent) SuggestRemedy(
	ctx context.Context,
	alert string,
	tools []string,
	scopeID string,
) (string, error) {
	insights := s.LatestInsight(ctx)
	remedy, err := s.model.GenerateText(
		ctx,
		suggestRemedyPrompt(alert, tools, insights, scopeID),
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "error suggesting remedy", "scope_id", scopeID, "error", err)
		return "", fmt.Errorf("error suggesting remedy: %w", err)
	}
	return remedy, nil
}

// Route decides which agent should handle message, returning
// "support" or "command_center"
func (s *SupportAgent) Route(ctx context.Context, message string, scopeID string) string {
	messages, err := fetchMessages(ctx, s.session, scopeID, 0)
	if err != nil {
		s.logger.WarnContext(ctx, "error reading history for routing", "error", err)
	}
	lines := make([]string, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		name := ""
		if m.Author != nil {
			name = memberDisplayName(m.Member, m.Author)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", name, m.Content))
	}

	answer, err := s.model.GenerateText(ctx, routePrompt(strings.Join(lines, "\n"), message))
	if err != nil {
		s.logger.ErrorContext(ctx, "error routing message", "scope_id", scopeID, "error", err)
		return routeCommandCenter
	}
	return routeDecision(answer)
}

func routeDecision(answer string) string {
	if strings.Contains(strings.ToLower(answer), routeSupport) {
		return routeSupport
	}
	return routeCommandCenter
}
