package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"io"
	"net/http"
	"slices"
	"strings"
)

const smartChatRequestType = "BASIC_RAG"

// smartChatMaxResponseSize limits how much of a smart chat response body
// is read
const smartChatMaxResponseSize = 1 << 20

type smartChatRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type smartChatResponse struct {
	Respond bool   `json:"respond"`
	Content string `json:"content"`
}

// handleSmartChat forwards messages in the smart chat channels to the
// chat API, and replies with its answer when it has one
func (b *Bot) handleSmartChat(ctx context.Context, m *discordgo.MessageCreate) {
	cfg := b.config.SmartChat
	if m.Author == nil || m.Author.Bot || cfg.APIURL == "" {
		return
	}
	if !slices.Contains(cfg.ChannelIDs, m.ChannelID) || strings.TrimSpace(m.Content) == "" {
		return
	}
	logger := b.logger.With(loggerNameKey, "smart_chat", "channel_id", m.ChannelID, "user_id", m.Author.ID)

	if !b.limiter.Allow(m.Author.ID) {
		b.metrics.RateLimited.Inc()
		logger.WarnContext(ctx, "user rate limited")
		return
	}

	resp, err := b.querySmartChat(ctx, m.Content)
	if err != nil {
		logger.ErrorContext(ctx, "smart chat request failed", tint.Err(err))
		return
	}
	if !resp.Respond || resp.Content == "" {
		logger.DebugContext(ctx, "smart chat declined to respond")
		return
	}
	if _, err = b.session.ChannelMessageSendReply(
		m.ChannelID,
		truncate(resp.Content, discordMaxMessageLength),
		m.Reference(),
		discordgo.WithContext(ctx),
	); err != nil {
		logger.ErrorContext(ctx, "error sending smart chat reply", tint.Err(err))
	}
}

func (b *Bot) querySmartChat(ctx context.Context, content string) (*smartChatResponse, error) {
	cfg := b.config.SmartChat
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(smartChatRequest{Type: smartChatRequestType, Content: content})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := b.config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	var result smartChatResponse
	if err = json.NewDecoder(io.LimitReader(resp.Body, smartChatMaxResponseSize)).Decode(&result); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	return &result, nil
}
