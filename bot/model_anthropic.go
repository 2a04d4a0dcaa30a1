package bot

import (
	"context"
	"encoding/json"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"log/slog"
	"net/http"
)

type anthropicModel struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

func newAnthropicModel(
	cfg AnthropicConfig,
	model string,
	httpClient *http.Client,
	logger *slog.Logger,
) *anthropicModel {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}
	return &anthropicModel{
		client: anthropic.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithHTTPClient(httpClient),
		),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.With(loggerNameKey, "anthropic"),
	}
}

func (a *anthropicModel) Provider() string {
	return providerAnthropic
}

func (a *anthropicModel) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Messages.New(
		ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(a.model),
			MaxTokens:   a.maxTokens,
			Temperature: anthropic.Float(0),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		},
	)
	if err != nil {
		return "", &ModelCallError{Provider: providerAnthropic, Err: err}
	}
	text, _ := anthropicContent(resp)
	return text, nil
}

func (a *anthropicModel) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	trace := newChatTrace(req)

	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, h := range req.History {
		if h.Role == RoleModel {
			messages = append(
				messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(h.Text)),
			)
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(h.Text)))
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Input)))

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(0),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, t := range req.Tools {
		params.Tools = append(
			params.Tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        t.Name,
					Description: anthropic.String(t.Description),
					InputSchema: anthropic.ToolInputSchemaParam{
						Properties: t.JSONSchema()["properties"],
						Required:   t.requiredParameters(),
					},
				},
			},
		)
	}

	limit := maxToolRounds(req)
	for round := 0; ; round++ {
		params.Messages = messages
		resp, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return nil, &ModelCallError{Provider: providerAnthropic, Err: err}
		}

		text, calls := anthropicContent(resp)
		trace.model(text, calls)

		if len(calls) == 0 {
			return &ChatResult{Text: text, Turns: trace.turns}, nil
		}
		if round >= limit {
			a.logger.WarnContext(ctx, errMaxToolRounds.Error(), "rounds", round)
			return &ChatResult{Text: text, Turns: trace.turns}, nil
		}

		assistant := make([]anthropic.ContentBlockParamUnion, 0, len(calls)+1)
		if text != "" {
			assistant = append(assistant, anthropic.NewTextBlock(text))
		}
		for _, c := range calls {
			assistant = append(assistant, anthropic.NewToolUseBlock(c.ID, c.Args, c.Name))
		}
		messages = append(messages, anthropic.NewAssistantMessage(assistant...))

		results := executeToolCalls(ctx, req.Exec, calls, a.logger)
		trace.results(results)

		resultBlocks := make([]anthropic.ContentBlockParamUnion, 0, len(results))
		for _, r := range results {
			resultBlocks = append(
				resultBlocks,
				anthropic.NewToolResultBlock(r.ID, r.responseText(), r.Error != ""),
			)
		}
		messages = append(messages, anthropic.NewUserMessage(resultBlocks...))
	}
}

// anthropicContent returns the joined text blocks and tool use blocks
// of a response
func anthropicContent(resp *anthropic.Message) (string, []ToolCall) {
	var textParts []string
	var calls []ToolCall
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &args)
			}
			calls = append(calls, ToolCall{ID: block.ID, Name: block.Name, Args: args})
		}
	}
	return joinText(textParts), calls
}
