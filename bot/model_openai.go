package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"log/slog"
	"math"
	"net/http"
	"sync"
)

// OpenAIClient is the subset of the OpenAI API used by the bot. It's
// satisfied by *openai.Client, and by mocks in tests.
type OpenAIClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (response openai.ChatCompletionResponse, err error)
}

type openAIModel struct {
	client         OpenAIClient
	model          string
	logger         *slog.Logger
	requestLimiter *rate.Limiter
	mu             sync.RWMutex
}

func newOpenAIModel(
	cfg OpenAIConfig,
	model string,
	httpClient *http.Client,
	logger *slog.Logger,
) *openAIModel {
	clientConfig := openai.DefaultConfig(cfg.Token)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = httpClient

	perSecond := cfg.MaxRequestsPerSecond
	if perSecond <= 0 {
		perSecond = DefaultOpenAIRequestsPerSec
	}
	return &openAIModel{
		client:         openai.NewClientWithConfig(clientConfig),
		model:          model,
		logger:         logger.With(loggerNameKey, "openai"),
		requestLimiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (o *openAIModel) Provider() string {
	return providerOpenAI
}

// SetRequestLimit updates the allowed requests per second
func (o *openAIModel) SetRequestLimit(perSecond float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requestLimiter.SetLimit(rate.Limit(perSecond))
}

func (o *openAIModel) waitOnRequestLimiter(ctx context.Context) error {
	o.mu.RLock()
	requestLimiter := o.requestLimiter
	o.mu.RUnlock()
	return requestLimiter.Wait(ctx)
}

func (o *openAIModel) complete(
	ctx context.Context,
	req openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	if err := o.waitOnRequestLimiter(ctx); err != nil {
		return openai.ChatCompletionResponse{}, &ModelCallError{
			Provider: providerOpenAI,
			Err:      err,
		}
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return resp, &ModelCallError{Provider: providerOpenAI, Err: err}
	}
	if len(resp.Choices) == 0 {
		return resp, &ModelCallError{
			Provider: providerOpenAI,
			Err:      fmt.Errorf("no choices in response %q", resp.ID),
		}
	}
	return resp, nil
}

func (o *openAIModel) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := o.complete(
		ctx, openai.ChatCompletionRequest{
			Model:       o.model,
			Temperature: openAIZeroTemperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		},
	)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *openAIModel) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	trace := newChatTrace(req)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(
			messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System},
		)
	}
	for _, h := range req.History {
		messages = append(
			messages,
			openai.ChatCompletionMessage{Role: openAIRole(h.Role), Content: h.Text},
		)
	}
	messages = append(
		messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Input},
	)

	tools := make([]openai.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(
			tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.JSONSchema(),
				},
			},
		)
	}

	limit := maxToolRounds(req)
	for round := 0; ; round++ {
		completionReq := openai.ChatCompletionRequest{
			Model:       o.model,
			Temperature: openAIZeroTemperature,
			Messages:    messages,
		}
		if len(tools) > 0 {
			completionReq.Tools = tools
		}
		resp, err := o.complete(ctx, completionReq)
		if err != nil {
			return nil, err
		}

		msg := resp.Choices[0].Message
		calls := make([]ToolCall, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			args := map[string]any{}
			if tc.Function.Arguments != "" {
				if jerr := json.Unmarshal(
					[]byte(tc.Function.Arguments),
					&args,
				); jerr != nil {
					o.logger.WarnContext(
						ctx,
						"invalid tool call arguments",
						"tool", tc.Function.Name,
						"arguments", tc.Function.Arguments,
						"error", jerr,
					)
				}
			}
			calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
		}
		if len(calls) == 0 {
			calls = nil
		}
		trace.model(msg.Content, calls)

		if len(calls) == 0 {
			return &ChatResult{Text: msg.Content, Turns: trace.turns}, nil
		}
		if round >= limit {
			o.logger.WarnContext(ctx, errMaxToolRounds.Error(), "rounds", round)
			return &ChatResult{Text: msg.Content, Turns: trace.turns}, nil
		}

		messages = append(messages, msg)
		results := executeToolCalls(ctx, req.Exec, calls, o.logger)
		trace.results(results)
		for _, r := range results {
			messages = append(
				messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    r.responseText(),
					Name:       r.Name,
					ToolCallID: r.ID,
				},
			)
		}
	}
}

// openAIZeroTemperature stands in for 0, which the client omits from
// requests
const openAIZeroTemperature = math.SmallestNonzeroFloat32

func openAIRole(r Role) string {
	if r == RoleModel {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}
