package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const (
	providerGemini    = "gemini"
	providerOpenAI    = "openai"
	providerAnthropic = "anthropic"
)

// Role identifies the speaker of a conversation turn
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ConversationTurn is a single message of a conversation, as sent to
// a language model
type ConversationTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ToolParameter describes a single string argument of a tool
type ToolParameter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolDefinition describes a remote tool to a language model
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// JSONSchema returns the tool's arguments as a JSON schema object
func (t ToolDefinition) JSONSchema() map[string]any {
	props := make(map[string]any, len(t.Parameters))
	for _, p := range t.Parameters {
		props[p.Name] = map[string]any{
			"type":        "string",
			"description": p.Description,
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   t.requiredParameters(),
	}
}

func (t ToolDefinition) requiredParameters() []string {
	required := []string{}
	for _, p := range t.Parameters {
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return required
}

// ToolCall is a model's request to invoke a tool
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult is the output of a ToolCall, as returned to the model
type ToolResult struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Turn is one entry of a chat trace. Model turns may carry tool calls,
// and the user turn following them carries the matching results.
type Turn struct {
	Role    Role         `json:"role"`
	Text    string       `json:"text,omitempty"`
	Calls   []ToolCall   `json:"calls,omitempty"`
	Results []ToolResult `json:"results,omitempty"`
}

// ToolExecutor runs a tool call on behalf of the model
type ToolExecutor func(ctx context.Context, call ToolCall) (any, error)

// ChatRequest is a single user message sent to a model along with its
// seed history, instructions and available tools
type ChatRequest struct {
	System        string
	History       []ConversationTurn
	Tools         []ToolDefinition
	Input         string
	Exec          ToolExecutor
	MaxToolRounds int
}

// ChatResult holds the model's final text, and the full trace of the
// chat: seed history, the user input, and every tool call and result.
type ChatResult struct {
	Text  string
	Turns []Turn
}

// LanguageModel is implemented by each model provider backend
type LanguageModel interface {
	// Provider returns the name of the backend
	Provider() string

	// GenerateText returns the model's response to a single prompt,
	// with no history or tools
	GenerateText(ctx context.Context, prompt string) (string, error)

	// Chat sends req.Input and runs any tool calls the model makes via
	// req.Exec, until the model responds without calling a tool or
	// req.MaxToolRounds is reached.
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
}

// ModelCallError is returned when a request to a language model fails
type ModelCallError struct {
	Provider string
	Err      error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("%s model call failed: %v", e.Provider, e.Err)
}

func (e *ModelCallError) Unwrap() error {
	return e.Err
}

// NewLanguageModel returns the backend selected by
// [CommandCenterConfig.Provider]
func NewLanguageModel(
	ctx context.Context,
	cfg *Config,
	logger *slog.Logger,
) (LanguageModel, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	model := cfg.CommandCenter.Model

	switch cfg.CommandCenter.Provider {
	case providerGemini, "":
		if model == "" {
			model = DefaultGeminiModel
		}
		m, err := newGeminiModel(ctx, cfg.Gemini, model, httpClient, logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	case providerOpenAI:
		if model == "" {
			model = DefaultOpenAIModel
		}
		return newOpenAIModel(cfg.OpenAI, model, httpClient, logger), nil
	case providerAnthropic:
		if model == "" {
			model = DefaultAnthropicModel
		}
		return newAnthropicModel(cfg.Anthropic, model, httpClient, logger), nil
	default:
		return nil, fmt.Errorf("unknown model provider: %q", cfg.CommandCenter.Provider)
	}
}

// chatTrace accumulates the turns of a chat as a backend runs it
type chatTrace struct {
	turns []Turn
}

func newChatTrace(req ChatRequest) *chatTrace {
	t := &chatTrace{turns: make([]Turn, 0, len(req.History)+2)}
	for _, h := range req.History {
		t.turns = append(t.turns, Turn{Role: h.Role, Text: h.Text})
	}
	t.turns = append(t.turns, Turn{Role: RoleUser, Text: req.Input})
	return t
}

func (t *chatTrace) model(text string, calls []ToolCall) {
	t.turns = append(t.turns, Turn{Role: RoleModel, Text: text, Calls: calls})
}

func (t *chatTrace) results(results []ToolResult) {
	t.turns = append(t.turns, Turn{Role: RoleUser, Results: results})
}

// executeToolCalls runs each call in order. A failed call is reported
// back to the model as an error result rather than aborting the chat.
func executeToolCalls(
	ctx context.Context,
	exec ToolExecutor,
	calls []ToolCall,
	logger *slog.Logger,
) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		r := ToolResult{ID: call.ID, Name: call.Name}
		if exec == nil {
			r.Error = "no tools available"
			results = append(results, r)
			continue
		}
		out, err := exec(ctx, call)
		if err != nil {
			logger.WarnContext(
				ctx,
				"tool call failed",
				"tool", call.Name,
				"args", call.Args,
				"error", err,
			)
			r.Error = err.Error()
		} else {
			r.Result = out
		}
		results = append(results, r)
	}
	return results
}

// responsePayload returns the result as a JSON object, suitable for
// providers that require tool output to be a mapping
func (r ToolResult) responsePayload() map[string]any {
	if r.Error != "" {
		return map[string]any{"error": r.Error}
	}
	if m, ok := r.Result.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": r.Result}
}

// responseText returns the result encoded as JSON, for providers that
// take tool output as text
func (r ToolResult) responseText() string {
	if r.Error != "" {
		return r.Error
	}
	if s, ok := r.Result.(string); ok {
		return s
	}
	b, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Sprintf("%v", r.Result)
	}
	return string(b)
}

// errMaxToolRounds is logged when a model keeps calling tools past the
// configured limit
var errMaxToolRounds = errors.New("maximum tool rounds reached")

func maxToolRounds(req ChatRequest) int {
	if req.MaxToolRounds <= 0 {
		return DefaultMaxToolRounds
	}
	return req.MaxToolRounds
}

func joinText(parts []string) string {
	return strings.TrimSpace(strings.Join(parts, ""))
}
