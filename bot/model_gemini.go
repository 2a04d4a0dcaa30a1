package bot

import (
	"context"
	"fmt"
	"google.golang.org/genai"
	"log/slog"
	"net/http"
	"strings"
)

type geminiModel struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

func newGeminiModel(
	ctx context.Context,
	cfg GeminiConfig,
	model string,
	httpClient *http.Client,
	logger *slog.Logger,
) (*geminiModel, error) {
	client, err := genai.NewClient(
		ctx,
		&genai.ClientConfig{
			APIKey:     cfg.APIKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: httpClient,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error creating gemini client: %w", err)
	}
	return &geminiModel{
		client: client,
		model:  model,
		logger: logger.With(loggerNameKey, "gemini"),
	}, nil
}

func (g *geminiModel) Provider() string {
	return providerGemini
}

func (g *geminiModel) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		[]*genai.Content{geminiTextContent(RoleUser, prompt)},
		&genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)},
	)
	if err != nil {
		return "", &ModelCallError{Provider: providerGemini, Err: err}
	}
	text, _ := geminiResponseParts(resp)
	return text, nil
}

func (g *geminiModel) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	trace := newChatTrace(req)

	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, h := range req.History {
		contents = append(contents, geminiTextContent(h.Role, h.Text))
	}
	contents = append(contents, geminiTextContent(RoleUser, req.Input))

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
		Tools:       geminiTools(req.Tools),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	limit := maxToolRounds(req)
	for round := 0; ; round++ {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err != nil {
			return nil, &ModelCallError{Provider: providerGemini, Err: err}
		}

		text, calls := geminiResponseParts(resp)
		trace.model(text, calls)

		if len(calls) == 0 {
			return &ChatResult{Text: text, Turns: trace.turns}, nil
		}
		if round >= limit {
			g.logger.WarnContext(ctx, errMaxToolRounds.Error(), "rounds", round)
			return &ChatResult{Text: text, Turns: trace.turns}, nil
		}

		if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			contents = append(contents, resp.Candidates[0].Content)
		}

		results := executeToolCalls(ctx, req.Exec, calls, g.logger)
		trace.results(results)

		parts := make([]*genai.Part, 0, len(results))
		for _, r := range results {
			parts = append(
				parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       r.ID,
						Name:     r.Name,
						Response: r.responsePayload(),
					},
				},
			)
		}
		contents = append(contents, &genai.Content{Role: string(RoleUser), Parts: parts})
	}
}

// geminiResponseParts reads the text and function calls of the first
// candidate. Thought parts are skipped.
func geminiResponseParts(resp *genai.GenerateContentResponse) (string, []ToolCall) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var text strings.Builder
	var calls []ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if fc := part.FunctionCall; fc != nil {
			calls = append(calls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	return text.String(), calls
}

func geminiTextContent(role Role, text string) *genai.Content {
	return &genai.Content{
		Role:  string(role),
		Parts: []*genai.Part{{Text: text}},
	}
}

func geminiTools(tools []ToolDefinition) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]*genai.Schema, len(t.Parameters))
		for _, p := range t.Parameters {
			props[p.Name] = &genai.Schema{
				Type:        genai.TypeString,
				Description: p.Description,
			}
		}
		decls = append(
			decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: props,
					Required:   t.requiredParameters(),
				},
			},
		)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
