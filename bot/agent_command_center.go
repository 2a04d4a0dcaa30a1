package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ActionRecord is a tool call made by the model, paired with its result
type ActionRecord struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
	Result any            `json:"result"`
}

// CommandCenterAgent answers command center requests with a language
// model that can call the remote service tools.
//
// The prompt catalog, service catalog and system instruction are each
// held behind an atomic pointer, and replaced as a whole on reload.
type CommandCenterAgent struct {
	invoker       ToolInvoker
	model         LanguageModel
	reader        MessageReader
	botUserID     func() string
	historyLimit  int
	maxToolRounds int
	catalogURI    string
	tools         []ToolDefinition
	logger        *slog.Logger

	prompts       atomic.Pointer[promptSet]
	services      atomic.Pointer[ServiceCatalog]
	systemContext atomic.Pointer[string]
}

// NewCommandCenterAgent returns an agent with an empty prompt catalog.
// botUserID is called on each request to tell the bot's own messages
// apart from users' in the channel history.
func NewCommandCenterAgent(
	cfg CommandCenterConfig,
	invoker ToolInvoker,
	model LanguageModel,
	reader MessageReader,
	botUserID func() string,
	logger *slog.Logger,
) *CommandCenterAgent {
	if logger == nil {
		logger = slog.Default()
	}
	catalogURI := cfg.ServiceCatalogURI
	if catalogURI == "" {
		catalogURI = DefaultServiceCatalogResource
	}
	a := &CommandCenterAgent{
		invoker:       invoker,
		model:         model,
		reader:        reader,
		botUserID:     botUserID,
		historyLimit:  cfg.HistoryLimit,
		maxToolRounds: cfg.MaxToolRounds,
		catalogURI:    catalogURI,
		tools:         commandCenterTools,
		logger:        logger.With(loggerNameKey, "command_center_agent"),
	}
	a.prompts.Store(newPromptSet(nil))
	return a
}

// LoadPrompts fetches the prompt catalog from the tool server, replacing
// the current one. Prompts with a system:// ID seed the system
// instruction, the rest are offered to users.
func (a *CommandCenterAgent) LoadPrompts(ctx context.Context) error {
	prompts, err := a.invoker.ListPrompts(ctx)
	if err != nil {
		return fmt.Errorf("error loading prompts: %w", err)
	}
	ps := newPromptSet(prompts)
	a.prompts.Store(ps)
	a.logger.InfoContext(
		ctx,
		"loaded prompts",
		"system_prompts", len(ps.System),
		"user_prompts", len(ps.User),
	)
	return nil
}

// SetSystemContext reads the service catalog from the tool server, and
// renders the system instruction listing the managed services.
func (a *CommandCenterAgent) SetSystemContext(ctx context.Context) error {
	contents, err := a.invoker.ReadResource(ctx, a.catalogURI)
	if err != nil {
		return fmt.Errorf("error reading service catalog: %w", err)
	}
	services := parseServiceCatalog(contents)
	a.services.Store(&services)

	instruction := renderSystemContext(services)
	a.systemContext.Store(&instruction)
	a.logger.InfoContext(ctx, "set system context", "services", []string(services))
	return nil
}

// SystemInstruction returns the instruction the model is seeded with.
// The service-aware context set by SetSystemContext takes precedence,
// followed by the first system prompt of the catalog.
func (a *CommandCenterAgent) SystemInstruction() string {
	if s := a.systemContext.Load(); s != nil {
		return *s
	}
	if ps := a.prompts.Load(); ps != nil && len(ps.System) > 0 {
		return ps.System[0].Content
	}
	return renderSystemContext(nil)
}

// UserPrompts returns the prompts offered to users
func (a *CommandCenterAgent) UserPrompts() []Prompt {
	ps := a.prompts.Load()
	if ps == nil {
		return nil
	}
	return ps.User
}

// SystemPrompts returns the catalog's system prompts
func (a *CommandCenterAgent) SystemPrompts() []Prompt {
	ps := a.prompts.Load()
	if ps == nil {
		return nil
	}
	return ps.System
}

// Prompt returns the user prompt with the given ID
func (a *CommandCenterAgent) Prompt(id string) (Prompt, bool) {
	for _, p := range a.UserPrompts() {
		if p.ID == id {
			return p, true
		}
	}
	return Prompt{}, false
}

// Services returns the most recently loaded service catalog
func (a *CommandCenterAgent) Services() ServiceCatalog {
	s := a.services.Load()
	if s == nil {
		return nil
	}
	return *s
}

// AvailableTools returns the names of the tools the model may call
func (a *CommandCenterAgent) AvailableTools() []string {
	return toolNames(a.tools)
}

// GetResponse sends input to the model, along with the recent history
// of scopeID, and returns the model's reply and the tools it called.
//
// Failures are logged, and the user gets an apology with no actions.
func (a *CommandCenterAgent) GetResponse(
	ctx context.Context,
	input string,
	scopeID string,
) (string, []ActionRecord) {
	logger := a.logger.With("scope_id", scopeID)

	historyLimit := a.historyLimit
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	history, err := BuildHistory(ctx, a.reader, scopeID, a.botUser(), historyLimit)
	if err != nil {
		logger.WarnContext(ctx, "error building history, continuing without it", "error", err)
		history = []ConversationTurn{}
	}

	result, err := a.model.Chat(
		ctx, ChatRequest{
			System:        a.SystemInstruction(),
			History:       history,
			Tools:         a.tools,
			Input:         input,
			Exec:          toolExecutor(a.invoker),
			MaxToolRounds: a.maxToolRounds,
		},
	)
	if err != nil {
		var modelErr *ModelCallError
		if errors.As(err, &modelErr) {
			logger.ErrorContext(ctx, "model call failed", "provider", modelErr.Provider, "error", err)
		} else {
			logger.ErrorContext(ctx, "error getting response", "error", err)
		}
		return DefaultAgentApology, nil
	}

	actions := extractActions(result.Turns)
	text := result.Text
	if text == "" {
		logger.WarnContext(ctx, "model returned no text", "actions", len(actions))
		text = DefaultAgentApology
	}
	return text, actions
}

func (a *CommandCenterAgent) botUser() string {
	if a.botUserID == nil {
		return ""
	}
	return a.botUserID()
}

// extractActions pairs each model tool call with the result in the
// turn that immediately follows it. Calls are matched to results by
// name, in call order. A model turn with calls that isn't followed by
// results is dropped.
func extractActions(turns []Turn) []ActionRecord {
	var actions []ActionRecord
	for i := 0; i < len(turns); i++ {
		turn := turns[i]
		if turn.Role != RoleModel || len(turn.Calls) == 0 {
			continue
		}
		if i+1 >= len(turns) || len(turns[i+1].Results) == 0 {
			continue
		}
		results := turns[i+1].Results
		used := make([]bool, len(results))
		for _, call := range turn.Calls {
			for j, r := range results {
				if used[j] || r.Name != call.Name {
					continue
				}
				used[j] = true
				actions = append(
					actions, ActionRecord{
						Name:   call.Name,
						Args:   call.Args,
						Result: r.actionResult(),
					},
				)
				break
			}
		}
	}
	return actions
}

func (r ToolResult) actionResult() any {
	if r.Error != "" {
		return map[string]any{"error": r.Error}
	}
	return r.Result
}
