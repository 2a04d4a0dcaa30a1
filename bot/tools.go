package bot

import (
	"context"
	"errors"
	"fmt"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"log/slog"
	"strings"
)

const (
	toolGetServiceHealth = "get_service_health"
	toolRestartService   = "restart_service"
	toolTriggerUser      = "trigger_user"

	mcpClientName = "react-chatbotify-discord-bot"
)

// commandCenterTools are the tools exposed to the command center model
var commandCenterTools = []ToolDefinition{
	{
		Name:        toolGetServiceHealth,
		Description: "Checks the health of a managed service",
		Parameters: []ToolParameter{
			{
				Name:        "service_name",
				Description: "Name of the service to check",
				Required:    true,
			},
		},
	},
	{
		Name:        toolRestartService,
		Description: "Restarts a managed service",
		Parameters: []ToolParameter{
			{
				Name:        "service_name",
				Description: "Name of the service to restart",
				Required:    true,
			},
		},
	},
	{
		Name:        toolTriggerUser,
		Description: "Notifies the user with a message",
		Parameters: []ToolParameter{
			{
				Name:        "message",
				Description: "Message to send to the user",
				Required:    true,
			},
		},
	},
}

// ToolInvoker runs operations against the remote tool server
type ToolInvoker interface {
	// CallTool invokes the named tool, returning the structured "result"
	// value of its response
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)

	// ListTools returns the tools the server offers
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// ListPrompts returns the server's prompt catalog, with each
	// prompt's content resolved
	ListPrompts(ctx context.Context) ([]Prompt, error)

	// ReadResource returns the text contents of a resource
	ReadResource(ctx context.Context, uri string) ([]string, error)
}

// ToolProtocolError is returned when the tool server can't be reached,
// or returns a response that doesn't follow the expected shape.
type ToolProtocolError struct {
	Tool   string
	Reason string
	Err    error
}

func (e *ToolProtocolError) Error() string {
	msg := fmt.Sprintf("tool %q: %s", e.Tool, e.Reason)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ToolProtocolError) Unwrap() error {
	return e.Err
}

// MCPDialFunc returns a new, unstarted MCP client
type MCPDialFunc func(ctx context.Context) (*client.Client, error)

// MCPInvoker implements ToolInvoker with a Model Context Protocol server.
//
// Each operation opens its own session, which is closed once the
// operation completes.
type MCPInvoker struct {
	dial   MCPDialFunc
	logger *slog.Logger
}

// NewMCPInvoker returns an MCPInvoker connecting to the streamable
// HTTP endpoint at serverURL. If token is set, it's sent as a bearer token.
func NewMCPInvoker(serverURL, token string, logger *slog.Logger) *MCPInvoker {
	dial := func(_ context.Context) (*client.Client, error) {
		var opts []transport.StreamableHTTPCOption
		if token != "" {
			opts = append(
				opts,
				transport.WithHTTPHeaders(
					map[string]string{"Authorization": "Bearer " + token},
				),
			)
		}
		return client.NewStreamableHttpClient(serverURL, opts...)
	}
	return NewMCPInvokerWithDialer(dial, logger)
}

// NewMCPInvokerWithDialer returns an MCPInvoker using dial to create
// each session
func NewMCPInvokerWithDialer(dial MCPDialFunc, logger *slog.Logger) *MCPInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPInvoker{dial: dial, logger: logger.With(loggerNameKey, "mcp")}
}

// session opens a connection, initializes it, and runs fn. The
// connection is always closed afterward.
func (m *MCPInvoker) session(
	ctx context.Context,
	tool string,
	fn func(c *client.Client) error,
) error {
	c, err := m.dial(ctx)
	if err != nil {
		return &ToolProtocolError{Tool: tool, Reason: "error creating client", Err: err}
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			m.logger.DebugContext(ctx, "error closing mcp client", "error", closeErr)
		}
	}()

	if err = c.Start(ctx); err != nil {
		return &ToolProtocolError{Tool: tool, Reason: "error starting client", Err: err}
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    mcpClientName,
		Version: Version,
	}
	if _, err = c.Initialize(ctx, initReq); err != nil {
		return &ToolProtocolError{Tool: tool, Reason: "error initializing session", Err: err}
	}
	return fn(c)
}

func (m *MCPInvoker) CallTool(
	ctx context.Context,
	name string,
	args map[string]any,
) (any, error) {
	logger := m.logger.With("tool", name)
	logger.InfoContext(ctx, "calling tool", "args", args)

	var result any
	err := m.session(
		ctx, name, func(c *client.Client) error {
			req := mcp.CallToolRequest{}
			req.Params.Name = name
			req.Params.Arguments = args

			resp, err := c.CallTool(ctx, req)
			if err != nil {
				return &ToolProtocolError{Tool: name, Reason: "call failed", Err: err}
			}
			result, err = toolCallResult(name, resp)
			return err
		},
	)
	if err != nil {
		logger.WarnContext(ctx, "tool call failed", "error", err)
		return nil, err
	}
	logger.InfoContext(ctx, "tool call succeeded", "result", result)
	return result, nil
}

// toolCallResult returns the "result" key of the response's structured
// content
func toolCallResult(name string, resp *mcp.CallToolResult) (any, error) {
	if resp == nil {
		return nil, &ToolProtocolError{Tool: name, Reason: "empty response"}
	}
	if resp.IsError {
		return nil, &ToolProtocolError{
			Tool:   name,
			Reason: "tool returned an error",
			Err:    errors.New(textContent(resp.Content)),
		}
	}
	structured, ok := resp.StructuredContent.(map[string]any)
	if !ok || structured == nil {
		return nil, &ToolProtocolError{Tool: name, Reason: "missing structured content"}
	}
	result, ok := structured["result"]
	if !ok {
		return nil, &ToolProtocolError{Tool: name, Reason: "missing result in structured content"}
	}
	return result, nil
}

func (m *MCPInvoker) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var tools []ToolDefinition
	err := m.session(
		ctx, "list_tools", func(c *client.Client) error {
			resp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
			if err != nil {
				return &ToolProtocolError{Tool: "list_tools", Reason: "request failed", Err: err}
			}
			for _, t := range resp.Tools {
				def := ToolDefinition{Name: t.Name, Description: t.Description}
				required := make(map[string]bool, len(t.InputSchema.Required))
				for _, r := range t.InputSchema.Required {
					required[r] = true
				}
				for pname, prop := range t.InputSchema.Properties {
					param := ToolParameter{Name: pname, Required: required[pname]}
					if p, ok := prop.(map[string]any); ok {
						param.Description, _ = p["description"].(string)
					}
					def.Parameters = append(def.Parameters, param)
				}
				tools = append(tools, def)
			}
			return nil
		},
	)
	return tools, err
}

func (m *MCPInvoker) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var prompts []Prompt
	err := m.session(
		ctx, "list_prompts", func(c *client.Client) error {
			resp, err := c.ListPrompts(ctx, mcp.ListPromptsRequest{})
			if err != nil {
				return &ToolProtocolError{Tool: "list_prompts", Reason: "request failed", Err: err}
			}
			prompts = make([]Prompt, 0, len(resp.Prompts))
			for _, p := range resp.Prompts {
				req := mcp.GetPromptRequest{}
				req.Params.Name = p.Name
				content, err := c.GetPrompt(ctx, req)
				if err != nil {
					return &ToolProtocolError{
						Tool:   "get_prompt",
						Reason: fmt.Sprintf("error getting prompt %q", p.Name),
						Err:    err,
					}
				}
				var parts []string
				for _, msg := range content.Messages {
					if tc, ok := mcp.AsTextContent(msg.Content); ok {
						parts = append(parts, tc.Text)
					}
				}
				prompts = append(
					prompts, Prompt{
						ID:          p.Name,
						Title:       p.Name,
						Description: p.Description,
						Content:     strings.Join(parts, "\n"),
					},
				)
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return prompts, nil
}

func (m *MCPInvoker) ReadResource(ctx context.Context, uri string) ([]string, error) {
	var contents []string
	err := m.session(
		ctx, "read_resource", func(c *client.Client) error {
			req := mcp.ReadResourceRequest{}
			req.Params.URI = uri
			resp, err := c.ReadResource(ctx, req)
			if err != nil {
				return &ToolProtocolError{
					Tool:   "read_resource",
					Reason: fmt.Sprintf("error reading %q", uri),
					Err:    err,
				}
			}
			for _, rc := range resp.Contents {
				switch v := rc.(type) {
				case mcp.TextResourceContents:
					contents = append(contents, v.Text)
				case *mcp.TextResourceContents:
					contents = append(contents, v.Text)
				}
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return contents, nil
}

func textContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// toolExecutor adapts a ToolInvoker for use by a LanguageModel
func toolExecutor(invoker ToolInvoker) ToolExecutor {
	return func(ctx context.Context, call ToolCall) (any, error) {
		return invoker.CallTool(ctx, call.Name, call.Args)
	}
}

// toolNames returns the name of each tool, in order
func toolNames(tools []ToolDefinition) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}
