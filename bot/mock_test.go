package bot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

const (
	testBotUserID              = "bot-user"
	testGuildID                = "guild"
	testAdminRoleID            = "admin-role"
	testCommandCenterChannelID = "command-center"
	testInsightsChannelID      = "insights"
)

var errMockNotFound = errors.New("not found")

type permissionSet struct {
	ChannelID string
	TargetID  string
	Type      discordgo.PermissionOverwriteType
	Allow     int64
	Deny      int64
}

type memberMove struct {
	UserID    string
	ChannelID string
}

type webhookExecute struct {
	WebhookID string
	Params    *discordgo.WebhookParams
}

// mockDiscordSession is an in-memory DiscordSessionHandler. Channel
// history is kept oldest-first, and returned newest-first like the
// Discord API does.
type mockDiscordSession struct {
	mu     sync.Mutex
	nextID int

	botUser *discordgo.User

	messages    map[string][]*discordgo.Message
	channels    map[string]*discordgo.Channel
	members     map[string]*discordgo.Member
	voiceCounts map[string]int
	webhooks    map[string][]*discordgo.Webhook

	complexSends    map[string][]*discordgo.MessageSend
	deletedMessages []string
	deletedChannels []string
	createdChannels []discordgo.GuildChannelCreateData
	channelEdits    map[string][]*discordgo.ChannelEdit
	permissionSets  []permissionSet
	moves           []memberMove
	threadStarts    []*discordgo.Channel
	webhookExecutes []webhookExecute
	commands        []*discordgo.ApplicationCommand
	responses       []*discordgo.InteractionResponse
	responseDeletes int
	followups       []*discordgo.WebhookParams
	typing          map[string]int
	customStatus    string
	opened          bool
	handlers        int

	channelMessagesErr error
	sendErr            error
	createChannelErr   error
	deleteChannelErr   error
	threadStartErr     error
}

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{
		botUser:      &discordgo.User{ID: testBotUserID, Username: "bot", Bot: true},
		messages:     map[string][]*discordgo.Message{},
		channels:     map[string]*discordgo.Channel{},
		members:      map[string]*discordgo.Member{},
		voiceCounts:  map[string]int{},
		webhooks:     map[string][]*discordgo.Webhook{},
		complexSends: map[string][]*discordgo.MessageSend{},
		channelEdits: map[string][]*discordgo.ChannelEdit{},
		typing:       map[string]int{},
	}
}

func (m *mockDiscordSession) newID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s%d", prefix, m.nextID)
}

// addChannel registers a channel, so Channel can find it
func (m *mockDiscordSession) addChannel(ch *discordgo.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ID] = ch
}

func (m *mockDiscordSession) addMember(member *discordgo.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.User.ID] = member
}

func (m *mockDiscordSession) setVoiceCount(channelID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voiceCounts[channelID] = n
}

// addMessage appends a message from author to the channel's history
func (m *mockDiscordSession) addMessage(
	channelID string,
	author *discordgo.User,
	content string,
) *discordgo.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendMessage(channelID, author, content)
}

func (m *mockDiscordSession) appendMessage(
	channelID string,
	author *discordgo.User,
	content string,
) *discordgo.Message {
	msg := &discordgo.Message{
		ID:        m.newID("m"),
		ChannelID: channelID,
		Author:    author,
		Content:   content,
		Timestamp: time.Date(2024, 5, 1, 12, 0, m.nextID, 0, time.UTC),
	}
	m.messages[channelID] = append(m.messages[channelID], msg)
	return msg
}

// sentBy returns the content of each message in the channel written by
// userID, oldest first
func (m *mockDiscordSession) sentBy(channelID string, userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var contents []string
	for _, msg := range m.messages[channelID] {
		if msg.Author != nil && msg.Author.ID == userID {
			contents = append(contents, msg.Content)
		}
	}
	return contents
}

// botMessages returns the content of the bot's messages in the channel
func (m *mockDiscordSession) botMessages(channelID string) []string {
	return m.sentBy(channelID, testBotUserID)
}

func (m *mockDiscordSession) complexSent(channelID string) []*discordgo.MessageSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.complexSends[channelID])
}

func (m *mockDiscordSession) interactionResponses() []*discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.responses)
}

func (m *mockDiscordSession) lastResponse(t testing.TB) *discordgo.InteractionResponse {
	t.Helper()
	responses := m.interactionResponses()
	require.NotEmpty(t, responses)
	return responses[len(responses)-1]
}

func (m *mockDiscordSession) followupMessages() []*discordgo.WebhookParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.followups)
}

func (m *mockDiscordSession) threads() []*discordgo.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.threadStarts)
}

func (m *mockDiscordSession) edits(channelID string) []*discordgo.ChannelEdit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.channelEdits[channelID])
}

func (m *mockDiscordSession) created() []discordgo.GuildChannelCreateData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.createdChannels)
}

func (m *mockDiscordSession) deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.deletedChannels)
}

func (m *mockDiscordSession) deletedMessageIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.deletedMessages)
}

func (m *mockDiscordSession) executes() []webhookExecute {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.webhookExecutes)
}

func (m *mockDiscordSession) typingCount(channelID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing[channelID]
}

func (m *mockDiscordSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	return nil
}

func (m *mockDiscordSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	return nil
}

func (m *mockDiscordSession) AddHandler(_ any) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers++
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.handlers--
	}
}

func (m *mockDiscordSession) UpdateCustomStatus(status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customStatus = status
	return nil
}

func (m *mockDiscordSession) SetLogLevel(_ slog.Level) error {
	return nil
}

func (m *mockDiscordSession) SetHTTPClient(_ *http.Client) {}

func (m *mockDiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID string,
	_ string,
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channelMessagesErr != nil {
		return nil, m.channelMessagesErr
	}
	if limit <= 0 || limit > discordMessagePageSize {
		limit = discordMessagePageSize
	}
	history := m.messages[channelID]
	if beforeID != "" {
		idx := slices.IndexFunc(
			history, func(msg *discordgo.Message) bool {
				return msg.ID == beforeID
			},
		)
		if idx >= 0 {
			history = history[:idx]
		}
	}
	page := make([]*discordgo.Message, 0, limit)
	for i := len(history) - 1; i >= 0 && len(page) < limit; i-- {
		page = append(page, history[i])
	}
	return page, nil
}

func (m *mockDiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return m.appendMessage(channelID, m.botUser, content), nil
}

func (m *mockDiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	msg := m.appendMessage(channelID, m.botUser, content)
	msg.MessageReference = reference
	return msg, nil
}

func (m *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.complexSends[channelID] = append(m.complexSends[channelID], data)
	msg := m.appendMessage(channelID, m.botUser, data.Content)
	msg.Embeds = data.Embeds
	return msg, nil
}

func (m *mockDiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.appendMessage(channelID, m.botUser, "")
	msg.Embeds = []*discordgo.MessageEmbed{embed}
	return msg, nil
}

func (m *mockDiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedMessages = append(m.deletedMessages, messageID)
	m.messages[channelID] = slices.DeleteFunc(
		m.messages[channelID], func(msg *discordgo.Message) bool {
			return msg.ID == messageID
		},
	)
	return nil
}

func (m *mockDiscordSession) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing[channelID]++
	return nil
}

func (m *mockDiscordSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, errMockNotFound)
	}
	return ch, nil
}

func (m *mockDiscordSession) ChannelDelete(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteChannelErr != nil {
		return nil, m.deleteChannelErr
	}
	m.deletedChannels = append(m.deletedChannels, channelID)
	ch, ok := m.channels[channelID]
	if !ok {
		ch = &discordgo.Channel{ID: channelID}
	}
	delete(m.channels, channelID)
	return ch, nil
}

func (m *mockDiscordSession) ChannelEdit(
	channelID string,
	data *discordgo.ChannelEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channelEdits[channelID] = append(m.channelEdits[channelID], data)
	ch, ok := m.channels[channelID]
	if !ok {
		ch = &discordgo.Channel{ID: channelID}
	}
	return ch, nil
}

func (m *mockDiscordSession) ChannelPermissionSet(
	channelID string,
	targetID string,
	targetType discordgo.PermissionOverwriteType,
	allow int64,
	deny int64,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissionSets = append(
		m.permissionSets,
		permissionSet{
			ChannelID: channelID,
			TargetID:  targetID,
			Type:      targetType,
			Allow:     allow,
			Deny:      deny,
		},
	)
	return nil
}

func (m *mockDiscordSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createChannelErr != nil {
		return nil, m.createChannelErr
	}
	m.createdChannels = append(m.createdChannels, data)
	ch := &discordgo.Channel{
		ID:       m.newID("c"),
		GuildID:  guildID,
		Name:     data.Name,
		Type:     data.Type,
		ParentID: data.ParentID,
	}
	m.channels[ch.ID] = ch
	return ch, nil
}

func (m *mockDiscordSession) Guild(
	guildID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	return &discordgo.Guild{ID: guildID, Name: "Test Guild"}, nil
}

func (m *mockDiscordSession) GuildMember(
	_ string,
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[userID]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", userID, errMockNotFound)
	}
	return member, nil
}

func (m *mockDiscordSession) GuildMemberMove(
	_ string,
	userID string,
	channelID *string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	move := memberMove{UserID: userID}
	if channelID != nil {
		move.ChannelID = *channelID
	}
	m.moves = append(m.moves, move)
	return nil
}

func (m *mockDiscordSession) VoiceChannelMemberCount(_ string, channelID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voiceCounts[channelID], nil
}

func (m *mockDiscordSession) ChannelWebhooks(
	channelID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.webhooks[channelID]), nil
}

func (m *mockDiscordSession) WebhookCreate(
	channelID string,
	name string,
	_ string,
	_ ...discordgo.RequestOption,
) (*discordgo.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &discordgo.Webhook{
		ID:        m.newID("w"),
		ChannelID: channelID,
		Name:      name,
		Token:     "webhook-token",
	}
	m.webhooks[channelID] = append(m.webhooks[channelID], w)
	return w, nil
}

func (m *mockDiscordSession) WebhookExecute(
	webhookID string,
	_ string,
	_ bool,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhookExecutes = append(m.webhookExecutes, webhookExecute{WebhookID: webhookID, Params: data})
	var channelID string
	for chID, hooks := range m.webhooks {
		for _, w := range hooks {
			if w.ID == webhookID {
				channelID = chID
			}
		}
	}
	if channelID == "" {
		return nil, fmt.Errorf("webhook %s: %w", webhookID, errMockNotFound)
	}
	msg := m.appendMessage(
		channelID,
		&discordgo.User{ID: webhookID, Username: data.Username, Bot: true},
		data.Content,
	)
	msg.WebhookID = webhookID
	msg.Embeds = data.Embeds
	return msg, nil
}

func (m *mockDiscordSession) MessageThreadStart(
	channelID string,
	_ string,
	name string,
	_ int,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.threadStartErr != nil {
		return nil, m.threadStartErr
	}
	thread := &discordgo.Channel{
		ID:       m.newID("t"),
		Name:     name,
		Type:     discordgo.ChannelTypeGuildPublicThread,
		ParentID: channelID,
	}
	m.channels[thread.ID] = thread
	m.threadStarts = append(m.threadStarts, thread)
	return thread, nil
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = slices.Clone(commands)
	return slices.Clone(commands), nil
}

func (m *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return nil
}

func (m *mockDiscordSession) InteractionResponseDelete(
	_ *discordgo.Interaction,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseDeletes++
	return nil
}

func (m *mockDiscordSession) FollowupMessageCreate(
	_ *discordgo.Interaction,
	_ bool,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followups = append(m.followups, data)
	return &discordgo.Message{ID: m.newID("f"), Content: data.Content}, nil
}

// scriptedModel is a LanguageModel returning canned answers. Chat runs
// the scripted tool calls through the request's executor, the way the
// provider backends do.
type scriptedModel struct {
	mu sync.Mutex

	// generate returns the answer for a GenerateText prompt
	generate func(prompt string) (string, error)

	// calls are made, in order, one per round, before text is returned
	calls   [][]ToolCall
	text    string
	chatErr error

	prompts  []string
	requests []ChatRequest
}

func (s *scriptedModel) Provider() string {
	return "scripted"
}

func (s *scriptedModel) GenerateText(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	generate := s.generate
	s.mu.Unlock()
	if generate == nil {
		return "", nil
	}
	return generate(prompt)
}

func (s *scriptedModel) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	calls := slices.Clone(s.calls)
	text := s.text
	chatErr := s.chatErr
	s.mu.Unlock()

	if chatErr != nil {
		return nil, chatErr
	}
	trace := newChatTrace(req)
	for _, round := range calls {
		trace.model("", round)
		trace.results(executeToolCalls(ctx, req.Exec, round, slog.Default()))
	}
	trace.model(text, nil)
	return &ChatResult{Text: text, Turns: trace.turns}, nil
}

func (s *scriptedModel) generatePrompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.prompts)
}

func (s *scriptedModel) chatRequests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// testToolServer is an in-process MCP server offering the command
// center tools, a prompt catalog and a service catalog
type testToolServer struct {
	mu       sync.Mutex
	server   *server.MCPServer
	health   map[string]string
	calls    []ToolCall
	services string
}

func newTestToolServer(t testing.TB, prompts []Prompt) (*testToolServer, *MCPInvoker) {
	t.Helper()
	ts := &testToolServer{
		health:   map[string]string{"api": "healthy", "web": "healthy"},
		services: `["api", "web"]`,
	}
	s := server.NewMCPServer(
		"test-tools",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithPromptCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.AddTool(
		mcp.NewTool(
			toolGetServiceHealth,
			mcp.WithDescription("Checks the health of a managed service"),
			mcp.WithString("service_name", mcp.Required()),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			name, _ := req.GetArguments()["service_name"].(string)
			ts.record(toolGetServiceHealth, req.GetArguments())
			ts.mu.Lock()
			status, ok := ts.health[name]
			ts.mu.Unlock()
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("unknown service %q", name)), nil
			}
			return structuredResult(map[string]any{"service": name, "status": status}), nil
		},
	)
	s.AddTool(
		mcp.NewTool(
			toolRestartService,
			mcp.WithDescription("Restarts a managed service"),
			mcp.WithString("service_name", mcp.Required()),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			name, _ := req.GetArguments()["service_name"].(string)
			ts.record(toolRestartService, req.GetArguments())
			ts.mu.Lock()
			ts.health[name] = "healthy"
			ts.mu.Unlock()
			return structuredResult(fmt.Sprintf("restarted %s", name)), nil
		},
	)
	s.AddTool(
		mcp.NewTool(
			toolTriggerUser,
			mcp.WithDescription("Notifies the user with a message"),
			mcp.WithString("message", mcp.Required()),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			ts.record(toolTriggerUser, req.GetArguments())
			return structuredResult("notified"), nil
		},
	)
	s.AddTool(
		mcp.NewTool("text_only", mcp.WithDescription("Returns text without structured content")),
		func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("plain"), nil
		},
	)

	for _, p := range prompts {
		content := p.Content
		s.AddPrompt(
			mcp.NewPrompt(p.ID, mcp.WithPromptDescription(p.Description)),
			func(_ context.Context, _ mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
				return mcp.NewGetPromptResult(
					"",
					[]mcp.PromptMessage{
						mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(content)),
					},
				), nil
			},
		)
	}

	s.AddResource(
		mcp.NewResource(DefaultServiceCatalogResource, "services", mcp.WithMIMEType("application/json")),
		func(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			ts.mu.Lock()
			defer ts.mu.Unlock()
			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      req.Params.URI,
					MIMEType: "application/json",
					Text:     ts.services,
				},
			}, nil
		},
	)
	ts.server = s

	invoker := NewMCPInvokerWithDialer(
		func(_ context.Context) (*client.Client, error) {
			return client.NewInProcessClient(s)
		},
		nil,
	)
	return ts, invoker
}

func structuredResult(result any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content:           []mcp.Content{mcp.NewTextContent(fmt.Sprintf("%v", result))},
		StructuredContent: map[string]any{"result": result},
	}
}

func (ts *testToolServer) record(name string, args map[string]any) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.calls = append(ts.calls, ToolCall{Name: name, Args: args})
}

func (ts *testToolServer) toolCalls() []ToolCall {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return slices.Clone(ts.calls)
}

func (ts *testToolServer) setHealth(service string, status string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.health[service] = status
}

// staticInvoker is a ToolInvoker with fixed catalogs, recording calls
type staticInvoker struct {
	mu       sync.Mutex
	prompts  []Prompt
	contents []string
	results  map[string]any
	err      error
	calls    []ToolCall
}

func (s *staticInvoker) CallTool(_ context.Context, name string, args map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, ToolCall{Name: name, Args: args})
	if s.err != nil {
		return nil, s.err
	}
	return s.results[name], nil
}

func (s *staticInvoker) ListTools(_ context.Context) ([]ToolDefinition, error) {
	return commandCenterTools, s.err
}

func (s *staticInvoker) ListPrompts(_ context.Context) ([]Prompt, error) {
	if s.err != nil {
		return nil, s.err
	}
	return slices.Clone(s.prompts), nil
}

func (s *staticInvoker) ReadResource(_ context.Context, _ string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return slices.Clone(s.contents), nil
}

func setupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := CreateDB(
		context.Background(),
		dbTypeSQLite,
		filepath.Join(t.TempDir(), "test.sqlite3"),
	)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			if sqlDB, e := db.DB(); e == nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db
}

func testConfig(t testing.TB) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database = filepath.Join(t.TempDir(), "bot.sqlite3")
	cfg.Discord.Token = "test-token"
	cfg.Discord.ApplicationID = "test-app"
	cfg.Discord.GuildID = testGuildID
	cfg.Discord.CustomStatus = ""
	cfg.AdminRoleID = testAdminRoleID
	cfg.CommandCenter.Provider = providerOpenAI
	cfg.CommandCenter.ChannelID = testCommandCenterChannelID
	cfg.CommandCenter.InsightsChannelID = testInsightsChannelID
	cfg.RateLimit.RequestsPerMinute = 0
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.StartupTimeout = 5 * time.Second
	return cfg
}

// newTestBot returns a bot with a mock session and a SQLite database.
// The bot user is already known, as if the gateway were ready.
func newTestBot(t testing.TB, cfg *Config) (*Bot, *mockDiscordSession) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	b, err := New(cfg)
	require.NoError(t, err)

	session := newMockDiscordSession()
	session.addChannel(
		&discordgo.Channel{
			ID:      testCommandCenterChannelID,
			GuildID: testGuildID,
			Name:    "command-center",
			Type:    discordgo.ChannelTypeGuildText,
		},
	)
	b.SetSession(session)
	b.db = NewDatabase(setupTestDB(t), nil, false)
	id := testBotUserID
	b.botUserID.Store(&id)
	return b, session
}

// withAgents replaces the bot's model and tool invoker, and recreates
// the agents with them
func withAgents(b *Bot, model LanguageModel, invoker ToolInvoker) {
	b.model = model
	b.modelErr = nil
	b.invoker = invoker
	b.wireAgents()
}

func enableModules(t testing.TB, b *Bot, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, b.modules.Enable(context.Background(), name))
	}
}

// waitFor polls cond until it returns true, failing the test after a
// few seconds
func waitFor(t testing.TB, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond, msgAndArgs...)
}

func newTestUser(id string) *discordgo.User {
	return &discordgo.User{ID: id, Username: "user-" + id}
}

// newTestInteraction returns a component interaction from a guild
// member holding roles
func newTestComponentInteraction(
	customID string,
	channelID string,
	user *discordgo.User,
	roles ...string,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction-" + customID,
			Type:      discordgo.InteractionMessageComponent,
			GuildID:   testGuildID,
			ChannelID: channelID,
			Member:    &discordgo.Member{User: user, Roles: roles},
			Data: discordgo.MessageComponentInteractionData{
				CustomID:      customID,
				ComponentType: discordgo.ButtonComponent,
			},
		},
	}
}

func newTestCommandInteraction(
	data discordgo.ApplicationCommandInteractionData,
	channelID string,
	user *discordgo.User,
	roles ...string,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction-" + data.Name,
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   testGuildID,
			ChannelID: channelID,
			Member:    &discordgo.Member{User: user, Roles: roles},
			Data:      data,
		},
	}
}
