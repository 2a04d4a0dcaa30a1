package bot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/react-chatbotify/discord-bot/bot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}

// Bot is the Discord community bot. It owns the Discord session, the
// database, the agents and the webhook server, and routes gateway events
// to whichever modules are enabled.
type Bot struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	session    DiscordSessionHandler
	db         DBI
	components *ComponentRegistry
	commands   map[string]slashCommand
	modules    *ModuleManager
	metrics    *Metrics
	limiter    *UserLimiter

	// invoker calls the remote tools, and reads the prompt and service
	// catalogs
	invoker ToolInvoker

	// model is nil if it couldn't be created, in which case modelErr
	// holds the reason
	model    LanguageModel
	modelErr error

	commandCenter *CommandCenterAgent
	support       *SupportAgent
	manager       *AgentManager

	notifier      CatalogNotifier
	webhookServer *WebhookServer

	// events queues alerts received by the webhook server. Once
	// eventsClosed is set, nothing more is queued.
	events       chan AlertEvent
	eventsMu     sync.RWMutex
	eventsClosed bool

	botUserID atomic.Pointer[string]
	connected atomic.Bool

	// runtimeWG tracks in-flight event handlers, which are waited on
	// during shutdown
	runtimeWG sync.WaitGroup

	// runMu prevents concurrent runs
	runMu sync.Mutex

	promptMu  sync.Mutex
	promptIDs []string

	removeHandlers []func()
}

// New creates a Bot from config. Errors are collected and returned
// together, with the Bot, so callers can report all of them.
//
// A language model that can't be created isn't an error: the bot runs
// without the agents, and enabling the agents module reports why.
func New(config *Config) (*Bot, error) {
	var errs []error

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &Bot{
		config:     config,
		components: NewComponentRegistry(),
		metrics:    NewMetrics(),
		events:     make(chan AlertEvent, alertEventBuffer),
	}

	b.logHandler = newLogHandler(defaultLogWriter, config.LogLevel)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	if err := b.ValidateConfig(); err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(defaultLogWriter, config.Discord.DiscordGoLogLevel).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, "discordgo")},
		),
	)
	session, err := newDiscordSession(
		config.Discord,
		config.HTTPClient,
		slog.New(newLogHandler(defaultLogWriter, config.Discord.LogLevel)),
	)
	if err != nil {
		errs = append(errs, err)
	}
	b.session = session

	limiter, err := NewUserLimiter(config.RateLimit)
	if err != nil {
		errs = append(errs, err)
	}
	b.limiter = limiter

	ccLogger := slog.New(newLogHandler(defaultLogWriter, config.CommandCenter.LogLevel))
	b.invoker = instrumentedInvoker{
		ToolInvoker: NewMCPInvoker(
			config.CommandCenter.MCPServerURL,
			config.CommandCenter.MCPServerToken,
			ccLogger,
		),
		calls: b.metrics.ToolCalls,
	}
	model, err := NewLanguageModel(context.Background(), config, ccLogger)
	if err != nil {
		b.logger.Warn("language model unavailable, agents disabled", tint.Err(err))
		b.modelErr = err
	} else {
		b.model = model
	}
	b.wireAgents()

	b.modules = NewModuleManager(b.components, b.logger)
	b.buildModules()
	b.registerCoreComponents()

	b.commands = map[string]slashCommand{}
	for _, cmd := range b.slashCommands() {
		b.commands[cmd.command.Name] = cmd
	}

	if config.WebhookServer.Enabled {
		srv, e := newWebhookServer(b, config.WebhookServer)
		if e != nil {
			errs = append(errs, e)
		}
		b.webhookServer = srv
	}

	return b, errors.Join(errs...)
}

func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// wireAgents (re)creates the agents from the current session, model
// and invoker. Without a model, the agents are left unset.
func (b *Bot) wireAgents() {
	if b.model == nil || b.invoker == nil {
		b.commandCenter = nil
		b.support = nil
		b.manager = nil
		return
	}
	logger := slog.New(newLogHandler(defaultLogWriter, b.config.CommandCenter.LogLevel))
	b.commandCenter = NewCommandCenterAgent(
		b.config.CommandCenter,
		b.invoker,
		b.model,
		b.session,
		b.BotUserID,
		logger,
	)
	b.support = NewSupportAgent(
		b.model,
		b.session,
		b.config.CommandCenter.InsightsChannelID,
		logger,
	)
	b.manager = NewAgentManager(b.support, b.commandCenter, b.session, logger)
	b.manager.responses = b.metrics.AgentResponses
}

// SetSession replaces the Discord session, and recreates the agents to
// use it
func (b *Bot) SetSession(s DiscordSessionHandler) {
	b.session = s
	b.wireAgents()
}

// BotUserID returns the bot's own user ID, once the gateway is ready
func (b *Bot) BotUserID() string {
	if id := b.botUserID.Load(); id != nil {
		return *id
	}
	return ""
}

// registerCoreComponents registers components that don't belong to a
// single module. Ticket channels outlive the module that created them,
// so their buttons always work.
func (b *Bot) registerCoreComponents() {
	b.components.Register(buttonCloseTicket, b.handleCloseTicket)
	b.components.Register(buttonConfirmCloseTicket, b.handleConfirmCloseTicket)
	b.components.Register(buttonCancelCloseTicket, b.handleCancelCloseTicket)
	b.components.Register(buttonExportTicket, b.handleExportTicket)
}

// UpdateLogLevels applies the log levels of cfg to the running bot
func (b *Bot) UpdateLogLevels(cfg *Config) {
	setLevel(b.config.LogLevel, cfg.LogLevel)
	setLevel(b.config.DatabaseLogLevel, cfg.DatabaseLogLevel)
	setLevel(b.config.Discord.LogLevel, cfg.Discord.LogLevel)
	setLevel(b.config.Discord.DiscordGoLogLevel, cfg.Discord.DiscordGoLogLevel)
	setLevel(b.config.WebhookServer.LogLevel, cfg.WebhookServer.LogLevel)
	setLevel(b.config.CommandCenter.LogLevel, cfg.CommandCenter.LogLevel)
}

func setLevel(dst *slog.LevelVar, src *slog.LevelVar) {
	if dst != nil && src != nil && dst.Level() != src.Level() {
		dst.Set(src.Level())
	}
}

// Run connects to Discord and handles events until ctx is canceled,
// then shuts down gracefully.
func (b *Bot) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	logger := b.logger
	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- b.initRun(startCtx, ctx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return errors.Join(err, b.shutdown(ctx))
		}
		logger.InfoContext(ctx, "init complete")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(
		func() error {
			return b.dispatchEvents(gctx)
		},
	)
	g.Go(
		func() error {
			return b.notifier.Listen(gctx, b.reloadCatalog)
		},
	)
	if b.webhookServer != nil {
		g.Go(
			func() error {
				err := b.webhookServer.Serve(gctx)
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			},
		)
		g.Go(
			func() error {
				<-gctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(
					context.Background(),
					b.config.ShutdownTimeout,
				)
				defer shutdownCancel()
				return b.webhookServer.Shutdown(shutdownCtx)
			},
		)
	}

	runErr := g.Wait()
	if runErr != nil {
		logger.ErrorContext(ctx, "runtime error", tint.Err(runErr))
	}
	return errors.Join(runErr, b.shutdown(ctx))
}

// initRun prepares the database, loads the configured modules, connects
// to Discord and registers the slash commands
func (b *Bot) initRun(startCtx context.Context, ctx context.Context) error {
	b.logger.Debug("initializing DB...")
	if err := b.initDB(startCtx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	b.logger.Debug("finished initializing DB")

	b.notifier = newCatalogNotifier(b.config, b.db, b.logger)
	b.addHandlers(ctx)
	b.modules.LoadAll(startCtx, b.config.LoadedModules)

	b.logger.InfoContext(ctx, "connecting to discord")
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	if _, err := b.registerCommands(startCtx); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}

	if status := b.config.Discord.CustomStatus; status != "" {
		go func() {
			if statusErr := b.session.UpdateCustomStatus(status); statusErr != nil {
				b.logger.Error("error updating discord status", tint.Err(statusErr))
			}
		}()
	}
	return nil
}

// initDB opens, migrates and seeds the database, unless one is already
// set
func (b *Bot) initDB(ctx context.Context) error {
	if b.db != nil {
		return nil
	}
	handler := newLogHandler(defaultLogWriter, b.config.DatabaseLogLevel)
	db, err := getDB(
		b.config.DatabaseType,
		b.config.DSN(),
		newGORMLogger(handler, b.config.DatabaseSlowThreshold),
	)
	if err != nil {
		return err
	}
	if b.config.DatabaseType == dbTypeSQLite {
		if err = configureSQLite(ctx, db); err != nil {
			return err
		}
	}
	if err = migrateDB(ctx, db); err != nil {
		return err
	}
	b.db = NewDatabase(db, slog.New(handler), b.config.DatabaseType != dbTypeSQLite)
	return nil
}

// shutdown closes the gateway connection, then waits for in-flight
// handlers to finish, up to the configured shutdown timeout
func (b *Bot) shutdown(ctx context.Context) error {
	b.logger.WarnContext(ctx, "shutting down")
	b.closeEvents(ctx)
	for _, remove := range b.removeHandlers {
		remove()
	}
	b.removeHandlers = nil

	if err := b.session.Close(); err != nil {
		b.logger.ErrorContext(ctx, "error closing discord session", tint.Err(err))
	}
	b.connected.Store(false)
	b.metrics.DiscordConnected.Set(0)

	shutdownStart := time.Now()
	done := make(chan struct{})
	go func() {
		b.runtimeWG.Wait()
		close(done)
	}()

	timer := time.NewTimer(b.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		b.logger.InfoContext(
			ctx,
			"finished handling in-flight events",
			"shutdown_duration", time.Since(shutdownStart),
		)
	case <-timer.C:
		return errors.New("in-flight handlers did not stop in time")
	}

	if b.db != nil {
		if sqlDB, err := b.db.DB().DB(); err == nil {
			if err = sqlDB.Close(); err != nil {
				b.logger.ErrorContext(ctx, "error closing database", tint.Err(err))
			}
		}
	}
	return nil
}

// loadCatalog reloads the prompt and service catalogs from the tool
// server, and registers a component for each user prompt
func (b *Bot) loadCatalog(ctx context.Context) error {
	if b.commandCenter == nil {
		return errAgentsNotConfigured
	}
	var errs []error
	if err := b.commandCenter.LoadPrompts(ctx); err != nil {
		b.logger.ErrorContext(ctx, fmt.Sprintf("❌ Failed to load prompts: %s", err))
		errs = append(errs, err)
	} else {
		b.logger.InfoContext(ctx, "✅ Prompts loaded successfully.")
	}
	if err := b.commandCenter.SetSystemContext(ctx); err != nil {
		b.logger.ErrorContext(ctx, fmt.Sprintf("❌ Failed to set system context: %s", err))
		errs = append(errs, err)
	} else {
		b.logger.InfoContext(ctx, "✅ System context set successfully.")
	}
	b.registerPromptComponents()
	return errors.Join(errs...)
}

func (b *Bot) reloadCatalog(ctx context.Context) {
	_ = b.loadCatalog(ctx)
}

// handle runs fn in its own goroutine, tracked for shutdown, recovering
// from any panic
func (b *Bot) handle(ctx context.Context, source string, fn func(ctx context.Context)) {
	b.runtimeWG.Add(1)
	go func() {
		defer b.runtimeWG.Done()
		defer b.handleRecover(ctx, source)
		fn(ctx)
	}()
}

func (b *Bot) addHandlers(ctx context.Context) {
	for _, remove := range b.removeHandlers {
		remove()
	}
	b.removeHandlers = []func(){
		b.session.AddHandler(
			func(_ *discordgo.Session, _ *discordgo.Connect) {
				b.connected.Store(true)
				b.metrics.DiscordConnected.Set(1)
				b.logger.Info("connected")
			},
		),
		b.session.AddHandler(
			func(_ *discordgo.Session, _ *discordgo.Disconnect) {
				b.connected.Store(false)
				b.metrics.DiscordConnected.Set(0)
				b.logger.Warn("disconnected")
			},
		),
		b.session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.Ready) {
				b.handle(
					ctx, "ready", func(ctx context.Context) {
						b.handleReady(ctx, r)
					},
				)
			},
		),
		b.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				b.handle(
					ctx, "message_create", func(ctx context.Context) {
						b.handleMessage(ctx, m)
					},
				)
			},
		),
		b.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
				b.handle(
					ctx, "message_update", func(ctx context.Context) {
						b.logMessageEdit(ctx, m)
					},
				)
			},
		),
		b.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageDelete) {
				b.handle(
					ctx, "message_delete", func(ctx context.Context) {
						b.logMessageDelete(ctx, m)
					},
				)
			},
		),
		b.session.AddHandler(
			func(_ *discordgo.Session, c *discordgo.ChannelCreate) {
				b.handle(
					ctx, "channel_create", func(ctx context.Context) {
						b.logChannelCreate(ctx, c)
					},
				)
			},
		),
		b.session.AddHandler(
			func(_ *discordgo.Session, c *discordgo.ChannelDelete) {
				b.handle(
					ctx, "channel_delete", func(ctx context.Context) {
						b.logChannelDelete(ctx, c)
					},
				)
			},
		),
		b.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
				b.handle(
					ctx, "member_add", func(ctx context.Context) {
						b.logMemberJoin(ctx, m)
					},
				)
			},
		),
		b.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
				b.handle(
					ctx, "member_remove", func(ctx context.Context) {
						b.logMemberRemove(ctx, m)
					},
				)
			},
		),
		b.session.AddHandler(
			func(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
				b.handle(
					ctx, "voice_state_update", func(ctx context.Context) {
						b.handleVoiceState(ctx, v)
					},
				)
			},
		),
		b.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				b.handle(
					ctx, "interaction", func(ctx context.Context) {
						b.handleInteraction(ctx, i)
					},
				)
			},
		),
	}
}

// handleReady records the bot's user ID, then loads the catalogs and
// cleans up stale voice channels for the enabled modules
func (b *Bot) handleReady(ctx context.Context, r *discordgo.Ready) {
	if r.User != nil {
		id := r.User.ID
		b.botUserID.Store(&id)
		b.logger.InfoContext(ctx, "ready", "user_id", id, "username", r.User.Username)
	}
	b.connected.Store(true)
	b.metrics.DiscordConnected.Set(1)

	if b.manager != nil && b.modules.Enabled(moduleAgents) {
		b.reloadCatalog(ctx)
	}
	if b.modules.Enabled(moduleAutoVoice) {
		b.cleanupVoiceChannels(ctx)
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == b.BotUserID() {
		return
	}
	if b.modules.Enabled(moduleCommandCenter) {
		b.handleCommandCenterMessage(ctx, m)
	}
	if b.modules.Enabled(moduleGames) {
		b.handleGameMessage(ctx, m)
	}
	if b.modules.Enabled(moduleSmartChat) {
		b.handleSmartChat(ctx, m)
	}
}

func (b *Bot) handleVoiceState(ctx context.Context, v *discordgo.VoiceStateUpdate) {
	b.logVoiceState(ctx, v)
	if b.modules.Enabled(moduleAutoVoice) {
		b.handleAutoVoice(ctx, v)
	}
}

func (b *Bot) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	ctx = WithLogger(ctx, b.logger.With(slog.Group("interaction", interactionLogAttrs(*i)...)))
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.dispatchCommand(ctx, i)
	case discordgo.InteractionMessageComponent:
		b.dispatchComponent(ctx, i)
	default:
		b.logger.DebugContext(ctx, "ignoring interaction", "type", i.Type.String())
	}
}

// handleRecover recovers from a panic in the calling goroutine, logging
// it with the stack trace. It must be deferred directly.
func (b *Bot) handleRecover(ctx context.Context, source string) {
	rc := recover()
	if rc == nil {
		return
	}
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = b.logger
	}
	stackTrace := string(debug.Stack())
	attrs := []any{"source", source, "stack_trace", stackTrace}
	switch v := rc.(type) {
	case error:
		attrs = append(attrs, tint.Err(v))
	case string:
		attrs = append(attrs, tint.Err(errors.New(v)))
	default:
		attrs = append(attrs, "panic_arg", rc)
	}
	logger.ErrorContext(ctx, "recovered from panic", attrs...)
}
