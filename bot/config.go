//nolint:lll // struct tags can't be split
package bot

import (
	"crypto/tls"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"log/slog"
	"net/http"
	"reflect"
	"time"
)

const (
	EnvvarSetEnvPrefix    = "RCB_ENV_PREFIX"
	DefaultEnvPrefix      = "RCB"
	DefaultDatabaseType   = dbTypeSQLite
	DefaultDatabase       = "discord-bot.sqlite3"
	DefaultLogLevel       = slog.LevelInfo
	DefaultStartupTimeout = 30 * time.Second

	DefaultShutdownTimeout = 60 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultWebhookServerListen        = "0.0.0.0:8180"
	DefaultWebhookServerTLSMinVersion = tls.VersionTLS12
	DefaultDiscordGatewayIntent       = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildWebhooks |
		discordgo.IntentsMessageContent

	DefaultDiscordLogLevel     = slog.LevelWarn
	DefaultDiscordgoLogLevel   = slog.LevelWarn
	DefaultDiscordCustomStatus = "Managing the community"
	discordMaxMessageLength    = 2000

	DefaultWebhookLogLevel        = slog.LevelInfo
	DefaultDatabaseSlowThreshold  = 200 * time.Millisecond
	DefaultDatabaseLogLevel       = slog.LevelInfo
	DefaultCommandCenterLogLevel  = slog.LevelInfo
	defaultListenNetwork          = "tcp"
	DefaultCORSAllowCredentials   = false
	DefaultModelProvider          = providerGemini
	DefaultGeminiModel            = "gemini-2.5-flash"
	DefaultOpenAIModel            = "gpt-4o-mini"
	DefaultAnthropicModel         = "claude-sonnet-4-5"
	DefaultAnthropicMaxTokens     = 2048
	DefaultOpenAIRequestsPerSec   = 1
	DefaultHistoryLimit           = 20
	DefaultMaxToolRounds          = 5
	DefaultAgentApology           = "Sorry, I ran into a problem while processing that. Please try again in a moment."
	DefaultRateLimitMessage       = "⏳ You're sending requests too quickly, please wait a moment."
	DefaultUserRequestsPerMinute  = 6
	DefaultUserRequestBurst       = 3
	DefaultUserLimiterCacheSize   = 1024
	DefaultAutoVoiceUserLimit     = 30
	DefaultSmartChatTimeout       = 30 * time.Second
	DefaultMySQLPort              = 3306
	DefaultServiceCatalogResource = "resource://services"
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour

	// DefaultLoggedActions is the set of activity log actions enabled when
	// none are configured.
	DefaultLoggedActions = []string{
		logActionMessageDelete,
		logActionMessageEdit,
		logActionChannelCreate,
		logActionChannelDelete,
		logActionVoiceStateUpdate,
		logActionMemberJoin,
		logActionMemberRemove,
	}
)

type Config struct {
	// Database connection string, or SQLite file path. For MySQL, this may
	// be left empty and built from [MySQLConfig] instead.
	Database string `yaml:"database" mapstructure:"database" json:"database" log:"[redacted]"`

	// DatabaseType specifies the type of database: 'sqlite', 'postgres' or 'mysql'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres mysql"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	MySQL MySQLConfig `yaml:"mysql" mapstructure:"mysql" json:"mysql"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Development enables gin debug mode and disables panic recovery
	Development bool `yaml:"development" mapstructure:"development" json:"development"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// AdminRoleID is the guild role allowed to run admin commands and
	// see every ticket channel
	AdminRoleID string `yaml:"admin_role_id" mapstructure:"admin_role_id" json:"admin_role_id"`

	// LoadedModules lists the modules enabled on startup
	LoadedModules []string `yaml:"loaded_modules" mapstructure:"loaded_modules" json:"loaded_modules"`

	Discord       DiscordConfig       `yaml:"discord" mapstructure:"discord" json:"discord"`
	CommandCenter CommandCenterConfig `yaml:"command_center" mapstructure:"command_center" json:"command_center"`
	WebhookServer WebhookServerConfig `yaml:"webhook_server" mapstructure:"webhook_server" json:"webhook_server"`
	Gemini        GeminiConfig        `yaml:"gemini" mapstructure:"gemini" json:"gemini"`
	OpenAI        OpenAIConfig        `yaml:"openai" mapstructure:"openai" json:"openai"`
	Anthropic     AnthropicConfig     `yaml:"anthropic" mapstructure:"anthropic" json:"anthropic"`
	Tickets       TicketsConfig       `yaml:"tickets" mapstructure:"tickets" json:"tickets"`
	Sponsors      SponsorsConfig      `yaml:"sponsors" mapstructure:"sponsors" json:"sponsors"`
	Games         GamesConfig         `yaml:"games" mapstructure:"games" json:"games"`
	AutoVoice     AutoVoiceConfig     `yaml:"auto_voice" mapstructure:"auto_voice" json:"auto_voice"`
	ActivityLog   ActivityLogConfig   `yaml:"activity_log" mapstructure:"activity_log" json:"activity_log"`
	SmartChat     SmartChatConfig     `yaml:"smart_chat" mapstructure:"smart_chat" json:"smart_chat"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" mapstructure:"rate_limit" json:"rate_limit"`

	HTTPClient *http.Client `yaml:"-" mapstructure:"-" json:"-" log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DSN returns the connection string for the configured database.
// For MySQL, an explicit Database value takes precedence over [MySQLConfig].
func (c Config) DSN() string {
	if c.DatabaseType == dbTypeMySQL && c.Database == "" {
		return c.MySQL.DSN()
	}
	return c.Database
}

// Redacted returns a copy of the config with every field tagged
// `log:"..."` replaced by its tag value, for display.
func (c Config) Redacted() Config {
	redactStruct(reflect.ValueOf(&c).Elem())
	c.HTTPClient = nil
	return c
}

func redactStruct(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if tag := field.Tag.Get("log"); tag != "" && fv.Kind() == reflect.String {
			if fv.String() != "" {
				fv.SetString(tag)
			}
			continue
		}
		if fv.Kind() == reflect.Struct {
			redactStruct(fv)
		}
	}
}

// MySQLConfig holds discrete MySQL connection settings
type MySQLConfig struct {
	Host     string `yaml:"host" mapstructure:"host" json:"host"`
	Port     int    `yaml:"port" mapstructure:"port" json:"port"`
	User     string `yaml:"user" mapstructure:"user" json:"user"`
	Password string `yaml:"password" mapstructure:"password" json:"password" log:"[redacted]"`
	Database string `yaml:"database" mapstructure:"database" json:"database"`
}

func (m MySQLConfig) DSN() string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		m.User,
		m.Password,
		m.Host,
		m.Port,
		m.Database,
	)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// CustomStatus is set as the bot's status once connected
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`
}

// CommandCenterConfig configures the agent-driven command center
type CommandCenterConfig struct {
	// ChannelID is the channel admins converse with the agents in, and
	// where alerts are posted
	ChannelID string `yaml:"channel_id" mapstructure:"channel_id" json:"channel_id"`

	// InsightsChannelID is where summarized learnings from resolved
	// threads are posted, and read back when suggesting remedies
	InsightsChannelID string `yaml:"insights_channel_id" mapstructure:"insights_channel_id" json:"insights_channel_id"`

	// MCPServerURL is the streamable HTTP endpoint of the tool server
	MCPServerURL string `yaml:"mcp_server_url" mapstructure:"mcp_server_url" json:"mcp_server_url"`

	// MCPServerToken is sent as a bearer token to the tool server
	MCPServerToken string `yaml:"mcp_server_token" mapstructure:"mcp_server_token" json:"mcp_server_token" log:"[redacted]"`

	// ServiceCatalogURI is the tool server resource listing managed services
	ServiceCatalogURI string `yaml:"service_catalog_uri" mapstructure:"service_catalog_uri" json:"service_catalog_uri"`

	// Provider selects the language model backend: gemini, openai or anthropic
	Provider string `yaml:"provider" mapstructure:"provider" json:"provider" binding:"oneof=gemini openai anthropic"`

	// Model is the provider-specific model name. Defaults depend on Provider.
	Model string `yaml:"model" mapstructure:"model" json:"model"`

	// HistoryLimit is the number of recent thread messages sent as context
	HistoryLimit int `yaml:"history_limit" mapstructure:"history_limit" json:"history_limit" binding:"min=0"`

	// MaxToolRounds caps the number of tool-call round trips per response
	MaxToolRounds int `yaml:"max_tool_rounds" mapstructure:"max_tool_rounds" json:"max_tool_rounds" binding:"min=1"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// GeminiConfig configures the Gemini API backend
type GeminiConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]"`
}

// OpenAIConfig configures the OpenAI API backend
type OpenAIConfig struct {
	// OpenAI API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// BaseURL overrides the API endpoint, for compatible servers
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`

	// MaxRequestsPerSecond limits outgoing chat completion requests
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`
}

// AnthropicConfig configures the Anthropic API backend
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens"`
}

// WebhookServerConfig configures the HTTP server receiving service alerts.
type WebhookServerConfig struct {
	// Determines if the webhook server should be active.
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "0.0.0.0:8180").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Token is the bearer token alert senders must present
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required_if=Enabled true"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// The logging level for the webhook server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultCORSAllowCredentials,
	}
}

// TicketsConfig holds the categories ticket channels are created under
type TicketsConfig struct {
	SupportCategoryID string `yaml:"support_category_id" mapstructure:"support_category_id" json:"support_category_id"`
	ReportCategoryID  string `yaml:"report_category_id" mapstructure:"report_category_id" json:"report_category_id"`
	SponsorCategoryID string `yaml:"sponsor_category_id" mapstructure:"sponsor_category_id" json:"sponsor_category_id"`
}

// SponsorsConfig maps sponsor tiers to guild roles
type SponsorsConfig struct {
	CommunityRoleID string `yaml:"community_role_id" mapstructure:"community_role_id" json:"community_role_id"`
	LiteRoleID      string `yaml:"lite_role_id" mapstructure:"lite_role_id" json:"lite_role_id"`
	PlusRoleID      string `yaml:"plus_role_id" mapstructure:"plus_role_id" json:"plus_role_id"`
	ProRoleID       string `yaml:"pro_role_id" mapstructure:"pro_role_id" json:"pro_role_id"`
	UltraRoleID     string `yaml:"ultra_role_id" mapstructure:"ultra_role_id" json:"ultra_role_id"`
}

type GamesConfig struct {
	CountChannelID string `yaml:"count_channel_id" mapstructure:"count_channel_id" json:"count_channel_id"`
	StoryChannelID string `yaml:"story_channel_id" mapstructure:"story_channel_id" json:"story_channel_id"`
}

type AutoVoiceConfig struct {
	// JoinChannelID is the 'join to create' voice channel
	JoinChannelID string `yaml:"join_channel_id" mapstructure:"join_channel_id" json:"join_channel_id"`
	UserLimit     int    `yaml:"user_limit" mapstructure:"user_limit" json:"user_limit" binding:"min=0,max=99"`
}

type ActivityLogConfig struct {
	ChannelID string   `yaml:"channel_id" mapstructure:"channel_id" json:"channel_id"`
	Actions   []string `yaml:"actions" mapstructure:"actions" json:"actions"`
}

type SmartChatConfig struct {
	APIURL     string        `yaml:"api_url" mapstructure:"api_url" json:"api_url"`
	ChannelIDs []string      `yaml:"channel_ids" mapstructure:"channel_ids" json:"channel_ids"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
}

// RateLimitConfig limits how often a single user can trigger a model
// or smart chat request
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" mapstructure:"requests_per_minute" json:"requests_per_minute" binding:"min=0"`
	Burst             int     `yaml:"burst" mapstructure:"burst" json:"burst" binding:"min=0"`
	CacheSize         int     `yaml:"cache_size" mapstructure:"cache_size" json:"cache_size" binding:"min=1"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	webhookLogLevel := &slog.LevelVar{}
	commandCenterLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	webhookLogLevel.Set(DefaultWebhookLogLevel)
	commandCenterLogLevel.Set(DefaultCommandCenterLogLevel)

	loggedActions := make([]string, len(DefaultLoggedActions))
	copy(loggedActions, DefaultLoggedActions)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		MySQL:                 MySQLConfig{Port: DefaultMySQLPort},
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		LoadedModules:         []string{},
		Discord: DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
		CommandCenter: CommandCenterConfig{
			ServiceCatalogURI: DefaultServiceCatalogResource,
			Provider:          DefaultModelProvider,
			HistoryLimit:      DefaultHistoryLimit,
			MaxToolRounds:     DefaultMaxToolRounds,
			LogLevel:          commandCenterLogLevel,
		},
		WebhookServer: WebhookServerConfig{
			Listen:        DefaultWebhookServerListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultWebhookServerTLSMinVersion,
			},
			CORS:              DefaultCORSConfig(),
			LogLevel:          webhookLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
		OpenAI: OpenAIConfig{
			MaxRequestsPerSecond: DefaultOpenAIRequestsPerSec,
		},
		Anthropic: AnthropicConfig{
			MaxTokens: DefaultAnthropicMaxTokens,
		},
		AutoVoice: AutoVoiceConfig{
			UserLimit: DefaultAutoVoiceUserLimit,
		},
		ActivityLog: ActivityLogConfig{
			Actions: loggedActions,
		},
		SmartChat: SmartChatConfig{
			Timeout: DefaultSmartChatTimeout,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: DefaultUserRequestsPerMinute,
			Burst:             DefaultUserRequestBurst,
			CacheSize:         DefaultUserLimiterCacheSize,
		},
	}
}
