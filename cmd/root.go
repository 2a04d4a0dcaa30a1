package cmd

import (
	"context"
	"fmt"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/react-chatbotify/discord-bot/bot"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = bot.DefaultConfig()
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "discord-bot [flags]",
	Short: "Discord community bot with an agent-driven command center",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cfg)
	},
}

// loadConfig decodes the current viper settings into c
func loadConfig(c *bot.Config) error {
	return viper.Unmarshal(
		c,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				LevelToStringHookFunc(),
			),
		),
	)
}

func getLogLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
	return lvl, nil
}

// LevelToStringHookFunc decodes log level names into *slog.LevelVar.
// Non-nil pointer fields are dereferenced by mapstructure before the
// hook runs, so the target may also be a slog.LevelVar.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	levelVarType := reflect.TypeOf(slog.LevelVar{})
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if t != levelVarType && (t.Kind() != reflect.Ptr || t.Elem() != levelVarType) {
			return data, nil
		}
		switch v := data.(type) {
		case *slog.LevelVar:
			return v, nil
		case slog.Level:
			lvlVar := &slog.LevelVar{}
			lvlVar.Set(v)
			return lvlVar, nil
		}
		if f.Kind() != reflect.String {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if envFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else if err := godotenv.Load(envFile); err != nil {
		log.Printf("error loading env file %s: %v", envFile, err)
	}

	setDefaults()

	envPrefix := os.Getenv(bot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = bot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			log.Fatalf("error reading config file %s: %v", configFile, err)
		}
	}
}

// setDefaults registers every config key with viper, so each can be set
// from the environment
func setDefaults() {
	d := bot.DefaultConfig()

	viper.SetDefault("database", d.Database)
	viper.SetDefault("database_type", d.DatabaseType)
	viper.SetDefault("database_slow_threshold", d.DatabaseSlowThreshold)
	viper.SetDefault("database_log_level", d.DatabaseLogLevel.Level().String())
	viper.SetDefault("mysql.host", "")
	viper.SetDefault("mysql.port", d.MySQL.Port)
	viper.SetDefault("mysql.user", "")
	viper.SetDefault("mysql.password", "")
	viper.SetDefault("mysql.database", "")
	viper.SetDefault("log_level", d.LogLevel.Level().String())
	viper.SetDefault("development", false)
	viper.SetDefault("startup_timeout", d.StartupTimeout)
	viper.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	viper.SetDefault("admin_role_id", "")
	viper.SetDefault("loaded_modules", []string{})

	// Discord
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.log_level", d.Discord.LogLevel.Level().String())
	viper.SetDefault(
		"discord.discordgo_log_level",
		d.Discord.DiscordGoLogLevel.Level().String(),
	)
	viper.SetDefault("discord.custom_status", d.Discord.CustomStatus)
	viper.SetDefault("discord.gateway_intents", int(d.Discord.GatewayIntents))

	// Command center and models
	viper.SetDefault("command_center.channel_id", "")
	viper.SetDefault("command_center.insights_channel_id", "")
	viper.SetDefault("command_center.mcp_server_url", "")
	viper.SetDefault("command_center.mcp_server_token", "")
	viper.SetDefault("command_center.service_catalog_uri", d.CommandCenter.ServiceCatalogURI)
	viper.SetDefault("command_center.provider", d.CommandCenter.Provider)
	viper.SetDefault("command_center.model", "")
	viper.SetDefault("command_center.history_limit", d.CommandCenter.HistoryLimit)
	viper.SetDefault("command_center.max_tool_rounds", d.CommandCenter.MaxToolRounds)
	viper.SetDefault(
		"command_center.log_level",
		d.CommandCenter.LogLevel.Level().String(),
	)
	viper.SetDefault("gemini.api_key", "")
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.base_url", "")
	viper.SetDefault("openai.max_requests_per_second", d.OpenAI.MaxRequestsPerSecond)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)

	// Webhook server
	viper.SetDefault("webhook_server.enabled", false)
	viper.SetDefault("webhook_server.listen", d.WebhookServer.Listen)
	viper.SetDefault("webhook_server.listen_network", d.WebhookServer.ListenNetwork)
	viper.SetDefault("webhook_server.token", "")
	viper.SetDefault("webhook_server.ssl.cert", "")
	viper.SetDefault("webhook_server.ssl.key", "")
	viper.SetDefault("webhook_server.ssl.tls_min_version", d.WebhookServer.SSL.TLSMinVersion)
	viper.SetDefault("webhook_server.cors.allow_origins", []string{})
	viper.SetDefault("webhook_server.cors.allow_methods", d.WebhookServer.CORS.AllowMethods)
	viper.SetDefault("webhook_server.cors.allow_headers", d.WebhookServer.CORS.AllowHeaders)
	viper.SetDefault("webhook_server.cors.expose_headers", d.WebhookServer.CORS.ExposeHeaders)
	viper.SetDefault("webhook_server.cors.allow_credentials", d.WebhookServer.CORS.AllowCredentials)
	viper.SetDefault("webhook_server.cors.max_age", d.WebhookServer.CORS.MaxAge)
	viper.SetDefault("webhook_server.log_level", d.WebhookServer.LogLevel.Level().String())
	viper.SetDefault("webhook_server.read_timeout", d.WebhookServer.ReadTimeout)
	viper.SetDefault("webhook_server.read_header_timeout", d.WebhookServer.ReadHeaderTimeout)
	viper.SetDefault("webhook_server.write_timeout", d.WebhookServer.WriteTimeout)
	viper.SetDefault("webhook_server.idle_timeout", d.WebhookServer.IdleTimeout)

	// Community modules
	viper.SetDefault("tickets.support_category_id", "")
	viper.SetDefault("tickets.report_category_id", "")
	viper.SetDefault("tickets.sponsor_category_id", "")
	viper.SetDefault("sponsors.community_role_id", "")
	viper.SetDefault("sponsors.lite_role_id", "")
	viper.SetDefault("sponsors.plus_role_id", "")
	viper.SetDefault("sponsors.pro_role_id", "")
	viper.SetDefault("sponsors.ultra_role_id", "")
	viper.SetDefault("games.count_channel_id", "")
	viper.SetDefault("games.story_channel_id", "")
	viper.SetDefault("auto_voice.join_channel_id", "")
	viper.SetDefault("auto_voice.user_limit", d.AutoVoice.UserLimit)
	viper.SetDefault("activity_log.channel_id", "")
	viper.SetDefault("activity_log.actions", d.ActivityLog.Actions)
	viper.SetDefault("smart_chat.api_url", "")
	viper.SetDefault("smart_chat.channel_ids", []string{})
	viper.SetDefault("smart_chat.timeout", d.SmartChat.Timeout)
	viper.SetDefault("rate_limit.requests_per_minute", d.RateLimit.RequestsPerMinute)
	viper.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	viper.SetDefault("rate_limit.cache_size", d.RateLimit.CacheSize)
}

// watchLogLevels re-reads the config file when it changes, and applies
// any new log levels to the running bot
func watchLogLevels(b *bot.Bot) {
	if configFile == "" {
		return
	}
	viper.OnConfigChange(
		func(e fsnotify.Event) {
			updated := bot.DefaultConfig()
			if err := loadConfig(updated); err != nil {
				slog.Error("error reloading config", "file", e.Name, "error", err)
				return
			}
			b.UpdateLogLevels(updated)
			slog.Info("reloaded log levels", "file", e.Name)
		},
	)
	viper.WatchConfig()
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"YAML config file to use",
	)
	rootCmd.PersistentFlags().StringVar(
		&envFile,
		"env-file",
		"",
		"Env file to load (defaults to .env)",
	)
}
