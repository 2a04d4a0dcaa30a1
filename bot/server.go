package bot

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	xRequestIDHeader = "X-Request-ID"

	apiPathAlerts       = "/api/v1/webhooks/alerts"
	apiPathServiceIssue = "/api/v1/webhooks/service-issue"
	apiPathHealthCheck  = "/healthz"
	apiPathMetrics      = "/metrics"
)

// ErrUnauthorized is returned when a webhook request doesn't carry the
// configured bearer token
var ErrUnauthorized = errors.New("unauthorized")

// WebhookServer receives service alerts over HTTP
type WebhookServer struct {
	config     WebhookServerConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
}

// httpError represents an error message returned to the client
type httpError struct {
	Error string `json:"error"`
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool     `json:"discord_gateway_connected"`
	EnabledModules          []string `json:"enabled_modules"`
}

// newWebhookServer creates the webhook HTTP server. Alerts received are
// passed to dispatch.
func newWebhookServer(
	b *Bot,
	config WebhookServerConfig,
) (*WebhookServer, error) {
	logger := slog.New(newLogHandler(defaultLogWriter, config.LogLevel)).With(
		loggerNameKey,
		"webhook_server",
	)

	if b.config.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	srv := &WebhookServer{config: config, engine: r, logger: logger}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	if config.SSL.Cert != "" && config.SSL.Key != "" {
		tlsCfg, e := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if e != nil {
			return nil, fmt.Errorf("error loading webhook SSL certs: %w", e)
		}
		httpServer.TLSConfig = tlsCfg
	}
	srv.httpServer = httpServer

	if !b.config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		cors.New(config.CORS.GINConfig()),
		metricMiddleware(b.metrics),
	)

	handlers := &webhookHandlers{bot: b, logger: logger}
	r.GET(apiPathHealthCheck, handlers.healthCheck)
	r.GET(apiPathMetrics, gin.WrapH(promhttp.HandlerFor(b.metrics.Registry, promhttp.HandlerOpts{})))

	protected := r.Group("")
	protected.Use(bearerAuthMiddleware(config.Token, logger))
	protected.POST(apiPathAlerts, handlers.receiveAlert)
	protected.POST(apiPathServiceIssue, handlers.receiveAlert)

	return srv, nil
}

// Serve listens on the configured address until the server is shut down
func (w *WebhookServer) Serve(ctx context.Context) error {
	if w.listener == nil {
		network := w.config.ListenNetwork
		if network == "" {
			network = defaultListenNetwork
		}
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, network, w.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", w.config.Listen, err)
		}
		if w.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, w.httpServer.TLSConfig)
		} else {
			w.logger.WarnContext(ctx, "starting server without TLS")
		}
		w.listener = ln
	}
	w.logger.InfoContext(ctx, "webhook server listening", "addr", w.listener.Addr().String())
	return w.httpServer.Serve(w.listener)
}

// Shutdown gracefully stops the server
func (w *WebhookServer) Shutdown(ctx context.Context) error {
	return w.httpServer.Shutdown(ctx)
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, unless the client supplied one
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(xRequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := logger.(*slog.Logger); ok {
			return requestLogger
		}
	}
	if base == nil {
		base = slog.Default()
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it completes, with its
// duration and response status
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs.String(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// metricMiddleware counts requests by method, matched route and status
func metricMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
	}
}

// bearerAuthMiddleware rejects requests that don't carry token as a
// bearer token
func bearerAuthMiddleware(token string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := checkBearerToken(c.GetHeader("Authorization"), token); err != nil {
			ginContextLogger(c, logger).Warn("rejected webhook request", tint.Err(err))
			c.Header("Content-Type", "text/plain; charset=utf-8")
			c.AbortWithStatus(http.StatusUnauthorized)
			_, _ = c.Writer.WriteString("Unauthorized")
			return
		}
		c.Next()
	}
}

func checkBearerToken(header string, token string) error {
	if token == "" {
		return fmt.Errorf("%w: no webhook token configured", ErrUnauthorized)
	}
	provided, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
		return fmt.Errorf("%w: invalid bearer token", ErrUnauthorized)
	}
	return nil
}
