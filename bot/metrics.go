package bot

import (
	"context"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "discord_bot"

// Metrics holds the bot's Prometheus collectors. Each bot has its own
// registry, served on the webhook server's /metrics endpoint.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests     *prometheus.CounterVec
	AlertsReceived   *prometheus.CounterVec
	AgentResponses   *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	TicketsCreated   *prometheus.CounterVec
	RateLimited      prometheus.Counter
	DiscordConnected prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Webhook server requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		AlertsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "alerts_received_total",
				Help:      "Alerts received by type",
			},
			[]string{"type"},
		),
		AgentResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "agent_responses_total",
				Help:      "Agent responses by route",
			},
			[]string{"route"},
		),
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tool_calls_total",
				Help:      "Remote tool calls by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		TicketsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tickets_created_total",
				Help:      "Ticket channels created by ticket type",
			},
			[]string{"type"},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limited_total",
				Help:      "User requests rejected by the rate limiter",
			},
		),
		DiscordConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "discord_connected",
				Help:      "1 when the Discord gateway is connected",
			},
		),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.AlertsReceived,
		m.AgentResponses,
		m.ToolCalls,
		m.TicketsCreated,
		m.RateLimited,
		m.DiscordConnected,
	)
	return m
}

// instrumentedInvoker counts calls made through a ToolInvoker
type instrumentedInvoker struct {
	ToolInvoker
	calls *prometheus.CounterVec
}

func (i instrumentedInvoker) CallTool(
	ctx context.Context,
	name string,
	args map[string]any,
) (any, error) {
	result, err := i.ToolInvoker.CallTool(ctx, name, args)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	i.calls.WithLabelValues(name, outcome).Inc()
	return result, err
}
