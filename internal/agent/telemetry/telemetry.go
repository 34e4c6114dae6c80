package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors of the agent. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs            *prometheus.CounterVec
	stepsExecuted   prometheus.Counter
	criticVerdicts  *prometheus.CounterVec
	roleInvocations *prometheus.CounterVec
	roleLatency     *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	events          *prometheus.CounterVec
	tokens          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a fresh registry
// together with the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_runs_total",
			Help: "Agent runs by outcome.",
		}, []string{"outcome"}),
		stepsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ragpipe_plan_steps_executed_total",
			Help: "Plan steps handed to the research assistant.",
		}),
		criticVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_critic_verdicts_total",
			Help: "Critic verdicts on executed steps.",
		}, []string{"verdict"}),
		roleInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_role_invocations_total",
			Help: "Role exchanges by role and status.",
		}, []string{"role", "status"}),
		roleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ragpipe_role_latency_seconds",
			Help:    "Latency of role exchanges.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"role"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_tool_calls_total",
			Help: "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_events_emitted_total",
			Help: "Progress events by delivery status.",
		}, []string{"status"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_llm_tokens_total",
			Help: "Tokens reported by the model backend.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.runs, m.stepsExecuted, m.criticVerdicts, m.roleInvocations,
		m.roleLatency, m.toolCalls, m.events, m.tokens,
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordStep() {
	if m == nil {
		return
	}
	m.stepsExecuted.Inc()
}

func (m *Metrics) RecordVerdict(accepted bool) {
	if m == nil {
		return
	}
	verdict := "yes"
	if !accepted {
		verdict = "no"
	}
	m.criticVerdicts.WithLabelValues(verdict).Inc()
}

func (m *Metrics) RecordRole(role string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.roleInvocations.WithLabelValues(role, status(err)).Inc()
	m.roleLatency.WithLabelValues(role).Observe(d.Seconds())
}

func (m *Metrics) RecordTool(tool string, err error) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status(err)).Inc()
}

func (m *Metrics) RecordEvent(err error) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) RecordTokens(prompt, completion int) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues("prompt").Add(float64(prompt))
	m.tokens.WithLabelValues("completion").Add(float64(completion))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
