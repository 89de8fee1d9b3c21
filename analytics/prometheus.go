package analytics

import (
	"github.com/mohitkumar/agentflow/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusDataCollector struct {
	events *prometheus.CounterVec
	jobs   *prometheus.CounterVec
	tokens *prometheus.CounterVec
	cost   prometheus.Counter
}

func NewPrometheusDataCollector(reg prometheus.Registerer) *PrometheusDataCollector {
	factory := promauto.With(reg)
	return &PrometheusDataCollector{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "events_total",
			Help:      "Flow events committed, by type and session status.",
		}, []string{"type", "status"}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "jobs_total",
			Help:      "Step jobs finished, by outcome.",
		}, []string{"status"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "tokens_total",
			Help:      "Tokens reported by completed steps.",
		}, []string{"kind"}),
		cost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "cost_total",
			Help:      "Cost reported by completed steps.",
		}),
	}
}

func (p *PrometheusDataCollector) RecordEvent(event model.FlowEvent) {
	p.events.WithLabelValues(string(event.EventType), event.Status).Inc()
	if event.PromptTokens > 0 {
		p.tokens.WithLabelValues("prompt").Add(float64(event.PromptTokens))
	}
	if event.CompletionTokens > 0 {
		p.tokens.WithLabelValues("completion").Add(float64(event.CompletionTokens))
	}
	if event.Cost > 0 {
		p.cost.Add(event.Cost)
	}
}

func (p *PrometheusDataCollector) RecordJob(job model.FlowJob) {
	p.jobs.WithLabelValues(string(job.Status)).Inc()
}
