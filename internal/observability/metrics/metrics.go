package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/callvault/quosync/internal/process"
)

// SyncMetrics exposes counters for sync runs. It satisfies the engine's
// completion and failure hook shapes so terminal states feed the counters
// without instrumenting the handlers themselves.
type SyncMetrics struct {
	processesFinished *prometheus.CounterVec
	recordsTotal      *prometheus.CounterVec
	webhookReconfigs  *prometheus.CounterVec
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		processesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quosync",
			Subsystem: "sync",
			Name:      "processes_finished_total",
			Help:      "Sync processes reaching a terminal state",
		}, []string{"state", "object_type"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quosync",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Records processed by finished sync runs",
		}, []string{"result"}),
		webhookReconfigs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quosync",
			Subsystem: "webhooks",
			Name:      "reconfigurations_total",
			Help:      "Webhook subscription reconciliations",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.processesFinished, m.recordsTotal, m.webhookReconfigs)
	return m
}

// ProcessCompleted counts a completed run and its record outcomes.
func (m *SyncMetrics) ProcessCompleted(_ context.Context, p *process.Process) {
	if m == nil {
		return
	}
	m.processesFinished.WithLabelValues("completed", p.Context.PersonObjectType).Inc()
	m.addRecords(p)
}

// ProcessFailed counts a failed run and its record outcomes.
func (m *SyncMetrics) ProcessFailed(_ context.Context, p *process.Process) {
	if m == nil {
		return
	}
	m.processesFinished.WithLabelValues("failed", p.Context.PersonObjectType).Inc()
	m.addRecords(p)
}

// ObserveWebhookReconfiguration counts one reconciliation attempt.
func (m *SyncMetrics) ObserveWebhookReconfiguration(status string) {
	if m == nil {
		return
	}
	m.webhookReconfigs.WithLabelValues(status).Inc()
}

func (m *SyncMetrics) addRecords(p *process.Process) {
	agg := p.Results.AggregateData
	if agg.TotalSynced > 0 {
		m.recordsTotal.WithLabelValues("synced").Add(float64(agg.TotalSynced))
	}
	if agg.TotalFailed > 0 {
		m.recordsTotal.WithLabelValues("failed").Add(float64(agg.TotalFailed))
	}
}
