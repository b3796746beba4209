// Package metrics provides Prometheus metrics for the grimoire engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Hydration outcomes.
const (
	OutcomeValid   = "valid"
	OutcomeDefault = "default"
	OutcomeReset   = "reset"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	HydrationTotal     *prometheus.CounterVec
	RegenerationsTotal *prometheus.CounterVec
	FlushesTotal       *prometheus.CounterVec
	JobFiresTotal      *prometheus.CounterVec
	OracleCallsTotal   *prometheus.CounterVec
	HTTPRequestsTotal  *prometheus.CounterVec
	LedgerBalance      prometheus.Gauge
	CreatureEnergy     prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		HydrationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grimoire_hydration_total",
				Help: "Entity hydrations by entity and outcome (valid, default, reset).",
			},
			[]string{"entity", "outcome"},
		),
		RegenerationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grimoire_regenerations_total",
				Help: "Period-scoped content regenerations by feature.",
			},
			[]string{"feature"},
		),
		FlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grimoire_flushes_total",
				Help: "Write-through flushes by entity.",
			},
			[]string{"entity"},
		),
		JobFiresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grimoire_job_fires_total",
				Help: "Background job fires by job name.",
			},
			[]string{"job"},
		),
		OracleCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grimoire_oracle_calls_total",
				Help: "Generative-text calls by call site and outcome (ok, fallback).",
			},
			[]string{"call", "outcome"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grimoire_http_requests_total",
				Help: "API requests by route and status class.",
			},
			[]string{"route", "status"},
		),
		LedgerBalance: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "grimoire_ledger_balance",
				Help: "Current reward currency balance.",
			},
		),
		CreatureEnergy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "grimoire_creature_energy",
				Help: "Energy of the adopted creature, 0 when none.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.HydrationTotal,
		m.RegenerationsTotal,
		m.FlushesTotal,
		m.JobFiresTotal,
		m.OracleCallsTotal,
		m.HTTPRequestsTotal,
		m.LedgerBalance,
		m.CreatureEnergy,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHydration counts one entity reaching a terminal hydration state.
func (m *Metrics) RecordHydration(entity, outcome string) {
	m.HydrationTotal.WithLabelValues(entity, outcome).Inc()
}

// RecordRegeneration counts a regeneration of period-scoped content.
func (m *Metrics) RecordRegeneration(feature string) {
	m.RegenerationsTotal.WithLabelValues(feature).Inc()
}

// RecordFlush counts a write-through flush.
func (m *Metrics) RecordFlush(entity string) {
	m.FlushesTotal.WithLabelValues(entity).Inc()
}

// RecordJobFire counts a scheduler fire. Matches scheduler.WithFireHook.
func (m *Metrics) RecordJobFire(job string) {
	m.JobFiresTotal.WithLabelValues(job).Inc()
}

// RecordOracleCall counts an oracle call and whether it fell back.
func (m *Metrics) RecordOracleCall(call string, fallback bool) {
	outcome := "ok"
	if fallback {
		outcome = "fallback"
	}
	m.OracleCallsTotal.WithLabelValues(call, outcome).Inc()
}

// RecordHTTPRequest counts an API request.
func (m *Metrics) RecordHTTPRequest(route, status string) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
}

// SetLedgerBalance updates the balance gauge.
func (m *Metrics) SetLedgerBalance(n int) {
	m.LedgerBalance.Set(float64(n))
}

// SetCreatureEnergy updates the energy gauge.
func (m *Metrics) SetCreatureEnergy(n int) {
	m.CreatureEnergy.Set(float64(n))
}
