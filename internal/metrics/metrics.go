// Package metrics exposes Prometheus collectors for game sessions, actions,
// wallet movements and hot reloads.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "playground"

// Collectors groups every metric the host records.
type Collectors struct {
	registry *prometheus.Registry

	sessions       prometheus.Gauge
	lifecycle      *prometheus.CounterVec
	actions        *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	payouts        *prometheus.CounterVec
	balance        prometheus.Gauge
	reloads        *prometheus.CounterVec
}

// New registers the collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c := &Collectors{
		registry: reg,
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Game sessions currently open.",
		}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle transitions by game.",
		}, []string{"game", "event"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Game actions by outcome.",
		}, []string{"game", "action", "outcome"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Time from spinStart to spinEnd.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"game", "action"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_amount_total",
			Help:      "Amounts credited (win) and debited (loss) per game.",
		}, []string{"game", "kind"}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallet_balance",
			Help:      "Current wallet balance.",
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_reloads_total",
			Help:      "Manifest reloads by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(c.sessions, c.lifecycle, c.actions, c.actionDuration, c.payouts, c.balance, c.reloads)
	return c
}

// Registry returns the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) SessionOpened(gameID string) {
	c.sessions.Inc()
	c.lifecycle.WithLabelValues(gameID, "opened").Inc()
}

func (c *Collectors) SessionClosed(gameID string) {
	c.sessions.Dec()
	c.lifecycle.WithLabelValues(gameID, "closed").Inc()
}

func (c *Collectors) SessionReloaded(gameID string, err error) {
	event := "reloaded"
	if err != nil {
		event = "reload_failed"
	}
	c.lifecycle.WithLabelValues(gameID, event).Inc()
}

func (c *Collectors) ActionDone(gameID, action string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.actions.WithLabelValues(gameID, action, outcome).Inc()
	c.actionDuration.WithLabelValues(gameID, action).Observe(d.Seconds())
}

func (c *Collectors) Settled(gameID string, win bool, amount float64) {
	kind := "loss"
	if win {
		kind = "win"
	}
	if amount > 0 {
		c.payouts.WithLabelValues(gameID, kind).Add(amount)
	}
}

func (c *Collectors) Balance(balance float64) { c.balance.Set(balance) }

func (c *Collectors) ManifestReloaded(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.reloads.WithLabelValues(result).Inc()
}
