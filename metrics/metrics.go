// Package metrics exposes Prometheus metrics for the HTTP surface, the match
// ledger and achievement unlocks.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"match-stats-server/storage"
)

const namespace = "match_stats"

// Metrics owns a private registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	rateLimited   prometheus.Counter
	matches       prometheus.Counter
	unlocks       *prometheus.CounterVec
	totalMatches  prometheus.Gauge
	totalPlayers  prometheus.Gauge
	totalUnlocks  prometheus.Gauge
	lastRefreshed prometheus.Gauge
}

// New builds and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
		matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_recorded_total",
			Help:      "Matches committed to the ledger by this process",
		}),
		unlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievements_unlocked_total",
			Help:      "New achievement unlocks by goal type",
		}, []string{"goal_type"}),
		totalMatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_matches",
			Help:      "Matches stored in the ledger",
		}),
		totalPlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_players",
			Help:      "Distinct players stored in the ledger",
		}),
		totalUnlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "user_achievements",
			Help:      "Achievement unlocks stored across all users",
		}),
		lastRefreshed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stats_refreshed_timestamp_seconds",
			Help:      "Unix time of the last successful gauge refresh",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.rateLimited,
		m.matches, m.unlocks,
		m.totalMatches, m.totalPlayers, m.totalUnlocks, m.lastRefreshed,
	)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency labelled by route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(ww.statusCode)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// RateLimited counts one rejected request.
func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}

// MatchRecorded counts a committed match.
func (m *Metrics) MatchRecorded(context.Context, storage.MatchRecord) {
	m.matches.Inc()
}

// AchievementUnlocked counts a new unlock under its goal type.
func (m *Metrics) AchievementUnlocked(_ context.Context, _ int64, def storage.Achievement, _ time.Time) {
	m.unlocks.WithLabelValues(def.GoalType).Inc()
}

// Snapshot is one reading of the ledger-wide gauges.
type Snapshot struct {
	Matches int64
	Players int64
	Unlocks int64
	At      time.Time
}

// SetSnapshot updates the ledger-wide gauges.
func (m *Metrics) SetSnapshot(s Snapshot) {
	m.totalMatches.Set(float64(s.Matches))
	m.totalPlayers.Set(float64(s.Players))
	m.totalUnlocks.Set(float64(s.Unlocks))
	m.lastRefreshed.Set(float64(s.At.Unix()))
}
