package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	decisions       *prometheus.CounterVec
	batchItems      *prometheus.CounterVec
	swaps           *prometheus.CounterVec
	jobs            *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry, metrik HTTP, dan metrik otorisasi.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infrapanel_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "infrapanel_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infrapanel_authz_decisions_total",
		Help: "Keputusan otorisasi per jenis resource dan hasil.",
	}, []string{"kind", "result"})
	batchItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infrapanel_grant_batch_items_total",
		Help: "Item pembuatan grant batch per jenis resource dan hasil.",
	}, []string{"kind", "result"})
	swaps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infrapanel_priority_swaps_total",
		Help: "Pertukaran prioritas per jenis resource dan hasil.",
	}, []string{"kind", "outcome"})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "infrapanel_jobs_total",
		Help: "Eksekusi job latar belakang per tipe dan status.",
	}, []string{"type", "status"})
	registry.MustRegister(requests, duration, decisions, batchItems, swaps, jobs)
	for _, kind := range []string{"server", "vm"} {
		decisions.WithLabelValues(kind, "allowed")
		decisions.WithLabelValues(kind, "denied")
	}
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		decisions:       decisions,
		batchItems:      batchItems,
		swaps:           swaps,
		jobs:            jobs,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveDecision mencatat hasil pemeriksaan kapabilitas.
func (m *Metrics) ObserveDecision(kind string, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.decisions.WithLabelValues(kind, result).Inc()
}

// ObserveBatch mencatat jumlah item batch yang berhasil dan gagal.
func (m *Metrics) ObserveBatch(kind string, succeeded, failed int) {
	if m == nil {
		return
	}
	m.batchItems.WithLabelValues(kind, "created").Add(float64(succeeded))
	m.batchItems.WithLabelValues(kind, "failed").Add(float64(failed))
}

// ObserveSwap mencatat hasil pertukaran prioritas.
func (m *Metrics) ObserveSwap(kind, outcome string) {
	if m == nil {
		return
	}
	m.swaps.WithLabelValues(kind, outcome).Inc()
}

// ObserveJob mencatat eksekusi job worker.
func (m *Metrics) ObserveJob(taskType string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.jobs.WithLabelValues(taskType, status).Inc()
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
