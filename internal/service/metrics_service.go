package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/klangwerk/lessonledger-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer
// and the generation and billing pipelines.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	lessonsCreated  prometheus.Counter
	lessonsSkipped  prometheus.Counter
	invoiceOutcomes *prometheus.CounterVec
	ledgerEntries   *prometheus.CounterVec
	creditApplied   prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewMetricsService registers the collectors on a private registry so tests
// can construct multiple instances without panicking on duplicates.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	lessonsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lessons_generated_total",
		Help: "Lesson occurrences created by the recurrence engine",
	})

	lessonsSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lessons_skipped_total",
		Help: "Lesson occurrences skipped as duplicates or holidays",
	})

	invoiceOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoices_generated_total",
		Help: "Invoice generation outcomes by result",
	}, []string{"outcome"})

	ledgerEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entries_total",
		Help: "Ledger entries recorded by type",
	}, []string{"type"})

	creditApplied := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credit_applied_total",
		Help: "Total monetary credit applied to invoices",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, lessonsCreated, lessonsSkipped,
		invoiceOutcomes, ledgerEntries, creditApplied, cacheHits, cacheMisses, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		lessonsCreated:  lessonsCreated,
		lessonsSkipped:  lessonsSkipped,
		invoiceOutcomes: invoiceOutcomes,
		ledgerEntries:   ledgerEntries,
		creditApplied:   creditApplied,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// LessonsGenerated counts recurrence engine output.
func (m *MetricsService) LessonsGenerated(created, skipped int) {
	if m == nil {
		return
	}
	m.lessonsCreated.Add(float64(created))
	m.lessonsSkipped.Add(float64(skipped))
}

// InvoicesGenerated counts billing batch outcomes.
func (m *MetricsService) InvoicesGenerated(generated, skipped, failed int) {
	if m == nil {
		return
	}
	m.invoiceOutcomes.WithLabelValues("generated").Add(float64(generated))
	m.invoiceOutcomes.WithLabelValues("skipped").Add(float64(skipped))
	m.invoiceOutcomes.WithLabelValues("failed").Add(float64(failed))
}

// LedgerEntryRecorded counts ledger writes by entry type.
func (m *MetricsService) LedgerEntryRecorded(entryType models.LedgerEntryType) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(string(entryType)).Inc()
}

// CreditApplied tracks the total value consumed from credit notes.
func (m *MetricsService) CreditApplied(amount decimal.Decimal) {
	if m == nil {
		return
	}
	value, _ := amount.Float64()
	m.creditApplied.Add(value)
}

// RecordCacheOperation counts cache hits and misses.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}
