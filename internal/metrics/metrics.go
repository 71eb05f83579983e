// Package metrics exposes Prometheus instrumentation for store calls, HTTP
// requests and protocol tool invocations.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starford/keloia/internal/apperr"
	"github.com/starford/keloia/internal/filestore"
)

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeNotFound  = "not_found"
	OutcomeConflict  = "conflict"
	OutcomeTransport = "transport"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

// Metrics holds the collectors registered for one process.
type Metrics struct {
	reg prometheus.Gatherer

	StoreCalls    *prometheus.CounterVec
	StoreDuration *prometheus.HistogramVec
	HTTPDuration  *prometheus.HistogramVec
	ToolCalls     *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: g,
		StoreCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keloia_store_calls_total",
				Help: "File store calls by operation and outcome",
			},
			[]string{"backend", "op", "outcome"},
		),
		StoreDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keloia_store_call_duration_seconds",
				Help:    "File store call latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"backend", "op"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keloia_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"method", "route", "status"},
		),
		ToolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keloia_tool_calls_total",
				Help: "Protocol tool invocations by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Outcome classifies err into an outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, apperr.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, apperr.ErrConflict):
		return OutcomeConflict
	case errors.Is(err, apperr.ErrTransport):
		return OutcomeTransport
	case errors.Is(err, apperr.ErrInvalidInput):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

// RecordTool counts one tool invocation.
func (m *Metrics) RecordTool(tool string, err error) {
	m.ToolCalls.WithLabelValues(tool, Outcome(err)).Inc()
}

// Middleware records request latency labelled by the matched chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

// Instrument wraps c so every call is counted and timed under backend.
func (m *Metrics) Instrument(backend string, c filestore.Client) filestore.Client {
	return &instrumented{next: c, backend: backend, m: m}
}

type instrumented struct {
	next    filestore.Client
	backend string
	m       *Metrics
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	i.m.StoreCalls.WithLabelValues(i.backend, op, Outcome(err)).Inc()
	i.m.StoreDuration.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Read(ctx context.Context, path string) (*filestore.File, error) {
	start := time.Now()
	f, err := i.next.Read(ctx, path)
	i.observe(filestore.OpRead, start, err)
	return f, err
}

func (i *instrumented) Write(ctx context.Context, req filestore.WriteRequest) error {
	start := time.Now()
	err := i.next.Write(ctx, req)
	i.observe(filestore.OpWrite, start, err)
	return err
}

func (i *instrumented) Remove(ctx context.Context, req filestore.RemoveRequest) error {
	start := time.Now()
	err := i.next.Remove(ctx, req)
	i.observe(filestore.OpRemove, start, err)
	return err
}
