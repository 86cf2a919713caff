// Package monitoring exposes kernel execution metrics through Prometheus
// and keeps a rolling syscall-latency sample for the JSON inspection API.
package monitoring

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gonum.org/v1/gonum/stat"
)

// Metrics holds all Prometheus metrics for one kernel instance.
type Metrics struct {
	SyscallsTotal   *prometheus.CounterVec
	SyscallErrors   *prometheus.CounterVec
	ContextSwitches prometheus.Counter
	UpcallsQueued   prometheus.Counter
	UpcallsDropped  prometheus.Counter
	UpcallsDone     prometheus.Counter
	Faults          *prometheus.CounterVec
	Restarts        prometheus.Counter
	GrantBytes      *prometheus.GaugeVec
	ProcessesLoaded prometheus.Gauge
	Uptime          prometheus.Gauge

	startTime time.Time

	mu        sync.Mutex
	latencies []float64
	cursor    int
	filled    bool
}

// latencyWindow is the rolling sample size for percentile estimates.
const latencyWindow = 1024

// New creates a metrics collector registered on reg, or on the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),
		latencies: make([]float64, latencyWindow),
		SyscallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_syscalls_total",
			Help: "Syscalls handled, by class",
		}, []string{"class"}),
		SyscallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_syscall_errors_total",
			Help: "Syscalls returning an error code, by code",
		}, []string{"code"}),
		ContextSwitches: factory.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_context_switches_total",
			Help: "Transfers of control into unprivileged mode",
		}),
		UpcallsQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_upcalls_queued_total",
			Help: "Upcalls queued by capsules",
		}),
		UpcallsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_upcalls_dropped_total",
			Help: "Upcalls dropped because a process queue was full",
		}),
		UpcallsDone: factory.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_upcalls_delivered_total",
			Help: "Upcalls delivered at yield points",
		}),
		Faults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_process_faults_total",
			Help: "Process faults, by kind",
		}, []string{"kind"}),
		Restarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_process_restarts_total",
			Help: "Policy-approved process restarts",
		}),
		GrantBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kestrel_grant_bytes",
			Help: "Bytes consumed by each process's grant arena",
		}, []string{"process"}),
		ProcessesLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kestrel_processes_loaded",
			Help: "Processes discovered and loaded at boot",
		}),
		Uptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kestrel_uptime_seconds",
			Help: "Kernel uptime",
		}),
	}
}

// ObserveSyscall records one handled syscall and its kernel-side latency.
func (m *Metrics) ObserveSyscall(class string, d time.Duration) {
	m.SyscallsTotal.WithLabelValues(class).Inc()
	m.mu.Lock()
	m.latencies[m.cursor] = d.Seconds()
	m.cursor++
	if m.cursor == len(m.latencies) {
		m.cursor = 0
		m.filled = true
	}
	m.mu.Unlock()
}

// LatencySummary is the percentile view served by the inspection API.
type LatencySummary struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50_seconds"`
	P90   float64 `json:"p90_seconds"`
	P99   float64 `json:"p99_seconds"`
	Mean  float64 `json:"mean_seconds"`
}

// Latency computes percentiles over the rolling sample.
func (m *Metrics) Latency() LatencySummary {
	m.mu.Lock()
	n := m.cursor
	if m.filled {
		n = len(m.latencies)
	}
	sample := append([]float64(nil), m.latencies[:n]...)
	m.mu.Unlock()

	if len(sample) == 0 {
		return LatencySummary{}
	}
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)
	return LatencySummary{
		Count: len(sorted),
		P50:   stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P90:   stat.Quantile(0.90, stat.Empirical, sorted, nil),
		P99:   stat.Quantile(0.99, stat.Empirical, sorted, nil),
		Mean:  stat.Mean(sorted, nil),
	}
}

// Tick refreshes gauges derived from wall time.
func (m *Metrics) Tick() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
