package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the daemon's Prometheus metrics on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	// Worker
	Ticks           prometheus.Counter
	TickDuration    prometheus.Histogram
	TelemetryActive prometheus.Gauge
	TelemetryErrors *prometheus.CounterVec
	Commands        *prometheus.CounterVec

	// Device
	Temperature     prometheus.Gauge
	Power           prometheus.Gauge
	MemoryUsedBytes prometheus.Gauge
	Utilization     *prometheus.GaugeVec
	Processes       *prometheus.GaugeVec

	// Identity cache
	CacheEntries prometheus.Gauge
	Resolutions  prometheus.Counter
}

// NewMetrics creates and registers all metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpu_monitor_ticks_total",
			Help: "Total number of polling ticks.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpu_monitor_tick_duration_seconds",
			Help:    "Duration of a polling tick in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		TelemetryActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpu_monitor_telemetry_active",
			Help: "Whether a telemetry handle is held (1) or not (0).",
		}),
		TelemetryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpu_monitor_telemetry_errors_total",
			Help: "Total number of telemetry failures by stage.",
		}, []string{"stage"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpu_monitor_commands_total",
			Help: "Total number of applied commands by kind and result.",
		}, []string{"kind", "result"}),

		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpu_monitor_gpu_temperature_celsius",
			Help: "GPU core temperature from the last successful query.",
		}),
		Power: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpu_monitor_gpu_power_watts",
			Help: "GPU power draw from the last successful query.",
		}),
		MemoryUsedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpu_monitor_gpu_memory_used_bytes",
			Help: "Used VRAM from the last successful query.",
		}),
		Utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpu_monitor_gpu_utilization_ratio",
			Help: "GPU engine utilization (0-1) from the last successful query.",
		}, []string{"engine"}),
		Processes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpu_monitor_gpu_processes",
			Help: "Processes reported by the driver, split by ghost state.",
		}, []string{"ghost"}),

		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpu_monitor_identity_cache_entries",
			Help: "Current number of cached process identities.",
		}),
		Resolutions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpu_monitor_identity_resolutions_total",
			Help: "Total number of process identities read from procfs.",
		}),
	}

	reg.MustRegister(
		m.Ticks,
		m.TickDuration,
		m.TelemetryActive,
		m.TelemetryErrors,
		m.Commands,
		m.Temperature,
		m.Power,
		m.MemoryUsedBytes,
		m.Utilization,
		m.Processes,
		m.CacheEntries,
		m.Resolutions,
	)

	return m
}

// ResetDevice zeroes the device gauges when no telemetry is held.
func (m *Metrics) ResetDevice() {
	m.Temperature.Set(0)
	m.Power.Set(0)
	m.MemoryUsedBytes.Set(0)
	m.Utilization.Reset()
	m.Processes.Reset()
}
