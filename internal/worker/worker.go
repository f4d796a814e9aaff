// Package worker runs the polling loop that gates telemetry on the device's
// runtime power status.
//
// Each tick drains pending commands, reads the power status and control, and
// when the device is active queries telemetry and reconciles the reported
// pids against the identity cache. The telemetry handle is opened on the first
// active tick and closed, with the cache cleared, on the first tick the
// device is anything other than active. An Envelope is published every tick.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cptspacemanspiff/gpu-power-monitor/internal/observability"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/pci"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/procinfo"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/report"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/telemetry"
)

// DefaultInterval is the pause between ticks.
const DefaultInterval = 800 * time.Millisecond

// PowerDevice reads and writes the runtime PM attributes of the device.
type PowerDevice interface {
	RuntimeStatus() pci.Status
	RuntimeControl() pci.Control
	SetRuntimeControl(mode pci.Control) error
}

// Source is an open telemetry handle.
type Source interface {
	Query() (*telemetry.Snapshot, error)
	Close() error
}

// Opener acquires a telemetry handle.
type Opener func() (Source, error)

// Killer forcefully terminates a pid.
type Killer func(pid int) error

// Config wires a Worker. Device, Open and Cache are required.
type Config struct {
	Device   PowerDevice
	Open     Opener
	Cache    *procinfo.Cache
	Kill     Killer
	Commands *CommandQueue
	Feed     *Feed
	Sink     report.Sink
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	Interval time.Duration
	// Wake, when set, ends the pause between ticks early.
	Wake <-chan struct{}
}

// Worker owns the telemetry handle, the identity cache and all power-state
// values. Only the goroutine calling Tick or Run may touch them.
type Worker struct {
	dev      PowerDevice
	open     Opener
	cache    *procinfo.Cache
	kill     Killer
	commands *CommandQueue
	feed     *Feed
	sink     report.Sink
	metrics  *observability.Metrics
	log      *slog.Logger
	interval time.Duration
	wake     <-chan struct{}
	now      func() time.Time

	source Source // nil while no telemetry is held
	seq    uint64
	// listed holds the pids of the last published Envelope. Only these may
	// be killed.
	listed map[int]struct{}
}

// New creates a Worker in the no-telemetry state.
func New(cfg Config) *Worker {
	w := &Worker{
		dev:      cfg.Device,
		open:     cfg.Open,
		cache:    cfg.Cache,
		kill:     cfg.Kill,
		commands: cfg.Commands,
		feed:     cfg.Feed,
		sink:     cfg.Sink,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		interval: cfg.Interval,
		wake:     cfg.Wake,
		now:      time.Now,
		listed:   make(map[int]struct{}),
	}
	if w.kill == nil {
		w.kill = func(pid int) error { return procinfo.Signal(pid, true) }
	}
	if w.commands == nil {
		w.commands = NewCommandQueue()
	}
	if w.feed == nil {
		w.feed = NewFeed()
	}
	if w.sink == nil {
		w.sink = report.Discard
	}
	if w.metrics == nil {
		w.metrics = observability.NewMetrics()
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	if w.interval <= 0 {
		w.interval = DefaultInterval
	}
	return w
}

// Commands returns the inbound command queue.
func (w *Worker) Commands() *CommandQueue { return w.commands }

// Feed returns the outbound Envelope feed.
func (w *Worker) Feed() *Feed { return w.feed }

// HasTelemetry reports whether a telemetry handle is currently held.
func (w *Worker) HasTelemetry() bool { return w.source != nil }

// Run ticks until ctx is canceled, then releases any held telemetry handle.
// A tick in progress is never interrupted.
func (w *Worker) Run(ctx context.Context) {
	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for {
		w.Tick()

		timer.Reset(w.interval)
		select {
		case <-ctx.Done():
			if w.source != nil {
				w.closeSource()
			}
			return
		case <-timer.C:
		case <-w.wake:
			w.log.Debug("woken early")
		}
	}
}

// Tick performs one polling iteration and returns the published Envelope.
func (w *Worker) Tick() Envelope {
	start := time.Now()

	for _, cmd := range w.commands.Drain() {
		w.apply(cmd)
	}

	env := Envelope{
		Status:    w.dev.RuntimeStatus(),
		Control:   w.dev.RuntimeControl(),
		Processes: []ProcessRecord{},
	}

	if env.Status == pci.StatusActive {
		if w.source == nil {
			w.openSource()
		}
		if w.source != nil {
			env.Stats, env.Processes = w.poll()
		}
	} else {
		if w.source != nil {
			w.closeSource()
		}
		w.cache.Clear()
	}

	if env.Stats == nil {
		w.metrics.ResetDevice()
	}
	w.metrics.CacheEntries.Set(float64(w.cache.Len()))

	clear(w.listed)
	for _, p := range env.Processes {
		w.listed[p.PID] = struct{}{}
	}

	w.seq++
	env.Seq = w.seq
	env.Timestamp = w.now().Unix()
	w.feed.Publish(env)

	w.metrics.Ticks.Inc()
	w.metrics.TickDuration.Observe(time.Since(start).Seconds())
	w.log.Debug("tick",
		"seq", env.Seq,
		"status", env.Status,
		"control", env.Control,
		"telemetry", w.source != nil,
		"processes", len(env.Processes))
	return env
}

func (w *Worker) apply(cmd Command) {
	var (
		kind   report.Kind
		target string
		err    error
	)
	switch c := cmd.(type) {
	case SetPowerMode:
		kind, target = report.KindSetPowerMode, string(c.Mode)
		err = w.dev.SetRuntimeControl(c.Mode)
	case KillProcess:
		kind, target = report.KindKillProcess, strconv.Itoa(c.PID)
		if _, ok := w.listed[c.PID]; ok {
			err = w.kill(c.PID)
		} else {
			err = fmt.Errorf("%w: %d", ErrNotListed, c.PID)
		}
	default:
		w.log.Warn("dropping command", "err", fmt.Errorf("%w: %T", ErrUnknownCommand, cmd))
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	w.metrics.Commands.WithLabelValues(string(kind), result).Inc()
	w.sink.Report(report.New(w.now(), kind, target, err))
}

func (w *Worker) openSource() {
	src, err := w.open()
	if err != nil {
		w.metrics.TelemetryErrors.WithLabelValues("init").Inc()
		w.sink.Report(report.New(w.now(), report.KindTelemetryInit, "", err))
		return
	}
	w.source = src
	w.metrics.TelemetryActive.Set(1)
	w.log.Info("telemetry opened")
}

func (w *Worker) closeSource() {
	if err := w.source.Close(); err != nil {
		w.sink.Report(report.New(w.now(), report.KindTelemetryClose, "", err))
	}
	w.source = nil
	w.cache.Clear()
	w.metrics.TelemetryActive.Set(0)
	w.log.Info("telemetry closed")
}

// poll queries the held source. A failed query keeps the handle.
func (w *Worker) poll() (*Stats, []ProcessRecord) {
	snap, err := w.source.Query()
	if err != nil {
		w.metrics.TelemetryErrors.WithLabelValues("query").Inc()
		w.sink.Report(report.New(w.now(), report.KindTelemetryQuery, "", err))
		return nil, []ProcessRecord{}
	}

	reported := make(map[int]struct{}, len(snap.Processes))
	for _, p := range snap.Processes {
		reported[p.PID] = struct{}{}
	}
	w.cache.Reconcile(reported)

	records := make([]ProcessRecord, 0, len(snap.Processes))
	var ghosts int
	for _, p := range snap.Processes {
		id, hit := w.cache.Get(p.PID)
		if !hit {
			w.metrics.Resolutions.Inc()
		}
		if p.Ghost {
			ghosts++
		}
		records = append(records, ProcessRecord{
			PID:          p.PID,
			Name:         id.Name,
			Cmdline:      id.Cmdline,
			UsedMemoryMB: p.UsedMemoryBytes / 1024 / 1024,
			Ghost:        p.Ghost,
		})
	}

	w.metrics.Temperature.Set(float64(snap.TemperatureC))
	w.metrics.Power.Set(snap.PowerWatts)
	w.metrics.MemoryUsedBytes.Set(float64(snap.VRAMUsedBytes))
	w.metrics.Utilization.WithLabelValues("gpu").Set(float64(snap.UtilGPU) / 100)
	w.metrics.Utilization.WithLabelValues("memory").Set(float64(snap.UtilMemory) / 100)
	w.metrics.Processes.WithLabelValues("false").Set(float64(len(records) - ghosts))
	w.metrics.Processes.WithLabelValues("true").Set(float64(ghosts))

	return &Stats{
		TemperatureC: snap.TemperatureC,
		VRAMUsedMB:   snap.VRAMUsedMB,
		VRAMTotalMB:  snap.VRAMTotalMB,
		UtilGPU:      snap.UtilGPU,
		UtilMemory:   snap.UtilMemory,
		PowerWatts:   snap.PowerWatts,
		PState:       snap.PState,
	}, records
}
