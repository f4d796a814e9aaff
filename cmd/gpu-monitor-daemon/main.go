package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"

	"github.com/cptspacemanspiff/gpu-power-monitor/internal/api"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/config"
	dbussvc "github.com/cptspacemanspiff/gpu-power-monitor/internal/dbus"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/logind"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/observability"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/pci"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/procinfo"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/report"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/storage"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/telemetry"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config TOML (default "+config.DefaultPath+")")
	verbose := flag.Bool("verbose", false, "enable all verbose logging (equivalent to -log=all)")
	logFlag := flag.String("log", "", "comma-separated log topics: worker,telemetry,command,dbus,http,sleep,storage (or 'all')")
	flag.Parse()

	topics := make(map[string]bool)
	if *verbose {
		topics["all"] = true
	}
	if *logFlag != "" {
		for _, t := range strings.Split(*logFlag, ",") {
			topics[strings.TrimSpace(t)] = true
		}
	}

	handler := &topicHandler{
		inner:  slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		topics: topics,
	}
	logger := slog.New(handler)

	workerLog := logger.With("topic", "worker")
	telemetryLog := logger.With("topic", "telemetry")
	commandLog := logger.With("topic", "command")
	dbusLog := logger.With("topic", "dbus")
	httpLog := logger.With("topic", "http")
	sleepLog := logger.With("topic", "sleep")
	storageLog := logger.With("topic", "storage")

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadOrDefault(config.DefaultPath)
	}
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	dev, err := pci.Discover(cfg.Device.SysfsRoot, cfg.Device.VendorID)
	if err != nil {
		logger.Error("discover gpu", "vendor", cfg.Device.VendorID, "err", err)
		os.Exit(1)
	}
	logger.Info("gpu found", "address", dev.Address, "path", dev.Path)

	resolver, err := procinfo.NewResolver(cfg.Device.ProcRoot)
	if err != nil {
		logger.Error("open procfs", "err", err)
		os.Exit(1)
	}

	store, auditSink := openAuditStore(cfg.Storage.DBPath, storageLog)
	var history api.History
	if store != nil {
		defer store.Close()
		history = store
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()
	sink := report.Multi{
		eventRouter{
			commands:  report.Logger{Log: commandLog},
			telemetry: report.Logger{Log: telemetryLog},
		},
		auditSink,
	}

	var wakeCh <-chan struct{}
	sleepMon, err := logind.NewMonitor(sleepLog)
	if err != nil {
		logger.Warn("sleep monitor unavailable", "err", err)
	} else {
		wakeCh = sleepMon.Wake()
		defer sleepMon.Close()
	}

	w := worker.New(worker.Config{
		Device: dev,
		Open: func() (worker.Source, error) {
			p, err := telemetry.Open(telemetry.NewNVML(), resolver.Alive)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		Cache:    procinfo.NewCache(resolver),
		Sink:     sink,
		Metrics:  metrics,
		Logger:   workerLog,
		Interval: cfg.Interval(),
		Wake:     wakeCh,
	})

	if cfg.DBus.Enabled {
		conn, err := dbussvc.Connect(cfg.DBus.Bus)
		if err != nil {
			logger.Error("connect dbus", "err", err)
			os.Exit(1)
		}
		defer conn.Close()
		svc := dbussvc.NewService(w.Feed(), w.Commands(), history, dbusLog)
		if err := svc.Export(conn); err != nil {
			logger.Error("export dbus service", "err", err)
			os.Exit(1)
		}
		go svc.Broadcast(ctx, conn)
		logger.Info("D-Bus service registered", "name", dbussvc.BusName, "bus", cfg.DBus.Bus)
	}

	if cfg.HTTP.ListenAddr != "" {
		srv := api.NewServer(cfg.HTTP.ListenAddr, w.Feed(), w.Commands(), history, metrics, httpLog)
		if err := srv.Start(); err != nil {
			logger.Error("start http api", "err", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if err := srv.Stop(stopCtx); err != nil {
				httpLog.Warn("stop http api", "err", err)
			}
		}()
		logger.Info("HTTP API listening", "addr", srv.Addr())
	}

	if store != nil {
		go runCleanup(ctx, store, cfg.Retention(), cfg.CleanupInterval(), storageLog)
	}

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("gpu-monitor-daemon started", "interval", cfg.Interval())
	<-sigCh
	logger.Info("shutting down")
	cancel()
	<-done
}

// runCleanup deletes command events older than retention, once at start and
// then every interval.
func runCleanup(ctx context.Context, store *storage.DB, retention, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		cutoff := time.Now().Add(-retention).Unix()
		if n, err := store.DeleteOlderThan(cutoff); err != nil {
			logger.Error("cleanup command events", "err", err)
		} else if n > 0 {
			logger.Info("cleaned up command events", "deleted", n, "before", cutoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// eventRouter sends command events and telemetry events to separate sinks so
// each lands under its own log topic.
type eventRouter struct {
	commands  report.Sink
	telemetry report.Sink
}

func (r eventRouter) Report(e report.Event) {
	if e.IsCommand() {
		r.commands.Report(e)
		return
	}
	r.telemetry.Report(e)
}
