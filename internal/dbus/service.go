package dbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/cptspacemanspiff/gpu-power-monitor/internal/pci"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/report"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/worker"
)

const (
	BusName    = "org.gnome.GpuMonitor"
	ObjectPath = godbus.ObjectPath("/org/gnome/GpuMonitor")
	Interface  = "org.gnome.GpuMonitor"

	// SnapshotSignal is emitted with the JSON Envelope after every tick.
	SnapshotSignal = Interface + ".SnapshotUpdated"

	maxHistoryRangeSecs = 365 * 86400
)

const introspectXML = `
<node>
  <interface name="` + Interface + `">
    <method name="GetSnapshot">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="SetPowerMode">
      <arg direction="in" type="s" name="mode"/>
    </method>
    <method name="KillProcess">
      <arg direction="in" type="u" name="pid"/>
    </method>
    <method name="GetCommandHistory">
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <signal name="SnapshotUpdated">
      <arg type="s" name="json"/>
    </signal>
  </interface>
` + introspect.IntrospectDataString + `
</node>`

// ErrNoSnapshot is returned before the worker has published its first tick.
var ErrNoSnapshot = errors.New("no snapshot published yet")

// History reads recorded command events.
type History interface {
	EventsInRange(from, to int64) ([]report.Event, error)
}

// Service exposes the GPU monitor over D-Bus.
type Service struct {
	feed     *worker.Feed
	commands *worker.CommandQueue
	history  History
	log      *slog.Logger
}

// NewService creates a new D-Bus service. history may be nil, in which case
// GetCommandHistory always returns an empty list.
func NewService(feed *worker.Feed, commands *worker.CommandQueue, history History, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{feed: feed, commands: commands, history: history, log: logger}
}

// Connect opens a private connection to the named bus ("system" or "session").
func Connect(bus string) (*godbus.Conn, error) {
	var (
		conn *godbus.Conn
		err  error
	)
	switch bus {
	case "system":
		conn, err = godbus.ConnectSystemBus()
	case "session":
		conn, err = godbus.ConnectSessionBus()
	default:
		return nil, fmt.Errorf("unknown bus %q", bus)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s bus: %w", bus, err)
	}
	return conn, nil
}

// Export registers the service on conn and claims the bus name.
func (s *Service) Export(conn *godbus.Conn) error {
	if err := conn.Export(s, ObjectPath, Interface); err != nil {
		return fmt.Errorf("export service: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name: %w", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s already taken", BusName)
	}

	return nil
}

// GetSnapshot returns the latest Envelope as JSON.
func (s *Service) GetSnapshot() (string, *godbus.Error) {
	env, ok := s.feed.Latest()
	if !ok {
		return "", godbus.MakeFailedError(ErrNoSnapshot)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}

// SetPowerMode queues a runtime control write. Only "auto" and "on" are
// accepted; the outcome is reported by the worker.
func (s *Service) SetPowerMode(mode string) *godbus.Error {
	ctl, err := pci.ParseControl(mode)
	if err != nil {
		return godbus.MakeFailedError(err)
	}
	s.commands.Push(worker.SetPowerMode{Mode: ctl})
	s.log.Info("queued power mode", "mode", ctl)
	return nil
}

// KillProcess queues a forceful termination of pid.
func (s *Service) KillProcess(pid uint32) *godbus.Error {
	if pid == 0 || pid > 1<<31-1 {
		return godbus.MakeFailedError(fmt.Errorf("invalid pid %d", pid))
	}
	s.commands.Push(worker.KillProcess{PID: int(pid)})
	s.log.Info("queued kill", "pid", pid)
	return nil
}

// GetCommandHistory returns recorded command events in a time range as JSON.
func (s *Service) GetCommandHistory(fromEpoch, toEpoch int64) (string, *godbus.Error) {
	if err := validateTimeRange(fromEpoch, toEpoch); err != nil {
		return "", godbus.MakeFailedError(err)
	}
	events := []report.Event{}
	if s.history != nil {
		found, err := s.history.EventsInRange(fromEpoch, toEpoch)
		if err != nil {
			return "", godbus.MakeFailedError(err)
		}
		if found != nil {
			events = found
		}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}

// Emitter sends D-Bus signals. *godbus.Conn satisfies it.
type Emitter interface {
	Emit(path godbus.ObjectPath, name string, values ...interface{}) error
}

// Broadcast emits SnapshotUpdated for each published Envelope until ctx is
// canceled. It must be the only reader of the feed's Updates channel.
func (s *Service) Broadcast(ctx context.Context, em Emitter) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.feed.Updates():
			env, ok := s.feed.Latest()
			if !ok {
				continue
			}
			data, err := json.Marshal(env)
			if err != nil {
				s.log.Error("encode snapshot", "err", err)
				continue
			}
			if err := em.Emit(ObjectPath, SnapshotSignal, string(data)); err != nil {
				s.log.Debug("emit snapshot", "err", err)
			}
		}
	}
}

func validateTimeRange(from, to int64) error {
	if from < 0 || to < 0 {
		return fmt.Errorf("time range must not be negative")
	}
	if to < from {
		return fmt.Errorf("to_epoch %d is before from_epoch %d", to, from)
	}
	if to-from > maxHistoryRangeSecs {
		return fmt.Errorf("time range exceeds %d days", maxHistoryRangeSecs/86400)
	}
	return nil
}
