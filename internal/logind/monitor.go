// Package logind watches systemd-logind sleep signals.
package logind

import (
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	managerIface       = "org.freedesktop.login1.Manager"
	prepareForSleep    = managerIface + ".PrepareForSleep"
	prepareForShutdown = managerIface + ".PrepareForShutdown"
)

// Monitor listens for PrepareForSleep/PrepareForShutdown signals and
// notifies on resume.
type Monitor struct {
	conn *dbus.Conn
	done chan struct{}
	wake chan struct{}
	log  *slog.Logger
}

// NewMonitor connects to the system bus and starts listening.
func NewMonitor(logger *slog.Logger) (*Monitor, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}

	for _, member := range []string{"PrepareForSleep", "PrepareForShutdown"} {
		err = conn.AddMatchSignal(
			dbus.WithMatchInterface(managerIface),
			dbus.WithMatchMember(member),
		)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}

	m := newMonitor(conn, logger)
	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)
	go func() {
		defer conn.RemoveSignal(ch)
		m.listen(ch)
	}()
	return m, nil
}

func newMonitor(conn *dbus.Conn, logger *slog.Logger) *Monitor {
	return &Monitor{
		conn: conn,
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
		log:  logger,
	}
}

// Wake returns a channel that receives a value each time the system resumes.
// Notifications coalesce.
func (m *Monitor) Wake() <-chan struct{} {
	return m.wake
}

// Close stops the monitor and releases its bus connection.
func (m *Monitor) Close() {
	close(m.done)
	if m.conn != nil {
		m.conn.Close()
	}
}

func (m *Monitor) listen(ch <-chan *dbus.Signal) {
	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				return
			}
			m.handle(sig)
		case <-m.done:
			return
		}
	}
}

func (m *Monitor) handle(sig *dbus.Signal) {
	if sig == nil || len(sig.Body) < 1 {
		return
	}
	active, ok := sig.Body[0].(bool)
	if !ok {
		return
	}

	switch sig.Name {
	case prepareForShutdown:
		if active {
			m.log.Info("system preparing for shutdown")
		}
	case prepareForSleep:
		if active {
			m.log.Info("system going to sleep")
			return
		}
		m.log.Info("system woke up")
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
}
