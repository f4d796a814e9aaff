package procinfo

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Signal sends SIGKILL to pid when forceful is set, SIGTERM otherwise.
func Signal(pid int, forceful bool) error {
	// kill(2) treats 0 and negative pids as process groups.
	if pid <= 0 {
		return fmt.Errorf("signal pid %d: invalid pid", pid)
	}
	sig := unix.SIGTERM
	if forceful {
		sig = unix.SIGKILL
	}
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("signal pid %d with %s: %w", pid, unix.SignalName(sig), err)
	}
	return nil
}
