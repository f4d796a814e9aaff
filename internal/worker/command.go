package worker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cptspacemanspiff/gpu-power-monitor/internal/pci"
)

// ErrUnknownCommand is reported for a Command of an unrecognised type.
var ErrUnknownCommand = errors.New("unknown command")

// ErrNotListed is reported when a KillProcess targets a pid that was not in
// the most recently published process list.
var ErrNotListed = errors.New("pid not in published process list")

// Command is a user-issued action. The set is closed: SetPowerMode and
// KillProcess are the only implementations.
type Command interface {
	command()
}

// SetPowerMode writes a runtime PM policy to the device.
type SetPowerMode struct {
	Mode pci.Control
}

// KillProcess sends SIGKILL to a pid.
type KillProcess struct {
	PID int
}

func (SetPowerMode) command() {}
func (KillProcess) command()  {}

func (c SetPowerMode) String() string { return fmt.Sprintf("set-power-mode(%s)", c.Mode) }
func (c KillProcess) String() string  { return fmt.Sprintf("kill(%d)", c.PID) }

// CommandQueue is an unbounded FIFO from consumers to the worker. Push never
// blocks.
type CommandQueue struct {
	mu      sync.Mutex
	pending []Command
}

// NewCommandQueue returns an empty queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{}
}

// Push appends cmd.
func (q *CommandQueue) Push(cmd Command) {
	q.mu.Lock()
	q.pending = append(q.pending, cmd)
	q.mu.Unlock()
}

// Drain removes and returns all pending commands in arrival order.
func (q *CommandQueue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmds := q.pending
	q.pending = nil
	return cmds
}

// Len returns the number of pending commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
