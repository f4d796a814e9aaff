// Package procinfo resolves display identities for process ids from procfs,
// caches them for the lifetime of a continuous observation, and delivers
// termination signals.
package procinfo

import (
	"fmt"
	"strings"

	"github.com/prometheus/procfs"
)

// Unknown is returned for any identity field that cannot be read.
const Unknown = "Unknown"

// Identity is the display metadata of a process.
type Identity struct {
	Name    string `json:"name"`
	Cmdline string `json:"cmdline"`
}

// Resolver reads process metadata from a procfs mount.
type Resolver struct {
	fs procfs.FS
}

// NewResolver returns a Resolver rooted at procRoot (normally /proc).
func NewResolver(procRoot string) (*Resolver, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", procRoot, err)
	}
	return &Resolver{fs: fs}, nil
}

// Alive reports whether pid is present in the process table.
func (r *Resolver) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := r.fs.Proc(pid)
	return err == nil
}

// Name returns the short command name from /proc/<pid>/comm.
func (r *Resolver) Name(pid int) string {
	p, err := r.fs.Proc(pid)
	if err != nil {
		return Unknown
	}
	comm, err := p.Comm()
	if err != nil || comm == "" {
		return Unknown
	}
	return comm
}

// Cmdline returns /proc/<pid>/cmdline with NUL separators replaced by spaces.
func (r *Resolver) Cmdline(pid int) string {
	p, err := r.fs.Proc(pid)
	if err != nil {
		return Unknown
	}
	args, err := p.CmdLine()
	if err != nil {
		return Unknown
	}
	cmdline := strings.TrimSpace(strings.Join(args, " "))
	if cmdline == "" {
		return Unknown
	}
	return cmdline
}

// Resolve reads both identity fields for pid.
func (r *Resolver) Resolve(pid int) Identity {
	return Identity{Name: r.Name(pid), Cmdline: r.Cmdline(pid)}
}
