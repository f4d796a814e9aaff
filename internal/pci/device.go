package pci

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// NvidiaVendorID is the PCI vendor id of NVIDIA devices.
const NvidiaVendorID = "0x10de"

// Status is the device's runtime PM status from power/runtime_status.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusUnknown   Status = "unknown"
)

// Control is the runtime PM policy from power/control.
type Control string

const (
	ControlAuto    Control = "auto"
	ControlOn      Control = "on"
	ControlUnknown Control = "unknown"
)

var (
	// ErrNotFound is returned by Discover when no device matches the vendor.
	ErrNotFound = errors.New("pci device not found")
	// ErrInvalidMode is returned for control tokens other than auto and on.
	ErrInvalidMode = errors.New("invalid runtime control mode")
)

const (
	statusFile  = "power/runtime_status"
	controlFile = "power/control"
)

// Device is a PCI device located under /sys/bus/pci/devices.
type Device struct {
	Path    string `json:"path"`
	Address string `json:"address"`
	Vendor  string `json:"vendor"`
}

// ParseControl maps a user-supplied token to a writable Control.
func ParseControl(s string) (Control, error) {
	switch c := Control(strings.TrimSpace(s)); c {
	case ControlAuto, ControlOn:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Discover returns the first device under <sysfsRoot>/bus/pci/devices whose
// vendor attribute equals vendor.
func Discover(sysfsRoot, vendor string) (Device, error) {
	matches, err := filepath.Glob(filepath.Join(sysfsRoot, "bus/pci/devices/*"))
	if err != nil {
		return Device{}, fmt.Errorf("glob pci devices: %w", err)
	}

	want := strings.ToLower(strings.TrimSpace(vendor))
	for _, dir := range matches {
		got, err := readTrimmed(filepath.Join(dir, "vendor"))
		if err != nil {
			continue
		}
		if strings.ToLower(got) == want {
			return Device{Path: dir, Address: filepath.Base(dir), Vendor: got}, nil
		}
	}
	return Device{}, ErrNotFound
}

// RuntimeStatus reads the runtime PM status. Read failures yield StatusUnknown.
func (d Device) RuntimeStatus() Status {
	s, err := readTrimmed(filepath.Join(d.Path, statusFile))
	if err != nil || s == "" {
		return StatusUnknown
	}
	return Status(s)
}

// RuntimeControl reads the runtime PM policy. Read failures yield ControlUnknown.
func (d Device) RuntimeControl() Control {
	s, err := readTrimmed(filepath.Join(d.Path, controlFile))
	if err != nil || s == "" {
		return ControlUnknown
	}
	return Control(s)
}

// SetRuntimeControl writes mode to power/control. It changes the real
// hardware power policy and is never retried.
func (d Device) SetRuntimeControl(mode Control) error {
	if _, err := ParseControl(string(mode)); err != nil {
		return err
	}

	path := filepath.Join(d.Path, controlFile)
	// sysfs attributes must be opened without O_CREATE or O_TRUNC side effects.
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return newControlError(path, err)
	}
	if _, err := f.WriteString(string(mode)); err != nil {
		_ = f.Close()
		return newControlError(path, err)
	}
	if err := f.Close(); err != nil {
		return newControlError(path, err)
	}
	return nil
}

// ErrorKind classifies a failed control write.
type ErrorKind int

const (
	KindIO ErrorKind = iota
	KindPermissionDenied
)

func (k ErrorKind) String() string {
	if k == KindPermissionDenied {
		return "permission denied"
	}
	return "io error"
}

// ControlError is returned by SetRuntimeControl.
type ControlError struct {
	Path string
	Kind ErrorKind
	Err  error
}

func newControlError(path string, err error) *ControlError {
	kind := KindIO
	if errors.Is(err, fs.ErrPermission) {
		kind = KindPermissionDenied
	}
	return &ControlError{Path: path, Kind: kind, Err: err}
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("write %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *ControlError) Unwrap() error { return e.Err }

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
