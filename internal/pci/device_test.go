package pci

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, path, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestDevice(t *testing.T, status, control string) Device {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, "bus/pci/devices/0000:01:00.0")
	writeTestFile(t, filepath.Join(dir, "vendor"), NvidiaVendorID+"\n")
	if status != "" {
		writeTestFile(t, filepath.Join(dir, statusFile), status+"\n")
	}
	if control != "" {
		writeTestFile(t, filepath.Join(dir, controlFile), control+"\n")
	}

	dev, err := Discover(root, NvidiaVendorID)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	return dev
}

func TestDiscover_FirstMatchingVendor(t *testing.T) {
	root := t.TempDir()
	devices := filepath.Join(root, "bus/pci/devices")
	writeTestFile(t, filepath.Join(devices, "0000:00:02.0/vendor"), "0x8086\n")
	writeTestFile(t, filepath.Join(devices, "0000:01:00.0/vendor"), "0x10de\n")
	writeTestFile(t, filepath.Join(devices, "0000:01:00.1/vendor"), "0x10de\n")

	dev, err := Discover(root, NvidiaVendorID)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if dev.Address != "0000:01:00.0" {
		t.Fatalf("Address = %q, want 0000:01:00.0", dev.Address)
	}
	if dev.Vendor != "0x10de" {
		t.Fatalf("Vendor = %q, want 0x10de", dev.Vendor)
	}
	if dev.Path != filepath.Join(devices, "0000:01:00.0") {
		t.Fatalf("Path = %q", dev.Path)
	}
}

func TestDiscover_NotFound(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "bus/pci/devices/0000:00:02.0/vendor"), "0x8086\n")

	_, err := Discover(root, NvidiaVendorID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Discover() error = %v, want ErrNotFound", err)
	}
}

func TestDiscover_EmptyTree(t *testing.T) {
	_, err := Discover(t.TempDir(), NvidiaVendorID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Discover() error = %v, want ErrNotFound", err)
	}
}

func TestRuntimeStatusAndControl(t *testing.T) {
	dev := newTestDevice(t, "suspended", "auto")

	if got := dev.RuntimeStatus(); got != StatusSuspended {
		t.Fatalf("RuntimeStatus() = %q, want suspended", got)
	}
	if got := dev.RuntimeControl(); got != ControlAuto {
		t.Fatalf("RuntimeControl() = %q, want auto", got)
	}
}

func TestRuntimeStatus_PassesThroughOtherValues(t *testing.T) {
	dev := newTestDevice(t, "resuming", "on")

	if got := dev.RuntimeStatus(); got != Status("resuming") {
		t.Fatalf("RuntimeStatus() = %q, want resuming", got)
	}
}

func TestRuntimeStatus_ReadFailureIsUnknown(t *testing.T) {
	dev := newTestDevice(t, "", "")

	if got := dev.RuntimeStatus(); got != StatusUnknown {
		t.Fatalf("RuntimeStatus() = %q, want unknown", got)
	}
	if got := dev.RuntimeControl(); got != ControlUnknown {
		t.Fatalf("RuntimeControl() = %q, want unknown", got)
	}
}

func TestSetRuntimeControl_RoundTrip(t *testing.T) {
	dev := newTestDevice(t, "active", "auto")

	if err := dev.SetRuntimeControl(ControlOn); err != nil {
		t.Fatalf("SetRuntimeControl(on) error = %v", err)
	}
	if got := dev.RuntimeControl(); got != ControlOn {
		t.Fatalf("RuntimeControl() = %q, want on", got)
	}
}

func TestSetRuntimeControl_InvalidMode(t *testing.T) {
	dev := newTestDevice(t, "active", "auto")

	err := dev.SetRuntimeControl(Control("off"))
	if !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("SetRuntimeControl(off) error = %v, want ErrInvalidMode", err)
	}
	if got := dev.RuntimeControl(); got != ControlAuto {
		t.Fatalf("RuntimeControl() = %q, want auto unchanged", got)
	}
}

func TestSetRuntimeControl_IOError(t *testing.T) {
	dev := newTestDevice(t, "active", "")

	err := dev.SetRuntimeControl(ControlOn)
	var ce *ControlError
	if !errors.As(err, &ce) {
		t.Fatalf("SetRuntimeControl() error = %v, want *ControlError", err)
	}
	if ce.Kind != KindIO {
		t.Fatalf("Kind = %v, want io error", ce.Kind)
	}
}

func TestSetRuntimeControl_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses file permissions")
	}
	dev := newTestDevice(t, "active", "auto")
	if err := os.Chmod(filepath.Join(dev.Path, controlFile), 0o444); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	err := dev.SetRuntimeControl(ControlOn)
	var ce *ControlError
	if !errors.As(err, &ce) {
		t.Fatalf("SetRuntimeControl() error = %v, want *ControlError", err)
	}
	if ce.Kind != KindPermissionDenied {
		t.Fatalf("Kind = %v, want permission denied", ce.Kind)
	}
	if got := dev.RuntimeControl(); got != ControlAuto {
		t.Fatalf("RuntimeControl() = %q, want auto unchanged", got)
	}
}

func TestNewControlError_ClassifiesPermission(t *testing.T) {
	err := newControlError("/x", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission})
	if err.Kind != KindPermissionDenied {
		t.Fatalf("Kind = %v, want permission denied", err.Kind)
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Fatal("errors.Is(err, fs.ErrPermission) = false")
	}
}

func TestParseControl(t *testing.T) {
	tests := []struct {
		in      string
		want    Control
		wantErr bool
	}{
		{in: "auto", want: ControlAuto},
		{in: " on\n", want: ControlOn},
		{in: "off", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseControl(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMode) {
					t.Fatalf("ParseControl(%q) error = %v, want ErrInvalidMode", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseControl(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseControl(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
