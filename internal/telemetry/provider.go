// Package telemetry queries accelerator metrics and process lists from NVML.
//
// A Provider holds an initialized library handle. Memory and utilization
// counters are required for a query to succeed. Temperature, power draw and
// performance state are best-effort and fall back to zero or "Unknown".
// Compute and graphics process lists are concatenated without merging, so a
// pid running both workload types appears twice.
//
// Only device index 0 is queried.
package telemetry

import (
	"fmt"
	"math"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// DeviceIndex is the only device queried.
const DeviceIndex = 0

// UnknownPState is reported when the performance state cannot be read.
const UnknownPState = "Unknown"

// usedMemoryUnavailable is NVML_VALUE_NOT_AVAILABLE as seen in an unsigned field.
const usedMemoryUnavailable = math.MaxUint64

// Library is the subset of the vendor library lifecycle the provider needs.
type Library interface {
	Init() error
	Shutdown() error
	DeviceByIndex(index int) (Device, error)
}

// Device is the subset of per-device queries the provider needs.
type Device interface {
	MemoryInfo() (nvml.Memory, error)
	UtilizationRates() (nvml.Utilization, error)
	Temperature() (uint32, error)
	// PowerUsage returns milliwatts.
	PowerUsage() (uint32, error)
	PerformanceState() (nvml.Pstates, error)
	ComputeProcesses() ([]nvml.ProcessInfo, error)
	GraphicsProcesses() ([]nvml.ProcessInfo, error)
}

// LivenessFunc reports whether pid is present in the OS process table.
type LivenessFunc func(pid int) bool

// Provider is an initialized telemetry handle.
type Provider struct {
	lib   Library
	alive LivenessFunc
}

// Open initializes lib and returns a Provider that owns it until Close.
func Open(lib Library, alive LivenessFunc) (*Provider, error) {
	if err := lib.Init(); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return &Provider{lib: lib, alive: alive}, nil
}

// Query reads a snapshot of device DeviceIndex.
func (p *Provider) Query() (*Snapshot, error) {
	dev, err := p.lib.DeviceByIndex(DeviceIndex)
	if err != nil {
		return nil, fmt.Errorf("get device %d: %w", DeviceIndex, err)
	}

	mem, err := dev.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("read memory info: %w", err)
	}
	util, err := dev.UtilizationRates()
	if err != nil {
		return nil, fmt.Errorf("read utilization: %w", err)
	}

	s := &Snapshot{
		VRAMUsedMB:    mem.Used / 1024 / 1024,
		VRAMTotalMB:   mem.Total / 1024 / 1024,
		VRAMUsedBytes: mem.Used,
		UtilGPU:       util.Gpu,
		UtilMemory:    util.Memory,
		PState:        UnknownPState,
	}
	if temp, err := dev.Temperature(); err == nil {
		s.TemperatureC = temp
	}
	if mw, err := dev.PowerUsage(); err == nil {
		s.PowerWatts = float64(mw) / 1000
	}
	if ps, err := dev.PerformanceState(); err == nil {
		s.PState = pstateLabel(ps)
	}

	s.Processes = make([]Process, 0)
	if procs, err := dev.ComputeProcesses(); err == nil {
		s.Processes = p.appendProcesses(s.Processes, procs)
	}
	if procs, err := dev.GraphicsProcesses(); err == nil {
		s.Processes = p.appendProcesses(s.Processes, procs)
	}

	return s, nil
}

// Close shuts the library down. The Provider must not be used afterwards.
func (p *Provider) Close() error {
	if err := p.lib.Shutdown(); err != nil {
		return fmt.Errorf("shutdown telemetry: %w", err)
	}
	return nil
}

func (p *Provider) appendProcesses(dst []Process, infos []nvml.ProcessInfo) []Process {
	for _, info := range infos {
		pid := int(info.Pid)
		used := info.UsedGpuMemory
		if used == usedMemoryUnavailable {
			used = 0
		}
		dst = append(dst, Process{
			PID:             pid,
			UsedMemoryBytes: used,
			Ghost:           !p.alive(pid),
		})
	}
	return dst
}

func pstateLabel(ps nvml.Pstates) string {
	if ps >= nvml.PSTATE_0 && ps <= nvml.PSTATE_15 {
		return fmt.Sprintf("P%d", int(ps-nvml.PSTATE_0))
	}
	return UnknownPState
}
