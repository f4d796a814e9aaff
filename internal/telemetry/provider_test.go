package telemetry

import (
	"errors"
	"testing"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNotSupported = errors.New("not supported")

type fakeDevice struct {
	mem      nvml.Memory
	memErr   error
	util     nvml.Utilization
	utilErr  error
	temp     uint32
	tempErr  error
	powerMW  uint32
	powerErr error
	pstate   nvml.Pstates
	pstErr   error
	compute  []nvml.ProcessInfo
	compErr  error
	graphics []nvml.ProcessInfo
	gfxErr   error
}

func (d *fakeDevice) MemoryInfo() (nvml.Memory, error)            { return d.mem, d.memErr }
func (d *fakeDevice) UtilizationRates() (nvml.Utilization, error) { return d.util, d.utilErr }
func (d *fakeDevice) Temperature() (uint32, error)                { return d.temp, d.tempErr }
func (d *fakeDevice) PowerUsage() (uint32, error)                 { return d.powerMW, d.powerErr }
func (d *fakeDevice) PerformanceState() (nvml.Pstates, error)     { return d.pstate, d.pstErr }
func (d *fakeDevice) ComputeProcesses() ([]nvml.ProcessInfo, error) {
	return d.compute, d.compErr
}
func (d *fakeDevice) GraphicsProcesses() ([]nvml.ProcessInfo, error) {
	return d.graphics, d.gfxErr
}

type fakeLibrary struct {
	initErr   error
	dev       *fakeDevice
	devErr    error
	inits     int
	shutdowns int
	indexes   []int
}

func (l *fakeLibrary) Init() error {
	l.inits++
	return l.initErr
}

func (l *fakeLibrary) Shutdown() error {
	l.shutdowns++
	return nil
}

func (l *fakeLibrary) DeviceByIndex(index int) (Device, error) {
	l.indexes = append(l.indexes, index)
	if l.devErr != nil {
		return nil, l.devErr
	}
	return l.dev, nil
}

func aliveSet(pids ...int) LivenessFunc {
	set := make(map[int]bool, len(pids))
	for _, p := range pids {
		set[p] = true
	}
	return func(pid int) bool { return set[pid] }
}

func healthyDevice() *fakeDevice {
	return &fakeDevice{
		mem:     nvml.Memory{Total: 8 << 30, Used: 1536 << 20, Free: (8 << 30) - (1536 << 20)},
		util:    nvml.Utilization{Gpu: 37, Memory: 12},
		temp:    54,
		powerMW: 23500,
		pstate:  nvml.PSTATE_2,
	}
}

func TestOpen_InitFailure(t *testing.T) {
	lib := &fakeLibrary{initErr: errors.New("driver not loaded")}

	p, err := Open(lib, aliveSet())
	require.Error(t, err)
	assert.Nil(t, p)
	assert.Contains(t, err.Error(), "driver not loaded")
}

func TestQuery_AllCounters(t *testing.T) {
	lib := &fakeLibrary{dev: healthyDevice()}
	p, err := Open(lib, aliveSet())
	require.NoError(t, err)

	s, err := p.Query()
	require.NoError(t, err)

	assert.Equal(t, []int{DeviceIndex}, lib.indexes)
	assert.Equal(t, uint32(54), s.TemperatureC)
	assert.Equal(t, uint64(1536), s.VRAMUsedMB)
	assert.Equal(t, uint64(8192), s.VRAMTotalMB)
	assert.Equal(t, uint64(1536<<20), s.VRAMUsedBytes)
	assert.Equal(t, uint32(37), s.UtilGPU)
	assert.Equal(t, uint32(12), s.UtilMemory)
	assert.InDelta(t, 23.5, s.PowerWatts, 1e-9)
	assert.Equal(t, "P2", s.PState)
	assert.NotNil(t, s.Processes)
	assert.Empty(t, s.Processes)
}

func TestQuery_RequiredCounterFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeDevice)
		want   string
	}{
		{name: "memory", mutate: func(d *fakeDevice) { d.memErr = errNotSupported }, want: "read memory info"},
		{name: "utilization", mutate: func(d *fakeDevice) { d.utilErr = errNotSupported }, want: "read utilization"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := healthyDevice()
			tt.mutate(dev)
			p, err := Open(&fakeLibrary{dev: dev}, aliveSet())
			require.NoError(t, err)

			s, err := p.Query()
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestQuery_DeviceHandleFailure(t *testing.T) {
	p, err := Open(&fakeLibrary{devErr: errors.New("gpu lost")}, aliveSet())
	require.NoError(t, err)

	_, err = p.Query()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get device 0")
}

func TestQuery_BestEffortFallbacks(t *testing.T) {
	dev := healthyDevice()
	dev.tempErr = errNotSupported
	dev.powerErr = errNotSupported
	dev.pstErr = errNotSupported
	p, err := Open(&fakeLibrary{dev: dev}, aliveSet())
	require.NoError(t, err)

	s, err := p.Query()
	require.NoError(t, err)
	assert.Zero(t, s.TemperatureC)
	assert.Zero(t, s.PowerWatts)
	assert.Equal(t, UnknownPState, s.PState)
}

func TestQuery_UnknownPStateValue(t *testing.T) {
	dev := healthyDevice()
	dev.pstate = nvml.PSTATE_UNKNOWN
	p, err := Open(&fakeLibrary{dev: dev}, aliveSet())
	require.NoError(t, err)

	s, err := p.Query()
	require.NoError(t, err)
	assert.Equal(t, UnknownPState, s.PState)
}

func TestQuery_ProcessesConcatenatedWithGhosts(t *testing.T) {
	dev := healthyDevice()
	dev.compute = []nvml.ProcessInfo{
		{Pid: 100, UsedGpuMemory: 512 << 20},
		{Pid: 200, UsedGpuMemory: usedMemoryUnavailable},
	}
	dev.graphics = []nvml.ProcessInfo{
		{Pid: 100, UsedGpuMemory: 64 << 20},
		{Pid: 300, UsedGpuMemory: 32 << 20},
	}
	p, err := Open(&fakeLibrary{dev: dev}, aliveSet(100, 300))
	require.NoError(t, err)

	s, err := p.Query()
	require.NoError(t, err)

	want := []Process{
		{PID: 100, UsedMemoryBytes: 512 << 20, Ghost: false},
		{PID: 200, UsedMemoryBytes: 0, Ghost: true},
		{PID: 100, UsedMemoryBytes: 64 << 20, Ghost: false},
		{PID: 300, UsedMemoryBytes: 32 << 20, Ghost: false},
	}
	assert.Equal(t, want, s.Processes)
}

func TestQuery_ProcessListFailureIsTolerated(t *testing.T) {
	dev := healthyDevice()
	dev.compErr = errNotSupported
	dev.graphics = []nvml.ProcessInfo{{Pid: 42, UsedGpuMemory: 1 << 20}}
	p, err := Open(&fakeLibrary{dev: dev}, aliveSet(42))
	require.NoError(t, err)

	s, err := p.Query()
	require.NoError(t, err)
	assert.Equal(t, []Process{{PID: 42, UsedMemoryBytes: 1 << 20}}, s.Processes)
}

func TestClose_ShutsDownLibrary(t *testing.T) {
	lib := &fakeLibrary{dev: healthyDevice()}
	p, err := Open(lib, aliveSet())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.Equal(t, 1, lib.inits)
	assert.Equal(t, 1, lib.shutdowns)
}

func TestPStateLabel(t *testing.T) {
	assert.Equal(t, "P0", pstateLabel(nvml.PSTATE_0))
	assert.Equal(t, "P8", pstateLabel(nvml.PSTATE_8))
	assert.Equal(t, "P15", pstateLabel(nvml.PSTATE_15))
	assert.Equal(t, UnknownPState, pstateLabel(nvml.PSTATE_UNKNOWN))
}
