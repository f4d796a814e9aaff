package telemetry

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NewNVML returns a Library backed by the system's libnvidia-ml.
func NewNVML() Library {
	return &nvmlLibrary{lib: nvml.New()}
}

type nvmlLibrary struct {
	lib nvml.Interface
}

func (l *nvmlLibrary) Init() error {
	return check("nvmlInit", l.lib.Init())
}

func (l *nvmlLibrary) Shutdown() error {
	return check("nvmlShutdown", l.lib.Shutdown())
}

func (l *nvmlLibrary) DeviceByIndex(index int) (Device, error) {
	dev, ret := l.lib.DeviceGetHandleByIndex(index)
	if err := check("nvmlDeviceGetHandleByIndex", ret); err != nil {
		return nil, err
	}
	return nvmlDevice{dev: dev}, nil
}

type nvmlDevice struct {
	dev nvml.Device
}

func (d nvmlDevice) MemoryInfo() (nvml.Memory, error) {
	mem, ret := d.dev.GetMemoryInfo()
	return mem, check("nvmlDeviceGetMemoryInfo", ret)
}

func (d nvmlDevice) UtilizationRates() (nvml.Utilization, error) {
	util, ret := d.dev.GetUtilizationRates()
	return util, check("nvmlDeviceGetUtilizationRates", ret)
}

func (d nvmlDevice) Temperature() (uint32, error) {
	temp, ret := d.dev.GetTemperature(nvml.TEMPERATURE_GPU)
	return temp, check("nvmlDeviceGetTemperature", ret)
}

func (d nvmlDevice) PowerUsage() (uint32, error) {
	mw, ret := d.dev.GetPowerUsage()
	return mw, check("nvmlDeviceGetPowerUsage", ret)
}

func (d nvmlDevice) PerformanceState() (nvml.Pstates, error) {
	ps, ret := d.dev.GetPerformanceState()
	return ps, check("nvmlDeviceGetPerformanceState", ret)
}

func (d nvmlDevice) ComputeProcesses() ([]nvml.ProcessInfo, error) {
	procs, ret := d.dev.GetComputeRunningProcesses()
	return procs, check("nvmlDeviceGetComputeRunningProcesses", ret)
}

func (d nvmlDevice) GraphicsProcesses() ([]nvml.ProcessInfo, error) {
	procs, ret := d.dev.GetGraphicsRunningProcesses()
	return procs, check("nvmlDeviceGetGraphicsRunningProcesses", ret)
}

func check(op string, ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return fmt.Errorf("%s: %s", op, nvml.ErrorString(ret))
}
