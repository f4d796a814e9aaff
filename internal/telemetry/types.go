package telemetry

// Snapshot is one point-in-time read of accelerator metrics.
type Snapshot struct {
	TemperatureC  uint32    `json:"temp_celsius"`
	VRAMUsedMB    uint64    `json:"vram_used_mb"`
	VRAMTotalMB   uint64    `json:"vram_total_mb"`
	UtilGPU       uint32    `json:"util_gpu"`
	UtilMemory    uint32    `json:"util_mem"`
	PowerWatts    float64   `json:"power_w"`
	PState        string    `json:"pstate"`
	VRAMUsedBytes uint64    `json:"-"`
	Processes     []Process `json:"processes"`
}

// Process is one accelerator-using process as reported by the driver.
type Process struct {
	PID             int    `json:"pid"`
	UsedMemoryBytes uint64 `json:"used_mem_bytes"`
	// Ghost is set when the pid was not in the process table at query time.
	Ghost bool `json:"is_ghost"`
}
