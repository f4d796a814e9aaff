package worker

import (
	"sync"

	"github.com/cptspacemanspiff/gpu-power-monitor/internal/pci"
)

// Envelope is the full consumer-facing state published once per tick.
type Envelope struct {
	Seq       uint64          `json:"seq"`
	Timestamp int64           `json:"timestamp"`
	Status    pci.Status      `json:"status"`
	Control   pci.Control     `json:"control"`
	Stats     *Stats          `json:"stats"`
	Processes []ProcessRecord `json:"processes"`
}

// Stats is the device metrics part of an Envelope. Nil when the device is not
// active or the query failed.
type Stats struct {
	TemperatureC uint32  `json:"temp_celsius"`
	VRAMUsedMB   uint64  `json:"vram_used_mb"`
	VRAMTotalMB  uint64  `json:"vram_total_mb"`
	UtilGPU      uint32  `json:"util_gpu"`
	UtilMemory   uint32  `json:"util_mem"`
	PowerWatts   float64 `json:"power_w"`
	PState       string  `json:"pstate"`
}

// ProcessRecord is one reconciled accelerator process.
type ProcessRecord struct {
	PID          int    `json:"pid"`
	Name         string `json:"name"`
	Cmdline      string `json:"cmdline"`
	UsedMemoryMB uint64 `json:"used_mem_mb"`
	Ghost        bool   `json:"is_ghost"`
}

// Feed carries Envelopes from the worker to consumers. Only the most recent
// Envelope is kept; Publish never blocks.
type Feed struct {
	mu      sync.RWMutex
	latest  Envelope
	has     bool
	updates chan struct{}
}

// NewFeed returns an empty Feed.
func NewFeed() *Feed {
	return &Feed{updates: make(chan struct{}, 1)}
}

// Publish replaces the latest Envelope and wakes a waiting consumer.
func (f *Feed) Publish(e Envelope) {
	f.mu.Lock()
	f.latest = e
	f.has = true
	f.mu.Unlock()

	select {
	case f.updates <- struct{}{}:
	default:
	}
}

// Latest returns the most recently published Envelope, if any.
func (f *Feed) Latest() (Envelope, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest, f.has
}

// Updates receives a value after one or more Publish calls. Notifications
// coalesce, so a slow reader sees only the freshest state via Latest.
// Intended for a single consumer.
func (f *Feed) Updates() <-chan struct{} {
	return f.updates
}
