package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cptspacemanspiff/gpu-power-monitor/internal/report"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/storage"
)

// openAuditStore opens the command audit database. On failure it logs a
// warning and returns a nil store with report.Discard, so the monitor keeps
// running without command history.
func openAuditStore(path string, logger *slog.Logger) (*storage.DB, report.Sink) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Warn("command history disabled: create data dir", "path", path, "err", err)
		return nil, report.Discard
	}
	store, err := storage.Open(path)
	if err != nil {
		logger.Warn("command history disabled: open database", "path", path, "err", err)
		return nil, report.Discard
	}
	return store, storage.Recorder{DB: store, Log: logger}
}
