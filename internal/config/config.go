package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is read when no -config flag is given. A missing file there
// yields the defaults.
const DefaultPath = "/etc/gpu-monitor/config.toml"

const (
	minIntervalMS           = 100
	maxIntervalMS           = 60000
	minRetentionDays        = 1
	maxRetentionDays        = 3650
	minCleanupIntervalHours = 1
	maxCleanupIntervalHours = 720
)

const (
	BusSystem  = "system"
	BusSession = "session"
)

var vendorIDPattern = regexp.MustCompile(`^0x[0-9a-f]{4}$`)

type Config struct {
	Device  DeviceConfig  `toml:"device"`
	Polling PollingConfig `toml:"polling"`
	Storage StorageConfig `toml:"storage"`
	DBus    DBusConfig    `toml:"dbus"`
	HTTP    HTTPConfig    `toml:"http"`
}

type DeviceConfig struct {
	VendorID  string `toml:"vendor_id"`
	SysfsRoot string `toml:"sysfs_root"`
	ProcRoot  string `toml:"proc_root"`
}

type PollingConfig struct {
	IntervalMS int `toml:"interval_ms"`
}

type StorageConfig struct {
	DBPath               string `toml:"db_path"`
	RetentionDays        int    `toml:"retention_days"`
	CleanupIntervalHours int    `toml:"cleanup_interval_hours"`
}

type DBusConfig struct {
	Enabled bool   `toml:"enabled"`
	Bus     string `toml:"bus"`
}

type HTTPConfig struct {
	// ListenAddr is the API listen address. Empty disables the HTTP API.
	ListenAddr string `toml:"listen_addr"`
}

func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			VendorID:  "0x10de",
			SysfsRoot: "/sys",
			ProcRoot:  "/proc",
		},
		Polling: PollingConfig{
			IntervalMS: 800,
		},
		Storage: StorageConfig{
			DBPath:               "/var/lib/gpu-monitor/commands.db",
			RetentionDays:        30,
			CleanupIntervalHours: 24,
		},
		DBus: DBusConfig{
			Enabled: true,
			Bus:     BusSystem,
		},
		HTTP: HTTPConfig{
			ListenAddr: "127.0.0.1:9477",
		},
	}
}

// Interval returns the polling interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Polling.IntervalMS) * time.Millisecond
}

// Retention returns how long command events are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Storage.RetentionDays) * 24 * time.Hour
}

// CleanupInterval returns the pause between retention sweeps.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Storage.CleanupIntervalHours) * time.Hour
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return NormalizeAndValidate(cfg)
}

// LoadOrDefault behaves like Load but returns the defaults when path does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg

	var err error
	sanitized.Device.SysfsRoot, err = sanitizePath("device.sysfs_root", sanitized.Device.SysfsRoot)
	if err != nil {
		return nil, err
	}
	sanitized.Device.ProcRoot, err = sanitizePath("device.proc_root", sanitized.Device.ProcRoot)
	if err != nil {
		return nil, err
	}
	sanitized.Storage.DBPath, err = sanitizePath("storage.db_path", sanitized.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	sanitized.Device.VendorID = strings.ToLower(strings.TrimSpace(sanitized.Device.VendorID))
	if !vendorIDPattern.MatchString(sanitized.Device.VendorID) {
		return nil, fmt.Errorf("device.vendor_id must be 0x followed by 4 hex digits, got %q", cfg.Device.VendorID)
	}

	if err := validateRange("polling.interval_ms", sanitized.Polling.IntervalMS, minIntervalMS, maxIntervalMS); err != nil {
		return nil, err
	}
	if err := validateRange("storage.retention_days", sanitized.Storage.RetentionDays, minRetentionDays, maxRetentionDays); err != nil {
		return nil, err
	}
	if err := validateRange("storage.cleanup_interval_hours", sanitized.Storage.CleanupIntervalHours, minCleanupIntervalHours, maxCleanupIntervalHours); err != nil {
		return nil, err
	}

	sanitized.DBus.Bus = strings.ToLower(strings.TrimSpace(sanitized.DBus.Bus))
	if sanitized.DBus.Bus != BusSystem && sanitized.DBus.Bus != BusSession {
		return nil, fmt.Errorf("dbus.bus must be %q or %q, got %q", BusSystem, BusSession, cfg.DBus.Bus)
	}

	sanitized.HTTP.ListenAddr = strings.TrimSpace(sanitized.HTTP.ListenAddr)

	return &sanitized, nil
}

func Save(path string, cfg *Config) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("config path must not be empty")
	}

	sanitized, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}

	var data bytes.Buffer
	if err := toml.NewEncoder(&data).Encode(sanitized); err != nil {
		return fmt.Errorf("encode config TOML: %w", err)
	}

	dir := filepath.Dir(trimmedPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data.Bytes()); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, trimmedPath); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	tmpPath = ""

	return nil
}

func sanitizePath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", name, value)
	}
	return cleaned, nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, value)
	}

	return nil
}
