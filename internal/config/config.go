package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultRowLimit is the row limit used when a request does not specify one.
const DefaultRowLimit = 200

// Config is the top-level configuration for rowwatch.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Database    DatabaseConfig    `yaml:"database"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
}

// ListenConfig defines where the HTTP server binds.
type ListenConfig struct {
	APIBind    string `yaml:"api_bind"`
	APIPort    int    `yaml:"api_port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// DatabaseConfig points at the SQLite file being watched.
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// DashboardConfig holds the values injected into the dashboard page.
type DashboardConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	DefaultLimit    int           `yaml:"default_limit"`
}

// RefreshMillis returns the refresh interval in whole milliseconds.
func (d DashboardConfig) RefreshMillis() int64 {
	return d.RefreshInterval.Milliseconds()
}

// HealthCheckConfig controls the periodic database probe.
type HealthCheckConfig struct {
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
// An empty path yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		data = substituteEnvVars(data)

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// applyEnvOverrides honors SQLITE_DB and REFRESH_INTERVAL (seconds, may be fractional).
func applyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv("SQLITE_DB"); ok && v != "" {
		cfg.Database.Path = v
	}
	if v, ok := os.LookupEnv("REFRESH_INTERVAL"); ok && strings.TrimSpace(v) != "" {
		secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("parsing REFRESH_INTERVAL %q: %w", v, err)
		}
		cfg.Dashboard.RefreshInterval = time.Duration(secs * float64(time.Second))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.APIBind == "" {
		cfg.Listen.APIBind = "127.0.0.1"
	}
	if cfg.Listen.APIPort == 0 {
		cfg.Listen.APIPort = 5000
	}
	if cfg.Listen.CORSOrigin == "" {
		cfg.Listen.CORSOrigin = "*"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "example.db"
	}
	if cfg.Database.BusyTimeout == 0 {
		cfg.Database.BusyTimeout = 5 * time.Second
	}
	if cfg.Dashboard.RefreshInterval == 0 {
		cfg.Dashboard.RefreshInterval = 2 * time.Second
	}
	if cfg.Dashboard.DefaultLimit == 0 {
		cfg.Dashboard.DefaultLimit = DefaultRowLimit
	}
	if cfg.HealthCheck.Interval == 0 {
		cfg.HealthCheck.Interval = 15 * time.Second
	}
	if cfg.HealthCheck.Timeout == 0 {
		cfg.HealthCheck.Timeout = 2 * time.Second
	}
	if cfg.HealthCheck.FailureThreshold == 0 {
		cfg.HealthCheck.FailureThreshold = 3
	}
}

func validate(cfg *Config) error {
	if cfg.Listen.APIPort < 0 || cfg.Listen.APIPort > 65535 {
		return fmt.Errorf("listen.api_port %d out of range", cfg.Listen.APIPort)
	}
	if cfg.Dashboard.RefreshInterval < 0 {
		return fmt.Errorf("dashboard.refresh_interval must not be negative, got %s", cfg.Dashboard.RefreshInterval)
	}
	if cfg.Dashboard.RefreshInterval > 0 && cfg.Dashboard.RefreshInterval < 100*time.Millisecond {
		return fmt.Errorf("dashboard.refresh_interval must be at least 100ms, got %s", cfg.Dashboard.RefreshInterval)
	}
	if cfg.Dashboard.DefaultLimit < 0 {
		return fmt.Errorf("dashboard.default_limit must not be negative, got %d", cfg.Dashboard.DefaultLimit)
	}
	if cfg.HealthCheck.FailureThreshold < 0 {
		return fmt.Errorf("health_check.failure_threshold must not be negative, got %d", cfg.HealthCheck.FailureThreshold)
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Editors often emit several writes per save
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "err", err)
		case <-cw.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		slog.Error("config hot-reload failed", "path", cw.path, "err", err)
		return
	}

	slog.Info("configuration reloaded", "path", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
