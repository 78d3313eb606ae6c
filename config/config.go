package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	configDir  = "xmem"
	configFile = "config.toml"
	envPrefix  = "XMEM"
)

// Effector modes.
const (
	EffectorLog    = "log"
	EffectorSystem = "system"
)

// Config holds everything xmem reads from config.toml and XMEM_* variables.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Allocator AllocatorConfig `mapstructure:"allocator"`
	Leak      LeakConfig      `mapstructure:"leak"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Collector CollectorConfig `mapstructure:"collector"`
	Effector  EffectorConfig  `mapstructure:"effector"`
	Server    ServerConfig    `mapstructure:"server"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Alerts    AlertConfig     `mapstructure:"alerts"`
	UI        UIConfig        `mapstructure:"ui"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// PeriodicOptimization runs the pipeline unconditionally; 0 disables it.
	PeriodicOptimization time.Duration `mapstructure:"periodic_optimization"`
}

type AllocatorConfig struct {
	HistoryHorizon time.Duration `mapstructure:"history_horizon"`
	BytesPerHour   int64         `mapstructure:"bytes_per_hour"`
	TriggerFactor  float64       `mapstructure:"trigger_factor"`
}

type LeakConfig struct {
	Threshold   float64 `mapstructure:"threshold"`
	StaleCycles int     `mapstructure:"stale_cycles"`
}

type PipelineConfig struct {
	TrimFreeRatio    float64 `mapstructure:"trim_free_ratio"`
	CacheFreeRatio   float64 `mapstructure:"cache_free_ratio"`
	IdleForegroundMs int64   `mapstructure:"idle_foreground_ms"`
	HeavyUsageBytes  int64   `mapstructure:"heavy_usage_bytes"`
}

type CollectorConfig struct {
	ProcRoot          string  `mapstructure:"proc_root"`
	MaxApps           int     `mapstructure:"max_apps"`
	LowMemoryRatio    float64 `mapstructure:"low_memory_ratio"`
	PressureThreshold float64 `mapstructure:"pressure_threshold"` // PSI full avg10 percent; 0 disables
}

type EffectorConfig struct {
	Mode       string   `mapstructure:"mode"`
	CgroupRoot string   `mapstructure:"cgroup_root"` // empty: the cgroup2 mount from /proc/mounts
	Denylist   []string `mapstructure:"denylist"`    // protected in addition to the built-in list
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type JournalConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Path      string        `mapstructure:"path"` // defaults to <data_dir>/journal.db
	Retention time.Duration `mapstructure:"retention"`
}

type AlertConfig struct {
	Webhook string `mapstructure:"webhook"`
	Command string `mapstructure:"command"`
}

type UIConfig struct {
	Refresh time.Duration `mapstructure:"refresh"`
}

// defaults mirrors Config. Durations are strings so the map can be written
// back out as readable TOML.
var defaults = map[string]any{
	"data_dir":                        "",
	"log.level":                       "info",
	"log.development":                 false,
	"scheduler.interval":              "5m",
	"scheduler.periodic_optimization": "0s",
	"allocator.history_horizon":       "168h",
	"allocator.bytes_per_hour":        100 * 1024 * 1024,
	"allocator.trigger_factor":        1.5,
	"leak.threshold":                  0.05,
	"leak.stale_cycles":               3,
	"pipeline.trim_free_ratio":        0.20,
	"pipeline.cache_free_ratio":       0.30,
	"pipeline.idle_foreground_ms":     60_000,
	"pipeline.heavy_usage_bytes":      200 * 1024 * 1024,
	"collector.proc_root":             "/proc",
	"collector.max_apps":              50,
	"collector.low_memory_ratio":      0.10,
	"collector.pressure_threshold":    10.0,
	"effector.mode":                   EffectorLog,
	"effector.cgroup_root":            "",
	"effector.denylist":               []string{},
	"server.enabled":                  true,
	"server.addr":                     "127.0.0.1:9470",
	"journal.enabled":                 true,
	"journal.path":                    "",
	"journal.retention":               "720h",
	"alerts.webhook":                  "",
	"alerts.command":                  "",
	"ui.refresh":                      "5s",
}

// Path returns ~/.config/xmem/config.toml (or XDG_CONFIG_HOME).
// Returns empty string if home directory cannot be determined.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // refuse to fall back to /tmp (security risk)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, configDir, configFile)
}

// DefaultDataDir returns ~/.xmem.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".xmem")
}

// New returns a viper instance carrying the defaults and XMEM_* overrides,
// e.g. XMEM_SCHEDULER_INTERVAL=1m.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetConfigType("toml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (Path() when empty) over the defaults. A missing file
// is not an error.
func Load(path string) (Config, error) {
	v, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	return Decode(v)
}

// Read returns a viper instance with path layered over the defaults.
func Read(path string) (*viper.Viper, error) {
	v := New()
	if path == "" {
		path = Path()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Decode unmarshals and validates v.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.Journal.Path == "" && cfg.DataDir != "" {
		cfg.Journal.Path = filepath.Join(cfg.DataDir, "journal.db")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the validated defaults.
func Default() Config {
	cfg, err := Decode(New())
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	ratio := func(name string, r float64) {
		if r <= 0 || r >= 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0,1), got %g", name, r))
		}
	}
	positive("scheduler.interval", c.Scheduler.Interval)
	positive("allocator.history_horizon", c.Allocator.HistoryHorizon)
	positive("ui.refresh", c.UI.Refresh)
	if c.Scheduler.PeriodicOptimization < 0 {
		errs = append(errs, fmt.Errorf("scheduler.periodic_optimization must not be negative"))
	}
	if c.Allocator.BytesPerHour <= 0 {
		errs = append(errs, fmt.Errorf("allocator.bytes_per_hour must be positive"))
	}
	if c.Allocator.TriggerFactor <= 0 {
		errs = append(errs, fmt.Errorf("allocator.trigger_factor must be positive"))
	}
	if c.Leak.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("leak.threshold must be positive"))
	}
	if c.Leak.StaleCycles < 1 {
		errs = append(errs, fmt.Errorf("leak.stale_cycles must be at least 1"))
	}
	ratio("pipeline.trim_free_ratio", c.Pipeline.TrimFreeRatio)
	ratio("pipeline.cache_free_ratio", c.Pipeline.CacheFreeRatio)
	ratio("collector.low_memory_ratio", c.Collector.LowMemoryRatio)
	if c.Pipeline.IdleForegroundMs <= 0 || c.Pipeline.HeavyUsageBytes <= 0 {
		errs = append(errs, fmt.Errorf("pipeline thresholds must be positive"))
	}
	if c.Collector.PressureThreshold < 0 || c.Collector.PressureThreshold > 100 {
		errs = append(errs, fmt.Errorf("collector.pressure_threshold must be in [0,100]"))
	}
	if c.Collector.MaxApps < 1 {
		errs = append(errs, fmt.Errorf("collector.max_apps must be at least 1"))
	}
	switch c.Effector.Mode {
	case EffectorLog, EffectorSystem:
	default:
		errs = append(errs, fmt.Errorf("effector.mode must be %q or %q, got %q", EffectorLog, EffectorSystem, c.Effector.Mode))
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("server.addr is required when the server is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes v's settings to path as TOML.
func Save(v *viper.Viper, path string) error {
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := toml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
