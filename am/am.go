package am

import "time"

// Config represents the exportd configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Pulse     PulseConfig     `mapstructure:"pulse"`
	Export    ExportConfig    `mapstructure:"export"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite job store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// WarehouseConfig configures the analytical database jobs extract from
type WarehouseConfig struct {
	Driver              string `mapstructure:"driver"`                // database/sql driver: pgx, mysql, sqlite3
	DSN                 string `mapstructure:"dsn"`                   // Driver-specific connection string
	FetchSize           int    `mapstructure:"fetch_size"`            // Rows per fetch batch (default: 5000)
	ConnectRetrySeconds int    `mapstructure:"connect_retry_seconds"` // Wait after a connection-limit refusal (default: 120)
	BindLayout          string `mapstructure:"bind_layout"`           // Empty binds window bounds as time.Time, otherwise formats them with this layout
}

// PulseConfig configures the scheduler and its worker pool
type PulseConfig struct {
	Workers               int    `mapstructure:"workers"`                  // Concurrent extraction workers (default: 5)
	ReloadIntervalSeconds int    `mapstructure:"reload_interval_seconds"`  // Full trigger rebuild period (default: 7200)
	IdleCapSeconds        int    `mapstructure:"idle_cap_seconds"`         // Longest sleep between passes (default: 60)
	IdleEmptySeconds      int    `mapstructure:"idle_empty_seconds"`       // Sleep when nothing is scheduled (default: 120)
	LoopErrorSleepSeconds int    `mapstructure:"loop_error_sleep_seconds"` // Pause after an unexpected loop error (default: 30)
	GateRetryMinutes      int    `mapstructure:"gate_retry_minutes"`       // Delay of the one-shot gate retry (default: 10)
	GateUnit              string `mapstructure:"gate_unit"`                // Gate threshold alignment: day or month (default: day)
	Timezone              string `mapstructure:"timezone"`                 // IANA zone for fire times (default: host zone)
}

// ExportConfig configures output files
type ExportConfig struct {
	Delimiter   string `mapstructure:"delimiter"`    // Field separator, a single character (default: ";")
	EventualDir string `mapstructure:"eventual_dir"` // Destination of eventual requests
}

// LogConfig configures logging output
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// ReloadInterval returns the trigger rebuild period.
func (p PulseConfig) ReloadInterval() time.Duration {
	return time.Duration(p.ReloadIntervalSeconds) * time.Second
}

// IdleCap returns the longest sleep between passes.
func (p PulseConfig) IdleCap() time.Duration {
	return time.Duration(p.IdleCapSeconds) * time.Second
}

// IdleEmpty returns the sleep used when no trigger is scheduled.
func (p PulseConfig) IdleEmpty() time.Duration {
	return time.Duration(p.IdleEmptySeconds) * time.Second
}

// LoopErrorSleep returns the pause after an unexpected loop error.
func (p PulseConfig) LoopErrorSleep() time.Duration {
	return time.Duration(p.LoopErrorSleepSeconds) * time.Second
}

// GateRetry returns the delay of the one-shot gate retry.
func (p PulseConfig) GateRetry() time.Duration {
	return time.Duration(p.GateRetryMinutes) * time.Minute
}

// ConnectRetry returns the wait after a connection-limit refusal.
func (w WarehouseConfig) ConnectRetry() time.Duration {
	return time.Duration(w.ConnectRetrySeconds) * time.Second
}

// DelimiterRune returns the configured field separator.
func (e ExportConfig) DelimiterRune() rune {
	for _, r := range e.Delimiter {
		return r
	}
	return ';'
}
