package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Job store
	v.SetDefault("database.path", "exportd.db")

	// Warehouse
	v.SetDefault("warehouse.driver", "pgx")
	v.SetDefault("warehouse.fetch_size", 5000)
	v.SetDefault("warehouse.connect_retry_seconds", 120)
	v.SetDefault("warehouse.bind_layout", "")

	// Pulse
	v.SetDefault("pulse.workers", 5)
	v.SetDefault("pulse.reload_interval_seconds", 7200) // 2h
	v.SetDefault("pulse.idle_cap_seconds", 60)
	v.SetDefault("pulse.idle_empty_seconds", 120)
	v.SetDefault("pulse.loop_error_sleep_seconds", 30)
	v.SetDefault("pulse.gate_retry_minutes", 10)
	v.SetDefault("pulse.gate_unit", "day")
	v.SetDefault("pulse.timezone", "")

	// Export
	v.SetDefault("export.delimiter", ";")
	v.SetDefault("export.eventual_dir", "eventual")

	// Logging
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("warehouse.dsn", "EXPORTD_WAREHOUSE_DSN")
	v.BindEnv("database.path", "EXPORTD_DATABASE_PATH")
}

// GetDatabasePath returns the configured job store path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "exportd.db"
	}
	return c.Database.Path
}

// String returns a string representation of the config. The DSN is never printed.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Warehouse: {Driver: %s}, Pulse: {Workers: %d, GateUnit: %s}}",
		c.Database.Path, c.Warehouse.Driver, c.Pulse.Workers, c.Pulse.GateUnit)
}
