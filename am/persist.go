package am

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/teranos/exportd/errors"
)

// starterConfig mirrors Config with toml tags for writing a fresh file.
type starterConfig struct {
	Database struct {
		Path string `toml:"path"`
	} `toml:"database"`
	Warehouse struct {
		Driver              string `toml:"driver"`
		DSN                 string `toml:"dsn"`
		FetchSize           int    `toml:"fetch_size"`
		ConnectRetrySeconds int    `toml:"connect_retry_seconds"`
		BindLayout          string `toml:"bind_layout"`
	} `toml:"warehouse"`
	Pulse struct {
		Workers               int    `toml:"workers"`
		ReloadIntervalSeconds int    `toml:"reload_interval_seconds"`
		IdleCapSeconds        int    `toml:"idle_cap_seconds"`
		IdleEmptySeconds      int    `toml:"idle_empty_seconds"`
		LoopErrorSleepSeconds int    `toml:"loop_error_sleep_seconds"`
		GateRetryMinutes      int    `toml:"gate_retry_minutes"`
		GateUnit              string `toml:"gate_unit"`
		Timezone              string `toml:"timezone"`
	} `toml:"pulse"`
	Export struct {
		Delimiter   string `toml:"delimiter"`
		EventualDir string `toml:"eventual_dir"`
	} `toml:"export"`
	Log struct {
		JSON  bool   `toml:"json"`
		Level string `toml:"level"`
	} `toml:"log"`
}

// WriteStarterConfig writes the default configuration to path. An existing
// file is never overwritten.
func WriteStarterConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file %s already exists", path)
	}

	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		return err
	}

	var out starterConfig
	out.Database.Path = cfg.Database.Path
	out.Warehouse.Driver = cfg.Warehouse.Driver
	out.Warehouse.DSN = cfg.Warehouse.DSN
	out.Warehouse.FetchSize = cfg.Warehouse.FetchSize
	out.Warehouse.ConnectRetrySeconds = cfg.Warehouse.ConnectRetrySeconds
	out.Warehouse.BindLayout = cfg.Warehouse.BindLayout
	out.Pulse.Workers = cfg.Pulse.Workers
	out.Pulse.ReloadIntervalSeconds = cfg.Pulse.ReloadIntervalSeconds
	out.Pulse.IdleCapSeconds = cfg.Pulse.IdleCapSeconds
	out.Pulse.IdleEmptySeconds = cfg.Pulse.IdleEmptySeconds
	out.Pulse.LoopErrorSleepSeconds = cfg.Pulse.LoopErrorSleepSeconds
	out.Pulse.GateRetryMinutes = cfg.Pulse.GateRetryMinutes
	out.Pulse.GateUnit = cfg.Pulse.GateUnit
	out.Pulse.Timezone = cfg.Pulse.Timezone
	out.Export.Delimiter = cfg.Export.Delimiter
	out.Export.EventualDir = cfg.Export.EventualDir
	out.Log.JSON = cfg.Log.JSON
	out.Log.Level = cfg.Log.Level

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, DefaultFilePermissions)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	if _, err := f.WriteString("# exportd configuration\n\n"); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	if err := toml.NewEncoder(f).Encode(out); err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	return nil
}
