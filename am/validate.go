package am

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/teranos/exportd/am/geotime"
	"github.com/teranos/exportd/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Warehouse.Driver {
	case "pgx", "postgres", "mysql", "sqlite3":
	default:
		return errors.Newf("warehouse.driver must be one of pgx, postgres, mysql, sqlite3, got %q", c.Warehouse.Driver)
	}
	if c.Warehouse.FetchSize <= 0 {
		return errors.Newf("warehouse.fetch_size must be > 0, got %d", c.Warehouse.FetchSize)
	}
	if c.Warehouse.ConnectRetrySeconds <= 0 {
		return errors.Newf("warehouse.connect_retry_seconds must be > 0, got %d", c.Warehouse.ConnectRetrySeconds)
	}

	// Workers: at least one, otherwise nothing would ever run
	if c.Pulse.Workers <= 0 {
		return errors.Newf("pulse.workers must be > 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.ReloadIntervalSeconds <= 0 {
		return errors.Newf("pulse.reload_interval_seconds must be > 0, got %d", c.Pulse.ReloadIntervalSeconds)
	}
	if c.Pulse.IdleCapSeconds <= 0 || c.Pulse.IdleEmptySeconds <= 0 || c.Pulse.LoopErrorSleepSeconds <= 0 {
		return errors.New("pulse idle, empty and loop error sleeps must be > 0")
	}
	if c.Pulse.GateRetryMinutes <= 0 {
		return errors.Newf("pulse.gate_retry_minutes must be > 0, got %d", c.Pulse.GateRetryMinutes)
	}
	switch strings.ToLower(c.Pulse.GateUnit) {
	case "month", "day":
	default:
		return errors.Newf("pulse.gate_unit must be day or month, got %q", c.Pulse.GateUnit)
	}
	if c.Pulse.Timezone != "" {
		if _, err := geotime.NormalizeTimezone(c.Pulse.Timezone); err != nil {
			return errors.Wrap(err, "pulse.timezone")
		}
	}

	if utf8.RuneCountInString(c.Export.Delimiter) != 1 {
		return errors.Newf("export.delimiter must be a single character, got %q", c.Export.Delimiter)
	}
	if c.Export.Delimiter == "\"" || c.Export.Delimiter == "\n" || c.Export.Delimiter == "\r" {
		return errors.Newf("export.delimiter cannot be %q", c.Export.Delimiter)
	}

	return nil
}

// Location resolves pulse.timezone, falling back to the host zone.
func (c *Config) Location() (*time.Location, error) {
	name := c.Pulse.Timezone
	if name == "" {
		detected, err := geotime.DetectLocalTimezone()
		if err != nil {
			return time.Local, nil
		}
		name = detected
	}
	normalized, err := geotime.NormalizeTimezone(name)
	if err != nil {
		return nil, err
	}
	return time.LoadLocation(normalized)
}
