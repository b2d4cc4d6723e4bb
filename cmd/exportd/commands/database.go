package commands

import (
	"database/sql"

	"github.com/teranos/exportd/am"
	"github.com/teranos/exportd/db"
	"github.com/teranos/exportd/errors"
	"github.com/teranos/exportd/logger"
)

// openDatabase opens and migrates the job store at cfg's database path.
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	dbPath := cfg.GetDatabasePath()

	database, err := db.OpenWithMigrations(dbPath, logger.ComponentLogger("db"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open job store")
	}
	return database, nil
}

// loadConfig loads and validates the configuration.
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}
