package db

import (
	"strings"

	"github.com/teranos/exportd/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database,
// typically while the scheduler drains during shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the store connection is gone.
// The driver returns its own error values, hence the message fallback.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
