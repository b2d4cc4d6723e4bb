package warehouse

import (
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/teranos/exportd/errors"
)

// PostgreSQL SQLSTATE for too_many_connections.
const pgTooManyConnections = "53300"

// MySQL server errors for connection exhaustion.
const (
	mysqlTooManyConnections     = 1040 // ER_CON_COUNT_ERROR
	mysqlTooManyUserConnections = 1203 // ER_TOO_MANY_USER_CONNECTIONS
	mysqlUserLimitReached       = 1226 // ER_USER_LIMIT_REACHED
)

// IsConnectionLimit reports whether err is the warehouse refusing a session
// because a per-user or server connection limit is reached. Such errors are
// waited out, never reported as job failures.
func IsConnectionLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errors.ErrResourceExhausted) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgTooManyConnections
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlTooManyConnections, mysqlTooManyUserConnections, mysqlUserLimitReached:
			return true
		}
		return false
	}

	// Oracle sessions_per_user, and drivers that only report text
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "ora-02391") ||
		strings.Contains(msg, "too many connections") ||
		strings.Contains(msg, "sessions_per_user")
}
