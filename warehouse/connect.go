package warehouse

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/exportd/errors"
)

// OpenFunc opens one warehouse connection.
type OpenFunc func(ctx context.Context) (Conn, error)

// SQLConnector opens warehouse connections through database/sql.
type SQLConnector struct {
	open       OpenFunc
	retryDelay time.Duration
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.SugaredLogger
}

// NewSQLConnector builds a connector for driver and dsn. driver "postgres"
// is an alias for pgx.
func NewSQLConnector(driver, dsn string, retryDelay time.Duration, logger *zap.SugaredLogger) *SQLConnector {
	if driver == "postgres" {
		driver = "pgx"
	}
	return NewConnector(func(ctx context.Context) (Conn, error) {
		return openSQL(ctx, driver, dsn)
	}, retryDelay, logger)
}

// NewConnector wraps an arbitrary open function with connection-limit
// backoff and a circuit breaker.
func NewConnector(open OpenFunc, retryDelay time.Duration, logger *zap.SugaredLogger) *SQLConnector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SQLConnector{
		open:       open,
		retryDelay: retryDelay,
		logger:     logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "warehouse",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// A refusal for connection limits means the server is up
			IsSuccessful: func(err error) bool {
				return err == nil || IsConnectionLimit(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warnw("Warehouse circuit breaker state changed",
					"from", from.String(),
					"to", to.String())
			},
		}),
	}
}

// Connect opens a connection, waiting retryDelay between attempts for as
// long as the warehouse refuses on connection limits. Any other error is
// returned at once, marked as an extraction error. Cancelling ctx stops
// the wait.
func (c *SQLConnector) Connect(ctx context.Context) (Conn, error) {
	limiter := rate.NewLimiter(rate.Every(c.retryDelay), 1)
	limiter.Allow() // first attempt is immediate

	for attempt := 1; ; attempt++ {
		conn, err := c.attempt(ctx)
		if err == nil {
			if attempt > 1 {
				c.logger.Infow("Warehouse connection established after waiting", "attempts", attempt)
			}
			return conn, nil
		}
		if !IsConnectionLimit(err) {
			return nil, errors.Mark(errors.Wrap(err, "connect to warehouse"), errors.ErrExtraction)
		}

		c.logger.Warnw("Warehouse connection limit reached, waiting",
			"attempt", attempt,
			"retry_in", c.retryDelay.String(),
			"error", err)

		if werr := limiter.Wait(ctx); werr != nil {
			return nil, errors.Mark(errors.Wrap(err, "gave up waiting for a warehouse connection"), errors.ErrResourceExhausted)
		}
	}
}

func (c *SQLConnector) attempt(ctx context.Context) (Conn, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.open(ctx)
	})
	if err != nil {
		return nil, err
	}
	conn, ok := res.(Conn)
	if !ok || conn == nil {
		return nil, errors.New("warehouse driver returned no connection")
	}
	return conn, nil
}

// openSQL opens a dedicated *sql.DB limited to one connection and pings it,
// which is where limit refusals surface.
func openSQL(ctx context.Context, driver, dsn string) (Conn, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return NewConn(db), nil
}
