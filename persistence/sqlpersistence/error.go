package sqlpersistence

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// IsUnavailable returns true if err indicates that the database is
// temporarily unreachable, such that the operation may succeed if it is
// retried.
//
// It is suitable for use as feed.Resubscriber.IsUnavailable.
func IsUnavailable(err error) bool {
	if err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isUnavailableCode(pgErr.Code)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return isUnavailableCode(string(pqErr.Code))
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// isUnavailableCode returns true if c is a PostgreSQL SQLSTATE code that
// indicates a connection failure or a server shutdown.
func isUnavailableCode(c string) bool {
	switch {
	case strings.HasPrefix(c, "08"): // connection_exception
		return true
	case c == "57P01", c == "57P02", c == "57P03": // admin_shutdown, crash_shutdown, cannot_connect_now
		return true
	default:
		return false
	}
}
