package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	fgerrors "github.com/randalmurphal/askdata/pkg/flowgraph/errors"
)

// QueryError is a failed query. Its category tells the caller whether to
// retry the same statement, regenerate it, or give up.
type QueryError struct {
	SQL      string
	Err      error
	Category fgerrors.Category
}

func newQueryError(stmt string, err error) *QueryError {
	return &QueryError{SQL: stmt, Err: err, Category: categorize(err)}
}

func (e *QueryError) Error() string {
	return e.Err.Error()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// ErrorCategory implements fgerrors.Categorizer.
func (e *QueryError) ErrorCategory() fgerrors.Category {
	return e.Category
}

// Postgres SQLSTATE classes that say nothing about the statement itself.
var transientClasses = map[string]bool{
	"08": true, // connection exception
	"40": true, // transaction rollback (serialization, deadlock)
	"53": true, // insufficient resources
	"57": true, // operator intervention
	"58": true, // system error
}

// queryCanceled is raised by statement_timeout; a cheaper query may pass.
const queryCanceled = "57014"

// transientMessages are driver messages for SQLite and DuckDB conditions
// that clear up by themselves.
var transientMessages = []string{
	"database is locked",
	"database table is locked",
	"sqlite_busy",
	"connection reset",
	"connection refused",
	"broken pipe",
	"database is closed",
	"unable to open database file",
}

// connectionError tags a failure to get a usable transaction as transient.
// Cancellation is left alone so the caller still sees why it stopped.
func connectionError(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fgerrors.Transient(err, op)
}

func categorize(err error) fgerrors.Category {
	var tagged *fgerrors.CategorizedError
	if errors.As(err, &tagged) {
		return tagged.Category
	}

	switch {
	case errors.Is(err, context.Canceled):
		return fgerrors.CategoryPermanent
	case errors.Is(err, context.DeadlineExceeded):
		return fgerrors.CategoryRepairable
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return fgerrors.CategoryTransient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != queryCanceled && len(pgErr.Code) >= 2 && transientClasses[pgErr.Code[:2]] {
			return fgerrors.CategoryTransient
		}
		return fgerrors.CategoryRepairable
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fgerrors.CategoryTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fgerrors.CategoryTransient
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return fgerrors.CategoryTransient
		}
	}
	return fgerrors.CategoryRepairable
}
