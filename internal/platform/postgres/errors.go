package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/phrazzld/chatrelay/internal/store"
)

// ErrSchemaMissing is returned when the kv_entries table does not exist,
// which means Migrate has not been run against the database.
var ErrSchemaMissing = errors.New("kv_entries table missing, run migrations")

// PostgreSQL error codes
const (
	// undefinedTableCode is raised when a query references a missing table
	undefinedTableCode = "42P01"

	// connectionExceptionClass prefixes all connection failure codes
	connectionExceptionClass = "08"
)

// MapError maps a database error to a store error, wrapping the original so
// the driver detail stays available to errors.As.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", store.ErrStoreClosed, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == undefinedTableCode:
			return fmt.Errorf("%w: %w", ErrSchemaMissing, err)
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == connectionExceptionClass:
			return fmt.Errorf("database connection failed (%s): %w", pgErr.Code, err)
		}
		return fmt.Errorf("database error (%s): %w", pgErr.Code, err)
	}

	return err
}

// IsNotFoundError checks if the given error represents a "not found" scenario.
// This handles both sql.ErrNoRows and errors that are or wrap store.ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, store.ErrNotFound)
}
