package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"chatcompose/internal/domain"
)

// IsPgDuplicateError checks if error is a unique constraint violation (23505)
func IsPgDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsPgNoRowsError checks if error is a "no rows" error
func IsPgNoRowsError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsPgForeignKeyError checks if error is a foreign key violation (23503)
func IsPgForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// TranslateError maps driver errors onto domain errors. op names the
// failed operation for the wrapped message.
func TranslateError(err error, op, resource, id string) error {
	switch {
	case err == nil:
		return nil
	case IsPgNoRowsError(err):
		return &domain.NotFoundError{Resource: resource, ID: id}
	case IsPgDuplicateError(err):
		return &domain.ConflictError{
			Message:      fmt.Sprintf("%s %s already exists", resource, id),
			ResourceType: resource,
			ResourceID:   id,
		}
	case IsPgForeignKeyError(err):
		return fmt.Errorf("%s %s references a missing row: %w", resource, id, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
