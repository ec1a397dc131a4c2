package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/SaurabhJain708/formbricks/http/response"
)

var (
	ErrNotFound      = errors.New("database: not found")
	ErrAlreadyExists = errors.New("database: already exists")
	ErrConflict      = errors.New("database: conflict")
	ErrValidation    = errors.New("database: check violation")
	ErrRetryable     = errors.New("database: serialization failure")
	ErrTimeout       = errors.New("database: query timeout")
	ErrAppendOnly    = errors.New("database: append-only table")
)

// MapError classifies driver errors into the sentinels above while keeping
// the original error in the chain.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s: %w", ErrAlreadyExists, pgErr.Detail, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: referenced record not found: %w", ErrConflict, err)
		case "23514": // check_violation
			return fmt.Errorf("%w: %s: %w", ErrValidation, pgErr.Message, err)
		case "40001": // serialization_failure
			return fmt.Errorf("%w: %w", ErrRetryable, err)
		case "57014": // query_canceled
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		case "P0001": // raise_exception from the append-only trigger
			return fmt.Errorf("%w: %s: %w", ErrAppendOnly, pgErr.Message, err)
		}
	}

	return err
}

// Code returns the API error code for a mapped error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return response.ErrNotFound
	case errors.Is(err, ErrAlreadyExists):
		return response.ErrAlreadyExists
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAppendOnly):
		return response.ErrConflict
	case errors.Is(err, ErrValidation):
		return response.ErrValidation
	case errors.Is(err, ErrRetryable):
		return response.ErrVersionMismatch
	case errors.Is(err, ErrTimeout):
		return response.ErrGatewayTimeout
	default:
		return response.ErrSystem
	}
}

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}
