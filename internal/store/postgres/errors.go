// internal/store/postgres/errors.go
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"libraryapi/internal/apperror"
)

const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"

	openLoanConstraint = "loans_open_copy_idx"
)

// translate maps driver errors onto application error kinds. Serialization
// failures pass through unchanged so WithinTx can retry them.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NotFound("%s not found", what)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return apperror.Conflict(err, "%s conflicts with an existing record", what)
		case codeForeignKeyViolation:
			return apperror.NotFound("%s references a record that does not exist", what)
		case codeCheckViolation:
			return apperror.Validation("%s has an invalid value", what)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
