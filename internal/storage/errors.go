package storage

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrModelNotFound is returned when a model is not found
	ErrModelNotFound = errors.New("model not found")

	// ErrVersionNotFound is returned when a model version is not found
	ErrVersionNotFound = errors.New("model version not found")

	// ErrAliasNotFound is returned when a model alias is not found
	ErrAliasNotFound = errors.New("model alias not found")

	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicate is returned when a write violates a uniqueness constraint
	ErrDuplicate = errors.New("duplicate entry")
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = pq.ErrorCode("23505")

// translateError maps driver errors onto the package's sentinel errors.
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}
