package db

import (
	"errors"
	"strings"

	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// ErrStaleWrite is returned by version-guarded updates that matched no row
// because another unit committed first.
var ErrStaleWrite = errors.New("stale write: row version changed")

// IsRetryable reports whether a unit of work failed only because it lost a
// race and may be replayed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStaleWrite) {
		return true
	}
	switch sqlState(err) {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return true
	}
	return false
}

// IsUniqueViolation reports whether the provided error references a unique
// constraint violation. When constraintName is provided, the helper looks for
// the constraint text in the error message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if sqlState(err) != sqlStateUniqueViolation &&
		!strings.Contains(msg, "duplicate key value") &&
		!strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return true
}

func sqlState(err error) string {
	pg, _ := pkgerrors.Postgres(err)
	return pg.Code
}
