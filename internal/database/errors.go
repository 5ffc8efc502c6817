package database

import (
	"errors"

	"github.com/lib/pq"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeInvalidText          = "22P02"
)

// IsUniqueViolation reports whether err is a Postgres unique_violation,
// optionally on a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != codeUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsTransient reports serialization failures and deadlocks, which succeed
// when the transaction is replayed.
func IsTransient(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == codeSerializationFailure || string(pqErr.Code) == codeDeadlockDetected
}

// IsInvalidInput reports a value Postgres could not parse for its column
// type, such as a malformed UUID.
func IsInvalidInput(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == codeInvalidText
}
