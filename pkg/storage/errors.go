package storage

import (
	"errors"
)

var (
	// ErrNotFound is returned when the requested element or record does not
	// exist for the given owner.
	ErrNotFound = errors.New("not found")

	// ErrWriteConflict is returned when two writes race on the same owner and
	// field and the store cannot serialize them.
	ErrWriteConflict = errors.New("write failed due to conflict")
)
