package store

import "errors"

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidFilterKey is returned for metadata keys outside the allow-list.
	ErrInvalidFilterKey = errors.New("invalid filter key")
)
