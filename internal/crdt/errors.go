package crdt

import "errors"

var (
	// ErrMalformedUpdate is returned when an update or state vector cannot be decoded
	ErrMalformedUpdate = errors.New("malformed crdt update")
	// ErrOutOfRange is returned when a text position is outside the document
	ErrOutOfRange = errors.New("position out of range")
	// ErrEmptyKey is returned when a map key is empty
	ErrEmptyKey = errors.New("empty key")
)
