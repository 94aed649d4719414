package storage

import "errors"

// Common storage errors
var (
	// ErrSnapshotNotFound indicates that no snapshot exists for the document
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")

	// ErrChecksumMismatch indicates that a stored snapshot is corrupted
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
)
