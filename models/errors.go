package models

import "errors"

var (
	// ErrNotFound operation targets a record or snapshot which does not exist
	ErrNotFound = errors.New("not found")
	// ErrValidationFailed record is missing required fields or carries malformed values
	ErrValidationFailed = errors.New("validation failed")
	// ErrConflictOrStale reserved for concurrent edit detection
	ErrConflictOrStale = errors.New("conflicting or stale write")
	// ErrSnapshotCorrupt snapshot or import payload is unreadable or structurally invalid
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")
	// ErrRetentionPruneFailed failed to prune snapshots beyond the retention limit
	ErrRetentionPruneFailed = errors.New("snapshot retention prune failed")
	// ErrUnknownCollection the collection name is not known
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrServiceRunning an API server holds a live lease on the database
	ErrServiceRunning = errors.New("inventory server is running")
)
