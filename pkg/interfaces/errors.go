package interfaces

import "errors"

// Cross-component error types. Components compare with errors.Is so the
// concrete store can wrap these with context.
var (
	ErrStoreClosed    = errors.New("store is closed")
	ErrBackupNotFound = errors.New("backup not found")
)
