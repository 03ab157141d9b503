package repository

import "errors"

// Sentinel kinds for store errors. Callers match with errors.Is.
var (
	ErrNotFound = errors.New("record not found")
	ErrClosed   = errors.New("store is closed")
)
