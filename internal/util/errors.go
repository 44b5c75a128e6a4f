package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCommand indicates a chat command that could not be parsed
	ErrInvalidCommand = errors.New("invalid command")

	// ErrBusy indicates another job already holds the executor
	ErrBusy = errors.New("a job is already running")

	// ErrInvalidDate indicates a date that is not YYYY-MM-DD
	ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")
)
