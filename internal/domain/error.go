package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Ledger errors
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadySettled      = errors.New("debit receipt already settled")

	// Provider and job errors
	ErrProviderRejected    = errors.New("provider rejected the request")
	ErrProviderUnreachable = errors.New("provider unreachable")
	ErrNoUsableResult      = errors.New("provider signaled success without a usable result")
	ErrJobNotFound         = errors.New("no job for this handle")
	ErrDuplicateSubmission = errors.New("a job with this correlation id is already in flight")
	ErrTooBusy             = errors.New("too many jobs in flight")
)
