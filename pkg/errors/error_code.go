package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Admission errors (100-199)
	ErrCodeExceedConcurrencyLimit ErrorCode = 100
	ErrCodeStrategyNotFound       ErrorCode = 101
	ErrCodeInvalidRequest         ErrorCode = 102

	// Acquisition errors (200-299)
	ErrCodeArchiveUnavailable ErrorCode = 200
	ErrCodeArchiveCorrupted   ErrorCode = 201
	ErrCodeFileMissing        ErrorCode = 202
	ErrCodeLiveFetchFailed    ErrorCode = 203
	ErrCodeInvalidTimeframe   ErrorCode = 204
	ErrCodeEmptyRange         ErrorCode = 205

	// Runtime errors (300-399)
	ErrCodeIterationTimeout    ErrorCode = 300
	ErrCodeIterationFailed     ErrorCode = 301
	ErrCodeUnsupportedLanguage ErrorCode = 302
	ErrCodeStrategyLoadFailed  ErrorCode = 303
	ErrCodeInvalidOrderRequest ErrorCode = 304

	// Matching errors (400-499)
	ErrCodeInsufficientPosition ErrorCode = 400
	ErrCodeInvalidTransition    ErrorCode = 401

	// Process/job errors (500-599)
	ErrCodeJobNotFound       ErrorCode = 500
	ErrCodeJobNotRunning     ErrorCode = 501
	ErrCodeJobAlreadyDone    ErrorCode = 502
	ErrCodeWorkerSpawnFailed ErrorCode = 503
	ErrCodeLedgerFailed      ErrorCode = 504
)
