package config

import "errors"

// Configuration validation errors. Package-level sentinels allow callers to
// branch with errors.Is while the messages stay human-readable.
var (
	// ErrInvalidTimeout is returned when the request timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidMaxRetries is returned when the retry count is not positive.
	ErrInvalidMaxRetries = errors.New("invalid max retries: must be positive")

	// ErrInvalidPageCeiling is returned when the page safety limit is not
	// positive. Without a ceiling a search against an endless upstream
	// would never terminate.
	ErrInvalidPageCeiling = errors.New("invalid page ceiling: must be positive")

	// ErrInvalidTargetCount is returned when a task's image limit is
	// outside [1, 1000].
	ErrInvalidTargetCount = errors.New("invalid limit: must be between 1 and 1000")

	// ErrCredentialsNotFound is returned when the credentials file does
	// not exist at the given path.
	ErrCredentialsNotFound = errors.New("credentials file not found")
)
