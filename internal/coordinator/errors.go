package coordinator

import "codeberg.org/mutker/envoymon/internal/errors"

const (
	// Configuration errors
	ErrMissingFetcher = errors.ErrorCode("coordinator_missing_fetcher")
)
