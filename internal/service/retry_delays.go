package service

import "github.com/vitalsync/internal/types"

// retryDelays maps error types to the number of seconds to wait before the
// user becomes eligible for another sync attempt. Types absent from the map
// are permanent failures that require intervention (re-auth, code fix).
var retryDelays = map[types.SyncErrorType]int{
	types.ErrTokenExpired:   0,
	types.ErrRateLimited15m: 900,
	types.ErrRateLimited24h: 86400,
	types.ErrAPIUnavailable: 300,
	types.ErrAPITimeout:     60,
	types.ErrDatabase:       60,
}

// RetryDelay returns the backoff in seconds for the error type and whether
// the error is retryable at all.
func RetryDelay(errType types.SyncErrorType) (int, bool) {
	delay, ok := retryDelays[errType]
	return delay, ok
}

// IsRetryable reports whether a sync that failed with this error type should
// be attempted again without manual intervention.
func IsRetryable(errType types.SyncErrorType) bool {
	_, ok := retryDelays[errType]
	return ok
}
