// Package types provides common type definitions for the vitalsync service.
package types

// SyncStatus represents the lifecycle state of a sync attempt.
type SyncStatus string

const (
	// SyncStatusStarted means the sync has begun but not completed
	SyncStatusStarted SyncStatus = "started"
	// SyncStatusSuccess means all data categories synced successfully
	SyncStatusSuccess SyncStatus = "success"
	// SyncStatusPartial means some data categories synced, others failed
	SyncStatusPartial SyncStatus = "partial"
	// SyncStatusFailed means the sync failed completely
	SyncStatusFailed SyncStatus = "failed"
	// SyncStatusSkipped means the sync was not attempted (e.g. missing credential)
	SyncStatusSkipped SyncStatus = "skipped"
)

// IsTerminal reports whether the status is a final state.
func (s SyncStatus) IsTerminal() bool {
	switch s {
	case SyncStatusSuccess, SyncStatusPartial, SyncStatusFailed, SyncStatusSkipped:
		return true
	default:
		return false
	}
}

// SyncErrorType categorizes sync failures for consistent retry handling.
type SyncErrorType string

const (
	// ErrTokenExpired means the OAuth token has expired and needs a refresh
	ErrTokenExpired SyncErrorType = "token_expired"
	// ErrTokenInvalid means the token is malformed or unrecognized
	ErrTokenInvalid SyncErrorType = "token_invalid"
	// ErrTokenRevoked means the user revoked access upstream
	ErrTokenRevoked SyncErrorType = "token_revoked"

	// ErrRateLimited15m means the 15-minute upstream quota window was exceeded
	ErrRateLimited15m SyncErrorType = "rate_limited_15m"
	// ErrRateLimited24h means the 24-hour upstream quota window was exceeded
	ErrRateLimited24h SyncErrorType = "rate_limited_24h"

	// ErrAPIUnavailable means the upstream API is down or unreachable
	ErrAPIUnavailable SyncErrorType = "api_unavailable"
	// ErrAPITimeout means a request timed out waiting for a response
	ErrAPITimeout SyncErrorType = "api_timeout"
	// ErrAPIError means the upstream API returned an error response
	ErrAPIError SyncErrorType = "api_error"

	// ErrInvalidResponse means a response did not match the expected schema
	ErrInvalidResponse SyncErrorType = "invalid_response"
	// ErrTransform means API data could not be converted to local records
	ErrTransform SyncErrorType = "transform_error"

	// ErrDatabase means a storage operation failed during the sync
	ErrDatabase SyncErrorType = "database_error"
	// ErrInternal means an unexpected internal error occurred
	ErrInternal SyncErrorType = "internal_error"
)

// SyncTrigger identifies what initiated a sync attempt.
type SyncTrigger string

const (
	// TriggerScheduler is an automatic sync from the background scheduler
	TriggerScheduler SyncTrigger = "scheduler"
	// TriggerManual is a sync requested via the API
	TriggerManual SyncTrigger = "manual"
	// TriggerWebhook is a sync initiated by an upstream webhook
	TriggerWebhook SyncTrigger = "webhook"
	// TriggerStartup is the initial sync cycle on application startup
	TriggerStartup SyncTrigger = "startup"
)

// SyncPriority is the staleness tier of a user at queue-selection time.
type SyncPriority string

const (
	// PriorityCritical means the user has never synced or not in 48h+
	PriorityCritical SyncPriority = "critical"
	// PriorityHigh means the user has not synced in 12h+
	PriorityHigh SyncPriority = "high"
	// PriorityNormal means the user has not synced in 6h+
	PriorityNormal SyncPriority = "normal"
	// PriorityLow means the user synced recently
	PriorityLow SyncPriority = "low"
)

// Rank returns a numeric rank for ordering (higher = more urgent).
func (p SyncPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// UserTier represents the API service tier for a user.
type UserTier string

const (
	// TierFree represents the free service tier with limited request rates
	TierFree UserTier = "free"
	// TierPaid represents the paid service tier with higher request rates
	TierPaid UserTier = "paid"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
