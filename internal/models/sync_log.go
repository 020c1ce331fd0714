// Package models provides data models for the vitalsync service.
package models

import (
	"time"

	"github.com/vitalsync/internal/types"
)

// SyncLog is the audit record for a single sync attempt. One row is created
// when the orchestrator decides to attempt a sync and is moved to exactly one
// terminal status by the same call. Rows are never deleted by this subsystem.
type SyncLog struct {
	ID     int64  `json:"id" db:"id"`
	UserID string `json:"userId" db:"user_id"`
	JobID  string `json:"jobId" db:"job_id"`

	Trigger  types.SyncTrigger   `json:"trigger" db:"trigger"`
	Priority *types.SyncPriority `json:"priority,omitempty" db:"priority"`

	StartedAt   time.Time  `json:"startedAt" db:"started_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	DurationMs  *int64     `json:"durationMs,omitempty" db:"duration_ms"`

	Status types.SyncStatus `json:"status" db:"status"`

	ErrorType    *types.SyncErrorType   `json:"errorType,omitempty" db:"error_type"`
	ErrorMessage *string                `json:"errorMessage,omitempty" db:"error_message"`
	ErrorDetails map[string]interface{} `json:"errorDetails,omitempty" db:"error_details"`

	RecordsSynced map[string]int `json:"recordsSynced,omitempty" db:"records_synced"`
	APICallsMade  int            `json:"apiCallsMade" db:"api_calls_made"`

	// Quota observations from upstream response headers, captured at completion
	RateLimitRemaining15m *int `json:"rateLimitRemaining15m,omitempty" db:"rate_limit_remaining_15m"`
	RateLimitRemaining24h *int `json:"rateLimitRemaining24h,omitempty" db:"rate_limit_remaining_24h"`
	RateLimitLimit15m     *int `json:"rateLimitLimit15m,omitempty" db:"rate_limit_limit_15m"`
	RateLimitLimit24h     *int `json:"rateLimitLimit24h,omitempty" db:"rate_limit_limit_24h"`

	// Best-effort post-sync analytics flags
	BaselinesRecalculated bool `json:"baselinesRecalculated" db:"baselines_recalculated"`
	PatternsDetected      bool `json:"patternsDetected" db:"patterns_detected"`
	InsightsGenerated     bool `json:"insightsGenerated" db:"insights_generated"`
}

// NewSyncLog creates a sync log in the started state.
func NewSyncLog(userID, jobID string, trigger types.SyncTrigger, priority *types.SyncPriority) *SyncLog {
	return &SyncLog{
		UserID:    userID,
		JobID:     jobID,
		Trigger:   trigger,
		Priority:  priority,
		StartedAt: time.Now().UTC(),
		Status:    types.SyncStatusStarted,
	}
}

// IsComplete returns true if the sync has reached a terminal status.
func (l *SyncLog) IsComplete() bool {
	return l.Status.IsTerminal()
}

// IsSuccessful returns true if the sync completed successfully.
func (l *SyncLog) IsSuccessful() bool {
	return l.Status == types.SyncStatusSuccess
}

// HasError returns true if the sync recorded an error.
func (l *SyncLog) HasError() bool {
	return l.ErrorType != nil
}

func (l *SyncLog) complete(status types.SyncStatus) {
	now := time.Now().UTC()
	durationMs := now.Sub(l.StartedAt).Milliseconds()
	l.CompletedAt = &now
	l.DurationMs = &durationMs
	l.Status = status
}

// CompleteSuccess marks the sync as successfully completed.
func (l *SyncLog) CompleteSuccess(records map[string]int, apiCalls int) {
	l.complete(types.SyncStatusSuccess)
	l.RecordsSynced = records
	l.APICallsMade = apiCalls
}

// CompletePartial marks the sync as partially completed: some categories
// synced before an error stopped the rest.
func (l *SyncLog) CompletePartial(records map[string]int, apiCalls int, errorType types.SyncErrorType, message string) {
	l.complete(types.SyncStatusPartial)
	l.RecordsSynced = records
	l.APICallsMade = apiCalls
	l.ErrorType = &errorType
	l.ErrorMessage = &message
}

// CompleteFailed marks the sync as failed with a classified error.
func (l *SyncLog) CompleteFailed(errorType types.SyncErrorType, message string, details map[string]interface{}) {
	l.complete(types.SyncStatusFailed)
	l.ErrorType = &errorType
	l.ErrorMessage = &message
	l.ErrorDetails = details
}

// CompleteSkipped marks the sync as skipped without an attempt.
func (l *SyncLog) CompleteSkipped(reason string) {
	l.complete(types.SyncStatusSkipped)
	l.ErrorMessage = &reason
}

// UpdateRateLimits records quota observations from upstream response headers.
// Nil values leave the corresponding field untouched.
func (l *SyncLog) UpdateRateLimits(remaining15m, remaining24h, limit15m, limit24h *int) {
	if remaining15m != nil {
		l.RateLimitRemaining15m = remaining15m
	}
	if remaining24h != nil {
		l.RateLimitRemaining24h = remaining24h
	}
	if limit15m != nil {
		l.RateLimitLimit15m = limit15m
	}
	if limit24h != nil {
		l.RateLimitLimit24h = limit24h
	}
}

// MarkAnalyticsComplete records which post-sync analytics steps ran.
func (l *SyncLog) MarkAnalyticsComplete(baselines, patterns, insights bool) {
	l.BaselinesRecalculated = baselines
	l.PatternsDetected = patterns
	l.InsightsGenerated = insights
}
