package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vitalsync/internal/logging"
	"github.com/vitalsync/internal/provider"
	"github.com/vitalsync/internal/types"
)

// SyncError is a classified sync failure. It carries enough structure for
// the orchestrator to decide whether to reschedule the user and for the
// sync log to record what happened.
type SyncError struct {
	Type              types.SyncErrorType
	Message           string
	Details           map[string]interface{}
	RetryAfterSeconds *int
	IsTransient       bool
	Err               error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func newSyncError(errType types.SyncErrorType, message string, transient bool, retryAfter *int, cause error) *SyncError {
	return &SyncError{
		Type:              errType,
		Message:           message,
		Details:           make(map[string]interface{}),
		RetryAfterSeconds: retryAfter,
		IsTransient:       transient,
		Err:               cause,
	}
}

func seconds(n int) *int {
	return &n
}

// Classify maps an arbitrary error from a sync attempt onto the error
// taxonomy. The context map is merged into the resulting Details so callers
// can attach user IDs, endpoints, or anything else useful for debugging.
func Classify(err error, context map[string]interface{}) *SyncError {
	syncErr := classify(err)
	for k, v := range context {
		syncErr.Details[k] = v
	}
	return syncErr
}

func classify(err error) *SyncError {
	// Already classified errors pass through unchanged.
	var existing *SyncError
	if errors.As(err, &existing) {
		return existing
	}

	var rateLimitErr *provider.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return classifyRateLimit(rateLimitErr)
	}

	var authErr *provider.AuthError
	if errors.As(err, &authErr) {
		return classifyAuth(authErr)
	}

	var timeoutErr *provider.TimeoutError
	if errors.As(err, &timeoutErr) {
		se := newSyncError(types.ErrAPITimeout, timeoutErr.Error(), true, seconds(60), err)
		se.Details["endpoint"] = timeoutErr.Endpoint
		return se
	}

	var connErr *provider.ConnectionError
	if errors.As(err, &connErr) {
		se := newSyncError(types.ErrAPIUnavailable, connErr.Error(), true, seconds(300), err)
		se.Details["endpoint"] = connErr.Endpoint
		return se
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr)
	}

	var transformErr *provider.TransformError
	if errors.As(err, &transformErr) {
		se := newSyncError(types.ErrTransform, transformErr.Error(), false, nil, err)
		se.Details["endpoint"] = transformErr.Endpoint
		return se
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		se := newSyncError(types.ErrDatabase, pgErr.Message, true, seconds(60), err)
		se.Details["pg_code"] = pgErr.Code
		return se
	}

	var jsonTypeErr *json.UnmarshalTypeError
	var jsonSyntaxErr *json.SyntaxError
	var numErr *strconv.NumError
	if errors.As(err, &jsonTypeErr) || errors.As(err, &jsonSyntaxErr) || errors.As(err, &numErr) {
		return newSyncError(types.ErrTransform, err.Error(), false, nil, err)
	}

	logging.WithError(err).Error("unclassified sync error")
	return newSyncError(types.ErrInternal, err.Error(), true, seconds(300), err)
}

func classifyRateLimit(rlErr *provider.RateLimitError) *SyncError {
	retryAfter := int(rlErr.RetryAfter.Seconds())
	errType := types.ErrRateLimited15m
	if retryAfter > 900 {
		errType = types.ErrRateLimited24h
	}
	se := newSyncError(errType, rlErr.Error(), true, seconds(retryAfter), rlErr)
	se.Details["endpoint"] = rlErr.Endpoint
	return se
}

func classifyAuth(authErr *provider.AuthError) *SyncError {
	msg := strings.ToLower(authErr.Message)

	var se *SyncError
	switch {
	case strings.Contains(msg, "expired"):
		// A fresh token can be obtained immediately via refresh.
		se = newSyncError(types.ErrTokenExpired, authErr.Error(), true, seconds(0), authErr)
	case strings.Contains(msg, "revoked"):
		se = newSyncError(types.ErrTokenRevoked, authErr.Error(), false, nil, authErr)
	default:
		se = newSyncError(types.ErrTokenInvalid, authErr.Error(), false, nil, authErr)
	}
	se.Details["endpoint"] = authErr.Endpoint
	se.Details["status_code"] = authErr.StatusCode
	return se
}

func classifyStatus(apiErr *provider.APIError) *SyncError {
	var se *SyncError
	switch {
	case apiErr.StatusCode == 401:
		se = newSyncError(types.ErrTokenInvalid, apiErr.Error(), false, nil, apiErr)
	case apiErr.StatusCode == 429:
		se = newSyncError(types.ErrRateLimited15m, apiErr.Error(), true, seconds(900), apiErr)
	case apiErr.StatusCode >= 500:
		se = newSyncError(types.ErrAPIUnavailable, apiErr.Error(), true, seconds(300), apiErr)
	default:
		se = newSyncError(types.ErrAPIError, apiErr.Error(), false, nil, apiErr)
	}
	se.Details["endpoint"] = apiErr.Endpoint
	se.Details["status_code"] = apiErr.StatusCode
	return se
}
