package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalsync/internal/types"
)

func intPtr(v int) *int {
	return &v
}

func TestNewSyncLog(t *testing.T) {
	priority := types.PriorityHigh
	log := NewSyncLog("u-1", "j-1", types.TriggerScheduler, &priority)

	assert.Equal(t, "u-1", log.UserID)
	assert.Equal(t, "j-1", log.JobID)
	assert.Equal(t, types.SyncStatusStarted, log.Status)
	require.NotNil(t, log.Priority)
	assert.Equal(t, types.PriorityHigh, *log.Priority)
	assert.False(t, log.IsComplete())
	assert.False(t, log.HasError())
	assert.Nil(t, log.CompletedAt)
}

func TestSyncLogCompletion(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		log := NewSyncLog("u-1", "j-1", types.TriggerManual, nil)
		log.StartedAt = time.Now().UTC().Add(-2 * time.Second)

		log.CompleteSuccess(map[string]int{"sleep": 4}, 5)

		assert.Equal(t, types.SyncStatusSuccess, log.Status)
		assert.True(t, log.IsComplete())
		assert.True(t, log.IsSuccessful())
		assert.False(t, log.HasError())
		assert.Equal(t, 5, log.APICallsMade)
		require.NotNil(t, log.DurationMs)
		assert.GreaterOrEqual(t, *log.DurationMs, int64(2000))
	})

	t.Run("partial", func(t *testing.T) {
		log := NewSyncLog("u-1", "j-1", types.TriggerManual, nil)
		log.CompletePartial(map[string]int{"sleep": 4}, 3, types.ErrAPITimeout, "request timed out")

		assert.Equal(t, types.SyncStatusPartial, log.Status)
		assert.True(t, log.IsComplete())
		assert.False(t, log.IsSuccessful())
		assert.True(t, log.HasError())
		assert.Equal(t, map[string]int{"sleep": 4}, log.RecordsSynced)
		require.NotNil(t, log.ErrorType)
		assert.Equal(t, types.ErrAPITimeout, *log.ErrorType)
	})

	t.Run("failed", func(t *testing.T) {
		log := NewSyncLog("u-1", "j-1", types.TriggerManual, nil)
		log.CompleteFailed(types.ErrTokenRevoked, "authorization revoked", map[string]interface{}{"status_code": 401})

		assert.Equal(t, types.SyncStatusFailed, log.Status)
		assert.True(t, log.HasError())
		assert.Equal(t, 401, log.ErrorDetails["status_code"])
	})

	t.Run("skipped", func(t *testing.T) {
		log := NewSyncLog("u-1", "j-1", types.TriggerScheduler, nil)
		log.CompleteSkipped("no access token on file")

		assert.Equal(t, types.SyncStatusSkipped, log.Status)
		assert.True(t, log.IsComplete())
		assert.False(t, log.HasError())
		require.NotNil(t, log.ErrorMessage)
		assert.Equal(t, "no access token on file", *log.ErrorMessage)
	})
}

func TestUpdateRateLimits(t *testing.T) {
	log := NewSyncLog("u-1", "j-1", types.TriggerManual, nil)

	log.UpdateRateLimits(intPtr(100), intPtr(4000), intPtr(150), intPtr(5000))
	require.NotNil(t, log.RateLimitRemaining15m)
	assert.Equal(t, 100, *log.RateLimitRemaining15m)
	assert.Equal(t, 5000, *log.RateLimitLimit24h)

	// nil fields never erase known values
	log.UpdateRateLimits(intPtr(85), nil, nil, nil)
	assert.Equal(t, 85, *log.RateLimitRemaining15m)
	assert.Equal(t, 4000, *log.RateLimitRemaining24h)
	assert.Equal(t, 150, *log.RateLimitLimit15m)
}

func TestMarkAnalyticsComplete(t *testing.T) {
	log := NewSyncLog("u-1", "j-1", types.TriggerManual, nil)
	log.MarkAnalyticsComplete(true, false, true)

	assert.True(t, log.BaselinesRecalculated)
	assert.False(t, log.PatternsDetected)
	assert.True(t, log.InsightsGenerated)
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, types.SyncStatusStarted.IsTerminal())
	for _, s := range []types.SyncStatus{
		types.SyncStatusSuccess,
		types.SyncStatusPartial,
		types.SyncStatusFailed,
		types.SyncStatusSkipped,
	} {
		assert.True(t, s.IsTerminal(), string(s))
	}
}

func TestUserHasCredential(t *testing.T) {
	user := &User{ID: "u-1"}
	assert.False(t, user.HasCredential())

	empty := ""
	user.AccessTokenEncrypted = &empty
	assert.False(t, user.HasCredential())

	token := "ciphertext"
	user.AccessTokenEncrypted = &token
	assert.True(t, user.HasCredential())
}
