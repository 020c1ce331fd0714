// Package service implements sync orchestration: user selection, admission
// control against upstream quotas, error classification, and the audit trail.
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vitalsync/internal/analytics"
	"github.com/vitalsync/internal/config"
	"github.com/vitalsync/internal/logging"
	"github.com/vitalsync/internal/models"
	"github.com/vitalsync/internal/provider"
	"github.com/vitalsync/internal/ratelimit"
	"github.com/vitalsync/internal/storage"
	"github.com/vitalsync/internal/types"
)

const (
	statsCacheKey = "vitalsync:sync:stats"
	statsCacheTTL = 60 * time.Second
)

// UserStore is the subset of the user repository the orchestrator needs.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	ListSyncCandidates(ctx context.Context, limit int) ([]*models.User, error)
	UpdateLastSyncedAt(ctx context.Context, userID string, syncedAt time.Time) error
	ClearAccessToken(ctx context.Context, userID string) error
}

// SyncLogStore is the subset of the sync log repository the orchestrator needs.
type SyncLogStore interface {
	Create(ctx context.Context, log *models.SyncLog) error
	Update(ctx context.Context, log *models.SyncLog) error
	GetByJobID(ctx context.Context, jobID string) (*models.SyncLog, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.SyncLog, error)
	StatsSince(ctx context.Context, since time.Time) (*storage.SyncLogStats, error)
	MarkStaleStarted(ctx context.Context, olderThan time.Duration) (int64, error)
}

// TokenDecrypter recovers a plaintext access token from its stored form.
type TokenDecrypter interface {
	Decrypt(encrypted string) (string, error)
}

// StatsCache caches computed stats reports. A nil cache disables caching.
type StatsCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// LogArchive receives completed sync logs for long-term analytical storage.
type LogArchive interface {
	Enqueue(log *models.SyncLog)
}

// OrchestratorDeps bundles the collaborators a SyncOrchestrator works with.
// Cache and Archive are optional.
type OrchestratorDeps struct {
	Users     UserStore
	Logs      SyncLogStore
	Vault     TokenDecrypter
	Provider  provider.DataSyncProvider
	Tracker   *ratelimit.Tracker
	Analytics analytics.Analytics
	Cache     StatsCache
	Archive   LogArchive
}

// SyncOrchestrator coordinates a full sync cycle: pick users, check the
// upstream quota budget, sync each user, classify failures, and persist an
// audit row for every attempt.
type SyncOrchestrator struct {
	cfg       *config.Config
	users     UserStore
	logs      SyncLogStore
	vault     TokenDecrypter
	provider  provider.DataSyncProvider
	tracker   *ratelimit.Tracker
	analytics analytics.Analytics
	cache     StatsCache
	archive   LogArchive
}

// NewSyncOrchestrator creates a sync orchestrator
func NewSyncOrchestrator(cfg *config.Config, deps OrchestratorDeps) *SyncOrchestrator {
	a := deps.Analytics
	if a == nil {
		a = analytics.NewNoopAnalytics()
	}
	return &SyncOrchestrator{
		cfg:       cfg,
		users:     deps.Users,
		logs:      deps.Logs,
		vault:     deps.Vault,
		provider:  deps.Provider,
		tracker:   deps.Tracker,
		analytics: a,
		cache:     deps.Cache,
		archive:   deps.Archive,
	}
}

// CycleStats summarizes one ProcessSyncQueue run.
type CycleStats struct {
	Trigger         types.SyncTrigger `json:"trigger"`
	StartedAt       time.Time         `json:"startedAt"`
	CompletedAt     time.Time         `json:"completedAt"`
	DurationMs      int64             `json:"durationMs"`
	Deferred        bool              `json:"deferred"`
	WaitTime        time.Duration     `json:"waitTime,omitempty"`
	StaleRowsClosed int64             `json:"staleRowsClosed"`
	UsersSelected   int               `json:"usersSelected"`
	UsersSucceeded  int               `json:"usersSucceeded"`
	UsersPartial    int               `json:"usersPartial"`
	UsersFailed     int               `json:"usersFailed"`
	UsersSkipped    int               `json:"usersSkipped"`
	UsersDeferred   int               `json:"usersDeferred"`
	APICalls        int               `json:"apiCalls"`
}

// ProcessSyncQueue runs one sync cycle: closes stale in-flight rows, selects
// the stalest users up to the batch size the quota budget allows, and syncs
// them one at a time. maxUsers caps the batch when positive, otherwise the
// configured cap or the budget-derived batch size applies.
func (o *SyncOrchestrator) ProcessSyncQueue(ctx context.Context, trigger types.SyncTrigger, maxUsers int) (*CycleStats, error) {
	if !o.cfg.Sync.Enabled {
		return nil, &types.ServiceError{Code: "SYNC_DISABLED", Message: "sync is disabled by configuration"}
	}

	stats := &CycleStats{
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		stats.CompletedAt = time.Now().UTC()
		stats.DurationMs = stats.CompletedAt.Sub(stats.StartedAt).Milliseconds()
	}()

	// A deferred cycle returns before any store access.
	if !o.tracker.CanSyncNow() {
		stats.Deferred = true
		stats.WaitTime = o.tracker.WaitTime()
		logging.WithFields(map[string]interface{}{
			"trigger":   string(trigger),
			"wait_time": stats.WaitTime.String(),
		}).Warn("Sync cycle deferred, quota budget exhausted")
		return stats, nil
	}

	closed, err := o.logs.MarkStaleStarted(ctx, o.cfg.Sync.StaleStartedTimeout)
	if err != nil {
		logging.WithError(err).Warn("Failed to close stale in-flight sync logs")
	} else if closed > 0 {
		logging.WithField("count", closed).Warn("Closed stale in-flight sync logs")
		stats.StaleRowsClosed = closed
	}

	batchSize := o.batchSize(maxUsers)
	candidates, err := o.users.ListSyncCandidates(ctx, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync candidates: %w", err)
	}
	if o.cfg.Sync.OrderByPriority {
		o.sortByPriority(candidates)
	}
	stats.UsersSelected = len(candidates)

	logging.WithFields(map[string]interface{}{
		"trigger":    string(trigger),
		"batch_size": batchSize,
		"selected":   len(candidates),
	}).Info("Starting sync cycle")

	for i, user := range candidates {
		if ctx.Err() != nil {
			stats.UsersDeferred = len(candidates) - i
			return stats, ctx.Err()
		}
		// Quota may be consumed mid-cycle by the users already synced.
		if !o.tracker.CanSyncNow() {
			stats.UsersDeferred = len(candidates) - i
			logging.WithFields(map[string]interface{}{
				"deferred":  stats.UsersDeferred,
				"wait_time": o.tracker.WaitTime().String(),
			}).Warn("Stopping sync cycle early, quota budget exhausted")
			break
		}

		log, err := o.syncUser(ctx, user, trigger)
		if log != nil {
			stats.APICalls += log.APICallsMade
			switch log.Status {
			case types.SyncStatusSuccess:
				stats.UsersSucceeded++
			case types.SyncStatusPartial:
				stats.UsersPartial++
			case types.SyncStatusFailed:
				stats.UsersFailed++
			case types.SyncStatusSkipped:
				stats.UsersSkipped++
			}
		}
		if err != nil {
			// One user failing must not stop the rest of the batch.
			logging.WithError(err).WithField("user_id", user.ID).Error("User sync failed")
		}
	}

	logging.WithFields(map[string]interface{}{
		"trigger":   string(trigger),
		"succeeded": stats.UsersSucceeded,
		"partial":   stats.UsersPartial,
		"failed":    stats.UsersFailed,
		"skipped":   stats.UsersSkipped,
		"deferred":  stats.UsersDeferred,
		"api_calls": stats.APICalls,
	}).Info("Sync cycle complete")

	return stats, nil
}

// SyncUser syncs a single user on demand, outside of a scheduled cycle.
// It still records an audit row and still respects the quota tracker state,
// but does not perform admission control: a manual sync is always attempted.
func (o *SyncOrchestrator) SyncUser(ctx context.Context, userID string, trigger types.SyncTrigger) (*models.SyncLog, error) {
	user, err := o.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return o.syncUser(ctx, user, trigger)
}

// syncUser performs one sync attempt and always leaves behind a persisted,
// terminal audit row unless the initial insert itself fails.
func (o *SyncOrchestrator) syncUser(ctx context.Context, user *models.User, trigger types.SyncTrigger) (*models.SyncLog, error) {
	priority := PriorityForStaleness(user.LastSyncedAt, time.Now().UTC())
	log := models.NewSyncLog(user.ID, uuid.New().String(), trigger, &priority)

	if !user.HasCredential() {
		log.CompleteSkipped("no access token on file")
		if err := o.logs.Create(ctx, log); err != nil {
			return nil, fmt.Errorf("failed to record skipped sync: %w", err)
		}
		o.publish(log)
		return log, nil
	}

	if err := o.logs.Create(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to create sync log: %w", err)
	}

	token, err := o.vault.Decrypt(*user.AccessTokenEncrypted)
	if err != nil {
		return o.completeFailed(ctx, log, Classify(err, o.errContext(user, log)))
	}

	result, err := o.provider.SyncUser(ctx, token, o.lookback())
	if result != nil {
		log.UpdateRateLimits(
			result.RateLimit.Remaining15m,
			result.RateLimit.Remaining24h,
			result.RateLimit.Limit15m,
			result.RateLimit.Limit24h,
		)
	}

	if err != nil {
		classified := Classify(err, o.errContext(user, log))
		o.revokeCredentialIfDead(ctx, user.ID, classified)

		if result != nil && len(result.RecordsByCategory) > 0 {
			log.CompletePartial(result.RecordsByCategory, result.APICalls, classified.Type, classified.Message)
			log.ErrorDetails = classified.Details
			return o.finish(ctx, log), classified
		}
		if result != nil {
			log.APICallsMade = result.APICalls
		}
		return o.completeFailed(ctx, log, classified)
	}

	log.CompleteSuccess(result.RecordsByCategory, result.APICalls)
	o.runAnalytics(ctx, user.ID, log)

	if err := o.users.UpdateLastSyncedAt(ctx, user.ID, *log.CompletedAt); err != nil {
		logging.WithError(err).WithField("user_id", user.ID).Error("Failed to update last synced timestamp")
	}

	return o.finish(ctx, log), nil
}

func (o *SyncOrchestrator) completeFailed(ctx context.Context, log *models.SyncLog, classified *SyncError) (*models.SyncLog, error) {
	log.CompleteFailed(classified.Type, classified.Message, classified.Details)
	return o.finish(ctx, log), classified
}

// finish persists the terminal audit row, feeds quota observations back to
// the tracker, and hands the row to the archive. Persistence failures are
// logged but do not alter the outcome already decided for the caller.
func (o *SyncOrchestrator) finish(ctx context.Context, log *models.SyncLog) *models.SyncLog {
	if err := o.logs.Update(ctx, log); err != nil {
		logging.WithError(err).WithFields(map[string]interface{}{
			"job_id": log.JobID,
			"status": string(log.Status),
		}).Error("Failed to persist sync log completion")
	}
	o.tracker.UpdateFromSyncLog(log)
	o.publish(log)
	return log
}

func (o *SyncOrchestrator) publish(log *models.SyncLog) {
	if o.archive != nil {
		o.archive.Enqueue(log)
	}
}

// revokeCredentialIfDead clears the stored token when the failure means the
// credential can never work again without the user re-authorizing.
func (o *SyncOrchestrator) revokeCredentialIfDead(ctx context.Context, userID string, classified *SyncError) {
	if classified.Type != types.ErrTokenInvalid && classified.Type != types.ErrTokenRevoked {
		return
	}
	if err := o.users.ClearAccessToken(ctx, userID); err != nil {
		logging.WithError(err).WithField("user_id", userID).Error("Failed to clear dead access token")
	} else {
		logging.WithFields(map[string]interface{}{
			"user_id":    userID,
			"error_type": string(classified.Type),
		}).Warn("Cleared access token, user must re-authorize")
	}
}

// runAnalytics runs best-effort post-sync analytics. Failures are logged and
// reflected in the audit row but never fail the sync.
func (o *SyncOrchestrator) runAnalytics(ctx context.Context, userID string, log *models.SyncLog) {
	baselines := o.analyticsStep(ctx, userID, "baselines", o.analytics.RecalculateBaselines)
	patterns := o.analyticsStep(ctx, userID, "patterns", o.analytics.DetectPatterns)
	insights := o.analyticsStep(ctx, userID, "insights", o.analytics.GenerateInsights)
	log.MarkAnalyticsComplete(baselines, patterns, insights)
}

func (o *SyncOrchestrator) analyticsStep(ctx context.Context, userID, step string, fn func(context.Context, string) error) bool {
	if err := fn(ctx, userID); err != nil {
		logging.WithError(err).WithFields(map[string]interface{}{
			"user_id": userID,
			"step":    step,
		}).Warn("Post-sync analytics step failed")
		return false
	}
	return true
}

// SyncStatsReport combines persisted audit trail stats with the live quota
// tracker state.
type SyncStatsReport struct {
	Since       time.Time             `json:"since"`
	GeneratedAt time.Time             `json:"generatedAt"`
	Logs        *storage.SyncLogStats `json:"logs"`
	RateLimit   *ratelimit.Stats      `json:"rateLimit"`
}

// GetSyncStats computes aggregate stats over the given window, serving from
// cache when a recent report exists.
func (o *SyncOrchestrator) GetSyncStats(ctx context.Context, window time.Duration) (*SyncStatsReport, error) {
	cacheKey := fmt.Sprintf("%s:%s", statsCacheKey, window)
	if o.cache != nil {
		var cached SyncStatsReport
		if err := o.cache.GetJSON(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	now := time.Now().UTC()
	logStats, err := o.logs.StatsSince(ctx, now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to compute sync stats: %w", err)
	}

	report := &SyncStatsReport{
		Since:       now.Add(-window),
		GeneratedAt: now,
		Logs:        logStats,
		RateLimit:   o.tracker.GetStats(),
	}

	if o.cache != nil {
		if err := o.cache.SetJSON(ctx, cacheKey, report, statsCacheTTL); err != nil {
			logging.WithError(err).Warn("Failed to cache sync stats report")
		}
	}

	return report, nil
}

// GetSyncLog looks up a single sync attempt by its job ID.
func (o *SyncOrchestrator) GetSyncLog(ctx context.Context, jobID string) (*models.SyncLog, error) {
	return o.logs.GetByJobID(ctx, jobID)
}

// GetUserSyncHistory returns the most recent sync logs for a user.
func (o *SyncOrchestrator) GetUserSyncHistory(ctx context.Context, userID string, limit, offset int) ([]*models.SyncLog, error) {
	if _, err := o.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	return o.logs.ListByUser(ctx, userID, limit, offset)
}

// Tracker exposes the quota tracker for status reporting.
func (o *SyncOrchestrator) Tracker() *ratelimit.Tracker {
	return o.tracker
}

func (o *SyncOrchestrator) batchSize(maxUsers int) int {
	if maxUsers > 0 {
		return maxUsers
	}
	if o.cfg.Sync.MaxUsersPerRun > 0 {
		return o.cfg.Sync.MaxUsersPerRun
	}
	return o.tracker.SafeBatchSize()
}

func (o *SyncOrchestrator) lookback() time.Duration {
	return time.Duration(o.cfg.Sync.DaysLookback) * 24 * time.Hour
}

// sortByPriority reorders candidates so higher priority users sync first.
// The sort is stable so the staleness order from the query breaks ties.
func (o *SyncOrchestrator) sortByPriority(users []*models.User) {
	now := time.Now().UTC()
	sort.SliceStable(users, func(i, j int) bool {
		pi := PriorityForStaleness(users[i].LastSyncedAt, now)
		pj := PriorityForStaleness(users[j].LastSyncedAt, now)
		return pi.Rank() > pj.Rank()
	})
}

func (o *SyncOrchestrator) errContext(user *models.User, log *models.SyncLog) map[string]interface{} {
	return map[string]interface{}{
		"user_id": user.ID,
		"job_id":  log.JobID,
	}
}
