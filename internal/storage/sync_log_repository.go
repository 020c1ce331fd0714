package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vitalsync/internal/models"
	"github.com/vitalsync/internal/types"
)

// ErrSyncLogNotFound is returned when a sync log lookup matches no row
var ErrSyncLogNotFound = errors.New("sync log not found")

// SyncLogRepository handles the append-only sync audit trail
type SyncLogRepository struct {
	db *PostgresDB
}

// NewSyncLogRepository creates a new sync log repository
func NewSyncLogRepository(db *PostgresDB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

// Create inserts a new sync log row and sets the generated ID on the model
func (r *SyncLogRepository) Create(ctx context.Context, log *models.SyncLog) error {
	errorDetailsJSON, recordsJSON, err := marshalLogJSON(log)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_logs (
			user_id, job_id, trigger, priority, started_at, completed_at, duration_ms,
			status, error_type, error_message, error_details,
			records_synced, api_calls_made,
			rate_limit_remaining_15m, rate_limit_remaining_24h,
			rate_limit_limit_15m, rate_limit_limit_24h,
			baselines_recalculated, patterns_detected, insights_generated
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id
	`

	err = r.db.Pool().QueryRow(ctx, query,
		log.UserID,
		log.JobID,
		log.Trigger,
		log.Priority,
		log.StartedAt,
		log.CompletedAt,
		log.DurationMs,
		log.Status,
		log.ErrorType,
		log.ErrorMessage,
		errorDetailsJSON,
		recordsJSON,
		log.APICallsMade,
		log.RateLimitRemaining15m,
		log.RateLimitRemaining24h,
		log.RateLimitLimit15m,
		log.RateLimitLimit24h,
		log.BaselinesRecalculated,
		log.PatternsDetected,
		log.InsightsGenerated,
	).Scan(&log.ID)

	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}

	return nil
}

// Update persists the mutable completion fields of an existing row
func (r *SyncLogRepository) Update(ctx context.Context, log *models.SyncLog) error {
	errorDetailsJSON, recordsJSON, err := marshalLogJSON(log)
	if err != nil {
		return err
	}

	query := `
		UPDATE sync_logs
		SET completed_at = $2, duration_ms = $3, status = $4,
			error_type = $5, error_message = $6, error_details = $7,
			records_synced = $8, api_calls_made = $9,
			rate_limit_remaining_15m = $10, rate_limit_remaining_24h = $11,
			rate_limit_limit_15m = $12, rate_limit_limit_24h = $13,
			baselines_recalculated = $14, patterns_detected = $15, insights_generated = $16
		WHERE id = $1
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		log.ID,
		log.CompletedAt,
		log.DurationMs,
		log.Status,
		log.ErrorType,
		log.ErrorMessage,
		errorDetailsJSON,
		recordsJSON,
		log.APICallsMade,
		log.RateLimitRemaining15m,
		log.RateLimitRemaining24h,
		log.RateLimitLimit15m,
		log.RateLimitLimit24h,
		log.BaselinesRecalculated,
		log.PatternsDetected,
		log.InsightsGenerated,
	)

	if err != nil {
		return fmt.Errorf("failed to update sync log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSyncLogNotFound
	}

	return nil
}

// GetByJobID retrieves a sync log by its job ID
func (r *SyncLogRepository) GetByJobID(ctx context.Context, jobID string) (*models.SyncLog, error) {
	query := selectLogColumns + `
		FROM sync_logs
		WHERE job_id = $1
	`

	row := r.db.Pool().QueryRow(ctx, query, jobID)
	log, err := scanLog(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSyncLogNotFound
		}
		return nil, fmt.Errorf("failed to get sync log: %w", err)
	}

	return log, nil
}

// ListByUser returns a user's sync history, newest first
func (r *SyncLogRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := selectLogColumns + `
		FROM sync_logs
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.SyncLog
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync logs: %w", err)
	}

	return logs, nil
}

// SyncLogStats aggregates sync outcomes over a time window
type SyncLogStats struct {
	Total         int     `json:"total"`
	Successful    int     `json:"successful"`
	Partial       int     `json:"partial"`
	Failed        int     `json:"failed"`
	Skipped       int     `json:"skipped"`
	InFlight      int     `json:"inFlight"`
	TotalAPICalls int     `json:"totalApiCalls"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

// StatsSince aggregates outcomes for all syncs started after the cutoff
func (r *SyncLogRepository) StatsSince(ctx context.Context, since time.Time) (*SyncLogStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4),
			COUNT(*) FILTER (WHERE status = $5),
			COUNT(*) FILTER (WHERE status = $6),
			COALESCE(SUM(api_calls_made), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM sync_logs
		WHERE started_at >= $1
	`

	var stats SyncLogStats
	err := r.db.Pool().QueryRow(ctx, query,
		since,
		types.SyncStatusSuccess,
		types.SyncStatusPartial,
		types.SyncStatusFailed,
		types.SyncStatusSkipped,
		types.SyncStatusStarted,
	).Scan(
		&stats.Total,
		&stats.Successful,
		&stats.Partial,
		&stats.Failed,
		&stats.Skipped,
		&stats.InFlight,
		&stats.TotalAPICalls,
		&stats.AvgDurationMs,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sync stats: %w", err)
	}

	return &stats, nil
}

// MarkStaleStarted fails rows stuck in the started state longer than the
// timeout, so a crashed sync never blocks the audit trail. Returns the
// number of rows swept.
func (r *SyncLogRepository) MarkStaleStarted(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	query := `
		UPDATE sync_logs
		SET status = $1,
			error_type = $2,
			error_message = 'sync did not complete before stale timeout',
			completed_at = NOW(),
			duration_ms = EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000
		WHERE status = $3 AND started_at < $4
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		types.SyncStatusFailed,
		types.ErrInternal,
		types.SyncStatusStarted,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale sync logs: %w", err)
	}

	return tag.RowsAffected(), nil
}

const selectLogColumns = `
		SELECT id, user_id, job_id, trigger, priority, started_at, completed_at, duration_ms,
			status, error_type, error_message, error_details,
			records_synced, api_calls_made,
			rate_limit_remaining_15m, rate_limit_remaining_24h,
			rate_limit_limit_15m, rate_limit_limit_24h,
			baselines_recalculated, patterns_detected, insights_generated
`

func marshalLogJSON(log *models.SyncLog) (errorDetails, records []byte, err error) {
	if log.ErrorDetails != nil {
		errorDetails, err = json.Marshal(log.ErrorDetails)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal error details: %w", err)
		}
	}
	if log.RecordsSynced != nil {
		records, err = json.Marshal(log.RecordsSynced)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal records synced: %w", err)
		}
	}
	return errorDetails, records, nil
}

func scanLog(row pgx.Row) (*models.SyncLog, error) {
	var log models.SyncLog
	var errorDetailsJSON, recordsJSON []byte

	err := row.Scan(
		&log.ID,
		&log.UserID,
		&log.JobID,
		&log.Trigger,
		&log.Priority,
		&log.StartedAt,
		&log.CompletedAt,
		&log.DurationMs,
		&log.Status,
		&log.ErrorType,
		&log.ErrorMessage,
		&errorDetailsJSON,
		&recordsJSON,
		&log.APICallsMade,
		&log.RateLimitRemaining15m,
		&log.RateLimitRemaining24h,
		&log.RateLimitLimit15m,
		&log.RateLimitLimit24h,
		&log.BaselinesRecalculated,
		&log.PatternsDetected,
		&log.InsightsGenerated,
	)
	if err != nil {
		return nil, err
	}

	if len(errorDetailsJSON) > 0 {
		if err := json.Unmarshal(errorDetailsJSON, &log.ErrorDetails); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error details: %w", err)
		}
	}
	if len(recordsJSON) > 0 {
		if err := json.Unmarshal(recordsJSON, &log.RecordsSynced); err != nil {
			return nil, fmt.Errorf("failed to unmarshal records synced: %w", err)
		}
	}

	return &log, nil
}
