package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vitalsync/internal/logging"
	"github.com/vitalsync/internal/models"
	"github.com/vitalsync/internal/retry"
)

const (
	archiveBufferSize    = 1024
	archiveBatchSize     = 100
	archiveFlushInterval = 10 * time.Second
)

// SyncLogArchive streams completed sync logs into ClickHouse for long-term
// analytical queries. Writes are asynchronous; the Postgres row remains the
// source of truth, so a dropped archive write is logged but never fails a sync.
type SyncLogArchive struct {
	db     *ClickHouseDB
	write  func(ctx context.Context, logs []*models.SyncLog) error
	buf    chan *models.SyncLog
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSyncLogArchive creates an archive writer backed by ClickHouse
func NewSyncLogArchive(db *ClickHouseDB) *SyncLogArchive {
	a := &SyncLogArchive{
		db:     db,
		buf:    make(chan *models.SyncLog, archiveBufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	a.write = a.writeBatch
	return a
}

// Start launches the background flush loop
func (a *SyncLogArchive) Start() {
	go a.run()
	logging.WithField("component", "syncLogArchive").Info("Sync log archive started")
}

// Stop drains buffered entries and waits for the final flush
func (a *SyncLogArchive) Stop() {
	close(a.stopCh)
	<-a.doneCh
	logging.WithField("component", "syncLogArchive").Info("Sync log archive stopped")
}

// Enqueue buffers a completed log for archival. Never blocks: when the
// buffer is full the entry is dropped and counted in the logs.
func (a *SyncLogArchive) Enqueue(log *models.SyncLog) {
	select {
	case a.buf <- log:
	default:
		logging.WithFields(map[string]interface{}{
			"jobId":  log.JobID,
			"userId": log.UserID,
		}).Warn("Archive buffer full, dropping sync log entry")
	}
}

func (a *SyncLogArchive) run() {
	defer close(a.doneCh)

	ticker := time.NewTicker(archiveFlushInterval)
	defer ticker.Stop()

	batch := make([]*models.SyncLog, 0, archiveBatchSize)

	retryCfg := &retry.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}

	flush := func() {
		if len(batch) == 0 {
			return
		}
		result := retry.WithExponentialBackoff(context.Background(), retryCfg, func(ctx context.Context, attempt int) error {
			return a.write(ctx, batch)
		})
		if !result.Success {
			logging.WithError(result.LastError).WithField("batchSize", len(batch)).Error("Failed to archive sync logs")
		}
		batch = batch[:0]
	}

	for {
		select {
		case log := <-a.buf:
			batch = append(batch, log)
			if len(batch) >= archiveBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-a.stopCh:
			// Drain whatever is still buffered before the final flush
			for {
				select {
				case log := <-a.buf:
					batch = append(batch, log)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (a *SyncLogArchive) writeBatch(ctx context.Context, logs []*models.SyncLog) error {
	batch, err := a.db.Conn().PrepareBatch(ctx, `
		INSERT INTO sync_log_archive (
			id, user_id, job_id, trigger, priority, started_at, completed_at, duration_ms,
			status, error_type, error_message, records_synced, api_calls_made,
			rate_limit_remaining_15m, rate_limit_remaining_24h
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, log := range logs {
		if err := batch.Append(archiveRow(log)...); err != nil {
			return fmt.Errorf("failed to append sync log %s: %w", log.JobID, err)
		}
	}

	return batch.Send()
}

// archiveRow converts a sync log into the column values the archive insert
// expects, in column order.
func archiveRow(log *models.SyncLog) []interface{} {
	var recordsJSON string
	if log.RecordsSynced != nil {
		data, err := json.Marshal(log.RecordsSynced)
		if err == nil {
			recordsJSON = string(data)
		}
	}

	var priority string
	if log.Priority != nil {
		priority = string(*log.Priority)
	}

	return []interface{}{
		log.ID,
		log.UserID,
		log.JobID,
		string(log.Trigger),
		priority,
		log.StartedAt,
		log.CompletedAt,
		log.DurationMs,
		string(log.Status),
		errorTypeString(log),
		errorMessageString(log),
		recordsJSON,
		int32(log.APICallsMade), // #nosec G115 - call counts are small
		nullableInt32(log.RateLimitRemaining15m),
		nullableInt32(log.RateLimitRemaining24h),
	}
}

// nullableInt32 converts an optional int into the form the clickhouse driver
// accepts for Nullable(Int32) columns; a plain *int is rejected by Append.
func nullableInt32(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v) // #nosec G115 - quota counters fit in int32
	return &n
}

func errorTypeString(log *models.SyncLog) string {
	if log.ErrorType == nil {
		return ""
	}
	return string(*log.ErrorType)
}

func errorMessageString(log *models.SyncLog) string {
	if log.ErrorMessage == nil {
		return ""
	}
	return *log.ErrorMessage
}
