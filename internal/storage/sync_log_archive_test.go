package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalsync/internal/models"
	"github.com/vitalsync/internal/types"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *batchRecorder) write(_ context.Context, logs []*models.SyncLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(logs))
	for i, log := range logs {
		ids[i] = log.JobID
	}
	r.batches = append(r.batches, ids)
	return nil
}

func (r *batchRecorder) totalLogs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func newRecordedArchive() (*SyncLogArchive, *batchRecorder) {
	rec := &batchRecorder{}
	a := &SyncLogArchive{
		buf:    make(chan *models.SyncLog, archiveBufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	a.write = rec.write
	return a, rec
}

func archivedLog(jobID string) *models.SyncLog {
	log := models.NewSyncLog("u-1", jobID, types.TriggerScheduler, nil)
	log.CompleteSuccess(map[string]int{"sleep": 2}, 5)
	return log
}

func TestArchiveStopDrainsBuffer(t *testing.T) {
	a, rec := newRecordedArchive()
	a.Start()

	for i := 0; i < 7; i++ {
		a.Enqueue(archivedLog(fmt.Sprintf("j-%d", i)))
	}
	a.Stop()

	assert.Equal(t, 7, rec.totalLogs())
}

func TestArchiveFlushesFullBatch(t *testing.T) {
	a, rec := newRecordedArchive()
	a.Start()
	defer a.Stop()

	for i := 0; i < archiveBatchSize; i++ {
		a.Enqueue(archivedLog(fmt.Sprintf("j-%d", i)))
	}

	// A full batch flushes without waiting for the ticker
	require.Eventually(t, func() bool {
		return rec.totalLogs() >= archiveBatchSize
	}, 2*time.Second, 10*time.Millisecond)
}

func TestArchiveRowQuotaColumnTypes(t *testing.T) {
	// Nullable(Int32) columns reject a plain *int, so the row must carry
	// *int32 values (nil when the header was absent).
	remaining15m := 85
	remaining24h := 4200
	log := archivedLog("j-1")
	log.UpdateRateLimits(&remaining15m, &remaining24h, nil, nil)

	row := archiveRow(log)
	require.Len(t, row, 15)

	r15, ok := row[13].(*int32)
	require.True(t, ok, "remaining_15m column is %T, want *int32", row[13])
	require.NotNil(t, r15)
	assert.Equal(t, int32(85), *r15)

	r24, ok := row[14].(*int32)
	require.True(t, ok, "remaining_24h column is %T, want *int32", row[14])
	require.NotNil(t, r24)
	assert.Equal(t, int32(4200), *r24)

	bare := archivedLog("j-2")
	row = archiveRow(bare)
	assert.Nil(t, row[13])
	assert.Nil(t, row[14])
}

func TestArchiveEnqueueNeverBlocksWhenFull(t *testing.T) {
	a, _ := newRecordedArchive()
	// No run loop: the buffer fills and overflow entries must be dropped
	for i := 0; i < archiveBufferSize+10; i++ {
		a.Enqueue(archivedLog(fmt.Sprintf("j-%d", i)))
	}
	assert.Len(t, a.buf, archiveBufferSize)
}
