// Package ratelimit tracks the upstream API's dual-window quota and decides
// whether another user sync fits within the remaining budget.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vitalsync/internal/models"
)

// Default tracker configuration values.
const (
	// DefaultCallsPerSyncEstimate is the expected API call cost of one user sync.
	DefaultCallsPerSyncEstimate = 15
	// DefaultSafetyBufferPercent is the fraction of quota held back from admission.
	DefaultSafetyBufferPercent = 0.1
	// DefaultBatchSize is used when the 15-minute window state is unknown.
	DefaultBatchSize = 10
)

// Wait durations when a quota window is exhausted.
const (
	wait15mWindow = 15 * time.Minute
	wait24hWindow = time.Hour
)

// TrackerConfig holds configuration for the quota tracker.
type TrackerConfig struct {
	// CallsPerSyncEstimate is the expected API calls per user sync. Default: 15.
	CallsPerSyncEstimate int

	// SafetyBufferPercent is the quota fraction held in reserve (0.0-1.0). Default: 0.1.
	SafetyBufferPercent float64

	// DefaultBatchSize is the batch size when quota state is unknown. Default: 10.
	DefaultBatchSize int
}

// Validate checks if the configuration is valid.
func (c *TrackerConfig) Validate() error {
	if c.CallsPerSyncEstimate < 0 {
		return errors.New("calls per sync estimate cannot be negative")
	}
	if c.SafetyBufferPercent < 0 || c.SafetyBufferPercent >= 1 {
		return fmt.Errorf("safety buffer percent must be in [0, 1), got %v", c.SafetyBufferPercent)
	}
	if c.DefaultBatchSize < 0 {
		return errors.New("default batch size cannot be negative")
	}
	return nil
}

// Tracker holds the last observed quota state for both upstream windows.
// Fields are nil until the first sync reports quota headers; unknown state
// admits syncs optimistically.
type Tracker struct {
	callsPerSyncEstimate int
	safetyBufferPercent  float64
	defaultBatchSize     int

	mu           sync.RWMutex
	remaining15m *int
	remaining24h *int
	limit15m     *int
	limit24h     *int
	lastUpdated  *time.Time
}

// Stats is a point-in-time view of the tracker state.
type Stats struct {
	Remaining15m *int       `json:"remaining15m"`
	Remaining24h *int       `json:"remaining24h"`
	Limit15m     *int       `json:"limit15m"`
	Limit24h     *int       `json:"limit24h"`
	LastUpdated  *time.Time `json:"lastUpdated"`
	CanSyncNow   bool       `json:"canSyncNow"`
	BatchSize    int        `json:"batchSize"`
}

// NewTracker creates a tracker with the given configuration.
// Returns an error if the configuration is invalid.
func NewTracker(cfg *TrackerConfig) (*Tracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	callsPerSync := cfg.CallsPerSyncEstimate
	if callsPerSync == 0 {
		callsPerSync = DefaultCallsPerSyncEstimate
	}

	safetyBuffer := cfg.SafetyBufferPercent
	if safetyBuffer == 0 {
		safetyBuffer = DefaultSafetyBufferPercent
	}

	batchSize := cfg.DefaultBatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}

	return &Tracker{
		callsPerSyncEstimate: callsPerSync,
		safetyBufferPercent:  safetyBuffer,
		defaultBatchSize:     batchSize,
	}, nil
}

// UpdateFromSyncLog absorbs quota fields from a completed sync log entry.
// Nil fields leave the corresponding window state untouched, so partial
// header coverage never erases known state.
func (t *Tracker) UpdateFromSyncLog(log *models.SyncLog) {
	if log == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Values are copied so a caller mutating the log afterwards cannot
	// reach into tracker state.
	if log.RateLimitRemaining15m != nil {
		t.remaining15m = copyInt(log.RateLimitRemaining15m)
	}
	if log.RateLimitRemaining24h != nil {
		t.remaining24h = copyInt(log.RateLimitRemaining24h)
	}
	if log.RateLimitLimit15m != nil {
		t.limit15m = copyInt(log.RateLimitLimit15m)
	}
	if log.RateLimitLimit24h != nil {
		t.limit24h = copyInt(log.RateLimitLimit24h)
	}

	now := time.Now().UTC()
	t.lastUpdated = &now
}

// CanSyncNow reports whether one more sync fits the remaining budget in
// both windows. Unknown windows are treated optimistically.
func (t *Tracker) CanSyncNow() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.canSyncLocked()
}

func (t *Tracker) canSyncLocked() bool {
	required := t.requiredCalls()

	if t.remaining15m != nil && float64(*t.remaining15m) < required {
		return false
	}
	if t.remaining24h != nil && float64(*t.remaining24h) < required {
		return false
	}
	return true
}

// requiredCalls is the estimated cost of one sync plus the safety buffer
func (t *Tracker) requiredCalls() float64 {
	return float64(t.callsPerSyncEstimate) * (1 + t.safetyBufferPercent)
}

// WaitTime returns how long to back off before the next sync attempt.
// Zero means a sync can proceed now. The short window recovers in 15
// minutes; the daily window gets a one-hour backoff.
func (t *Tracker) WaitTime() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	required := t.requiredCalls()

	if t.remaining15m != nil && float64(*t.remaining15m) < required {
		return wait15mWindow
	}
	if t.remaining24h != nil && float64(*t.remaining24h) < required {
		return wait24hWindow
	}
	return 0
}

// SafeBatchSize returns how many users can be synced in one cycle without
// exhausting the 15-minute window, holding back the safety buffer.
// Always at least 1 when quota is known, so progress never fully stalls.
func (t *Tracker) SafeBatchSize() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.safeBatchSizeLocked()
}

func (t *Tracker) safeBatchSizeLocked() int {
	if t.remaining15m == nil {
		return t.defaultBatchSize
	}

	usable := float64(*t.remaining15m) * (1 - t.safetyBufferPercent)
	batch := int(math.Floor(usable / float64(t.callsPerSyncEstimate)))
	if batch < 1 {
		return 1
	}
	return batch
}

// GetStats returns a snapshot of the tracker state
func (t *Tracker) GetStats() *Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return &Stats{
		Remaining15m: copyInt(t.remaining15m),
		Remaining24h: copyInt(t.remaining24h),
		Limit15m:     copyInt(t.limit15m),
		Limit24h:     copyInt(t.limit24h),
		LastUpdated:  t.lastUpdated,
		CanSyncNow:   t.canSyncLocked(),
		BatchSize:    t.safeBatchSizeLocked(),
	}
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
