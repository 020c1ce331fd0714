package service

import (
	"time"

	"github.com/vitalsync/internal/types"
)

// Staleness thresholds for priority assignment.
const (
	criticalStaleness = 48 * time.Hour
	highStaleness     = 12 * time.Hour
	normalStaleness   = 6 * time.Hour
)

// PriorityForStaleness assigns a sync priority from how long ago the user
// was last synced. Users that have never synced are critical so their first
// sync happens as soon as possible.
func PriorityForStaleness(lastSyncedAt *time.Time, now time.Time) types.SyncPriority {
	if lastSyncedAt == nil {
		return types.PriorityCritical
	}
	staleness := now.Sub(*lastSyncedAt)
	switch {
	case staleness >= criticalStaleness:
		return types.PriorityCritical
	case staleness >= highStaleness:
		return types.PriorityHigh
	case staleness >= normalStaleness:
		return types.PriorityNormal
	default:
		return types.PriorityLow
	}
}
