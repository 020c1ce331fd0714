package service

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/vitalsync/internal/types"
)

func TestPriorityForStaleness(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		staleness time.Duration
		want      types.SyncPriority
	}{
		{"just synced", 5 * time.Minute, types.PriorityLow},
		{"under six hours", 5 * time.Hour, types.PriorityLow},
		{"exactly six hours", 6 * time.Hour, types.PriorityNormal},
		{"eleven hours", 11 * time.Hour, types.PriorityNormal},
		{"exactly twelve hours", 12 * time.Hour, types.PriorityHigh},
		{"one day", 24 * time.Hour, types.PriorityHigh},
		{"exactly two days", 48 * time.Hour, types.PriorityCritical},
		{"one week", 7 * 24 * time.Hour, types.PriorityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lastSynced := now.Add(-tt.staleness)
			assert.Equal(t, tt.want, PriorityForStaleness(&lastSynced, now))
		})
	}
}

func TestPriorityForStalenessNeverSynced(t *testing.T) {
	assert.Equal(t, types.PriorityCritical, PriorityForStaleness(nil, time.Now().UTC()))
}

func TestPriorityMonotonicInStaleness(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("a staler user never gets a lower priority", prop.ForAll(
		func(minutesA, minutesB int) bool {
			a := now.Add(-time.Duration(minutesA) * time.Minute)
			b := now.Add(-time.Duration(minutesB) * time.Minute)
			rankA := PriorityForStaleness(&a, now).Rank()
			rankB := PriorityForStaleness(&b, now).Rank()
			if minutesA >= minutesB {
				return rankA >= rankB
			}
			return rankA <= rankB
		},
		gen.IntRange(0, 14*24*60),
		gen.IntRange(0, 14*24*60),
	))

	properties.Property("never-synced outranks everyone", prop.ForAll(
		func(minutes int) bool {
			synced := now.Add(-time.Duration(minutes) * time.Minute)
			return PriorityForStaleness(nil, now).Rank() >= PriorityForStaleness(&synced, now).Rank()
		},
		gen.IntRange(0, 14*24*60),
	))

	properties.TestingRun(t)
}
