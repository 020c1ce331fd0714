// Package provider implements the client for the upstream wearable data API.
package provider

import (
	"context"
	"time"
)

// RateLimitSnapshot holds the quota headers returned by the upstream API.
// Nil fields mean the header was absent from the response.
type RateLimitSnapshot struct {
	Remaining15m *int
	Remaining24h *int
	Limit15m     *int
	Limit24h     *int
}

// SyncResult summarizes one completed user sync against the upstream API.
type SyncResult struct {
	RecordsByCategory map[string]int
	APICalls          int
	RateLimit         RateLimitSnapshot
}

// TotalRecords returns the sum of records across all categories
func (r *SyncResult) TotalRecords() int {
	total := 0
	for _, n := range r.RecordsByCategory {
		total += n
	}
	return total
}

// DataSyncProvider fetches wearable data for a user from the upstream API.
type DataSyncProvider interface {
	// SyncUser pulls all configured data categories for the user identified
	// by the given access token, covering the lookback window ending now.
	SyncUser(ctx context.Context, accessToken string, lookback time.Duration) (*SyncResult, error)
}
