// Package analytics defines the post-sync processing hooks invoked after
// new data lands for a user.
package analytics

import (
	"context"

	"github.com/vitalsync/internal/logging"
)

// Analytics is invoked after a successful sync to refresh derived data.
type Analytics interface {
	// RecalculateBaselines refreshes the user's rolling baselines.
	RecalculateBaselines(ctx context.Context, userID string) error
	// DetectPatterns runs pattern detection over the user's recent data.
	DetectPatterns(ctx context.Context, userID string) error
	// GenerateInsights produces user-facing insights from detected patterns.
	GenerateInsights(ctx context.Context, userID string) error
}

// NoopAnalytics satisfies Analytics without doing any work. It stands in
// until the analytics pipeline is deployed alongside this service.
type NoopAnalytics struct{}

// NewNoopAnalytics creates a no-op analytics implementation
func NewNoopAnalytics() *NoopAnalytics {
	return &NoopAnalytics{}
}

func (a *NoopAnalytics) RecalculateBaselines(ctx context.Context, userID string) error {
	logging.FromContext(ctx).WithField("userId", userID).Debug("Analytics baselines skipped (noop)")
	return nil
}

func (a *NoopAnalytics) DetectPatterns(ctx context.Context, userID string) error {
	return nil
}

func (a *NoopAnalytics) GenerateInsights(ctx context.Context, userID string) error {
	return nil
}
