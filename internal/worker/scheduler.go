// Package worker runs the background sync scheduler.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vitalsync/internal/config"
	"github.com/vitalsync/internal/service"
	"github.com/vitalsync/internal/types"
)

// ErrCycleInProgress is returned when a manual trigger arrives while a sync
// cycle is already running.
var ErrCycleInProgress = &types.ServiceError{
	Code:    "CYCLE_IN_PROGRESS",
	Message: "a sync cycle is already in progress",
}

// statusReportWindow is the stats window attached to each recorded run.
const statusReportWindow = 24 * time.Hour

// CycleRunner runs one full sync cycle and reports aggregate sync stats.
type CycleRunner interface {
	ProcessSyncQueue(ctx context.Context, trigger types.SyncTrigger, maxUsers int) (*service.CycleStats, error)
	GetSyncStats(ctx context.Context, window time.Duration) (*service.SyncStatsReport, error)
}

// RunStats pairs the aggregate of the last completed cycle with the stats
// report computed right after it.
type RunStats struct {
	Cycle  *service.CycleStats      `json:"cycle"`
	Report *service.SyncStatsReport `json:"report,omitempty"`
}

// SyncScheduler runs sync cycles on a fixed interval. At most one cycle runs
// at a time: ticks and manual triggers that arrive while a cycle is running
// are rejected, not queued.
type SyncScheduler struct {
	cfg      *config.SyncConfig
	runner   CycleRunner
	interval time.Duration

	mu              sync.RWMutex
	running         bool
	cycleInProgress bool
	lastRunAt       *time.Time
	nextRunAt       *time.Time
	lastRunStats    *RunStats

	stopCh  chan struct{}
	doneCh  chan struct{}
	cycleWG sync.WaitGroup
}

// NewSyncScheduler creates a sync scheduler
func NewSyncScheduler(cfg *config.SyncConfig, runner CycleRunner) (*SyncScheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("cycle runner cannot be nil")
	}

	intervalMinutes := cfg.IntervalMinutes
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}

	return &SyncScheduler{
		cfg:      cfg,
		runner:   runner,
		interval: time.Duration(intervalMinutes) * time.Minute,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins the scheduling loop. When the scheduler is disabled by
// configuration no goroutine is spawned and manual triggers are the only way
// to run a cycle.
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sync scheduler is already running")
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		log.Printf("[SyncScheduler] Disabled by configuration, not starting")
		return nil
	}
	// Fresh channels so the scheduler can be restarted after a Stop.
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	next := time.Now().UTC().Add(s.interval)
	s.nextRunAt = &next
	s.mu.Unlock()

	log.Printf("[SyncScheduler] Starting with interval %v", s.interval)

	if s.cfg.RunOnStartup {
		s.cycleWG.Add(1)
		go func() {
			defer s.cycleWG.Done()
			s.runCycle(ctx, types.TriggerStartup)
		}()
	}

	go s.loop(ctx)

	return nil
}

// Stop gracefully stops the scheduler, waiting for an in-flight cycle to
// finish.
func (s *SyncScheduler) Stop(ctx context.Context) error {
	// Clearing running under the lock makes a second concurrent Stop a
	// no-op instead of a double close.
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	log.Printf("[SyncScheduler] Stopping")
	close(stopCh)

	select {
	case <-doneCh:
		log.Printf("[SyncScheduler] Stopped gracefully")
	case <-ctx.Done():
		log.Printf("[SyncScheduler] Stop timed out")
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("stop timeout")
	}

	return nil
}

func (s *SyncScheduler) loop(ctx context.Context) {
	defer func() {
		s.cycleWG.Wait()
		close(s.doneCh)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[SyncScheduler] Context cancelled")
			return
		case <-s.stopCh:
			log.Printf("[SyncScheduler] Stop signal received")
			return
		case <-ticker.C:
			s.mu.Lock()
			next := time.Now().UTC().Add(s.interval)
			s.nextRunAt = &next
			s.mu.Unlock()

			s.runCycle(ctx, types.TriggerScheduler)
		}
	}
}

// TriggerManualSync runs a sync cycle immediately, outside of the schedule.
// Returns ErrCycleInProgress if a cycle is already running.
func (s *SyncScheduler) TriggerManualSync(ctx context.Context, maxUsers int) (*service.CycleStats, error) {
	if !s.tryBeginCycle() {
		return nil, ErrCycleInProgress
	}
	defer s.endCycle()

	stats, err := s.runner.ProcessSyncQueue(ctx, types.TriggerManual, maxUsers)
	s.recordRun(stats, s.collectReport(ctx))
	return stats, err
}

// runCycle runs one scheduled cycle. A panic in the cycle is contained so
// the scheduling loop survives to the next tick.
func (s *SyncScheduler) runCycle(ctx context.Context, trigger types.SyncTrigger) {
	if !s.tryBeginCycle() {
		log.Printf("[SyncScheduler] Skipping %s cycle, previous cycle still running", trigger)
		return
	}
	defer s.endCycle()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[SyncScheduler] Panic in %s cycle: %v", trigger, r)
		}
	}()

	stats, err := s.runner.ProcessSyncQueue(ctx, trigger, 0)
	s.recordRun(stats, s.collectReport(ctx))
	if err != nil {
		log.Printf("[SyncScheduler] %s cycle failed: %v", trigger, err)
	}
}

// collectReport fetches the aggregate stats attached to each recorded run.
// Best effort: a failed report never fails the cycle.
func (s *SyncScheduler) collectReport(ctx context.Context) *service.SyncStatsReport {
	report, err := s.runner.GetSyncStats(ctx, statusReportWindow)
	if err != nil {
		log.Printf("[SyncScheduler] Failed to compute stats report: %v", err)
		return nil
	}
	return report
}

func (s *SyncScheduler) tryBeginCycle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycleInProgress {
		return false
	}
	s.cycleInProgress = true
	return true
}

func (s *SyncScheduler) endCycle() {
	s.mu.Lock()
	s.cycleInProgress = false
	s.mu.Unlock()
}

func (s *SyncScheduler) recordRun(stats *service.CycleStats, report *service.SyncStatsReport) {
	now := time.Now().UTC()
	s.mu.Lock()
	s.lastRunAt = &now
	if stats != nil {
		s.lastRunStats = &RunStats{Cycle: stats, Report: report}
	}
	s.mu.Unlock()
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	Enabled         bool       `json:"enabled"`
	Running         bool       `json:"running"`
	CycleInProgress bool       `json:"cycleInProgress"`
	IntervalMinutes int        `json:"intervalMinutes"`
	LastRunAt       *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt       *time.Time `json:"nextRunAt,omitempty"`
	LastRunStats    *RunStats  `json:"lastRunStats,omitempty"`
}

// GetStatus returns the current scheduler status
func (s *SyncScheduler) GetStatus() *SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &SchedulerStatus{
		Enabled:         s.cfg.Enabled,
		Running:         s.running,
		CycleInProgress: s.cycleInProgress,
		IntervalMinutes: int(s.interval.Minutes()),
		LastRunAt:       s.lastRunAt,
		NextRunAt:       s.nextRunAt,
		LastRunStats:    s.lastRunStats,
	}
}
