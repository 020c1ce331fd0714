package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalsync/internal/config"
	"github.com/vitalsync/internal/service"
	"github.com/vitalsync/internal/types"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	triggers []types.SyncTrigger
	maxUsers []int
	stats    *service.CycleStats
	report   *service.SyncStatsReport
	err      error
	statsErr error
	block    chan struct{} // when set, ProcessSyncQueue blocks until closed
	started  chan struct{} // signalled when a cycle begins
	panics   bool
}

func (r *fakeRunner) ProcessSyncQueue(ctx context.Context, trigger types.SyncTrigger, maxUsers int) (*service.CycleStats, error) {
	r.mu.Lock()
	r.calls++
	r.triggers = append(r.triggers, trigger)
	r.maxUsers = append(r.maxUsers, maxUsers)
	block := r.block
	started := r.started
	r.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if r.panics {
		panic("cycle exploded")
	}
	if block != nil {
		<-block
	}
	return r.stats, r.err
}

func (r *fakeRunner) GetSyncStats(ctx context.Context, window time.Duration) (*service.SyncStatsReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statsErr != nil {
		return nil, r.statsErr
	}
	return r.report, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func schedulerConfig() *config.SyncConfig {
	return &config.SyncConfig{
		Enabled:         true,
		IntervalMinutes: 60,
	}
}

func TestNewSyncScheduler(t *testing.T) {
	t.Run("requires a runner", func(t *testing.T) {
		_, err := NewSyncScheduler(schedulerConfig(), nil)
		assert.Error(t, err)
	})

	t.Run("defaults interval to 60 minutes", func(t *testing.T) {
		cfg := schedulerConfig()
		cfg.IntervalMinutes = 0
		s, err := NewSyncScheduler(cfg, &fakeRunner{})
		require.NoError(t, err)
		assert.Equal(t, 60, s.GetStatus().IntervalMinutes)
	})
}

func TestSchedulerDisabledDoesNotStart(t *testing.T) {
	cfg := schedulerConfig()
	cfg.Enabled = false
	runner := &fakeRunner{}

	s, err := NewSyncScheduler(cfg, runner)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	status := s.GetStatus()
	assert.False(t, status.Enabled)
	assert.False(t, status.Running)
	assert.Equal(t, 0, runner.callCount())

	// Stop on a never-started scheduler is a no-op.
	assert.NoError(t, s.Stop(context.Background()))
}

func TestSchedulerStartupCycle(t *testing.T) {
	cfg := schedulerConfig()
	cfg.RunOnStartup = true
	runner := &fakeRunner{started: make(chan struct{}, 1)}

	s, err := NewSyncScheduler(cfg, runner)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("startup cycle never ran")
	}

	require.Eventually(t, func() bool {
		return s.GetStatus().LastRunAt != nil
	}, 2*time.Second, 10*time.Millisecond)

	r := runner
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, []types.SyncTrigger{types.TriggerStartup}, r.triggers)
}

func TestSchedulerDoubleStart(t *testing.T) {
	s, err := NewSyncScheduler(schedulerConfig(), &fakeRunner{})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.Error(t, s.Start(context.Background()))
}

func TestTriggerManualSync(t *testing.T) {
	stats := &service.CycleStats{UsersSucceeded: 4}
	report := &service.SyncStatsReport{GeneratedAt: time.Now().UTC()}
	runner := &fakeRunner{stats: stats, report: report}

	s, err := NewSyncScheduler(schedulerConfig(), runner)
	require.NoError(t, err)

	got, err := s.TriggerManualSync(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, stats, got)

	runner.mu.Lock()
	assert.Equal(t, []types.SyncTrigger{types.TriggerManual}, runner.triggers)
	assert.Equal(t, []int{7}, runner.maxUsers)
	runner.mu.Unlock()

	// the recorded run carries both the cycle aggregate and the stats report
	status := s.GetStatus()
	assert.NotNil(t, status.LastRunAt)
	require.NotNil(t, status.LastRunStats)
	assert.Equal(t, stats, status.LastRunStats.Cycle)
	assert.Equal(t, report, status.LastRunStats.Report)
}

func TestTriggerManualSyncToleratesStatsReportFailure(t *testing.T) {
	stats := &service.CycleStats{UsersSucceeded: 1}
	runner := &fakeRunner{stats: stats, statsErr: errors.New("stats store down")}

	s, err := NewSyncScheduler(schedulerConfig(), runner)
	require.NoError(t, err)

	_, err = s.TriggerManualSync(context.Background(), 0)
	require.NoError(t, err)

	status := s.GetStatus()
	require.NotNil(t, status.LastRunStats)
	assert.Equal(t, stats, status.LastRunStats.Cycle)
	assert.Nil(t, status.LastRunStats.Report)
}

func TestTriggerManualSyncWhileCycleRunning(t *testing.T) {
	block := make(chan struct{})
	runner := &fakeRunner{block: block, started: make(chan struct{}, 1)}

	s, err := NewSyncScheduler(schedulerConfig(), runner)
	require.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.TriggerManualSync(context.Background(), 0)
		firstDone <- err
	}()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never started")
	}

	_, err = s.TriggerManualSync(context.Background(), 0)
	require.Error(t, err)

	var se *types.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "CYCLE_IN_PROGRESS", se.Code)
	assert.True(t, s.GetStatus().CycleInProgress)

	close(block)
	require.NoError(t, <-firstDone)
	assert.False(t, s.GetStatus().CycleInProgress)

	// the busy rejection must not have reached the runner
	assert.Equal(t, 1, runner.callCount())
}

func TestTriggerManualSyncPropagatesRunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("cycle failed")}
	s, err := NewSyncScheduler(schedulerConfig(), runner)
	require.NoError(t, err)

	_, err = s.TriggerManualSync(context.Background(), 0)
	assert.Error(t, err)

	// the guard is released so the next trigger proceeds
	_, err = s.TriggerManualSync(context.Background(), 0)
	assert.Error(t, err)
	assert.Equal(t, 2, runner.callCount())
}

func TestSchedulerSurvivesPanic(t *testing.T) {
	cfg := schedulerConfig()
	cfg.RunOnStartup = true
	runner := &fakeRunner{panics: true, started: make(chan struct{}, 1)}

	s, err := NewSyncScheduler(cfg, runner)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("startup cycle never ran")
	}

	// the panic is contained and the scheduler still stops cleanly
	assert.NoError(t, s.Stop(context.Background()))
}

func TestSchedulerStop(t *testing.T) {
	s, err := NewSyncScheduler(schedulerConfig(), &fakeRunner{})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.GetStatus().Running)
}

func TestSchedulerStopWaitsForInflightCycle(t *testing.T) {
	cfg := schedulerConfig()
	cfg.RunOnStartup = true
	block := make(chan struct{})
	runner := &fakeRunner{block: block, started: make(chan struct{}, 1)}

	s, err := NewSyncScheduler(cfg, runner)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("startup cycle never ran")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(block)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop never returned after the cycle finished")
	}
}

func TestSchedulerRestart(t *testing.T) {
	runner := &fakeRunner{}
	s, err := NewSyncScheduler(schedulerConfig(), runner)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	// a stopped scheduler can be started again on fresh channels
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.GetStatus().Running)
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.GetStatus().Running)
}

func TestSchedulerConcurrentStop(t *testing.T) {
	s, err := NewSyncScheduler(schedulerConfig(), &fakeRunner{})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Stop(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.False(t, s.GetStatus().Running)
}
