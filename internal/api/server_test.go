package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalsync/internal/models"
	"github.com/vitalsync/internal/service"
	"github.com/vitalsync/internal/storage"
	"github.com/vitalsync/internal/types"
	"github.com/vitalsync/internal/worker"
)

type stubSyncService struct {
	log     *models.SyncLog
	logErr  error
	report  *service.SyncStatsReport
	history []*models.SyncLog
	err     error
}

func (s *stubSyncService) SyncUser(ctx context.Context, userID string, trigger types.SyncTrigger) (*models.SyncLog, error) {
	return s.log, s.logErr
}

func (s *stubSyncService) GetSyncLog(ctx context.Context, jobID string) (*models.SyncLog, error) {
	if s.log == nil || s.log.JobID != jobID {
		return nil, storage.ErrSyncLogNotFound
	}
	return s.log, nil
}

func (s *stubSyncService) GetSyncStats(ctx context.Context, window time.Duration) (*service.SyncStatsReport, error) {
	return s.report, s.err
}

func (s *stubSyncService) GetUserSyncHistory(ctx context.Context, userID string, limit, offset int) ([]*models.SyncLog, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.history, nil
}

type stubScheduler struct {
	stats  *service.CycleStats
	err    error
	status *worker.SchedulerStatus
	seen   int
}

func (s *stubScheduler) TriggerManualSync(ctx context.Context, maxUsers int) (*service.CycleStats, error) {
	s.seen = maxUsers
	return s.stats, s.err
}

func (s *stubScheduler) GetStatus() *worker.SchedulerStatus {
	if s.status != nil {
		return s.status
	}
	return &worker.SchedulerStatus{Enabled: true, Running: true, IntervalMinutes: 60}
}

type stubUserService struct {
	users  map[string]*models.User
	tokens map[string]string
	err    error
}

func (s *stubUserService) Create(ctx context.Context, user *models.User) error {
	if s.err != nil {
		return s.err
	}
	user.ID = "generated-id"
	return nil
}

func (s *stubUserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return u, nil
}

func (s *stubUserService) SetAccessToken(ctx context.Context, userID, encryptedToken string) error {
	if _, ok := s.users[userID]; !ok {
		return storage.ErrUserNotFound
	}
	if s.tokens == nil {
		s.tokens = make(map[string]string)
	}
	s.tokens[userID] = encryptedToken
	return nil
}

type stubVault struct{}

func (v *stubVault) Encrypt(token string) (string, error) {
	return "enc:" + token, nil
}

func newTestServer(sync *stubSyncService, sched *stubScheduler, users *stubUserService, apiKey string) *Server {
	if sync == nil {
		sync = &stubSyncService{}
	}
	if sched == nil {
		sched = &stubScheduler{}
	}
	if users == nil {
		users = &stubUserService{users: map[string]*models.User{}}
	}
	cfg := &ServerConfig{
		Host:        "127.0.0.1",
		Port:        "0",
		APIKey:      apiKey,
		FreeTierRPS: 100,
		PaidTierRPS: 1000,
	}
	return NewServer(cfg, sync, sched, users, &stubVault{})
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(nil, nil, nil, "")

	rec := doRequest(t, s, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "vitalsync", body["service"])
}

func TestAPIKeyMiddleware(t *testing.T) {
	s := newTestServer(nil, nil, nil, "secret-key")

	t.Run("health stays open", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/health", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing key rejected", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/sync/status", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, ErrCodeUnauthorized, decodeError(t, rec).Error.Code)
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/sync/status", nil, map[string]string{"X-API-Key": "nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("correct key accepted", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/sync/status", nil, map[string]string{"X-API-Key": "secret-key"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("auth disabled when no key configured", func(t *testing.T) {
		open := newTestServer(nil, nil, nil, "")
		rec := doRequest(t, open, http.MethodGet, "/api/sync/status", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestTriggerSync(t *testing.T) {
	t.Run("runs a cycle", func(t *testing.T) {
		sched := &stubScheduler{stats: &service.CycleStats{UsersSucceeded: 3}}
		s := newTestServer(nil, sched, nil, "")

		rec := doRequest(t, s, http.MethodPost, "/api/sync/trigger", map[string]int{"maxUsers": 5}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 5, sched.seen)

		var stats service.CycleStats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
		assert.Equal(t, 3, stats.UsersSucceeded)
	})

	t.Run("empty body uses defaults", func(t *testing.T) {
		sched := &stubScheduler{stats: &service.CycleStats{}}
		s := newTestServer(nil, sched, nil, "")

		rec := doRequest(t, s, http.MethodPost, "/api/sync/trigger", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, sched.seen)
	})

	t.Run("negative maxUsers rejected", func(t *testing.T) {
		s := newTestServer(nil, nil, nil, "")
		rec := doRequest(t, s, http.MethodPost, "/api/sync/trigger", map[string]int{"maxUsers": -1}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("busy cycle returns conflict", func(t *testing.T) {
		sched := &stubScheduler{err: worker.ErrCycleInProgress}
		s := newTestServer(nil, sched, nil, "")

		rec := doRequest(t, s, http.MethodPost, "/api/sync/trigger", nil, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "CYCLE_IN_PROGRESS", decodeError(t, rec).Error.Code)
	})

	t.Run("disabled sync returns service unavailable", func(t *testing.T) {
		sched := &stubScheduler{err: &types.ServiceError{Code: "SYNC_DISABLED", Message: "sync is disabled by configuration"}}
		s := newTestServer(nil, sched, nil, "")

		rec := doRequest(t, s, http.MethodPost, "/api/sync/trigger", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestSyncUserEndpoint(t *testing.T) {
	t.Run("returns the audit row", func(t *testing.T) {
		log := &models.SyncLog{ID: 9, UserID: "u-1", JobID: "j-1", Status: types.SyncStatusSuccess}
		s := newTestServer(&stubSyncService{log: log}, nil, nil, "")

		rec := doRequest(t, s, http.MethodPost, "/api/users/u-1/sync", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got models.SyncLog
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "j-1", got.JobID)
	})

	t.Run("failed sync still returns the row", func(t *testing.T) {
		errType := types.ErrAPITimeout
		log := &models.SyncLog{ID: 9, UserID: "u-1", Status: types.SyncStatusFailed, ErrorType: &errType}
		s := newTestServer(&stubSyncService{log: log, logErr: assert.AnError}, nil, nil, "")

		rec := doRequest(t, s, http.MethodPost, "/api/users/u-1/sync", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got models.SyncLog
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, types.SyncStatusFailed, got.Status)
	})

	t.Run("unknown user", func(t *testing.T) {
		s := newTestServer(&stubSyncService{logErr: storage.ErrUserNotFound}, nil, nil, "")
		rec := doRequest(t, s, http.MethodPost, "/api/users/missing/sync", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetSyncJobEndpoint(t *testing.T) {
	log := &models.SyncLog{ID: 4, UserID: "u-1", JobID: "j-9", Status: types.SyncStatusSuccess}
	s := newTestServer(&stubSyncService{log: log}, nil, nil, "")

	t.Run("found", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/sync/jobs/j-9", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got models.SyncLog
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "j-9", got.JobID)
	})

	t.Run("not found", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/sync/jobs/other", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSyncStatsEndpoint(t *testing.T) {
	report := &service.SyncStatsReport{
		GeneratedAt: time.Now().UTC(),
		Logs:        &storage.SyncLogStats{Total: 12},
	}
	s := newTestServer(&stubSyncService{report: report}, nil, nil, "")

	t.Run("default window", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/sync/stats", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got service.SyncStatsReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, 12, got.Logs.Total)
	})

	t.Run("custom window", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/sync/stats?window=1h", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bad window", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/sync/stats?window=yesterday", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSyncHistoryEndpoint(t *testing.T) {
	history := []*models.SyncLog{
		{ID: 2, UserID: "u-1", Status: types.SyncStatusSuccess},
		{ID: 1, UserID: "u-1", Status: types.SyncStatusFailed},
	}
	s := newTestServer(&stubSyncService{history: history}, nil, nil, "")

	t.Run("returns logs", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/users/u-1/sync/history", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got struct {
			UserID string            `json:"userId"`
			Logs   []*models.SyncLog `json:"logs"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "u-1", got.UserID)
		assert.Len(t, got.Logs, 2)
	})

	t.Run("limit out of range", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/users/u-1/sync/history?limit=1000", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("negative offset", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/users/u-1/sync/history?offset=-2", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCreateUserEndpoint(t *testing.T) {
	s := newTestServer(nil, nil, nil, "")

	t.Run("creates user", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/users", map[string]string{"email": "a@example.com"}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		var got models.User
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "generated-id", got.ID)
		assert.Equal(t, types.TierFree, got.Tier)
	})

	t.Run("missing email", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/users", map[string]string{}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid tier", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/api/users", map[string]string{"email": "a@example.com", "tier": "platinum"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSetUserTokenEndpoint(t *testing.T) {
	users := &stubUserService{users: map[string]*models.User{
		"u-1": {ID: "u-1", Email: "a@example.com", Tier: types.TierFree},
	}}
	s := newTestServer(nil, nil, users, "")

	t.Run("stores encrypted token", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPut, "/api/users/u-1/token", map[string]string{"accessToken": "raw-token"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		// the plaintext never reaches the user store
		assert.Equal(t, "enc:raw-token", users.tokens["u-1"])
	})

	t.Run("missing token", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPut, "/api/users/u-1/token", map[string]string{}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPut, "/api/users/nobody/token", map[string]string{"accessToken": "raw"}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := &ServerConfig{Host: "127.0.0.1", Port: "0", FreeTierRPS: 1, PaidTierRPS: 100}
	s := NewServer(cfg, &stubSyncService{}, &stubScheduler{}, &stubUserService{users: map[string]*models.User{}}, &stubVault{})

	headers := map[string]string{"X-User-ID": "caller-1"}

	// burst of 10 allowed, the 11th is rejected
	var last int
	for i := 0; i < 11; i++ {
		rec := doRequest(t, s, http.MethodGet, "/api/sync/status", nil, headers)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	// a different caller gets an independent budget
	rec := doRequest(t, s, http.MethodGet, "/api/sync/status", nil, map[string]string{"X-User-ID": "caller-2"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetUserEndpoint(t *testing.T) {
	users := &stubUserService{users: map[string]*models.User{
		"u-1": {ID: "u-1", Email: "a@example.com", Tier: types.TierPaid},
	}}
	s := newTestServer(nil, nil, users, "")

	t.Run("found", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/users/u-1", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got models.User
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, types.TierPaid, got.Tier)
	})

	t.Run("not found", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/users/missing", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
