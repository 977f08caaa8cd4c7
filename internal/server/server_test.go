package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/stratd/internal/auth"
	"github.com/quantflow/stratd/internal/domain"
	"github.com/quantflow/stratd/internal/orchestrator"
)

type stubWorker struct {
	cfg   domain.StrategyConfig
	alive bool
	url   string
}

func (w *stubWorker) Start() error                 { return nil }
func (w *stubWorker) Stop(bool) error              { return nil }
func (w *stubWorker) IsRunning() bool              { return w.alive }
func (w *stubWorker) GetStats() domain.WorkerStats { return domain.WorkerStats{Symbol: w.cfg.Symbol} }
func (w *stubWorker) SaveState() bool              { return true }
func (w *stubWorker) LoadState() bool              { return false }
func (w *stubWorker) LogStreamURL() string         { return w.url }
func (w *stubWorker) Symbol() string               { return w.cfg.Symbol }
func (w *stubWorker) StrategyKey() string          { return w.cfg.StrategyKey }
func (w *stubWorker) UserID() string               { return w.cfg.UserID }
func (w *stubWorker) Key() domain.WorkerKey        { return w.cfg.Key() }
func (w *stubWorker) ConfigHash() string           { return w.cfg.Hash() }

type stubSupervisor struct {
	workers map[domain.WorkerKey]domain.Worker
	configs map[domain.WorkerKey]domain.StrategyConfig
}

func (s *stubSupervisor) GetStatus() orchestrator.Status {
	st := orchestrator.Status{
		TotalWorkers:  len(s.workers),
		ActiveConfigs: len(s.configs),
		Workers:       map[domain.WorkerKey]*orchestrator.WorkerStatus{},
	}
	for k, w := range s.workers {
		st.Workers[k] = &orchestrator.WorkerStatus{Alive: w.IsRunning()}
	}
	return st
}

func (s *stubSupervisor) Worker(key domain.WorkerKey) (domain.Worker, bool) {
	w, ok := s.workers[key]
	return w, ok
}

func (s *stubSupervisor) ConfigFor(key domain.WorkerKey) (domain.StrategyConfig, bool) {
	c, ok := s.configs[key]
	return c, ok
}

func (s *stubSupervisor) Workers() map[domain.WorkerKey]domain.Worker { return s.workers }

func newTestServer(t *testing.T, authEnabled bool) (*Server, *auth.Filter, *stubSupervisor) {
	t.Helper()

	u1 := domain.StrategyConfig{Symbol: "600000.SH", StrategyKey: "turtle", Engine: domain.EngineVnpy, UserID: "u1"}
	u2 := domain.StrategyConfig{Symbol: "000002.SZ", StrategyKey: "grid", Engine: domain.EngineVnpy, UserID: "u2"}
	sup := &stubSupervisor{
		workers: map[domain.WorkerKey]domain.Worker{
			u1.Key(): &stubWorker{cfg: u1, alive: true, url: "ws://0.0.0.0:43210"},
			u2.Key(): &stubWorker{cfg: u2, alive: true},
		},
		configs: map[domain.WorkerKey]domain.StrategyConfig{
			u1.Key(): u1,
			u2.Key(): u2,
		},
	}

	filter := auth.New("test-secret", authEnabled, zerolog.Nop())
	srv := New(Config{
		Log:        zerolog.Nop(),
		Port:       0,
		Supervisor: sup,
		Auth:       filter,
		PublicHost: "trade.example.com",
		LogRoot:    t.TempDir(),
	})
	return srv, filter, sup
}

func bearer(t *testing.T, f *auth.Filter, userID string) string {
	t.Helper()
	token, err := f.Issue(auth.Identity{UserID: userID, Username: userID}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealth_Unauthenticated(t *testing.T) {
	srv, _, _ := newTestServer(t, true)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus_ReportsTotals(t *testing.T) {
	srv, _, _ := newTestServer(t, true)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["total_workers"])
	assert.EqualValues(t, 2, body["active_configs"])
}

func TestListWorkers_RequiresToken(t *testing.T) {
	srv, _, _ := newTestServer(t, true)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/workers", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListWorkers_FiltersByOwnership(t *testing.T) {
	srv, filter, _ := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/workers", nil)
	req.Header.Set("Authorization", bearer(t, filter, "u1"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Workers []workerView `json:"workers"`
		Total   int          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	assert.Equal(t, domain.NewWorkerKey("u1", "600000.SH", "turtle"), body.Workers[0].Key)
}

func TestListWorkers_RewritesStreamHost(t *testing.T) {
	srv, filter, _ := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/workers", nil)
	req.Header.Set("Authorization", bearer(t, filter, "u1"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var body struct {
		Workers []workerView `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Workers, 1)
	assert.Equal(t, "ws://trade.example.com:43210", body.Workers[0].LogStreamURL)
}

func TestGetWorker_NotFoundAndForbidden(t *testing.T) {
	srv, filter, _ := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/workers/u9_600000.SH_turtle", nil)
	req.Header.Set("Authorization", bearer(t, filter, "u1"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/workers/u2_000002.SZ_grid", nil)
	req.Header.Set("Authorization", bearer(t, filter, "u1"))
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWorkerLogs_TailsFile(t *testing.T) {
	srv, filter, _ := newTestServer(t, true)

	key := domain.NewWorkerKey("u1", "600000.SH", "turtle")
	dir := filepath.Join(srv.logRoot, "workers")
	require.NoError(t, os.MkdirAll(dir, 0755))
	content := "line1\nline2\nline3\nline4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, string(key)+".log"), []byte(content), 0644))

	req := httptest.NewRequest(http.MethodGet, "/api/workers/"+string(key)+"/logs?tail=2", nil)
	req.Header.Set("Authorization", bearer(t, filter, "u1"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Lines []string `json:"lines"`
		Total int      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"line3", "line4"}, body.Lines)
	assert.Equal(t, 2, body.Total)
}

func TestWorkerLogs_MissingFileIsEmpty(t *testing.T) {
	srv, filter, _ := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/workers/u1_600000.SH_turtle/logs", nil)
	req.Header.Set("Authorization", bearer(t, filter, "u1"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Total)
}

func TestConsole_ServesEmbeddedPage(t *testing.T) {
	srv, filter, _ := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/workers/console", nil)
	req.Header.Set("Authorization", bearer(t, filter, "u1"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "live worker console")
}

func TestAuthDisabled_DevIdentityOwnsDevWorkers(t *testing.T) {
	devCfg := domain.StrategyConfig{Symbol: "600000.SH", StrategyKey: "turtle", Engine: domain.EngineVnpy, UserID: "dev"}
	sup := &stubSupervisor{
		workers: map[domain.WorkerKey]domain.Worker{devCfg.Key(): &stubWorker{cfg: devCfg, alive: true}},
		configs: map[domain.WorkerKey]domain.StrategyConfig{devCfg.Key(): devCfg},
	}
	srv := New(Config{
		Log:        zerolog.Nop(),
		Supervisor: sup,
		Auth:       auth.New("", false, zerolog.Nop()),
		LogRoot:    t.TempDir(),
	})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/workers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
}
