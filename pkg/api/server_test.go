package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"detox/pkg/api"
	"detox/pkg/auth"
	"detox/pkg/models"
	"detox/pkg/resilience"
	"detox/pkg/storage"
)

type fixedSchedule time.Time

func (f fixedSchedule) Next() time.Time { return time.Time(f) }

type fixedBreakers []resilience.Snapshot

func (f fixedBreakers) Breakers() []resilience.Snapshot { return f }

type brokenLister struct{}

func (brokenLister) ListRecent(context.Context, int) ([]models.RunRecord, error) {
	return nil, errors.New("db down")
}
func (brokenLister) Last(context.Context) (*models.RunRecord, error) {
	return nil, errors.New("db down")
}

type ServerSuite struct {
	suite.Suite
	store *storage.MemoryRunStore
	srv   *api.Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	s.store = storage.NewMemoryRunStore(10)
	srv, err := api.NewServer(api.Config{
		Runs:     s.store,
		Schedule: fixedSchedule(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)),
		Sinks:    fixedBreakers{
			{Name: "memory", State: "closed"},
			{Name: "postgres", State: "open", Failures: 3},
		},
	})
	s.Require().NoError(err)
	s.srv = srv
}

func (s *ServerSuite) record(overall bool) uuid.UUID {
	run := &models.Run{
		ID:        uuid.New(),
		WorkDir:   "/work",
		StartedAt: time.Now(),
		Report:    models.RunReport{Overall: overall, Selector: []string{"lint"}},
	}
	s.Require().NoError(s.store.Record(context.Background(), run))
	return run.ID
}

func (s *ServerSuite) get(path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.srv.Handler().ServeHTTP(w, req)
	return w
}

func (s *ServerSuite) TestHealth() {
	id := s.record(true)

	w := s.get("/health", "")
	s.Equal(http.StatusOK, w.Code)

	var body struct {
		Status  string    `json:"status"`
		NextRun time.Time `json:"next_run"`
		LastRun struct {
			ID      uuid.UUID `json:"id"`
			Overall bool      `json:"overall"`
		} `json:"last_run"`
		Sinks []resilience.Snapshot `json:"sinks"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Equal("healthy", body.Status)
	s.Equal(2030, body.NextRun.Year())
	s.Equal(id, body.LastRun.ID)
	s.True(body.LastRun.Overall)
	s.Require().Len(body.Sinks, 2)
	s.Equal("postgres", body.Sinks[1].Name)
	s.Equal("open", body.Sinks[1].State)
	s.Equal(3, body.Sinks[1].Failures)
	s.Equal("nosniff", w.Header().Get("X-Content-Type-Options"))
}

func (s *ServerSuite) TestListRuns_NewestFirst() {
	first := s.record(false)
	second := s.record(true)

	w := s.get("/api/v1/runs", "")
	s.Require().Equal(http.StatusOK, w.Code)

	var body struct {
		Runs  []models.RunRecord `json:"runs"`
		Count int                `json:"count"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Equal(2, body.Count)
	s.Equal(second, body.Runs[0].ID)
	s.Equal(first, body.Runs[1].ID)

	w = s.get("/api/v1/runs?limit=1", "")
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Equal(1, body.Count)
}

func (s *ServerSuite) TestListRuns_BadLimit() {
	for _, limit := range []string{"abc", "0", "-3"} {
		w := s.get("/api/v1/runs?limit="+limit, "")
		s.Equal(http.StatusBadRequest, w.Code, limit)
	}
}

func (s *ServerSuite) TestLastRun() {
	w := s.get("/api/v1/runs/last", "")
	s.Equal(http.StatusNotFound, w.Code)

	id := s.record(false)
	w = s.get("/api/v1/runs/last", "")
	s.Require().Equal(http.StatusOK, w.Code)

	var rec models.RunRecord
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &rec))
	s.Equal(id, rec.ID)
	s.False(rec.Overall)
}

func (s *ServerSuite) TestMetricsEndpoint() {
	s.get("/api/v1/runs", "")

	w := s.get("/metrics", "")
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `detox_http_requests_total{method="GET",path="/api/v1/runs",status="200"}`)
}

func (s *ServerSuite) TestBackendErrors() {
	srv, err := api.NewServer(api.Config{Runs: brokenLister{}})
	s.Require().NoError(err)

	for _, path := range []string{"/api/v1/runs", "/api/v1/runs/last"} {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		s.Equal(http.StatusInternalServerError, w.Code, path)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	s.Equal(http.StatusOK, w.Code, "health does not depend on the run store")
}

func TestServer_RequiresToken(t *testing.T) {
	srv, err := api.NewServer(api.Config{Runs: storage.NewMemoryRunStore(0), Secret: "s3cret"})
	require.NoError(t, err)

	svc, err := auth.NewJWTService(auth.DefaultJWTConfig("s3cret"))
	require.NoError(t, err)
	token, err := svc.GenerateToken("dashboard", time.Hour, auth.ScopeReadRuns)
	require.NoError(t, err)

	do := func(path, token string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusUnauthorized, do("/api/v1/runs", ""))
	require.Equal(t, http.StatusOK, do("/api/v1/runs", token))
	require.Equal(t, http.StatusOK, do("/health", ""), "health stays public")
}

func TestServer_LogsTokenSubject(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	srv, err := api.NewServer(api.Config{Runs: storage.NewMemoryRunStore(0), Secret: "s3cret", Log: zap.New(core)})
	require.NoError(t, err)

	svc, err := auth.NewJWTService(auth.DefaultJWTConfig("s3cret"))
	require.NoError(t, err)
	token, err := svc.GenerateToken("dashboard", time.Hour, auth.ScopeReadRuns)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("Request").All()
	require.Len(t, entries, 1)
	require.Equal(t, "dashboard", entries[0].ContextMap()["subject"])
}

func TestNewServer_RequiresRuns(t *testing.T) {
	_, err := api.NewServer(api.Config{})
	require.Error(t, err)
}
