package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dbinventory/internal/classify"
	"dbinventory/internal/collector"
	"dbinventory/internal/core"
	"dbinventory/internal/data"
	"dbinventory/internal/scheduler"
	"dbinventory/internal/service"
	"dbinventory/internal/syncer"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConnector struct{}

func (stubConnector) Open(context.Context, core.Instance, service.Timeouts) (*service.Connection, error) {
	return &service.Connection{}, nil
}

// stubCollector reports one PostgreSQL superuser for every instance.
type stubCollector struct{}

func (stubCollector) Collect(context.Context, collector.Queryer, core.Instance) (*collector.Snapshot, error) {
	perms := core.NewPostgreSQLPermissions()
	perms.RoleAttributes = core.NewStringSet("SUPERUSER", "LOGIN")
	return &collector.Snapshot{Records: []core.AccountRecord{
		{Username: "postgres", Kind: core.KindRole, IsSuperuser: true, Permissions: perms},
	}}, nil
}

type testServer struct {
	srv   *httptest.Server
	key   string
	orch  *syncer.Orchestrator
	audit *data.AuditRepo
	sched *scheduler.Scheduler
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := data.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	auth := service.NewAuthService(data.NewUserRepo(db), data.NewApiKeyRepo(db))
	_, err = auth.CreateUser("admin", "s3cret-pass")
	require.NoError(t, err)
	key, _, err := auth.GenerateApiKey("admin", "tests")
	require.NoError(t, err)

	crypto, err := service.NewEncryptionService("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	instances := data.NewInstanceRepo(db)
	accounts := data.NewAccountRepo(db)
	sessions := syncer.NewSessionManager(data.NewSessionRepo(db))
	locks := syncer.NewLockRegistry(data.NewLockRepo(db))
	orch := syncer.NewOrchestrator(syncer.Deps{
		Instances: instances,
		Sessions:  sessions,
		Locks:     locks,
		Connector: stubConnector{},
		Collector: stubCollector{},
		Differ:    syncer.NewDiffer(accounts),
		Persister: syncer.NewPersister(accounts),
	}, syncer.Options{Delay: time.Millisecond})
	t.Cleanup(func() { orch.Shutdown(context.Background()) })

	rules := classify.NewRuleStore(data.NewClassificationRepo(db))
	require.NoError(t, rules.Seed(ctx))
	engine := classify.NewEngine(rules, accounts, data.NewAssignmentRepo(db), sessions,
		classify.Options{PollInterval: 10 * time.Millisecond, WaitTimeout: 5 * time.Second})

	sched := scheduler.New(data.NewJobRepo(db))
	sched.RegisterAction("noop", func(context.Context, core.ScheduledJob) error { return nil })

	audit := data.NewAuditRepo(db)
	h := NewHandler(Deps{
		Auth:            auth,
		Registry:        service.NewRegistry(instances, data.NewCredentialRepo(db), crypto),
		Orchestrator:    orch,
		Locks:           locks,
		Engine:          engine,
		Rules:           rules,
		Scheduler:       sched,
		Audit:           audit,
		RateLimitPerMin: rateLimit,
	})
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, key: key, orch: orch, audit: audit, sched: sched}
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", s.key)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type apiError struct {
	Error errorBody `json:"error"`
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, 0)

	resp, err := http.Get(s.srv.URL + "/api/v1/instances")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, s.srv.URL+"/api/v1/instances", nil)
	req.Header.Set("X-API-Key", "not-a-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(s.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var spec map[string]any
	resp, err = http.Get(s.srv.URL + "/api/docs/openapi.json")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&spec))
	resp.Body.Close()
	assert.Contains(t, spec["paths"], "/api/v1/sync/one")
	assert.Contains(t, spec["paths"], "/api/v1/accounts/{id}/classifications/{cid}")
}

func TestInstanceRegistry(t *testing.T) {
	s := newTestServer(t, 0)

	var cred core.Credential
	code := s.do(t, http.MethodPost, "/api/v1/credentials",
		credentialRequest{Name: "pg-admin", Username: "inventory", Password: "pw"}, &cred)
	require.Equal(t, http.StatusCreated, code)

	var inst core.Instance
	code = s.do(t, http.MethodPost, "/api/v1/instances", core.Instance{
		Name: "pg-main", Vendor: core.VendorPostgreSQL, Host: "db.local", CredentialID: &cred.ID, IsActive: true,
	}, &inst)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 5432, inst.Port)

	var e apiError
	code = s.do(t, http.MethodPost, "/api/v1/instances", core.Instance{Name: "x", Vendor: "db2", Host: "db.local"}, &e)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, core.CodeValidation, e.Error.Code)

	code = s.do(t, http.MethodGet, "/api/v1/instances/9999", nil, &e)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, core.CodeNotFound, e.Error.Code)

	code = s.do(t, http.MethodGet, "/api/v1/instances/abc", nil, &e)
	assert.Equal(t, http.StatusBadRequest, code)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/v1/instances/1", nil, nil))
	var list []core.Instance
	s.do(t, http.MethodGet, "/api/v1/instances", nil, &list)
	assert.Empty(t, list)
	s.do(t, http.MethodGet, "/api/v1/instances?include_deleted=true", nil, &list)
	assert.Len(t, list, 1)
}

func TestSyncClassifyFlow(t *testing.T) {
	s := newTestServer(t, 0)

	var inst core.Instance
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/instances", core.Instance{
		Name: "pg-main", Vendor: core.VendorPostgreSQL, Host: "db.local", IsActive: true,
	}, &inst))

	var accepted sessionAccepted
	code := s.do(t, http.MethodPost, "/api/v1/sync/one", syncOneRequest{InstanceID: inst.ID}, &accepted)
	require.Equal(t, http.StatusAccepted, code)
	require.NotEmpty(t, accepted.SessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sess, err := s.orch.Wait(ctx, accepted.SessionID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCompleted, sess.Status)

	var detail struct {
		Status  core.SessionStatus `json:"status"`
		Records []core.SyncRecord  `json:"records"`
	}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/sessions/"+accepted.SessionID, nil, &detail))
	require.Len(t, detail.Records, 1)
	assert.Equal(t, 1, detail.Records[0].Created)

	var e apiError
	code = s.do(t, http.MethodPost, "/api/v1/sync/one", syncOneRequest{InstanceID: 404}, &e)
	assert.Equal(t, http.StatusBadRequest, code)

	var batch core.ClassificationBatch
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/classify", classify.Scope{InstanceID: inst.ID}, &batch))
	assert.Equal(t, core.BatchCompleted, batch.Status)
	assert.Equal(t, 1, batch.MatchedAccounts)

	var accounts []struct {
		ID              int64             `json:"id"`
		Username        string            `json:"username"`
		Classifications []core.Assignment `json:"classifications"`
	}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/accounts?instance_id=1", nil, &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, "postgres", accounts[0].Username)
	require.Len(t, accounts[0].Classifications, 1)

	cid := accounts[0].Classifications[0].ClassificationID
	path := "/api/v1/accounts/" + itoa(accounts[0].ID) + "/classifications/" + itoa(cid)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, path, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, path, nil, &e))
}

func TestSystemClassificationProtected(t *testing.T) {
	s := newTestServer(t, 0)

	var list []core.Classification
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/classifications", nil, &list))
	require.NotEmpty(t, list)

	var e apiError
	code := s.do(t, http.MethodDelete, "/api/v1/classifications/"+itoa(list[0].ID), nil, &e)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, core.CodeValidation, e.Error.Code)

	var rule core.ClassificationRule
	code = s.do(t, http.MethodPost, "/api/v1/rules", core.ClassificationRule{
		ClassificationID: list[0].ID,
		Name:             "dba logins",
		Vendor:           core.VendorSQLServer,
		Expression:       core.HasAny("server_roles", "securityadmin"),
		IsActive:         true,
	}, &rule)
	require.Equal(t, http.StatusCreated, code)
	assert.NotZero(t, rule.ID)
}

func TestJobsEndpoints(t *testing.T) {
	s := newTestServer(t, 0)

	var job core.ScheduledJob
	code := s.do(t, http.MethodPost, "/api/v1/jobs",
		core.ScheduledJob{ID: "nightly", Name: "Nightly", Trigger: "0 2 * * *", Action: "noop"}, &job)
	require.Equal(t, http.StatusCreated, code)

	var res runResult
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/jobs/nightly/run", nil, &res))
	assert.Equal(t, "success", res.Status)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/jobs/nightly/pause", nil, nil))
	var jobs []scheduler.JobInfo
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/jobs", nil, &jobs))
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].Paused)
	assert.Equal(t, "success", jobs[0].LastStatus)

	var e apiError
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/v1/jobs/missing/run", nil, &e))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/jobs",
		core.ScheduledJob{ID: "bad", Trigger: "every tuesday", Action: "noop"}, &e))
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/v1/jobs/nightly", nil, nil))
}

func TestAuditRecordsMutations(t *testing.T) {
	s := newTestServer(t, 0)

	s.do(t, http.MethodGet, "/api/v1/instances", nil, nil)
	var e apiError
	s.do(t, http.MethodPost, "/api/v1/credentials", credentialRequest{}, &e)

	logs, err := s.audit.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "user:admin", logs[0].Actor)
	assert.Equal(t, "POST /api/v1/credentials", logs[0].Action)
	assert.Equal(t, "failed", logs[0].Status)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, 2)

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, s.do(t, http.MethodGet, "/api/v1/jobs", nil, nil))
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestUnknownFieldRejected(t *testing.T) {
	s := newTestServer(t, 0)
	var e apiError
	code := s.do(t, http.MethodPost, "/api/v1/sync/one", map[string]any{"instance": 1}, &e)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, e.Error.Message, "invalid request body")
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
