package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redmansion/internal/apperr"
	"redmansion/internal/database"
	"redmansion/internal/models"
	"redmansion/internal/repository"
	"redmansion/internal/security"
	"redmansion/internal/service"
)

type fakeProgress struct {
	progress  *models.DailyTaskProgress
	result    *service.CompletionResult
	err       error
	gotUser   string
	gotTask   string
	gotDate   string
	gotAnswer string
}

func (f *fakeProgress) GenerateDailyTasks(ctx context.Context, userID, date string) (*models.DailyTaskProgress, error) {
	f.gotUser, f.gotDate = userID, date
	return f.progress, f.err
}

func (f *fakeProgress) GetProgress(ctx context.Context, userID, date string) (*models.DailyTaskProgress, error) {
	f.gotUser, f.gotDate = userID, date
	return f.progress, f.err
}

func (f *fakeProgress) StartTask(ctx context.Context, userID, taskID string) (*models.DailyTaskProgress, error) {
	f.gotUser, f.gotTask = userID, taskID
	return f.progress, f.err
}

func (f *fakeProgress) SkipTask(ctx context.Context, userID, taskID string) (*models.DailyTaskProgress, error) {
	f.gotUser, f.gotTask = userID, taskID
	return f.progress, f.err
}

func (f *fakeProgress) SubmitCompletion(ctx context.Context, userID, taskID, response string) (*service.CompletionResult, error) {
	f.gotUser, f.gotTask, f.gotAnswer = userID, taskID, response
	return f.result, f.err
}

func (f *fakeProgress) ResetProgress(ctx context.Context, userID string) (int64, error) {
	f.gotUser = userID
	return 2, f.err
}

type fakeLedger struct {
	limit    int
	txns     []models.XPTransaction
	err      error
	notFound bool
}

type fakeActivities struct {
	userID   string
	source   models.XPSource
	sourceID string
	err      error
}

func (f *fakeActivities) RecordActivity(ctx context.Context, userID string, source models.XPSource, sourceID string) (*service.AwardResult, error) {
	f.userID, f.source, f.sourceID = userID, source, sourceID
	if f.err != nil {
		return nil, f.err
	}
	return &service.AwardResult{Success: true, AwardedXP: 30, NewTotalXP: 30}, nil
}

func (f *fakeLedger) ListTransactions(ctx context.Context, userID string, limit int) ([]models.XPTransaction, error) {
	f.limit = limit
	return f.txns, f.err
}

func (f *fakeLedger) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if f.notFound {
		return nil, apperr.New(apperr.NotFound, "GetUser", "user %s not found", userID)
	}
	return &models.User{ID: userID, TotalXP: 100, CurrentLevel: 1, CurrentXP: 10}, nil
}

func (f *fakeLedger) GetLevelInfo(ctx context.Context, userID string) (*models.LevelInfo, error) {
	return &models.LevelInfo{Level: 1, CurrentXP: 10, TotalXP: 100, XPToNextLevel: 80}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(ctx context.Context) error { return p.err }

type testServer struct {
	handler    http.Handler
	progress   *fakeProgress
	ledger     *fakeLedger
	activity   *fakeActivities
	startup    *StartupStatus
	middleware *Middleware
	token      string
}

func newTestServer(t *testing.T, limiter *security.RateLimiter) *testServer {
	t.Helper()
	tm, err := security.NewTokenManager("test-secret")
	require.NoError(t, err)
	token, err := tm.Issue("reader-1", time.Hour)
	require.NoError(t, err)

	ts := &testServer{
		progress: &fakeProgress{progress: &models.DailyTaskProgress{UserID: "reader-1", Date: "2026-10-17"}},
		ledger:   &fakeLedger{},
		activity: &fakeActivities{},
		startup:  NewStartupStatus(StepDatabase, StepServices),
		token:    token,
	}
	ts.startup.MarkReady()
	ts.middleware = NewMiddleware(tm, limiter, nil)
	ts.handler = NewRouter(Routes{
		Tasks:      NewTaskHandler(ts.progress, nil),
		Ledger:     NewLedgerHandler(ts.ledger, ts.activity, nil),
		Middleware: ts.middleware,
		Startup:    ts.startup,
		DB:         fakePinger{},
	})
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer "+ts.token)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequireAuth(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"bad token", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decodeError(t, rec).Code)
		})
	}
}

func TestGenerateDaily(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/tasks/daily/generate", `{"date":"2026-10-17"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reader-1", ts.progress.gotUser)
	assert.Equal(t, "2026-10-17", ts.progress.gotDate)

	// An empty body means today
	rec = ts.do(http.MethodPost, "/api/tasks/daily/generate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", ts.progress.gotDate)

	rec = ts.do(http.MethodPost, "/api/tasks/daily/generate", `{"date":"17/10/2026"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", decodeError(t, rec).Code)

	rec = ts.do(http.MethodPost, "/api/tasks/daily/generate", `{"unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDailyNotGenerated(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.progress.progress = nil

	rec := ts.do(http.MethodGet, "/api/tasks/daily?date=2026-10-16", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "2026-10-16", ts.progress.gotDate)
}

func TestSubmitTask(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.progress.result = &service.CompletionResult{Success: true, TaskID: "t1", Score: 80, XPAwarded: 50}

	rec := ts.do(http.MethodPost, "/api/tasks/t1/submit", `{"response":"黛玉葬花寄託身世之悲"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", ts.progress.gotTask)
	assert.Equal(t, "黛玉葬花寄託身世之悲", ts.progress.gotAnswer)

	var got service.CompletionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 50, got.XPAwarded)
}

func TestTaskTransitions(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, action := range []string{"start", "skip"} {
		rec := ts.do(http.MethodPost, "/api/tasks/t9/"+action, "")
		assert.Equal(t, http.StatusOK, rec.Code, action)
		assert.Equal(t, "t9", ts.progress.gotTask)
	}

	rec := ts.do(http.MethodDelete, "/api/tasks/daily", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":2}`, rec.Body.String())
}

func TestErrorKindMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.New(apperr.InvalidArgument, "op", "bad"), http.StatusBadRequest, "invalid_argument"},
		{apperr.New(apperr.NotFound, "op", "missing"), http.StatusNotFound, "not_found"},
		{apperr.New(apperr.AlreadyCompleted, "op", "done"), http.StatusConflict, "already_completed"},
		{apperr.New(apperr.DuplicateContent, "op", "dup"), http.StatusConflict, "duplicate_content"},
		{apperr.New(apperr.RateLimited, "op", "slow down"), http.StatusTooManyRequests, "rate_limited"},
		{apperr.New(apperr.Forbidden, "op", "no"), http.StatusForbidden, "forbidden"},
		{apperr.E(apperr.PersistenceFailure, "op", errors.New("disk full")), http.StatusInternalServerError, "persistence_failure"},
		{errors.New("boom"), http.StatusInternalServerError, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.progress.err = tt.err

			rec := ts.do(http.MethodPost, "/api/tasks/t1/submit", `{"response":"x"}`)
			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Code)
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, ErrInternalServerError, body.Error)
			} else {
				assert.NotContains(t, body.Error, "op:")
			}
		})
	}
}

func TestRecordActivity(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/ledger/activity", `{"source":"reading","sourceId":"chapter-3"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reader-1", ts.activity.userID)
	assert.Equal(t, models.SourceReading, ts.activity.source)
	assert.Equal(t, "chapter-3", ts.activity.sourceID)

	invalid := []string{
		`{"amount":500,"source":"reading","sourceId":"chapter-3"}`,
		`{"source":"admin","sourceId":"chapter-3"}`,
		`{"source":"community","sourceId":"post-1"}`,
		`{"source":"daily_task","sourceId":"chapter-3"}`,
		`{"source":"note"}`,
		`not json`,
	}
	for _, body := range invalid {
		rec := ts.do(http.MethodPost, "/api/ledger/activity", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	ts.activity.err = apperr.New(apperr.InvalidArgument, "ResolveActivity", "sourceId does not match")
	rec = ts.do(http.MethodPost, "/api/ledger/activity", `{"source":"reading","sourceId":"made-up-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordActivityAgainstLedger(t *testing.T) {
	db, err := database.Initialize(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	users := repository.NewUserRepository(db)
	_, err = users.CreateUser(context.Background(), "reader-1", "reader")
	require.NoError(t, err)

	ledger := service.NewLedgerService(db, users, repository.NewLedgerRepository(db), nil)
	policies := service.NewPolicySet(service.NewStandardPolicy(ledger), &service.FixedStatePolicy{}, nil)

	ts := newTestServer(t, nil)
	ts.handler = NewRouter(Routes{
		Tasks:      NewTaskHandler(ts.progress, nil),
		Ledger:     NewLedgerHandler(ledger, service.NewActivityService(policies, nil), nil),
		Middleware: ts.middleware,
		Startup:    ts.startup,
	})

	for i := 0; i < 10; i++ {
		body := fmt.Sprintf(`{"amount":500,"source":"reading","sourceId":"made-up-%d"}`, i)
		assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/ledger/activity", body).Code)
		body = fmt.Sprintf(`{"source":"reading","sourceId":"made-up-%d"}`, i)
		assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/ledger/activity", body).Code)
	}
	for i := 0; i < 3; i++ {
		rec := ts.do(http.MethodPost, "/api/ledger/activity", `{"source":"reading","sourceId":"chapter-8"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	user, err := ledger.GetUser(context.Background(), "reader-1")
	require.NoError(t, err)
	assert.Equal(t, 30, user.TotalXP)
}

func TestTransactionsLimit(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/ledger/transactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultTransactionLimit, ts.ledger.limit)
	assert.JSONEq(t, `{"transactions":[]}`, rec.Body.String())

	ts.do(http.MethodGet, "/api/ledger/transactions?limit=1000", "")
	assert.Equal(t, maxTransactionLimit, ts.ledger.limit)

	rec = ts.do(http.MethodGet, "/api/ledger/transactions?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMe(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/users/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		User  models.User      `json:"user"`
		Level models.LevelInfo `json:"level"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "reader-1", body.User.ID)
	assert.Equal(t, 80, body.Level.XPToNextLevel)

	ts.ledger.notFound = true
	rec = ts.do(http.MethodGet, "/api/users/me", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := security.NewRateLimiter(2, time.Minute)
	defer limiter.Close()
	ts := newTestServer(t, limiter)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/users/me", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/users/me", "").Code)
	rec := ts.do(http.MethodGet, "/api/users/me", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestHealth(t *testing.T) {
	status := NewStartupStatus(StepDatabase, StepMigrations)
	handler := status.Health(fakePinger{})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	status.CompleteStep(StepDatabase)
	var body healthResponse
	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 50, body.Progress)
	assert.Equal(t, "starting", body.Status)

	status.MarkReady()
	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	status.Health(fakePinger{err: errors.New("connection refused")})(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
