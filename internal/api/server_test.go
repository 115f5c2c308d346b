package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	qmemory "github.com/papertrawl/papertrawl/internal/queue/memory"
	"github.com/papertrawl/papertrawl/internal/scholar"
	"github.com/papertrawl/papertrawl/internal/storage/memory"
)

type fakeController struct {
	pauseOK  bool
	cancelOK bool
	paused   []string
	canceled []string
}

func (f *fakeController) Pause(jobID string) bool {
	f.paused = append(f.paused, jobID)
	return f.pauseOK
}

func (f *fakeController) Cancel(jobID string) bool {
	f.canceled = append(f.canceled, jobID)
	return f.cancelOK
}

type fakeIDGen struct {
	next int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.next++
	return "id-" + string(rune('0'+f.next)), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type testServer struct {
	server     *Server
	jobs       *memory.JobStore
	records    *memory.RecordStore
	queue      *qmemory.Queue
	controller *fakeController
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		jobs:       memory.NewJobStore(),
		records:    memory.NewRecordStore(),
		queue:      qmemory.NewQueue(8),
		controller: &fakeController{},
	}
	ts.server = NewServer(ts.jobs, ts.records, ts.queue, ts.controller, &fakeIDGen{}, fixedClock{now: time.Now()}, nil)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func seed(t *testing.T, ts *testServer, id string, status scholar.JobStatus) {
	t.Helper()
	err := ts.jobs.CreateJob(context.Background(), scholar.Job{
		ID:        id,
		Spec:      scholar.SearchSpec{IncludeTerms: []string{"q"}},
		Status:    status,
		Submitted: time.Now(),
	})
	require.NoError(t, err)
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = ts.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_SubmitJob(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/v1/jobs", `{
		"name": "ml survey",
		"include_terms": ["machine learning"],
		"exclude_terms": ["survey"],
		"start_year": 2020,
		"end_year": 2022,
		"max_results": 100
	}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)
	require.Equal(t, "pending", body["status"])

	// The job is persisted and queued for the worker.
	jb, err := ts.jobs.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, scholar.JobStatusPending, jb.Status)
	require.Equal(t, "ml survey", jb.Name)
	require.Equal(t, []string{"machine learning"}, jb.Spec.IncludeTerms)

	queued, err := ts.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, jobID, queued)
}

func TestServer_SubmitJob_BadRequests(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/jobs", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/jobs", `{"name": "no terms"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "include term")

	rec = ts.do(t, http.MethodPost, "/v1/jobs", `{"include_terms": ["x"], "start_year": 2022, "end_year": 2020}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetJob(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	seed(t, ts, "j1", scholar.JobStatusRunning)

	rec := ts.do(t, http.MethodGet, "/v1/jobs/j1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/jobs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListJobs_EmptyIsArray(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"jobs": []}`, rec.Body.String())
}

func TestServer_GetJobRecords(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	seed(t, ts, "j1", scholar.JobStatusCompleted)
	err := ts.records.AppendRecords(context.Background(), "j1", []scholar.Record{
		{Title: "a"}, {Title: "b"},
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/v1/jobs/j1/records", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(2), body["count"])

	rec = ts.do(t, http.MethodGet, "/v1/jobs/missing/records", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_PauseJob(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.controller.pauseOK = true
	seed(t, ts, "running", scholar.JobStatusRunning)
	seed(t, ts, "pending", scholar.JobStatusPending)

	rec := ts.do(t, http.MethodPost, "/v1/jobs/running/pause", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{"running"}, ts.controller.paused)

	// Only a running job can be paused.
	rec = ts.do(t, http.MethodPost, "/v1/jobs/pending/pause", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/jobs/missing/pause", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_PauseJob_NotOnThisWorker(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.controller.pauseOK = false
	seed(t, ts, "j1", scholar.JobStatusRunning)

	rec := ts.do(t, http.MethodPost, "/v1/jobs/j1/pause", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_ResumeJob(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	seed(t, ts, "paused", scholar.JobStatusPaused)
	seed(t, ts, "done", scholar.JobStatusCompleted)

	rec := ts.do(t, http.MethodPost, "/v1/jobs/paused/resume", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	queued, err := ts.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "paused", queued)

	rec = ts.do(t, http.MethodPost, "/v1/jobs/done/resume", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_CancelJob_RunningGoesThroughController(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.controller.cancelOK = true
	seed(t, ts, "j1", scholar.JobStatusRunning)

	rec := ts.do(t, http.MethodPost, "/v1/jobs/j1/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{"j1"}, ts.controller.canceled)

	// The controller owns the transition; the store still says running.
	jb, err := ts.jobs.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	require.Equal(t, scholar.JobStatusRunning, jb.Status)
}

func TestServer_CancelJob_QueuedCanceledInStore(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	seed(t, ts, "j1", scholar.JobStatusPending)

	rec := ts.do(t, http.MethodPost, "/v1/jobs/j1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	jb, err := ts.jobs.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	require.Equal(t, scholar.JobStatusCanceled, jb.Status)
}

func TestServer_CancelJob_TerminalConflicts(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	seed(t, ts, "j1", scholar.JobStatusCompleted)

	rec := ts.do(t, http.MethodPost, "/v1/jobs/j1/cancel", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_RequestIDHeader(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
