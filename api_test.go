package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*API, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	api := &API{
		logger: testLogger(),
		queue:  NewQueue(nil, nil),
		store:  newTestStore(t),
	}
	return api, NewRouter(api, nil)
}

func doRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var payload bytes.Buffer
	if body != nil {
		json.NewEncoder(&payload).Encode(body)
	}

	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	_, router := newTestAPI(t)

	w := doRequest(router, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
}

func TestAddJob(t *testing.T) {
	api, router := newTestAPI(t)

	w := doRequest(router, http.MethodPost, "/jobs", gin.H{"path": "/videos/a.mp4", "exp": 2, "skip": true})
	require.Equal(t, http.StatusCreated, w.Code)

	var job Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.NotZero(t, job.ID)
	assert.NotEmpty(t, job.RunID)
	assert.Equal(t, 2, job.Exp)
	assert.Equal(t, "mp4", job.Ext)
	assert.True(t, job.Skip)
	assert.Equal(t, JobQueued, job.Status)

	queued, index := api.queue.FindByID(job.ID)
	assert.Equal(t, 0, index)
	assert.Equal(t, job.RunID, queued.RunID)
}

func TestAddJobDefaultsExp(t *testing.T) {
	_, router := newTestAPI(t)

	w := doRequest(router, http.MethodPost, "/jobs", gin.H{"path": "/videos/a.mp4"})
	require.Equal(t, http.StatusCreated, w.Code)

	var job Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, 1, job.Exp)
}

func TestAddJobValidation(t *testing.T) {
	api, router := newTestAPI(t)

	tests := []gin.H{
		{},
		{"exp": 1},
		{"path": "/videos/a.mp4", "exp": 4},
		{"path": "/videos/a.mp4", "exp": -1},
		{"path": "/videos/a.mp4", "fps": -24},
	}

	for _, body := range tests {
		w := doRequest(router, http.MethodPost, "/jobs", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%v", body)
	}
	assert.Zero(t, api.queue.Len())
}

func TestGetJobs(t *testing.T) {
	_, router := newTestAPI(t)
	doRequest(router, http.MethodPost, "/jobs", gin.H{"path": "/videos/a.mp4"})
	doRequest(router, http.MethodPost, "/jobs", gin.H{"path": "/videos/b.mp4"})

	w := doRequest(router, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var jobs []Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, "/videos/a.mp4", jobs[0].Path)

	w = doRequest(router, http.MethodGet, "/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 2)
}

func TestGetJob(t *testing.T) {
	_, router := newTestAPI(t)

	w := doRequest(router, http.MethodPost, "/jobs", gin.H{"path": "/videos/a.mp4"})
	var created Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doRequest(router, http.MethodGet, "/jobs/1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var job Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, created.RunID, job.RunID)

	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, "/jobs/42", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(router, http.MethodGet, "/jobs/abc", nil).Code)
}

func TestDeleteQueuedJob(t *testing.T) {
	api, router := newTestAPI(t)
	doRequest(router, http.MethodPost, "/jobs", gin.H{"path": "/videos/a.mp4"})

	w := doRequest(router, http.MethodDelete, "/jobs/1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, api.queue.Len())

	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodDelete, "/jobs/1", nil).Code)
}

func TestDeleteRunningJob(t *testing.T) {
	api, router := newTestAPI(t)
	doRequest(router, http.MethodPost, "/jobs", gin.H{"path": "/videos/a.mp4"})

	// A worker holds the job
	job, ok := api.queue.Dequeue()
	require.True(t, ok)
	require.NoError(t, api.store.(*Sqlite).MarkRunning(&job))

	w := doRequest(router, http.MethodDelete, "/jobs/1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeleteClaimedJob(t *testing.T) {
	api, router := newTestAPI(t)
	api.poolWorker = NewPoolWorker(context.Background(), testLogger(), api.queue, testConfig(t),
		api.store.(*Sqlite), nil, nil, linearFactory)
	doRequest(router, http.MethodPost, "/jobs", gin.H{"path": "/videos/a.mp4"})

	// The dispatcher took the job, the worker has not marked it running yet
	_, ok := api.poolWorker.claim()
	require.True(t, ok)

	w := doRequest(router, http.MethodDelete, "/jobs/1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	job, err := api.store.GetJob(1)
	require.NoError(t, err)
	assert.Equal(t, JobQueued, job.Status)
}

func TestListWorkersWithoutPool(t *testing.T) {
	_, router := newTestAPI(t)

	w := doRequest(router, http.MethodGet, "/workers", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := newTestAPI(t)
	recordResult(RunResult{FramesWritten: 10})

	w := doRequest(router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "frameup_frames_written_total")
}
