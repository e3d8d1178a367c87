package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailpipe/internal/dispatch"
	"mailpipe/internal/models"
	"mailpipe/internal/scheduler"
	"mailpipe/internal/worker"
)

type fakeQueue struct {
	enqueued int
}

func (f *fakeQueue) Enqueue(ctx context.Context, toEmail, templateType string, variables map[string]string, scheduledFor time.Time) (int64, error) {
	f.enqueued++
	return int64(f.enqueued), nil
}

type fakeViewer struct {
	counts map[models.EmailStatus]int64
	jobs   []models.EmailJob
}

func (f *fakeViewer) CountByStatus(ctx context.Context) (map[models.EmailStatus]int64, error) {
	return f.counts, nil
}

func (f *fakeViewer) ListRecent(ctx context.Context, limit int) ([]models.EmailJob, error) {
	if limit < len(f.jobs) {
		return f.jobs[:limit], nil
	}
	return f.jobs, nil
}

type fakeProcessor struct {
	result worker.Result
}

func (f *fakeProcessor) Process(ctx context.Context) (worker.Result, error) {
	return f.result, nil
}

type triggerQueue struct {
	counts map[models.EmailStatus]int64
}

func (f *triggerQueue) HasEligible(ctx context.Context, now time.Time) (bool, error) {
	return false, nil
}

func (f *triggerQueue) CountByStatus(ctx context.Context) (map[models.EmailStatus]int64, error) {
	return f.counts, nil
}

func newTestHandler(queue *fakeQueue, viewer *fakeViewer) *Handler {
	dispatcher := dispatch.NewService(queue, nil, nil, nil, nil, zap.NewNop())

	trigger := scheduler.NewTrigger(
		&fakeProcessor{result: worker.Result{Processed: 2, TotalJobs: 2}},
		&triggerQueue{counts: map[models.EmailStatus]int64{models.StatusPending: 3}},
		zap.NewNop(),
	)

	return &Handler{
		Dispatcher: dispatcher,
		Trigger:    trigger,
		Queue:      viewer,
		Log:        zap.NewNop(),
	}
}

func TestDispatchEmailDeferredEnqueues(t *testing.T) {
	queue := &fakeQueue{}
	h := newTestHandler(queue, &fakeViewer{})
	router := NewRouter(h)

	body := `{"to_email":"ana@example.com","template_type":"welcome","variables":{"name":"Ana"},"delay_hours":24}`
	req := httptest.NewRequest(http.MethodPost, "/api/emails", strings.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, queue.enqueued)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["job_id"])
	assert.NotEmpty(t, resp["scheduled_for"])
}

func TestDispatchEmailValidatesRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing recipient", body: `{"template_type":"welcome","delay_hours":1}`},
		{name: "missing template", body: `{"to_email":"ana@example.com","delay_hours":1}`},
		{name: "negative delay", body: `{"to_email":"a@x.com","template_type":"welcome","delay_hours":-1}`},
		{name: "malformed json", body: `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &fakeQueue{}
			router := NewRouter(newTestHandler(queue, &fakeViewer{}))

			req := httptest.NewRequest(http.MethodPost, "/api/emails", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, queue.enqueued)
		})
	}
}

func TestBulkEnqueue(t *testing.T) {
	queue := &fakeQueue{}
	router := NewRouter(newTestHandler(queue, &fakeViewer{}))

	csv := "Email,name\nana@example.com,Ana\nluis@example.com,Luis\n"
	req := httptest.NewRequest(http.MethodPost, "/api/emails/bulk?template_type=welcome&delay_hours=1", strings.NewReader(csv))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 2, queue.enqueued)
}

func TestBulkEnqueueRequiresTemplateType(t *testing.T) {
	router := NewRouter(newTestHandler(&fakeQueue{}, &fakeViewer{}))

	req := httptest.NewRequest(http.MethodPost, "/api/emails/bulk", strings.NewReader("Email\na@x.com\n"))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueStats(t *testing.T) {
	viewer := &fakeViewer{counts: map[models.EmailStatus]int64{
		models.StatusPending: 4,
		models.StatusFailed:  1,
	}}
	router := NewRouter(newTestHandler(&fakeQueue{}, viewer))

	req := httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(4), resp["pending"])
	assert.Equal(t, int64(1), resp["failed"])
	assert.Equal(t, int64(0), resp["sent"])
}

func TestProcessQueueReportsResult(t *testing.T) {
	router := NewRouter(newTestHandler(&fakeQueue{}, &fakeViewer{}))

	req := httptest.NewRequest(http.MethodPost, "/api/queue/process", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success          bool          `json:"success"`
		ProcessResult    worker.Result `json:"process_result"`
		RemainingPending int64         `json:"remaining_pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.ProcessResult.Processed)
	assert.Equal(t, int64(3), resp.RemainingPending)
}

func TestRecentJobs(t *testing.T) {
	viewer := &fakeViewer{jobs: []models.EmailJob{
		{ID: 1, ToEmail: "ana@example.com", Status: models.StatusSent, TemplateType: "welcome"},
	}}
	router := NewRouter(newTestHandler(&fakeQueue{}, viewer))

	req := httptest.NewRequest(http.MethodGet, "/api/queue/jobs?limit=10", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ana@example.com")
}

func TestHealth(t *testing.T) {
	router := NewRouter(newTestHandler(&fakeQueue{}, &fakeViewer{}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
