package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/interview-render/internal/cleanup"
	"github.com/codebuildervaibhav/interview-render/internal/queue"
	"github.com/codebuildervaibhav/interview-render/internal/storage"
	"github.com/codebuildervaibhav/interview-render/internal/types"
)

type fakeJobs struct {
	jobs      map[string]types.Job
	order     []string
	submitted []types.Submission
	submitErr error
	stats     types.Stats
	holders   []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]types.Job{}, stats: types.Stats{MaxConcurrent: 10}}
}

func (f *fakeJobs) add(job types.Job) {
	f.jobs[job.ID] = job
	f.order = append(f.order, job.ID)
}

func (f *fakeJobs) Submit(sub types.Submission) (types.Job, error) {
	if f.submitErr != nil {
		return types.Job{}, f.submitErr
	}
	f.submitted = append(f.submitted, sub)
	job := types.Job{ID: uuid.NewString(), Status: types.StatusQueued, InputRefs: sub.InputRefs, QueuePosition: 3}
	f.add(job)
	return job, nil
}

func (f *fakeJobs) Job(id string) (types.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return types.Job{}, types.Wrap(types.ErrNotFound, "", "", "job "+id, nil)
	}
	return job, nil
}

func (f *fakeJobs) Jobs() []types.Job {
	out := make([]types.Job, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.jobs[id])
	}
	return out
}

func (f *fakeJobs) Stats() types.Stats     { return f.stats }
func (f *fakeJobs) SlotHolders() []string { return f.holders }

type fakeOutputs map[string]string

func (f fakeOutputs) Lookup(id string) (string, error) {
	if path, ok := f[id]; ok {
		return path, nil
	}
	return "", types.ErrNotFound
}

type fakeSweeper struct{ calls []time.Duration }

func (f *fakeSweeper) SweepOrphans(maxAge time.Duration) cleanup.Result {
	f.calls = append(f.calls, maxAge)
	return cleanup.Result{Removed: 2}
}

type fakeRenders []storage.RenderRecord

func (f fakeRenders) ListRenders(_ context.Context, limit int) ([]storage.RenderRecord, error) {
	if limit < len(f) {
		return f[:limit], nil
	}
	return f, nil
}

type testServer struct {
	app     *fiber.App
	jobs    *fakeJobs
	outputs fakeOutputs
	sweeper *fakeSweeper
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		app:     fiber.New(),
		jobs:    newFakeJobs(),
		outputs: fakeOutputs{},
		sweeper: &fakeSweeper{},
	}
	Register(ts.app, Deps{
		Jobs:    ts.jobs,
		Outputs: ts.outputs,
		Sweeper: ts.sweeper,
		Renders: fakeRenders{{JobID: "a", CandidateLabel: "Ana"}, {JobID: "b", CandidateLabel: "Bruno"}},
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func TestSubmitInterview(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.stats.QueueLength = 3

	status, body := ts.do(t, http.MethodPost, "/api/interview",
		`{"videos":["https://cdn.example.com/q.mp4","https://cdn.example.com/a.mp4"],"name":"Ana Souza","process":"Backend","external_ref":"crm-7"}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["status"] != "queued" || body["position"] != float64(3) || body["estimated_wait_minutes"] != float64(6) {
		t.Fatalf("body = %v", body)
	}
	if len(ts.jobs.submitted) != 1 {
		t.Fatalf("submitted = %d", len(ts.jobs.submitted))
	}
	sub := ts.jobs.submitted[0]
	if sub.CandidateLabel != "Ana Souza" || sub.Process != "Backend" || sub.ExternalRef != "crm-7" || len(sub.InputRefs) != 2 {
		t.Fatalf("submission = %+v", sub)
	}
}

func TestSubmitInterviewRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed", `{"videos":`, "ERR_INVALID_BODY"},
		{"one video", `{"videos":["https://cdn.example.com/q.mp4"],"name":"Ana"}`, "ERR_TOO_FEW_VIDEOS"},
		{"bad url", `{"videos":["https://cdn.example.com/q.mp4","ftp://x/a.mp4"],"name":"Ana"}`, "ERR_INVALID_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			status, body := ts.do(t, http.MethodPost, "/api/interview", tt.body)
			if status != http.StatusBadRequest || body["code"] != tt.code {
				t.Fatalf("status = %d, body = %v", status, body)
			}
			if len(ts.jobs.submitted) != 0 {
				t.Fatal("rejected request reached the scheduler")
			}
		})
	}
}

func TestSubmitInterviewMapsSchedulerErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.submitErr = &types.ValidationError{Message: "candidate label is required"}
	status, body := ts.do(t, http.MethodPost, "/api/interview",
		`{"videos":["https://cdn.example.com/q.mp4","https://cdn.example.com/a.mp4"]}`)
	if status != http.StatusBadRequest || body["error"] != "candidate label is required" {
		t.Fatalf("status = %d, body = %v", status, body)
	}

	ts.jobs.submitErr = queue.ErrShuttingDown
	status, _ = ts.do(t, http.MethodPost, "/api/interview",
		`{"videos":["https://cdn.example.com/q.mp4","https://cdn.example.com/a.mp4"],"name":"Ana"}`)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", status)
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	done := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	doneID, failedID, runningID := uuid.NewString(), uuid.NewString(), uuid.NewString()
	ts.jobs.add(types.Job{ID: doneID, Status: types.StatusDone, CompletedAt: &done, OutputRef: "/out/video.mp4"})
	ts.jobs.add(types.Job{ID: failedID, Status: types.StatusFailed, ErrorAt: &done, FailureKind: types.KindTimeout,
		FailureDetail: types.Wrap(types.ErrTimeout, "title", "", "deadline of 2m0s exceeded", nil).Error()})
	ts.jobs.add(types.Job{ID: runningID, Status: types.StatusProcessing, Stage: "compose"})
	ts.jobs.stats.OccupiedSlots = 1

	_, body := ts.do(t, http.MethodGet, "/api/status/"+doneID, "")
	if body["download"] != "/api/download/"+doneID {
		t.Fatalf("done body = %v", body)
	}

	_, body = ts.do(t, http.MethodGet, "/api/status/"+failedID, "")
	if body["status"] != "failed" || body["error_kind"] != "timeout" || !strings.Contains(body["error"].(string), "title") {
		t.Fatalf("failed body = %v", body)
	}

	_, body = ts.do(t, http.MethodGet, "/api/status/"+runningID, "")
	if body["stage"] != "compose" || body["current_processing_jobs"] != float64(1) || body["max_concurrent_jobs"] != float64(10) {
		t.Fatalf("running body = %v", body)
	}

	if status, _ := ts.do(t, http.MethodGet, "/api/status/"+uuid.NewString(), ""); status != http.StatusNotFound {
		t.Fatalf("unknown id status = %d", status)
	}
	if status, _ := ts.do(t, http.MethodGet, "/api/status/not-a-uuid", ""); status != http.StatusBadRequest {
		t.Fatalf("invalid id status = %d", status)
	}
}

func TestStatusHealthRouteIsNotAJobID(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodGet, "/api/status/health", "")
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if _, ok := body["uptime"]; !ok {
		t.Fatalf("uptime missing: %v", body)
	}
}

func TestDownload(t *testing.T) {
	ts := newTestServer(t)
	id := uuid.NewString()
	path := filepath.Join(t.TempDir(), "video_"+id+".mp4")
	if err := os.WriteFile(path, []byte("mp4 bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	ts.jobs.add(types.Job{ID: id, Status: types.StatusDone})
	ts.outputs[id] = path

	req := httptest.NewRequest(http.MethodGet, "/api/download/"+id, nil)
	resp, err := ts.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(data) != "mp4 bytes" {
		t.Fatalf("download = %d %q", resp.StatusCode, data)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "entrevista_"+id+".mp4") {
		t.Fatalf("Content-Disposition = %q", cd)
	}

	pending := uuid.NewString()
	ts.jobs.add(types.Job{ID: pending, Status: types.StatusProcessing})
	if status, _ := ts.do(t, http.MethodGet, "/api/download/"+pending, ""); status != http.StatusBadRequest {
		t.Fatalf("pending download status = %d", status)
	}

	missing := uuid.NewString()
	ts.jobs.add(types.Job{ID: missing, Status: types.StatusDone})
	if status, _ := ts.do(t, http.MethodGet, "/api/download/"+missing, ""); status != http.StatusNotFound {
		t.Fatalf("missing file status = %d", status)
	}
}

func TestStatsAndDebug(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now()
	running := types.Job{ID: uuid.NewString(), Status: types.StatusDownloading, CreatedAt: now.Add(-time.Minute)}
	ts.jobs.add(running)
	ts.jobs.add(types.Job{ID: uuid.NewString(), Status: types.StatusDone, CreatedAt: now})
	ts.jobs.holders = []string{running.ID}
	ts.jobs.stats = types.Stats{TotalJobs: 2, MaxConcurrent: 10, OccupiedSlots: 1, SuccessRatePct: 100}

	_, body := ts.do(t, http.MethodGet, "/api/stats", "")
	if body["total_jobs"] != float64(2) || body["success_rate"] != float64(100) {
		t.Fatalf("stats = %v", body)
	}

	_, body = ts.do(t, http.MethodGet, "/api/debug", "")
	if body["counter_mismatch"] != false || body["real_active_jobs"] != float64(1) {
		t.Fatalf("debug = %v", body)
	}
	if last, _ := body["last_jobs"].([]any); len(last) != 2 {
		t.Fatalf("last_jobs = %v", body["last_jobs"])
	}

	ts.jobs.holders = nil
	_, body = ts.do(t, http.MethodGet, "/api/debug", "")
	if body["counter_mismatch"] != true {
		t.Fatalf("debug mismatch not flagged: %v", body)
	}
}

func TestCleanupSweepsRegardlessOfAge(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodPost, "/api/cleanup", "")
	if status != http.StatusOK || len(ts.sweeper.calls) != 1 || ts.sweeper.calls[0] != 0 {
		t.Fatalf("status = %d, calls = %v", status, ts.sweeper.calls)
	}
	if result, _ := body["result"].(map[string]any); result["removed"] != float64(2) {
		t.Fatalf("body = %v", body)
	}
}

func TestRenders(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/renders?limit=1", nil)
	resp, err := ts.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var list []storage.RenderRecord
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].CandidateLabel != "Ana" {
		t.Fatalf("renders = %+v", list)
	}
}

func TestStreamRejectsPlainHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := uuid.NewString()
	ts.jobs.add(types.Job{ID: id, Status: types.StatusQueued})
	if status, _ := ts.do(t, http.MethodGet, "/ws/jobs/"+id, ""); status != fiber.StatusUpgradeRequired {
		t.Fatalf("status = %d, want 426", status)
	}
}
