package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/codebuildervaibhav/interview-render/internal/cleanup"
	"github.com/codebuildervaibhav/interview-render/internal/storage"
	"github.com/codebuildervaibhav/interview-render/internal/types"
)

type fakeAPI struct {
	submitted map[string]any
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, types.Stats{
			TotalJobs:      4,
			ByStatus:       map[types.Status]int{types.StatusDone: 3, types.StatusFailed: 1},
			OccupiedSlots:  2,
			MaxConcurrent:  10,
			SuccessRatePct: 75,
		})
	})
	mux.HandleFunc("/api/status/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/status/")
		switch id {
		case "done-job":
			writeBody(w, http.StatusOK, map[string]any{"job_id": id, "status": "done", "download": "/api/download/" + id})
		case "failed-job":
			writeBody(w, http.StatusOK, map[string]any{"job_id": id, "status": "failed", "error": "title: timeout: deadline of 2m0s exceeded", "error_kind": "timeout"})
		default:
			writeBody(w, http.StatusNotFound, map[string]any{"error": "not found: job " + id, "code": "ERR_NOT_FOUND"})
		}
	})
	mux.HandleFunc("/api/interview", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.submitted)
		writeBody(w, http.StatusOK, map[string]any{"job_id": "new-job", "status": "queued", "position": 2, "estimated_wait_minutes": 4})
	})
	mux.HandleFunc("/api/renders", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			writeBody(w, http.StatusBadRequest, map[string]any{"error": "unexpected limit"})
			return
		}
		writeBody(w, http.StatusOK, []storage.RenderRecord{{
			JobID: "job-1", CandidateLabel: "Ana", Process: "Backend", InputCount: 4,
			SizeBytes: 3 * 1024 * 1024, RenderSeconds: 95, CreatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		}})
	})
	mux.HandleFunc("/api/cleanup", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeBody(w, http.StatusOK, map[string]any{"message": "Cleanup complete", "result": cleanup.Result{Removed: 3, Skipped: 1}})
	})
	return mux
}

func writeBody(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func runCLI(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func requireContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Fatalf("output missing %q:\n%s", want, out)
	}
}

func TestStatsCommand(t *testing.T) {
	srv := httptest.NewServer((&fakeAPI{}).handler())
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	requireContains(t, out, "done")
	requireContains(t, out, "Slots: 2/10")
	requireContains(t, out, "Success rate: 75%")
}

func TestStatusCommand(t *testing.T) {
	srv := httptest.NewServer((&fakeAPI{}).handler())
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "status", "done-job")
	if err != nil {
		t.Fatalf("status done: %v", err)
	}
	requireContains(t, out, srv.URL+"/api/download/done-job")

	out, err = runCLI(t, srv.URL, "status", "failed-job")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	requireContains(t, out, "timeout")

	_, err = runCLI(t, srv.URL, "status", "missing")
	if err == nil || !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "ERR_NOT_FOUND") {
		t.Fatalf("status missing error = %v", err)
	}
}

func TestSubmitCommand(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "submit", "--name", "Ana", "--process", "Backend",
		"https://cdn.example.com/q.mp4", "https://cdn.example.com/a.mp4")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireContains(t, out, "Queued new-job")
	requireContains(t, out, "position 2")
	if api.submitted["name"] != "Ana" || len(api.submitted["videos"].([]any)) != 2 {
		t.Fatalf("submitted = %v", api.submitted)
	}
}

func TestSubmitCommandValidatesLocally(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	if _, err := runCLI(t, srv.URL, "submit", "https://cdn.example.com/q.mp4", "https://cdn.example.com/a.mp4"); err == nil {
		t.Fatal("expected missing --name error")
	}
	if _, err := runCLI(t, srv.URL, "submit", "--name", "Ana", "https://cdn.example.com/q.mp4", "file:///etc/passwd"); err == nil {
		t.Fatal("expected invalid URL error")
	}
	if _, err := runCLI(t, srv.URL, "submit", "--name", "Ana", "https://cdn.example.com/q.mp4"); err == nil {
		t.Fatal("expected too few videos error")
	}
	if api.submitted != nil {
		t.Fatalf("invalid submission reached server: %v", api.submitted)
	}
}

func TestRendersCommand(t *testing.T) {
	srv := httptest.NewServer((&fakeAPI{}).handler())
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "renders", "--limit", "5")
	if err != nil {
		t.Fatalf("renders: %v", err)
	}
	requireContains(t, out, "Ana")
	requireContains(t, out, "3.0 MB")

	out, err = runCLI(t, srv.URL, "--json", "renders", "--limit", "5")
	if err != nil {
		t.Fatalf("renders --json: %v", err)
	}
	var records []storage.RenderRecord
	if err := json.Unmarshal([]byte(out), &records); err != nil || len(records) != 1 {
		t.Fatalf("renders --json output = %q (%v)", out, err)
	}
}

func TestCleanupCommand(t *testing.T) {
	srv := httptest.NewServer((&fakeAPI{}).handler())
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "cleanup")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	requireContains(t, out, "Removed 3 entries")
	requireContains(t, out, "skipped 1 live")
}
