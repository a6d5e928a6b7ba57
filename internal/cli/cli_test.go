package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/relay/internal/control"
	"github.com/vietddude/relay/internal/core/domain"
)

type recorded struct {
	method string
	path   string
	body   []byte
}

func fakeControlAPI(t *testing.T) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cooldown := started.Add(10 * time.Minute)
	job := domain.JobView{
		ID:                    "job-1",
		Status:                domain.JobRunning,
		Targets:               []string{"p1", "p2"},
		SuccessCount:          3,
		FailureCount:          1,
		Cycles:                1,
		CurrentTarget:         "p2",
		CurrentCredentialName: "Alice (user)",
		StartedAt:             started,
		Credentials: []domain.CredentialView{
			{DisplayName: "Alice", Kind: domain.KindUser, Status: domain.CredentialActive, Secret: "EAAB…0001"},
			{DisplayName: "Bob", Kind: domain.KindUser, Status: domain.CredentialRateLimited, Secret: "EAAB…0002", CooldownUntil: &cooldown},
		},
	}

	write := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{method: r.Method, path: r.URL.RequestURI(), body: body})

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/jobs":
			write(w, http.StatusOK, map[string]any{"jobs": []domain.JobView{job}})
		case r.Method == http.MethodGet && r.URL.Path == "/api/jobs/job-1":
			write(w, http.StatusOK, job)
		case r.Method == http.MethodPost && r.URL.Path == "/api/jobs/job-1/stop":
			write(w, http.StatusOK, map[string]string{"job_id": "job-1", "status": "stopping"})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/jobs/completed":
			write(w, http.StatusOK, map[string]int{"cleared": 2})
		case r.Method == http.MethodGet && r.URL.Path == "/api/events":
			write(w, http.StatusOK, map[string]any{"events": []domain.Event{
				{Time: started, Level: domain.LevelInfo, JobID: "job-1", Message: "job started"},
			}})
		case r.Method == http.MethodPost && r.URL.Path == "/api/jobs":
			write(w, http.StatusCreated, map[string]string{"job_id": "job-2"})
		default:
			write(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestJobsCommand(t *testing.T) {
	srv, _ := fakeControlAPI(t)

	out, err := run(t, "jobs", "--api", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "JOB")
	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "Alice (user)")
}

func TestStatusCommand(t *testing.T) {
	srv, _ := fakeControlAPI(t)

	out, err := run(t, "status", "job-1", "--api", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "3 ok, 1 failed, 1 cycles")
	assert.Contains(t, out, "rate_limited")
	assert.Contains(t, out, "EAAB…0002")
}

func TestStatusCommand_NotFound(t *testing.T) {
	srv, _ := fakeControlAPI(t)

	_, err := run(t, "status", "missing", "--api", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found (HTTP 404)")
}

func TestStopAndClearCommands(t *testing.T) {
	srv, _ := fakeControlAPI(t)

	out, err := run(t, "stop", "job-1", "--api", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Job job-1: stopping\n", out)

	out, err = run(t, "clear", "--api", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Cleared 2 completed job(s)\n", out)
}

func TestEventsCommand(t *testing.T) {
	srv, calls := fakeControlAPI(t)

	out, err := run(t, "events", "--limit", "5", "--api", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T09:00:00Z | INFO  | job=job-1 | job started\n", out)
	require.NotEmpty(t, *calls)
	assert.Equal(t, "/api/events?limit=5", (*calls)[len(*calls)-1].path)
}

func TestCreateCommand(t *testing.T) {
	srv, calls := fakeControlAPI(t)

	dir := t.TempDir()
	credsFile := filepath.Join(dir, "creds.txt")
	require.NoError(t, os.WriteFile(credsFile, []byte("tok-a\n\n  tok-b  \n"), 0o600))

	out, err := run(t, "create",
		"--api", srv.URL,
		"--target", "p1", "--target", "p2",
		"--content", "hello",
		"--credentials-file", credsFile,
		"--delay", "90",
		"--mention-id", "42", "--mention-name", "Carol",
	)
	require.NoError(t, err)
	assert.Equal(t, "Created job job-2\n", out)

	last := (*calls)[len(*calls)-1]
	var req control.CreateJobRequest
	require.NoError(t, json.Unmarshal(last.body, &req))
	assert.Equal(t, []string{"p1", "p2"}, req.Targets)
	assert.Equal(t, []string{"hello"}, req.Contents)
	assert.Equal(t, []string{"tok-a", "tok-b"}, req.Credentials)
	assert.Equal(t, 90, req.DelaySeconds)
	require.NotNil(t, req.Mention)
	assert.Equal(t, "Carol", req.Mention.Name)
	assert.Empty(t, req.CredentialKind)
}
