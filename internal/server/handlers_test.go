package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitdeployer/internal/gitsync"
	"gitdeployer/internal/gitsync/gitsynctest"
	"gitdeployer/internal/history"
	"gitdeployer/internal/marker"
	"gitdeployer/internal/runner"
	"gitdeployer/internal/sqlite"
	"gitdeployer/internal/target"
)

const testSecret = "test-secret-at-least-32-chars-long-here"

func setupTestServer(t *testing.T) (*Server, *gitsynctest.Remote) {
	t.Helper()

	remote := gitsynctest.NewRemote(t)
	remote.Write("index.xml", "<root/>")
	remote.Commit("initial")

	registry := target.NewRegistry(map[string]*target.Target{
		"site1": {
			ID:         "site1",
			MirrorPath: filepath.Join(t.TempDir(), "site1"),
			Remote:     gitsync.Remote{URL: remote.URL(), Branch: "main"},
			Secret:     testSecret,
		},
	})

	markers, err := marker.NewFileStore(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	r := runner.New(registry, markers, history.NewHistory(sqlite.OpenTestDB(t)), logger)

	// Test mode disables rate limiting.
	server := NewServer(r, logger, true)
	t.Cleanup(server.WaitForDeployments)

	return server, remote
}

func pushRequest(t *testing.T, targetID, ref, secret string) *http.Request {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"ref": ref, "after": "0123456789abcdef"})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/in/"+targetID, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", Sign(payload, secret))
	return req
}

func deployRequest(query string) *http.Request {
	req := httptest.NewRequest("POST", "/deploy/site1"+query, nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	return req
}

func serve(server *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response), rr.Body.String())
	return response
}

func latestRecord(t *testing.T, server *Server) *history.DeploymentRecord {
	t.Helper()
	latest, err := server.Runner.History.GetLatestDeployment(context.Background(), "site1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	return latest
}

func TestHandleWebhook_UnknownTarget(t *testing.T) {
	server, _ := setupTestServer(t)

	rr := serve(server, pushRequest(t, "unknown-target", "refs/heads/main", testSecret))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Unknown target", decode(t, rr)["error"])
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	server, _ := setupTestServer(t)

	rr := serve(server, pushRequest(t, "site1", "refs/heads/main", "wrong-secret-32-chars-long-xxxxxxx"))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "Invalid signature", decode(t, rr)["error"])
}

func TestHandleWebhook_NoSecretConfigured(t *testing.T) {
	server, _ := setupTestServer(t)
	tgt, err := server.Runner.Targets.Get("site1")
	require.NoError(t, err)
	tgt.Secret = ""

	rr := serve(server, pushRequest(t, "site1", "refs/heads/main", ""))

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHandleWebhook_PayloadTooLarge(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("POST", "/in/site1", bytes.NewReader(make([]byte, MaxPayloadBytes+1)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")

	rr := serve(server, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestHandleWebhook_ContentType(t *testing.T) {
	testCases := []struct {
		contentType string
		expected    int
	}{
		{"application/json; charset=utf-8", http.StatusAccepted},
		{"Application/JSON", http.StatusAccepted},
		{"text/plain", http.StatusUnsupportedMediaType},
		{"application/json; charset", http.StatusUnsupportedMediaType},
		{"application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"", http.StatusUnsupportedMediaType},
	}

	for _, tc := range testCases {
		t.Run(tc.contentType, func(t *testing.T) {
			server, _ := setupTestServer(t)

			req := pushRequest(t, "site1", "refs/heads/main", testSecret)
			req.Header.Set("Content-Type", tc.contentType)

			rr := serve(server, req)

			assert.Equal(t, tc.expected, rr.Code, rr.Body.String())
		})
	}
}

func TestHandleWebhook_NonPushEvent(t *testing.T) {
	server, _ := setupTestServer(t)

	req := pushRequest(t, "site1", "refs/heads/main", testSecret)
	req.Header.Set("X-GitHub-Event", "pull_request")

	rr := serve(server, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Ignoring non-push event", decode(t, rr)["message"])
}

func TestHandleWebhook_MissingPayload(t *testing.T) {
	server, _ := setupTestServer(t)

	payload := []byte(`{}`)
	req := httptest.NewRequest("POST", "/in/site1", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", Sign(payload, testSecret))

	rr := serve(server, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Missing payload, skipping", decode(t, rr)["message"])
}

func TestHandleWebhook_NonTargetBranch(t *testing.T) {
	server, _ := setupTestServer(t)

	rr := serve(server, pushRequest(t, "site1", "refs/heads/develop", testSecret))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Not target branch, skipping", decode(t, rr)["message"])
}

func TestHandleWebhook_Deploys(t *testing.T) {
	server, remote := setupTestServer(t)

	rr := serve(server, pushRequest(t, "site1", "refs/heads/main", testSecret))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	id, _ := decode(t, rr)["deployment_id"].(string)
	require.NotEmpty(t, id)

	server.WaitForDeployments()

	record, err := server.Runner.History.GetDeployment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "success", record.Status)
	assert.Equal(t, history.TriggerWebhook, record.Trigger)
	if assert.NotNil(t, record.ToRevision) {
		assert.Equal(t, remote.Head(), *record.ToRevision)
	}
}

func TestHandleWebhook_ConcurrentDeployment(t *testing.T) {
	server, _ := setupTestServer(t)

	// Hold the target as a running deployment would.
	require.True(t, server.Runner.Locks.TryLock("site1"))
	defer server.Runner.Locks.Unlock("site1")

	rr := serve(server, pushRequest(t, "site1", "refs/heads/main", testSecret))

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "Deployment already in progress", decode(t, rr)["error"])
	assert.Equal(t, history.StatusRejected, latestRecord(t, server).Status)
}

func TestHandleDeploy_RequiresBearer(t *testing.T) {
	server, _ := setupTestServer(t)

	for _, header := range []string{"", "Bearer nope", "Basic " + testSecret} {
		t.Run(header, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/deploy/site1", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}

			rr := serve(server, req)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func TestHandleDeploy_Wait(t *testing.T) {
	server, remote := setupTestServer(t)

	rr := serve(server, deployRequest("?wait=true"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	response := decode(t, rr)
	assert.Equal(t, "success", response["status"])
	assert.Equal(t, remote.Head(), response["to_revision"])

	changes, _ := response["change_set"].(map[string]any)
	assert.Equal(t, []any{"index.xml"}, changes["created"])
}

func TestHandleDeploy_DryRunAccepted(t *testing.T) {
	server, _ := setupTestServer(t)

	rr := serve(server, deployRequest("?dry_run=true&reprocess_all=1"))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	server.WaitForDeployments()

	latest := latestRecord(t, server)
	assert.True(t, latest.DryRun)
	assert.Equal(t, history.TriggerHTTP, latest.Trigger)
}

func TestHandleDeploy_InvalidQuery(t *testing.T) {
	server, _ := setupTestServer(t)

	rr := serve(server, deployRequest("?wait=maybe"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleDeploy_Busy(t *testing.T) {
	server, _ := setupTestServer(t)

	require.True(t, server.Runner.Locks.TryLock("site1"))
	defer server.Runner.Locks.Unlock("site1")

	for _, query := range []string{"", "?wait=true"} {
		rr := serve(server, deployRequest(query))
		assert.Equal(t, http.StatusConflict, rr.Code, "query %q", query)
	}
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t)

	_, err := server.Runner.Deploy(context.Background(), "site1", runner.Options{})
	require.NoError(t, err)

	rr := serve(server, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	response := decode(t, rr)
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, []any{"site1"}, response["targets"])
	assert.Equal(t, float64(1), response["target_count"])
	assert.Equal(t, map[string]any{"site1": "success"}, response["latest_status"])
}

func TestHandleStatus_InvalidTarget(t *testing.T) {
	server, _ := setupTestServer(t)

	rr := serve(server, httptest.NewRequest("GET", "/status/..", nil))

	assert.Contains(t, []int{http.StatusBadRequest, http.StatusNotFound}, rr.Code)
}

func TestHandleStatus_UnknownTarget(t *testing.T) {
	server, _ := setupTestServer(t)

	rr := serve(server, httptest.NewRequest("GET", "/status/unknown-target", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleStatus_Success(t *testing.T) {
	server, remote := setupTestServer(t)

	_, err := server.Runner.Deploy(context.Background(), "site1", runner.Options{})
	require.NoError(t, err)

	rr := serve(server, httptest.NewRequest("GET", "/status/site1", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	response := decode(t, rr)
	assert.Equal(t, "site1", response["target"])
	assert.Equal(t, remote.Head(), response["processed_revision"])
	assert.NotNil(t, response["latest_deployment"])
	assert.Len(t, response["recent_history"], 1)
}
