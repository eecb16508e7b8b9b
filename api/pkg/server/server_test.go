package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winebot/winebot/api/pkg/config"
	"github.com/winebot/winebot/api/pkg/types"
)

func testServer(t *testing.T, mutate func(cfg *config.ServerConfig)) *WineBotAPIServer {
	t.Helper()
	cfg := &config.ServerConfig{}
	cfg.API.Mode = "interactive"
	cfg.Sessions.Root = t.TempDir()
	cfg.Sessions.PointerPath = filepath.Join(t.TempDir(), "current")
	cfg.Wine.Prefix = filepath.Join(t.TempDir(), "wineprefix")
	cfg.Display.Display = ":99"
	cfg.Display.Screen = "1920x1080"
	cfg.Display.FPS = 30
	cfg.Recording.MinFreeBytes = 1
	if mutate != nil {
		mutate(cfg)
	}
	return NewServer(cfg)
}

func doJSON(t *testing.T, s *WineBotAPIServer, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func detailOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["detail"]
}

func TestVersionHeadersOnEveryResponse(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s, http.MethodGet, "/version", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-WineBot-API-Version"))
	assert.NotEmpty(t, rec.Header().Get("X-WineBot-Build-Version"))
	assert.NotEmpty(t, rec.Header().Get("X-WineBot-Artifact-Schema-Version"))
	assert.NotEmpty(t, rec.Header().Get("X-WineBot-Event-Schema-Version"))
}

func TestAuthRequiredWhenTokenConfigured(t *testing.T) {
	s := testServer(t, func(cfg *config.ServerConfig) { cfg.API.Token = "secret" })

	rec := doJSON(t, s, http.MethodGet, "/sessions", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "auth_required", detailOf(t, rec))

	rec = doJSON(t, s, http.MethodGet, "/sessions", nil,
		map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/sessions", nil,
		map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthFailureHasNoSideEffects(t *testing.T) {
	s := testServer(t, func(cfg *config.ServerConfig) { cfg.API.Token = "secret" })
	rec := doJSON(t, s, http.MethodPost, "/sessions/1/control/grant",
		types.GrantControlRequest{LeaseSeconds: 60}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, types.ControlModeUser, s.Broker.State().ControlMode)
}

func TestUIPathsExemptFromAuth(t *testing.T) {
	s := testServer(t, func(cfg *config.ServerConfig) { cfg.API.Token = "secret" })
	rec := doJSON(t, s, http.MethodGet, "/ui/index.html", nil, nil)
	// 404 (no UI route registered) but not 403: the middleware let it through.
	assert.NotEqual(t, http.StatusForbidden, rec.Code)
}

func TestControlGrantAndState(t *testing.T) {
	s := testServer(t, nil)
	s.Broker.UpdateSession("session-test", true)

	rec := doJSON(t, s, http.MethodPost, "/sessions/session-test/control/grant",
		types.GrantControlRequest{LeaseSeconds: 60}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state types.ControlState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, types.ControlModeAgent, state.ControlMode)
	require.NotNil(t, state.LeaseExpiry)
}

func TestControlGrantAcceptsEmptyBody(t *testing.T) {
	s := testServer(t, nil)
	s.Broker.UpdateSession("session-test", true)
	rec := doJSON(t, s, http.MethodPost, "/sessions/session-test/control/grant", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRenewWithoutControlIs403(t *testing.T) {
	s := testServer(t, nil)
	s.Broker.UpdateSession("session-test", true)
	rec := doJSON(t, s, http.MethodPost, "/sessions/session-test/control/renew",
		types.GrantControlRequest{LeaseSeconds: 60}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "no_control", detailOf(t, rec))
}

func TestInvalidUserIntentIs400(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s, http.MethodPost, "/sessions/x/user_intent",
		map[string]string{"intent": "PANIC"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClickDeniedWithoutControlIs423(t *testing.T) {
	s := testServer(t, nil)
	s.Broker.UpdateSession("session-test", true)
	rec := doJSON(t, s, http.MethodPost, "/input/mouse/click",
		types.ClickRequest{X: 10, Y: 20}, nil)
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "agent_control_denied_by_policy", detailOf(t, rec))
}

func TestScriptDeniedWithoutControlIs423(t *testing.T) {
	s := testServer(t, nil)
	s.Broker.UpdateSession("session-test", true)
	rec := doJSON(t, s, http.MethodPost, "/run/ahk",
		types.ScriptRequest{Script: "Send, hello"}, nil)
	assert.Equal(t, http.StatusLocked, rec.Code)
}

func TestRecordingEndpointsGatedOnFlag(t *testing.T) {
	s := testServer(t, nil) // recording disabled
	for _, path := range []string{"/recording/start", "/recording/stop", "/recording/pause", "/recording/resume"} {
		rec := doJSON(t, s, http.MethodPost, path, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestStopRecordingIdempotentWhenEnabled(t *testing.T) {
	s := testServer(t, func(cfg *config.ServerConfig) { cfg.Recording.Enabled = true })
	rec := doJSON(t, s, http.MethodPost, "/recording/stop", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "already_stopped", result["status"])
}

func TestAppRunRejectsPathOutsidePrefixes(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s, http.MethodPost, "/apps/run",
		types.AppRunRequest{Path: "/etc/passwd"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, detailOf(t, rec), "/apps")
}

func TestAppRunRejectsTraversal(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s, http.MethodPost, "/apps/run",
		types.AppRunRequest{Path: "/apps/../etc/shadow"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionListEmpty(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s, http.MethodGet, "/sessions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result sessionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 0, result.Count)
	assert.NotNil(t, result.Sessions)
}

func TestInputEventsBadLimitIs400(t *testing.T) {
	s := testServer(t, nil)
	_, err := s.Sessions.EnsureSession()
	require.NoError(t, err)
	rec := doJSON(t, s, http.MethodGet, "/input/events?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInputEventsUnknownSourceIs400(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s, http.MethodGet, "/input/events?source=quantum", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownTraceLayerIs400(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s, http.MethodPost, "/input/trace/quantum/start", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClientEventPreemptsAgentLease(t *testing.T) {
	s := testServer(t, nil)
	_, err := s.Sessions.EnsureSession()
	require.NoError(t, err)
	s.Broker.UpdateSession("session-test", true)
	s.Broker.GrantAgent(60)
	require.True(t, s.Broker.CheckAccess())

	rec := doJSON(t, s, http.MethodPost, "/input/client/event",
		map[string]any{"event": "pointer_move", "x": 5, "y": 6}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.False(t, s.Broker.CheckAccess())
	assert.Equal(t, types.ControlModeUser, s.Broker.State().ControlMode)
}

func TestClientEventIgnoredWhenLayerDisabled(t *testing.T) {
	s := testServer(t, nil)
	_, err := s.Sessions.EnsureSession()
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodPost, "/input/client/event",
		map[string]any{"event": "pointer_move"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result clientEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "ignored", result.Status)
	assert.Equal(t, "client_trace_disabled", result.Reason)
}

func TestClientTraceToggleOverHTTP(t *testing.T) {
	s := testServer(t, nil)
	_, err := s.Sessions.EnsureSession()
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodPost, "/input/trace/client/start", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/input/client/event",
		map[string]any{"event": "pointer_move"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result clientEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "recorded", result.Status)

	rec = doJSON(t, s, http.MethodGet, "/input/events?source=client&limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events inputEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Equal(t, 1, events.Count)
	assert.Equal(t, "novnc_client", events.Events[0].Source)
	assert.Equal(t, "user", events.Events[0].Origin)
}

func TestLifecycleStatusShape(t *testing.T) {
	s := testServer(t, nil)
	_, err := s.Sessions.EnsureSession()
	require.NoError(t, err)
	rec := doJSON(t, s, http.MethodGet, "/lifecycle/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status lifecycleStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.NotEmpty(t, status.SessionID)
	assert.Len(t, status.TraceLayers, 5)
}

func TestLifecycleEventsAfterBootstrap(t *testing.T) {
	s := testServer(t, nil)
	dir, err := s.Sessions.EnsureSession()
	require.NoError(t, err)
	s.Sessions.AppendLifecycle(dir, "api_started", "up", "api", nil)

	rec := doJSON(t, s, http.MethodGet, "/lifecycle/events?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result lifecycleEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotEmpty(t, result.Events)
	assert.Equal(t, "api_started", result.Events[len(result.Events)-1].Kind)
}

func TestShutdownRejectsNegativeDelay(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s, http.MethodPost, "/lifecycle/shutdown?delay=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuspendWithoutSessionIs404(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s, http.MethodPost, "/sessions/suspend", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumeRequiresReference(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s, http.MethodPost, "/sessions/resume", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResumeTraversalIdIs400(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s, http.MethodPost, "/sessions/resume",
		map[string]string{"session_id": "../../etc"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorBodiesCarryDetail(t *testing.T) {
	s := testServer(t, nil)
	rec := doJSON(t, s, http.MethodPost, "/apps/run", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, detailOf(t, rec))
}
