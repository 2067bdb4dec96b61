package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/collection-cli/internal/model"
	"github.com/sells-group/collection-cli/internal/pipeline"
	"github.com/sells-group/collection-cli/internal/store"
)

type fakeLauncher struct {
	mu      sync.Mutex
	running map[string]bool
	started []string
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{running: make(map[string]bool)}
}

func (f *fakeLauncher) Start(flowID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[flowID] {
		return eris.Wrapf(pipeline.ErrAlreadyRunning, "flow %s", flowID)
	}
	f.running[flowID] = true
	f.started = append(f.started, flowID)
	return nil
}

func (f *fakeLauncher) Cancel(flowID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[flowID] {
		return false
	}
	delete(f.running, flowID)
	return true
}

func (f *fakeLauncher) Running(flowID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[flowID]
}

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore, *fakeLauncher) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	runs := newFakeLauncher()
	srv := httptest.NewServer(New(st, st, runs, WithAllowedOrigins([]string{"https://portal.example.com"})).Handler())
	t.Cleanup(srv.Close)
	return srv, st, runs
}

func createFlow(t *testing.T, st *store.SQLiteStore) *model.Flow {
	t.Helper()
	flow := &model.Flow{AssetIDs: []string{"A1"}, Gaps: []model.Gap{{AssetID: "A1", Attribute: "os_version"}}}
	require.NoError(t, st.CreateFlow(context.Background(), flow))
	return flow
}

func do(t *testing.T, method, url string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, body := do(t, http.MethodGet, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestGetFlow(t *testing.T) {
	srv, st, runs := newTestServer(t)
	flow := createFlow(t, st)

	resp, body := do(t, http.MethodGet, srv.URL+"/flows/"+flow.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, flow.ID, body["id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, false, body["running"])

	require.NoError(t, runs.Start(flow.ID))
	_, body = do(t, http.MethodGet, srv.URL+"/flows/"+flow.ID)
	assert.Equal(t, true, body["running"])

	resp, body = do(t, http.MethodGet, srv.URL+"/flows/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "not found")
}

func TestGetFlow_ShowsFailureReason(t *testing.T) {
	srv, st, _ := newTestServer(t)
	flow := createFlow(t, st)
	ctx := context.Background()
	require.NoError(t, st.TransitionFlow(ctx, flow.ID, model.FlowStatusPending, model.FlowStatusFailed, "fetch assets: connection refused"))

	_, body := do(t, http.MethodGet, srv.URL+"/flows/"+flow.ID)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "fetch assets: connection refused", body["error"])
}

func TestListFlows(t *testing.T) {
	srv, st, _ := newTestServer(t)
	createFlow(t, st)
	createFlow(t, st)

	resp, err := http.Get(srv.URL + "/flows")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var flows []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&flows))
	assert.Len(t, flows, 2)

	bad, _ := do(t, http.MethodGet, srv.URL+"/flows?status=bogus")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
	bad, _ = do(t, http.MethodGet, srv.URL+"/flows?limit=x")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestGetQuestionnaire(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()
	flow := createFlow(t, st)

	resp, _ := do(t, http.MethodGet, srv.URL+"/flows/missing/questionnaire")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/flows/"+flow.ID+"/questionnaire")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])

	_, err := st.SaveQuestionnaire(ctx, &model.Questionnaire{
		FlowID:   flow.ID,
		Sections: []model.QuestionnaireSection{{ID: "infrastructure", Title: "Infrastructure", Questions: []model.Question{}}},
	})
	require.NoError(t, err)
	moveFlow(t, st, flow.ID, model.FlowStatusPending, model.FlowStatusGenerating, model.FlowStatusAggregating, model.FlowStatusReady)

	resp, body = do(t, http.MethodGet, srv.URL+"/flows/"+flow.ID+"/questionnaire")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, flow.ID, body["flow_id"])
	assert.Len(t, body["sections"], 1)
}

func TestGetQuestionnaire_HiddenAfterFailedRerun(t *testing.T) {
	srv, st, _ := newTestServer(t)
	flow := createFlow(t, st)

	_, err := st.SaveQuestionnaire(context.Background(), &model.Questionnaire{FlowID: flow.ID, Sections: []model.QuestionnaireSection{}})
	require.NoError(t, err)
	moveFlow(t, st, flow.ID, model.FlowStatusPending, model.FlowStatusGenerating, model.FlowStatusAggregating,
		model.FlowStatusReady, model.FlowStatusPending, model.FlowStatusFailed)

	resp, body := do(t, http.MethodGet, srv.URL+"/flows/"+flow.ID+"/questionnaire")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "failed", body["status"])
}

// brokenFlows fails every read with a driver-style error.
type brokenFlows struct {
	store.FlowStore
}

func (brokenFlows) GetFlow(context.Context, string) (*model.Flow, error) {
	return nil, eris.New("postgres: dial tcp 10.0.0.7:5432: password authentication failed for user \"collector\"")
}

func (brokenFlows) ListFlows(context.Context, store.FlowFilter) ([]model.Flow, error) {
	return nil, eris.New("postgres: dial tcp 10.0.0.7:5432: connection refused")
}

func TestServerErrorsDoNotLeakDetails(t *testing.T) {
	srv := httptest.NewServer(New(brokenFlows{}, nil, newFakeLauncher()).Handler())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/flows/f-1", "/flows", "/flows/f-1/questionnaire"} {
		resp, body := do(t, http.MethodGet, srv.URL+path)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, path)
		assert.Equal(t, "Internal Server Error", body["error"], path)
	}
}

// moveFlow walks a flow through consecutive statuses starting at path[0].
func moveFlow(t *testing.T, st *store.SQLiteStore, id string, path ...model.FlowStatus) {
	t.Helper()
	for i := 1; i < len(path); i++ {
		require.NoError(t, st.TransitionFlow(context.Background(), id, path[i-1], path[i], ""))
	}
}

func TestGenerateAndCancel(t *testing.T) {
	srv, st, runs := newTestServer(t)
	flow := createFlow(t, st)

	resp, body := do(t, http.MethodPost, srv.URL+"/flows/"+flow.ID+"/generate")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, []string{flow.ID}, runs.started)

	resp, _ = do(t, http.MethodPost, srv.URL+"/flows/"+flow.ID+"/generate")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = do(t, http.MethodPost, srv.URL+"/flows/"+flow.ID+"/cancel")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "cancelling", body["status"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/flows/"+flow.ID+"/cancel")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/flows/missing/generate")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://portal.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "https://portal.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example.com")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close() //nolint:errcheck
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}
