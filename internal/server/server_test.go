package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/context-graph/internal/apply"
	"github.com/sells-group/context-graph/internal/model"
	"github.com/sells-group/context-graph/internal/monitoring"
	"github.com/sells-group/context-graph/internal/registry"
	"github.com/sells-group/context-graph/internal/resilience"
	"github.com/sells-group/context-graph/internal/resolve"
	"github.com/sells-group/context-graph/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type testEnv struct {
	store  *store.MemoryStore
	engine *apply.Engine
	reg    *prometheus.Registry
	srv    *httptest.Server
}

func newTestEnv(t *testing.T, st store.GraphStore, opts ...apply.Option) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	if st == nil {
		st = mem
	}
	reg := prometheus.NewRegistry()
	opts = append([]apply.Option{apply.WithMetrics(monitoring.NewMetrics(reg))}, opts...)
	engine := apply.NewEngine(st, registry.Default(), opts...)

	srv := httptest.NewServer(New(engine, WithGatherer(reg)).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{store: mem, engine: engine, reg: reg, srv: srv}
}

func (e *testEnv) seed(t *testing.T, id string) {
	t.Helper()
	_, err := e.engine.CreateGraph(context.Background(), id, "Acme", "acme.com")
	require.NoError(t, err)
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			r = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var h healthResponse
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "closed", h.Breaker)
}

// brokenStore fails every load with a transient error.
type brokenStore struct {
	*store.MemoryStore
}

func (brokenStore) Load(context.Context, string) (*model.ContextGraph, error) {
	return nil, resilience.NewTransientError(errors.New("connection reset"))
}

func TestHealth_BreakerOpen(t *testing.T) {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	env := newTestEnv(t, brokenStore{store.NewMemory()}, apply.WithBreaker(breaker))

	_, err := env.engine.Graph(context.Background(), "c1")
	require.Error(t, err)

	resp, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var h healthResponse
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "open", h.Breaker)

	// Reads are rejected while the circuit is open.
	resp, _ = env.do(t, http.MethodGet, "/v1/companies/c1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCreateGraph(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/v1/companies", createGraphRequest{CompanyID: "c1", Name: "Acme", Domain: "acme.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var g model.ContextGraph
	require.NoError(t, json.Unmarshal(body, &g))
	assert.Equal(t, "c1", g.CompanyID)
	assert.Equal(t, int64(1), g.Version)
	assert.Contains(t, g.Domains, "identity")

	resp, _ = env.do(t, http.MethodPost, "/v1/companies", createGraphRequest{CompanyID: "c1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/companies", createGraphRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/companies", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGraphAndHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "c1")

	resp, _ := env.do(t, http.MethodGet, "/v1/companies/c1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/v1/companies/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/v1/companies/c1/history?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var revs []store.Revision
	require.NoError(t, json.Unmarshal(body, &revs))
	require.Len(t, revs, 1)
	assert.Equal(t, int64(1), revs[0].Version)

	resp, _ = env.do(t, http.MethodGet, "/v1/companies/c1/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApply(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "c1")

	req := applyRequest{
		Writer: string(model.SourceLabBrand),
		RunID:  "run-1",
		Proposals: []model.RefinementProposal{
			{Path: "identity.industry", NewValue: "SaaS", Confidence: 0.8},
			{Path: "identity.favorite_color", NewValue: "blue", Confidence: 0.9},
		},
	}
	resp, body := env.do(t, http.MethodPost, "/v1/companies/c1/apply", req)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var res applyResponse
	require.NoError(t, json.Unmarshal(body, &res))
	require.NotNil(t, res.ApplyResult)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.SkippedInvalidPath)
	assert.Equal(t, int64(2), res.Version)
	assert.Empty(t, res.Error)
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, model.OutcomeUpdated, res.Outcomes[0].Status)
	assert.Equal(t, model.OutcomeSkippedInvalidPath, res.Outcomes[1].Status)

	// A human edit is never overwritten afterwards.
	human := applyRequest{
		Writer:    string(model.SourceManual),
		Proposals: []model.RefinementProposal{{Path: "identity.industry", NewValue: "Software", Confidence: 0.9}},
	}
	resp, _ = env.do(t, http.MethodPost, "/v1/companies/c1/apply", human)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/v1/companies/c1/apply", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = applyResponse{}
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, 1, res.SkippedHumanOverride)
	assert.Equal(t, 0, res.Updated)
}

func TestApply_GraphNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	req := applyRequest{
		Writer:    string(model.SourceLabBrand),
		Proposals: []model.RefinementProposal{{Path: "identity.industry", NewValue: "SaaS", Confidence: 0.8}},
	}
	resp, body := env.do(t, http.MethodPost, "/v1/companies/ghost/apply", req)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var res applyResponse
	require.NoError(t, json.Unmarshal(body, &res))
	require.NotNil(t, res.ApplyResult)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, "graph not found", res.Outcomes[0].Error)
	assert.NotEmpty(t, res.Error)
}

func TestApply_BadBody(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.do(t, http.MethodPost, "/v1/companies/c1/apply", "[")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestField(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "c1")

	_, err := env.engine.ApplyBatch(context.Background(), apply.ApplyRequest{
		CompanyID: "c1",
		Writer:    model.SourceLabBrand,
		RunID:     "run-7",
		Proposals: []model.RefinementProposal{{Path: "identity.industry", NewValue: "SaaS", Confidence: 0.8, Reason: "homepage"}},
	})
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodGet, "/v1/companies/c1/fields/identity.industry", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var f fieldResponse
	require.NoError(t, json.Unmarshal(body, &f))
	assert.Equal(t, "identity.industry", f.Path)
	require.NotNil(t, f.Field)
	assert.Equal(t, "SaaS", f.Field.Value)
	require.Len(t, f.Explain, 1)
	assert.Contains(t, f.Explain[0], "lab:brand")
	assert.Contains(t, f.Explain[0], "run=run-7")

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unset field", "/v1/companies/c1/fields/identity.headquarters", http.StatusNotFound},
		{"unknown field", "/v1/companies/c1/fields/identity.favorite_color", http.StatusBadRequest},
		{"malformed path", "/v1/companies/c1/fields/industry", http.StatusBadRequest},
		{"missing company", "/v1/companies/ghost/fields/identity.industry", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestDedupe(t *testing.T) {
	env := newTestEnv(t, nil)

	req := dedupeRequest{Profiles: []model.CompetitorProfile{
		{Name: "Acme", Strengths: []string{"fast"}},
		{Name: "Zephyr"},
		{Name: "ACME Inc.", Strengths: []string{"cheap"}},
		{Name: " "},
	}}
	resp, body := env.do(t, http.MethodPost, "/v1/dedupe", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res resolve.DedupeResult
	require.NoError(t, json.Unmarshal(body, &res))
	require.Len(t, res.Profiles, 2)
	assert.Equal(t, "Acme", res.Profiles[0].Name)
	assert.Equal(t, "Zephyr", res.Profiles[1].Name)
	assert.Equal(t, 1, res.Invalid)
	assert.Len(t, res.Log, 2)
}

func TestMerge(t *testing.T) {
	env := newTestEnv(t, nil)

	req := mergeRequest{
		Existing: []model.CompetitorProfile{{Name: "Acme"}},
		Incoming: []model.CompetitorProfile{{Name: "Acme Inc", Offers: []string{"api"}}, {Name: "Zephyr"}},
	}
	resp, body := env.do(t, http.MethodPost, "/v1/merge", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats resolve.MergeStats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Merged)
	require.Len(t, stats.Result, 2)
	assert.Equal(t, []string{"api"}, stats.Result[0].Offers)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "c1")

	_, err := env.engine.ApplyBatch(context.Background(), apply.ApplyRequest{
		CompanyID: "c1",
		Writer:    model.SourceLabBrand,
		Proposals: []model.RefinementProposal{{Path: "identity.industry", NewValue: "SaaS", Confidence: 0.8}},
	})
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "context_graph_apply_batches_total")
	assert.Contains(t, string(body), "context_graph_apply_outcomes_total")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req, err := http.NewRequest(http.MethodOptions, env.srv.URL+"/v1/dedupe", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apply.ErrInvalidRequest, http.StatusBadRequest},
		{model.ErrInvalidPath, http.StatusBadRequest},
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrAlreadyExists, http.StatusConflict},
		{store.ErrVersionConflict, http.StatusConflict},
		{resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
