package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/analysis"
	"github.com/copp1723/team-crm-sub000/config"
	"github.com/copp1723/team-crm-sub000/engine"
	"github.com/copp1723/team-crm-sub000/memory"
	"github.com/copp1723/team-crm-sub000/retrieval"
	"github.com/copp1723/team-crm-sub000/summarizer"
	"github.com/copp1723/team-crm-sub000/types"
)

// newTestServer 装配一个 miniredis 后端、无模型补全器的服务器
func newTestServer(t *testing.T) *Server {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	storeConfig := memory.DefaultConfig()
	storeConfig.BaseTTL = time.Hour
	storeConfig.Redis.Addr = mr.Addr()
	storeConfig.Redis.HealthCheckInterval = 0

	store, err := memory.NewRedisStore(storeConfig, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	batcherConfig := summarizer.DefaultConfig()
	batcherConfig.Threshold = 2

	eng := engine.New(engine.Config{}, engine.Options{
		Store:     store,
		Retriever: retrieval.NewRetriever(store, retrieval.DefaultConfig(), zap.NewNop()),
		Analyzer:  analysis.NewAnalyzer(zap.NewNop()),
		Batcher: summarizer.NewBatcher(batcherConfig,
			summarizer.NewGenerator(nil, 0, zap.NewNop()), store, zap.NewNop()),
		Logger: zap.NewNop(),
	})

	return &Server{
		cfg:    config.DefaultConfig(),
		logger: zap.NewNop(),
		engine: eng,
		store:  store,
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	r.Header.Set("Content-Type", "application/json")
	handler(w, r)
	return w
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["memory"])
	assert.Equal(t, "disabled", body["archive"])
}

func TestHandleMessage(t *testing.T) {
	s := newTestServer(t)

	w := postJSON(t, s.handleMessage, "/api/v1/messages", types.ConversationInput{
		Message:    "how is the acme renewal going?",
		MemberName: "joe",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result types.ConversationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.NotEmpty(t, result.Response)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestHandleMessage_ValidationError(t *testing.T) {
	s := newTestServer(t)

	w := postJSON(t, s.handleMessage, "/api/v1/messages", types.ConversationInput{Message: "no member"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(types.ErrValidation), body["error"])
}

func TestHandleMessage_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.handleMessage(w, httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleUpdate_AccumulatesAndSummarizes(t *testing.T) {
	s := newTestServer(t)

	w := postJSON(t, s.handleUpdate, "/api/v1/updates", types.StructuredUpdate{
		MemberName: "joe",
		RawText:    "pushed the acme proposal",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var outcome summarizer.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.Equal(t, summarizer.OutcomeAccumulating, outcome.Status)

	// 阈值为 2,第二条触发摘要
	w = postJSON(t, s.handleUpdate, "/api/v1/updates", types.StructuredUpdate{
		MemberName: "amy",
		RawText:    "globex kickoff done",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.Equal(t, summarizer.OutcomeSummarized, outcome.Status)
	require.NotNil(t, outcome.Summary)
	assert.Equal(t, 2, outcome.Summary.UpdateCount)
}

func TestHandleUpdate_InvalidJSON(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/updates", bytes.NewReader([]byte("{not json")))
	s.handleUpdate(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleForceSummary_EmptyBatch(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.handleForceSummary(w, httptest.NewRequest(http.MethodPost, "/api/v1/summary/force", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var outcome summarizer.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.Equal(t, summarizer.OutcomeNoUpdates, outcome.Status)
	require.NotNil(t, outcome.Summary)
	assert.True(t, outcome.Summary.NoUpdates)
}

func TestHandleSummaries(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.store.PushSummary(ctx, &types.ExecutiveSummary{
		ID:          "sum:aaa",
		Headlines:   []string{"all quiet"},
		GeneratedAt: time.Now(),
	}))

	w := httptest.NewRecorder()
	s.handleSummaries(w, httptest.NewRequest(http.MethodGet, "/api/v1/summaries?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count     int                       `json:"count"`
		Summaries []*types.ExecutiveSummary `json:"summaries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "sum:aaa", body.Summaries[0].ID)
}

func TestHandleSummaries_BadLimit(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.handleSummaries(w, httptest.NewRequest(http.MethodGet, "/api/v1/summaries?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStats(t *testing.T) {
	s := newTestServer(t)

	w := postJSON(t, s.handleMessage, "/api/v1/messages", types.ConversationInput{
		Message:    "checking in",
		MemberName: "joe",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w2 := httptest.NewRecorder()
	s.handleStats(w2, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	require.Equal(t, http.StatusOK, w2.Code)

	var stats types.EngineStats
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats.Queries)
	assert.EqualValues(t, 1, stats.TotalRecords)
}

func TestHandleDecision(t *testing.T) {
	s := newTestServer(t)

	w := postJSON(t, s.handleDecision, "/api/v1/decisions", types.ExecutiveContent{
		Decision:  "expand the pilot",
		DecidedBy: "ceo",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = postJSON(t, s.handleDecision, "/api/v1/decisions", types.ExecutiveContent{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleEscalation(t *testing.T) {
	s := newTestServer(t)

	w := postJSON(t, s.handleEscalation, "/api/v1/escalations", types.EscalationContent{
		Reason:      "renewal at risk",
		TriggeredBy: "joe",
	})
	assert.Equal(t, http.StatusCreated, w.Code)
}
