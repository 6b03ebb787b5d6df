package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docquery/internal/chunker"
	"github.com/dgallion1/docquery/internal/config"
	"github.com/dgallion1/docquery/internal/engine"
	"github.com/dgallion1/docquery/internal/llm"
	"github.com/dgallion1/docquery/internal/pipeline"
	"github.com/dgallion1/docquery/internal/synth"
)

const testKey = "test-key"

var quiet = slog.New(slog.DiscardHandler)

const doc = "Part 1 Preliminary\n\nThis Act may be cited as the Appropriation Act.\n\n" +
	"Part 2 Grants\n\nFunding is provided to the States each year.\n\n" +
	"Part 3 Reporting\n\nThe Minister must table an Annual Report.\n"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	c := engine.Chunk(doc, "act.txt", chunker.Config{MaxUnits: 20, Strategy: chunker.StrategyStructure}, quiet)
	require.NoError(t, c.Save(dir))
	eng, err := engine.Open(engine.DefaultConfig(dir), llm.NewStub(), engine.WithLogger(quiet))
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.APIKey = testKey
	cfg.WorkerCount = 1
	orch := pipeline.NewOrchestrator(cfg, eng, quiet)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	return NewServer(eng, orch, quiet, cfg)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth_NoAuth(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "act.txt", body["document"])
	assert.Equal(t, "stub", body["generator"])
}

func TestAuth(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic " + testKey},
		{"wrong key", "Bearer nope"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/index", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestQuery(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/query", `{"question":"What funding goes to the States?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ans synth.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, 2, ans.Sources[0].Number)
	assert.Equal(t, "keyword", ans.RoutingStrategy)
	assert.Contains(t, ans.Answer, "Source: Segment 2")
}

func TestQuery_Overrides(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/query", `{"question":"xyzzy","routing":"comprehensive","synthesis":"summarize"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var ans synth.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	assert.Equal(t, 3, ans.SegmentsQueried)
	assert.Equal(t, "concatenate", ans.SynthesisStrategy)
	assert.NotEmpty(t, ans.Warnings)
}

func TestQuery_BadRequests(t *testing.T) {
	s := newTestServer(t)
	for name, body := range map[string]string{
		"empty question": `{"question":"  "}`,
		"bad routing":    `{"question":"q","routing":"vector"}`,
		"bad synthesis":  `{"question":"q","synthesis":"vote"}`,
		"bad threshold":  `{"question":"q","threshold":2}`,
		"unknown field":  `{"question":"q","model":"x"}`,
		"not json":       `question`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/query", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestBatch_SubmitAndPoll(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/batch", `{"questions":["What funding goes to the States?"," ","Who tables the Annual Report?"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted struct {
		JobID     string `json:"job_id"`
		Questions int    `json:"questions"`
		PollURL   string `json:"poll_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, 2, accepted.Questions)
	assert.Equal(t, "/api/batch/"+accepted.JobID, accepted.PollURL)

	var snap pipeline.JobSnapshot
	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, accepted.PollURL, "")
		if rec.Code != http.StatusOK {
			return false
		}
		snap = pipeline.JobSnapshot{}
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			return false
		}
		return snap.Status == pipeline.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, snap.Progress.QuestionsAnswered)
	require.Len(t, snap.Answers, 2)
	assert.Equal(t, "Who tables the Annual Report?", snap.Answers[1].Question)
}

func TestBatch_Errors(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/batch", `{"questions":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/batch/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	many := `{"questions":[` + strings.Repeat(`"q",`, maxBatchSize) + `"q"]}`
	rec = do(t, s, http.MethodPost, "/api/batch", many)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestIndexAndStats(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/index", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var idx struct {
		DocumentName  string `json:"documentName"`
		TotalSegments int    `json:"totalSegments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &idx))
	assert.Equal(t, "act.txt", idx.DocumentName)
	assert.Equal(t, 3, idx.TotalSegments)

	do(t, s, http.MethodPost, "/api/query", `{"question":"xyzzy","routing":"quick"}`)
	rec = do(t, s, http.MethodGet, "/api/stats/llm", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Generator string `json:"generator"`
		Stats     struct {
			Count int `json:"count"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "stub", stats.Generator)
	assert.Equal(t, 1, stats.Stats.Count)
}
