package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docquery/internal/engine"
	"github.com/dgallion1/docquery/internal/pipeline"
	"github.com/dgallion1/docquery/internal/router"
	"github.com/dgallion1/docquery/internal/synth"
)

const (
	maxRequestBytes = 1 << 20
	maxBatchSize    = 100
)

// queryOptions are the per-request overrides shared by /api/query and
// /api/batch.
type queryOptions struct {
	Routing   string   `json:"routing"`
	Synthesis string   `json:"synthesis"`
	Threshold *float64 `json:"threshold"`
}

func (o queryOptions) parse() (engine.QueryOptions, error) {
	var opts engine.QueryOptions
	if o.Routing != "" {
		r, err := router.ParseStrategy(o.Routing)
		if err != nil {
			return opts, err
		}
		opts.Routing = r
	}
	if o.Synthesis != "" {
		s, err := synth.ParseStrategy(o.Synthesis)
		if err != nil {
			return opts, err
		}
		opts.Synthesis = s
	}
	if o.Threshold != nil {
		if *o.Threshold < 0 || *o.Threshold > 1 {
			return opts, fmt.Errorf("threshold must be in [0, 1], got %g", *o.Threshold)
		}
		opts.Threshold = o.Threshold
	}
	return opts, nil
}

type queryRequest struct {
	Question string `json:"question"`
	queryOptions
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		jsonError(w, "question is required", http.StatusBadRequest)
		return
	}
	opts, err := req.parse()
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ans := s.engine.Query(r.Context(), req.Question, opts)
	writeJSON(w, http.StatusOK, ans)
}

type batchRequest struct {
	Questions []string `json:"questions"`
	queryOptions
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		jsonError(w, "batch jobs unavailable", http.StatusServiceUnavailable)
		return
	}
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	questions := make([]string, 0, len(req.Questions))
	for _, q := range req.Questions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		jsonError(w, "at least one question is required", http.StatusBadRequest)
		return
	}
	if len(questions) > maxBatchSize {
		jsonError(w, fmt.Sprintf("too many questions (max %d)", maxBatchSize), http.StatusRequestEntityTooLarge)
		return
	}
	opts, err := req.parse()
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := pipeline.NewJob(questions, opts)
	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    job.ID,
		"status":    job.Snapshot().Status,
		"questions": len(questions),
		"poll_url":  fmt.Sprintf("/api/batch/%s", job.ID),
	})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		jsonError(w, "batch jobs unavailable", http.StatusServiceUnavailable)
		return
	}
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
