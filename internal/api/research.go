package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service/research"
)

// maxRequestBytes bounds a research request body.
const maxRequestBytes = 64 << 10

// ResearchRequest is the body of POST /api/research.
type ResearchRequest struct {
	Query string `json:"query"`
}

// CheckpointSummary describes one checkpoint of a run.
type CheckpointSummary struct {
	ID         string     `json:"id"`
	Seq        int        `json:"seq"`
	Phase      core.Phase `json:"phase"`
	Iteration  int        `json:"iteration"`
	Findings   int        `json:"findings"`
	Score      int        `json:"score,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SourcesResponse lists the distinct sources of a run.
type SourcesResponse struct {
	RunID   string   `json:"run_id"`
	Mode    string   `json:"mode,omitempty"`
	Sources []string `json:"sources"`
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req ResearchRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			s.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := s.researcher.Run(r.Context(), req.Query)
	s.respondRun(w, r, res, err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	res, err := s.researcher.Resume(r.Context(), runID)
	s.respondRun(w, r, res, err)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	res, err := s.researcher.Regenerate(r.Context(), runID)
	s.respondRun(w, r, res, err)
}

// respondRun writes the result of a run. Failed runs that still produced
// a result carry its run id, success flag and summary next to the error.
func (s *Server) respondRun(w http.ResponseWriter, r *http.Request, res *research.Result, err error) {
	if err != nil {
		status := httpStatusForError(err)
		resp := ErrorResponse{Error: err.Error(), Code: errorCode(err)}
		if res != nil {
			resp.RunID = res.RunID
			resp.Success = &res.Success
			resp.Summary = res.Summary
		}
		s.logger.Warn("research request failed",
			"path", r.URL.Path,
			"status", status,
			"run_id", resp.RunID,
			"error", err,
		)
		s.respondJSON(w, status, resp)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		s.respondJSON(w, http.StatusOK, []string{})
		return
	}
	runs, err := s.checkpoints.Runs(r.Context())
	if err != nil {
		s.respondError(w, httpStatusForError(err), err.Error())
		return
	}
	if runs == nil {
		runs = []string{}
	}
	s.respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		s.respondError(w, http.StatusNotFound, "checkpoints are disabled")
		return
	}
	runID := chi.URLParam(r, "runID")
	cps, err := s.checkpoints.List(r.Context(), runID)
	if err != nil {
		s.respondError(w, httpStatusForError(err), err.Error())
		return
	}
	if len(cps) == 0 {
		s.respondError(w, http.StatusNotFound, "no checkpoints for run "+runID)
		return
	}

	out := make([]CheckpointSummary, 0, len(cps))
	for _, cp := range cps {
		sum := CheckpointSummary{
			ID:         cp.ID,
			Seq:        cp.Seq,
			Phase:      cp.Phase,
			Iteration:  cp.Iteration,
			Findings:   len(cp.FindingIDs),
			StopReason: cp.StopReason,
			CreatedAt:  cp.CreatedAt,
		}
		if n := len(cp.Evaluations); n > 0 {
			sum.Score = cp.Evaluations[n-1].OverallScore
		}
		out = append(out, sum)
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	if s.evidence == nil {
		s.respondError(w, http.StatusNotFound, "evidence listing is disabled")
		return
	}
	runID := chi.URLParam(r, "runID")
	mode := strings.ToLower(r.URL.Query().Get("mode"))
	if mode != "" && mode != string(core.ModeAcademic) && mode != string(core.ModeGeneral) {
		s.respondError(w, http.StatusBadRequest, "mode must be academic or general")
		return
	}

	store, err := s.evidence(r.Context(), runID)
	if err != nil {
		s.respondError(w, httpStatusForError(err), err.Error())
		return
	}
	defer store.Close()

	seen := make(map[string]bool)
	sources := []string{}
	for _, f := range store.All() {
		if mode != "" && string(f.SearchMode) != mode {
			continue
		}
		if !seen[f.SourceURL] {
			seen[f.SourceURL] = true
			sources = append(sources, f.SourceURL)
		}
	}
	sort.Strings(sources)
	s.respondJSON(w, http.StatusOK, SourcesResponse{RunID: runID, Mode: mode, Sources: sources})
}
