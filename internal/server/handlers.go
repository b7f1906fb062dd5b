package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/context-graph/internal/apply"
	"github.com/sells-group/context-graph/internal/model"
	"github.com/sells-group/context-graph/internal/resilience"
)

type healthResponse struct {
	Status  string `json:"status"`
	Breaker string `json:"breaker"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.engine.Breaker().State()
	resp := healthResponse{Status: "ok", Breaker: state.String()}
	status := http.StatusOK
	if state == resilience.CircuitOpen {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type createGraphRequest struct {
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	Domain    string `json:"domain"`
}

func (s *Server) handleCreateGraph(w http.ResponseWriter, r *http.Request) {
	var req createGraphRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required")
		return
	}
	g, err := s.engine.CreateGraph(r.Context(), req.CompanyID, req.Name, req.Domain)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.engine.Graph(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	revs, err := s.engine.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, revs)
}

type applyRequest struct {
	Writer    string                     `json:"writer"`
	WriterTag string                     `json:"writer_tag"`
	RunID     string                     `json:"run_id"`
	DryRun    bool                       `json:"dry_run"`
	Proposals []model.RefinementProposal `json:"proposals"`
}

type applyResponse struct {
	*model.ApplyResult
	Error string `json:"error,omitempty"`
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.engine.ApplyBatch(r.Context(), apply.ApplyRequest{
		CompanyID: chi.URLParam(r, "id"),
		Proposals: req.Proposals,
		Writer:    model.ParseSourceTag(req.Writer),
		WriterTag: req.WriterTag,
		RunID:     req.RunID,
		DryRun:    req.DryRun,
	})
	if res == nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if err != nil {
		zap.L().Warn("server: apply failed", zap.String("company_id", res.CompanyID), zap.Error(err))
		writeJSON(w, statusFor(err), applyResponse{ApplyResult: res, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, applyResponse{ApplyResult: res})
}

type fieldResponse struct {
	Path    string       `json:"path"`
	Field   *model.Field `json:"field"`
	Explain []string     `json:"explain"`
}

func (s *Server) handleField(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	f, err := s.engine.Field(r.Context(), chi.URLParam(r, "id"), path)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "field not set")
		return
	}
	writeJSON(w, http.StatusOK, fieldResponse{Path: path, Field: f, Explain: model.Explain(f)})
}

type dedupeRequest struct {
	Profiles []model.CompetitorProfile `json:"profiles"`
}

func (s *Server) handleDedupe(w http.ResponseWriter, r *http.Request) {
	var req dedupeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Dedupe(req.Profiles))
}

type mergeRequest struct {
	Existing []model.CompetitorProfile `json:"existing"`
	Incoming []model.CompetitorProfile `json:"incoming"`
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.MergeIntoExisting(req.Existing, req.Incoming))
}
