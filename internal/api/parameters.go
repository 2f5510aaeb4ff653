package api

import (
	"net/http"
	"strconv"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/models"
)

type saveParametersRequest struct {
	Name        string                         `json:"name"`
	Description string                         `json:"description"`
	Parameters  models.GenerateTextbookRequest `json:"parameters"`
}

func (s *Server) handleSaveParameters(w http.ResponseWriter, r *http.Request) {
	var req saveParametersRequest
	if !decode(w, r, &req) {
		return
	}
	ps, err := s.deps.Parameters.SaveParameterSet(r.Context(), models.ParameterSet{
		Name:        req.Name,
		Description: req.Description,
		Parameters:  req.Parameters,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	ps, err := s.deps.Parameters.GetParameterSet(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleGetParametersByName(w http.ResponseWriter, r *http.Request) {
	ps, err := s.deps.Parameters.GetParameterSetByName(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleListParameters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, err := intParam(q.Get("skip"), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := intParam(q.Get("limit"), 100)
	if err != nil {
		writeError(w, err)
		return
	}
	sets, err := s.deps.Parameters.ListParameterSets(r.Context(), skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sets)
}

func (s *Server) handleUpdateParameters(w http.ResponseWriter, r *http.Request) {
	var upd models.ParameterSetUpdate
	if !decode(w, r, &upd) {
		return
	}
	ps, err := s.deps.Parameters.UpdateParameterSet(r.Context(), r.PathValue("id"), upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.InvalidRequest("skip and limit must be non-negative integers.")
	}
	return n, nil
}
