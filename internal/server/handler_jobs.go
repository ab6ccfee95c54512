package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/gomint/internal/resource"
	"github.com/me/gomint/pkg/model"
)

type jobList struct {
	Total int          `json:"total"`
	Jobs  []*model.Job `json:"jobs"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	jobs, err := s.store.LoadJobs(r.Context(), s.config.Experiment)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}

	if q := r.URL.Query().Get("status"); q != "" {
		status, err := model.ParseJobStatus(q)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				&model.APIError{Code: model.ErrValidation, Message: err.Error()})
			return
		}
		jobs = model.FilterByStatus(jobs, status)
	}
	if q := r.URL.Query().Get("resource"); q != "" {
		jobs = model.FilterByResource(jobs, q)
	}

	if jobs == nil {
		jobs = []*model.Job{}
	}
	respondOK(w, reqID, jobList{Total: len(jobs), Jobs: jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	raw := chi.URLParam(r, "id")

	id, err := strconv.Atoi(raw)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			&model.APIError{Code: model.ErrValidation, Message: "job id must be an integer"})
		return
	}

	job, err := s.store.LoadJob(r.Context(), s.config.Experiment, id)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if job == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("job", raw))
		return
	}
	respondOK(w, reqID, job)
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	jobs, err := s.store.LoadJobs(r.Context(), s.config.Experiment)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	respondOK(w, reqID, resource.Statuses(s.resources, jobs))
}

func (s *Server) handleGetHypers(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	h, err := s.store.LoadHypers(r.Context(), s.config.Experiment)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if h == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("hypers", s.config.Experiment))
		return
	}
	respondOK(w, reqID, h)
}
