package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Experiment  string         `json:"experiment"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "gomint API",
		Version:     "v1",
		Experiment:  s.config.Experiment,
		Description: "Read-only view of a running experiment",
		Endpoints: []endpointInfo{
			{"/api/v1/jobs", []string{"GET"}, "List jobs; ?status= and ?resource= filter"},
			{"/api/v1/jobs/{id}", []string{"GET"}, "Single job record"},
			{"/api/v1/resources", []string{"GET"}, "Resource capacity and job counts"},
			{"/api/v1/hypers", []string{"GET"}, "Latest chooser hyperparameters"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
