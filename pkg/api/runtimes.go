package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyac-dev/hyac/pkg/types"
)

func (s *Server) runtimeRoutes(r chi.Router) {
	r.Get("/status", s.handleRuntimesStatus)
	r.Post("/status/sync", s.handleRuntimesSync)
}

// handleRuntimesStatus lists live runtime containers with the application
// each one serves.
func (s *Server) handleRuntimesStatus(w http.ResponseWriter, r *http.Request) {
	containers, err := s.engine.List(r.Context(), types.RuntimeContainerPrefix)
	if err != nil {
		failErr(w, err)
		return
	}
	type runtimeStatus struct {
		Name   string `json:"name"`
		ID     string `json:"id"`
		State  string `json:"state"`
		Health string `json:"health"`
	}
	out := make([]runtimeStatus, 0, len(containers))
	for _, c := range containers {
		out = append(out, runtimeStatus{
			Name:   c.Name,
			ID:     c.ID,
			State:  string(c.State),
			Health: string(c.Health),
		})
	}
	ok(w, out)
}

// handleRuntimesSync triggers one reconciliation sweep immediately
func (s *Server) handleRuntimesSync(w http.ResponseWriter, r *http.Request) {
	s.sweeper.Sweep(r.Context())
	ok(w, nil)
}
