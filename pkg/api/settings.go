package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyac-dev/hyac/pkg/types"
)

func (s *Server) settingsRoutes(r chi.Router) {
	r.Post("/envs_data", s.handleEnvsData)
	r.Post("/env_add", s.handleEnvAdd)
	r.Post("/env_remove", s.handleEnvRemove)
	r.Post("/cors_data", s.handleCORSData)
	r.Post("/cors_update", s.handleCORSUpdate)
	r.Post("/notification_data", s.handleNotificationData)
	r.Post("/notification_update", s.handleNotificationUpdate)
	r.Post("/ai_config_data", s.handleAIConfigData)
	r.Post("/ai_config_update", s.handleAIConfigUpdate)
	r.Post("/dependencies_data", s.handleDependenciesData)
	r.Post("/dependence_update", s.handleDependenceUpdate)
	r.Post("/application_status", s.handleApplicationStatus)
	r.Get("/domain", s.handleDomain)
}

// withApp loads the app named in the request body and passes it to fn
func (s *Server) withApp(w http.ResponseWriter, r *http.Request, fn func(app *types.Application)) {
	var req struct {
		AppID string `json:"appId"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" {
		fail(w, CodeValidation, "appId is required")
		return
	}
	app, err := s.store.GetApplication(r.Context(), req.AppID)
	if err != nil {
		failErr(w, err)
		return
	}
	fn(app)
}

func (s *Server) handleEnvsData(w http.ResponseWriter, r *http.Request) {
	s.withApp(w, r, func(app *types.Application) {
		ok(w, app.EnvironmentVariables)
	})
}

// handleEnvAdd inserts or updates one environment variable. The runtime
// observes the application document through the change feed, so no restart
// is needed.
func (s *Server) handleEnvAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID string `json:"appId"`
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.Key == "" {
		fail(w, CodeValidation, "appId and key are required")
		return
	}
	app, err := s.store.GetApplication(r.Context(), req.AppID)
	if err != nil {
		failErr(w, err)
		return
	}
	updated := false
	for i := range app.EnvironmentVariables {
		if app.EnvironmentVariables[i].Key == req.Key {
			app.EnvironmentVariables[i].Value = req.Value
			updated = true
			break
		}
	}
	if !updated {
		app.EnvironmentVariables = append(app.EnvironmentVariables, types.EnvironmentVariable{
			Key: req.Key, Value: req.Value,
		})
	}
	if err := s.store.UpdateApplication(r.Context(), app); err != nil {
		failErr(w, err)
		return
	}
	ok(w, app.EnvironmentVariables)
}

func (s *Server) handleEnvRemove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID string `json:"appId"`
		Key   string `json:"key"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.Key == "" {
		fail(w, CodeValidation, "appId and key are required")
		return
	}
	app, err := s.store.GetApplication(r.Context(), req.AppID)
	if err != nil {
		failErr(w, err)
		return
	}
	kept := app.EnvironmentVariables[:0]
	for _, v := range app.EnvironmentVariables {
		if v.Key != req.Key {
			kept = append(kept, v)
		}
	}
	app.EnvironmentVariables = kept
	if err := s.store.UpdateApplication(r.Context(), app); err != nil {
		failErr(w, err)
		return
	}
	ok(w, app.EnvironmentVariables)
}

func (s *Server) handleCORSData(w http.ResponseWriter, r *http.Request) {
	s.withApp(w, r, func(app *types.Application) {
		ok(w, app.CORS)
	})
}

func (s *Server) handleCORSUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID string           `json:"appId"`
		CORS  types.CORSConfig `json:"cors"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" {
		fail(w, CodeValidation, "appId is required")
		return
	}
	app, err := s.store.GetApplication(r.Context(), req.AppID)
	if err != nil {
		failErr(w, err)
		return
	}
	app.CORS = req.CORS
	if err := s.store.UpdateApplication(r.Context(), app); err != nil {
		failErr(w, err)
		return
	}
	ok(w, app.CORS)
}

func (s *Server) handleNotificationData(w http.ResponseWriter, r *http.Request) {
	s.withApp(w, r, func(app *types.Application) {
		ok(w, app.Notification)
	})
}

func (s *Server) handleNotificationUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID        string                   `json:"appId"`
		Notification types.NotificationConfig `json:"notification"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" {
		fail(w, CodeValidation, "appId is required")
		return
	}
	app, err := s.store.GetApplication(r.Context(), req.AppID)
	if err != nil {
		failErr(w, err)
		return
	}
	app.Notification = req.Notification
	if err := s.store.UpdateApplication(r.Context(), app); err != nil {
		failErr(w, err)
		return
	}
	ok(w, app.Notification)
}

func (s *Server) handleAIConfigData(w http.ResponseWriter, r *http.Request) {
	s.withApp(w, r, func(app *types.Application) {
		ok(w, app.AI)
	})
}

func (s *Server) handleAIConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID string         `json:"appId"`
		AI    types.AIConfig `json:"ai"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" {
		fail(w, CodeValidation, "appId is required")
		return
	}
	app, err := s.store.GetApplication(r.Context(), req.AppID)
	if err != nil {
		failErr(w, err)
		return
	}
	app.AI = req.AI
	if err := s.store.UpdateApplication(r.Context(), app); err != nil {
		failErr(w, err)
		return
	}
	ok(w, app.AI)
}

func (s *Server) handleDependenciesData(w http.ResponseWriter, r *http.Request) {
	s.withApp(w, r, func(app *types.Application) {
		ok(w, app.CommonDependencies)
	})
}

// handleDependenceUpdate replaces the pinned dependency set. Dependencies
// are installed at container start, so a running app is restarted through
// the task queue to pick them up.
func (s *Server) handleDependenceUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID        string             `json:"appId"`
		Dependencies []types.Dependency `json:"dependencies"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" {
		fail(w, CodeValidation, "appId is required")
		return
	}
	app, err := s.store.GetApplication(r.Context(), req.AppID)
	if err != nil {
		failErr(w, err)
		return
	}
	app.CommonDependencies = req.Dependencies
	if err := s.store.UpdateApplication(r.Context(), app); err != nil {
		failErr(w, err)
		return
	}
	if app.Status == types.AppStatusRunning {
		if err := s.store.SetApplicationStatus(r.Context(), app.AppID, types.AppStatusStarting); err != nil {
			failErr(w, err)
			return
		}
		if err := s.enqueuer.Enqueue(r.Context(), types.ActionRestartApp, app.AppID); err != nil {
			failErr(w, err)
			return
		}
		s.logger.Info().Str("app_id", app.AppID).Msg("restart enqueued after dependency update")
	}
	ok(w, app.CommonDependencies)
}

func (s *Server) handleApplicationStatus(w http.ResponseWriter, r *http.Request) {
	s.withApp(w, r, func(app *types.Application) {
		ok(w, map[string]string{"app_id": app.AppID, "status": string(app.Status)})
	})
}

func (s *Server) handleDomain(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]string{"domain": s.cfg.DomainName})
}
