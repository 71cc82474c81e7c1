package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

func (s *Server) applicationRoutes(r chi.Router) {
	r.Post("/create", s.handleAppCreate)
	r.Post("/start", s.handleAppAction(types.ActionStartApp))
	r.Post("/stop", s.handleAppAction(types.ActionStopApp))
	r.Post("/restart", s.handleAppAction(types.ActionRestartApp))
	r.Post("/delete", s.handleAppAction(types.ActionDeleteApp))
	r.Post("/data", s.handleAppData)
	r.Post("/info", s.handleAppInfo)
	r.Post("/update_description", s.handleAppUpdateDescription)
}

// caller returns the requester identity. No user system is wired in, so the
// identity is an opaque optional header used for ownership bookkeeping.
func caller(r *http.Request) string {
	return r.Header.Get("X-User")
}

func (s *Server) handleAppCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppName     string `json:"appName"`
		Description string `json:"description"`
	}
	if err := decode(r, &req); err != nil || req.AppName == "" {
		fail(w, CodeValidation, "appName is required")
		return
	}
	if _, err := s.store.GetApplicationByName(r.Context(), req.AppName); err == nil {
		fail(w, CodeConflict, "application name already in use")
		return
	} else if err != store.ErrNotFound {
		failErr(w, err)
		return
	}

	now := time.Now().UTC()
	app := &types.Application{
		AppID:       types.NewShortID(8),
		AppName:     req.AppName,
		Description: req.Description,
		DBPassword:  types.NewShortID(24),
		Status:      types.AppStatusStarting,
		CORS:        types.DefaultCORSConfig(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if user := caller(r); user != "" {
		app.Users = []string{user}
	}
	if err := s.store.InsertApplication(r.Context(), app); err != nil {
		failErr(w, err)
		return
	}
	if err := s.enqueuer.Enqueue(r.Context(), types.ActionStartApp, app.AppID); err != nil {
		s.logger.Error().Err(err).Str("app_id", app.AppID).Msg("failed to enqueue start after create")
		failErr(w, err)
		return
	}
	s.logger.Info().Str("app_id", app.AppID).Str("app_name", app.AppName).Msg("application created")
	ok(w, app)
}

// transitionFor maps an accepted action to the status recorded while the
// task is in flight.
var transitionFor = map[types.TaskAction]types.ApplicationStatus{
	types.ActionStartApp:   types.AppStatusStarting,
	types.ActionStopApp:    types.AppStatusStopping,
	types.ActionRestartApp: types.AppStatusStarting,
	types.ActionDeleteApp:  types.AppStatusDeleting,
}

func isTransitional(status types.ApplicationStatus) bool {
	return status == types.AppStatusStarting ||
		status == types.AppStatusStopping ||
		status == types.AppStatusDeleting
}

// transitionAllowed is the lifecycle state machine: stopped and error apps
// may start or be deleted, running apps may stop, restart or be deleted,
// transitional states accept only a re-request of the action in flight.
func transitionAllowed(status types.ApplicationStatus, action types.TaskAction) bool {
	switch status {
	case types.AppStatusStopped, types.AppStatusError:
		return action == types.ActionStartApp || action == types.ActionDeleteApp
	case types.AppStatusRunning:
		return action == types.ActionStopApp || action == types.ActionRestartApp || action == types.ActionDeleteApp
	default:
		return false
	}
}

func (s *Server) handleAppAction(action types.TaskAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		// Re-requesting the action already in flight is idempotent:
		// answer success without enqueueing a second task.
		if isTransitional(app.Status) && transitionFor[action] == app.Status {
			ok(w, map[string]string{"app_id": app.AppID, "status": string(app.Status)})
			return
		}
		if !transitionAllowed(app.Status, action) {
			fail(w, CodeConflict, "operation not allowed while application is "+string(app.Status))
			return
		}
		if active, err := s.store.HasActiveTask(r.Context(), app.AppID, ""); err != nil {
			failErr(w, err)
			return
		} else if active {
			fail(w, CodeConflict, "another operation is already in progress")
			return
		}
		if err := s.store.SetApplicationStatus(r.Context(), app.AppID, transitionFor[action]); err != nil {
			failErr(w, err)
			return
		}
		if err := s.enqueuer.Enqueue(r.Context(), action, app.AppID); err != nil {
			failErr(w, err)
			return
		}
		s.logger.Info().Str("app_id", app.AppID).Str("action", string(action)).Msg("task enqueued")
		ok(w, map[string]string{"app_id": app.AppID, "status": string(transitionFor[action])})
	}
}

func (s *Server) handleAppData(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Page   int `json:"page"`
		Length int `json:"length"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, CodeValidation, "invalid request body")
		return
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Length < 1 {
		req.Length = 10
	}
	apps, total, err := s.store.ListApplicationsPage(r.Context(), caller(r), req.Page, req.Length)
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, map[string]interface{}{"items": apps, "total": total})
}

func (s *Server) handleAppInfo(w http.ResponseWriter, r *http.Request) {
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
	ok(w, app)
}

func (s *Server) handleAppUpdateDescription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID       string `json:"appId"`
		Description string `json:"description"`
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
	app.Description = req.Description
	if err := s.store.UpdateApplication(r.Context(), app); err != nil {
		failErr(w, err)
		return
	}
	ok(w, nil)
}
