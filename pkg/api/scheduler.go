package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

func (s *Server) schedulerRoutes(r chi.Router) {
	r.Post("/get", s.handleSchedulerGet)
	r.Post("/upsert", s.handleSchedulerUpsert)
	r.Post("/delete", s.handleSchedulerDelete)
	r.Post("/trigger", s.handleSchedulerTrigger)
}

func (s *Server) handleSchedulerGet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID      string `json:"appId"`
		FunctionID string `json:"functionId"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.FunctionID == "" {
		fail(w, CodeValidation, "appId and functionId are required")
		return
	}
	task, err := s.store.FindScheduledTask(r.Context(), req.AppID, req.FunctionID)
	if err == store.ErrNotFound {
		ok(w, nil)
		return
	}
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, task)
}

func (s *Server) handleSchedulerUpsert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID        string                 `json:"task_id"`
		AppID         string                 `json:"appId"`
		FunctionID    string                 `json:"functionId"`
		Name          string                 `json:"name"`
		Trigger       string                 `json:"trigger"`
		TriggerConfig map[string]interface{} `json:"trigger_config"`
		Params        map[string]interface{} `json:"params"`
		Body          map[string]interface{} `json:"body"`
		Enabled       bool                   `json:"enabled"`
		Description   string                 `json:"description"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.FunctionID == "" {
		fail(w, CodeValidation, "appId and functionId are required")
		return
	}
	trigger := types.TriggerType(req.Trigger)
	if trigger != types.TriggerCron && trigger != types.TriggerInterval {
		fail(w, CodeValidation, "trigger must be cron or interval")
		return
	}
	fn, err := s.store.GetFunction(r.Context(), req.AppID, req.FunctionID)
	if err != nil {
		failErr(w, err)
		return
	}
	// Only HTTP endpoints can be dispatched on a schedule.
	if fn.FunctionType == types.FunctionCommon {
		fail(w, CodeValidation, "common functions cannot be scheduled")
		return
	}

	task := &types.ScheduledTask{
		TaskID:        req.TaskID,
		AppID:         req.AppID,
		FunctionID:    req.FunctionID,
		Name:          req.Name,
		Trigger:       trigger,
		TriggerConfig: req.TriggerConfig,
		Params:        req.Params,
		Body:          req.Body,
		Enabled:       req.Enabled,
		Description:   req.Description,
	}
	if task.TaskID == "" {
		if existing, err := s.store.FindScheduledTask(r.Context(), req.AppID, req.FunctionID); err == nil {
			task.TaskID = existing.TaskID
			task.CreatedAt = existing.CreatedAt
		} else {
			task.TaskID = types.NewShortID(8)
			task.CreatedAt = time.Now().UTC()
		}
	}
	if task.Name == "" {
		task.Name = fn.FunctionName
	}

	// Validate the schedule before persisting so a bad expression never
	// lands in the database.
	if err := s.sched.Add(task); err != nil {
		fail(w, CodeValidation, err.Error())
		return
	}
	if err := s.store.UpsertScheduledTask(r.Context(), task); err != nil {
		s.sched.Remove(task.TaskID)
		failErr(w, err)
		return
	}
	ok(w, task)
}

func (s *Server) handleSchedulerDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := decode(r, &req); err != nil || req.TaskID == "" {
		fail(w, CodeValidation, "task_id is required")
		return
	}
	task, err := s.store.GetScheduledTask(r.Context(), req.TaskID)
	if err != nil {
		failErr(w, err)
		return
	}
	if task.IsSystemTask {
		fail(w, CodeValidation, "system tasks cannot be deleted")
		return
	}
	if err := s.store.DeleteScheduledTask(r.Context(), req.TaskID); err != nil {
		failErr(w, err)
		return
	}
	s.sched.Remove(req.TaskID)
	ok(w, nil)
}

func (s *Server) handleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := decode(r, &req); err != nil || req.TaskID == "" {
		fail(w, CodeValidation, "task_id is required")
		return
	}
	if err := s.sched.Trigger(r.Context(), req.TaskID); err != nil {
		if err == store.ErrNotFound {
			failErr(w, err)
			return
		}
		fail(w, CodeInternal, "trigger failed: "+err.Error())
		return
	}
	ok(w, nil)
}
