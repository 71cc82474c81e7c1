package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hyac-dev/hyac/pkg/types"
)

// Memory is an in-process Store used by tests and local experiments. It has
// no change feed; watch-driven behavior is exercised against MongoDB.
type Memory struct {
	mu             sync.RWMutex
	applications   map[string]*types.Application
	functions      map[string]*types.Function // app_id + "/" + function_id
	history        []*types.FunctionHistory
	templates      map[string]*types.FunctionTemplate
	tasks          map[string]*types.Task
	scheduledTasks map[string]*types.ScheduledTask
	metrics        []*types.FunctionMetric
	logs           []*types.LogEntry
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		applications:   make(map[string]*types.Application),
		functions:      make(map[string]*types.Function),
		templates:      make(map[string]*types.FunctionTemplate),
		tasks:          make(map[string]*types.Task),
		scheduledTasks: make(map[string]*types.ScheduledTask),
	}
}

func fnKey(appID, functionID string) string {
	return appID + "/" + functionID
}

func copyApp(a *types.Application) *types.Application {
	c := *a
	return &c
}

func copyFn(f *types.Function) *types.Function {
	c := *f
	return &c
}

// Applications

func (m *Memory) InsertApplication(ctx context.Context, app *types.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.applications[app.AppID]; ok {
		return ErrDuplicate
	}
	m.applications[app.AppID] = copyApp(app)
	return nil
}

func (m *Memory) GetApplication(ctx context.Context, appID string) (*types.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.applications[appID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyApp(app), nil
}

func (m *Memory) GetApplicationByName(ctx context.Context, name string) (*types.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, app := range m.applications {
		if app.AppName == name {
			return copyApp(app), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetApplicationBySubdomain(ctx context.Context, sub string) (*types.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, app := range m.applications {
		if strings.EqualFold(app.AppID, sub) {
			return copyApp(app), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListApplications(ctx context.Context) ([]*types.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	apps := make([]*types.Application, 0, len(m.applications))
	for _, app := range m.applications {
		apps = append(apps, copyApp(app))
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].AppID < apps[j].AppID })
	return apps, nil
}

func (m *Memory) ListApplicationsPage(ctx context.Context, user string, page, length int) ([]*types.Application, int64, error) {
	apps, _ := m.ListApplications(ctx)
	if user != "" {
		filtered := apps[:0]
		for _, app := range apps {
			for _, u := range app.Users {
				if u == user {
					filtered = append(filtered, app)
					break
				}
			}
		}
		apps = filtered
	}
	total := int64(len(apps))
	if page < 1 {
		page = 1
	}
	if length < 1 {
		length = 20
	}
	start := (page - 1) * length
	if start >= len(apps) {
		return nil, total, nil
	}
	end := start + length
	if end > len(apps) {
		end = len(apps)
	}
	return apps[start:end], total, nil
}

func (m *Memory) UpdateApplication(ctx context.Context, app *types.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.applications[app.AppID]; !ok {
		return ErrNotFound
	}
	app.UpdatedAt = time.Now().UTC()
	m.applications[app.AppID] = copyApp(app)
	return nil
}

func (m *Memory) SetApplicationStatus(ctx context.Context, appID string, status types.ApplicationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.applications[appID]
	if !ok {
		return ErrNotFound
	}
	app.Status = status
	app.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteApplication(ctx context.Context, appID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.applications[appID]; !ok {
		return ErrNotFound
	}
	delete(m.applications, appID)
	return nil
}

// Functions

func (m *Memory) InsertFunction(ctx context.Context, fn *types.Function) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fnKey(fn.AppID, fn.FunctionID)
	if _, ok := m.functions[key]; ok {
		return ErrDuplicate
	}
	m.functions[key] = copyFn(fn)
	return nil
}

func (m *Memory) GetFunction(ctx context.Context, appID, functionID string) (*types.Function, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.functions[fnKey(appID, functionID)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyFn(fn), nil
}

func (m *Memory) GetFunctionByName(ctx context.Context, appID, name string) (*types.Function, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fn := range m.functions {
		if fn.AppID == appID && fn.FunctionName == name {
			return copyFn(fn), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetPublishedFunction(ctx context.Context, appID, functionID string, ft types.FunctionType) (*types.Function, error) {
	fn, err := m.GetFunction(ctx, appID, functionID)
	if err != nil {
		return nil, err
	}
	if fn.FunctionType != ft || fn.Status != types.FunctionPublished {
		return nil, ErrNotFound
	}
	return fn, nil
}

func (m *Memory) ListFunctions(ctx context.Context, appID string) ([]*types.Function, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var fns []*types.Function
	for _, fn := range m.functions {
		if fn.AppID == appID {
			fns = append(fns, copyFn(fn))
		}
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].FunctionID < fns[j].FunctionID })
	return fns, nil
}

func (m *Memory) ListPublishedCommonFunctions(ctx context.Context, appID string) ([]*types.Function, error) {
	fns, _ := m.ListFunctions(ctx, appID)
	out := fns[:0]
	for _, fn := range fns {
		if fn.FunctionType == types.FunctionCommon && fn.Status == types.FunctionPublished {
			out = append(out, fn)
		}
	}
	return out, nil
}

func (m *Memory) UpdateFunctionCode(ctx context.Context, appID, functionID, code, updatedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn, ok := m.functions[fnKey(appID, functionID)]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	m.history = append(m.history, &types.FunctionHistory{
		FunctionID: functionID,
		AppID:      appID,
		OldCode:    fn.Code,
		NewCode:    code,
		UpdatedBy:  updatedBy,
		UpdatedAt:  now,
	})
	fn.Code = code
	fn.UpdatedAt = now
	return nil
}

func (m *Memory) DeleteFunction(ctx context.Context, appID, functionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fnKey(appID, functionID)
	if _, ok := m.functions[key]; !ok {
		return ErrNotFound
	}
	delete(m.functions, key)
	m.history = filterHistory(m.history, appID, functionID)
	m.metrics = filterMetrics(m.metrics, appID, functionID)
	return nil
}

func (m *Memory) DeleteFunctionsByApp(ctx context.Context, appID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, fn := range m.functions {
		if fn.AppID == appID {
			delete(m.functions, key)
			n++
		}
	}
	m.history = filterHistory(m.history, appID, "")
	m.metrics = filterMetrics(m.metrics, appID, "")
	return n, nil
}

func filterHistory(in []*types.FunctionHistory, appID, functionID string) []*types.FunctionHistory {
	out := in[:0]
	for _, h := range in {
		if h.AppID == appID && (functionID == "" || h.FunctionID == functionID) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func filterMetrics(in []*types.FunctionMetric, appID, functionID string) []*types.FunctionMetric {
	out := in[:0]
	for _, fm := range in {
		if fm.AppID == appID && (functionID == "" || fm.FunctionID == functionID) {
			continue
		}
		out = append(out, fm)
	}
	return out
}

// Function history

func (m *Memory) ListFunctionHistory(ctx context.Context, appID, functionID string) ([]*types.FunctionHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []*types.FunctionHistory
	for _, h := range m.history {
		if h.AppID == appID && h.FunctionID == functionID {
			entries = append(entries, h)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAt.After(entries[j].UpdatedAt) })
	return entries, nil
}

// Function templates

func (m *Memory) InsertTemplate(ctx context.Context, tpl *types.FunctionTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[tpl.TemplateID]; ok {
		return ErrDuplicate
	}
	c := *tpl
	m.templates[tpl.TemplateID] = &c
	return nil
}

func (m *Memory) GetTemplate(ctx context.Context, templateID string) (*types.FunctionTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tpl, ok := m.templates[templateID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *tpl
	return &c, nil
}

func (m *Memory) GetDefaultTemplate(ctx context.Context, ft types.FunctionType) (*types.FunctionTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, tpl := range m.templates {
		if tpl.Kind == types.TemplateSystem && tpl.FunctionType == ft {
			c := *tpl
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListTemplates(ctx context.Context, appID string) ([]*types.FunctionTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var tpls []*types.FunctionTemplate
	for _, tpl := range m.templates {
		if tpl.Kind == types.TemplateSystem || tpl.AppID == appID {
			c := *tpl
			tpls = append(tpls, &c)
		}
	}
	sort.Slice(tpls, func(i, j int) bool { return tpls[i].TemplateID < tpls[j].TemplateID })
	return tpls, nil
}

func (m *Memory) UpdateTemplate(ctx context.Context, tpl *types.FunctionTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[tpl.TemplateID]; !ok {
		return ErrNotFound
	}
	tpl.UpdatedAt = time.Now().UTC()
	c := *tpl
	m.templates[tpl.TemplateID] = &c
	return nil
}

func (m *Memory) DeleteTemplate(ctx context.Context, templateID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[templateID]; !ok {
		return ErrNotFound
	}
	delete(m.templates, templateID)
	return nil
}

func (m *Memory) DeleteTemplatesByApp(ctx context.Context, appID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, tpl := range m.templates {
		if tpl.Kind == types.TemplateUser && tpl.AppID == appID {
			delete(m.templates, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountSystemTemplates(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, tpl := range m.templates {
		if tpl.Kind == types.TemplateSystem {
			n++
		}
	}
	return n, nil
}

// Tasks

func (m *Memory) InsertTask(ctx context.Context, task *types.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.TaskID]; ok {
		return ErrDuplicate
	}
	c := *task
	m.tasks[task.TaskID] = &c
	return nil
}

func (m *Memory) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *task
	return &c, nil
}

func (m *Memory) ListRecoverableTasks(ctx context.Context) ([]*types.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var tasks []*types.Task
	for _, task := range m.tasks {
		recoverable := task.Status == types.TaskPending ||
			task.Status == types.TaskRunning ||
			(task.Status == types.TaskFailed && task.Action == types.ActionStartApp)
		if recoverable {
			c := *task
			tasks = append(tasks, &c)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

func (m *Memory) MarkTask(ctx context.Context, taskID string, status types.TaskStatus, result map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	task.Status = status
	if result != nil {
		task.Result = result
	}
	task.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteTasksByApp(ctx context.Context, appID string, action types.TaskAction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, task := range m.tasks {
		tAppID, _ := task.AppID()
		if tAppID == appID && (action == "" || task.Action == action) {
			delete(m.tasks, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) HasActiveTask(ctx context.Context, appID string, action types.TaskAction) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, task := range m.tasks {
		tAppID, _ := task.AppID()
		if tAppID != appID {
			continue
		}
		if action != "" && task.Action != action {
			continue
		}
		if task.Status == types.TaskPending || task.Status == types.TaskRunning {
			return true, nil
		}
	}
	return false, nil
}

// Scheduled tasks

func (m *Memory) UpsertScheduledTask(ctx context.Context, task *types.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.UpdatedAt = time.Now().UTC()
	c := *task
	m.scheduledTasks[task.TaskID] = &c
	return nil
}

func (m *Memory) GetScheduledTask(ctx context.Context, taskID string) (*types.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.scheduledTasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *task
	return &c, nil
}

func (m *Memory) FindScheduledTask(ctx context.Context, appID, functionID string) (*types.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, task := range m.scheduledTasks {
		if task.AppID == appID && task.FunctionID == functionID {
			c := *task
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListEnabledScheduledTasks(ctx context.Context) ([]*types.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var tasks []*types.ScheduledTask
	for _, task := range m.scheduledTasks {
		if task.Enabled {
			c := *task
			tasks = append(tasks, &c)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskID < tasks[j].TaskID })
	return tasks, nil
}

func (m *Memory) DeleteScheduledTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scheduledTasks[taskID]; !ok {
		return ErrNotFound
	}
	delete(m.scheduledTasks, taskID)
	return nil
}

func (m *Memory) DeleteScheduledTasksByApp(ctx context.Context, appID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, task := range m.scheduledTasks {
		if task.AppID == appID {
			delete(m.scheduledTasks, id)
			n++
		}
	}
	return n, nil
}

// Metrics and logs

func (m *Memory) InsertFunctionMetric(ctx context.Context, metric *types.FunctionMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *metric
	m.metrics = append(m.metrics, &c)
	return nil
}

func (m *Memory) DeleteMetricsByFunction(ctx context.Context, appID, functionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = filterMetrics(m.metrics, appID, functionID)
	return nil
}

func (m *Memory) InsertLogEntry(ctx context.Context, entry *types.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *entry
	m.logs = append(m.logs, &c)
	return nil
}

func (m *Memory) ListLogEntries(ctx context.Context, q LogQuery) ([]*types.LogEntry, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*types.LogEntry
	for _, e := range m.logs {
		if q.AppID != "" && e.AppID != q.AppID {
			continue
		}
		if q.FunctionID != "" && e.FunctionID != q.FunctionID {
			continue
		}
		if q.Level != "" && !strings.EqualFold(e.Level, q.Level) {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
			continue
		}
		c := *e
		matched = append(matched, &c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	total := int64(len(matched))
	page, length := q.Page, q.Length
	if page < 1 {
		page = 1
	}
	if length < 1 {
		length = 20
	}
	start := (page - 1) * length
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + length
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

// Utility

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close(ctx context.Context) error { return nil }
