package store

import (
	"context"
	"errors"
	"time"

	"github.com/hyac-dev/hyac/pkg/types"
)

// Sentinel errors surfaced across the store boundary. The API layer maps
// them onto envelope codes.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	ErrConflict  = errors.New("conflict")
)

// LogQuery filters persisted log entries
type LogQuery struct {
	AppID      string
	FunctionID string
	Level      string
	Since      time.Time
	Until      time.Time
	Page       int
	Length     int
}

// Store defines the interface for platform state storage.
// Implemented by the MongoDB-backed store; the in-memory store backs tests.
type Store interface {
	// Applications
	InsertApplication(ctx context.Context, app *types.Application) error
	GetApplication(ctx context.Context, appID string) (*types.Application, error)
	GetApplicationByName(ctx context.Context, name string) (*types.Application, error)
	GetApplicationBySubdomain(ctx context.Context, sub string) (*types.Application, error)
	ListApplications(ctx context.Context) ([]*types.Application, error)
	ListApplicationsPage(ctx context.Context, user string, page, length int) ([]*types.Application, int64, error)
	UpdateApplication(ctx context.Context, app *types.Application) error
	SetApplicationStatus(ctx context.Context, appID string, status types.ApplicationStatus) error
	DeleteApplication(ctx context.Context, appID string) error

	// Functions
	InsertFunction(ctx context.Context, fn *types.Function) error
	GetFunction(ctx context.Context, appID, functionID string) (*types.Function, error)
	GetFunctionByName(ctx context.Context, appID, name string) (*types.Function, error)
	GetPublishedFunction(ctx context.Context, appID, functionID string, ft types.FunctionType) (*types.Function, error)
	ListFunctions(ctx context.Context, appID string) ([]*types.Function, error)
	ListPublishedCommonFunctions(ctx context.Context, appID string) ([]*types.Function, error)
	UpdateFunctionCode(ctx context.Context, appID, functionID, code, updatedBy string) error
	DeleteFunction(ctx context.Context, appID, functionID string) error
	DeleteFunctionsByApp(ctx context.Context, appID string) (int64, error)

	// Function history
	ListFunctionHistory(ctx context.Context, appID, functionID string) ([]*types.FunctionHistory, error)

	// Function templates
	InsertTemplate(ctx context.Context, tpl *types.FunctionTemplate) error
	GetTemplate(ctx context.Context, templateID string) (*types.FunctionTemplate, error)
	GetDefaultTemplate(ctx context.Context, ft types.FunctionType) (*types.FunctionTemplate, error)
	ListTemplates(ctx context.Context, appID string) ([]*types.FunctionTemplate, error)
	UpdateTemplate(ctx context.Context, tpl *types.FunctionTemplate) error
	DeleteTemplate(ctx context.Context, templateID string) error
	DeleteTemplatesByApp(ctx context.Context, appID string) (int64, error)
	CountSystemTemplates(ctx context.Context) (int64, error)

	// Tasks
	InsertTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, taskID string) (*types.Task, error)
	ListRecoverableTasks(ctx context.Context) ([]*types.Task, error)
	MarkTask(ctx context.Context, taskID string, status types.TaskStatus, result map[string]interface{}) error
	DeleteTasksByApp(ctx context.Context, appID string, action types.TaskAction) (int64, error)
	HasActiveTask(ctx context.Context, appID string, action types.TaskAction) (bool, error)

	// Scheduled tasks
	UpsertScheduledTask(ctx context.Context, task *types.ScheduledTask) error
	GetScheduledTask(ctx context.Context, taskID string) (*types.ScheduledTask, error)
	FindScheduledTask(ctx context.Context, appID, functionID string) (*types.ScheduledTask, error)
	ListEnabledScheduledTasks(ctx context.Context) ([]*types.ScheduledTask, error)
	DeleteScheduledTask(ctx context.Context, taskID string) error
	DeleteScheduledTasksByApp(ctx context.Context, appID string) (int64, error)

	// Metrics and logs
	InsertFunctionMetric(ctx context.Context, metric *types.FunctionMetric) error
	DeleteMetricsByFunction(ctx context.Context, appID, functionID string) error
	InsertLogEntry(ctx context.Context, entry *types.LogEntry) error
	ListLogEntries(ctx context.Context, q LogQuery) ([]*types.LogEntry, int64, error)

	// Utility
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
