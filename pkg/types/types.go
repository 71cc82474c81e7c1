package types

import (
	"fmt"
	"strings"
	"time"
)

// ApplicationStatus represents the controller-owned lifecycle state of an app
type ApplicationStatus string

const (
	AppStatusStarting ApplicationStatus = "starting"
	AppStatusRunning  ApplicationStatus = "running"
	AppStatusStopping ApplicationStatus = "stopping"
	AppStatusStopped  ApplicationStatus = "stopped"
	AppStatusDeleting ApplicationStatus = "deleting"
	AppStatusError    ApplicationStatus = "error"
)

// EnvironmentVariable is a user-defined key/value injected into the runtime
type EnvironmentVariable struct {
	Key   string `bson:"key" json:"key"`
	Value string `bson:"value" json:"value"`
}

// Dependency is a common dependency pinned by name and version
type Dependency struct {
	Name    string `bson:"name" json:"name"`
	Version string `bson:"version" json:"version"`
}

// CORSConfig controls the runtime's cross-origin policy
type CORSConfig struct {
	AllowOrigins     []string `bson:"allow_origins" json:"allow_origins"`
	AllowCredentials bool     `bson:"allow_credentials" json:"allow_credentials"`
	AllowMethods     []string `bson:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string `bson:"allow_headers" json:"allow_headers"`
}

// DefaultCORSConfig returns the permissive policy new apps start with
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowCredentials: true,
		AllowMethods:     []string{"*"},
		AllowHeaders:     []string{"*"},
	}
}

// EmailNotification configures SMTP delivery for an application
type EmailNotification struct {
	Enabled     bool   `bson:"enabled" json:"enabled"`
	SMTPServer  string `bson:"smtp_server" json:"smtp_server"`
	Port        int    `bson:"port" json:"port"`
	Username    string `bson:"username" json:"username"`
	Password    string `bson:"password" json:"password"`
	FromAddress string `bson:"from_address" json:"from_address"`
}

// WebhookNotification configures webhook delivery for an application.
// Template may reference {{subject}} and {{message}}.
type WebhookNotification struct {
	Enabled  bool   `bson:"enabled" json:"enabled"`
	URL      string `bson:"url" json:"url"`
	Template string `bson:"template" json:"template"`
}

// NotificationConfig groups the per-app notification channels
type NotificationConfig struct {
	Email   EmailNotification   `bson:"email" json:"email"`
	Webhook WebhookNotification `bson:"webhook" json:"webhook"`
}

// AIConfig is the per-app AI passthrough configuration. The controller only
// stores it; consumption happens outside the core.
type AIConfig struct {
	Enabled bool   `bson:"enabled" json:"enabled"`
	BaseURL string `bson:"base_url" json:"base_url"`
	APIKey  string `bson:"api_key" json:"api_key"`
	Model   string `bson:"model" json:"model"`
}

// Application is a tenant namespace: functions, a dedicated database, two
// buckets, a DB user, one runtime container and a subdomain route.
type Application struct {
	AppID                string                `bson:"app_id" json:"app_id"`
	AppName              string                `bson:"app_name" json:"app_name"`
	Description          string                `bson:"description,omitempty" json:"description,omitempty"`
	DBPassword           string                `bson:"db_password" json:"-"`
	Users                []string              `bson:"users" json:"users"`
	CommonDependencies   []Dependency          `bson:"common_dependencies" json:"common_dependencies"`
	EnvironmentVariables []EnvironmentVariable `bson:"environment_variables" json:"environment_variables"`
	CORS                 CORSConfig            `bson:"cors" json:"cors"`
	Notification         NotificationConfig    `bson:"notification" json:"notification"`
	AI                   AIConfig              `bson:"ai" json:"ai"`
	Status               ApplicationStatus     `bson:"status" json:"status"`
	CreatedAt            time.Time             `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time             `bson:"updated_at" json:"updated_at"`
}

// AppIDLower returns the DNS/bucket-safe form of the app id
func (a *Application) AppIDLower() string {
	return strings.ToLower(a.AppID)
}

// BucketName returns the app's object bucket name
func (a *Application) BucketName() string {
	return strings.ToLower(a.AppID)
}

// WebBucketName returns the app's static-hosting bucket name
func (a *Application) WebBucketName() string {
	return "web-" + strings.ToLower(a.AppID)
}

// RuntimeContainerPrefix is the shared prefix of all runtime container names
const RuntimeContainerPrefix = "hyac-app-runtime-"

// RuntimeContainerName returns the runtime container name for an app id
func RuntimeContainerName(appID string) string {
	return RuntimeContainerPrefix + strings.ToLower(appID)
}

// RuntimePort is the HTTP port every runtime container listens on
const RuntimePort = 8001

// FunctionStatus gates dispatch: only published functions are served
type FunctionStatus string

const (
	FunctionUnpublished FunctionStatus = "unpublished"
	FunctionPublished   FunctionStatus = "published"
)

// FunctionType distinguishes HTTP endpoints from shared common modules
type FunctionType string

const (
	FunctionEndpoint FunctionType = "endpoint"
	FunctionCommon   FunctionType = "common"
)

// Function is a user-submitted unit of code owned by one application
type Function struct {
	FunctionID    string         `bson:"function_id" json:"function_id"`
	FunctionName  string         `bson:"function_name" json:"function_name"`
	AppID         string         `bson:"app_id" json:"app_id"`
	FunctionType  FunctionType   `bson:"function_type" json:"function_type"`
	Status        FunctionStatus `bson:"status" json:"status"`
	Code          string         `bson:"code" json:"code"`
	Tags          []string       `bson:"tags" json:"tags"`
	Users         []string       `bson:"users" json:"users"`
	Description   string         `bson:"description,omitempty" json:"description,omitempty"`
	HandlerParams []string       `bson:"handler_params,omitempty" json:"handler_params,omitempty"`
	Timeout       int            `bson:"timeout" json:"timeout"`           // seconds
	MemoryLimit   int            `bson:"memory_limit" json:"memory_limit"` // MB
	CreatedAt     time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `bson:"updated_at" json:"updated_at"`
}

// FunctionHistory is an append-only record of one code change
type FunctionHistory struct {
	FunctionID string    `bson:"function_id" json:"function_id"`
	AppID      string    `bson:"app_id" json:"app_id"`
	OldCode    string    `bson:"old_code" json:"old_code"`
	NewCode    string    `bson:"new_code" json:"new_code"`
	UpdatedBy  string    `bson:"updated_by" json:"updated_by"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

// TemplateKind separates system-seeded templates from user templates
type TemplateKind string

const (
	TemplateSystem TemplateKind = "system"
	TemplateUser   TemplateKind = "user"
)

// FunctionTemplate seeds the code of newly created functions
type FunctionTemplate struct {
	TemplateID   string       `bson:"template_id" json:"template_id"`
	AppID        string       `bson:"app_id,omitempty" json:"app_id,omitempty"`
	Name         string       `bson:"name" json:"name"`
	Kind         TemplateKind `bson:"type" json:"type"`
	FunctionType FunctionType `bson:"function_type" json:"function_type"`
	Code         string       `bson:"code" json:"code"`
	CreatedAt    time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `bson:"updated_at" json:"updated_at"`
}

// TaskStatus tracks the worker-owned lifecycle of a queued intent
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
)

// TaskAction is the control-plane operation a Task requests
type TaskAction string

const (
	ActionStartApp   TaskAction = "start_app"
	ActionStopApp    TaskAction = "stop_app"
	ActionRestartApp TaskAction = "restart_app"
	ActionDeleteApp  TaskAction = "delete_app"
)

// Task is the durable intent log entry consumed by the task worker.
// Status transitions are persisted before the side effects they describe
// become externally observable where possible.
type Task struct {
	TaskID    string                 `bson:"task_id" json:"task_id"`
	Action    TaskAction             `bson:"action" json:"action"`
	Status    TaskStatus             `bson:"status" json:"status"`
	Payload   map[string]interface{} `bson:"payload" json:"payload"`
	Result    map[string]interface{} `bson:"result,omitempty" json:"result,omitempty"`
	CreatedAt time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time              `bson:"updated_at" json:"updated_at"`
}

// AppID extracts the app_id from the task payload
func (t *Task) AppID() (string, error) {
	v, ok := t.Payload["app_id"]
	if !ok {
		return "", fmt.Errorf("task %s: app_id missing in payload", t.TaskID)
	}
	id, ok := v.(string)
	if !ok || id == "" {
		return "", fmt.Errorf("task %s: app_id is not a string", t.TaskID)
	}
	return id, nil
}

// TriggerType selects how a scheduled task fires
type TriggerType string

const (
	TriggerCron     TriggerType = "cron"
	TriggerInterval TriggerType = "interval"
)

// ScheduledTask describes a cron or interval job. System tasks reference an
// in-process runner by task id; user tasks dispatch to the app runtime.
type ScheduledTask struct {
	TaskID        string                 `bson:"task_id" json:"task_id"`
	AppID         string                 `bson:"app_id,omitempty" json:"app_id,omitempty"`
	FunctionID    string                 `bson:"function_id,omitempty" json:"function_id,omitempty"`
	Name          string                 `bson:"name" json:"name"`
	Trigger       TriggerType            `bson:"trigger" json:"trigger"`
	TriggerConfig map[string]interface{} `bson:"trigger_config" json:"trigger_config"`
	Params        map[string]interface{} `bson:"params,omitempty" json:"params,omitempty"`
	Body          map[string]interface{} `bson:"body,omitempty" json:"body,omitempty"`
	Enabled       bool                   `bson:"enabled" json:"enabled"`
	Description   string                 `bson:"description,omitempty" json:"description,omitempty"`
	IsSystemTask  bool                   `bson:"is_system_task" json:"is_system_task"`
	CreatedAt     time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time              `bson:"updated_at" json:"updated_at"`
}

// CallStatus is the outcome recorded per function invocation
type CallStatus string

const (
	CallSuccess CallStatus = "success"
	CallError   CallStatus = "error"
	CallUnknown CallStatus = "unknown"
)

// FunctionMetric is the immutable per-invocation record
type FunctionMetric struct {
	FunctionID    string                 `bson:"function_id" json:"function_id"`
	FunctionName  string                 `bson:"function_name" json:"function_name"`
	AppID         string                 `bson:"app_id" json:"app_id"`
	Status        CallStatus             `bson:"status" json:"status"`
	ExecutionTime float64                `bson:"execution_time" json:"execution_time"` // seconds
	Timestamp     time.Time              `bson:"timestamp" json:"timestamp"`
	Extra         map[string]interface{} `bson:"extra,omitempty" json:"extra,omitempty"`
}

// LogType separates platform logs from user function output
type LogType string

const (
	LogSystem   LogType = "system"
	LogFunction LogType = "function"
)

// LogEntry is persisted by both planes and streamed to websocket subscribers
// through the change feed.
type LogEntry struct {
	Level        string                 `bson:"level" json:"level"`
	LogType      LogType                `bson:"logtype" json:"logtype"`
	Message      string                 `bson:"message" json:"message"`
	AppID        string                 `bson:"app_id,omitempty" json:"app_id,omitempty"`
	FunctionID   string                 `bson:"function_id,omitempty" json:"function_id,omitempty"`
	FunctionName string                 `bson:"function_name,omitempty" json:"function_name,omitempty"`
	Extra        map[string]interface{} `bson:"extra,omitempty" json:"extra,omitempty"`
	Timestamp    time.Time              `bson:"timestamp" json:"timestamp"`
}

// RunningApp is the in-memory record of a live runtime container
type RunningApp struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}
