package log

import (
	"context"
	"time"

	"github.com/hyac-dev/hyac/pkg/types"
)

// Inserter persists log entries. Satisfied by the Mongo store; kept as a
// local interface so this package stays import-cycle free.
type Inserter interface {
	InsertLogEntry(ctx context.Context, entry *types.LogEntry) error
}

// Sink writes LogEntry documents to the database so the controller can
// stream them to websocket subscribers through the change feed. Writes are
// fire-and-forget; a failed insert is reported on the process logger only.
type Sink struct {
	inserter Inserter
	logType  types.LogType
	timeout  time.Duration
}

// NewSink creates a database-backed log sink
func NewSink(inserter Inserter, logType types.LogType) *Sink {
	return &Sink{
		inserter: inserter,
		logType:  logType,
		timeout:  5 * time.Second,
	}
}

// Emit persists one entry in the background
func (s *Sink) Emit(level, message, appID, functionID, functionName string, extra map[string]interface{}) {
	entry := &types.LogEntry{
		Level:        level,
		LogType:      s.logType,
		Message:      message,
		AppID:        appID,
		FunctionID:   functionID,
		FunctionName: functionName,
		Extra:        extra,
		Timestamp:    time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.inserter.InsertLogEntry(ctx, entry); err != nil {
			Logger.Warn().Err(err).Str("app_id", appID).Msg("failed to persist log entry")
		}
	}()
}

// Info emits an info-level entry
func (s *Sink) Info(message, appID, functionID, functionName string) {
	s.Emit("info", message, appID, functionID, functionName, nil)
}

// Error emits an error-level entry
func (s *Sink) Error(message, appID, functionID, functionName string) {
	s.Emit("error", message, appID, functionID, functionName, nil)
}
