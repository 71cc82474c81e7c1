/*
Package log provides structured logging for Hyac using zerolog.

It wraps the zerolog library to provide JSON-structured logging with
component- and app-scoped child loggers, configurable log levels and console
output for development.

Beyond process logging, the package carries the database log sink: both the
controller and the runtime persist LogEntry documents (logtype system or
function) which the controller streams to websocket subscribers through the
change feed. The sink is fire-and-forget and never blocks a request path.

Usage:

	log.Init(log.Config{Level: "info"})

	workerLog := log.WithComponent("worker")
	workerLog.Info().Str("task_id", id).Msg("task started")

	sink := log.NewSink(store, types.LogSystem)
	sink.Info("container started", appID, "", "")
*/
package log
