/*
Package types defines the core data model shared by the Hyac controller and
runtime: applications, functions and their history, durable tasks, scheduled
tasks, function metrics and log entries, together with the status enums and
naming conventions (runtime container names, bucket names) that tie the
document database, the blob store and the container engine together.

All cross-process state lives in these documents; the structs carry bson tags
for persistence and json tags for the management API envelope.
*/
package types
