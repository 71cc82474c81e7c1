/*
Package orchestrator drives per-application runtime containers through their
lifecycle.

The start protocol clears stale containers, ensures the app's database user
and buckets, resolves the compose network by inspecting the controller's own
container, creates and starts the runtime with routing labels and a health
check, then waits for engine-reported health and DNS propagation before
publishing the static-web route. Failures after creation roll the container
back. Stop and delete are idempotent; delete cascades across every owned
resource and removes the application document last.
*/
package orchestrator
