/*
Package metrics exposes Prometheus collectors for both Hyac planes.

The controller records application counts, task outcomes, reconciliation
cycles, cold starts and container start latency; the runtime records
function invocations, execution duration and code cache effectiveness.
Both processes serve the standard /metrics endpoint via Handler.
*/
package metrics
