/*
Package reconciler repairs drift between recorded application status and
observed container state. Each sweep is dispatched by the scheduler's system
task. Transitional statuses are left alone; everything else converges to
what the engine reports.
*/
package reconciler
