// Package runtime is the per-application data plane. Each process serves a
// single app: function source compiles once into an immutable program, every
// request gets a fresh JavaScript VM, and all platform capabilities reach
// handler code through a per-request context object. Change-feed watchers
// keep the compiled-code cache and the process environment converged with
// the database.
package runtime
