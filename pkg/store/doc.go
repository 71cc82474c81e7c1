/*
Package store persists platform state in MongoDB and exposes the change
streams the rest of the system is built on.

Store is the interface the controller and runtime program against. The
MongoDB implementation doubles as the durable task queue: the worker watches
the tasks collection for documents entering pending state, and the runtime
watches functions and applications to invalidate caches. Watches reopen with
bounded backoff when a stream breaks; events missed while a stream is down
are recovered by periodic sweeps, not replayed.

AppDB manages the per-application databases that user code reads and writes,
each guarded by a dedicated database user.

Memory is a map-backed implementation used by tests.
*/
package store
