/*
Package worker executes the durable task queue.

Tasks are documents in the tasks collection; the worker learns about new
pending tasks through the change feed and serializes execution per app.
Delivery is at-least-once, so every action is idempotent. On boot the worker
replays interrupted start_app tasks, fails other interrupted actions, and
re-enqueues starts for apps recorded running whose containers vanished while
the controller was down.
*/
package worker
