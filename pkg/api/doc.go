/*
Package api hosts the controller's management HTTP surface.

Every response carries the uniform envelope {code, msg, data} with code 0 on
success; domain failures travel in the envelope over HTTP 200. Routers cover
application lifecycle, functions and templates, per-app settings, the
database explorer, log queries plus the websocket stream, scheduled tasks
and runtime administration. Requests for unknown paths fall through to the
lazy-start proxy.
*/
package api
