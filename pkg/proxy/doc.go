/*
Package proxy materializes routing for the reverse proxy and hosts the
lazy-start fallback.

Runtime routes travel as container labels, discovered by the proxy through
the engine. Static web hosting gets a per-app dynamic config file written
atomically to the shared directory the proxy watches, serving the app's web
bucket with SPA fallback. LazyStart is the catch-all handler for unknown
subdomains: it blocks on the start protocol and proxies the first request.
*/
package proxy
