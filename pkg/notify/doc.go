// Package notify delivers per-app notifications over SMTP and webhooks,
// driven by the channels enabled in the application's configuration.
package notify
