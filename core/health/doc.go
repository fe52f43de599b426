// Package health provides HTTP handlers for service health monitoring.
//
// Liveness reports the process is up without touching dependencies;
// Readiness runs the supplied dependency checks and returns 503 on the
// first failure. Checks follow the func(context.Context) error signature
// produced by the database Healthcheck constructors.
package health
