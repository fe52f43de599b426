// Package api exposes the quota broker over HTTP.
//
// Three surfaces share one router:
//
//   - Admission: POST /v1/reservations reserves estimated quota before an
//     upstream call; /commit and /release settle the hold afterwards.
//     POST /v1/consumption appends consumption that bypassed reservation.
//   - Reporting: GET /v1/consumption lists raw events, GET /v1/trend
//     returns anchor-aligned usage buckets.
//   - Administration: pool CRUD and forced resets under /v1/admin/*,
//     gated by a pre-shared X-Admin-Key header.
//
// Errors are structured JSON ({code, message, details}); quota
// exhaustion maps to 429 and is distinct from auth (401) and backend
// outage (503) failures.
package api
