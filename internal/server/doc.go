// Package server exposes the migration engine as a JSON API over HTTP.
//
// # Routes
//
// Migrations are submitted with POST /migration and run in the background; the response
// carries the job id to poll with GET /migration/:jobId. Follow-up actions on a finished
// job (retry-failed, resolve, skip, revert, resume and cancel) are POST routes under the
// job path.
//
// Sync registrations live under /sync-registrations, catalog browsing under
// /platforms/:platform/playlists and the per-platform quota ledger under /quota/:platform.
//
// # Errors
//
// Failures are reported as an [ErrorResponse]. The status code follows the shared error
// taxonomy: unknown jobs are 404, invalid input is 400, conflicting state is 409 and an
// exhausted quota is 429.
//
// # Lifecycle
//
// [Server.Run] recovers interrupted jobs, starts the sync scheduler when one is given and
// drains running jobs on shutdown.
package server
