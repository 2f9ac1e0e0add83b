// Package repositories implements SQLite persistence for jobs, sync registrations and match overrides.
//
// Each repository handles CRUD operations with atomic sequence generation for human-readable ordering.
// Jobs are soft deleted via deleted_at timestamps and excluded from queries by default; registrations
// and overrides are removed outright.
//
// Key Implementations:
//   - [JobRepository] : Migration and sync job state, including processed ids and failed tracks
//   - [SyncRepository] : Keep-in-sync pairs with their known fingerprint sets
//   - [OverrideRepository] : User-pinned target tracks keyed by source fingerprint and platform
//
// Sequence numbers provide stable, human-readable ordering (e.g., job #42) independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
