// Package tasks runs playlist migrations and sync runs between catalogs with real-time progress
// reporting.
//
// # Migration jobs
//
// [MigrationEngine.Submit] persists a pending job; [MigrationEngine.Run] (or Start, in the
// background) drives it:
//
//  1. Fetch the source playlist (sync jobs carry their own work list)
//  2. Resolve each track: a pinned override, or a target search scored by the matcher
//  3. Reserve one write unit with the quota governor
//  4. Create the target playlist on the first write, then append the track
//  5. Record the outcome, mark the track processed and persist the job
//
// Ambiguous, unmatched and rejected tracks are recorded as soft failures and never stop a job.
// Running out of quota pauses the job as quota blocked until the next day; only expired
// credentials and exhausted retries fail it. The processed set only grows, so every run,
// including one after a crash, picks up where the last one stopped.
//
// [MigrationEngine.RetryFailed] re-runs the loop for failed tracks and merges the result into
// the same job. [MigrationEngine.Revert] removes what a job added and discards it.
//
// # Sync runs
//
// [MigrationEngine.SubmitSync] turns a registration's diff into a sync job whose additions and
// removals go through the same loop. [Scheduler] starts due sync runs and resumes quota-blocked
// jobs.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
package tasks
