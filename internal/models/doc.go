// Package models defines the domain entities of the playlist migration engine.
//
// Values fetched from catalogs are immutable snapshots:
//   - [Track] : recording metadata on one platform
//   - [PlaylistRef] : playlist metadata, refreshed per run
//   - [MatchResult] : outcome of resolving a source track against a target catalog
//
// Persistent entities implement [Model] and are stored through the repositories package:
//   - [MigrationJob] : one migration or sync run, with its processed set and failures
//   - [SyncRegistration] : a playlist pair kept in sync
//   - [MatchOverride] : a user's manual resolution of a source track
package models
