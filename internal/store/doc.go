// Package store provides SQLite-backed durable state for the change-feed
// tail.
//
// The store keeps:
//   - Checkpoints: the journal watermark reached on each shard
//   - Sync runs: one row per applied batch, for audit
//
// # Checkpoints
//
// A checkpoint only moves forward. Saving an older watermark than the one
// stored is a no-op, so a slow writer cannot rewind a shard.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Timestamps are stored as RFC 3339 UTC text from the store's clock, which
// tests replace for deterministic output.
package store
