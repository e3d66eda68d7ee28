// Package changefeed reconstructs recently written documents from the
// primary store's operation journal (the MongoDB oplog).
//
// A Reader polls one journal for entries newer than a watermark. Entries
// that do not mutate data, or whose namespace is outside the allow-list,
// are dropped; of the remaining entries only the latest per document id is
// kept. The returned watermark is the newest timestamp scanned, kept or
// not, and the caller advances it between polls.
//
// Delivery is at-least-once. A caller that restarts from an older
// watermark sees entries again, so consumers must be idempotent.
//
// PollShards runs one Reader per shard concurrently and merges their
// batches. Sync pushes a merged batch into the search index.
package changefeed
