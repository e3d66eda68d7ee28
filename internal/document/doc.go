// Package document provides the JSON-like value model shared by the DSL,
// the compilers, the diff engine and the change feed.
//
// Documents are trees of the sealed Value interface. Only Null, String, Int,
// Float, Bool, Array and Object implement it, so every consumer can switch
// exhaustively over the possible node kinds.
//
// This package imports nothing internal. All other internal packages import
// document; document never imports them.
//
// Key rules:
//   - Numbers decode as Int when they are integral and fit in int64, Float otherwise
//   - Object key order is never significant; use SortedKeys for iteration
//   - MarshalCanonical is the only rendering used for hashing, logging and replay
//   - Paths are dot-separated; numeric segments index arrays
package document
