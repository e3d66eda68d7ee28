// Package engine executes DSL requests against the primary store and the
// search index.
//
// ROUTING:
//
// Writes always go to the primary store. A select goes to the search index
// when it contains a $match predicate or sorts by _score; every other
// select goes to the primary store. With no search index configured such a
// select fails with UNSUPPORTED_QUERY instead of degrading to an inexact
// primary-store match.
//
// CONSISTENCY:
//
// The primary store is the system of record. The search index is fed from
// the change feed and may lag behind recent writes; callers sorting or
// searching freshly written data must tolerate that window.
//
// CURSORS:
//
// Select returns an open Cursor. Cursors map onto the remote cursor
// protocol: HasMore is the partial-result status, Next is a continuation
// request carrying Token, and Close is the explicit release. Close is
// idempotent and must be called on every exit path.
//
// ERRORS:
//
// Compile and validation errors are raised before any backend call.
// Backend adapters translate native errors into dberr codes; the engine
// maps deadline and cancellation to DATABASE_UNAVAILABLE and wraps the
// result in a RequestError carrying the request id.
package engine
