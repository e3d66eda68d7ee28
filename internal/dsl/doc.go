// Package dsl provides the typed request model of the records engine:
// boolean filter trees, update-action lists and the Select/Insert/Update/
// Delete envelopes that carry them.
//
// Nothing in this package performs I/O. Requests are built, validated and
// finalized here; the querymongo and queryes packages compile them, and the
// engine package executes them.
//
// # Sealed Interfaces
//
// Query and Action are sealed with marker methods. Only types in this package
// implement them, so compilers and the diff engine can switch exhaustively:
//
//	switch q := query.(type) {
//	case *And:
//	case *Or:
//	case *Eq, *Exists, *Gte, *Lte, *Match, *In:
//	}
//
// # Wire Format
//
// Final renders a request as canonical JSON with the top-level keys $roots,
// $query, $filter, $projection, $action and $data. Parse* functions read the
// same format back, preserving the order of actions and sort keys.
//
// # Depth Limit
//
// Depth counts nodes on the longest root-to-leaf path: a lone leaf has depth 1.
// Trees deeper than the configured limit (DefaultDepthLimit unless set) fail
// with a QUERY_TOO_DEEP error before any backend is contacted.
package dsl
