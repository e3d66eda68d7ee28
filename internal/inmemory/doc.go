// Package inmemory applies update actions to a document without touching a
// backend, so the before and after versions of a record can be diffed.
//
// A WorkingCopy holds an immutable baseline and a current version. Apply
// runs an action list against a clone of the current version and commits
// it only when every action succeeds; Reset returns to the baseline.
//
// Operator semantics follow the primary store's update operators:
//
//	$add / $push   null or absent field starts a new array; $add skips present values
//	$pull          absent or null field is left alone
//	$pop           negative count pops from the front, positive from the back
//	$inc/$min/$max current value and operand must both be numbers
//	$rename        source must exist; target intermediates are created
//	$unset         missing intermediates are ignored
package inmemory
