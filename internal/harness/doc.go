// Package harness runs conformance scenarios against the in-memory diff
// engine.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	ontology: records.cue        # optional, relative to the scenario file
//	baseline: { numberTen: 10 }
//	steps:
//	  - actions:
//	      - $inc: { numberTen: 2 }
//	    expect:
//	      document: { numberTen: 12 }
//	      updated_fields: [numberTen]
//	  - reset: true
//	    actions:
//	      - $rename: { missing: other }
//	    expect:
//	      error: FIELD_NOT_FOUND
//	assertions:
//	  - type: baseline_unchanged
//	  - type: field_equals
//	    path: numberTen
//	    value: 12
//
// Actions use the request wire format; operator and field order is kept
// as written.
//
// # Assertion Types
//
//   - baseline_unchanged: the baseline equals its value before any step
//   - field_equals: the final document holds value at path
//   - field_absent: the final document has nothing at path
//   - updated_fields: the final updated-field set equals fields
//   - step_count: exactly count steps failed with code (or succeeded when
//     code is empty)
//
// # Golden Files
//
// RunWithGolden renders the step trace and final diff as canonical JSON
// and compares it with testdata/golden/<name>.golden.
package harness
