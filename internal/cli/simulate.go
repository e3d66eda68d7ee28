package cli

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/dsl"
	"github.com/roach88/recordsdb/internal/inmemory"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Ontology string
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <document.json> <request.json>",
		Short: "Apply an update to a document in memory",
		Long: `Apply the actions of an update request to a document in memory and
print the diff: both versions, the updated fields, the per-field changes
and the content hash of each version.

The request is an update request in wire format or a bare action list.
Its query is not evaluated; the actions apply to the given document.

Examples:
  recordsdb simulate unit.json update.json
  recordsdb simulate --ontology fields.cue unit.json actions.json
  recordsdb simulate --format json unit.json update.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Ontology, "ontology", "", "CUE field ontology (array fields wrap SET values)")

	return cmd
}

func runSimulate(cmd *cobra.Command, opts *SimulateOptions, docPath, reqPath string) error {
	f := opts.formatter(cmd)

	docData, err := readInput(cmd, docPath)
	if err != nil {
		return f.Fail(ExitCommandError, "cannot read document", err)
	}
	baseline, err := document.ParseObject(docData)
	if err != nil {
		return f.Fail(ExitCommandError, "invalid document", err)
	}
	reqData, err := readInput(cmd, reqPath)
	if err != nil {
		return f.Fail(ExitCommandError, "cannot read request", err)
	}
	onto, err := loadOntology(opts.Ontology)
	if err != nil {
		return f.Fail(ExitCommandError, "cannot load ontology", err)
	}

	actions, err := parseSimulatedActions(reqData)
	if err != nil {
		return f.Fail(ExitFailure, "invalid request", err)
	}

	diff, err := inmemory.Simulate(baseline, actions, inmemory.WithOntology(onto))
	if err != nil {
		return f.Fail(ExitFailure, "update rejected", err)
	}
	opts.logger().Debug("simulated update",
		"actions", len(actions),
		"updated", len(diff.UpdatedFields))

	out := diff.Object()
	return f.Success(out, func(w io.Writer) error {
		return writeDiffText(w, diff)
	})
}

// parseSimulatedActions accepts an update request or a bare action list.
func parseSimulatedActions(data []byte) ([]dsl.Action, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return dsl.ParseActions(trimmed)
	}
	u, err := dsl.ParseUpdate(trimmed)
	if err != nil {
		return nil, err
	}
	return u.Actions, nil
}

func writeDiffText(w io.Writer, diff *inmemory.Diff) error {
	if len(diff.UpdatedFields) == 0 {
		fmt.Fprintln(w, "No fields updated.")
	} else {
		fmt.Fprintf(w, "Updated fields: %d\n", len(diff.UpdatedFields))
	}
	for _, c := range diff.Changes {
		fmt.Fprintf(w, "  %s: %s -> %s\n", c.Path, renderSide(c.Before), renderSide(c.After))
	}
	fmt.Fprintf(w, "Before: %s\n", diff.BeforeHash)
	fmt.Fprintf(w, "After:  %s\n", diff.AfterHash)
	fmt.Fprintln(w)
	return writeIndented(w, diff.After)
}

func renderSide(v document.Value) string {
	if v == nil {
		return "(absent)"
	}
	data, err := document.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}
