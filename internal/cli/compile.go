package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/dsl"
	"github.com/roach88/recordsdb/internal/engine"
	"github.com/roach88/recordsdb/internal/queryes"
	"github.com/roach88/recordsdb/internal/querymongo"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Kind       string // select | insert | update | delete
	Target     string // mongo | search | both
	DepthLimit int
	Ontology   string
}

var (
	validKinds   = []string{string(dsl.KindSelect), string(dsl.KindInsert), string(dsl.KindUpdate), string(dsl.KindDelete)}
	validTargets = []string{"mongo", "search", "both"}
)

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <request.json>",
		Short: "Compile a request into native queries",
		Long: `Compile a request in wire format into the native query of the
primary store, the search index, or both.

The output holds the validated request in canonical form, the backend a
select routes to, and one entry per target. A target that cannot express
the request reports the error code in its entry.

Exit codes:
  0 - At least one target compiled
  1 - The request is invalid or no target can express it
  2 - Command error (unreadable file, bad flags)

Examples:
  recordsdb compile select.json
  recordsdb compile --kind update --target mongo update.json
  recordsdb compile --ontology fields.cue --target search search.json
  cat select.json | recordsdb compile -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", string(dsl.KindSelect), "request kind (select|insert|update|delete)")
	cmd.Flags().StringVar(&opts.Target, "target", "both", "compile target (mongo|search|both)")
	cmd.Flags().IntVar(&opts.DepthLimit, "depth-limit", dsl.DefaultDepthLimit, "maximum filter-tree depth")
	cmd.Flags().StringVar(&opts.Ontology, "ontology", "", "CUE field ontology for the search target")

	return cmd
}

func runCompile(cmd *cobra.Command, opts *CompileOptions, path string) error {
	f := opts.formatter(cmd)

	if !slices.Contains(validKinds, opts.Kind) {
		return f.Fail(ExitCommandError, "invalid kind", fmt.Errorf("%q is not one of %v", opts.Kind, validKinds))
	}
	if !slices.Contains(validTargets, opts.Target) {
		return f.Fail(ExitCommandError, "invalid target", fmt.Errorf("%q is not one of %v", opts.Target, validTargets))
	}
	if opts.DepthLimit <= 0 {
		return f.Fail(ExitCommandError, "invalid depth limit", fmt.Errorf("must be positive, got %d", opts.DepthLimit))
	}
	kind := dsl.Kind(opts.Kind)
	if opts.Target == "search" && kind != dsl.KindSelect {
		return f.Fail(ExitCommandError, "invalid target", errors.New("the search target compiles selects only"))
	}

	data, err := readInput(cmd, path)
	if err != nil {
		return f.Fail(ExitCommandError, "cannot read request", err)
	}
	onto, err := loadOntology(opts.Ontology)
	if err != nil {
		return f.Fail(ExitCommandError, "cannot load ontology", err)
	}

	req, err := dsl.Parse(kind, data)
	if err != nil {
		return f.Fail(ExitFailure, "invalid request", err)
	}
	wire, err := req.Final(opts.DepthLimit)
	if err != nil {
		return f.Fail(ExitFailure, "invalid request", err)
	}
	canonical, err := document.Parse(wire)
	if err != nil {
		return f.Fail(ExitFailure, "invalid request", err)
	}

	out := document.Object{
		"kind":    document.String(kind),
		"request": canonical,
	}
	var (
		attempted int
		failures  []error
	)
	record := func(target string, v document.Value, err error) {
		attempted++
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", target, err))
			out[target] = errorObject(err)
			return
		}
		out[target] = v
	}

	if opts.Target != "search" {
		v, err := compileMongo(querymongo.NewCompiler(opts.DepthLimit), req)
		record("mongo", v, err)
	}
	if sel, ok := req.(*dsl.Select); ok {
		route := engine.BackendPrimary
		if sel.NeedsSearch() {
			route = engine.BackendSearch
		}
		out["route"] = document.String(route)
		if opts.Target != "mongo" {
			plan, err := queryes.NewCompiler(opts.DepthLimit, onto).Select(sel)
			var body document.Value
			if err == nil {
				body = plan.Body()
			}
			record("search", body, err)
		}
	}

	opts.logger().Debug("compiled request",
		"kind", kind,
		"target", opts.Target,
		"failed", len(failures))

	if len(failures) == attempted {
		return f.Fail(ExitFailure, "compile failed", errors.Join(failures...))
	}
	return f.Success(out, func(w io.Writer) error {
		return writeIndented(w, out)
	})
}

func compileMongo(c *querymongo.Compiler, req dsl.Request) (document.Value, error) {
	switch r := req.(type) {
	case *dsl.Select:
		plan, err := c.Select(r)
		if err != nil {
			return nil, err
		}
		return plan.Document()
	case *dsl.Update:
		plan, err := c.Update(r)
		if err != nil {
			return nil, err
		}
		return plan.Document()
	case *dsl.Delete:
		filter, err := c.Delete(r)
		if err != nil {
			return nil, err
		}
		v, err := querymongo.FromBSON(filter)
		if err != nil {
			return nil, err
		}
		return document.Object{"filter": v}, nil
	case *dsl.Insert:
		docs, err := c.Insert(r)
		if err != nil {
			return nil, err
		}
		arr := make(document.Array, len(docs))
		for i, d := range docs {
			if arr[i], err = querymongo.FromBSON(d); err != nil {
				return nil, err
			}
		}
		return document.Object{"documents": arr}, nil
	}
	return nil, fmt.Errorf("unknown request %T", req)
}

// errorObject renders a per-target compile failure.
func errorObject(err error) document.Object {
	code := dberr.CodeOf(err)
	if code == "" {
		code = CodeCommandError
	}
	return document.Object{
		"error": document.Object{
			"code":    document.String(code),
			"message": document.String(err.Error()),
		},
	}
}
