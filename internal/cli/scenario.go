package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/recordsdb/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	GoldenDir string // compare snapshots against <dir>/<name>.golden
	Update    bool   // rewrite golden files instead of comparing
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Steps  int      `json:"steps"`
	Errors []string `json:"errors,omitempty"`
}

// ScenarioReport holds the overall result.
type ScenarioReport struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <scenario.yaml>...",
		Short: "Run diff-engine scenarios",
		Long: `Run YAML diff scenarios against the in-memory working copy.

Each scenario applies its steps in order, checks per-step expectations
and final assertions, and optionally compares the result snapshot with a
golden file.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error

Examples:
  recordsdb scenario scenarios/*.yaml
  recordsdb scenario --golden-dir testdata/golden scenarios/pop.yaml
  recordsdb scenario --golden-dir testdata/golden --update scenarios/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "directory of golden snapshots")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")

	return cmd
}

func runScenarios(cmd *cobra.Command, opts *ScenarioOptions, files []string) error {
	f := opts.formatter(cmd)
	if opts.Update && opts.GoldenDir == "" {
		return f.Fail(ExitCommandError, "invalid flags", fmt.Errorf("--update requires --golden-dir"))
	}

	report := ScenarioReport{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		res := runScenarioFile(opts, file)
		report.Scenarios = append(report.Scenarios, res)
		if res.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	text := func(w io.Writer) error {
		return writeScenarioText(w, report, opts.Verbose)
	}
	if report.Failed > 0 {
		return f.FailWith(ExitFailure, &CLIError{
			Code:    CodeScenarioFailed,
			Message: fmt.Sprintf("%d of %d scenarios failed", report.Failed, report.Total),
		}, report, text)
	}
	return f.Success(report, text)
}

func runScenarioFile(opts *ScenarioOptions, file string) ScenarioResult {
	logger := opts.logger()

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			File:   file,
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}
	res := ScenarioResult{Name: scenario.Name, File: file}

	result, err := harness.Run(scenario, harness.WithLogger(logger))
	if err != nil {
		res.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return res
	}
	res.Steps = len(result.Steps)
	res.Errors = append(res.Errors, result.Errors...)

	if opts.GoldenDir != "" {
		if err := checkGolden(opts, scenario.Name, result); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	}
	res.Pass = len(res.Errors) == 0
	logger.Debug("scenario run", "scenario", scenario.Name, "file", file, "pass", res.Pass)
	return res
}

// checkGolden compares the snapshot with <GoldenDir>/<name>.golden or,
// with Update, rewrites the file.
func checkGolden(opts *ScenarioOptions, name string, result *harness.Result) error {
	snapshot, err := harness.Snapshot(name, result)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	path := filepath.Join(opts.GoldenDir, name+".golden")
	if opts.Update {
		if err := os.MkdirAll(opts.GoldenDir, 0o755); err != nil {
			return fmt.Errorf("failed to create golden dir: %w", err)
		}
		if err := os.WriteFile(path, snapshot, 0o644); err != nil {
			return fmt.Errorf("failed to write golden file: %w", err)
		}
		return nil
	}
	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(bytes.TrimSpace(want), snapshot) {
		return fmt.Errorf("snapshot differs from %s", path)
	}
	return nil
}

func writeScenarioText(w io.Writer, report ScenarioReport, verbose bool) error {
	for _, s := range report.Scenarios {
		if s.Pass {
			fmt.Fprintf(w, "✓ %s", s.Name)
			if verbose {
				fmt.Fprintf(w, " (%d steps)", s.Steps)
			}
			fmt.Fprintln(w)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	fmt.Fprintln(w)
	_, err := fmt.Fprintf(w, "%d passed, %d failed, %d total\n", report.Passed, report.Failed, report.Total)
	return err
}
