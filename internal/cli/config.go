package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/recordsdb/internal/config"
)

// ConfigOptions holds flags for the config command.
type ConfigOptions struct {
	*RootOptions
	Path string
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Load the configuration file and RECORDSDB_ environment overrides,
apply defaults, validate, and print the result with secrets masked.

Examples:
  recordsdb config --config recordsdb.yaml
  RECORDSDB_MONGO_URI=mongodb://localhost recordsdb config`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Path, "config", "", "configuration file (YAML)")

	return cmd
}

func runConfig(cmd *cobra.Command, opts *ConfigOptions) error {
	f := opts.formatter(cmd)

	cfg, err := config.Load(opts.Path)
	if err != nil {
		return f.Fail(ExitCommandError, "invalid configuration", err)
	}
	data, err := cfg.YAML()
	if err != nil {
		return f.Fail(ExitCommandError, "invalid configuration", err)
	}

	// Decode the rendered YAML so JSON output uses the same keys.
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return f.Fail(ExitCommandError, "invalid configuration", err)
	}
	return f.Success(tree, func(w io.Writer) error {
		_, err := fmt.Fprint(w, string(data))
		return err
	})
}
