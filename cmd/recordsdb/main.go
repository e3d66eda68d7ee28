// Command recordsdb compiles record queries, simulates updates, runs diff
// scenarios and tails the primary store journal into the search index.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/recordsdb/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
