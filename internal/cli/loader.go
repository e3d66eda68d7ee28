package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/recordsdb/internal/document"
	"github.com/roach88/recordsdb/internal/ontology"
)

// readInput reads path, or standard input when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// loadOntology loads the ontology at path. An empty path means none.
func loadOntology(path string) (*ontology.Ontology, error) {
	if path == "" {
		return nil, nil
	}
	onto, err := ontology.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load ontology: %w", err)
	}
	return onto, nil
}

// writeIndented prints v as indented canonical JSON.
func writeIndented(w io.Writer, v document.Value) error {
	data, err := document.MarshalCanonical(v)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}
