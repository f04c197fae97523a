package cli

import (
	"fmt"
	"io"

	"github.com/dbrheo/dbrheo/tools"
)

// ListTools prints every default tool's name and description, and its JSON
// schema when verbose is set, grounded on the teacher's cli.ListTools.
func ListTools(out io.Writer, verbose bool) error {
	registry, err := tools.WithDefaults()
	if err != nil {
		return err
	}
	for _, decl := range registry.SnapshotForLLM() {
		fmt.Fprintf(out, "%s — %s\n", decl.Name, decl.Description)
		if verbose {
			fmt.Fprintf(out, "  %s\n", string(decl.Parameters))
		}
	}
	return nil
}
