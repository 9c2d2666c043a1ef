package metadata

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/caetera/spectronaut-webui/internal/registry"
)

var conditionColumns = []string{
	"#", "Reference", "Run Label", "Condition",
	"Fraction", "Replicate", "Label", "File Name",
}

// WriteConditionTable writes the tab-delimited condition table, one row per
// entry in the order given. Entries are expected to have passed through
// Assign first; the Label column mirrors Condition.
func WriteConditionTable(w io.Writer, entries []registry.FileEntry) error {
	if _, err := fmt.Fprintln(w, strings.Join(conditionColumns, "\t")); err != nil {
		return fmt.Errorf("write condition table header: %w", err)
	}

	for i, e := range entries {
		row := []string{
			strconv.Itoa(i + 1),
			formatReference(e.Reference),
			e.Name,
			e.Condition,
			e.Fraction,
			e.Replicate,
			e.Condition,
			e.Stem(),
		}

		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return fmt.Errorf("write condition table row %d: %w", i+1, err)
		}
	}

	return nil
}

// formatReference renders the Reference column with the capitalized booleans
// Spectronaut expects.
func formatReference(b bool) string {
	if b {
		return "True"
	}

	return "False"
}
