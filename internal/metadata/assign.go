// Package metadata fills in experimental-design metadata for a batch of
// input files and serializes the condition table consumed by Spectronaut.
package metadata

import (
	"strconv"
	"strings"

	"github.com/caetera/spectronaut-webui/internal/registry"
)

const emptyValue = "NA"

// Assign returns a copy of entries with missing metadata filled in:
//
//  1. An empty condition becomes "NA".
//  2. An empty fraction becomes "NA".
//  3. Replicates are auto-numbered only if every entry's replicate is empty.
//     Entries are grouped by (condition, fraction) in first-seen order and
//     numbered 1..k within each group; groups do not share a counter.
//
// The transform is deterministic and idempotent: once any replicate is set,
// rule 3 never fires again, so re-applying Assign to its own output is a
// no-op.
func Assign(entries []registry.FileEntry) []registry.FileEntry {
	out := make([]registry.FileEntry, len(entries))
	copy(out, entries)

	allEmpty := true

	for i := range out {
		if out[i].Condition == "" {
			out[i].Condition = emptyValue
		}
		if out[i].Fraction == "" {
			out[i].Fraction = emptyValue
		}
		if !replicateEmpty(out[i].Replicate) {
			allEmpty = false
		}
	}

	if !allEmpty {
		return out
	}

	type group struct {
		condition string
		fraction  string
	}

	counters := make(map[group]int)

	for i := range out {
		g := group{out[i].Condition, out[i].Fraction}
		counters[g]++
		out[i].Replicate = strconv.Itoa(counters[g])
	}

	return out
}

// replicateEmpty mirrors the loose emptiness check applied to user-edited
// table cells, where "none" and "nan" also count as unset.
func replicateEmpty(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "nan":
		return true
	default:
		return false
	}
}
