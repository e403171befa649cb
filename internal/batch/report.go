package batch

import (
	"strings"

	"pmaxtools/internal/demand"
)

// Reports builds the per-row diagnostic entries for every solved row,
// in grid order.
func (c Completion) Reports() []demand.ReportEntry {
	var entries []demand.ReportEntry
	for _, r := range c.Results {
		if r.Result == nil {
			continue
		}
		entry, err := demand.Describe(demand.ReportInput{
			Index:       r.Index,
			Params:      r.Params,
			Analytic:    r.Result.Analytic,
			Approximate: r.Result.Approximate,
		})
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// ReportText renders all entries as blank-line separated blocks
func (c Completion) ReportText() string {
	entries := c.Reports()
	blocks := make([]string, len(entries))
	for i, e := range entries {
		blocks[i] = e.String()
	}
	return strings.Join(blocks, "\n\n")
}
