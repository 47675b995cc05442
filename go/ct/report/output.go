// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Fantom-foundation/Verdict/go/ledger"
	"github.com/fatih/color"
)

type document struct {
	Summary Summary `json:"summary"`
	Entries []Entry `json:"entries"`
}

// WriteJSON writes the summary and all entries as a JSON document.
func (c *Collector) WriteJSON(out io.Writer) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(document{
		Summary: c.Summary(),
		Entries: c.Entries(),
	})
}

// Export writes the JSON report into the given file, creating missing
// parent directories.
func (c *Collector) Export(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.WriteJSON(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

var outcomeColors = map[Outcome]*color.Color{
	Pass:   color.New(color.FgGreen),
	Fail:   color.New(color.FgRed, color.Bold),
	Skip:   color.New(color.FgCyan),
	Error:  color.New(color.FgYellow, color.Bold),
	NotRun: color.New(color.FgMagenta),
}

// Print writes a human readable report. Every entry that did not pass is
// listed with its resolved indexes, labels and mismatches; passing and
// skipped entries are only listed when verbose is set.
func (c *Collector) Print(out io.Writer, verbose bool) {
	for _, entry := range c.Entries() {
		if !verbose && (entry.Outcome == Pass || entry.Outcome == Skip) {
			continue
		}
		fmt.Fprintln(out, "----------------------------")
		outcomeColors[entry.Outcome].Fprintf(out, "%s", entry.Outcome)
		fmt.Fprintf(out, " %s\n", entry.Describe())
		if entry.Reason != "" {
			fmt.Fprintf(out, "  %s\n", entry.Reason)
		}
		for _, mismatch := range entry.Mismatches {
			fmt.Fprintf(out, "  %v\n", mismatch)
		}
	}

	summary := c.Summary()
	fmt.Fprintln(out, "----------------------------")
	for _, fork := range ledger.GetAllKnownRevisions() {
		counts, found := summary.PerFork[fork]
		if !found {
			continue
		}
		fmt.Fprintf(out, "%-14v", fork)
		printCounts(out, counts)
	}
	fmt.Fprintf(out, "%-14s", "Total")
	printCounts(out, summary.Overall)
	fmt.Fprintf(out, "Run %v: ", summary.RunID)
	if summary.Passed() {
		outcomeColors[Pass].Fprintln(out, "PASSED")
	} else {
		outcomeColors[Fail].Fprintln(out, "FAILED")
	}
}

func printCounts(out io.Writer, counts Counts) {
	for o := Pass; o < numOutcomes; o++ {
		text := fmt.Sprintf(" %s: %-6d", o, counts.Get(o))
		if counts.Get(o) > 0 && o != Pass && o != Skip {
			outcomeColors[o].Fprint(out, text)
		} else {
			fmt.Fprint(out, text)
		}
	}
	fmt.Fprintln(out)
}
