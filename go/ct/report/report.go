// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package report aggregates the outcomes of test executions.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Fantom-foundation/Verdict/go/ct/spc"
	"github.com/Fantom-foundation/Verdict/go/ct/verify"
	"github.com/Fantom-foundation/Verdict/go/ledger"
	"github.com/google/uuid"
)

// Outcome is the result of executing one test instance for one fork.
type Outcome int

const (
	Pass   Outcome = iota // the post-state matched the expectation
	Fail                  // the post-state or the rejection diverged from the expectation
	Skip                  // no expectation applies to the fork
	Error                 // the execution could not be completed
	NotRun                // the run was aborted before the instance was executed
	numOutcomes
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	case Skip:
		return "SKIP"
	case Error:
		return "ERROR"
	case NotRun:
		return "NOT_RUN"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) {
	if o < 0 || o >= numOutcomes {
		return nil, fmt.Errorf("invalid outcome %d", int(o))
	}
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(data []byte) error {
	for cur := Pass; cur < numOutcomes; cur++ {
		if cur.String() == string(data) {
			*o = cur
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", data)
}

// Entry is the record of one (instance, fork) execution.
type Entry struct {
	Spec       string              `json:"spec"`
	Instance   string              `json:"instance"`
	Indexes    spc.IndexTuple      `json:"indexes"`
	Labels     [spc.NumAxes]string `json:"labels"`
	Fork       ledger.Revision     `json:"fork"`
	Outcome    Outcome             `json:"outcome"`
	Mismatches []verify.Mismatch   `json:"mismatches,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Duration   time.Duration       `json:"duration"`
}

// NewEntry creates an entry for the given instance and fork.
func NewEntry(instance *spc.TestInstance, fork ledger.Revision, outcome Outcome) Entry {
	return Entry{
		Spec:     instance.Spec,
		Instance: instance.ID(),
		Indexes:  instance.Indexes,
		Labels:   instance.Labels,
		Fork:     fork,
		Outcome:  outcome,
	}
}

// Describe identifies the entry by instance, fork and labels.
func (e *Entry) Describe() string {
	res := fmt.Sprintf("%s [%v]", e.Instance, e.Fork)
	for axis, label := range e.Labels {
		if label != "" {
			res += fmt.Sprintf(" %v=%q", spc.AxisKind(axis), label)
		}
	}
	return res
}

// Counts tallies outcomes.
type Counts [numOutcomes]int

func (c Counts) Get(o Outcome) int {
	return c[o]
}

func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

func (c Counts) MarshalJSON() ([]byte, error) {
	res := make(map[string]int, numOutcomes)
	for o := Pass; o < numOutcomes; o++ {
		res[o.String()] = c[o]
	}
	return json.Marshal(res)
}

// Summary aggregates the outcomes of a run overall and per fork.
type Summary struct {
	RunID   uuid.UUID                  `json:"runId"`
	Overall Counts                     `json:"overall"`
	PerFork map[ledger.Revision]Counts `json:"perFork"`
}

// Passed reports whether the run contained no failures, errors and
// unexecuted instances.
func (s *Summary) Passed() bool {
	return s.Overall.Get(Fail) == 0 && s.Overall.Get(Error) == 0 && s.Overall.Get(NotRun) == 0
}

// Collector gathers entries from concurrently executed tests.
type Collector struct {
	runID   uuid.UUID
	entries []Entry
	mu      sync.Mutex
}

func NewCollector() *Collector {
	return &Collector{runID: uuid.New()}
}

// RunID identifies the run the collected entries belong to.
func (c *Collector) RunID() uuid.UUID {
	return c.runID
}

func (c *Collector) Add(entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *Collector) NumEntries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a copy of all entries sorted by spec, instance and fork.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	res := append([]Entry(nil), c.entries...)
	c.mu.Unlock()
	sort.SliceStable(res, func(i, j int) bool {
		a, b := &res[i], &res[j]
		if a.Spec != b.Spec {
			return a.Spec < b.Spec
		}
		if a.Indexes != b.Indexes {
			for axis := range a.Indexes {
				if a.Indexes[axis] != b.Indexes[axis] {
					return a.Indexes[axis] < b.Indexes[axis]
				}
			}
		}
		return a.Fork < b.Fork
	})
	return res
}

func (c *Collector) Summary() Summary {
	res := Summary{RunID: c.runID, PerFork: map[ledger.Revision]Counts{}}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		res.Overall[entry.Outcome]++
		counts := res.PerFork[entry.Fork]
		counts[entry.Outcome]++
		res.PerFork[entry.Fork] = counts
	}
	return res
}

// ExitCode is zero if the run passed, one otherwise.
func (c *Collector) ExitCode() int {
	summary := c.Summary()
	if summary.Passed() {
		return 0
	}
	return 1
}
