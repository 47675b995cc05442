// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"fmt"
	"strings"

	"github.com/Fantom-foundation/Verdict/go/ct"
	cliUtils "github.com/Fantom-foundation/Verdict/go/ct/driver/cli"
	"github.com/Fantom-foundation/Verdict/go/ledger"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var StatsCmd = cliUtils.AddCommonFlags(cli.Command{
	Action:    doStats,
	Name:      "stats",
	Usage:     "Computes statistics on the number of tests per fork",
	ArgsUsage: "<specification file or directory>...",
	Flags: []cli.Flag{
		cliUtils.FilterFlag,
		cliUtils.ForksFlag,
	},
})

func doStats(context *cli.Context) error {
	filter, err := cliUtils.FilterFlag.Fetch(context)
	if err != nil {
		return err
	}
	forks, err := cliUtils.ForksFlag.Fetch(context)
	if err != nil {
		return err
	}
	specs, err := loadSpecifications(context)
	if err != nil {
		return err
	}

	units, err := ct.Plan(specs, forks, filter)
	if err != nil {
		return fmt.Errorf("error evaluating specifications: %w", err)
	}
	stats := newForkStatistics(forks)
	for _, unit := range units {
		stats.register(&unit)
	}

	// Summarize the result.
	fmt.Printf("%v", stats)
	return nil
}

type forkStatistics struct {
	data map[ledger.Revision]forkInfo
}

func newForkStatistics(forks []ledger.Revision) *forkStatistics {
	stats := &forkStatistics{make(map[ledger.Revision]forkInfo)}
	for _, fork := range forks {
		stats.data[fork] = forkInfo{} // initialize all forks with 0
	}
	return stats
}

func (s *forkStatistics) register(unit *ct.Unit) {
	if s.data == nil {
		s.data = make(map[ledger.Revision]forkInfo)
	}
	stats := s.data[unit.Fork]
	if unit.IsSkipped() {
		stats.numSkipped++
	} else {
		stats.numTests++
	}
	s.data[unit.Fork] = stats
}

func (s *forkStatistics) getNumTestsFor(fork ledger.Revision) uint64 {
	return s.data[fork].numTests
}

func (s *forkStatistics) String() string {
	builder := strings.Builder{}

	forks := maps.Keys(s.data)
	slices.Sort(forks)

	builder.WriteString("fork,num_tests,num_skipped\n")
	for _, fork := range forks {
		info := s.data[fork]
		builder.WriteString(fmt.Sprintf("%v,%d,%d\n", fork, info.numTests, info.numSkipped))
	}
	return builder.String()
}

type forkInfo struct {
	numTests   uint64
	numSkipped uint64
}
