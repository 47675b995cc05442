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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Fantom-foundation/Verdict/go/ct"
	cliUtils "github.com/Fantom-foundation/Verdict/go/ct/driver/cli"
	"github.com/Fantom-foundation/Verdict/go/ct/report"
	"github.com/Fantom-foundation/Verdict/go/ct/spc"
	"github.com/dsnet/golib/unitconv"
	"github.com/urfave/cli/v2"
)

var RunCmd = cliUtils.AddCommonFlags(cli.Command{
	Action:    doRun,
	Name:      "run",
	Usage:     "Run Conformance Tests on an execution backend",
	ArgsUsage: "<specification file or directory>...",
	Flags: append([]cli.Flag{
		cliUtils.ForksFlag,
		cliUtils.FilterFlag,
		cliUtils.JobsFlag,
		cliUtils.ShuffleFlag,
		cliUtils.SeedFlag,
		cliUtils.TimeoutFlag,
		cliUtils.InstanceTimeoutFlag,
		cliUtils.ReportFlag,
		cliUtils.VerboseFlag,
	}, backendFlags...),
})

func doRun(context *cli.Context) error {
	specs, err := loadSpecifications(context)
	if err != nil {
		return err
	}
	forks, err := cliUtils.ForksFlag.Fetch(context)
	if err != nil {
		return err
	}
	filter, err := cliUtils.FilterFlag.Fetch(context)
	if err != nil {
		return err
	}
	chain, err := cliUtils.FetchChain(context)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		spec.ApplyChain(chain)
	}

	backend, release, err := newBackend(context, chain)
	if err != nil {
		return err
	}
	defer release()

	collector := report.NewCollector()
	printProgress := func(relativeTime time.Duration, rate float64, current int64) {
		summary := collector.Summary()
		fmt.Printf(
			"[t=%4d:%02d] - Processing ~%s tests per second, total %d, failed %d, errors %d\n",
			int(relativeTime.Seconds())/60, int(relativeTime.Seconds())%60,
			unitconv.FormatPrefix(rate, unitconv.SI, 0), current,
			summary.Overall.Get(report.Fail), summary.Overall.Get(report.Error),
		)
	}

	config := ct.RunConfig{
		Forks:           forks,
		Jobs:            cliUtils.JobsFlag.Fetch(context),
		Filter:          filter,
		Shuffle:         cliUtils.ShuffleFlag.Fetch(context),
		Seed:            cliUtils.SeedFlag.Fetch(context),
		InstanceTimeout: cliUtils.InstanceTimeoutFlag.Fetch(context),
		PrintProgress:   printProgress,
	}

	ctx, cancel := withDeadline(context.Context, cliUtils.TimeoutFlag.Fetch(context))
	defer cancel()

	fmt.Printf("Starting Conformance Tests of %d specifications for %v on %s ...\n", len(specs), forks, chain.Name)
	runErr := ct.Run(ctx, specs, backend, config, collector)
	if runErr != nil && collector.NumEntries() == 0 {
		return runErr
	}

	collector.Print(os.Stdout, cliUtils.VerboseFlag.Fetch(context))
	if path := cliUtils.ReportFlag.Fetch(context); path != "" {
		if err := collector.Export(path); err != nil {
			return err
		}
		fmt.Printf("Report written to %s\n", path)
	}

	if runErr != nil {
		return runErr
	}
	if code := collector.ExitCode(); code != 0 {
		return cli.Exit(fmt.Sprintf("conformance tests of run %v failed", collector.RunID()), code)
	}
	return nil
}

func withDeadline(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

func loadSpecifications(context *cli.Context) ([]*spc.Specification, error) {
	if context.Args().Len() == 0 {
		return nil, fmt.Errorf("no specification file or directory given")
	}
	return spc.Load(context.Args().Slice()...)
}
