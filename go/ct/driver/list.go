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
	"io"
	"os"
	"strings"

	"github.com/Fantom-foundation/Verdict/go/ct"
	cliUtils "github.com/Fantom-foundation/Verdict/go/ct/driver/cli"
	"github.com/urfave/cli/v2"
)

var ListCmd = cli.Command{
	Action:    doList,
	Name:      "list",
	Usage:     "List all test instances with the forks they are executed for",
	ArgsUsage: "<specification file or directory>...",
	Flags: []cli.Flag{
		cliUtils.FilterFlag,
		cliUtils.ForksFlag,
	},
}

func doList(context *cli.Context) error {
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
		return err
	}
	printUnits(os.Stdout, units)
	return nil
}

// printUnits lists every instance once, followed by the forks it has an
// expectation for. Units of an instance are planned consecutively.
func printUnits(out io.Writer, units []ct.Unit) {
	for i := 0; i < len(units); {
		instance := units[i].Instance
		var forks []string
		for ; i < len(units) && units[i].Instance == instance; i++ {
			if !units[i].IsSkipped() {
				forks = append(forks, units[i].Fork.String())
			}
		}
		if len(forks) == 0 {
			fmt.Fprintf(out, "%s: -\n", instance.ID())
		} else {
			fmt.Fprintf(out, "%s: %s\n", instance.ID(), strings.Join(forks, ","))
		}
	}
}
