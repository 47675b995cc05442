// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package cliUtils

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

type configFileFlagType struct {
	cli.StringFlag
}

var ConfigFileFlag = &configFileFlagType{
	cli.StringFlag{
		Name:      "config",
		Aliases:   []string{"c"},
		Usage:     "YAML file providing flag values, explicitly set flags take precedence",
		TakesFile: true,
	},
}

func (f *configFileFlagType) Fetch(context *cli.Context) string {
	return context.String(f.Name)
}

// LoadConfigFile reads the YAML file named by the config flag, if any, and
// sets every listed flag that was not given on the command line. Keys are
// flag names; lists are passed as comma separated values.
func LoadConfigFile(context *cli.Context) error {
	path := ConfigFileFlag.Fetch(context)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return applyConfig(context, data)
}

func applyConfig(context *cli.Context, data []byte) error {
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	known := map[string]bool{}
	for _, cur := range context.Lineage() {
		if cur.Command == nil {
			continue
		}
		for _, flag := range cur.Command.Flags {
			for _, name := range flag.Names() {
				known[name] = true
			}
		}
	}
	if context.App != nil {
		for _, flag := range context.App.Flags {
			for _, name := range flag.Names() {
				known[name] = true
			}
		}
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !known[name] {
			return fmt.Errorf("unknown option %q in config file", name)
		}
		if context.IsSet(name) {
			continue
		}
		var setting string
		switch value := values[name].(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(value))
			for _, cur := range value {
				parts = append(parts, fmt.Sprint(cur))
			}
			setting = strings.Join(parts, ",")
		default:
			setting = fmt.Sprint(value)
		}
		if err := context.Set(name, setting); err != nil {
			return fmt.Errorf("invalid value %q for option %q: %w", setting, name, err)
		}
	}
	return nil
}
