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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"
)

// incrementSpec stores the incremented value of slot 0 of the called
// contract, which is 1 for every fork.
const incrementSpec = `{
	"increment": {
		"pre": {
			"0x0000000000000000000000000000000000001000": {
				"balance": "0",
				"nonce": 1,
				"code": "0x600160005401600055"
			},
			"0xa94f5374fce5edbc8e2a8697c15331677e6ebf0b": {
				"balance": "1000000000000000000",
				"nonce": 0
			}
		},
		"transaction": {
			"secretKey": "0x45a915e4d060149eb4365960e6a7a45f334393093061116b197e3240065ff2d8",
			"to": "0x0000000000000000000000000000000000001000",
			"gasPrice": "10",
			"data": ["0x"],
			"gasLimit": ["100000"],
			"value": ["0"]
		},
		"expect": [
			{
				"indexes": {"data": -1, "gas": -1, "value": -1},
				"network": [">=Berlin"],
				"result": {
					"0x0000000000000000000000000000000000001000": {
						"storage": {"0x00": "%s"}
					}
				}
			}
		]
	}
}`

// gasLimitSpec stores the block gas limit in slot 0 of the called contract.
const gasLimitSpec = `{
	"gas_limit": {
		"pre": {
			"0x0000000000000000000000000000000000002000": {
				"balance": "0",
				"nonce": 1,
				"code": "0x45600055"
			},
			"0xa94f5374fce5edbc8e2a8697c15331677e6ebf0b": {
				"balance": "1000000000000000000",
				"nonce": 0
			}
		},
		"transaction": {
			"secretKey": "0x45a915e4d060149eb4365960e6a7a45f334393093061116b197e3240065ff2d8",
			"to": "0x0000000000000000000000000000000000002000",
			"gasPrice": "10",
			"data": ["0x"],
			"gasLimit": ["100000"],
			"value": ["0"]
		},
		"expect": [
			{
				"indexes": {"data": -1, "gas": -1, "value": -1},
				"network": ["Gnosis"],
				"result": {
					"0x0000000000000000000000000000000000002000": {
						"storage": {"0x00": "%s"}
					}
				}
			}
		]
	}
}`

func writeSpec(t *testing.T, slotValue string) string {
	t.Helper()
	return writeSpecFrom(t, incrementSpec, slotValue)
}

func writeSpecFrom(t *testing.T, spec string, slotValue string) string {
	t.Helper()
	dir := t.TempDir()
	content := strings.Replace(spec, "%s", slotValue, 1)
	if err := os.WriteFile(filepath.Join(dir, "spec.json"), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write specification: %v", err)
	}
	return dir
}

func runDriver(args ...string) error {
	return newApp().Run(append([]string{"driver"}, args...))
}

func TestRun_PassingSpecificationProducesReport(t *testing.T) {
	dir := writeSpec(t, "0x01")
	reportPath := filepath.Join(t.TempDir(), "out", "report.json")

	err := runDriver("run", "--backend", "geth", "--forks", ">=Berlin<Prague", "--jobs", "2",
		"--log.level", "error", "--report", reportPath, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report was not written: %v", err)
	}
	var document struct {
		Summary struct {
			Overall map[string]int `json:"overall"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(data, &document); err != nil {
		t.Fatalf("failed to parse report: %v", err)
	}
	if want, got := 5, document.Summary.Overall["PASS"]; want != got {
		t.Errorf("unexpected number of passed tests, wanted %d, got %d", want, got)
	}
}

func TestRun_FailingSpecificationSetsExitCode(t *testing.T) {
	exitCode := 0
	defer func(exiter func(int)) { cli.OsExiter = exiter }(cli.OsExiter)
	cli.OsExiter = func(code int) { exitCode = code }

	dir := writeSpec(t, "0x02")
	err := runDriver("run", "--forks", "Cancun", "--log.level", "error", dir)
	if err == nil {
		t.Fatalf("expected failing run to report an error")
	}
	if want, got := 1, exitCode; want != got {
		t.Errorf("unexpected exit code, wanted %d, got %d", want, got)
	}
}

func TestRun_InvalidArgumentsAreReported(t *testing.T) {
	dir := writeSpec(t, "0x01")
	tests := map[string]struct {
		args []string
		want string
	}{
		"no specification": {[]string{"run"}, "no specification"},
		"unknown backend":  {[]string{"run", "--backend", "evmone", dir}, "unknown backend"},
		"unknown fork":     {[]string{"run", "--forks", "Atlantis", dir}, "Atlantis"},
		"missing t8n tool": {[]string{"run", "--backend", "t8n", "--t8n.binary", "/does/not/exist", dir}, "unavailable"},
		"bad filter":       {[]string{"run", "--filter", "(", dir}, "missing closing"},
		"bad log level":    {[]string{"run", "--log.level", "loud", dir}, "log level"},
		"gas limit alone":  {[]string{"run", "--gnosis-gas-limit", "1000", dir}, "requires --gnosis"},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := runDriver(test.args...)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("expected error containing %q, got %v", test.want, err)
			}
		})
	}
}

func TestRun_ConfigFileProvidesFlagValues(t *testing.T) {
	dir := writeSpec(t, "0x01")
	reportPath := filepath.Join(t.TempDir(), "report.json")
	config := filepath.Join(t.TempDir(), "config.yaml")
	content := "forks: [London, Cancun]\nreport: " + reportPath + "\nlog.level: error\n"
	if err := os.WriteFile(config, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if err := runDriver("run", "--config", config, dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report was not written: %v", err)
	}
	if !strings.Contains(string(data), `"London"`) || !strings.Contains(string(data), `"Cancun"`) {
		t.Errorf("report does not cover the configured forks: %s", data)
	}
}

func TestRun_GnosisPresetSetsBlockGasLimit(t *testing.T) {
	tests := map[string]struct {
		args []string
		slot string
	}{
		"default limit": {[]string{"--gnosis"}, "0x01036640"},                                  // 17,000,000
		"custom limit":  {[]string{"--gnosis", "--gnosis-gas-limit", "20000000"}, "0x01312d00"}, // 20,000,000
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			dir := writeSpecFrom(t, gasLimitSpec, test.slot)
			reportPath := filepath.Join(t.TempDir(), "report.json")
			args := append([]string{"run", "--forks", "Gnosis", "--log.level", "error", "--report", reportPath}, test.args...)
			if err := runDriver(append(args, dir)...); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			data, err := os.ReadFile(reportPath)
			if err != nil {
				t.Fatalf("report was not written: %v", err)
			}
			var document struct {
				Summary struct {
					Overall map[string]int `json:"overall"`
				} `json:"summary"`
			}
			if err := json.Unmarshal(data, &document); err != nil {
				t.Fatalf("failed to parse report: %v", err)
			}
			if want, got := 1, document.Summary.Overall["PASS"]; want != got {
				t.Errorf("unexpected number of passed tests, wanted %d, got %d: %s", want, got, data)
			}
		})
	}
}
