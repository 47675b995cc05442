// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package spc

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/Fantom-foundation/Verdict/go/ct/rlz"
	"github.com/Fantom-foundation/Verdict/go/ledger"
)

const labelledSpec = `{
	"labelled_add": {
		"env": {
			"currentCoinbase": "0x2adc25665018aa1fe0e6bc666dac8fc2697ff9ba",
			"currentGasLimit": 71794957647893862,
			"currentNumber": 1,
			"currentTimestamp": 1000,
			"currentBaseFee": "0x0a",
			"currentDifficulty": "0x020000",
			"currentRandom": "0x0000000000000000000000000000000000000000000000000000000000020000",
			"currentExcessBlobGas": 0
		},
		"pre": {
			"0x0000000000000000000000000000000000001000": {
				"balance": "0x0ba1a9ce0ba1a9ce",
				"nonce": 0,
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
			"data": ["0x", ":label big 0x01", {"label": "small", "data": "0x02"}],
			"gasLimit": ["80000000", {"label": "low", "value": 21000}],
			"value": ["1"]
		},
		"expect": [
			{
				"indexes": {"data": ":label small", "gas": -1, "value": -1},
				"network": [">=Cancun"],
				"result": {
					"0x0000000000000000000000000000000000001000": {
						"storage": {"0x00": "0x01", "*": "*"}
					}
				}
			},
			{
				"indexes": {"data": [0, ":label big"]},
				"network": ">=Berlin<Cancun",
				"expectException": "TR_IntrinsicGas",
				"result": {}
			}
		]
	}
}`

func TestParse_LoadsLabelledSpecification(t *testing.T) {
	specs, err := Parse([]byte(labelledSpec), "unused")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if want, got := 1, len(specs); want != got {
		t.Fatalf("unexpected number of specs, wanted %d, got %d", want, got)
	}
	spec := specs[0]
	if want, got := "labelled_add", spec.Name; want != got {
		t.Errorf("unexpected name, wanted %v, got %v", want, got)
	}
	wantSender := ledger.Address{0xa9, 0x4f, 0x53, 0x74, 0xfc, 0xe5, 0xed, 0xbc, 0x8e, 0x2a, 0x86, 0x97, 0xc1, 0x53, 0x31, 0x67, 0x7e, 0x6e, 0xbf, 0x0b}
	if want, got := wantSender, spec.Transaction.Sender; want != got {
		t.Errorf("sender should be derived from secret key, wanted %v, got %v", want, got)
	}
	if want, got := ledger.NewValue(10), spec.Environment().BaseFee; want != got {
		t.Errorf("unexpected base fee, wanted %v, got %v", want, got)
	}
	if want, got := "big", spec.Transaction.Data[1].Label; want != got {
		t.Errorf("unexpected label, wanted %v, got %v", want, got)
	}
	if want, got := Quantity(21000), spec.Transaction.GasLimit[1].Value; want != got {
		t.Errorf("unexpected gas limit, wanted %v, got %v", want, got)
	}
	storage := spec.Expect[0].Result[ledger.Address{18: 0x10}].Storage
	if storage == nil || !storage.AnyOther {
		t.Fatalf("expected non-exhaustive storage expectation, got %+v", storage)
	}
	if want, got := Is(ledger.NewWord(1)), storage.Slots[ledger.NewKey(0)]; want != got {
		t.Errorf("unexpected slot expectation, wanted %v, got %v", want, got)
	}
}

func TestInstances_AttachSelectedExpectations(t *testing.T) {
	specs, err := Parse([]byte(labelledSpec), "unused")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	instances, err := specs[0].Instances()
	if err != nil {
		t.Fatalf("failed to expand: %v", err)
	}
	if want, got := 6, len(instances); want != got {
		t.Fatalf("unexpected number of instances, wanted %d, got %d", want, got)
	}

	for ordinal, instance := range instances {
		if want, got := ordinal, instance.Ordinal; want != got {
			t.Errorf("unexpected ordinal, wanted %d, got %d", want, got)
		}
		if want, got := 1, len(instance.Expectations); want != got {
			t.Fatalf("instance %v: unexpected number of expectations, wanted %d, got %d", instance.ID(), want, got)
		}
		wantRejection := instance.Indexes[AxisData] != 2
		if want, got := wantRejection, instance.Expectations[0].ExpectsRejection(); want != got {
			t.Errorf("instance %v: unexpected expectation selected", instance.ID())
		}
	}

	last := instances[5]
	if want, got := (IndexTuple{2, 1, 0}), last.Indexes; want != got {
		t.Errorf("unexpected indexes, wanted %v, got %v", want, got)
	}
	if want, got := [NumAxes]string{"small", "low", ""}, last.Labels; want != got {
		t.Errorf("unexpected labels, wanted %v, got %v", want, got)
	}
	if want, got := "data=2 (small), gas=1 (low), value=0", last.Describe(); want != got {
		t.Errorf("unexpected description, wanted %v, got %v", want, got)
	}
	if want, got := ledger.Gas(21000), last.Transaction.GasLimit; want != got {
		t.Errorf("unexpected gas limit, wanted %v, got %v", want, got)
	}
	if want, got := "0x02", last.Transaction.Input.String(); want != got {
		t.Errorf("unexpected input, wanted %v, got %v", want, got)
	}
	if last.Transaction.Nonce != nil {
		t.Errorf("nonce should be left to the backend")
	}
}

// groupedSpec stores the first word of the input in slot 0. Two labelled
// variants store 3, the remaining three store zero and share a single
// expectation.
const groupedSpec = `{
	"grouped_results": {
		"pre": {
			"0x0000000000000000000000000000000000001000": {
				"balance": "0",
				"nonce": 1,
				"code": "0x60003560005500"
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
			"data": [
				":label three 0x0000000000000000000000000000000000000000000000000000000000000003",
				"0x",
				{"label": "three_again", "data": "0x0000000000000000000000000000000000000000000000000000000000000003"},
				"0x00",
				":label empty 0x0000"
			],
			"gasLimit": ["100000"],
			"value": ["0"]
		},
		"expect": [
			{
				"indexes": {"data": [":label three", ":label three_again"], "gas": -1, "value": -1},
				"network": [">=Berlin"],
				"result": {
					"0x0000000000000000000000000000000000001000": {"storage": {"0x00": "0x03"}}
				}
			},
			{
				"indexes": {"data": [1, 3, ":label empty"], "gas": -1, "value": -1},
				"network": [">=Berlin"],
				"result": {
					"0x0000000000000000000000000000000000001000": {"storage": {"0x00": "0x00"}}
				}
			}
		]
	}
}`

func TestInstances_GroupedExpectationIsSharedByItsVariants(t *testing.T) {
	specs, err := Parse([]byte(groupedSpec), "unused")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	spec := specs[0]
	instances, err := spec.Instances()
	if err != nil {
		t.Fatalf("failed to expand: %v", err)
	}
	if want, got := 5, len(instances); want != got {
		t.Fatalf("unexpected number of instances, wanted %d, got %d", want, got)
	}

	want := []*Expectation{&spec.Expect[0], &spec.Expect[1], &spec.Expect[0], &spec.Expect[1], &spec.Expect[1]}
	inputs := map[string]bool{}
	for i, instance := range instances {
		if want, got := i, instance.Indexes[AxisData]; want != got {
			t.Errorf("unexpected data index, wanted %d, got %d", want, got)
		}
		if len(instance.Expectations) != 1 || instance.Expectations[0] != want[i] {
			t.Errorf("instance %v: unexpected expectations %v", instance.ID(), instance.Expectations)
		}
		inputs[instance.Transaction.Input.String()] = true
	}
	// Variants 0 and 2 share the input, the others differ.
	if want, got := 4, len(inputs); want != got {
		t.Errorf("unexpected number of distinct inputs, wanted %d, got %d", want, got)
	}
	if want, got := [NumAxes]string{"empty", "", ""}, instances[4].Labels; want != got {
		t.Errorf("unexpected labels, wanted %v, got %v", want, got)
	}
}

func TestApplyChain_AddsDefaultsWithoutOverridingTheSpecification(t *testing.T) {
	specs, err := Parse([]byte(groupedSpec), "unused")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	spec := specs[0]
	gnosis := ledger.Gnosis()
	spec.ApplyChain(gnosis)

	if want, got := ledger.GnosisGasLimit, spec.Environment().GasLimit; want != got {
		t.Errorf("unexpected gas limit, wanted %d, got %d", want, got)
	}
	// Both accounts of the test are also pre-allocated on the chain.
	if want, got := len(gnosis.Alloc), len(spec.Pre); want != got {
		t.Errorf("unexpected number of accounts, wanted %d, got %d", want, got)
	}
	if want, got := "0x60003560005500", spec.Pre[ledger.Address{18: 0x10}].Code.String(); want != got {
		t.Errorf("pre-allocated account replaced the pre-state, wanted code %v, got %v", want, got)
	}
	if want, got := uint64(2), spec.Pre[ledger.Address{}].Nonce; want != got {
		t.Errorf("pre-allocated account missing, wanted nonce %d, got %d", want, got)
	}

	env := ledger.DefaultEnvironment()
	env.GasLimit = 1234
	other := &Specification{Env: &env}
	other.ApplyChain(gnosis)
	if want, got := ledger.Gas(1234), other.Environment().GasLimit; want != got {
		t.Errorf("explicit environment was replaced, wanted gas limit %d, got %d", want, got)
	}
}

func TestInstances_ExpectationSelectionPerFork(t *testing.T) {
	specs, err := Parse([]byte(labelledSpec), "unused")
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	instances, err := specs[0].Instances()
	if err != nil {
		t.Fatalf("failed to expand: %v", err)
	}
	small := instances[4]
	if _, found, err := rlz.Select(small.Expectations, ledger.R12_Cancun); err != nil || !found {
		t.Errorf("expectation should apply to Cancun, found=%t, err=%v", found, err)
	}
	if _, found, _ := rlz.Select(small.Expectations, ledger.R09_London); found {
		t.Errorf("no expectation should apply to London")
	}
}

func TestInstances_UnknownLabelNamesSpecification(t *testing.T) {
	spec := &Specification{
		Name: "broken",
		Transaction: TransactionTemplate{
			Sender:   ledger.Address{1},
			Data:     []DataVariant{{Label: "a"}},
			GasLimit: []Variant[Quantity]{{Value: 21000}},
			Value:    []Variant[ledger.Value]{{}},
		},
		Expect: []Expectation{{
			Indexes: Selection{Data: IndexSelector{Label("missing")}},
			Network: rlz.AnyOf(rlz.AtOrAfter(ledger.R08_Berlin)),
		}},
	}
	_, err := spec.Instances()
	var specErr *SpecificationError
	if !errors.As(err, &specErr) {
		t.Fatalf("expected specification error, got %v", err)
	}
	if !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("expected unknown label error, got %v", err)
	}
	if want, got := "broken", specErr.Spec; want != got {
		t.Errorf("unexpected spec name, wanted %v, got %v", want, got)
	}
	if want, got := "missing", specErr.Label; want != got {
		t.Errorf("unexpected label, wanted %v, got %v", want, got)
	}
}

func TestParse_RejectsMalformedDocuments(t *testing.T) {
	tests := map[string]string{
		"not json":          `{`,
		"negative index":    `{"t":{"transaction":{"sender":"0x0000000000000000000000000000000000000001","data":["0x"],"gasLimit":[1],"value":["0"]},"expect":[{"indexes":{"data":-3},"network":"Cancun","result":{}}]}}`,
		"no expectations":   `{"t":{"transaction":{"sender":"0x0000000000000000000000000000000000000001","data":["0x"],"gasLimit":[1],"value":["0"]},"expect":[]}}`,
		"no sender":         `{"t":{"transaction":{"data":["0x"],"gasLimit":[1],"value":["0"]},"expect":[{"network":"Cancun","result":{}}]}}`,
		"unknown fork":      `{"t":{"transaction":{"sender":"0x0000000000000000000000000000000000000001","data":["0x"],"gasLimit":[1],"value":["0"]},"expect":[{"network":"Atlantis","result":{}}]}}`,
		"bad labelled data": `{"t":{"transaction":{"sender":"0x0000000000000000000000000000000000000001","data":[":label x"],"gasLimit":[1],"value":["0"]},"expect":[{"network":"Cancun","result":{}}]}}`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(input), "test")
			var specErr *SpecificationError
			if !errors.As(err, &specErr) {
				t.Errorf("expected specification error, got %v", err)
			}
		})
	}
}

func TestLoad_EnumeratesDirectoriesRecursively(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	if err := os.Mkdir(nested, 0700); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nested, "add.json"), []byte(labelledSpec), 0600); err != nil {
		t.Fatalf("failed to write spec: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	specs, err := Load(dir)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if want, got := 1, len(specs); want != got {
		t.Fatalf("unexpected number of specs, wanted %d, got %d", want, got)
	}
	if want, got := "labelled_add", specs[0].Name; want != got {
		t.Errorf("unexpected name, wanted %v, got %v", want, got)
	}
}

func TestLoad_ExplicitFilesAreLoadedRegardlessOfExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "add.spec")
	if err := os.WriteFile(path, []byte(labelledSpec), 0600); err != nil {
		t.Fatalf("failed to write spec: %v", err)
	}
	specs, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if want, got := 1, len(specs); want != got {
		t.Fatalf("unexpected number of specs, wanted %d, got %d", want, got)
	}
}

func TestLoad_MissingInputIsAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("unexpected error, wanted %v, got %v", fs.ErrNotExist, err)
	}
}
