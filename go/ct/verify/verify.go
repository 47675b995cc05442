// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package verify compares the post-state produced by a backend with the
// expected state of a test.
package verify

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/Fantom-foundation/Verdict/go/ct/spc"
	"github.com/Fantom-foundation/Verdict/go/ledger"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// MismatchKind classifies a divergence between expected and actual state.
type MismatchKind int

const (
	MissingAccount    MismatchKind = iota // an expected account does not exist
	UnexpectedAccount                     // an account marked as shouldnotexist exists
	FieldMismatch                         // a field has a different value
)

func (k MismatchKind) String() string {
	switch k {
	case MissingAccount:
		return "missing account"
	case UnexpectedAccount:
		return "unexpected account"
	case FieldMismatch:
		return "field mismatch"
	}
	return fmt.Sprintf("MismatchKind(%d)", int(k))
}

// Mismatch describes a single divergence.
type Mismatch struct {
	Kind     MismatchKind   `json:"kind"`
	Address  ledger.Address `json:"address"`
	Field    string         `json:"field,omitempty"`
	Expected string         `json:"expected,omitempty"`
	Actual   string         `json:"actual,omitempty"`
}

func (m Mismatch) String() string {
	switch m.Kind {
	case MissingAccount:
		return fmt.Sprintf("%v: account does not exist", m.Address)
	case UnexpectedAccount:
		return fmt.Sprintf("%v: account should not exist", m.Address)
	}
	return fmt.Sprintf("%v/%s: expected %s, got %s", m.Address, m.Field, m.Expected, m.Actual)
}

func (k MismatchKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Report lists all divergences found by Verify.
type Report struct {
	Mismatches []Mismatch
}

// Passed reports whether no divergence was found.
func (r *Report) Passed() bool {
	return len(r.Mismatches) == 0
}

func (r *Report) String() string {
	if r.Passed() {
		return "post-state matches"
	}
	lines := make([]string, 0, len(r.Mismatches))
	for _, m := range r.Mismatches {
		lines = append(lines, m.String())
	}
	return strings.Join(lines, "\n")
}

// decision is the outcome of examining a single expected field.
type decision int

const (
	ignore         decision = iota // not asserted or explicitly don't-care
	equalAsDefault                 // absent value, equal to the expected default
	compareLiteral                 // compare the expected literal with the actual value
)

// decide picks the comparison to be performed for an expected field. A
// value absent from the actual state matches an expected zero value.
func decide[T any](expect spc.Expect[T], present bool, isZero func(T) bool) decision {
	if !expect.IsChecked() {
		return ignore
	}
	if !present && isZero(expect.Value) {
		return equalAsDefault
	}
	return compareLiteral
}

// Verify compares the actual post-state with the expected state. Every
// divergence is reported; accounts are visited in ascending address order
// and all divergences of one account are listed before the next account.
func Verify(expected spc.ExpectedState, actual ledger.WorldState) Report {
	var res Report
	addresses := maps.Keys(expected)
	slices.SortFunc(addresses, func(a, b ledger.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	for _, address := range addresses {
		res.Mismatches = append(res.Mismatches, verifyAccount(address, expected[address], actual)...)
	}
	return res
}

func verifyAccount(address ledger.Address, expected spc.ExpectedAccount, state ledger.WorldState) []Mismatch {
	actual, exists := state[address]
	if exists && actual.IsEmpty() && expected.ShouldNotExist {
		exists = false
	}
	if expected.ShouldNotExist {
		if exists {
			return []Mismatch{{Kind: UnexpectedAccount, Address: address}}
		}
		return nil
	}
	if !exists {
		return []Mismatch{{Kind: MissingAccount, Address: address}}
	}

	var res []Mismatch
	field := func(name string, expected, actual any) {
		res = append(res, Mismatch{
			Kind:     FieldMismatch,
			Address:  address,
			Field:    name,
			Expected: fmt.Sprint(expected),
			Actual:   fmt.Sprint(actual),
		})
	}

	if decide(expected.Balance, true, isZeroValue) == compareLiteral &&
		!expected.Balance.Value.ToUint256().Eq(actual.Balance.ToUint256()) {
		field("balance", expected.Balance.Value, actual.Balance)
	}
	if decide(expected.Nonce, true, isZeroQuantity) == compareLiteral &&
		uint64(expected.Nonce.Value) != actual.Nonce {
		field("nonce", uint64(expected.Nonce.Value), actual.Nonce)
	}
	if decide(expected.Code, true, isEmptyCode) == compareLiteral &&
		!bytes.Equal(expected.Code.Value, actual.Code) {
		field("code", expected.Code.Value, actual.Code)
	}
	if expected.Storage != nil {
		res = append(res, verifyStorage(address, expected.Storage, actual.Storage)...)
	}
	return res
}

func verifyStorage(address ledger.Address, expected *spc.ExpectedStorage, actual ledger.Storage) []Mismatch {
	var res []Mismatch
	mismatch := func(key ledger.Key, want, got ledger.Word) {
		res = append(res, Mismatch{
			Kind:     FieldMismatch,
			Address:  address,
			Field:    fmt.Sprintf("storage[%v]", key),
			Expected: want.String(),
			Actual:   got.String(),
		})
	}

	keys := maps.Keys(expected.Slots)
	if !expected.AnyOther {
		for _, key := range actual.Keys() {
			if _, listed := expected.Slots[key]; !listed {
				keys = append(keys, key)
			}
		}
	}
	slices.SortFunc(keys, func(a, b ledger.Key) int {
		return bytes.Compare(a[:], b[:])
	})

	for _, key := range keys {
		want, listed := expected.Slots[key]
		if !listed {
			// Exhaustive storage: unlisted slots must be zero.
			want = spc.Is(ledger.Word{})
		}
		got, present := actual[key]
		switch decide(want, present, isZeroWord) {
		case ignore, equalAsDefault:
			continue
		case compareLiteral:
			if !want.Value.ToUint256().Eq(got.ToUint256()) {
				mismatch(key, want.Value, got)
			}
		}
	}
	return res
}

func isZeroValue(v ledger.Value) bool   { return v == ledger.Value{} }
func isZeroQuantity(q spc.Quantity) bool { return q == 0 }
func isEmptyCode(c ledger.Code) bool     { return len(c) == 0 }
func isZeroWord(w ledger.Word) bool      { return w == ledger.Word{} }
