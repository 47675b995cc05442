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
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Fantom-foundation/Verdict/go/ct/rlz"
	"github.com/Fantom-foundation/Verdict/go/ledger"
)

// DontCare is the JSON token marking a value that is not verified.
const DontCare = "*"

// ExpectMode defines how an expected field is compared.
type ExpectMode int

const (
	ExpectUnset    ExpectMode = iota // the field is not asserted
	ExpectDontCare                   // the field is explicitly ignored
	ExpectLiteral                    // the field must equal the given value
)

// Expect is a single expected field value.
type Expect[T any] struct {
	Mode  ExpectMode
	Value T
}

// Is creates an expectation on a literal value.
func Is[T any](value T) Expect[T] {
	return Expect[T]{Mode: ExpectLiteral, Value: value}
}

// Any creates an expectation accepting every value.
func Any[T any]() Expect[T] {
	return Expect[T]{Mode: ExpectDontCare}
}

// IsChecked reports whether the field has to be compared.
func (e Expect[T]) IsChecked() bool {
	return e.Mode == ExpectLiteral
}

func (e Expect[T]) MarshalJSON() ([]byte, error) {
	if e.Mode != ExpectLiteral {
		return json.Marshal(DontCare)
	}
	return json.Marshal(e.Value)
}

func (e *Expect[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte(`"*"`)) {
		*e = Any[T]()
		return nil
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*e = Is(value)
	return nil
}

// ExpectedStorage lists expected slot values. Unless AnyOther is set, the
// listed slots are exhaustive and every other slot is expected to be zero.
type ExpectedStorage struct {
	Slots    map[ledger.Key]Expect[ledger.Word]
	AnyOther bool
}

func (s ExpectedStorage) MarshalJSON() ([]byte, error) {
	res := make(map[string]Expect[ledger.Word], len(s.Slots)+1)
	for k, v := range s.Slots {
		res[k.String()] = v
	}
	if s.AnyOther {
		res[DontCare] = Any[ledger.Word]()
	}
	return json.Marshal(res)
}

// UnmarshalJSON decodes a map of slot keys to values; the key "*" marks
// the storage as non-exhaustive.
func (s *ExpectedStorage) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	res := ExpectedStorage{Slots: make(map[ledger.Key]Expect[ledger.Word], len(raw))}
	for k, v := range raw {
		if k == DontCare {
			res.AnyOther = true
			continue
		}
		var key ledger.Key
		if err := key.UnmarshalText([]byte(k)); err != nil {
			return fmt.Errorf("invalid storage key %q: %w", k, err)
		}
		var value Expect[ledger.Word]
		if err := json.Unmarshal(v, &value); err != nil {
			return fmt.Errorf("invalid value for storage key %q: %w", k, err)
		}
		res.Slots[key] = value
	}
	*s = res
	return nil
}

// ExpectedAccount lists the assertions on a single account. Unset fields
// are not verified.
type ExpectedAccount struct {
	ShouldNotExist bool                 `json:"shouldnotexist,omitempty"`
	Balance        Expect[ledger.Value] `json:"balance"`
	Nonce          Expect[Quantity]     `json:"nonce"`
	Code           Expect[ledger.Code]  `json:"code"`
	Storage        *ExpectedStorage     `json:"storage,omitempty"`
}

// ExpectedState maps addresses to the assertions on their accounts.
type ExpectedState map[ledger.Address]ExpectedAccount

// Clone creates a copy of the state that can be modified independently.
func (s ExpectedState) Clone() ExpectedState {
	res := make(ExpectedState, len(s))
	for addr, account := range s {
		if account.Storage != nil {
			storage := ExpectedStorage{
				Slots:    make(map[ledger.Key]Expect[ledger.Word], len(account.Storage.Slots)),
				AnyOther: account.Storage.AnyOther,
			}
			for k, v := range account.Storage.Slots {
				storage.Slots[k] = v
			}
			account.Storage = &storage
		}
		res[addr] = account
	}
	return res
}

// Rekey returns a copy of the state in which the assertions on address from
// are moved to address to.
func (s ExpectedState) Rekey(from, to ledger.Address) ExpectedState {
	res := s.Clone()
	if from == to {
		return res
	}
	if account, found := res[from]; found {
		delete(res, from)
		res[to] = account
	}
	return res
}

// Expectation is the expected outcome of the instances selected by Indexes
// when executed on one of the listed forks.
type Expectation struct {
	Indexes         Selection     `json:"indexes"`
	Network         rlz.ForkSet   `json:"network"`
	Result          ExpectedState `json:"result"`
	ExpectException string        `json:"expectException,omitempty"`
}

func (e *Expectation) GetForks() rlz.ForkSet {
	return e.Network
}

// ExpectsRejection reports whether the transaction is expected to be
// invalid under the fork rules.
func (e *Expectation) ExpectsRejection() bool {
	return e.ExpectException != ""
}
