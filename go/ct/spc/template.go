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
	"strings"

	"github.com/Fantom-foundation/Verdict/go/ledger"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// Quantity is an unsigned 64-bit integer encoded in JSON either as a number
// or as a hex or decimal string.
type Quantity uint64

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint64(q))
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		v, ok := math.ParseUint64(strings.TrimSpace(text))
		if !ok {
			return fmt.Errorf("invalid quantity %q", text)
		}
		*q = Quantity(v)
		return nil
	}
	var v uint64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid quantity %s: %w", data, err)
	}
	*q = Quantity(v)
	return nil
}

// Variant is one labelled choice on a parameter axis. In JSON a variant is
// either a plain value, a string of the form ":label <name> <value>", or an
// object with "label" and "value" fields.
type Variant[T any] struct {
	Label string
	Value T
}

func (v Variant[T]) MarshalJSON() ([]byte, error) {
	if v.Label == "" {
		return json.Marshal(v.Value)
	}
	return json.Marshal(struct {
		Label string `json:"label"`
		Value T      `json:"value"`
	}{v.Label, v.Value})
}

func (v *Variant[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Label string          `json:"label"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		v.Label = obj.Label
		return json.Unmarshal(obj.Value, &v.Value)
	}
	label, rest, err := splitLabel(data)
	if err != nil {
		return err
	}
	v.Label = label
	return json.Unmarshal(rest, &v.Value)
}

// DataVariant is a payload choice, optionally carrying an access list.
type DataVariant struct {
	Label      string
	Payload    ledger.Data
	AccessList []ledger.AccessTuple
}

func (v DataVariant) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Label      string               `json:"label,omitempty"`
		Payload    ledger.Data          `json:"data"`
		AccessList []ledger.AccessTuple `json:"accessList,omitempty"`
	}{v.Label, v.Payload, v.AccessList})
}

func (v *DataVariant) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Label      string               `json:"label"`
			Payload    ledger.Data          `json:"data"`
			AccessList []ledger.AccessTuple `json:"accessList"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*v = DataVariant{Label: obj.Label, Payload: obj.Payload, AccessList: obj.AccessList}
		return nil
	}
	label, rest, err := splitLabel(data)
	if err != nil {
		return err
	}
	v.Label = label
	v.AccessList = nil
	return json.Unmarshal(rest, &v.Payload)
}

// splitLabel separates a ":label <name> <value>" string into the label and
// the JSON encoding of the remaining value. Other inputs are returned as is.
func splitLabel(data []byte) (string, []byte, error) {
	if len(data) == 0 || data[0] != '"' {
		return "", data, nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return "", nil, err
	}
	if !strings.HasPrefix(text, ":label ") {
		return "", data, nil
	}
	fields := strings.Fields(strings.TrimPrefix(text, ":label "))
	if len(fields) != 2 {
		return "", nil, fmt.Errorf("%w: invalid labelled value %q", ErrMalformedSpec, text)
	}
	rest, err := json.Marshal(fields[1])
	return fields[0], rest, err
}

// TransactionTemplate is the parameterized transaction of a specification.
// Each combination of one data, one gas and one value variant yields a
// concrete transaction.
type TransactionTemplate struct {
	Sender    ledger.Address          `json:"sender"`
	SecretKey *ledger.Hash            `json:"secretKey,omitempty"`
	To        *ledger.Address         `json:"to,omitempty"`
	Nonce     *Quantity               `json:"nonce,omitempty"`
	GasPrice  ledger.Value            `json:"gasPrice"`
	Data      []DataVariant           `json:"data"`
	GasLimit  []Variant[Quantity]     `json:"gasLimit"`
	Value     []Variant[ledger.Value] `json:"value"`
}

// Axes returns the label view of the three parameter axes.
func (t *TransactionTemplate) Axes() [NumAxes]Axis {
	var res [NumAxes]Axis
	res[AxisData] = Axis{Kind: AxisData, Labels: make([]string, len(t.Data))}
	for i, cur := range t.Data {
		res[AxisData].Labels[i] = cur.Label
	}
	res[AxisGas] = Axis{Kind: AxisGas, Labels: make([]string, len(t.GasLimit))}
	for i, cur := range t.GasLimit {
		res[AxisGas].Labels[i] = cur.Label
	}
	res[AxisValue] = Axis{Kind: AxisValue, Labels: make([]string, len(t.Value))}
	for i, cur := range t.Value {
		res[AxisValue].Labels[i] = cur.Label
	}
	return res
}

// Labels returns the labels of the variants referenced by the tuple.
func (t *TransactionTemplate) Labels(tuple IndexTuple) [NumAxes]string {
	return [NumAxes]string{
		t.Data[tuple[AxisData]].Label,
		t.GasLimit[tuple[AxisGas]].Label,
		t.Value[tuple[AxisValue]].Label,
	}
}

// Resolve produces the concrete transaction for the given tuple. The tuple
// must have been produced by Expand for this template.
func (t *TransactionTemplate) Resolve(tuple IndexTuple) ledger.Transaction {
	data := t.Data[tuple[AxisData]]
	var nonce *uint64
	if t.Nonce != nil {
		n := uint64(*t.Nonce)
		nonce = &n
	}
	var to *ledger.Address
	if t.To != nil {
		addr := *t.To
		to = &addr
	}
	return ledger.Transaction{
		Sender:     t.Sender,
		Recipient:  to,
		Nonce:      nonce,
		Input:      append(ledger.Data(nil), data.Payload...),
		Value:      t.Value[tuple[AxisValue]].Value,
		GasLimit:   ledger.Gas(t.GasLimit[tuple[AxisGas]].Value),
		GasPrice:   t.GasPrice,
		AccessList: data.AccessList,
	}
}

// resolveSender fills in the sender address from the secret key if only
// the latter is given, and checks that both agree otherwise.
func (t *TransactionTemplate) resolveSender() error {
	if t.SecretKey == nil {
		if t.Sender == (ledger.Address{}) {
			return fmt.Errorf("%w: transaction has neither sender nor secret key", ErrMalformedSpec)
		}
		return nil
	}
	key, err := crypto.ToECDSA(t.SecretKey[:])
	if err != nil {
		return fmt.Errorf("%w: invalid secret key: %v", ErrMalformedSpec, err)
	}
	derived := ledger.Address(crypto.PubkeyToAddress(key.PublicKey))
	if t.Sender == (ledger.Address{}) {
		t.Sender = derived
		return nil
	}
	if t.Sender != derived {
		return fmt.Errorf("%w: sender %v does not match secret key of %v", ErrMalformedSpec, t.Sender, derived)
	}
	return nil
}
