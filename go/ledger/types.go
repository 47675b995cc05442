// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package ledger contains the value model shared by all parts of the
// conformance test engine: addresses, 256-bit words, accounts, world states,
// transactions, block environments and the ordered set of forks.
package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Address is the 20-byte identifier of an account.
type Address [20]byte

// Key is the 32-byte index of a storage slot.
type Key [32]byte

// Word is the 32-byte content of a storage slot.
type Word [32]byte

// Value is a 256-bit unsigned integer used for balances and transfers.
type Value [32]byte

// Hash is a 32-byte hash.
type Hash [32]byte

// Code is the byte code of a contract.
type Code []byte

// Data is an arbitrary byte sequence, used for transaction inputs.
type Data []byte

// Gas is the type used for gas amounts.
type Gas int64

func (a Address) String() string {
	return fmt.Sprintf("0x%x", a[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return bytesToText(a[:])
}

func (a *Address) UnmarshalText(data []byte) error {
	return textToBytes(a[:], data)
}

// Common converts the address into the go-ethereum representation.
func (a Address) Common() common.Address {
	return common.Address(a)
}

func (k Key) String() string {
	return fmt.Sprintf("0x%x", k[:])
}

func (k Key) MarshalText() ([]byte, error) {
	return bytesToText(k[:])
}

// UnmarshalText accepts hex-encoded keys of up to 32 bytes and decimal
// numbers. Short values are left-padded with zeros.
func (k *Key) UnmarshalText(data []byte) error {
	return textToWord((*[32]byte)(k), data)
}

// NewKey creates a key from up to 4 uint64 arguments, see NewValue.
func NewKey(args ...uint64) Key {
	return Key(NewValue(args...))
}

func (w Word) String() string {
	return fmt.Sprintf("0x%x", w[:])
}

func (w Word) MarshalText() ([]byte, error) {
	return bytesToText(w[:])
}

func (w *Word) UnmarshalText(data []byte) error {
	return textToWord((*[32]byte)(w), data)
}

// NewWord creates a word from up to 4 uint64 arguments, see NewValue.
func NewWord(args ...uint64) Word {
	return Word(NewValue(args...))
}

func (w Word) ToUint256() *uint256.Int {
	return new(uint256.Int).SetBytes(w[:])
}

func (h Hash) String() string {
	return fmt.Sprintf("0x%x", h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return bytesToText(h[:])
}

func (h *Hash) UnmarshalText(data []byte) error {
	return textToBytes(h[:], data)
}

func (v Value) ToBig() *big.Int {
	return new(big.Int).SetBytes(v[:])
}

func (v Value) ToUint256() *uint256.Int {
	return new(uint256.Int).SetBytes(v[:])
}

func (v Value) String() string {
	return v.ToUint256().String()
}

func (v Value) Cmp(o Value) int {
	return bytes.Compare(v[:], o[:])
}

func (v Value) MarshalText() ([]byte, error) {
	return bytesToText(v[:])
}

func (v *Value) UnmarshalText(data []byte) error {
	return textToWord((*[32]byte)(v), data)
}

// NewValue creates a new Value instance from up to 4 uint64 arguments. The
// arguments are given in the order from most significant to least significant
// by padding leading zeros as needed. No argument results in a value of zero.
func NewValue(args ...uint64) (result Value) {
	if len(args) > 4 {
		panic("Too many arguments")
	}
	offset := 4 - len(args)
	for i := 0; i < len(args); i++ {
		start := (offset * 8) + i*8
		binary.BigEndian.PutUint64(result[start:start+8], args[i])
	}
	return
}

// ValueFromUint256 converts a *uint256.Int to a Value.
// If the input is nil, it returns 0.
func ValueFromUint256(value *uint256.Int) (result Value) {
	if value == nil {
		return result
	}
	return value.Bytes32()
}

func (c Code) String() string {
	return fmt.Sprintf("0x%x", []byte(c))
}

func (c Code) MarshalText() ([]byte, error) {
	return bytesToText(c)
}

func (c *Code) UnmarshalText(data []byte) error {
	res, err := textToSlice(data)
	if err != nil {
		return err
	}
	*c = res
	return nil
}

func (d Data) String() string {
	return fmt.Sprintf("0x%x", []byte(d))
}

func (d Data) MarshalText() ([]byte, error) {
	return bytesToText(d)
}

func (d *Data) UnmarshalText(data []byte) error {
	res, err := textToSlice(data)
	if err != nil {
		return err
	}
	*d = res
	return nil
}

func bytesToText(data []byte) ([]byte, error) {
	return []byte(fmt.Sprintf("0x%x", data)), nil
}

func textToBytes(trg []byte, data []byte) error {
	s := string(data)
	if !strings.HasPrefix(s, "0x") {
		return fmt.Errorf("invalid format, does not start with 0x: %v", s)
	}
	data, err := hex.DecodeString(s[2:])
	if err != nil {
		return err
	}
	if want, got := len(trg), len(data); want != got {
		return fmt.Errorf("invalid format, wanted %d bytes, got %d", want, got)
	}
	copy(trg[:], data)
	return nil
}

func textToSlice(data []byte) ([]byte, error) {
	s := string(data)
	if !strings.HasPrefix(s, "0x") {
		return nil, fmt.Errorf("invalid format, does not start with 0x: %v", s)
	}
	s = s[2:]
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// textToWord parses 256-bit quantities, accepting both 0x-prefixed hex
// strings of up to 32 bytes and decimal numbers.
func textToWord(trg *[32]byte, data []byte) error {
	s := string(data)
	if !strings.HasPrefix(s, "0x") {
		v, err := uint256.FromDecimal(s)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", s, err)
		}
		*trg = v.Bytes32()
		return nil
	}
	raw, err := textToSlice(data)
	if err != nil {
		return err
	}
	if len(raw) > 32 {
		return fmt.Errorf("invalid format, value exceeds 32 bytes: %v", s)
	}
	*trg = [32]byte{}
	copy(trg[32-len(raw):], raw)
	return nil
}
