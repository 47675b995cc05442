// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ledger

import "math"

// Transaction summarizes the parameters of a transaction to be executed on a chain.
type Transaction struct {
	Sender     Address       `json:"sender"`               // the sender of the transaction, paying for its execution
	Recipient  *Address      `json:"to,omitempty"`         // the receiver of a transaction, nil if a new contract is to be created
	Nonce      *uint64       `json:"nonce,omitempty"`      // the nonce of the sender account, nil for the next available nonce
	Input      Data          `json:"data"`                 // the input data for the transaction
	Value      Value         `json:"value"`                // the amount of network currency to transfer to the recipient
	GasLimit   Gas           `json:"gasLimit"`             // the maximum amount of gas that can be used by the transaction
	GasPrice   Value         `json:"gasPrice"`             // the effective price of a unit of gas for this transaction
	AccessList []AccessTuple `json:"accessList,omitempty"` // the list of accounts and storage slots expected to be accessed
}

// AccessTuple lists a range of accounts and storage slots expected to be accessed
// by a transaction.
type AccessTuple struct {
	Address Address `json:"address"`
	Keys    []Key   `json:"storageKeys"`
}

// Receipt summarizes the result of the execution of a transaction.
type Receipt struct {
	Success         bool     `json:"success"`                   // false if the execution ended in a revert, true otherwise
	GasUsed         Gas      `json:"gasUsed"`                   // gas consumed by the transaction
	ContractAddress *Address `json:"contractAddress,omitempty"` // filled if a contract was created by this transaction
	TxHash          Hash     `json:"txHash"`                    // hash of the executed transaction, if known
	BlockNumber     uint64   `json:"blockNumber"`               // block the transaction got included in
}

// Environment describes the block a test transaction is executed in.
type Environment struct {
	Coinbase      Address `json:"currentCoinbase"`
	GasLimit      Gas     `json:"currentGasLimit"`
	Number        uint64  `json:"currentNumber"`
	Timestamp     uint64  `json:"currentTimestamp"`
	BaseFee       Value   `json:"currentBaseFee"`
	Difficulty    Value   `json:"currentDifficulty"`
	PrevRandao    Hash    `json:"currentRandom"`
	ExcessBlobGas uint64  `json:"currentExcessBlobGas"`
}

// DefaultEnvironment returns the block environment state tests are filled
// with unless they specify their own.
func DefaultEnvironment() Environment {
	return Environment{
		Coinbase:   Address{0x2a, 0xdc, 0x25, 0x66, 0x50, 0x18, 0xaa, 0x1f, 0xe0, 0xe6, 0xbc, 0x66, 0x6d, 0xac, 0x8f, 0xc2, 0x69, 0x7f, 0xf9, 0xba},
		GasLimit:   math.MaxInt64,
		Number:     1,
		Timestamp:  1000,
		BaseFee:    NewValue(7),
		Difficulty: NewValue(0x20000),
	}
}
