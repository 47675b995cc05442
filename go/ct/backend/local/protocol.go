// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package local

import (
	"fmt"
	"math/big"

	"github.com/Fantom-foundation/Verdict/go/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// ErrMissingSecretKey is reported for transactions that need to be signed
// by a t8n tool but do not provide a key.
const ErrMissingSecretKey = ledger.ConstErr("transaction has no secret key")

// The t8n protocol exchanges three inputs (alloc, env, txs) and produces an
// alloc and a result document. Numbers are hex encoded.

type t8nInput struct {
	Alloc types.GenesisAlloc `json:"alloc"`
	Txs   []t8nTransaction   `json:"txs"`
	Env   t8nEnv             `json:"env"`
}

type t8nState struct {
	Fork    string `json:"fork"`
	ChainID uint64 `json:"chainid"`
	Reward  int64  `json:"reward"`
}

// t8nRequest is the body posted to a t8n server.
type t8nRequest struct {
	State t8nState `json:"state"`
	Input t8nInput `json:"input"`
}

type t8nEnv struct {
	Coinbase              common.Address                      `json:"currentCoinbase"`
	GasLimit              math.HexOrDecimal64                 `json:"currentGasLimit"`
	Number                math.HexOrDecimal64                 `json:"currentNumber"`
	Timestamp             math.HexOrDecimal64                 `json:"currentTimestamp"`
	Difficulty            *math.HexOrDecimal256               `json:"currentDifficulty,omitempty"`
	Random                *common.Hash                        `json:"currentRandom,omitempty"`
	BaseFee               *math.HexOrDecimal256               `json:"currentBaseFee,omitempty"`
	ExcessBlobGas         *math.HexOrDecimal64                `json:"currentExcessBlobGas,omitempty"`
	ParentBeaconBlockRoot *common.Hash                        `json:"parentBeaconBlockRoot,omitempty"`
	Withdrawals           []*types.Withdrawal                 `json:"withdrawals"`
	BlockHashes           map[math.HexOrDecimal64]common.Hash `json:"blockHashes,omitempty"`
}

type t8nTransaction struct {
	Type       hexutil.Uint64    `json:"type"`
	ChainID    *hexutil.Big      `json:"chainId,omitempty"`
	Nonce      hexutil.Uint64    `json:"nonce"`
	GasPrice   *hexutil.Big      `json:"gasPrice"`
	Gas        hexutil.Uint64    `json:"gas"`
	To         *common.Address   `json:"to"`
	Value      *hexutil.Big      `json:"value"`
	Input      hexutil.Bytes     `json:"input"`
	AccessList *types.AccessList `json:"accessList,omitempty"`
	Sender     common.Address    `json:"sender"`
	SecretKey  common.Hash       `json:"secretKey"`
	Protected  bool              `json:"protected"`
	V          *hexutil.Big      `json:"v"`
	R          *hexutil.Big      `json:"r"`
	S          *hexutil.Big      `json:"s"`
}

type t8nOutput struct {
	Alloc  types.GenesisAlloc `json:"alloc"`
	Result t8nResult          `json:"result"`
	Body   hexutil.Bytes      `json:"body,omitempty"`
}

type t8nResult struct {
	StateRoot common.Hash         `json:"stateRoot"`
	Receipts  []t8nReceipt        `json:"receipts"`
	Rejected  []t8nRejected       `json:"rejected,omitempty"`
	GasUsed   math.HexOrDecimal64 `json:"gasUsed"`
}

type t8nReceipt struct {
	Status          hexutil.Uint64  `json:"status"`
	GasUsed         hexutil.Uint64  `json:"gasUsed"`
	TxHash          common.Hash     `json:"transactionHash"`
	ContractAddress *common.Address `json:"contractAddress,omitempty"`
	BlockNumber     *hexutil.Big    `json:"blockNumber,omitempty"`
}

type t8nRejected struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// t8nForkName returns the name t8n tools use for the given fork.
func t8nForkName(fork ledger.Revision) string {
	switch fork {
	case ledger.R06_Petersburg:
		return "ConstantinopleFix"
	case ledger.R10_Paris:
		return "Merge"
	}
	return fork.String()
}

func makeT8nInput(input Input) (t8nInput, error) {
	tx, err := makeT8nTransaction(input)
	if err != nil {
		return t8nInput{}, err
	}
	return t8nInput{
		Alloc: toGenesisAlloc(input.Pre),
		Txs:   []t8nTransaction{tx},
		Env:   makeT8nEnv(input.Env, input.Fork),
	}, nil
}

func makeT8nTransaction(input Input) (t8nTransaction, error) {
	tx := input.Transaction
	if input.SecretKey == nil {
		return t8nTransaction{}, fmt.Errorf("%w: sender %v", ErrMissingSecretKey, tx.Sender)
	}
	if tx.Nonce == nil {
		return t8nTransaction{}, fmt.Errorf("transaction nonce not resolved")
	}
	res := t8nTransaction{
		Type:      types.LegacyTxType,
		Nonce:     hexutil.Uint64(*tx.Nonce),
		GasPrice:  (*hexutil.Big)(tx.GasPrice.ToBig()),
		Gas:       hexutil.Uint64(tx.GasLimit),
		Value:     (*hexutil.Big)(tx.Value.ToBig()),
		Input:     hexutil.Bytes(tx.Input),
		Sender:    tx.Sender.Common(),
		SecretKey: common.Hash(*input.SecretKey),
		Protected: input.Fork >= ledger.R04_Byzantium,
		V:         new(hexutil.Big),
		R:         new(hexutil.Big),
		S:         new(hexutil.Big),
	}
	if tx.Recipient != nil {
		to := tx.Recipient.Common()
		res.To = &to
	}
	if len(tx.AccessList) > 0 {
		accessList := makeMessage(tx).AccessList
		res.Type = types.AccessListTxType
		res.ChainID = (*hexutil.Big)(new(big.Int).SetUint64(input.ChainID))
		res.AccessList = &accessList
	}
	return res, nil
}

func makeT8nEnv(env ledger.Environment, fork ledger.Revision) t8nEnv {
	res := t8nEnv{
		Coinbase:  env.Coinbase.Common(),
		GasLimit:  math.HexOrDecimal64(env.GasLimit),
		Number:    math.HexOrDecimal64(env.Number),
		Timestamp: math.HexOrDecimal64(env.Timestamp),
	}
	if env.Number > 0 {
		res.BlockHashes = map[math.HexOrDecimal64]common.Hash{
			math.HexOrDecimal64(env.Number - 1): blockHash(env.Number - 1),
		}
	}
	if fork >= ledger.R10_Paris {
		random := common.Hash(env.PrevRandao)
		res.Random = &random
		res.Difficulty = (*math.HexOrDecimal256)(big.NewInt(0))
	} else {
		res.Difficulty = (*math.HexOrDecimal256)(env.Difficulty.ToBig())
	}
	if fork >= ledger.R09_London {
		res.BaseFee = (*math.HexOrDecimal256)(env.BaseFee.ToBig())
	}
	if fork >= ledger.R11_Shanghai {
		res.Withdrawals = []*types.Withdrawal{}
	}
	if fork >= ledger.R12_Cancun {
		excess := math.HexOrDecimal64(env.ExcessBlobGas)
		res.ExcessBlobGas = &excess
		res.ParentBeaconBlockRoot = &common.Hash{}
	}
	return res
}

func toGenesisAlloc(state ledger.WorldState) types.GenesisAlloc {
	res := make(types.GenesisAlloc, len(state))
	for address, account := range state {
		entry := types.Account{
			Balance: account.Balance.ToBig(),
			Nonce:   account.Nonce,
			Code:    account.Code,
		}
		if len(account.Storage) > 0 {
			entry.Storage = make(map[common.Hash]common.Hash, len(account.Storage))
			for key, value := range account.Storage {
				entry.Storage[common.Hash(key)] = common.Hash(value)
			}
		}
		res[address.Common()] = entry
	}
	return res
}

func fromGenesisAlloc(alloc types.GenesisAlloc) ledger.WorldState {
	res := make(ledger.WorldState, len(alloc))
	for address, entry := range alloc {
		account := ledger.Account{
			Nonce: entry.Nonce,
			Code:  ledger.Code(entry.Code),
		}
		if entry.Balance != nil {
			balance, _ := uint256.FromBig(entry.Balance)
			account.Balance = ledger.ValueFromUint256(balance)
		}
		for key, value := range entry.Storage {
			if value == (common.Hash{}) {
				continue
			}
			if account.Storage == nil {
				account.Storage = ledger.Storage{}
			}
			account.Storage[ledger.Key(key)] = ledger.Word(value)
		}
		res[ledger.Address(address)] = account
	}
	return res
}

// toOutput converts the documents produced by a t8n tool.
func (o *t8nOutput) toOutput(input Input) *Output {
	res := &Output{PostState: fromGenesisAlloc(o.Alloc)}
	for _, rejected := range o.Result.Rejected {
		if rejected.Index == 0 {
			res.Rejection = rejected.Error
			return res
		}
	}
	if len(o.Result.Receipts) == 0 {
		return res
	}
	receipt := o.Result.Receipts[0]
	res.Receipt = &ledger.Receipt{
		Success:     uint64(receipt.Status) == types.ReceiptStatusSuccessful,
		GasUsed:     ledger.Gas(receipt.GasUsed),
		TxHash:      ledger.Hash(receipt.TxHash),
		BlockNumber: input.Env.Number,
	}
	if receipt.ContractAddress != nil && *receipt.ContractAddress != (common.Address{}) {
		created := ledger.Address(*receipt.ContractAddress)
		res.Receipt.ContractAddress = &created
	}
	return res
}
