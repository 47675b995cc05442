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
	"context"
	"fmt"
	"math/big"

	"github.com/Fantom-foundation/Verdict/go/ct"
	"github.com/Fantom-foundation/Verdict/go/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/misc/eip4844"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
)

// constantinopleOnlyPetersburgBlock keeps the Petersburg rules disabled for
// Constantinople; go-ethereum implies Petersburg if no block is set.
const constantinopleOnlyPetersburgBlock = 10_000_000

// GethTransition applies transactions with the go-ethereum state
// processor on a fresh in-memory state database.
type GethTransition struct{}

// NewGethTransition creates a transition backed by go-ethereum.
func NewGethTransition() *GethTransition {
	return &GethTransition{}
}

// IsSupported reports whether the given fork can be executed.
func (t *GethTransition) IsSupported(fork ledger.Revision) bool {
	return fork.IsValid() && fork <= ledger.R12_Cancun
}

func (t *GethTransition) Apply(ctx context.Context, input Input) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !t.IsSupported(input.Fork) {
		return nil, fmt.Errorf("%w: %v", ct.ErrUnsupportedFork, input.Fork)
	}
	if input.Transaction.Nonce == nil {
		return nil, fmt.Errorf("transaction nonce not resolved")
	}
	if len(input.Transaction.AccessList) > 0 && input.Fork < ledger.R08_Berlin {
		return &Output{
			PostState: input.Pre.Clone(),
			Rejection: fmt.Sprintf("%v: access list before Berlin", types.ErrTxTypeNotSupported),
		}, nil
	}

	db := state.NewDatabase(rawdb.NewMemoryDatabase())
	root, err := writePreState(db, input.Pre)
	if err != nil {
		return nil, err
	}
	stateDb, err := state.New(root, db, nil)
	if err != nil {
		return nil, err
	}

	chainConfig := MakeChainConfig(new(big.Int).SetUint64(input.ChainID), input.Fork)
	blockCtx := makeBlockContext(input.Env, input.Fork, input.Blobs)
	msg := makeMessage(input.Transaction)
	tracker := newAccessTracker()
	evm := vm.NewEVM(blockCtx, core.NewEVMTxContext(msg), stateDb, chainConfig, vm.Config{Tracer: tracker.hooks()})

	stateDb.SetTxContext(common.Hash{}, 0)
	snapshot := stateDb.Snapshot()
	gasPool := new(core.GasPool).AddGas(blockCtx.GasLimit)
	result, err := core.ApplyMessage(evm, msg, gasPool)
	if err != nil {
		stateDb.RevertToSnapshot(snapshot)
		return &Output{
			PostState: input.Pre.Clone(),
			Rejection: err.Error(),
		}, nil
	}

	rules := chainConfig.Rules(blockCtx.BlockNumber, blockCtx.Random != nil, blockCtx.Time)
	root, err = stateDb.Commit(blockCtx.BlockNumber.Uint64(), rules.IsEIP158)
	if err != nil {
		return nil, err
	}
	post, err := state.New(root, db, nil)
	if err != nil {
		return nil, err
	}

	tracker.touch(msg.From)
	tracker.touch(blockCtx.Coinbase)
	receipt := &ledger.Receipt{
		Success:     !result.Failed(),
		GasUsed:     ledger.Gas(result.UsedGas),
		BlockNumber: input.Env.Number,
	}
	if msg.To == nil {
		created := ledger.Address(crypto.CreateAddress(msg.From, msg.Nonce))
		receipt.ContractAddress = &created
	}
	return &Output{
		PostState: readPostState(post, input.Pre, tracker),
		Receipt:   receipt,
	}, nil
}

// MakeChainConfig returns a chain config for the given chain ID and target
// revision. All forks up to the target are active from genesis, later ones
// are disabled.
func MakeChainConfig(chainID *big.Int, target ledger.Revision) *params.ChainConfig {
	from := func(revision ledger.Revision) *big.Int {
		if target >= revision {
			return big.NewInt(0)
		}
		return nil
	}
	at := func(revision ledger.Revision) *uint64 {
		if target >= revision {
			return new(uint64)
		}
		return nil
	}

	config := &params.ChainConfig{
		ChainID:             chainID,
		HomesteadBlock:      from(ledger.R01_Homestead),
		EIP150Block:         from(ledger.R04_Byzantium),
		EIP155Block:         from(ledger.R04_Byzantium),
		EIP158Block:         from(ledger.R04_Byzantium),
		ByzantiumBlock:      from(ledger.R04_Byzantium),
		ConstantinopleBlock: from(ledger.R05_Constantinople),
		PetersburgBlock:     from(ledger.R06_Petersburg),
		IstanbulBlock:       from(ledger.R07_Istanbul),
		BerlinBlock:         from(ledger.R08_Berlin),
		LondonBlock:         from(ledger.R09_London),
		MergeNetsplitBlock:  from(ledger.R10_Paris),
		ShanghaiTime:        at(ledger.R11_Shanghai),
		CancunTime:          at(ledger.R12_Cancun),
		Ethash:              new(params.EthashConfig),
	}
	if target == ledger.R05_Constantinople {
		config.PetersburgBlock = big.NewInt(constantinopleOnlyPetersburgBlock)
	}
	if target >= ledger.R10_Paris {
		config.TerminalTotalDifficulty = big.NewInt(0)
	}
	return config
}

func makeBlockContext(env ledger.Environment, fork ledger.Revision, blobs *ledger.BlobSchedule) vm.BlockContext {
	res := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     blockHash,
		Coinbase:    env.Coinbase.Common(),
		GasLimit:    uint64(env.GasLimit),
		BlockNumber: new(big.Int).SetUint64(env.Number),
		Time:        env.Timestamp,
		Difficulty:  env.Difficulty.ToBig(),
	}
	if fork >= ledger.R09_London {
		res.BaseFee = env.BaseFee.ToBig()
	}
	if fork >= ledger.R10_Paris {
		random := common.Hash(env.PrevRandao)
		res.Random = &random
		res.Difficulty = big.NewInt(0)
	}
	if fork >= ledger.R12_Cancun {
		res.BlobBaseFee = blobBaseFee(env.ExcessBlobGas, blobs)
	}
	return res
}

// blobBaseFee computes the blob gas price for the given excess blob gas.
// Chains with their own blob schedule use its update fraction.
func blobBaseFee(excessBlobGas uint64, blobs *ledger.BlobSchedule) *big.Int {
	if blobs == nil || blobs.UpdateFraction == params.BlobTxBlobGaspriceUpdateFraction {
		return eip4844.CalcBlobFee(excessBlobGas)
	}
	return fakeExponential(
		big.NewInt(params.BlobTxMinBlobGasprice),
		new(big.Int).SetUint64(excessBlobGas),
		new(big.Int).SetUint64(blobs.UpdateFraction),
	)
}

// fakeExponential approximates factor * e ** (numerator / denominator)
// using a Taylor expansion, as defined by EIP-4844.
func fakeExponential(factor, numerator, denominator *big.Int) *big.Int {
	var (
		output = new(big.Int)
		accum  = new(big.Int).Mul(factor, denominator)
	)
	for i := 1; accum.Sign() > 0; i++ {
		output.Add(output, accum)

		accum.Mul(accum, numerator)
		accum.Div(accum, denominator)
		accum.Div(accum, big.NewInt(int64(i)))
	}
	return output.Div(output, denominator)
}

// blockHash derives the hash of historic blocks the same way state test
// fillers do.
func blockHash(number uint64) common.Hash {
	return crypto.Keccak256Hash([]byte(new(big.Int).SetUint64(number).String()))
}

func makeMessage(tx ledger.Transaction) *core.Message {
	var to *common.Address
	if tx.Recipient != nil {
		addr := tx.Recipient.Common()
		to = &addr
	}
	var accessList types.AccessList
	for _, tuple := range tx.AccessList {
		keys := make([]common.Hash, len(tuple.Keys))
		for i, key := range tuple.Keys {
			keys[i] = common.Hash(key)
		}
		accessList = append(accessList, types.AccessTuple{
			Address:     tuple.Address.Common(),
			StorageKeys: keys,
		})
	}
	gasPrice := tx.GasPrice.ToBig()
	return &core.Message{
		To:         to,
		From:       tx.Sender.Common(),
		Nonce:      *tx.Nonce,
		Value:      tx.Value.ToBig(),
		GasLimit:   uint64(tx.GasLimit),
		GasPrice:   gasPrice,
		GasFeeCap:  gasPrice,
		GasTipCap:  gasPrice,
		Data:       tx.Input,
		AccessList: accessList,
	}
}

func writePreState(db state.Database, pre ledger.WorldState) (common.Hash, error) {
	stateDb, err := state.New(types.EmptyRootHash, db, nil)
	if err != nil {
		return common.Hash{}, err
	}
	for address, account := range pre {
		addr := address.Common()
		stateDb.SetBalance(addr, account.Balance.ToUint256(), tracing.BalanceChangeUnspecified)
		stateDb.SetNonce(addr, account.Nonce)
		if len(account.Code) > 0 {
			stateDb.SetCode(addr, account.Code)
		}
		for key, value := range account.Storage {
			stateDb.SetState(addr, common.Hash(key), common.Hash(value))
		}
	}
	return stateDb.Commit(0, false)
}

// readPostState collects all accounts of the pre-state and all accounts
// touched by the execution. Storage is read for all slots present in the
// pre-state or written during the execution.
func readPostState(stateDb *state.StateDB, pre ledger.WorldState, tracker *accessTracker) ledger.WorldState {
	for address := range pre {
		tracker.touch(address.Common())
	}
	res := make(ledger.WorldState, len(tracker.accounts))
	for addr := range tracker.accounts {
		if !stateDb.Exist(addr) {
			continue
		}
		account := ledger.Account{
			Balance: ledger.ValueFromUint256(stateDb.GetBalance(addr)),
			Nonce:   stateDb.GetNonce(addr),
			Code:    ledger.Code(stateDb.GetCode(addr)),
		}
		keys := append([]common.Hash(nil), tracker.slots[addr]...)
		for key := range pre[ledger.Address(addr)].Storage {
			keys = append(keys, common.Hash(key))
		}
		for _, key := range keys {
			value := stateDb.GetState(addr, key)
			if value == (common.Hash{}) {
				continue
			}
			if account.Storage == nil {
				account.Storage = ledger.Storage{}
			}
			account.Storage[ledger.Key(key)] = ledger.Word(value)
		}
		res[ledger.Address(addr)] = account
	}
	return res
}

// accessTracker records the accounts entered and the storage slots written
// during an execution.
type accessTracker struct {
	accounts map[common.Address]struct{}
	slots    map[common.Address][]common.Hash
}

func newAccessTracker() *accessTracker {
	return &accessTracker{
		accounts: map[common.Address]struct{}{},
		slots:    map[common.Address][]common.Hash{},
	}
}

func (a *accessTracker) touch(addr common.Address) {
	a.accounts[addr] = struct{}{}
}

func (a *accessTracker) hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnEnter: func(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
			a.touch(from)
			a.touch(to)
		},
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
			if vm.OpCode(op) != vm.SSTORE {
				return
			}
			stack := scope.StackData()
			if len(stack) == 0 {
				return
			}
			addr := scope.Address()
			a.touch(addr)
			a.slots[addr] = append(a.slots[addr], common.Hash(stack[len(stack)-1].Bytes32()))
		},
	}
}
