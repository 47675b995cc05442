// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package remote

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Fantom-foundation/Verdict/go/ct"
	"github.com/Fantom-foundation/Verdict/go/ct/keys"
	"github.com/Fantom-foundation/Verdict/go/ct/spc"
	"github.com/Fantom-foundation/Verdict/go/ledger"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const defaultFundingGasPrice = 10 * params.GWei

// Config parameterizes the remote backend. Zero values are replaced by
// defaults.
type Config struct {
	// ChainID is the expected chain id of the node, 0 accepts any.
	ChainID uint64
	// Seed is the root of the derivation of per-instance signing keys.
	Seed ledger.Hash
	// FundingKey, if set, funds every derived sender before its
	// transaction is submitted.
	FundingKey *ecdsa.PrivateKey
	// FundingGasPrice is the gas price of funding transactions.
	FundingGasPrice ledger.Value

	PollAttempts    int
	PollInterval    time.Duration
	PollMaxInterval time.Duration

	RPCRetries  int
	RPCInterval time.Duration

	// RequestsPerSecond limits transaction submissions, 0 is unlimited.
	RequestsPerSecond float64
	CodeCacheSize     int
	// MaxConcurrentQueries bounds the state queries of a single instance.
	MaxConcurrentQueries int
}

func (c Config) withDefaults() Config {
	if c.FundingGasPrice == (ledger.Value{}) {
		c.FundingGasPrice = ledger.NewValue(defaultFundingGasPrice)
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 60
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.PollMaxInterval <= 0 {
		c.PollMaxInterval = 5 * time.Second
	}
	if c.RPCRetries <= 0 {
		c.RPCRetries = 3
	}
	if c.RPCInterval <= 0 {
		c.RPCInterval = 200 * time.Millisecond
	}
	if c.CodeCacheSize <= 0 {
		c.CodeCacheSize = 1024
	}
	if c.MaxConcurrentQueries <= 0 {
		c.MaxConcurrentQueries = 8
	}
	return c
}

type codeKey struct {
	address common.Address
	block   uint64
}

// Backend executes instances on a live network. Senders are derived per
// instance unless the instance pins its secret key; nonces of shared
// senders are handed out by a coordinator.
type Backend struct {
	node    Node
	config  Config
	chainID *big.Int
	signer  types.Signer
	nonces  *keys.Coordinator
	limiter *rate.Limiter
	codes   *lru.Cache[codeKey, []byte]
	log     log.Logger
}

// Dial connects to the node at the given URL and creates a backend for it.
func Dial(ctx context.Context, url string, config Config) (*Backend, error) {
	node, err := DialNode(ctx, url)
	if err != nil {
		return nil, err
	}
	backend, err := NewBackend(ctx, node, config)
	if err != nil {
		node.Close()
		return nil, err
	}
	return backend, nil
}

// NewBackend creates a backend using the given node. The node's chain id
// is checked against the configured one.
func NewBackend(ctx context.Context, node Node, config Config) (*Backend, error) {
	config = config.withDefaults()
	chainID, err := node.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch chain id: %w", ct.ErrBackendUnavailable, err)
	}
	if config.ChainID != 0 && (!chainID.IsUint64() || chainID.Uint64() != config.ChainID) {
		return nil, fmt.Errorf("%w: node serves chain %v, expected %d", ct.ErrBackendUnavailable, chainID, config.ChainID)
	}
	codes, err := lru.New[codeKey, []byte](config.CodeCacheSize)
	if err != nil {
		return nil, err
	}
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	return &Backend{
		node:    node,
		config:  config,
		chainID: chainID,
		signer:  types.LatestSignerForChainID(chainID),
		nonces:  keys.NewCoordinator(),
		limiter: rate.NewLimiter(limit, 1),
		codes:   codes,
		log:     log.New("backend", "remote", "chain", chainID),
	}, nil
}

// Close releases the connection to the node.
func (b *Backend) Close() {
	b.node.Close()
}

func (b *Backend) Execute(ctx context.Context, request ct.Request) (*ct.Result, error) {
	instance := request.Instance
	key, derived, err := b.signingKey(instance, request.Fork)
	if err != nil {
		return nil, err
	}
	sender := keys.AddressOf(key)
	logger := b.log.New("instance", instance.ID(), "fork", request.Fork, "sender", sender)
	result := &ct.Result{Sender: sender}

	if derived && b.config.FundingKey != nil {
		if err := b.fund(ctx, sender, fundingAmount(instance), logger); err != nil {
			return nil, err
		}
	}

	tx, err := b.submit(ctx, key, instance.Transaction, logger)
	if err != nil {
		var rejected *rejectionError
		if errors.As(err, &rejected) {
			result.Rejection = rejected.reason.Error()
			return result, err
		}
		return nil, err
	}
	logger.Debug("Transaction submitted", "tx", tx.Hash(), "nonce", tx.Nonce())

	receipt, err := b.waitForReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	result.Receipt = toLedgerReceipt(receipt)

	expected := request.Expected
	if sender != instance.Transaction.Sender {
		expected = expected.Rekey(instance.Transaction.Sender, sender)
	}
	state, err := b.fetchState(ctx, expected, receipt.BlockNumber)
	if err != nil {
		return nil, err
	}
	result.PostState = state
	return result, nil
}

// signingKey returns the secret key pinned by the instance or derives a
// key unique to the instance and fork from the seed.
func (b *Backend) signingKey(instance *spc.TestInstance, fork ledger.Revision) (*ecdsa.PrivateKey, bool, error) {
	if instance.SecretKey != nil {
		key, err := keys.KeyFromSecret(*instance.SecretKey)
		return key, false, err
	}
	seed := ledger.Hash(crypto.Keccak256Hash(b.config.Seed[:], []byte(instance.Spec), []byte(fork.String())))
	key, err := keys.DeriveKey(seed, uint64(instance.Ordinal))
	return key, true, err
}

// fundingAmount covers the balance the sender has in the pre-state or, if
// none is given, the maximum cost of the transaction.
func fundingAmount(instance *spc.TestInstance) *big.Int {
	tx := instance.Transaction
	if balance := instance.Pre[tx.Sender].Balance; balance != (ledger.Value{}) {
		return balance.ToBig()
	}
	cost := new(big.Int).Mul(tx.GasPrice.ToBig(), big.NewInt(int64(tx.GasLimit)))
	return cost.Add(cost, tx.Value.ToBig())
}

func (b *Backend) fund(ctx context.Context, recipient ledger.Address, amount *big.Int, logger log.Logger) error {
	funder := b.config.FundingKey
	value, overflow := uint256FromBig(amount)
	if overflow {
		return fmt.Errorf("funding amount %v exceeds 256 bits", amount)
	}
	tx, err := b.submit(ctx, funder, ledger.Transaction{
		Sender:    keys.AddressOf(funder),
		Recipient: &recipient,
		Value:     value,
		GasLimit:  ledger.Gas(params.TxGas),
		GasPrice:  b.config.FundingGasPrice,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to fund %v: %w", recipient, err)
	}
	receipt, err := b.waitForReceipt(ctx, tx.Hash())
	if err != nil {
		return fmt.Errorf("failed to fund %v: %w", recipient, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("funding transaction %v of %v failed", tx.Hash(), recipient)
	}
	logger.Debug("Sender funded", "amount", amount, "tx", tx.Hash())
	return nil
}

// submit signs and sends the template with a nonce of the key's account.
// Rejected nonces are returned to the coordinator. A nonce drift reported
// by the node reconciles the nonce slot with the chain and the transaction
// is retried once. Submissions with unknown outcome keep their nonce and
// reconcile the slot on the next reservation.
func (b *Backend) submit(ctx context.Context, key *ecdsa.PrivateKey, template ledger.Transaction, logger log.Logger) (*types.Transaction, error) {
	sender := keys.AddressOf(key)
	for attempt := 0; ; attempt++ {
		reservation, err := b.nonces.Reserve(ctx, sender, b.pendingNonce(sender))
		if err != nil {
			return nil, err
		}
		tx, err := b.sign(key, template, reservation.Nonce)
		if err != nil {
			reservation.Release()
			return nil, err
		}
		err = b.send(ctx, tx)
		if err == nil {
			reservation.Commit()
			return tx, nil
		}
		if !isRejection(err) {
			reservation.Commit()
			b.nonces.Invalidate(sender)
			return nil, err
		}
		if isNonceDrift(err) {
			reservation.Commit()
			b.nonces.Invalidate(sender)
			if attempt == 0 {
				logger.Debug("Nonce drift, re-synchronizing", "nonce", reservation.Nonce, "err", err)
				continue
			}
		} else {
			reservation.Release()
		}
		logger.Debug("Transaction rejected", "err", err)
		return nil, &rejectionError{reason: err}
	}
}

func (b *Backend) pendingNonce(address ledger.Address) keys.NonceSource {
	return func(ctx context.Context) (uint64, error) {
		return retry(ctx, b, "eth_getTransactionCount", func(ctx context.Context) (uint64, error) {
			return b.node.PendingNonceAt(ctx, address.Common())
		})
	}
}

func (b *Backend) sign(key *ecdsa.PrivateKey, template ledger.Transaction, nonce uint64) (*types.Transaction, error) {
	var to *common.Address
	if template.Recipient != nil {
		addr := template.Recipient.Common()
		to = &addr
	}
	var data types.TxData
	if len(template.AccessList) > 0 {
		data = &types.AccessListTx{
			ChainID:    b.chainID,
			Nonce:      nonce,
			GasPrice:   template.GasPrice.ToBig(),
			Gas:        uint64(template.GasLimit),
			To:         to,
			Value:      template.Value.ToBig(),
			Data:       template.Input,
			AccessList: toAccessList(template.AccessList),
		}
	} else {
		data = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: template.GasPrice.ToBig(),
			Gas:      uint64(template.GasLimit),
			To:       to,
			Value:    template.Value.ToBig(),
			Data:     template.Input,
		}
	}
	return types.SignNewTx(key, b.signer, data)
}

// send submits a signed transaction. A retried submission the node already
// knows about was accepted by an earlier attempt that failed to answer.
func (b *Backend) send(ctx context.Context, tx *types.Transaction) error {
	attempts := 0
	_, err := retry(ctx, b, "eth_sendRawTransaction", func(ctx context.Context) (struct{}, error) {
		attempts++
		if err := b.limiter.Wait(ctx); err != nil {
			return struct{}{}, err
		}
		err := b.node.SendTransaction(ctx, tx)
		if err != nil && attempts > 1 && isRejection(err) && isAlreadyKnown(err) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}

// waitForReceipt polls for the receipt of the given transaction with an
// exponential backoff until it is found, the attempts are exhausted or the
// context expires.
func (b *Backend) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.config.PollInterval
	policy.MaxInterval = b.config.PollMaxInterval
	policy.MaxElapsedTime = 0

	var receipt *types.Receipt
	var lastErr error
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		res, err := b.node.TransactionReceipt(ctx, hash)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			lastErr = err
			return err
		}
		receipt = res
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(b.config.PollAttempts-1)), ctx))
	if err == nil {
		return receipt, nil
	}
	if lastErr != nil && !isNotFound(lastErr) && !isRejection(lastErr) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: receipt of %v: %w", ct.ErrRPCUnavailable, hash, lastErr)
	}
	return nil, fmt.Errorf("%w: %v not included after %d attempts: %w", ct.ErrInclusionTimeout, hash, attempts, err)
}

// fetchState reads the expected accounts at the given block. Accounts are
// queried concurrently; accounts without balance, nonce, code and
// non-zero storage are reported as non-existent.
func (b *Backend) fetchState(ctx context.Context, expected spc.ExpectedState, block *big.Int) (ledger.WorldState, error) {
	var mutex sync.Mutex
	res := make(ledger.WorldState, len(expected))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(b.config.MaxConcurrentQueries)
	for address, expectation := range expected {
		group.Go(func() error {
			account, err := b.fetchAccount(ctx, address, expectation, block)
			if err != nil {
				return err
			}
			if account.IsEmpty() && len(account.Storage) == 0 {
				return nil
			}
			mutex.Lock()
			defer mutex.Unlock()
			res[address] = account
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func (b *Backend) fetchAccount(ctx context.Context, address ledger.Address, expectation spc.ExpectedAccount, block *big.Int) (ledger.Account, error) {
	addr := address.Common()
	res := ledger.Account{}

	balance, err := retry(ctx, b, "eth_getBalance", func(ctx context.Context) (*big.Int, error) {
		return b.node.BalanceAt(ctx, addr, block)
	})
	if err != nil {
		return res, err
	}
	value, overflow := uint256FromBig(balance)
	if overflow {
		return res, fmt.Errorf("balance of %v exceeds 256 bits", address)
	}
	res.Balance = value

	res.Nonce, err = retry(ctx, b, "eth_getTransactionCount", func(ctx context.Context) (uint64, error) {
		return b.node.NonceAt(ctx, addr, block)
	})
	if err != nil {
		return res, err
	}

	code, err := b.code(ctx, addr, block)
	if err != nil {
		return res, err
	}
	res.Code = code

	if expectation.Storage == nil {
		return res, nil
	}
	for key := range expectation.Storage.Slots {
		data, err := retry(ctx, b, "eth_getStorageAt", func(ctx context.Context) ([]byte, error) {
			return b.node.StorageAt(ctx, addr, common.Hash(key), block)
		})
		if err != nil {
			return res, err
		}
		word := ledger.Word(common.BytesToHash(data))
		if word == (ledger.Word{}) {
			continue
		}
		if res.Storage == nil {
			res.Storage = ledger.Storage{}
		}
		res.Storage[key] = word
	}
	return res, nil
}

func (b *Backend) code(ctx context.Context, addr common.Address, block *big.Int) (ledger.Code, error) {
	key := codeKey{address: addr, block: block.Uint64()}
	if code, found := b.codes.Get(key); found {
		return code, nil
	}
	code, err := retry(ctx, b, "eth_getCode", func(ctx context.Context) ([]byte, error) {
		return b.node.CodeAt(ctx, addr, block)
	})
	if err != nil {
		return nil, err
	}
	b.codes.Add(key, code)
	return code, nil
}

func toLedgerReceipt(receipt *types.Receipt) *ledger.Receipt {
	res := &ledger.Receipt{
		Success: receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed: ledger.Gas(receipt.GasUsed),
		TxHash:  ledger.Hash(receipt.TxHash),
	}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.ContractAddress != (common.Address{}) {
		created := ledger.Address(receipt.ContractAddress)
		res.ContractAddress = &created
	}
	return res
}

func toAccessList(list []ledger.AccessTuple) types.AccessList {
	res := make(types.AccessList, 0, len(list))
	for _, tuple := range list {
		storageKeys := make([]common.Hash, len(tuple.Keys))
		for i, key := range tuple.Keys {
			storageKeys[i] = common.Hash(key)
		}
		res = append(res, types.AccessTuple{Address: tuple.Address.Common(), StorageKeys: storageKeys})
	}
	return res
}
