// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package remote executes test instances as signed transactions on a live
// network and reads the resulting state back through JSON-RPC.
package remote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/Fantom-foundation/Verdict/go/ct"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

//go:generate mockgen -source node.go -destination node_mock.go -package remote

// Node is the part of a client's JSON-RPC interface used to execute and
// inspect transactions. It is implemented by *ethclient.Client.
type Node interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	Close()
}

// DialNode connects to the JSON-RPC endpoint at the given URL. Failing to
// connect makes the backend unavailable.
func DialNode(ctx context.Context, url string) (Node, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %w", ct.ErrBackendUnavailable, url, err)
	}
	return ethclient.NewClient(client), nil
}

// isRejection reports whether the node answered the request with an error,
// as opposed to the request not reaching the node.
func isRejection(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

// nonceDriftMessages are the rejection reasons indicating that the nonce
// issued for a transaction no longer matches the account on chain.
var nonceDriftMessages = []string{
	"nonce too low",
	"nonce too high",
	"already known",
	"replacement transaction underpriced",
}

func isNonceDrift(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, cur := range nonceDriftMessages {
		if strings.Contains(msg, cur) {
			return true
		}
	}
	return false
}
