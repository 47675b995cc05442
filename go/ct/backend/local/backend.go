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

	"github.com/Fantom-foundation/Verdict/go/ct"
	"github.com/Fantom-foundation/Verdict/go/ledger"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultChainID is the chain id used by state tests.
const DefaultChainID = 1

// Config parameterizes the local backend.
type Config struct {
	ChainID uint64
	// Reward is the block reward passed to the transition, negative values
	// disable it. State tests are executed without rewards.
	Reward int64
	// Chain provides the blob schedule of forks with blobs. If unset the
	// schedule of the executed fork is used.
	Chain *ledger.Chain
}

// DefaultConfig returns the configuration used for state tests.
func DefaultConfig() Config {
	return Config{ChainID: DefaultChainID, Reward: -1}
}

// Backend executes instances with a Transition. Every execution starts
// from the instance's own pre-state, so the backend is stateless and may
// be used by any number of workers in parallel.
type Backend struct {
	transition Transition
	config     Config
	log        log.Logger
}

// NewBackend creates a local backend using the given transition.
func NewBackend(transition Transition, config Config) *Backend {
	if config.ChainID == 0 {
		config.ChainID = DefaultChainID
	}
	return &Backend{
		transition: transition,
		config:     config,
		log:        log.New("backend", "local"),
	}
}

func (b *Backend) Execute(ctx context.Context, request ct.Request) (*ct.Result, error) {
	instance := request.Instance
	tx := instance.Transaction
	if tx.Nonce == nil {
		nonce := request.Instance.Pre[tx.Sender].Nonce
		tx.Nonce = &nonce
	}

	output, err := b.transition.Apply(ctx, Input{
		Name:        fmt.Sprintf("%s/%v", instance.ID(), request.Fork),
		Pre:         instance.Pre,
		Env:         instance.Env,
		Transaction: tx,
		SecretKey:   instance.SecretKey,
		Fork:        request.Fork,
		ChainID:     b.config.ChainID,
		Reward:      b.config.Reward,
		Blobs:       b.blobSchedule(request.Fork),
	})
	if err != nil {
		return nil, err
	}

	result := &ct.Result{
		PostState: output.PostState,
		Receipt:   output.Receipt,
		Sender:    tx.Sender,
		Rejection: output.Rejection,
	}
	if output.Rejection != "" {
		b.log.Debug("Transaction rejected", "instance", instance.ID(), "fork", request.Fork, "reason", output.Rejection)
		return result, fmt.Errorf("%w: %s", ct.ErrTransitionRejected, output.Rejection)
	}
	return result, nil
}

func (b *Backend) blobSchedule(fork ledger.Revision) *ledger.BlobSchedule {
	if b.config.Chain == nil || b.config.Chain.Blobs == nil {
		return nil
	}
	return b.config.Chain.BlobScheduleFor(fork)
}
