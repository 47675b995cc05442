// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package local executes test instances through a deterministic state
// transition function: the go-ethereum state processor in process, or an
// external tool speaking the t8n protocol.
package local

import (
	"context"

	"github.com/Fantom-foundation/Verdict/go/ledger"
)

//go:generate mockgen -source transition.go -destination transition_mock.go -package local

// Transition is a deterministic state transition function applying a
// single transaction to a pre-state.
type Transition interface {
	// Apply executes the input's transaction. Transactions invalid under
	// the rules of the fork are reported through Output.Rejection, not
	// through the error. Errors wrapping ct.ErrBackendUnavailable signal
	// that no further transition can be applied.
	Apply(ctx context.Context, input Input) (*Output, error)
}

// Input is everything a transition needs to produce a post-state.
type Input struct {
	// Name identifies the execution in logs and debug dumps.
	Name        string
	Pre         ledger.WorldState
	Env         ledger.Environment
	Transaction ledger.Transaction // < the nonce is always set
	// SecretKey signs the transaction for tools requiring signed input. It
	// may be nil for transitions that execute unsigned messages.
	SecretKey *ledger.Hash
	Fork      ledger.Revision
	ChainID   uint64
	// Reward is the block mining reward, negative values disable it.
	Reward int64
	// Blobs is the blob schedule of the chain, nil for the schedule of the
	// fork. Transition tools apply the schedule of their own fork.
	Blobs *ledger.BlobSchedule
}

// Output is the result of a transition.
type Output struct {
	PostState ledger.WorldState
	Receipt   *ledger.Receipt
	Rejection string
}
