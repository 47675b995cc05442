// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package ct runs state test instances against an execution backend and
// verifies the resulting post-states.
package ct

import (
	"context"

	"github.com/Fantom-foundation/Verdict/go/ct/spc"
	"github.com/Fantom-foundation/Verdict/go/ledger"
)

//go:generate mockgen -source backend.go -destination backend_mock.go -package ct

// Backend represents the interface through which test instances are
// executed, either by a local state transition function or on a live chain.
type Backend interface {
	// Execute runs the transaction of the given instance on the requested
	// fork. A transaction rejected by the fork rules produces a result and
	// an error wrapping ErrTransitionRejected or ErrSubmissionRejected.
	// Implementations must be safe for concurrent use.
	Execute(ctx context.Context, request Request) (*Result, error)
}

// Request describes a single execution.
type Request struct {
	Instance *spc.TestInstance
	Fork     ledger.Revision
	// Expected lists the accounts that need to be reported in the
	// post-state. Backends able to produce the full state may ignore it.
	Expected spc.ExpectedState
}

// Result summarizes the outcome of an execution.
type Result struct {
	PostState ledger.WorldState
	Receipt   *ledger.Receipt
	// Sender is the account that signed the transaction. It differs from the
	// template's sender if the backend signed with a derived key.
	Sender ledger.Address
	// Rejection is the reason given for a rejected transaction.
	Rejection string
}

const (
	// ErrBackendUnavailable signals that the backend can not execute any
	// transaction; it aborts the run.
	ErrBackendUnavailable = ledger.ConstErr("backend unavailable")
	// ErrTransitionRejected is reported by local backends for transactions
	// invalid under the fork rules.
	ErrTransitionRejected = ledger.ConstErr("transaction rejected by state transition")
	// ErrSubmissionRejected is reported by remote backends for transactions
	// refused by the node.
	ErrSubmissionRejected = ledger.ConstErr("transaction submission rejected")
	// ErrInclusionTimeout is reported if a submitted transaction was not
	// included before the deadline of the instance.
	ErrInclusionTimeout = ledger.ConstErr("transaction not included in time")
	// ErrRPCUnavailable is reported if the node could not be reached after
	// the configured retries.
	ErrRPCUnavailable = ledger.ConstErr("rpc endpoint unavailable")
	// ErrUnsupportedFork is reported for forks a backend can not execute.
	ErrUnsupportedFork = ledger.ConstErr("unsupported fork")
)
