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
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/Fantom-foundation/Verdict/go/ct"
	"github.com/Fantom-foundation/Verdict/go/ledger"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/holiman/uint256"
)

// rejectionError is reported for transactions refused by the node.
type rejectionError struct {
	reason error
}

func (e *rejectionError) Error() string {
	return fmt.Sprintf("%v: %v", ct.ErrSubmissionRejected, e.reason)
}

func (e *rejectionError) Unwrap() []error {
	return []error{ct.ErrSubmissionRejected, e.reason}
}

// retry runs an RPC call, retrying it with an exponential backoff while the
// node can not be reached. Answers of the node, including errors, end the
// retries. Once the retries are exhausted the call fails with
// ct.ErrRPCUnavailable.
func retry[T any](ctx context.Context, b *Backend, method string, call func(context.Context) (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.config.RPCInterval
	policy.MaxElapsedTime = 0

	var res T
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		value, err := call(ctx)
		if err == nil {
			res = value
			return nil
		}
		if ctx.Err() != nil || isRejection(err) || isNotFound(err) {
			return backoff.Permanent(err)
		}
		b.log.Debug("RPC call failed", "method", method, "attempt", attempts, "err", err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(b.config.RPCRetries)), ctx))

	switch {
	case err == nil:
		return res, nil
	case isRejection(err) || isNotFound(err):
		return res, err
	case ctx.Err() != nil:
		return res, ctx.Err()
	}
	return res, fmt.Errorf("%w: %s failed after %d attempts: %w", ct.ErrRPCUnavailable, method, attempts, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}

func isAlreadyKnown(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already known")
}

func uint256FromBig(value *big.Int) (ledger.Value, bool) {
	if value == nil {
		return ledger.Value{}, false
	}
	if value.Sign() < 0 {
		return ledger.Value{}, true
	}
	res, overflow := uint256.FromBig(value)
	return ledger.ValueFromUint256(res), overflow
}
