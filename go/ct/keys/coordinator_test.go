// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package keys

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Fantom-foundation/Verdict/go/ledger"
	"github.com/stretchr/testify/require"
)

func fixedSource(nonce uint64, calls *atomic.Int32) NonceSource {
	return func(context.Context) (uint64, error) {
		calls.Add(1)
		return nonce, nil
	}
}

func TestCoordinator_ConcurrentReservationsAreDistinctAndGapFree(t *testing.T) {
	const N = 200
	coordinator := NewCoordinator()
	address := ledger.Address{1}
	var calls atomic.Int32

	nonces := make([]uint64, N)
	var wg sync.WaitGroup
	wg.Add(N)
	for i := 0; i < N; i++ {
		go func(i int) {
			defer wg.Done()
			reservation, err := coordinator.Reserve(context.Background(), address, fixedSource(5, &calls))
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			nonces[i] = reservation.Nonce
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), calls.Load(), "slot should be initialized once")
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i, nonce := range nonces {
		require.Equal(t, uint64(5+i), nonce)
	}
}

func TestCoordinator_SlotsAreIndependentPerAddress(t *testing.T) {
	coordinator := NewCoordinator()
	var calls atomic.Int32
	a, err := coordinator.Reserve(context.Background(), ledger.Address{1}, fixedSource(3, &calls))
	require.NoError(t, err)
	b, err := coordinator.Reserve(context.Background(), ledger.Address{2}, fixedSource(9, &calls))
	require.NoError(t, err)
	require.Equal(t, uint64(3), a.Nonce)
	require.Equal(t, uint64(9), b.Nonce)
	require.Equal(t, int32(2), calls.Load())
}

func reserve(t *testing.T, coordinator *Coordinator, address ledger.Address, source NonceSource) *Reservation {
	t.Helper()
	res, err := coordinator.Reserve(context.Background(), address, source)
	require.NoError(t, err)
	return res
}

func TestCoordinator_ReleaseReturnsLastIssuedNonce(t *testing.T) {
	coordinator := NewCoordinator()
	var calls atomic.Int32
	address := ledger.Address{1}
	first := reserve(t, coordinator, address, fixedSource(0, &calls))
	first.Release()

	again := reserve(t, coordinator, address, fixedSource(0, &calls))
	require.Equal(t, first.Nonce, again.Nonce)
	require.Equal(t, int32(1), calls.Load())
}

func TestCoordinator_ReleasedNonceIsReissuedWithoutDuplicates(t *testing.T) {
	coordinator := NewCoordinator()
	var calls atomic.Int32
	address := ledger.Address{1}
	source := fixedSource(5, &calls)

	a := reserve(t, coordinator, address, source)
	b := reserve(t, coordinator, address, source)
	require.Equal(t, uint64(5), a.Nonce)
	require.Equal(t, uint64(6), b.Nonce)

	a.Release()
	c := reserve(t, coordinator, address, source)
	d := reserve(t, coordinator, address, source)

	require.Equal(t, uint64(5), c.Nonce)
	require.Equal(t, uint64(7), d.Nonce)
	require.Equal(t, int32(1), calls.Load(), "release must not re-read the chain")
}

func TestCoordinator_ReleasedNoncesAreReissuedLowestFirst(t *testing.T) {
	coordinator := NewCoordinator()
	var calls atomic.Int32
	address := ledger.Address{1}
	source := fixedSource(0, &calls)

	issued := make([]*Reservation, 5)
	for i := range issued {
		issued[i] = reserve(t, coordinator, address, source)
	}
	issued[3].Release()
	issued[1].Release()
	issued[1].Release() // releasing twice has no effect

	want := []uint64{1, 3, 5}
	for _, nonce := range want {
		require.Equal(t, nonce, reserve(t, coordinator, address, source).Nonce)
	}
}

func TestCoordinator_ReleaseOfHighestNoncesShrinksSlot(t *testing.T) {
	coordinator := NewCoordinator()
	var calls atomic.Int32
	address := ledger.Address{1}
	source := fixedSource(0, &calls)

	a := reserve(t, coordinator, address, source)
	b := reserve(t, coordinator, address, source)
	c := reserve(t, coordinator, address, source)
	b.Release()
	c.Release()
	a.Commit()

	require.Equal(t, uint64(1), reserve(t, coordinator, address, source).Nonce)
	require.Equal(t, uint64(2), reserve(t, coordinator, address, source).Nonce)
	require.Equal(t, uint64(3), reserve(t, coordinator, address, source).Nonce)
}

func TestCoordinator_InvalidateAdvancesToChainNonce(t *testing.T) {
	coordinator := NewCoordinator()
	var calls atomic.Int32
	address := ledger.Address{1}
	first := reserve(t, coordinator, address, fixedSource(0, &calls))
	first.Commit()

	coordinator.Invalidate(address)
	next := reserve(t, coordinator, address, fixedSource(42, &calls))
	require.Equal(t, uint64(42), next.Nonce)
	require.Equal(t, int32(2), calls.Load())

	// The slot is only reconciled once per invalidation.
	require.Equal(t, uint64(43), reserve(t, coordinator, address, fixedSource(0, &calls)).Nonce)
	require.Equal(t, int32(2), calls.Load())
}

func TestCoordinator_InvalidateNeverReissuesOutstandingNonces(t *testing.T) {
	coordinator := NewCoordinator()
	var calls atomic.Int32
	address := ledger.Address{1}
	source := fixedSource(5, &calls)

	a := reserve(t, coordinator, address, source)
	b := reserve(t, coordinator, address, source)
	require.Equal(t, uint64(6), b.Nonce)

	// The chain does not see any of the outstanding transactions yet.
	a.Commit()
	coordinator.Invalidate(address)
	c := reserve(t, coordinator, address, source)
	d := reserve(t, coordinator, address, source)

	require.Equal(t, uint64(5), c.Nonce, "lost nonce should be filled")
	require.Equal(t, uint64(7), d.Nonce)
}

func TestCoordinator_InvalidateDropsFreeNoncesConsumedByChain(t *testing.T) {
	coordinator := NewCoordinator()
	var calls atomic.Int32
	address := ledger.Address{1}
	source := fixedSource(0, &calls)

	a := reserve(t, coordinator, address, source)
	b := reserve(t, coordinator, address, source)
	reserve(t, coordinator, address, source)
	a.Release()
	b.Commit()

	coordinator.Invalidate(address)
	next := reserve(t, coordinator, address, fixedSource(2, &calls))
	require.Equal(t, uint64(3), next.Nonce)
}

func TestCoordinator_ConcurrentReleasesNeverIssueDuplicates(t *testing.T) {
	const N = 100
	coordinator := NewCoordinator()
	address := ledger.Address{1}
	var calls atomic.Int32
	source := fixedSource(0, &calls)

	var mutex sync.Mutex
	used := map[uint64]int{}
	var wg sync.WaitGroup
	wg.Add(N)
	for i := 0; i < N; i++ {
		go func(i int) {
			defer wg.Done()
			for {
				reservation, err := coordinator.Reserve(context.Background(), address, source)
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if (i+int(reservation.Nonce))%3 == 0 {
					reservation.Release()
					i++
					continue
				}
				mutex.Lock()
				used[reservation.Nonce]++
				mutex.Unlock()
				reservation.Commit()
				return
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, used, N)
	for nonce, count := range used {
		require.Equal(t, 1, count, "nonce %d used %d times", nonce, count)
	}
	for nonce := uint64(0); nonce < N; nonce++ {
		require.Contains(t, used, nonce)
	}
}

func TestCoordinator_FailedInitializationIsRetried(t *testing.T) {
	coordinator := NewCoordinator()
	address := ledger.Address{1}
	injected := errors.New("injected")
	_, err := coordinator.Reserve(context.Background(), address, func(context.Context) (uint64, error) {
		return 0, injected
	})
	require.ErrorIs(t, err, injected)

	var calls atomic.Int32
	next, err := coordinator.Reserve(context.Background(), address, fixedSource(4, &calls))
	require.NoError(t, err)
	require.Equal(t, uint64(4), next.Nonce)
}
