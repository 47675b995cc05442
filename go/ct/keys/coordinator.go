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
	"sync"

	"github.com/Fantom-foundation/Verdict/go/ledger"
	"golang.org/x/exp/slices"
)

// NonceSource fetches the current nonce of an account from the chain.
type NonceSource func(ctx context.Context) (uint64, error)

// Coordinator hands out nonces for accounts shared by concurrently running
// test instances. Each account has its own slot guarded by its own lock;
// the slot table lock is only held for lookups and inserts.
type Coordinator struct {
	mutex sync.Mutex
	slots map[ledger.Address]*slot
}

// slot tracks the nonces of a single account. Nonces below next are either
// outstanding, free for reissue, or resolved.
type slot struct {
	mutex       sync.Mutex
	initialized bool
	stale       bool
	next        uint64
	free        []uint64 // sorted
	outstanding map[uint64]struct{}
}

// NewCoordinator creates a coordinator without any slots.
func NewCoordinator() *Coordinator {
	return &Coordinator{slots: map[ledger.Address]*slot{}}
}

func (c *Coordinator) getSlot(address ledger.Address) *slot {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	res, found := c.slots[address]
	if !found {
		res = &slot{outstanding: map[uint64]struct{}{}}
		c.slots[address] = res
	}
	return res
}

// Reservation is a nonce issued for a single transaction. It is outstanding
// until it is either committed or released.
type Reservation struct {
	Address ledger.Address
	Nonce   uint64
	slot    *slot
}

// Reserve issues a nonce of the given account. Released nonces are reissued
// lowest first before new ones are drawn. The first reservation of an
// account initializes the slot from the given source; after Invalidate the
// slot is reconciled with the source instead. Concurrent reservations for
// the same account never obtain the same nonce.
func (c *Coordinator) Reserve(ctx context.Context, address ledger.Address, source NonceSource) (*Reservation, error) {
	s := c.getSlot(address)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.initialized || s.stale {
		nonce, err := source(ctx)
		if err != nil {
			return nil, err
		}
		if s.initialized {
			s.reconcile(nonce)
		} else {
			s.next = nonce
			s.initialized = true
		}
		s.stale = false
	}
	var nonce uint64
	if len(s.free) > 0 {
		nonce = s.free[0]
		s.free = s.free[1:]
	} else {
		nonce = s.next
		s.next++
	}
	s.outstanding[nonce] = struct{}{}
	return &Reservation{Address: address, Nonce: nonce, slot: s}, nil
}

// reconcile aligns the slot with the nonce the chain expects next. Free
// nonces the chain has already consumed are dropped. Nonces in between
// that are neither outstanding nor free were lost and become free again.
// Outstanding nonces are never reissued.
func (s *slot) reconcile(chain uint64) {
	free := s.free[:0]
	for _, nonce := range s.free {
		if nonce >= chain {
			free = append(free, nonce)
		}
	}
	s.free = free
	if chain >= s.next {
		s.next = chain
		return
	}
	for nonce := chain; nonce < s.next; nonce++ {
		if _, found := s.outstanding[nonce]; found {
			continue
		}
		if _, found := slices.BinarySearch(s.free, nonce); !found {
			s.free = append(s.free, nonce)
		}
	}
	slices.Sort(s.free)
	s.shrink()
}

// shrink lowers next while the highest free nonce is directly below it.
func (s *slot) shrink() {
	for len(s.free) > 0 && s.free[len(s.free)-1]+1 == s.next {
		s.free = s.free[:len(s.free)-1]
		s.next--
	}
}

// Commit marks the nonce as used by a transaction accepted by the chain.
func (r *Reservation) Commit() {
	r.slot.mutex.Lock()
	defer r.slot.mutex.Unlock()
	delete(r.slot.outstanding, r.Nonce)
}

// Release returns an unused nonce to its slot. It is reissued by the next
// reservation, before any nonce above it.
func (r *Reservation) Release() {
	s := r.slot
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, found := s.outstanding[r.Nonce]; !found {
		return
	}
	delete(s.outstanding, r.Nonce)
	pos, found := slices.BinarySearch(s.free, r.Nonce)
	if !found {
		s.free = slices.Insert(s.free, pos, r.Nonce)
	}
	s.shrink()
}

// Invalidate marks the slot of an account for reconciliation with the chain
// on the next reservation, for instance after a nonce drift or a submission
// with unknown outcome.
func (c *Coordinator) Invalidate(address ledger.Address) {
	s := c.getSlot(address)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stale = true
}
