// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package keys provides the deterministic derivation of signing keys for
// test instances and the coordination of nonces of accounts shared by
// concurrently executed instances.
package keys

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	"github.com/Fantom-foundation/Verdict/go/ledger"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// maxDerivationAttempts bounds the search for a valid scalar. The chance of
// a hash not being a valid secp256k1 scalar is about 2^-128.
const maxDerivationAttempts = 16

// DeriveKey derives the signing key of the test instance with the given
// ordinal from a run seed. The derivation is pure: the same seed and
// ordinal always produce the same key, different ordinals produce
// different keys.
func DeriveKey(seed ledger.Hash, ordinal uint64) (*ecdsa.PrivateKey, error) {
	var buffer [32 + 8 + 4]byte
	copy(buffer[:32], seed[:])
	binary.BigEndian.PutUint64(buffer[32:40], ordinal)
	for counter := uint32(0); counter < maxDerivationAttempts; counter++ {
		binary.BigEndian.PutUint32(buffer[40:], counter)
		hasher := sha3.NewLegacyKeccak256()
		hasher.Write(buffer[:])
		digest := hasher.Sum(nil)

		var scalar secp256k1.ModNScalar
		if overflow := scalar.SetByteSlice(digest); overflow || scalar.IsZero() {
			continue
		}
		raw := scalar.Bytes()
		return crypto.ToECDSA(raw[:])
	}
	return nil, fmt.Errorf("failed to derive key for ordinal %d", ordinal)
}

// KeyFromSecret converts a secret key given in a specification.
func KeyFromSecret(secret ledger.Hash) (*ecdsa.PrivateKey, error) {
	return crypto.ToECDSA(secret[:])
}

// AddressOf returns the account address controlled by the given key.
func AddressOf(key *ecdsa.PrivateKey) ledger.Address {
	return ledger.Address(crypto.PubkeyToAddress(key.PublicKey))
}
