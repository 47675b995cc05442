// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

// BlobSchedule describes the blob gas market of a chain.
type BlobSchedule struct {
	Target         uint64 // blobs per block the fee is adjusted towards
	Max            uint64 // blobs per block
	UpdateFraction uint64 // controls the maximum rate of change of the blob fee
}

// CancunBlobSchedule is the blob schedule introduced on mainnet by Cancun.
var CancunBlobSchedule = BlobSchedule{
	Target:         params.BlobTxTargetBlobGasPerBlock / params.BlobTxBlobGasPerBlob,
	Max:            params.MaxBlobGasPerBlock / params.BlobTxBlobGasPerBlob,
	UpdateFraction: params.BlobTxBlobGaspriceUpdateFraction,
}

// Chain is a preset of the network parameters tests are executed with.
type Chain struct {
	Name    string
	ChainID uint64
	// GasLimit is the block gas limit of environments not given by a test.
	GasLimit Gas
	// Blobs replaces the blob schedule of the executed fork if set.
	Blobs *BlobSchedule
	// Alloc lists accounts present on the chain in addition to the
	// pre-state of a test.
	Alloc WorldState
	// RPCURL is a public endpoint of the chain, if any.
	RPCURL string
}

// Names of the known chain presets.
const (
	ChainMainnet = "mainnet"
	ChainGnosis  = "gnosis"
)

// Gnosis chain parameters.
const (
	GnosisChainID        = 100
	GnosisGasLimit       = Gas(17_000_000)
	GnosisRPCURL         = "https://rpc.gnosis.gateway.fm"
	gnosisTargetBlobs    = 1
	gnosisMaxBlobs       = 2
	gnosisUpdateFraction = 2504285
)

// Mainnet returns the preset state tests are filled with.
func Mainnet() Chain {
	return Chain{
		Name:     ChainMainnet,
		ChainID:  1,
		GasLimit: DefaultEnvironment().GasLimit,
	}
}

// Gnosis returns the preset of the Gnosis chain. It executes the Cancun
// rules with a smaller blob market, a lower block gas limit and a set of
// pre-allocated system accounts.
func Gnosis() Chain {
	return Chain{
		Name:     ChainGnosis,
		ChainID:  GnosisChainID,
		GasLimit: GnosisGasLimit,
		Blobs: &BlobSchedule{
			Target:         gnosisTargetBlobs,
			Max:            gnosisMaxBlobs,
			UpdateFraction: gnosisUpdateFraction,
		},
		Alloc:  gnosisAlloc(),
		RPCURL: GnosisRPCURL,
	}
}

func gnosisAlloc() WorldState {
	return WorldState{
		// BLS12-381 precompile test contract
		Address(common.HexToAddress("0x0000000000000000000000000000000000001000")): {
			Nonce: 1,
			Code:  Code(common.FromHex("0x366000600037600060003660006000600b610177f16000553d6001553d600060003e3d600020600255")),
		},
		Address(common.HexToAddress("0xa94f5374fce5edbc8e2a8697c15331677e6ebf0b")): {
			Balance: NewValue(1_000_000_000_000_000_000),
		},
		Address(common.HexToAddress("0x0000000000000000000000000000000000000000")): {
			Balance: NewValue(3),
			Nonce:   2,
		},
		Address(common.HexToAddress("0x1234567890123456789012345678901234567890")): {
			Balance: NewValue(6_250_000_000_000_000_000),
		},
	}
}

// ParseChain resolves the name of a chain preset, case-insensitively.
func ParseChain(name string) (Chain, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ChainMainnet:
		return Mainnet(), nil
	case ChainGnosis:
		return Gnosis(), nil
	}
	return Chain{}, fmt.Errorf("unknown chain %q", name)
}

// Environment returns the default block environment on this chain.
func (c Chain) Environment() Environment {
	res := DefaultEnvironment()
	if c.GasLimit > 0 {
		res.GasLimit = c.GasLimit
	}
	return res
}

// BlobScheduleFor returns the blob schedule in effect for the given fork,
// nil if the fork has no blobs.
func (c Chain) BlobScheduleFor(fork Revision) *BlobSchedule {
	if fork < R12_Cancun {
		return nil
	}
	if c.Blobs != nil {
		res := *c.Blobs
		return &res
	}
	res := CancunBlobSchedule
	return &res
}
