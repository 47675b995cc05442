// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"fmt"

	"github.com/Fantom-foundation/Verdict/go/ct"
	"github.com/Fantom-foundation/Verdict/go/ct/backend/local"
	"github.com/Fantom-foundation/Verdict/go/ct/backend/remote"
	cliUtils "github.com/Fantom-foundation/Verdict/go/ct/driver/cli"
	"github.com/Fantom-foundation/Verdict/go/ledger"
	"github.com/urfave/cli/v2"
)

var backendFlags = []cli.Flag{
	cliUtils.BackendFlag,
	cliUtils.ChainIDFlag,
	cliUtils.GnosisFlag,
	cliUtils.GnosisGasLimitFlag,
	cliUtils.T8nBinaryFlag,
	cliUtils.T8nModeFlag,
	cliUtils.T8nSubcommandFlag,
	cliUtils.T8nServerFlag,
	cliUtils.T8nDebugDirFlag,
	cliUtils.RPCURLFlag,
	cliUtils.RPCRateFlag,
	cliUtils.KeySeedFlag,
	cliUtils.FundingKeyFlag,
}

// newBackend creates the backend selected by the command line for the
// given chain. The returned function releases its resources.
func newBackend(context *cli.Context, chain ledger.Chain) (ct.Backend, func(), error) {
	kind, err := cliUtils.BackendFlag.Fetch(context)
	if err != nil {
		return nil, nil, err
	}

	localConfig := local.DefaultConfig()
	localConfig.ChainID = chain.ChainID
	localConfig.Chain = &chain

	switch kind {
	case cliUtils.BackendGeth:
		return local.NewBackend(local.NewGethTransition(), localConfig), func() {}, nil

	case cliUtils.BackendT8n:
		mode, err := cliUtils.T8nModeFlag.Fetch(context)
		if err != nil {
			return nil, nil, err
		}
		options := []local.ToolOption{
			local.WithSubcommand(cliUtils.T8nSubcommandFlag.Fetch(context)...),
		}
		if dir := cliUtils.T8nDebugDirFlag.Fetch(context); dir != "" {
			options = append(options, local.WithDebugDir(dir))
		}
		transition, err := local.NewToolTransition(cliUtils.T8nBinaryFlag.Fetch(context), mode, options...)
		if err != nil {
			return nil, nil, err
		}
		return local.NewBackend(transition, localConfig), func() {}, nil

	case cliUtils.BackendT8nServer:
		transition := local.NewServerTransition(cliUtils.T8nServerFlag.Fetch(context))
		return local.NewBackend(transition, localConfig), func() {}, nil

	case cliUtils.BackendRemote:
		fundingKey, err := cliUtils.FundingKeyFlag.Fetch(context)
		if err != nil {
			return nil, nil, err
		}
		// Nodes of any chain are accepted unless a chain is requested.
		var chainID uint64
		if cliUtils.GnosisFlag.Fetch(context) || context.IsSet(cliUtils.ChainIDFlag.Name) {
			chainID = chain.ChainID
		}
		config := remote.Config{
			ChainID:           chainID,
			Seed:              cliUtils.KeySeedFlag.Fetch(context),
			FundingKey:        fundingKey,
			RequestsPerSecond: cliUtils.RPCRateFlag.Fetch(context),
		}
		backend, err := remote.Dial(context.Context, cliUtils.RPCURLFlag.Fetch(context, chain), config)
		if err != nil {
			return nil, nil, err
		}
		return backend, backend.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported backend %q", kind)
}
