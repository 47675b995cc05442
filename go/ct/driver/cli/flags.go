// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package cliUtils

import (
	"crypto/ecdsa"
	"fmt"
	"math"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/Fantom-foundation/Verdict/go/ct/backend/local"
	"github.com/Fantom-foundation/Verdict/go/ct/rlz"
	"github.com/Fantom-foundation/Verdict/go/ledger"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"
)

type filterFlagType struct {
	cli.StringFlag
}

var FilterFlag = &filterFlagType{
	cli.StringFlag{
		Name:    "filter",
		Aliases: []string{"f"},
		Usage:   "execute only specifications which name matches the given regex",
		Value:   "",
	},
}

func (f *filterFlagType) Fetch(context *cli.Context) (*regexp.Regexp, error) {
	return regexp.Compile(context.String(f.Name))
}

type forksFlagType struct {
	cli.StringFlag
}

var ForksFlag = &forksFlagType{
	cli.StringFlag{
		Name:  "forks",
		Usage: "forks to test, a comma separated list of fork names or ranges like '>=Berlin<Prague'",
		Value: "Cancun",
	},
}

func (f *forksFlagType) Fetch(context *cli.Context) ([]ledger.Revision, error) {
	set, err := rlz.ParseForkSet(context.String(f.Name))
	if err != nil {
		return nil, err
	}
	return set.Forks(), nil
}

type jobsFlagType struct {
	cli.IntFlag
}

var JobsFlag = &jobsFlagType{
	cli.IntFlag{
		Name:    "jobs",
		Aliases: []string{"j"},
		Usage:   "number of jobs run simultaneously",
		Value:   runtime.NumCPU(),
	},
}

func (f *jobsFlagType) Fetch(context *cli.Context) int {
	return context.Int(f.Name)
}

type seedFlagType struct {
	cli.Uint64Flag
}

var SeedFlag = &seedFlagType{
	cli.Uint64Flag{
		Name:    "seed",
		Aliases: []string{"s"},
		Usage:   "seed for the random number generator shuffling the tests",
	},
}

func (f *seedFlagType) Fetch(context *cli.Context) uint64 {
	return context.Uint64(f.Name)
}

type shuffleFlagType struct {
	cli.BoolFlag
}

var ShuffleFlag = &shuffleFlagType{
	cli.BoolFlag{
		Name:  "shuffle",
		Usage: "execute the tests in a random order derived from the seed",
	},
}

func (f *shuffleFlagType) Fetch(context *cli.Context) bool {
	return context.Bool(f.Name)
}

type cpuProfileType struct {
	cli.StringFlag
}

var CpuProfileFlag = &cpuProfileType{
	cli.StringFlag{
		Name:      "cpuprofile",
		Usage:     "store CPU profile in the provided filename",
		TakesFile: true,
	},
}

func (f *cpuProfileType) Fetch(context *cli.Context) string {
	return context.String(f.Name)
}

type durationFlagType struct {
	cli.DurationFlag
}

var TimeoutFlag = &durationFlagType{
	cli.DurationFlag{
		Name:  "timeout",
		Usage: "deadline of the whole run, remaining tests are reported as not run; 0 disables it",
	},
}

var InstanceTimeoutFlag = &durationFlagType{
	cli.DurationFlag{
		Name:  "instance-timeout",
		Usage: "deadline of a single test execution; 0 disables it",
	},
}

func (f *durationFlagType) Fetch(context *cli.Context) time.Duration {
	return context.Duration(f.Name)
}

type reportFlagType struct {
	cli.StringFlag
}

var ReportFlag = &reportFlagType{
	cli.StringFlag{
		Name:      "report",
		Aliases:   []string{"o"},
		Usage:     "write the JSON report to the provided filename",
		TakesFile: true,
	},
}

func (f *reportFlagType) Fetch(context *cli.Context) string {
	return context.String(f.Name)
}

type verboseFlagType struct {
	cli.BoolFlag
}

var VerboseFlag = &verboseFlagType{
	cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "list passed and skipped tests in the report",
	},
}

func (f *verboseFlagType) Fetch(context *cli.Context) bool {
	return context.Bool(f.Name)
}

// Backend kinds selectable by the backend flag.
const (
	BackendGeth      = "geth"
	BackendT8n       = "t8n"
	BackendT8nServer = "t8n-server"
	BackendRemote    = "remote"
)

var backendKinds = []string{BackendGeth, BackendT8n, BackendT8nServer, BackendRemote}

type backendFlagType struct {
	cli.StringFlag
}

var BackendFlag = &backendFlagType{
	cli.StringFlag{
		Name:    "backend",
		Aliases: []string{"b"},
		Usage:   "execution backend, one of " + strings.Join(backendKinds, ", "),
		Value:   BackendGeth,
	},
}

func (f *backendFlagType) Fetch(context *cli.Context) (string, error) {
	kind := strings.ToLower(context.String(f.Name))
	for _, cur := range backendKinds {
		if cur == kind {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown backend %q, use one of %v", kind, backendKinds)
}

type t8nBinaryFlagType struct {
	cli.StringFlag
}

var T8nBinaryFlag = &t8nBinaryFlagType{
	cli.StringFlag{
		Name:  "t8n.binary",
		Usage: "state transition tool executed by the t8n backend",
		Value: "evm",
	},
}

func (f *t8nBinaryFlagType) Fetch(context *cli.Context) string {
	return context.String(f.Name)
}

type t8nModeFlagType struct {
	cli.StringFlag
}

var T8nModeFlag = &t8nModeFlagType{
	cli.StringFlag{
		Name:  "t8n.mode",
		Usage: "how documents are exchanged with the transition tool, 'files' or 'stream'",
		Value: local.ToolModeFiles.String(),
	},
}

func (f *t8nModeFlagType) Fetch(context *cli.Context) (local.ToolMode, error) {
	return local.ParseToolMode(context.String(f.Name))
}

type t8nSubcommandFlagType struct {
	cli.StringSliceFlag
}

var T8nSubcommandFlag = &t8nSubcommandFlagType{
	cli.StringSliceFlag{
		Name:  "t8n.subcommand",
		Usage: "arguments preceding the transition options, may be repeated",
		Value: cli.NewStringSlice("t8n"),
	},
}

func (f *t8nSubcommandFlagType) Fetch(context *cli.Context) []string {
	return context.StringSlice(f.Name)
}

type t8nServerFlagType struct {
	cli.StringFlag
}

var T8nServerFlag = &t8nServerFlagType{
	cli.StringFlag{
		Name:  "t8n.server",
		Usage: "URL of the transition server used by the t8n-server backend",
		Value: "http://localhost:8545",
	},
}

func (f *t8nServerFlagType) Fetch(context *cli.Context) string {
	return context.String(f.Name)
}

type t8nDebugDirFlagType struct {
	cli.StringFlag
}

var T8nDebugDirFlag = &t8nDebugDirFlagType{
	cli.StringFlag{
		Name:      "t8n.debug-dir",
		Usage:     "dump inputs, outputs and a replay script of every transition into the provided directory",
		TakesFile: true,
	},
}

func (f *t8nDebugDirFlagType) Fetch(context *cli.Context) string {
	return context.String(f.Name)
}

type rpcURLFlagType struct {
	cli.StringFlag
}

var RPCURLFlag = &rpcURLFlagType{
	cli.StringFlag{
		Name:  "rpc.url",
		Usage: "JSON-RPC endpoint of the node used by the remote backend",
		Value: "http://localhost:8545",
	},
}

// Fetch returns the configured endpoint. Without an explicit endpoint the
// public endpoint of the chain preset is used, if it has one.
func (f *rpcURLFlagType) Fetch(context *cli.Context, chain ledger.Chain) string {
	if !context.IsSet(f.Name) && chain.RPCURL != "" {
		return chain.RPCURL
	}
	return context.String(f.Name)
}

type rpcRateFlagType struct {
	cli.Float64Flag
}

var RPCRateFlag = &rpcRateFlagType{
	cli.Float64Flag{
		Name:  "rpc.rps",
		Usage: "maximum number of transactions submitted per second, 0 is unlimited",
	},
}

func (f *rpcRateFlagType) Fetch(context *cli.Context) float64 {
	return context.Float64(f.Name)
}

type chainIDFlagType struct {
	cli.Uint64Flag
}

var ChainIDFlag = &chainIDFlagType{
	cli.Uint64Flag{
		Name:  "chain-id",
		Usage: "chain id of the executed transactions, overrides the chain preset",
	},
}

func (f *chainIDFlagType) Fetch(context *cli.Context) uint64 {
	return context.Uint64(f.Name)
}

type gnosisFlagType struct {
	cli.BoolFlag
}

var GnosisFlag = &gnosisFlagType{
	cli.BoolFlag{
		Name:  "gnosis",
		Usage: "run tests with the Gnosis chain preset",
	},
}

func (f *gnosisFlagType) Fetch(context *cli.Context) bool {
	return context.Bool(f.Name)
}

type gnosisGasLimitFlagType struct {
	cli.Uint64Flag
}

var GnosisGasLimitFlag = &gnosisGasLimitFlagType{
	cli.Uint64Flag{
		Name:  "gnosis-gas-limit",
		Usage: "block gas limit of the Gnosis chain preset",
		Value: uint64(ledger.GnosisGasLimit),
	},
}

func (f *gnosisGasLimitFlagType) Fetch(context *cli.Context) (ledger.Gas, error) {
	limit := context.Uint64(f.Name)
	if limit == 0 || limit > math.MaxInt64 {
		return 0, fmt.Errorf("invalid gas limit %d", limit)
	}
	return ledger.Gas(limit), nil
}

// FetchChain returns the chain preset selected by the chain flags. An
// explicit chain id overrides the one of the preset.
func FetchChain(context *cli.Context) (ledger.Chain, error) {
	chain := ledger.Mainnet()
	if GnosisFlag.Fetch(context) {
		limit, err := GnosisGasLimitFlag.Fetch(context)
		if err != nil {
			return ledger.Chain{}, err
		}
		chain = ledger.Gnosis()
		chain.GasLimit = limit
	} else if context.IsSet(GnosisGasLimitFlag.Name) {
		return ledger.Chain{}, fmt.Errorf("--%s requires --%s", GnosisGasLimitFlag.Name, GnosisFlag.Name)
	}
	if context.IsSet(ChainIDFlag.Name) {
		chain.ChainID = ChainIDFlag.Fetch(context)
	}
	return chain, nil
}

type keySeedFlagType struct {
	cli.StringFlag
}

var KeySeedFlag = &keySeedFlagType{
	cli.StringFlag{
		Name:  "key-seed",
		Usage: "seed of the sender keys derived by the remote backend, a 32 byte hex value or any text",
		Value: "verdict",
	},
}

// Fetch returns the seed given as a hex hash, or the hash of the given text.
func (f *keySeedFlagType) Fetch(context *cli.Context) ledger.Hash {
	text := context.String(f.Name)
	var res ledger.Hash
	if err := res.UnmarshalText([]byte(text)); err == nil {
		return res
	}
	return ledger.Hash(crypto.Keccak256Hash([]byte(text)))
}

type fundingKeyFlagType struct {
	cli.StringFlag
}

var FundingKeyFlag = &fundingKeyFlagType{
	cli.StringFlag{
		Name:  "funding-key",
		Usage: "hex encoded private key of the account funding derived senders",
	},
}

func (f *fundingKeyFlagType) Fetch(context *cli.Context) (*ecdsa.PrivateKey, error) {
	text := strings.TrimPrefix(context.String(f.Name), "0x")
	if text == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(text)
	if err != nil {
		return nil, fmt.Errorf("invalid funding key: %w", err)
	}
	return key, nil
}
