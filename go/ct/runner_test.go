// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ct

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Fantom-foundation/Verdict/go/ct/report"
	"github.com/Fantom-foundation/Verdict/go/ct/rlz"
	"github.com/Fantom-foundation/Verdict/go/ct/spc"
	"github.com/Fantom-foundation/Verdict/go/ledger"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
)

var target = ledger.Address{0x10}

// newSpec creates a specification with the given number of data variants
// expecting the storage slot 0 of the target to hold 1 from Cancun on.
func newSpec(name string, numData int, expectations ...spc.Expectation) *spc.Specification {
	data := make([]spc.DataVariant, numData)
	if len(expectations) == 0 {
		expectations = []spc.Expectation{{
			Network: rlz.AnyOf(rlz.AtOrAfter(ledger.R12_Cancun)),
			Result: spc.ExpectedState{
				target: {Storage: &spc.ExpectedStorage{Slots: map[ledger.Key]spc.Expect[ledger.Word]{
					ledger.NewKey(0): spc.Is(ledger.NewWord(1)),
				}}},
			},
		}}
	}
	return &spc.Specification{
		Name: name,
		Pre:  ledger.WorldState{},
		Transaction: spc.TransactionTemplate{
			Sender:   ledger.Address{1},
			To:       &target,
			Data:     data,
			GasLimit: []spc.Variant[spc.Quantity]{{Value: 100000}},
			Value:    []spc.Variant[ledger.Value]{{}},
		},
		Expect: expectations,
	}
}

func matchingResult() *Result {
	return &Result{PostState: ledger.WorldState{
		target: {Nonce: 1, Storage: ledger.Storage{ledger.NewKey(0): ledger.NewWord(1)}},
	}}
}

func TestRun_RecordsPassSkipAndFail(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)

	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, request Request) (*Result, error) {
			if request.Instance.Indexes[spc.AxisData] == 0 {
				return matchingResult(), nil
			}
			return &Result{PostState: ledger.WorldState{target: {Nonce: 1}}}, nil
		},
	).Times(2 * 2)

	collector := report.NewCollector()
	config := RunConfig{
		Forks: []ledger.Revision{ledger.R11_Shanghai, ledger.R12_Cancun, ledger.R13_Prague},
		Jobs:  3,
	}
	if err := Run(context.Background(), []*spc.Specification{newSpec("spec", 2)}, backend, config, collector); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary := collector.Summary()
	if want, got := 2, summary.Overall.Get(report.Pass); want != got {
		t.Errorf("unexpected number of passes, wanted %d, got %d", want, got)
	}
	if want, got := 2, summary.Overall.Get(report.Fail); want != got {
		t.Errorf("unexpected number of failures, wanted %d, got %d", want, got)
	}
	if want, got := 2, summary.PerFork[ledger.R11_Shanghai].Get(report.Skip); want != got {
		t.Errorf("unexpected number of skips, wanted %d, got %d", want, got)
	}
	for _, entry := range collector.Entries() {
		if entry.Outcome == report.Fail && len(entry.Mismatches) != 1 {
			t.Errorf("failing entry should list the mismatch: %+v", entry)
		}
	}
}

func TestRun_ExpectedRejections(t *testing.T) {
	tests := map[string]struct {
		expectException string
		err             error
		outcome         report.Outcome
	}{
		"expected and rejected": {"TR_IntrinsicGas", fmt.Errorf("%w: intrinsic gas too low", ErrTransitionRejected), report.Pass},
		"expected but accepted": {"TR_IntrinsicGas", nil, report.Fail},
		"unexpected rejection":  {"", fmt.Errorf("%w: nonce too low", ErrSubmissionRejected), report.Fail},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			backend := NewMockBackend(ctrl)
			backend.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(&Result{}, test.err)

			spec := newSpec("spec", 1, spc.Expectation{
				Network:         rlz.AnyOf(rlz.AtOrAfter(ledger.R00_Frontier)),
				Result:          spc.ExpectedState{},
				ExpectException: test.expectException,
			})
			collector := report.NewCollector()
			config := RunConfig{Forks: []ledger.Revision{ledger.R12_Cancun}, Jobs: 1}
			if err := Run(context.Background(), []*spc.Specification{spec}, backend, config, collector); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			entries := collector.Entries()
			if want, got := test.outcome, entries[0].Outcome; want != got {
				t.Errorf("unexpected outcome, wanted %v, got %v (%s)", want, got, entries[0].Reason)
			}
		})
	}
}

func TestRun_BackendUnavailableAbortsRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("%w: tool missing", ErrBackendUnavailable))

	collector := report.NewCollector()
	config := RunConfig{Forks: []ledger.Revision{ledger.R12_Cancun}, Jobs: 1}
	err := Run(context.Background(), []*spc.Specification{newSpec("spec", 20)}, backend, config, collector)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable error, got %v", err)
	}
	summary := collector.Summary()
	if want, got := 1, summary.Overall.Get(report.Error); want != got {
		t.Errorf("unexpected number of errors, wanted %d, got %d", want, got)
	}
	if want, got := 19, summary.Overall.Get(report.NotRun); want != got {
		t.Errorf("unexpected number of not-run entries, wanted %d, got %d", want, got)
	}
	if want, got := 1, collector.ExitCode(); want != got {
		t.Errorf("unexpected exit code, wanted %d, got %d", want, got)
	}
}

func TestRun_CanceledContextMarksRemainingUnitsAsNotRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var executed atomic.Int32
	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, Request) (*Result, error) {
			if executed.Add(1) == 3 {
				cancel()
			}
			return matchingResult(), nil
		},
	).MinTimes(3)

	collector := report.NewCollector()
	config := RunConfig{Forks: []ledger.Revision{ledger.R12_Cancun}, Jobs: 1}
	if err := Run(ctx, []*spc.Specification{newSpec("spec", 10)}, backend, config, collector); err != nil {
		t.Fatalf("deadline should not be reported as error, got %v", err)
	}
	summary := collector.Summary()
	if want, got := 10, summary.Overall.Total(); want != got {
		t.Errorf("every unit should be recorded, wanted %d, got %d", want, got)
	}
	if summary.Overall.Get(report.NotRun) == 0 {
		t.Errorf("expected not-run entries after cancellation")
	}
	if summary.Overall.Get(report.Fail) != 0 {
		t.Errorf("not-run units must not be recorded as failures")
	}
}

func TestRun_InstanceTimeoutIsErrorNotFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)

	const numSiblings = 2
	var finished atomic.Int32
	siblingsDone := make(chan struct{})
	var siblingsFinishedFirst atomic.Bool
	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, request Request) (*Result, error) {
			if request.Instance.Spec != "stuck" {
				if finished.Add(1) == numSiblings {
					close(siblingsDone)
				}
				return matchingResult(), nil
			}
			<-ctx.Done()
			select {
			case <-siblingsDone:
				siblingsFinishedFirst.Store(true)
			default:
			}
			return nil, fmt.Errorf("%w: %v", ErrInclusionTimeout, ctx.Err())
		},
	).Times(1 + numSiblings)

	collector := report.NewCollector()
	config := RunConfig{Forks: []ledger.Revision{ledger.R12_Cancun}, Jobs: 2, InstanceTimeout: 200 * time.Millisecond}
	specs := []*spc.Specification{newSpec("stuck", 1), newSpec("sibling", numSiblings)}
	if err := Run(context.Background(), specs, backend, config, collector); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := collector.Entries()
	if want, got := 1+numSiblings, len(entries); want != got {
		t.Fatalf("unexpected number of entries, wanted %d, got %d", want, got)
	}
	for _, entry := range entries {
		want := report.Pass
		if entry.Spec == "stuck" {
			want = report.Error
		}
		if got := entry.Outcome; want != got {
			t.Errorf("%v: unexpected outcome, wanted %v, got %v", entry.Instance, want, got)
		}
	}
	if !siblingsFinishedFirst.Load() {
		t.Errorf("sibling instances were blocked by the timed out instance")
	}
}

func TestRun_UnsupportedForksAreSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("%w: Osaka", ErrUnsupportedFork))

	collector := report.NewCollector()
	config := RunConfig{Forks: []ledger.Revision{ledger.R14_Osaka}, Jobs: 1}
	if err := Run(context.Background(), []*spc.Specification{newSpec("spec", 1)}, backend, config, collector); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries := collector.Entries()
	if want, got := report.Skip, entries[0].Outcome; want != got {
		t.Errorf("unexpected outcome, wanted %v, got %v", want, got)
	}
	if want, got := 0, collector.ExitCode(); want != got {
		t.Errorf("unexpected exit code, wanted %d, got %d", want, got)
	}
}

func TestRun_SpecificationErrorsAbortBeforeExecution(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl) // no calls expected

	conflicting := newSpec("conflict", 1,
		spc.Expectation{Network: rlz.AnyOf(rlz.AtOrAfter(ledger.R08_Berlin)), Result: spc.ExpectedState{}},
		spc.Expectation{Network: rlz.AnyOf(rlz.Exactly(ledger.R12_Cancun)), Result: spc.ExpectedState{}},
	)
	unknownLabel := newSpec("label", 1, spc.Expectation{
		Indexes: spc.Selection{Data: spc.IndexSelector{spc.Label("missing")}},
		Network: rlz.AnyOf(rlz.AtOrAfter(ledger.R08_Berlin)),
	})
	for _, spec := range []*spc.Specification{conflicting, unknownLabel} {
		collector := report.NewCollector()
		config := RunConfig{Forks: []ledger.Revision{ledger.R12_Cancun}}
		err := Run(context.Background(), []*spc.Specification{newSpec("valid", 2), spec}, backend, config, collector)
		var specErr *spc.SpecificationError
		if !errors.As(err, &specErr) {
			t.Errorf("expected specification error for %v, got %v", spec.Name, err)
		}
		if want, got := 0, collector.NumEntries(); want != got {
			t.Errorf("nothing should be recorded, got %d entries", got)
		}
	}
}

func TestRun_FilterAndShuffleStillCoverAllUnits(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(matchingResult(), nil).Times(8)

	var progressCalls atomic.Int32
	collector := report.NewCollector()
	config := RunConfig{
		Forks:          []ledger.Revision{ledger.R12_Cancun, ledger.R13_Prague},
		Jobs:           4,
		Filter:         regexp.MustCompile("^keep"),
		Shuffle:        true,
		Seed:           42,
		ProgressPeriod: time.Millisecond,
		PrintProgress: func(time.Duration, float64, int64) {
			progressCalls.Add(1)
		},
	}
	specs := []*spc.Specification{newSpec("keep", 4), newSpec("drop", 4)}
	if err := Run(context.Background(), specs, backend, config, collector); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want, got := 8, collector.Summary().Overall.Get(report.Pass); want != got {
		t.Errorf("unexpected number of passes, wanted %d, got %d", want, got)
	}
	if progressCalls.Load() == 0 {
		t.Errorf("progress should be printed at least once")
	}
}

func TestRun_ResultSenderRekeysExpectations(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	derived := ledger.Address{0xde}
	backend.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(&Result{
		Sender:    derived,
		PostState: ledger.WorldState{derived: {Nonce: 1}},
	}, nil)

	spec := newSpec("spec", 1, spc.Expectation{
		Network: rlz.AnyOf(rlz.AtOrAfter(ledger.R00_Frontier)),
		Result:  spc.ExpectedState{{1}: {Nonce: spc.Is(spc.Quantity(1))}},
	})
	collector := report.NewCollector()
	config := RunConfig{Forks: []ledger.Revision{ledger.R12_Cancun}}
	if err := Run(context.Background(), []*spc.Specification{spec}, backend, config, collector); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries := collector.Entries()
	if want, got := report.Pass, entries[0].Outcome; want != got {
		t.Errorf("unexpected outcome, wanted %v, got %v: %v", want, got, entries[0].Mismatches)
	}
}
