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
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Fantom-foundation/Verdict/go/ct/report"
	"github.com/Fantom-foundation/Verdict/go/ct/spc"
	"github.com/Fantom-foundation/Verdict/go/ct/verify"
	"github.com/Fantom-foundation/Verdict/go/ledger"
	"github.com/ethereum/go-ethereum/log"
	"pgregory.net/rand"
)

// RunConfig parameterizes Run.
type RunConfig struct {
	Forks           []ledger.Revision
	Jobs            int            // number of parallel executions, NumCPU if not positive
	Filter          *regexp.Regexp // restricts the specifications by name
	Shuffle         bool           // randomize the execution order
	Seed            uint64         // seed of the shuffle
	InstanceTimeout time.Duration  // deadline for a single execution, none if zero
	ProgressPeriod  time.Duration  // 5s if zero
	// PrintProgress is called periodically with the time since the start,
	// the recent rate of executions per second and the number of finished
	// executions. It may be nil.
	PrintProgress func(relativeTime time.Duration, rate float64, current int64)
}

// Run executes all units planned for the given specifications on the
// backend and records their outcomes in the collector. Specification errors
// are returned before anything is executed. If the context is canceled or
// the backend becomes unavailable, the remaining units are recorded as not
// run; only the latter is reported as an error.
func Run(
	ctx context.Context,
	specs []*spc.Specification,
	backend Backend,
	config RunConfig,
	collector *report.Collector,
) error {
	units, err := Plan(specs, config.Forks, config.Filter)
	if err != nil {
		return err
	}

	numJobs := config.Jobs
	if numJobs <= 0 {
		numJobs = runtime.NumCPU()
	}
	if config.Shuffle {
		rand.New(config.Seed).Shuffle(len(units), func(i, j int) {
			units[i], units[j] = units[j], units[i]
		})
	}

	// The execution of units is distributed to parallel goroutines:
	//   - this goroutine writes the units into a channel
	//   - a team of goroutines fetches units from the channel and executes
	//     them on the backend
	// Additionally, a goroutine periodically reporting progress information
	// is started. Consumers are started before the producer.

	var unitWaitGroup sync.WaitGroup
	var testCounter atomic.Int64
	var abortTests atomic.Bool

	var errorMutex sync.Mutex
	var returnError error

	done := make(chan bool)
	printerDone := make(chan bool)
	go func() {
		defer close(printerDone)
		if config.PrintProgress == nil {
			<-done
			return
		}
		period := config.ProgressPeriod
		if period <= 0 {
			period = 5 * time.Second
		}
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		startTime := time.Now()
		lastTime := startTime
		lastTestCounter := int64(0)

		checkTimingAndPrint := func(now time.Time) {
			cur := testCounter.Load()

			diffCounter := cur - lastTestCounter
			diffTime := now.Sub(lastTime)

			lastTime = now
			lastTestCounter = cur

			relativeTime := now.Sub(startTime)
			rate := float64(diffCounter) / diffTime.Seconds()
			config.PrintProgress(relativeTime, rate, cur)
		}

		for {
			select {
			case <-done:
				checkTimingAndPrint(time.Now())
				return
			case now := <-ticker.C:
				checkTimingAndPrint(now)
			}
		}
	}()

	unitWaitGroup.Add(numJobs)
	unitChannel := make(chan Unit, 10*numJobs)
	for i := 0; i < numJobs; i++ {
		go func() {
			defer unitWaitGroup.Done()
			for unit := range unitChannel {
				if abortTests.Load() || ctx.Err() != nil {
					collector.Add(report.NewEntry(unit.Instance, unit.Fork, report.NotRun))
					continue // keep consuming units from the channel
				}
				entry, err := execute(ctx, backend, unit, config.InstanceTimeout)
				collector.Add(entry)
				testCounter.Add(1)
				if err != nil {
					abortTests.Store(true)
					errorMutex.Lock()
					if returnError == nil {
						returnError = err
					}
					errorMutex.Unlock()
				}
			}
		}()
	}

	for _, unit := range units {
		if unit.IsSkipped() {
			entry := report.NewEntry(unit.Instance, unit.Fork, report.Skip)
			entry.Reason = "no expectation for fork"
			collector.Add(entry)
			continue
		}
		unitChannel <- unit
	}

	close(unitChannel)
	unitWaitGroup.Wait() // < releases when all units are processed

	close(done)   // < signals progress printer to stop
	<-printerDone // < blocks until channel is closed by progress printer

	return returnError
}

// execute runs a single unit and classifies its outcome. A non-nil error
// is only returned if the run needs to be aborted.
func execute(ctx context.Context, backend Backend, unit Unit, timeout time.Duration) (report.Entry, error) {
	instance := unit.Instance
	expect := unit.Expectation
	entry := report.NewEntry(instance, unit.Fork, report.Pass)
	logger := log.New("instance", instance.ID(), "fork", unit.Fork)

	instanceCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		instanceCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := backend.Execute(instanceCtx, Request{
		Instance: instance,
		Fork:     unit.Fork,
		Expected: expect.Result,
	})
	entry.Duration = time.Since(start)

	rejected := errors.Is(err, ErrTransitionRejected) || errors.Is(err, ErrSubmissionRejected)
	switch {
	case err == nil || rejected:
	case errors.Is(err, ErrUnsupportedFork):
		entry.Outcome = report.Skip
		entry.Reason = err.Error()
		return entry, nil
	case errors.Is(err, ErrBackendUnavailable):
		logger.Error("Backend unavailable", "err", err)
		entry.Outcome = report.Error
		entry.Reason = err.Error()
		return entry, err
	case ctx.Err() != nil:
		entry.Outcome = report.NotRun
		entry.Reason = ctx.Err().Error()
		return entry, nil
	default:
		logger.Warn("Execution failed", "err", err)
		entry.Outcome = report.Error
		entry.Reason = err.Error()
		return entry, nil
	}

	switch {
	case rejected && !expect.ExpectsRejection():
		entry.Outcome = report.Fail
		entry.Reason = fmt.Sprintf("unexpected rejection: %v", err)
		return entry, nil
	case !rejected && expect.ExpectsRejection():
		entry.Outcome = report.Fail
		entry.Reason = fmt.Sprintf("expected exception %s, but transaction was accepted", expect.ExpectException)
		return entry, nil
	}

	if result == nil || (rejected && result.PostState == nil) {
		if rejected {
			return entry, nil
		}
		entry.Outcome = report.Error
		entry.Reason = "backend produced no result"
		return entry, nil
	}

	expected := expect.Result
	if result.Sender != (ledger.Address{}) && result.Sender != instance.Transaction.Sender {
		expected = expected.Rekey(instance.Transaction.Sender, result.Sender)
	}
	verification := verify.Verify(expected, result.PostState)
	if !verification.Passed() {
		entry.Outcome = report.Fail
		entry.Mismatches = verification.Mismatches
		entry.Reason = "post-state mismatch"
		logger.Debug("Post-state mismatch", "mismatches", len(verification.Mismatches))
	}
	return entry, nil
}
