// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package rlz

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Fantom-foundation/Verdict/go/ledger"
)

// ForkOp is the comparison operator of a ForkRange.
type ForkOp int

const (
	OpExactly   ForkOp = iota // f == From
	OpAtOrAfter               // f >= From
	OpBefore                  // f < From
	OpBetween                 // From <= f < To
)

// ForkRange is a condition on the fork a test is executed for.
type ForkRange struct {
	Op   ForkOp
	From ledger.Revision
	To   ledger.Revision
}

func Exactly(r ledger.Revision) ForkRange {
	return ForkRange{Op: OpExactly, From: r}
}

func AtOrAfter(r ledger.Revision) ForkRange {
	return ForkRange{Op: OpAtOrAfter, From: r}
}

func Before(r ledger.Revision) ForkRange {
	return ForkRange{Op: OpBefore, From: r}
}

// Between admits all forks f with from <= f < to.
func Between(from, to ledger.Revision) ForkRange {
	return ForkRange{Op: OpBetween, From: from, To: to}
}

// Admits reports whether the given fork satisfies the range.
func (r ForkRange) Admits(fork ledger.Revision) bool {
	switch r.Op {
	case OpExactly:
		return fork == r.From
	case OpAtOrAfter:
		return fork >= r.From
	case OpBefore:
		return fork < r.From
	case OpBetween:
		return r.From <= fork && fork < r.To
	}
	return false
}

func (r ForkRange) String() string {
	switch r.Op {
	case OpExactly:
		return r.From.String()
	case OpAtOrAfter:
		return ">=" + r.From.String()
	case OpBefore:
		return "<" + r.From.String()
	case OpBetween:
		return fmt.Sprintf(">=%v<%v", r.From, r.To)
	}
	return fmt.Sprintf("ForkRange(%d)", r.Op)
}

// ParseForkRange parses a single range in the notation used by test
// fillers: "Cancun", ">=Cancun", ">Berlin", "<Cancun", "<=Berlin" and
// ">=Berlin<Cancun".
func ParseForkRange(text string) (ForkRange, error) {
	text = strings.TrimSpace(text)
	fail := func(err error) (ForkRange, error) {
		return ForkRange{}, fmt.Errorf("invalid fork range %q: %w", text, err)
	}

	lower, upper, hasUpper := text, "", false
	if strings.HasPrefix(text, ">") {
		if i := strings.Index(text, "<"); i > 0 {
			lower, upper, hasUpper = text[:i], text[i:], true
		}
	}

	var res ForkRange
	switch {
	case strings.HasPrefix(lower, ">="):
		from, err := ledger.ParseRevision(lower[2:])
		if err != nil {
			return fail(err)
		}
		res = AtOrAfter(from)
	case strings.HasPrefix(lower, ">"):
		from, err := ledger.ParseRevision(lower[1:])
		if err != nil {
			return fail(err)
		}
		if from == ledger.MaxRevision {
			return fail(ErrEmptyForkRange)
		}
		res = AtOrAfter(from + 1)
	case strings.HasPrefix(lower, "<="):
		to, err := ledger.ParseRevision(lower[2:])
		if err != nil {
			return fail(err)
		}
		if to == ledger.MaxRevision {
			return AtOrAfter(ledger.MinRevision), nil
		}
		return Before(to + 1), nil
	case strings.HasPrefix(lower, "<"):
		to, err := ledger.ParseRevision(lower[1:])
		if err != nil {
			return fail(err)
		}
		return Before(to), nil
	default:
		fork, err := ledger.ParseRevision(lower)
		if err != nil {
			return fail(err)
		}
		return Exactly(fork), nil
	}

	if !hasUpper {
		return res, nil
	}
	bound, err := ParseForkRange(upper)
	if err != nil {
		return fail(err)
	}
	if bound.Op != OpBefore || bound.From <= res.From {
		return fail(ErrEmptyForkRange)
	}
	return Between(res.From, bound.From), nil
}

// ForkSet is a union of fork ranges. The empty set admits no fork.
type ForkSet []ForkRange

// AnyOf creates a set admitting every fork admitted by one of the ranges.
func AnyOf(ranges ...ForkRange) ForkSet {
	return ForkSet(ranges)
}

// ParseForkSet parses a comma separated list of fork ranges.
func ParseForkSet(text string) (ForkSet, error) {
	var res ForkSet
	for _, part := range strings.Split(text, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		cur, err := ParseForkRange(part)
		if err != nil {
			return nil, err
		}
		res = append(res, cur)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("invalid fork set %q: %w", text, ErrEmptyForkRange)
	}
	return res, nil
}

func (s ForkSet) Admits(fork ledger.Revision) bool {
	for _, r := range s {
		if r.Admits(fork) {
			return true
		}
	}
	return false
}

// Forks lists all known forks admitted by the set in ascending order.
func (s ForkSet) Forks() []ledger.Revision {
	var res []ledger.Revision
	for _, fork := range ledger.GetAllKnownRevisions() {
		if s.Admits(fork) {
			res = append(res, fork)
		}
	}
	return res
}

func (s ForkSet) String() string {
	parts := make([]string, 0, len(s))
	for _, r := range s {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ",")
}

func (s ForkSet) MarshalJSON() ([]byte, error) {
	parts := make([]string, 0, len(s))
	for _, r := range s {
		parts = append(parts, r.String())
	}
	return json.Marshal(parts)
}

// UnmarshalJSON accepts a single string in range notation or a list of
// such strings.
func (s *ForkSet) UnmarshalJSON(data []byte) error {
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return fmt.Errorf("fork set must be a string or a list of strings: %w", err)
		}
		parts = []string{single}
	}
	set, err := ParseForkSet(strings.Join(parts, ","))
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// Gated is implemented by everything restricted to a set of forks.
type Gated interface {
	GetForks() ForkSet
}

// Select returns the unique candidate admitting the given fork. If no
// candidate applies, found is false and the caller should record the test as
// skipped. If more than one candidate applies, ErrConflictingExpectations is
// returned.
func Select[T Gated](candidates []T, fork ledger.Revision) (res T, found bool, err error) {
	matches := 0
	for _, cur := range candidates {
		if !cur.GetForks().Admits(fork) {
			continue
		}
		matches++
		if matches == 1 {
			res = cur
		}
	}
	switch matches {
	case 0:
		return res, false, nil
	case 1:
		return res, true, nil
	}
	var zero T
	return zero, false, fmt.Errorf("%w: %d expectations apply to %v", ErrConflictingExpectations, matches, fork)
}
