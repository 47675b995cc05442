// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package spc contains the model of declarative state test specifications
// and the expansion of a specification into concrete test instances.
package spc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Fantom-foundation/Verdict/go/ledger"
)

// Specification is a declarative state test: a pre-state, a parameterized
// transaction and the expected post-states, each scoped to a set of forks
// and a selection of parameter combinations.
type Specification struct {
	Name        string              `json:"-"`
	Env         *ledger.Environment `json:"env,omitempty"`
	Pre         ledger.WorldState   `json:"pre"`
	Transaction TransactionTemplate `json:"transaction"`
	Expect      []Expectation       `json:"expect"`
}

// Environment returns the block environment of the test.
func (s *Specification) Environment() ledger.Environment {
	if s.Env != nil {
		return *s.Env
	}
	return ledger.DefaultEnvironment()
}

// ApplyChain adapts the specification to the given chain preset. Without an
// environment of its own the test uses the chain's default environment, and
// accounts pre-allocated on the chain are added unless the pre-state
// defines them.
func (s *Specification) ApplyChain(chain ledger.Chain) {
	if s.Env == nil {
		env := chain.Environment()
		s.Env = &env
	}
	if len(chain.Alloc) == 0 {
		return
	}
	if s.Pre == nil {
		s.Pre = ledger.WorldState{}
	}
	for address, account := range chain.Alloc {
		if _, found := s.Pre[address]; !found {
			s.Pre[address] = account.Clone()
		}
	}
}

// Validate checks the structural consistency of the specification. All
// returned errors are of type *SpecificationError.
func (s *Specification) Validate() error {
	if err := s.Transaction.resolveSender(); err != nil {
		return s.wrap(err)
	}
	for _, axis := range s.Transaction.Axes() {
		if err := axis.Validate(); err != nil {
			return s.wrap(err)
		}
	}
	if len(s.Expect) == 0 {
		return s.wrap(fmt.Errorf("%w: no expectations", ErrMalformedSpec))
	}
	for i, expect := range s.Expect {
		if len(expect.Network) == 0 {
			return s.wrap(fmt.Errorf("%w: expectation %d lists no forks", ErrMalformedSpec, i))
		}
	}
	return nil
}

// wrap attaches the name of the specification to an error.
func (s *Specification) wrap(err error) error {
	var specErr *SpecificationError
	if errors.As(err, &specErr) {
		res := *specErr
		res.Spec = s.Name
		return &res
	}
	return &SpecificationError{Spec: s.Name, Err: err}
}

// TestInstance is one concrete parameter combination of a specification.
// Instances are immutable; each is executed once per target fork.
type TestInstance struct {
	Spec         string
	Ordinal      int
	Indexes      IndexTuple
	Labels       [NumAxes]string
	Pre          ledger.WorldState
	Env          ledger.Environment
	Transaction  ledger.Transaction
	SecretKey    *ledger.Hash
	Expectations []*Expectation
}

// ID identifies the instance within a run.
func (i *TestInstance) ID() string {
	return fmt.Sprintf("%s/%v", i.Spec, i.Indexes)
}

// Describe lists the resolved indexes and, where present, their labels.
func (i *TestInstance) Describe() string {
	parts := make([]string, 0, NumAxes)
	for axis := 0; axis < NumAxes; axis++ {
		part := fmt.Sprintf("%v=%d", AxisKind(axis), i.Indexes[axis])
		if label := i.Labels[axis]; label != "" {
			part += fmt.Sprintf(" (%s)", label)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

// Instances expands the specification into all its test instances in
// row-major order and attaches the expectations selecting each of them.
func (s *Specification) Instances() ([]*TestInstance, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	axes := s.Transaction.Axes()
	tuples, err := Expand(axes, SelectAll())
	if err != nil {
		return nil, s.wrap(err)
	}

	selected := make(map[IndexTuple][]*Expectation, len(tuples))
	for i := range s.Expect {
		expect := &s.Expect[i]
		matches, err := Expand(axes, expect.Indexes)
		if err != nil {
			return nil, s.wrap(err)
		}
		for _, tuple := range matches {
			selected[tuple] = append(selected[tuple], expect)
		}
	}

	env := s.Environment()
	res := make([]*TestInstance, 0, len(tuples))
	for ordinal, tuple := range tuples {
		res = append(res, &TestInstance{
			Spec:         s.Name,
			Ordinal:      ordinal,
			Indexes:      tuple,
			Labels:       s.Transaction.Labels(tuple),
			Pre:          s.Pre.Clone(),
			Env:          env,
			Transaction:  s.Transaction.Resolve(tuple),
			SecretKey:    s.Transaction.SecretKey,
			Expectations: selected[tuple],
		})
	}
	return res, nil
}
