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
	"regexp"

	"github.com/Fantom-foundation/Verdict/go/ct/rlz"
	"github.com/Fantom-foundation/Verdict/go/ct/spc"
	"github.com/Fantom-foundation/Verdict/go/ledger"
)

// Unit is the execution of one test instance for one fork. Units without
// an expectation are skipped.
type Unit struct {
	Instance    *spc.TestInstance
	Fork        ledger.Revision
	Expectation *spc.Expectation
}

// IsSkipped reports whether no expectation applies to the unit's fork.
func (u *Unit) IsSkipped() bool {
	return u.Expectation == nil
}

// Plan expands the given specifications and gates every resulting instance
// for every requested fork. Specification errors are reported before any
// unit is produced. Specifications whose name does not match the filter are
// ignored.
func Plan(specs []*spc.Specification, forks []ledger.Revision, filter *regexp.Regexp) ([]Unit, error) {
	var res []Unit
	for _, spec := range FilterSpecs(specs, filter) {
		instances, err := spec.Instances()
		if err != nil {
			return nil, err
		}
		for _, instance := range instances {
			for _, fork := range forks {
				expectation, found, err := rlz.Select(instance.Expectations, fork)
				if err != nil {
					return nil, &spc.SpecificationError{Spec: spec.Name, Err: err}
				}
				unit := Unit{Instance: instance, Fork: fork}
				if found {
					unit.Expectation = expectation
				}
				res = append(res, unit)
			}
		}
	}
	return res, nil
}

func FilterSpecs(specs []*spc.Specification, filter *regexp.Regexp) []*spc.Specification {
	if filter == nil {
		return specs
	}
	res := make([]*spc.Specification, 0, len(specs))
	for _, spec := range specs {
		if filter.MatchString(spec.Name) {
			res = append(res, spec)
		}
	}
	return res
}
