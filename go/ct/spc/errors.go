// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package spc

import (
	"fmt"
	"strings"

	"github.com/Fantom-foundation/Verdict/go/ledger"
)

var (
	ErrUnknownLabel    = ledger.ConstErr("unknown label")
	ErrAmbiguousLabel  = ledger.ConstErr("ambiguous label")
	ErrIndexOutOfRange = ledger.ConstErr("index out of range")
	ErrNegativeIndex   = ledger.ConstErr("negative index")
	ErrMalformedAxis   = ledger.ConstErr("malformed axis")
	ErrMalformedSpec   = ledger.ConstErr("malformed specification")
)

// SpecificationError reports a defect in a test specification. Such errors
// are detected before any execution and abort the run.
type SpecificationError struct {
	Spec  string // name of the specification, if known
	Axis  string // parameter axis involved, if any
	Label string // offending label, if any
	Err   error
}

func (e *SpecificationError) Error() string {
	var b strings.Builder
	b.WriteString("specification")
	if e.Spec != "" {
		fmt.Fprintf(&b, " %q", e.Spec)
	}
	if e.Axis != "" {
		fmt.Fprintf(&b, ", axis %s", e.Axis)
	}
	if e.Label != "" {
		fmt.Fprintf(&b, ", label %q", e.Label)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *SpecificationError) Unwrap() error {
	return e.Err
}
