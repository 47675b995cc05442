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
	"encoding/json"
	"fmt"
	"strings"
)

// Revision is an enumeration for EVM specification revisions (aka. Hard-Forks).
// Revisions are totally ordered by their activation on mainnet.
type Revision int

// The list of revisions known to the test engine. Revisions skipped in this
// list never changed the semantics covered by state tests.
const (
	R00_Frontier Revision = iota
	R01_Homestead
	R04_Byzantium
	R05_Constantinople
	R06_Petersburg
	R07_Istanbul
	R08_Berlin
	R09_London
	R10_Paris
	R11_Shanghai
	R12_Cancun
	R13_Prague
	R14_Osaka
	numRevisions int = iota
)

// MinRevision and MaxRevision are the bounds of the known revision range.
const (
	MinRevision = R00_Frontier
	MaxRevision = R14_Osaka
)

var revisionNames = [numRevisions]string{
	"Frontier",
	"Homestead",
	"Byzantium",
	"Constantinople",
	"Petersburg",
	"Istanbul",
	"Berlin",
	"London",
	"Paris",
	"Shanghai",
	"Cancun",
	"Prague",
	"Osaka",
}

// revisionAliases lists alternative names used by test fillers. Gnosis runs
// the Cancun rules; its blob market is part of the Gnosis chain preset.
var revisionAliases = map[string]Revision{
	"constantinoplefix": R06_Petersburg,
	"merge":             R10_Paris,
	"gnosis":            R12_Cancun,
}

func (r Revision) String() string {
	if !r.IsValid() {
		return fmt.Sprintf("Revision(%d)", r)
	}
	return revisionNames[r]
}

// IsValid reports whether r is one of the known revisions.
func (r Revision) IsValid() bool {
	return r >= MinRevision && r <= MaxRevision
}

// ParseRevision resolves a fork name, including the known aliases. Names are
// matched case-insensitively.
func ParseRevision(name string) (Revision, error) {
	name = strings.TrimSpace(name)
	for i, cur := range revisionNames {
		if strings.EqualFold(cur, name) {
			return Revision(i), nil
		}
	}
	if r, found := revisionAliases[strings.ToLower(name)]; found {
		return r, nil
	}
	return 0, &UnknownRevisionError{Name: name}
}

// GetAllKnownRevisions returns all revisions in ascending order.
func GetAllKnownRevisions() []Revision {
	res := make([]Revision, 0, numRevisions)
	for r := MinRevision; r <= MaxRevision; r++ {
		res = append(res, r)
	}
	return res
}

func (r Revision) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, &json.UnsupportedValueError{Str: r.String()}
	}
	return []byte(r.String()), nil
}

func (r *Revision) UnmarshalText(data []byte) error {
	revision, err := ParseRevision(string(data))
	if err != nil {
		return err
	}
	*r = revision
	return nil
}

// UnknownRevisionError is produced for fork names not listed above.
type UnknownRevisionError struct {
	Name string
}

func (e *UnknownRevisionError) Error() string {
	return fmt.Sprintf("unknown fork %q", e.Name)
}
