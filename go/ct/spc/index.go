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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AxisKind enumerates the three parameter axes of a transaction template.
type AxisKind int

const (
	AxisData AxisKind = iota
	AxisGas
	AxisValue
	NumAxes int = iota
)

func (a AxisKind) String() string {
	switch a {
	case AxisData:
		return "data"
	case AxisGas:
		return "gas"
	case AxisValue:
		return "value"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// Axis describes the variants of one parameter axis by their labels. An
// empty label marks an unlabelled variant.
type Axis struct {
	Kind   AxisKind
	Labels []string
}

// Len returns the number of variants on the axis.
func (a Axis) Len() int {
	return len(a.Labels)
}

// Validate checks that the axis is not empty and its labels are unique.
func (a Axis) Validate() error {
	if a.Len() == 0 {
		return &SpecificationError{Axis: a.Kind.String(), Err: fmt.Errorf("%w: no variants", ErrMalformedAxis)}
	}
	seen := map[string]bool{}
	for _, label := range a.Labels {
		if label == "" {
			continue
		}
		if seen[label] {
			return &SpecificationError{Axis: a.Kind.String(), Label: label, Err: ErrAmbiguousLabel}
		}
		seen[label] = true
	}
	return nil
}

// IndexMode distinguishes the three ways a variant can be referenced.
type IndexMode int

const (
	IndexLiteral IndexMode = iota
	IndexLabel
	IndexAll
)

// IndexRef references variants of one axis: a single variant by position,
// a single variant by label, or all variants.
type IndexRef struct {
	Mode  IndexMode
	Index int
	Label string
}

// Literal references the variant at the given position.
func Literal(index int) IndexRef {
	return IndexRef{Mode: IndexLiteral, Index: index}
}

// Label references the variant carrying the given label.
func Label(label string) IndexRef {
	return IndexRef{Mode: IndexLabel, Label: label}
}

// All references every variant of an axis.
func All() IndexRef {
	return IndexRef{Mode: IndexAll}
}

func (r IndexRef) String() string {
	switch r.Mode {
	case IndexLiteral:
		return strconv.Itoa(r.Index)
	case IndexLabel:
		return ":label " + r.Label
	case IndexAll:
		return "all"
	}
	return fmt.Sprintf("IndexRef(%d)", int(r.Mode))
}

// Resolve returns the positions of the variants referenced on the given axis
// in declaration order.
func (r IndexRef) Resolve(axis Axis) ([]int, error) {
	switch r.Mode {
	case IndexAll:
		res := make([]int, axis.Len())
		for i := range res {
			res[i] = i
		}
		return res, nil
	case IndexLiteral:
		if r.Index < 0 || r.Index >= axis.Len() {
			return nil, &SpecificationError{
				Axis: axis.Kind.String(),
				Err:  fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, r.Index, axis.Len()),
			}
		}
		return []int{r.Index}, nil
	case IndexLabel:
		found := -1
		for i, label := range axis.Labels {
			if label != r.Label {
				continue
			}
			if found >= 0 {
				return nil, &SpecificationError{Axis: axis.Kind.String(), Label: r.Label, Err: ErrAmbiguousLabel}
			}
			found = i
		}
		if found < 0 {
			return nil, &SpecificationError{Axis: axis.Kind.String(), Label: r.Label, Err: ErrUnknownLabel}
		}
		return []int{found}, nil
	}
	return nil, fmt.Errorf("invalid index mode %d", r.Mode)
}

func (r IndexRef) MarshalJSON() ([]byte, error) {
	switch r.Mode {
	case IndexLiteral:
		return json.Marshal(r.Index)
	case IndexAll:
		return json.Marshal(-1)
	}
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts a non-negative number, -1 for all variants, or one
// of the strings "all", "*", ":label <name>" and a decimal number.
func (r *IndexRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		return r.parse(strings.TrimSpace(text))
	}
	var index int
	if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("invalid index reference %s: %w", data, err)
	}
	return r.fromNumber(index)
}

func (r *IndexRef) parse(text string) error {
	switch {
	case text == "all" || text == "*":
		*r = All()
		return nil
	case strings.HasPrefix(text, ":label "):
		label := strings.TrimSpace(strings.TrimPrefix(text, ":label "))
		if label == "" {
			return fmt.Errorf("%w: empty label reference", ErrMalformedSpec)
		}
		*r = Label(label)
		return nil
	}
	index, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("invalid index reference %q", text)
	}
	return r.fromNumber(index)
}

func (r *IndexRef) fromNumber(index int) error {
	switch {
	case index == -1:
		*r = All()
	case index < 0:
		return fmt.Errorf("%w: %d", ErrNegativeIndex, index)
	default:
		*r = Literal(index)
	}
	return nil
}

// IndexSelector is a union of index references on one axis. An empty
// selector selects all variants.
type IndexSelector []IndexRef

// Resolve returns the selected positions in declaration order without
// duplicates.
func (s IndexSelector) Resolve(axis Axis) ([]int, error) {
	if len(s) == 0 {
		return All().Resolve(axis)
	}
	selected := make([]bool, axis.Len())
	for _, ref := range s {
		indexes, err := ref.Resolve(axis)
		if err != nil {
			return nil, err
		}
		for _, i := range indexes {
			selected[i] = true
		}
	}
	var res []int
	for i, ok := range selected {
		if ok {
			res = append(res, i)
		}
	}
	return res, nil
}

// UnmarshalJSON accepts a single reference or a list of references.
func (s *IndexSelector) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var refs []IndexRef
		if err := json.Unmarshal(data, &refs); err != nil {
			return err
		}
		*s = refs
		return nil
	}
	var ref IndexRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return err
	}
	*s = IndexSelector{ref}
	return nil
}

// Selection picks variants on all three axes.
type Selection struct {
	Data  IndexSelector `json:"data,omitempty"`
	Gas   IndexSelector `json:"gas,omitempty"`
	Value IndexSelector `json:"value,omitempty"`
}

// SelectAll selects the full cross product of all axes.
func SelectAll() Selection {
	return Selection{}
}

func (s Selection) get(kind AxisKind) IndexSelector {
	switch kind {
	case AxisData:
		return s.Data
	case AxisGas:
		return s.Gas
	default:
		return s.Value
	}
}

// IndexTuple is one concrete (data, gas, value) combination.
type IndexTuple [NumAxes]int

func (t IndexTuple) String() string {
	return fmt.Sprintf("d%d_g%d_v%d", t[AxisData], t[AxisGas], t[AxisValue])
}

// Expand produces the cross product of the selected variants in row-major
// order: data is the outermost axis, value the innermost, and each axis is
// iterated in declaration order. The axes are indexed by their AxisKind.
func Expand(axes [NumAxes]Axis, sel Selection) ([]IndexTuple, error) {
	var resolved [NumAxes][]int
	for i, axis := range axes {
		if err := axis.Validate(); err != nil {
			return nil, err
		}
		indexes, err := sel.get(AxisKind(i)).Resolve(axis)
		if err != nil {
			return nil, err
		}
		resolved[i] = indexes
	}

	res := make([]IndexTuple, 0, len(resolved[AxisData])*len(resolved[AxisGas])*len(resolved[AxisValue]))
	for _, d := range resolved[AxisData] {
		for _, g := range resolved[AxisGas] {
			for _, v := range resolved[AxisValue] {
				res = append(res, IndexTuple{d, g, v})
			}
		}
	}
	return res, nil
}
