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
	"encoding/json"
	"errors"
	"testing"
)

func axes(data, gas, value []string) [NumAxes]Axis {
	return [NumAxes]Axis{
		{Kind: AxisData, Labels: data},
		{Kind: AxisGas, Labels: gas},
		{Kind: AxisValue, Labels: value},
	}
}

func TestExpand_ProducesRowMajorOrder(t *testing.T) {
	tuples, err := Expand(axes(make([]string, 2), make([]string, 3), make([]string, 2)), SelectAll())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want, got := 12, len(tuples); want != got {
		t.Fatalf("unexpected number of tuples, wanted %d, got %d", want, got)
	}
	expected := []IndexTuple{
		{0, 0, 0}, {0, 0, 1}, {0, 1, 0}, {0, 1, 1}, {0, 2, 0}, {0, 2, 1},
		{1, 0, 0}, {1, 0, 1}, {1, 1, 0}, {1, 1, 1}, {1, 2, 0}, {1, 2, 1},
	}
	for i, want := range expected {
		if got := tuples[i]; want != got {
			t.Errorf("unexpected tuple at position %d, wanted %v, got %v", i, want, got)
		}
	}
}

func TestExpand_CountIsProductOfSelectedVariants(t *testing.T) {
	all := axes(make([]string, 4), make([]string, 3), make([]string, 5))
	tests := map[string]struct {
		selection Selection
		count     int
	}{
		"all":           {SelectAll(), 60},
		"single data":   {Selection{Data: IndexSelector{Literal(2)}}, 15},
		"union of data": {Selection{Data: IndexSelector{Literal(2), Literal(0), Literal(2)}}, 30},
		"fully literal": {Selection{Data: IndexSelector{Literal(1)}, Gas: IndexSelector{Literal(1)}, Value: IndexSelector{Literal(1)}}, 1},
		"explicit all":  {Selection{Gas: IndexSelector{All()}}, 60},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			tuples, err := Expand(all, test.selection)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if want, got := test.count, len(tuples); want != got {
				t.Errorf("unexpected number of tuples, wanted %d, got %d", want, got)
			}
		})
	}
}

func TestExpand_LabelsResolveToTheirPosition(t *testing.T) {
	a := axes([]string{"", "overflow", "underflow"}, []string{""}, []string{""})
	for i := 0; i < 2; i++ {
		tuples, err := Expand(a, Selection{Data: IndexSelector{Label("overflow")}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want, got := 1, len(tuples); want != got {
			t.Fatalf("unexpected number of tuples, wanted %d, got %d", want, got)
		}
		if want, got := (IndexTuple{1, 0, 0}), tuples[0]; want != got {
			t.Errorf("unexpected tuple, wanted %v, got %v", want, got)
		}
	}
}

func TestExpand_ReportsSpecificationErrors(t *testing.T) {
	tests := map[string]struct {
		axes      [NumAxes]Axis
		selection Selection
		want      error
		label     string
	}{
		"unknown label": {
			axes:      axes([]string{"a"}, []string{""}, []string{""}),
			selection: Selection{Data: IndexSelector{Label("b")}},
			want:      ErrUnknownLabel,
			label:     "b",
		},
		"ambiguous label": {
			axes:      axes([]string{"a", "a"}, []string{""}, []string{""}),
			selection: Selection{Data: IndexSelector{Label("a")}},
			want:      ErrAmbiguousLabel,
			label:     "a",
		},
		"unreferenced ambiguous label": {
			axes:      axes([]string{""}, []string{"x", "x"}, []string{""}),
			selection: SelectAll(),
			want:      ErrAmbiguousLabel,
			label:     "x",
		},
		"index out of range": {
			axes:      axes([]string{""}, []string{""}, []string{""}),
			selection: Selection{Value: IndexSelector{Literal(1)}},
			want:      ErrIndexOutOfRange,
		},
		"empty axis": {
			axes:      axes([]string{""}, nil, []string{""}),
			selection: SelectAll(),
			want:      ErrMalformedAxis,
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Expand(test.axes, test.selection)
			if !errors.Is(err, test.want) {
				t.Fatalf("unexpected error, wanted %v, got %v", test.want, err)
			}
			var specErr *SpecificationError
			if !errors.As(err, &specErr) {
				t.Fatalf("expected a specification error, got %T", err)
			}
			if want, got := test.label, specErr.Label; want != got {
				t.Errorf("unexpected label in error, wanted %q, got %q", want, got)
			}
			if specErr.Axis == "" {
				t.Errorf("error should name the axis")
			}
		})
	}
}

func TestIndexRef_JSON(t *testing.T) {
	tests := map[string]IndexRef{
		`0`:              Literal(0),
		`3`:              Literal(3),
		`-1`:             All(),
		`"all"`:          All(),
		`"*"`:            All(),
		`"2"`:            Literal(2),
		`"-1"`:           All(),
		`":label small"`: Label("small"),
	}
	for input, want := range tests {
		var got IndexRef
		if err := json.Unmarshal([]byte(input), &got); err != nil {
			t.Fatalf("failed to decode %v: %v", input, err)
		}
		if want != got {
			t.Errorf("unexpected reference for %v, wanted %v, got %v", input, want, got)
		}
	}
}

func TestIndexRef_NegativeIndexOtherThanAllIsRejected(t *testing.T) {
	for _, input := range []string{`-2`, `"-5"`} {
		var ref IndexRef
		err := json.Unmarshal([]byte(input), &ref)
		if !errors.Is(err, ErrNegativeIndex) {
			t.Errorf("expected negative index error for %v, got %v", input, err)
		}
	}
}

func TestIndexRef_AllIsNotANegativeLiteral(t *testing.T) {
	var ref IndexRef
	if err := json.Unmarshal([]byte(`-1`), &ref); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if want, got := IndexAll, ref.Mode; want != got {
		t.Errorf("unexpected mode, wanted %v, got %v", want, got)
	}
	indexes, err := ref.Resolve(Axis{Kind: AxisData, Labels: []string{"", "", ""}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want, got := 3, len(indexes); want != got {
		t.Errorf("unexpected number of indexes, wanted %d, got %d", want, got)
	}
}

func TestIndexSelector_AcceptsSingleReferenceAndList(t *testing.T) {
	var single, list IndexSelector
	if err := json.Unmarshal([]byte(`1`), &single); err != nil {
		t.Fatalf("failed to decode single reference: %v", err)
	}
	if err := json.Unmarshal([]byte(`[1, ":label x"]`), &list); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if want, got := 1, len(single); want != got {
		t.Errorf("unexpected length, wanted %d, got %d", want, got)
	}
	if want, got := 2, len(list); want != got {
		t.Errorf("unexpected length, wanted %d, got %d", want, got)
	}
	if want, got := Label("x"), list[1]; want != got {
		t.Errorf("unexpected reference, wanted %v, got %v", want, got)
	}
}
