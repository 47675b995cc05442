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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// LoadFile reads the specifications stored in a JSON file. A file contains
// either a single specification, named after the file, or an object mapping
// test names to specifications. Specifications are returned sorted by name.
func LoadFile(path string) ([]*Specification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	specs, err := Parse(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %w", path, err)
	}
	return specs, nil
}

// Parse decodes the specifications in the given JSON document. The default
// name is used for documents holding a single specification.
func Parse(data []byte, defaultName string) ([]*Specification, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &SpecificationError{Spec: defaultName, Err: fmt.Errorf("%w: %w", ErrMalformedSpec, err)}
	}
	if _, single := raw["transaction"]; single {
		spec, err := decode(defaultName, data)
		if err != nil {
			return nil, err
		}
		return []*Specification{spec}, nil
	}

	names := maps.Keys(raw)
	slices.Sort(names)
	res := make([]*Specification, 0, len(names))
	for _, name := range names {
		spec, err := decode(name, raw[name])
		if err != nil {
			return nil, err
		}
		res = append(res, spec)
	}
	return res, nil
}

func decode(name string, data []byte) (*Specification, error) {
	spec := &Specification{}
	if err := json.Unmarshal(data, spec); err != nil {
		return nil, &SpecificationError{Spec: name, Err: fmt.Errorf("%w: %w", ErrMalformedSpec, err)}
	}
	spec.Name = name
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Load reads all specifications found in the given files and directories.
// Directories are searched recursively for files with a .json extension,
// in lexical order. Files named explicitly are loaded regardless of their
// extension.
func Load(inputs ...string) ([]*Specification, error) {
	var res []*Specification
	load := func(path string) error {
		specs, err := LoadFile(path)
		if err != nil {
			return err
		}
		res = append(res, specs...)
		return nil
	}
	for _, input := range inputs {
		err := filepath.WalkDir(input, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path == input && !entry.IsDir() {
				return load(path)
			}
			if entry.IsDir() || filepath.Ext(path) != ".json" {
				return nil
			}
			return load(path)
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}
