// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package isolate

import (
	"encoding/json"
	"strings"

	"chromium.googlesource.com/infra/swarming/isolate-go/internal/common"
)

// SavedState is the .isolated.state sidecar: the Manifest plus the
// variable bindings used to produce it, the path of the source .isolate
// file, and the names of any child .isolated files a split produced. The
// manifest's 'os' and 'includes' are not written to disk (see
// savedStateWire), so a loaded SavedState has both empty.
type SavedState struct {
	Manifest
	ConfigVariables    map[string]string
	PathVariables      map[string]string
	ExtraVariables     map[string]string
	IsolateFile        string
	ChildIsolatedFiles []string
}

// savedStateWire is the .isolated.state schema. It is deliberately NOT a
// superset of manifestWire: the sidecar never records 'os' or 'includes'
// (the OS is implied by config_variables, the includes by
// child_isolated_files), and 'command' is always present, even empty.
type savedStateWire struct {
	Algo               string                   `json:"algo"`
	Command            []string                 `json:"command"`
	Files              map[string]fileEntryWire `json:"files"`
	ReadOnly           *int                     `json:"read_only,omitempty"`
	RelativeCwd        string                   `json:"relative_cwd,omitempty"`
	Version            string                   `json:"version"`
	ConfigVariables    map[string]string        `json:"config_variables"`
	PathVariables      map[string]string        `json:"path_variables"`
	ExtraVariables     map[string]string        `json:"extra_variables"`
	IsolateFile        string                   `json:"isolate_file"`
	ChildIsolatedFiles []string                 `json:"child_isolated_files"`
}

func (s SavedState) MarshalJSON() ([]byte, error) {
	w := savedStateWire{
		Algo:               s.Algo,
		Command:            nonNilSlice(s.Command),
		Files:              map[string]fileEntryWire{},
		RelativeCwd:        s.RelativeCwd,
		Version:            s.Version,
		ConfigVariables:    nonNilMap(s.ConfigVariables),
		PathVariables:      nonNilMap(s.PathVariables),
		ExtraVariables:     nonNilMap(s.ExtraVariables),
		IsolateFile:        s.IsolateFile,
		ChildIsolatedFiles: nonNilSlice(s.ChildIsolatedFiles),
	}
	for p, e := range s.Files {
		w.Files[p] = e.wire(true)
	}
	if s.ReadOnly != ReadOnlyUnset {
		v := 0
		if s.ReadOnly == ReadOnlyTrue {
			v = 1
		}
		w.ReadOnly = &v
	}
	return json.Marshal(w)
}

func (s *SavedState) UnmarshalJSON(data []byte) error {
	var w savedStateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Algo = w.Algo
	s.Command = w.Command
	s.Files = map[string]FileEntry{}
	for p, fw := range w.Files {
		s.Files[p] = fw.entry()
	}
	s.RelativeCwd = w.RelativeCwd
	s.Version = w.Version
	s.ConfigVariables = w.ConfigVariables
	s.PathVariables = w.PathVariables
	s.ExtraVariables = w.ExtraVariables
	s.IsolateFile = w.IsolateFile
	s.ChildIsolatedFiles = w.ChildIsolatedFiles
	if w.ReadOnly != nil {
		if *w.ReadOnly != 0 {
			s.ReadOnly = ReadOnlyTrue
		} else {
			s.ReadOnly = ReadOnlyFalse
		}
	}
	return nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// StatePath returns the sidecar path for a given .isolated path; it
// always lives next to the .isolated file.
func StatePath(isolatedPath string) string {
	return common.IsolatedFileToState(isolatedPath)
}

// versionMajorMinor returns the MAJOR component of a "MAJOR.MINOR" version
// (ok is false if v has no '.'); used to compare a loaded state's version
// against IsolatedVersion.
func versionMajorMinor(v string) (string, bool) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	return parts[0], true
}

// LoadSavedState reads the sidecar state file at path. Any failure to read
// or decode it, or a MAJOR version mismatch against IsolatedVersion, is
// reported as ErrStateStale -- never a hard error -- and the caller is
// expected to fall back to a fresh SavedState.
func LoadSavedState(path string) (SavedState, error) {
	var state SavedState
	if err := common.ReadJSONFile(path, &state); err != nil {
		return SavedState{}, ErrStateStale
	}
	wantMajor, ok := versionMajorMinor(IsolatedVersion)
	if !ok {
		return SavedState{}, ErrStateStale
	}
	gotMajor, ok := versionMajorMinor(state.Version)
	if !ok || gotMajor != wantMajor {
		return SavedState{}, ErrStateStale
	}
	return state, nil
}

// Save writes state to path atomically, pretty-printed.
func (s SavedState) Save(path string) error {
	return common.WriteJSONFile(path, s, true)
}

// ToManifest projects a SavedState down to the Manifest it was derived
// from, for writing the .isolated file itself.
func (s SavedState) ToManifest() Manifest {
	return s.Manifest
}
