// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package isolate

import (
	"encoding/json"
)

// IsolatedVersion is the .isolated/.isolated.state schema version:
// MAJOR.MINOR, where an incompatible MAJOR triggers regeneration.
const IsolatedVersion = "1.4"

// FileEntry is one entry of a Manifest's 'files' map. A symlink
// entry carries only Link; a regular-file entry carries Hash/Size and,
// off win, Mode. Mtime is only ever rendered in a SavedState, never in a
// Manifest.
type FileEntry struct {
	Hash  string
	Size  int64
	Mode  uint32
	Mtime int64
	Link  string
}

func (e FileEntry) wire(includeMtime bool) fileEntryWire {
	if e.Link != "" {
		return fileEntryWire{Link: e.Link}
	}
	w := fileEntryWire{Hash: e.Hash, Size: &e.Size, Mode: e.Mode}
	if includeMtime {
		w.Mtime = e.Mtime
	}
	return w
}

type fileEntryWire struct {
	Hash  string `json:"h,omitempty"`
	Size  *int64 `json:"s,omitempty"`
	Mode  uint32 `json:"m,omitempty"`
	Mtime int64  `json:"t,omitempty"`
	Link  string `json:"l,omitempty"`
}

func (w fileEntryWire) entry() FileEntry {
	e := FileEntry{Hash: w.Hash, Mode: w.Mode, Mtime: w.Mtime, Link: w.Link}
	if w.Size != nil {
		e.Size = *w.Size
	}
	return e
}

// Manifest is the .isolated artifact: a content-addressed
// file list for one resolved configuration.
type Manifest struct {
	Algo        string
	Command     []string
	Files       map[string]FileEntry
	Includes    []string
	OS          string
	ReadOnly    ReadOnlyState
	RelativeCwd string
	Version     string
}

type manifestWire struct {
	Algo        string                   `json:"algo"`
	Command     []string                 `json:"command,omitempty"`
	Files       map[string]fileEntryWire `json:"files"`
	Includes    []string                 `json:"includes,omitempty"`
	OS          string                   `json:"os,omitempty"`
	ReadOnly    *int                     `json:"read_only,omitempty"`
	RelativeCwd string                   `json:"relative_cwd,omitempty"`
	Version     string                   `json:"version"`
}

func (m Manifest) MarshalJSON() ([]byte, error) {
	w := manifestWire{
		Algo:        m.Algo,
		Command:     m.Command,
		Files:       map[string]fileEntryWire{},
		Includes:    m.Includes,
		OS:          m.OS,
		RelativeCwd: m.RelativeCwd,
		Version:     m.Version,
	}
	for p, e := range m.Files {
		w.Files[p] = e.wire(false)
	}
	if m.ReadOnly != ReadOnlyUnset {
		v := 0
		if m.ReadOnly == ReadOnlyTrue {
			v = 1
		}
		w.ReadOnly = &v
	}
	return json.Marshal(w)
}

func (m *Manifest) UnmarshalJSON(data []byte) error {
	var w manifestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Algo = w.Algo
	m.Command = w.Command
	m.Files = map[string]FileEntry{}
	for p, fw := range w.Files {
		m.Files[p] = fw.entry()
	}
	m.Includes = w.Includes
	m.OS = w.OS
	m.RelativeCwd = w.RelativeCwd
	m.Version = w.Version
	if w.ReadOnly != nil {
		if *w.ReadOnly != 0 {
			m.ReadOnly = ReadOnlyTrue
		} else {
			m.ReadOnly = ReadOnlyFalse
		}
	}
	return nil
}

// SplitVariables is the fixed partition order of a manifest split: files whose
// declaration referenced <(DEPTH) land in the first child, <(PRODUCT_DIR)
// in the second, everything else stays in the master manifest.
var SplitVariables = []string{"DEPTH", "PRODUCT_DIR"}

// SplitResult is the outcome of partitioning a Manifest's files along the
// DEPTH / PRODUCT_DIR path variables.
type SplitResult struct {
	Master   Manifest
	Children []Manifest // in SplitVariables order, empty bins skipped
}

// SplitManifest partitions m.Files into a master bin plus up to one child
// bin per entry of SplitVariables. fileVars records, per manifest path,
// which path variable the .isolate declaration of that file referenced --
// matching on the resolved path prefix alone cannot work, since DEPTH is
// conventionally "." and would swallow everything. Child manifests carry
// only the file subset: no command and no relative_cwd, those stay with
// the master.
func SplitManifest(m Manifest, fileVars map[string]string) SplitResult {
	master := m
	master.Files = map[string]FileEntry{}
	bins := map[string]map[string]FileEntry{}

	for path, entry := range m.Files {
		binned := false
		if v := fileVars[path]; v != "" {
			for _, sv := range SplitVariables {
				if v == sv {
					if bins[v] == nil {
						bins[v] = map[string]FileEntry{}
					}
					bins[v][path] = entry
					binned = true
					break
				}
			}
		}
		if !binned {
			master.Files[path] = entry
		}
	}

	result := SplitResult{Master: master}
	for _, sv := range SplitVariables {
		if len(bins[sv]) == 0 {
			continue
		}
		result.Children = append(result.Children, Manifest{
			Algo:    m.Algo,
			Files:   bins[sv],
			OS:      m.OS,
			Version: m.Version,
		})
	}
	return result
}
