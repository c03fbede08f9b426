// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package isolate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// TestIsolateEndToEnd drives the full compile pipeline through Isolate():
// load, hash, write the .isolated and its sidecar, and report the master
// hash under the target name derived from the .isolated filename.
func TestIsolateEndToEnd(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	mustWrite(t, filepath.Join(src, "hello.py"), "print('hello')")
	isolatePath := filepath.Join(src, "hello.isolate")
	mustWrite(t, isolatePath, `{
		'conditions': [
			['OS=="linux"', {
				'variables': {
					'command': ['python', 'hello.py'],
					'isolate_dependency_tracked': ['hello.py'],
				},
			}],
		],
	}`)
	isolatedPath := filepath.Join(out, "hello.isolated")

	opts := ArchiveOptions{}
	opts.Init()
	opts.Isolate = isolatePath
	opts.Isolated = isolatedPath
	opts.ConfigVariables["OS"] = "linux"

	hashes, assets, err := Isolate([]Tree{{Opts: opts}})
	if err != nil {
		t.Fatalf("Isolate: %v", err)
	}
	if _, ok := hashes["hello"]; !ok {
		t.Errorf("expected a master hash for target 'hello', got %v", hashes)
	}
	if len(assets) != 1 || assets[0].RelPath != "hello.py" {
		t.Errorf("expected exactly hello.py as an upload asset, got %+v", assets)
	}

	var manifest Manifest
	if err := readJSON(t, isolatedPath, &manifest); err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	if manifest.Version != IsolatedVersion || manifest.Algo != HashAlgo {
		t.Errorf("manifest header mismatch: %+v", manifest)
	}
	if _, ok := manifest.Files["hello.py"]; !ok {
		t.Errorf("manifest missing hello.py: %v", manifest.Files)
	}

	state, err := LoadSavedState(StatePath(isolatedPath))
	if err != nil {
		t.Fatalf("LoadSavedState after compile: %v", err)
	}
	if state.Files["hello.py"].Mtime == 0 {
		t.Errorf("saved state must record mtime for incremental runs: %+v", state.Files["hello.py"])
	}
}

// TestIsolateStaleManifest: a pre-seeded .isolated
// full of "invalid" hashes and no sidecar state forces a full re-hash and
// produces a valid manifest with mtimes recorded in the new sidecar.
func TestIsolateStaleManifest(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	mustWrite(t, filepath.Join(src, "foo.py"), "pass")
	isolatePath := filepath.Join(src, "foo.isolate")
	mustWrite(t, isolatePath, `{
		'conditions': [
			['OS=="linux"', {
				'variables': {
					'isolate_dependency_tracked': ['foo.py'],
				},
			}],
		],
	}`)
	isolatedPath := filepath.Join(out, "foo.isolated")
	mustWrite(t, isolatedPath,
		`{"algo":"sha-1","files":{"foo.py":{"h":"invalid","s":4,"t":1335146921}},"version":"`+IsolatedVersion+`"}`)

	opts := ArchiveOptions{}
	opts.Init()
	opts.Isolate = isolatePath
	opts.Isolated = isolatedPath
	opts.ConfigVariables["OS"] = "linux"

	if _, _, err := Isolate([]Tree{{Opts: opts}}); err != nil {
		t.Fatalf("Isolate: %v", err)
	}

	var manifest Manifest
	if err := readJSON(t, isolatedPath, &manifest); err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	entry := manifest.Files["foo.py"]
	if entry.Hash == "" || entry.Hash == "invalid" {
		t.Errorf("foo.py should have been re-hashed, got %q", entry.Hash)
	}
	state, err := LoadSavedState(StatePath(isolatedPath))
	if err != nil {
		t.Fatalf("LoadSavedState: %v", err)
	}
	if state.Files["foo.py"].Mtime == 0 {
		t.Errorf("saved state must carry the fresh mtime: %+v", state.Files["foo.py"])
	}
}

// TestIsolateSplitManifest: with DEPTH and
// PRODUCT_DIR set, the compile emits exactly master + two children + the
// sidecar, the master retaining only the variable-free file plus two
// includes hashes, while the sidecar keeps the full file map.
func TestIsolateSplitManifest(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	mustWrite(t, filepath.Join(src, "split.py"), "print('split')")
	mustMkdir(t, filepath.Join(src, "test", "data"))
	mustWrite(t, filepath.Join(src, "test", "data", "foo.txt"), "foo")
	mustMkdir(t, filepath.Join(src, "files1", "subdir"))
	mustWrite(t, filepath.Join(src, "files1", "subdir", "42.txt"), "42")
	isolatePath := filepath.Join(src, "split.isolate")
	mustWrite(t, isolatePath, `{
		'variables': {
			'command': ['python', 'split.py'],
			'isolate_dependency_tracked': [
				'<(DEPTH)/test/data/foo.txt',
				'<(PRODUCT_DIR)/subdir/42.txt',
				'split.py',
			],
		},
	}`)
	isolatedPath := filepath.Join(out, "foo.isolated")

	opts := ArchiveOptions{}
	opts.Init()
	opts.Isolate = isolatePath
	opts.Isolated = isolatedPath
	opts.Split = true
	opts.ConfigVariables["OS"] = "linux"
	opts.PathVariables["DEPTH"] = "."
	opts.PathVariables["PRODUCT_DIR"] = "files1"

	if _, _, err := Isolate([]Tree{{Opts: opts}}); err != nil {
		t.Fatalf("Isolate: %v", err)
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"foo.0.isolated", "foo.1.isolated", "foo.isolated", "foo.isolated.state"}
	if !equalStrings(names, want) {
		t.Fatalf("output directory = %v, want %v", names, want)
	}

	var master Manifest
	if err := readJSON(t, isolatedPath, &master); err != nil {
		t.Fatalf("reading master: %v", err)
	}
	if len(master.Files) != 1 {
		t.Errorf("master should hold only split.py, got %v", master.Files)
	}
	if _, ok := master.Files["split.py"]; !ok {
		t.Errorf("master missing split.py: %v", master.Files)
	}
	if len(master.Includes) != 2 {
		t.Errorf("master should reference both children by hash, got %v", master.Includes)
	}

	var child0, child1 Manifest
	if err := readJSON(t, filepath.Join(out, "foo.0.isolated"), &child0); err != nil {
		t.Fatal(err)
	}
	if err := readJSON(t, filepath.Join(out, "foo.1.isolated"), &child1); err != nil {
		t.Fatal(err)
	}
	if _, ok := child0.Files["test/data/foo.txt"]; !ok {
		t.Errorf("DEPTH child should hold test/data/foo.txt: %v", child0.Files)
	}
	if _, ok := child1.Files["files1/subdir/42.txt"]; !ok {
		t.Errorf("PRODUCT_DIR child should hold files1/subdir/42.txt: %v", child1.Files)
	}
	if len(child0.Command) != 0 || child0.RelativeCwd != "" {
		t.Errorf("children must not carry command or relative_cwd: %+v", child0)
	}

	state, err := LoadSavedState(StatePath(isolatedPath))
	if err != nil {
		t.Fatalf("LoadSavedState: %v", err)
	}
	if !equalStrings(state.ChildIsolatedFiles, []string{"foo.0.isolated", "foo.1.isolated"}) {
		t.Errorf("child_isolated_files = %v", state.ChildIsolatedFiles)
	}
	if len(state.Files) != 3 {
		t.Errorf("sidecar must keep the full file map across the split, got %v", state.Files)
	}
}

// TestIsolateDeterministicManifest: two compiles
// of identical inputs write byte-identical .isolated files.
func TestIsolateDeterministicManifest(t *testing.T) {
	src := t.TempDir()
	mustWrite(t, filepath.Join(src, "a.py"), "pass")
	mustWrite(t, filepath.Join(src, "b.py"), "pass")
	isolatePath := filepath.Join(src, "d.isolate")
	mustWrite(t, isolatePath, `{
		'conditions': [
			['OS=="linux"', {
				'variables': {
					'isolate_dependency_tracked': ['a.py', 'b.py'],
				},
			}],
		],
	}`)

	compile := func(outDir string) []byte {
		opts := ArchiveOptions{}
		opts.Init()
		opts.Isolate = isolatePath
		opts.Isolated = filepath.Join(outDir, "d.isolated")
		opts.ConfigVariables["OS"] = "linux"
		if _, _, err := Isolate([]Tree{{Opts: opts}}); err != nil {
			t.Fatalf("Isolate: %v", err)
		}
		data, err := os.ReadFile(opts.Isolated)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	first := compile(t.TempDir())
	second := compile(t.TempDir())
	if string(first) != string(second) {
		t.Errorf("manifest bytes differ between identical compiles:\n%s\n%s", first, second)
	}
}

func readJSON(t *testing.T, path string, v interface{}) error {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
