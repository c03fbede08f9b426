// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package isolate

import (
	"path/filepath"
	"strings"
	"testing"
)

// TestLoadCompleteStatePathVariableNotDirectory: a path variable pointing
// at a non-existent directory is a ConfigError
// naming the offending path.
func TestLoadCompleteStatePathVariableNotDirectory(t *testing.T) {
	dir := t.TempDir()
	isolatePath := filepath.Join(dir, "foo.isolate")
	mustWrite(t, isolatePath, `{
		'conditions': [
			['OS=="linux"', {'variables': {'isolate_dependency_tracked': ['<(PRODUCT_DIR)/a.txt']}}],
		],
	}`)

	_, err := LoadCompleteState(CompleteStateOptions{
		IsolateFile:     isolatePath,
		PathVariables:   map[string]string{"PRODUCT_DIR": "tests/isolate"},
		ConfigVariables: map[string]string{"OS": "linux"},
	})
	if err == nil {
		t.Fatal("expected an error for a missing PRODUCT_DIR directory")
	}
	if !IsConfigError(err) {
		t.Errorf("expected a ConfigError, got %T: %v", err, err)
	}
	wantAbs := filepath.Join(dir, "tests/isolate")
	if !strings.Contains(err.Error(), wantAbs) || !strings.Contains(err.Error(), "not a directory") {
		t.Errorf("error %q does not mention %q is not a directory", err.Error(), wantAbs)
	}
}

// TestLoadCompleteStateEndToEnd exercises the assembler's happy path: root_dir
// computation, relative_cwd, <(NAME) substitution, and file hashing.
func TestLoadCompleteStateEndToEnd(t *testing.T) {
	root := t.TempDir()
	srcDir := filepath.Join(root, "src")
	productDir := filepath.Join(srcDir, "out", "Release")
	sharedDir := filepath.Join(root, "shared")
	mustMkdir(t, productDir)
	mustMkdir(t, sharedDir)
	mustWrite(t, filepath.Join(productDir, "app"), "binary-contents")
	mustWrite(t, filepath.Join(srcDir, "run.py"), "print('hi')")
	// A file declared outside of srcDir forces root_dir up past src/ to
	// their shared ancestor, exercising the common-ancestor computation.
	mustWrite(t, filepath.Join(sharedDir, "other.txt"), "shared-data")

	isolatePath := filepath.Join(srcDir, "run.isolate")
	mustWrite(t, isolatePath, `{
		'conditions': [
			['OS=="linux"', {
				'variables': {
					'command': ['<(PRODUCT_DIR)/app<(EXECUTABLE_SUFFIX)'],
					'isolate_dependency_tracked': ['run.py', '../shared/other.txt'],
				},
			}],
		],
	}`)

	cs, err := LoadCompleteState(CompleteStateOptions{
		IsolateFile:     isolatePath,
		PathVariables:   map[string]string{"PRODUCT_DIR": "out/Release"},
		ConfigVariables: map[string]string{"OS": "linux"},
	})
	if err != nil {
		t.Fatalf("LoadCompleteState: %v", err)
	}

	if cs.RootDir != root {
		t.Errorf("RootDir = %q, want %q", cs.RootDir, root)
	}
	if cs.SavedState.RelativeCwd != "src" {
		t.Errorf("RelativeCwd = %q, want %q", cs.SavedState.RelativeCwd, "src")
	}
	wantCommand := []string{"out/Release/app"}
	if len(cs.SavedState.Command) != 1 || cs.SavedState.Command[0] != wantCommand[0] {
		t.Errorf("Command = %v, want %v", cs.SavedState.Command, wantCommand)
	}
	entry, ok := cs.SavedState.Files["src/run.py"]
	if !ok {
		t.Fatalf("expected src/run.py in the resolved files map: %v", cs.SavedState.Files)
	}
	if entry.Hash == "" {
		t.Errorf("src/run.py should have been hashed")
	}
	if _, ok := cs.SavedState.Files["shared/other.txt"]; !ok {
		t.Errorf("expected shared/other.txt in the resolved files map: %v", cs.SavedState.Files)
	}
}

// TestLoadCompleteStateSubdir covers the --subdir supplement: narrowing to
// a subdirectory drops files outside it without changing RootDir or
// relative_cwd.
func TestLoadCompleteStateSubdir(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "a.txt"), "a")
	mustMkdir(t, filepath.Join(root, "keep"))
	mustWrite(t, filepath.Join(root, "keep", "b.txt"), "b")

	isolatePath := filepath.Join(root, "run.isolate")
	mustWrite(t, isolatePath, `{
		'conditions': [
			['OS=="linux"', {
				'variables': {
					'isolate_dependency_tracked': ['a.txt', 'keep/b.txt'],
				},
			}],
		],
	}`)

	cs, err := LoadCompleteState(CompleteStateOptions{
		IsolateFile:     isolatePath,
		ConfigVariables: map[string]string{"OS": "linux"},
		Subdir:          "keep",
	})
	if err != nil {
		t.Fatalf("LoadCompleteState: %v", err)
	}
	if cs.RootDir != root {
		t.Errorf("RootDir = %q, want %q (subdir must not narrow RootDir)", cs.RootDir, root)
	}
	if _, ok := cs.SavedState.Files["keep/b.txt"]; !ok {
		t.Errorf("expected keep/b.txt to survive the subdir filter: %v", cs.SavedState.Files)
	}
	if _, ok := cs.SavedState.Files["a.txt"]; ok {
		t.Errorf("a.txt should have been dropped by the subdir filter: %v", cs.SavedState.Files)
	}
}

// TestLoadCompleteStateIgnoreBrokenItems covers --ignore-broken-items:
// a declared input that no longer exists is skipped instead of failing,
// while a present file is still hashed normally.
func TestLoadCompleteStateIgnoreBrokenItems(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "present.txt"), "x")

	isolatePath := filepath.Join(dir, "foo.isolate")
	mustWrite(t, isolatePath, `{
		'conditions': [
			['OS=="linux"', {'variables': {'isolate_dependency_tracked': ['present.txt', 'gone.txt']}}],
		],
	}`)

	_, err := LoadCompleteState(CompleteStateOptions{
		IsolateFile:     isolatePath,
		ConfigVariables: map[string]string{"OS": "linux"},
	})
	if err == nil {
		t.Fatal("expected a ConfigError without -ignore-broken-items")
	}

	cs, err := LoadCompleteState(CompleteStateOptions{
		IsolateFile:       isolatePath,
		ConfigVariables:   map[string]string{"OS": "linux"},
		IgnoreBrokenItems: true,
	})
	if err != nil {
		t.Fatalf("LoadCompleteState with IgnoreBrokenItems: %v", err)
	}
	if _, ok := cs.SavedState.Files["present.txt"]; !ok {
		t.Errorf("expected present.txt to still be hashed: %v", cs.SavedState.Files)
	}
	if _, ok := cs.SavedState.Files["gone.txt"]; ok {
		t.Errorf("gone.txt should have been skipped: %v", cs.SavedState.Files)
	}
}

// TestLoadCompleteStateTouchedNotHashed covers the files_touched
// invariant end to end: a touched input is recorded in the resolved files
// map (so its presence is still tracked) but carries no content hash,
// unlike a tracked input declared alongside it.
func TestLoadCompleteStateTouchedNotHashed(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "tracked.txt"), "read by the command")
	mustWrite(t, filepath.Join(dir, "touched.bin"), "opened but never read")

	isolatePath := filepath.Join(dir, "foo.isolate")
	mustWrite(t, isolatePath, `{
		'conditions': [
			['OS=="linux"', {
				'variables': {
					'isolate_dependency_tracked': ['tracked.txt'],
					'isolate_dependency_touched': ['touched.bin'],
				},
			}],
		],
	}`)

	cs, err := LoadCompleteState(CompleteStateOptions{
		IsolateFile:     isolatePath,
		ConfigVariables: map[string]string{"OS": "linux"},
	})
	if err != nil {
		t.Fatalf("LoadCompleteState: %v", err)
	}

	tracked, ok := cs.SavedState.Files["tracked.txt"]
	if !ok {
		t.Fatalf("expected tracked.txt in the resolved files map: %v", cs.SavedState.Files)
	}
	if tracked.Hash == "" {
		t.Errorf("tracked.txt should have been hashed")
	}

	touched, ok := cs.SavedState.Files["touched.bin"]
	if !ok {
		t.Fatalf("expected touched.bin in the resolved files map: %v", cs.SavedState.Files)
	}
	if touched.Hash != "" {
		t.Errorf("touched.bin should be recorded without a content hash, got %q", touched.Hash)
	}
	if touched.Size == 0 {
		t.Errorf("touched.bin should still have its size recorded")
	}
}

// TestLoadCompleteStateMissingConfigVariable: a config-variable axis
// referenced by the isolate file but not supplied on the command line is a
// ConfigError naming the missing variable.
func TestLoadCompleteStateMissingConfigVariable(t *testing.T) {
	dir := t.TempDir()
	isolatePath := filepath.Join(dir, "foo.isolate")
	mustWrite(t, isolatePath, `{
		'conditions': [
			['OS=="linux"', {'variables': {'isolate_dependency_tracked': ['a.txt']}}],
		],
	}`)
	mustWrite(t, filepath.Join(dir, "a.txt"), "x")

	_, err := LoadCompleteState(CompleteStateOptions{
		IsolateFile:     isolatePath,
		ConfigVariables: map[string]string{},
	})
	if err == nil || !IsConfigError(err) {
		t.Fatalf("expected a ConfigError for the missing OS config variable, got %v", err)
	}
	if !strings.Contains(err.Error(), "OS") {
		t.Errorf("error should name the missing axis OS: %v", err)
	}
}
