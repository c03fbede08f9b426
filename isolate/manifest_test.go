// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package isolate

import (
	"encoding/json"
	"testing"
)

// TestSplitManifest partitions a compiled file map: files declared
// through <(DEPTH) and <(PRODUCT_DIR) each land in their own child, files
// declared without a path variable stay in the master. The split keys off
// the declaration's variable, not the resolved path -- DEPTH is
// conventionally "." and a prefix match on it would swallow everything.
func TestSplitManifest(t *testing.T) {
	m := Manifest{
		Algo: HashAlgo,
		Files: map[string]FileEntry{
			"split.py":                  {Hash: "aaa", Size: 1},
			"test/data/foo.txt":         {Hash: "bbb", Size: 2},
			"files1/subdir/42.txt":      {Hash: "ccc", Size: 3},
			"files1/subdir/nested/x.go": {Hash: "ddd", Size: 4},
		},
		OS:          "linux",
		RelativeCwd: ".",
		Version:     IsolatedVersion,
	}
	fileVars := map[string]string{
		"test/data/foo.txt":         "DEPTH",
		"files1/subdir/42.txt":      "PRODUCT_DIR",
		"files1/subdir/nested/x.go": "PRODUCT_DIR",
	}

	result := SplitManifest(m, fileVars)
	if len(result.Master.Files) != 1 {
		t.Fatalf("master should retain only split.py, got %v", result.Master.Files)
	}
	if _, ok := result.Master.Files["split.py"]; !ok {
		t.Errorf("master missing split.py: %v", result.Master.Files)
	}

	if len(result.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(result.Children))
	}
	depthChild, productChild := result.Children[0], result.Children[1]
	if _, ok := depthChild.Files["test/data/foo.txt"]; !ok {
		t.Errorf("DEPTH child missing test/data/foo.txt: %v", depthChild.Files)
	}
	if len(productChild.Files) != 2 {
		t.Errorf("PRODUCT_DIR child should hold both files1/ entries, got %v", productChild.Files)
	}
	for p := range productChild.Files {
		if p != "files1/subdir/42.txt" && p != "files1/subdir/nested/x.go" {
			t.Errorf("unexpected path in PRODUCT_DIR child: %s", p)
		}
	}
	for i, child := range result.Children {
		if child.RelativeCwd != "" || len(child.Command) != 0 {
			t.Errorf("child %d must not carry relative_cwd or command: %+v", i, child)
		}
	}
}

func TestSplitManifestNoVariables(t *testing.T) {
	m := Manifest{Algo: HashAlgo, Files: map[string]FileEntry{"a": {Hash: "x", Size: 1}}}
	result := SplitManifest(m, nil)
	if len(result.Children) != 0 {
		t.Errorf("expected no children when no file used a split variable, got %d", len(result.Children))
	}
	if len(result.Master.Files) != 1 {
		t.Errorf("master should retain the only file")
	}
}

// TestManifestJSONRoundTrip pins the .isolated wire schema: compact,
// sorted keys, hash/size/mode fields, and a symlink entry that omits
// hash/size in favor of 'l'.
func TestManifestJSONRoundTrip(t *testing.T) {
	m := Manifest{
		Algo: HashAlgo,
		Files: map[string]FileEntry{
			"regular.txt": {Hash: "abc123", Size: 42, Mode: 0644},
			"link.txt":    {Link: "regular.txt"},
		},
		OS:          "linux",
		RelativeCwd: ".",
		Version:     IsolatedVersion,
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var back Manifest
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Files["regular.txt"].Hash != "abc123" || back.Files["regular.txt"].Size != 42 {
		t.Errorf("regular.txt round trip mismatch: %+v", back.Files["regular.txt"])
	}
	if back.Files["link.txt"].Link != "regular.txt" {
		t.Errorf("link.txt round trip mismatch: %+v", back.Files["link.txt"])
	}
	// Mtime is never part of a Manifest (only SavedState carries 't').
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal raw: %v", err)
	}
	files := raw["files"].(map[string]interface{})
	regular := files["regular.txt"].(map[string]interface{})
	if _, ok := regular["t"]; ok {
		t.Errorf("a Manifest's file entries must not carry 't' (mtime): %v", regular)
	}
}
