// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package common

import (
	"os"
	"path/filepath"
	"testing"
)
import . "chromium.googlesource.com/infra/swarming/isolate-go/internal/types"

func TestURLToHTTPS(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"isolateserver.appspot.com", "https://isolateserver.appspot.com", true},
		{"https://isolateserver.appspot.com", "https://isolateserver.appspot.com", true},
		{"http://isolateserver.appspot.com", "", false},
	}
	for _, c := range cases {
		got, err := URLToHTTPS(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("URLToHTTPS(%q) = %q, %v; want %q", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Errorf("URLToHTTPS(%q) should have been rejected", c.in)
		}
	}
}

func TestIsolatedFileToState(t *testing.T) {
	if got := IsolatedFileToState("foo.isolated"); got != "foo.isolated.state" {
		t.Errorf("IsolatedFileToState = %q", got)
	}
}

func TestGetFileNameWithoutExtension(t *testing.T) {
	if got := GetFileNameWithoutExtension("/a/b/foo.isolated"); got != "foo" {
		t.Errorf("GetFileNameWithoutExtension = %q, want foo", got)
	}
}

func TestNKVArgCollect(t *testing.T) {
	values := KeyVars{}
	c := NKVArgCollect{Values: &values, OptName: "--config-variable"}
	if err := c.Set("OS=linux"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set("OS=mac"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if values["OS"] != "mac" {
		t.Errorf("last occurrence should win, got %v", values)
	}
	if err := c.Set("novalue"); err == nil {
		t.Error("Set without '=' should error")
	}
}

func TestWriteJSONFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	if err := WriteJSONFile(path, map[string]int{"b": 2, "a": 1}, false); err != nil {
		t.Fatalf("WriteJSONFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Keys sorted, compact: the property .isolated determinism rests on.
	if string(data) != `{"a":1,"b":2}` {
		t.Errorf("WriteJSONFile output = %s", data)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp file left behind: %v", entries)
	}
}
