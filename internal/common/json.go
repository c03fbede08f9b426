// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package common

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
)

// ReadJSONFile reads and decodes a JSON file into v.
func ReadJSONFile(path string, v interface{}) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// WriteJSONFile encodes v as JSON and writes it atomically to path.
//
// encoding/json.Marshal already emits object keys in sorted order, which is
// the property the .isolated format relies on for byte-identical output.
// pretty selects indented, human-friendly output (used for .isolated.state);
// compact single-line output is used for .isolated itself.
func WriteJSONFile(path string, v interface{}, pretty bool) error {
	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, data)
}

// AtomicWriteFile writes data to path by writing to a temp file in the same
// directory and renaming it into place, so a crash never leaves a
// half-written file behind.
func AtomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := ioutil.TempFile(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
