// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package common holds the filesystem, flag, and JSON helpers shared by
// the isolate compiler core and its command-line front end.
package common

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/kr/pretty"
)
import . "chromium.googlesource.com/infra/swarming/isolate-go/internal/types"

// URLToHTTPS ensures the url is https://.
func URLToHTTPS(s string) (string, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	if u.Scheme != "" && u.Scheme != "https" {
		return "", errors.New("only https:// scheme is accepted, and it can be omitted")
	}
	if !strings.HasPrefix(s, "https://") {
		s = "https://" + s
	}
	if _, err = url.Parse(s); err != nil {
		return "", err
	}
	return s, nil
}

// IsDirectory returns true if path is a directory and is accessible.
func IsDirectory(path string) bool {
	fileInfo, err := os.Stat(path)
	return err == nil && fileInfo.IsDir()
}

// IsolatedFileToState returns the path of the sidecar state file paired
// with a .isolated file.
func IsolatedFileToState(isolated string) string {
	return isolated + ".state"
}

// GetNativePathCase canonicalizes a path to the case the filesystem
// stores it under. Case-insensitive filesystems (windows, darwin) need a
// real lookup, which is a host-integration concern left to the caller; on
// case-sensitive filesystems cleaning the path is all there is to do.
func GetNativePathCase(p string) (string, error) {
	if IsWindows() || IsMac() {
		return "", errors.New("common: native path case lookup is not wired for this platform")
	}
	return filepath.Clean(p), nil
}

// GetFileNameWithoutExtension returns the basename of path, extension
// stripped: the target name a .isolated file is registered under.
func GetFileNameWithoutExtension(path string) string {
	fname := filepath.Base(path)
	return strings.TrimSuffix(fname, filepath.Ext(fname))
}

func IsWindows() bool {
	return runtime.GOOS == "windows"
}

func IsMac() bool {
	return runtime.GOOS == "darwin"
}

// StringsCollect accumulates string values from repeated flags.
// Use with flag.Var to accumulate values from "-flag s1 -flag s2".
type StringsCollect struct {
	Values *[]string
}

func (c *StringsCollect) String() string {
	return strings.Join(*c.Values, " ")
}

func (c *StringsCollect) Set(value string) error {
	*c.Values = append(*c.Values, value)
	return nil
}

// NKVArgCollect accumulates multiple key-value pairs for a given flag.
// The only supported form is --flag key=value .
// If the same key appears several times, the value of last occurrence is used.
type NKVArgCollect struct {
	Values  *KeyVars
	OptName string
}

func (c *NKVArgCollect) SetAsFlag(flags *flag.FlagSet, values *KeyVars,
	name string, usage string) {
	c.Values = values
	c.OptName = name
	flags.Var(c, name, usage)
}

func (c *NKVArgCollect) String() string {
	return pretty.Sprintf("%v", *c.Values)
}

func (c *NKVArgCollect) Set(value string) error {
	kv := strings.SplitN(value, "=", 2)
	if len(kv) != 2 {
		return fmt.Errorf("please use %s FOO=BAR", c.OptName)
	}
	key, value := kv[0], kv[1]
	(*c.Values)[key] = value
	return nil
}
