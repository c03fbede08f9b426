// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package common

import (
	"strings"

	"github.com/bmatcuk/doublestar"
)

// DefaultBlacklist is the set of patterns excluded from every manifest
// walk; caller-supplied patterns are added to it, never replace it. A
// pattern containing '/' is matched
// against the full relative path; a pattern without '/' is matched against
// the basename of every path component, so e.g. "foo/.git" is blocked by
// the ".git" pattern even though ".git" itself never appears as a full
// relative path.
var DefaultBlacklist = []string{
	"*.pyc",
	"*.swp",
	".git",
	".hg",
	".svn",
	"testserver.log",
	"*.run_test_cases",
}

// BlacklistFunc reports whether a relative path should be excluded from a
// manifest.
type BlacklistFunc func(relPath string) bool

// GenBlacklist compiles a list of glob patterns into a BlacklistFunc.
//
// A pattern with no '/' matches the basename of the path or of any of its
// parent directories (so "foo/bar/.git" is blocked by the bare ".git"
// pattern). A pattern containing '/' is matched against the full relative
// path (using posix-style '/' separators) only.
func GenBlacklist(patterns []string) BlacklistFunc {
	basenamePatterns := []string{}
	fullPathPatterns := []string{}
	for _, p := range patterns {
		if strings.Contains(p, "/") {
			fullPathPatterns = append(fullPathPatterns, p)
		} else {
			basenamePatterns = append(basenamePatterns, p)
		}
	}
	return func(relPath string) bool {
		posixPath := strings.ReplaceAll(relPath, "\\", "/")
		for _, p := range fullPathPatterns {
			if globMatch(p, posixPath) {
				return true
			}
		}
		for _, part := range strings.Split(posixPath, "/") {
			if part == "" {
				continue
			}
			for _, p := range basenamePatterns {
				if globMatch(p, part) {
					return true
				}
			}
		}
		return false
	}
}

// globMatch wraps doublestar.Match with one correction: doublestar's '*'
// matches zero or more characters, so a bare-extension pattern like
// "*.pyc" would also match the literal name ".pyc" with '*' consuming
// nothing. The blacklist only blocks ".ext" suffixes on a non-empty
// basename, so ".pyc", ".swp", and ".run_test_cases" alone must NOT be
// blacklisted even though "foo.pyc" etc. must be. For a pattern of the
// shape "*" + literal (no other glob metacharacters in the literal),
// reject a match where '*' matched the empty string.
func globMatch(pattern, name string) bool {
	ok, _ := doublestar.Match(pattern, name)
	if !ok {
		return false
	}
	if strings.HasPrefix(pattern, "*") {
		suffix := pattern[1:]
		if !strings.ContainsAny(suffix, "*?[") && name == suffix {
			return false
		}
	}
	return true
}
