// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package isolate

import (
	"regexp"
)

// substitutionRef matches a single <(NAME) occurrence.
var substitutionRef = regexp.MustCompile(`<\(([A-Za-z_][A-Za-z0-9_]*)\)`)

// leadingRef matches a <(NAME) reference at the very start of a string.
var leadingRef = regexp.MustCompile(`^<\(([A-Za-z_][A-Za-z0-9_]*)\)`)

// leadingVariable returns the name of the variable a declared path starts
// with, or "" when the path has no leading <(NAME) reference.
func leadingVariable(declared string) string {
	m := leadingRef.FindStringSubmatch(declared)
	if m == nil {
		return ""
	}
	return m[1]
}

// VariableBindings is the merged set of name->value maps substitution
// resolves <(NAME) references against, in lookup order: path variables,
// then extra variables, then config variables.
type VariableBindings struct {
	Path   map[string]string
	Extra  map[string]string
	Config map[string]string
}

func (vb VariableBindings) lookup(name string) (string, bool) {
	if v, ok := vb.Path[name]; ok {
		return v, true
	}
	if v, ok := vb.Extra[name]; ok {
		return v, true
	}
	if v, ok := vb.Config[name]; ok {
		return v, true
	}
	return "", false
}

// substituteString replaces every <(NAME) in s, erroring on the first
// name with no binding.
func substituteString(s string, vb VariableBindings) (string, error) {
	var firstErr error
	out := substitutionRef.ReplaceAllStringFunc(s, func(m string) string {
		if firstErr != nil {
			return m
		}
		name := substitutionRef.FindStringSubmatch(m)[1]
		v, ok := vb.lookup(name)
		if !ok {
			firstErr = newConfigError("undefined variable %q", name)
			return m
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func substituteStrings(ss []string, vb VariableBindings) ([]string, error) {
	out := make([]string, len(ss))
	for i, s := range ss {
		v, err := substituteString(s, vb)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// SubstituteVariables applies <(NAME) substitution to every string-valued
// field of vars: command, the three file lists, and relative_cwd. It is
// applied once a binding's condition has already been selected and before
// the result is handed to manifest assembly.
func SubstituteVariables(vars Variables, vb VariableBindings) (Variables, error) {
	var err error
	out := vars
	if out.Command, err = substituteStrings(vars.Command, vb); err != nil {
		return Variables{}, err
	}
	if out.FilesTracked, err = substituteStrings(vars.FilesTracked, vb); err != nil {
		return Variables{}, err
	}
	if out.FilesUntracked, err = substituteStrings(vars.FilesUntracked, vb); err != nil {
		return Variables{}, err
	}
	if out.FilesTouched, err = substituteStrings(vars.FilesTouched, vb); err != nil {
		return Variables{}, err
	}
	if out.RelativeCwd, err = substituteString(vars.RelativeCwd, vb); err != nil {
		return Variables{}, err
	}
	return out, nil
}
