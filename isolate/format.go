// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package isolate

import (
	"strconv"
	"strings"
)

// This file implements the canonical pretty-printer used by the 'rewrite'
// command: IsolateAST -> the same Python-literal-ish text .isolate files
// are hand-written in. One quirk is deliberate: 'read_only' never gets a
// trailing comma (see writeVariablesBody).

// PrettyPrint renders ast in the canonical form, with comment preserved
// verbatim ahead of the dict literal.
func PrettyPrint(ast IsolateAST) string {
	var b strings.Builder
	b.WriteString(ast.Comment)
	b.WriteString("{\n")
	if ast.HasDefaultVariables {
		b.WriteString("  'variables': {\n")
		writeVariablesBody(&b, ast.DefaultVariables, "    ")
		b.WriteString("  },\n")
	}
	if len(ast.Clauses) > 0 {
		b.WriteString("  'conditions': [\n")
		for _, cl := range ast.Clauses {
			writeClause(&b, cl)
		}
		b.WriteString("  ],\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func writeClause(b *strings.Builder, cl Clause) {
	b.WriteString("    ['")
	b.WriteString(strings.ReplaceAll(cl.ExprText, "'", "\\'"))
	b.WriteString("', {\n")
	b.WriteString("      'variables': {\n")
	writeVariablesBody(b, cl.Then, "        ")
	b.WriteString("      },\n")
	if cl.HasElse {
		b.WriteString("    }, {\n")
		b.WriteString("      'variables': {\n")
		writeVariablesBody(b, cl.Else, "        ")
		b.WriteString("      },\n")
	}
	b.WriteString("    }],\n")
}

// writeVariablesBody writes the contents of one 'variables' dict in the
// order: command, relative_cwd, read_only, isolate_dependency_tracked,
// isolate_dependency_untracked, isolate_dependency_touched. Every entry
// has a trailing comma EXCEPT read_only, which never does -- not a typo,
// existing tooling expects these exact bytes.
func writeVariablesBody(b *strings.Builder, v Variables, indent string) {
	if len(v.Command) > 0 {
		writeStringList(b, indent, "command", v.Command, true)
	}
	if v.RelativeCwd != "" {
		b.WriteString(indent)
		b.WriteString("'relative_cwd': ")
		writeQuotedString(b, v.RelativeCwd)
		b.WriteString(",\n")
	}
	if v.ReadOnly != ReadOnlyUnset {
		b.WriteString(indent)
		b.WriteString("'read_only': ")
		if v.ReadOnly == ReadOnlyTrue {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
		b.WriteString("\n")
	}
	if len(v.FilesTracked) > 0 {
		writeStringList(b, indent, KeyTracked, v.FilesTracked, true)
	}
	if len(v.FilesUntracked) > 0 {
		writeStringList(b, indent, KeyUntracked, v.FilesUntracked, true)
	}
	if len(v.FilesTouched) > 0 {
		writeStringList(b, indent, KeyTouched, v.FilesTouched, true)
	}
}

func writeStringList(b *strings.Builder, indent, key string, items []string, trailingComma bool) {
	b.WriteString(indent)
	b.WriteString("'")
	b.WriteString(key)
	b.WriteString("': [\n")
	for _, item := range items {
		b.WriteString(indent)
		b.WriteString("  ")
		writeQuotedString(b, item)
		b.WriteString(",\n")
	}
	b.WriteString(indent)
	b.WriteString("]")
	if trailingComma {
		b.WriteString(",")
	}
	b.WriteString("\n")
}

// writeQuotedString reproduces Python repr()'s single-quote preference,
// escaping embedded single quotes and backslashes.
func writeQuotedString(b *strings.Builder, s string) {
	q := strconv.Quote(s)
	inner := q[1 : len(q)-1]
	inner = strings.ReplaceAll(inner, `\"`, `"`)
	inner = strings.ReplaceAll(inner, `'`, `\'`)
	b.WriteString("'")
	b.WriteString(inner)
	b.WriteString("'")
}
