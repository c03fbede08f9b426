// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package isolate

import (
	"os"
	"path/filepath"
	"sort"
)

// osFallback is the hard-coded OS domain used to synthesize the implicit
// disjunction an 'else' clause (or a top-level 'variables' block) expands
// to when no explicit domain was declared for the OS axis. Any other
// single-valued axis that needs a synthesized
// domain and isn't OS falls back to just the literals seen in the file;
// there is no general-purpose axis domain to guess at.
var osFallback = []string{"linux", "mac", "win"}

// ConvertOldToNewFormat rewrites the legacy
// [condition, then, else] clause form and the top-level 'variables' block
// into the canonical form LoadIsolateAsConfig expects, where every clause
// is a plain (condition, then) pair and there is no default variables
// block. A file using only the canonical form already is returned with
// its clauses reordered but otherwise untouched.
func ConvertOldToNewFormat(ast IsolateAST) (IsolateAST, error) {
	out := IsolateAST{Comment: ast.Comment, Includes: ast.Includes}

	// The domain available to a synthesized disjunction is every literal
	// value seen anywhere in the file for that axis, not just the literals
	// of the clause being converted -- test_convert_old_to_new_else relies
	// on an "OS=="foo"" appearing in a sibling clause to show up in the
	// else domain of an unrelated "OS=="mac"" clause.
	wholeDomains := map[string][]string{}
	for _, cl := range ast.Clauses {
		for axis := range ReferencedAxes(cl.Expr) {
			addDomainLiteral(wholeDomains, axis, DomainOf(cl.Expr, axis))
		}
	}

	var clauses []Clause
	for _, cl := range ast.Clauses {
		clauses = append(clauses, Clause{Expr: cl.Expr, ExprText: cl.ExprText, Then: cl.Then})
		if cl.HasElse {
			elseClause, ok := synthesizeElseClause(cl, wholeDomains)
			if ok {
				clauses = append(clauses, elseClause)
			}
		}
	}
	if ast.HasDefaultVariables {
		clauses = append(clauses, synthesizeDefaultClause(ast, wholeDomains))
	}

	sort.Slice(clauses, func(i, j int) bool { return clauses[i].ExprText < clauses[j].ExprText })
	out.Clauses = clauses
	return out, nil
}

func addDomainLiteral(domains map[string][]string, axis string, lits []Literal) {
	for _, l := range lits {
		s := l.String()
		found := false
		for _, v := range domains[axis] {
			if v == s {
				found = true
				break
			}
		}
		if !found {
			domains[axis] = append(domains[axis], s)
		}
	}
}

// synthesizeElseDomains returns, for each of the given axes, the sorted
// union of its whole-file literals with the OS fallback when axis == "OS".
func synthesizeElseDomains(axes []string, wholeDomains map[string][]string) map[string][]string {
	domains := map[string][]string{}
	for _, axis := range axes {
		vals := append([]string{}, wholeDomains[axis]...)
		if axis == "OS" {
			vals = sortedUniqueStrings(vals, osFallback)
		} else {
			sort.Strings(vals)
		}
		domains[axis] = vals
	}
	return domains
}

// synthesizeElseClause turns cl's else arm into an explicit (condition,
// then) clause whose condition is the disjunction of every binding, over
// cl's referenced axes, that does not satisfy cl's own condition. Returns
// ok=false if the original clause's condition already covers the entire
// synthesized domain, leaving the else arm unreachable.
func synthesizeElseClause(cl Clause, wholeDomains map[string][]string) (Clause, bool) {
	axes := sortedAxisNames(ReferencedAxes(cl.Expr))
	domains := synthesizeElseDomains(axes, wholeDomains)
	bindings := cartesianProduct(axes, domains)
	bset := map[BindingKey]bool{}
	for _, b := range bindings {
		if !EvalCond(cl.Expr, b.Map(axes)) {
			bset[b.Key()] = true
		}
	}
	if len(bset) == 0 {
		return Clause{}, false
	}
	expr := bindingSetToExpr(bset, axes)
	return Clause{Expr: expr, ExprText: ExprString(expr), Then: cl.Else}, true
}

// synthesizeDefaultClause turns the top-level 'variables' block into an
// unconditional clause spanning the full domain of every axis referenced
// anywhere else in the file, so it folds into LoadIsolateAsConfig's
// per-binding union the same way any other clause does.
func synthesizeDefaultClause(ast IsolateAST, wholeDomains map[string][]string) Clause {
	axesSet := map[string]bool{}
	for axis := range wholeDomains {
		axesSet[axis] = true
	}
	axes := sortedAxisNames(axesSet)
	if len(axes) == 0 {
		return Clause{Expr: CondExpr{Kind: CondTrue}, ExprText: "True", Then: ast.DefaultVariables}
	}
	domains := synthesizeElseDomains(axes, wholeDomains)
	bindings := cartesianProduct(axes, domains)
	bset := map[BindingKey]bool{}
	for _, b := range bindings {
		bset[b.Key()] = true
	}
	expr := bindingSetToExpr(bset, axes)
	return Clause{Expr: expr, ExprText: ExprString(expr), Then: ast.DefaultVariables}
}

// LoadIsolateFile reads path, applies legacy conversion, and resolves its
// 'includes' depth-first: later includes in the list take precedence over
// earlier ones, and the file's own clauses take precedence over anything
// pulled in through includes.
func LoadIsolateFile(path string) (Configs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Configs{}, wrapConfigError(err, "reading isolate file "+path)
	}
	return loadIsolateFromBytes(path, data)
}

func loadIsolateFromBytes(path string, data []byte) (Configs, error) {
	ast, err := ParseIsolate(data)
	if err != nil {
		return Configs{}, err
	}
	converted, err := ConvertOldToNewFormat(ast)
	if err != nil {
		return Configs{}, err
	}
	ownCfg, err := LoadIsolateAsConfig(converted, ast.Comment)
	if err != nil {
		return Configs{}, err
	}
	if len(ast.Includes) == 0 {
		return ownCfg, nil
	}

	dir := filepath.Dir(path)
	var includesAcc Configs
	have := false
	for _, inc := range ast.Includes {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(dir, incPath)
		}
		incCfg, err := LoadIsolateFile(incPath)
		if err != nil {
			return Configs{}, err
		}
		if !have {
			includesAcc = incCfg
			have = true
			continue
		}
		includesAcc, err = Union(incCfg, includesAcc)
		if err != nil {
			return Configs{}, err
		}
	}
	return Union(ownCfg, includesAcc)
}
