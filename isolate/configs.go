// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package isolate

import (
	"sort"
	"strconv"
	"strings"
)

// The three dependency-kind keys a Variables block can carry, using the
// exact wire names .isolate files are written with.
const (
	KeyTracked   = "isolate_dependency_tracked"
	KeyUntracked = "isolate_dependency_untracked"
	KeyTouched   = "isolate_dependency_touched"
)

// ReadOnlyState is read_only's tri-state: unset, read-write, or read-only.
type ReadOnlyState int

const (
	ReadOnlyUnset ReadOnlyState = iota
	ReadOnlyFalse
	ReadOnlyTrue
)

// Variables is the per-configuration payload of one binding: command plus
// the three dependency sets plus the read_only tri-state.
type Variables struct {
	Command        []string
	FilesTracked   []string
	FilesUntracked []string
	FilesTouched   []string
	ReadOnly       ReadOnlyState
	RelativeCwd    string
}

func (v Variables) IsEmpty() bool {
	return len(v.Command) == 0 && len(v.FilesTracked) == 0 &&
		len(v.FilesUntracked) == 0 && len(v.FilesTouched) == 0 &&
		v.ReadOnly == ReadOnlyUnset && v.RelativeCwd == ""
}

func sortedUniqueStrings(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// unionVariables merges two Variables blocks. command: lhs wins unless lhs
// is empty. read_only: lhs wins unless lhs is unset, then rhs — callers
// that need "later include wins" ordering pass the later value as lhs.
// File sets: plain setwise union.
func unionVariables(lhs, rhs Variables) Variables {
	out := Variables{}
	out.Command = lhs.Command
	if len(out.Command) == 0 {
		out.Command = rhs.Command
	}
	out.FilesTracked = sortedUniqueStrings(lhs.FilesTracked, rhs.FilesTracked)
	out.FilesUntracked = sortedUniqueStrings(lhs.FilesUntracked, rhs.FilesUntracked)
	out.FilesTouched = sortedUniqueStrings(lhs.FilesTouched, rhs.FilesTouched)
	out.ReadOnly = rhs.ReadOnly
	if lhs.ReadOnly != ReadOnlyUnset {
		out.ReadOnly = lhs.ReadOnly
	}
	out.RelativeCwd = lhs.RelativeCwd
	if out.RelativeCwd == "" {
		out.RelativeCwd = rhs.RelativeCwd
	}
	return out
}

// Binding is a total mapping from axis name to value, represented both as
// an ordered tuple (canonical axis order, for use as a map key) and as a
// name->value map (for condition evaluation and substitution).
type Binding struct {
	// Values is aligned with Configs.Axes; "" is never a legal bound value
	// so callers needing "unbound" use BindingKey with fewer axes instead.
	Values []string
}

// BindingKey is the map key type: an axis-ordered string joined with the
// \x1f unit separator. Axis values never contain that byte in practice
// (they're OS names, booleans-as-strings, or small integers) so this is an
// unambiguous encoding.
type BindingKey string

func makeBindingKey(values []string) BindingKey {
	return BindingKey(strings.Join(values, "\x1f"))
}

func (b Binding) Key() BindingKey { return makeBindingKey(b.Values) }

func (b Binding) Map(axes []string) map[string]string {
	out := make(map[string]string, len(axes))
	for i, a := range axes {
		out[a] = b.Values[i]
	}
	return out
}

// Configs is the fully enumerated per-binding table: axis
// names in canonical (lexicographic) order, each axis's domain, and a
// Variables block per Binding.
type Configs struct {
	Axes        []string
	Domains     map[string][]string // axis -> values in sorted order
	ByBinding   map[BindingKey]Variables
	bindingOrd  []Binding // preserves insertion order for determinism
	FileComment string
}

func newConfigs(axes []string) Configs {
	c := Configs{Axes: append([]string{}, axes...), Domains: map[string][]string{}, ByBinding: map[BindingKey]Variables{}}
	return c
}

func (c *Configs) addDomainValue(axis, value string) {
	for _, v := range c.Domains[axis] {
		if v == value {
			return
		}
	}
	c.Domains[axis] = append(c.Domains[axis], value)
}

func (c *Configs) set(b Binding, v Variables) {
	key := b.Key()
	if _, ok := c.ByBinding[key]; !ok {
		c.bindingOrd = append(c.bindingOrd, b)
	}
	c.ByBinding[key] = v
}

// Bindings returns every binding with an entry, in stable insertion order.
func (c *Configs) Bindings() []Binding {
	return c.bindingOrd
}

// cartesianProduct enumerates every combination of values across the given
// per-axis domains, axes in the order given.
func cartesianProduct(axes []string, domains map[string][]string) []Binding {
	if len(axes) == 0 {
		return []Binding{{Values: []string{}}}
	}
	var out []Binding
	var rec func(i int, cur []string)
	rec = func(i int, cur []string) {
		if i == len(axes) {
			cp := append([]string{}, cur...)
			out = append(out, Binding{Values: cp})
			return
		}
		for _, v := range domains[axes[i]] {
			rec(i+1, append(cur, v))
		}
	}
	rec(0, nil)
	return out
}

// LoadIsolateAsConfig enumerates every binding across the
// axes referenced anywhere in ast, and for each one fold in the default
// variables plus every clause whose condition is satisfied.
func LoadIsolateAsConfig(ast IsolateAST, fileComment string) (Configs, error) {
	axesSet := map[string]bool{}
	for _, cl := range ast.Clauses {
		for a := range ReferencedAxes(cl.Expr) {
			axesSet[a] = true
		}
	}
	axes := sortedAxisNames(axesSet)
	cfg := newConfigs(axes)
	cfg.FileComment = fileComment

	domains := map[string][]string{}
	for _, axis := range axes {
		for _, cl := range ast.Clauses {
			for _, lit := range DomainOf(cl.Expr, axis) {
				seen := false
				for _, v := range domains[axis] {
					if v == lit.String() {
						seen = true
						break
					}
				}
				if !seen {
					domains[axis] = append(domains[axis], lit.String())
				}
			}
		}
		sort.Strings(domains[axis])
		cfg.Domains[axis] = domains[axis]
	}

	bindings := cartesianProduct(axes, domains)
	if len(axes) == 0 {
		bindings = []Binding{{Values: []string{}}}
	}
	for _, b := range bindings {
		bindingMap := b.Map(axes)
		acc := Variables{}
		if ast.HasDefaultVariables {
			acc = unionVariables(acc, ast.DefaultVariables)
		}
		commandsSeen := 0
		for _, cl := range ast.Clauses {
			if EvalCond(cl.Expr, bindingMap) {
				if len(cl.Then.Command) > 0 {
					commandsSeen++
				}
				acc = unionVariables(acc, cl.Then)
			} else if cl.HasElse {
				if len(cl.Else.Command) > 0 {
					commandsSeen++
				}
				acc = unionVariables(acc, cl.Else)
			}
		}
		if commandsSeen > 1 {
			return cfg, newConfigError("more than one command was specified for configuration %v", b.Values)
		}
		if !acc.IsEmpty() {
			cfg.set(b, acc)
		}
	}
	return cfg, nil
}

// Union merges two Configs. Axis sets are unioned; a side missing an
// axis is expanded by cartesian product with that axis's domain on the
// introducing side.
func Union(lhs, rhs Configs) (Configs, error) {
	allAxesSet := map[string]bool{}
	for _, a := range lhs.Axes {
		allAxesSet[a] = true
	}
	for _, a := range rhs.Axes {
		allAxesSet[a] = true
	}
	axes := sortedAxisNames(allAxesSet)

	out := newConfigs(axes)
	out.FileComment = lhs.FileComment
	if out.FileComment == "" {
		out.FileComment = rhs.FileComment
	}
	for _, axis := range axes {
		vals := map[string]bool{}
		var ordered []string
		for _, v := range lhs.Domains[axis] {
			if !vals[v] {
				vals[v] = true
				ordered = append(ordered, v)
			}
		}
		for _, v := range rhs.Domains[axis] {
			if !vals[v] {
				vals[v] = true
				ordered = append(ordered, v)
			}
		}
		sort.Strings(ordered)
		out.Domains[axis] = ordered
	}

	expand := func(c Configs, tag string) (map[BindingKey][]Variables, error) {
		result := map[BindingKey][]Variables{}
		missingAxes := []string{}
		for _, a := range axes {
			found := false
			for _, ca := range c.Axes {
				if ca == a {
					found = true
					break
				}
			}
			if !found {
				missingAxes = append(missingAxes, a)
			}
		}
		for _, b := range c.Bindings() {
			v := c.ByBinding[b.Key()]
			extendedBindings := []Binding{b}
			for _, missing := range missingAxes {
				var next []Binding
				for _, eb := range extendedBindings {
					for _, val := range out.Domains[missing] {
						nv := append(append([]string{}, eb.Values...), val)
						next = append(next, Binding{Values: nv})
					}
				}
				extendedBindings = next
			}
			// Re-align each extended binding's axis order to the union's axis
			// order (original axes first in their original relative order is
			// NOT guaranteed equal to union order, so project explicitly).
			for _, eb := range extendedBindings {
				full := map[string]string{}
				for i, a := range c.Axes {
					full[a] = b.Values[i]
				}
				idx := len(c.Axes)
				for _, missing := range missingAxes {
					full[missing] = eb.Values[idx]
					idx++
				}
				projected := make([]string, len(axes))
				for i, a := range axes {
					projected[i] = full[a]
				}
				key := makeBindingKey(projected)
				result[key] = append(result[key], v)
			}
		}
		return result, nil
	}

	lexpanded, err := expand(lhs, "lhs")
	if err != nil {
		return out, err
	}
	rexpanded, err := expand(rhs, "rhs")
	if err != nil {
		return out, err
	}

	allKeys := map[BindingKey][]string{}
	for k := range lexpanded {
		allKeys[k] = strings.Split(string(k), "\x1f")
	}
	for k := range rexpanded {
		allKeys[k] = strings.Split(string(k), "\x1f")
	}
	// Stable order: sort keys lexicographically for determinism.
	keys := make([]string, 0, len(allKeys))
	for k := range allKeys {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	for _, ks := range keys {
		k := BindingKey(ks)
		values := allKeys[k]
		binding := Binding{Values: values}
		lvs := lexpanded[k]
		rvs := rexpanded[k]
		var acc Variables
		hasAcc := false
		for _, v := range lvs {
			if !hasAcc {
				acc = v
				hasAcc = true
			} else {
				acc = unionVariables(acc, v)
			}
		}
		for _, v := range rvs {
			// Command conflicts are resolved by priority, not by erroring:
			// unionVariables keeps acc's (the earlier-folded, higher-priority
			// side's) command whenever it is non-empty. Callers control which
			// side wins by choosing call order (see legacy.go).
			if !hasAcc {
				acc = v
				hasAcc = true
			} else {
				acc = unionVariables(acc, v)
			}
		}
		if hasAcc && !acc.IsEmpty() {
			out.set(binding, acc)
		}
	}
	return out, nil
}

// Flatten projects Configs to a plain map<Binding, Variables>, dropping
// empty bindings.
func Flatten(c Configs) map[BindingKey]Variables {
	out := map[BindingKey]Variables{}
	for k, v := range c.ByBinding {
		if !v.IsEmpty() {
			out[k] = v
		}
	}
	return out
}

// InvertedMap associates each collection element (a single file path, a
// whole command tuple rendered as one string, or a read_only scalar) with
// the set of bindings that have it.
type InvertedMap struct {
	// Variable -> element key -> set of binding keys that have it.
	Command        map[string]map[BindingKey]bool
	FilesTracked   map[string]map[BindingKey]bool
	FilesUntracked map[string]map[BindingKey]bool
	FilesTouched   map[string]map[BindingKey]bool
	ReadOnly       map[string]map[BindingKey]bool // key "0" / "1"
}

func newInvertedMap() InvertedMap {
	return InvertedMap{
		Command:        map[string]map[BindingKey]bool{},
		FilesTracked:   map[string]map[BindingKey]bool{},
		FilesUntracked: map[string]map[BindingKey]bool{},
		FilesTouched:   map[string]map[BindingKey]bool{},
		ReadOnly:       map[string]map[BindingKey]bool{},
	}
}

func addInverted(m map[string]map[BindingKey]bool, key string, b BindingKey) {
	if m[key] == nil {
		m[key] = map[BindingKey]bool{}
	}
	m[key][b] = true
}

// InvertMap turns a per-binding table inside out: per variable, per
// element, the set of bindings that carry it.
func InvertMap(flat map[BindingKey]Variables) InvertedMap {
	out := newInvertedMap()
	for b, v := range flat {
		if len(v.Command) > 0 {
			addInverted(out.Command, strings.Join(v.Command, "\x00"), b)
		}
		for _, f := range v.FilesTracked {
			addInverted(out.FilesTracked, f, b)
		}
		for _, f := range v.FilesUntracked {
			addInverted(out.FilesUntracked, f, b)
		}
		for _, f := range v.FilesTouched {
			addInverted(out.FilesTouched, f, b)
		}
		switch v.ReadOnly {
		case ReadOnlyTrue:
			addInverted(out.ReadOnly, "1", b)
		case ReadOnlyFalse:
			addInverted(out.ReadOnly, "0", b)
		}
	}
	return out
}

func isSubset(a, b map[BindingKey]bool) bool {
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func setEqual(a, b map[BindingKey]bool) bool {
	if len(a) != len(b) {
		return false
	}
	return isSubset(a, b)
}

// reduceFileSet applies subfolder subsumption within one variable family:
// a directory entry "P/" with binding set S subsumes any entry beginning
// with "P/" whose binding set is a subset of S.
func reduceFileSet(m map[string]map[BindingKey]bool) (map[string]map[BindingKey]bool, bool) {
	changed := false
	out := map[string]map[BindingKey]bool{}
	for k, v := range m {
		out[k] = v
	}
	for dir, dirSet := range m {
		if !strings.HasSuffix(dir, "/") {
			continue
		}
		if _, stillThere := out[dir]; !stillThere {
			continue
		}
		for path, pathSet := range m {
			if path == dir {
				continue
			}
			if _, stillThere := out[path]; !stillThere {
				continue
			}
			if strings.HasPrefix(path, dir) && isSubset(pathSet, dirSet) {
				delete(out, path)
				changed = true
			}
		}
	}
	return out, changed
}

// ReduceInputs minimizes an inverted map: a fixpoint of subfolder
// subsumption, tracked-over-untracked precedence, and touched-weakest
// removal.
func ReduceInputs(inv InvertedMap) InvertedMap {
	out := inv
	for {
		changed := false
		var c bool
		out.FilesTracked, c = reduceFileSet(out.FilesTracked)
		changed = changed || c
		out.FilesUntracked, c = reduceFileSet(out.FilesUntracked)
		changed = changed || c
		out.FilesTouched, c = reduceFileSet(out.FilesTouched)
		changed = changed || c

		// An untracked directory also subsumes tracked entries beneath it:
		// the walk of the directory picks those files up anyway, so listing
		// them as tracked adds nothing once the directory's binding set
		// covers theirs.
		for dir, dirSet := range out.FilesUntracked {
			if !strings.HasSuffix(dir, "/") {
				continue
			}
			for path, pathSet := range out.FilesTracked {
				if strings.HasPrefix(path, dir) && isSubset(pathSet, dirSet) {
					delete(out.FilesTracked, path)
					changed = true
				}
			}
		}

		// Tracked/untracked overlap: tracked wins for the overlapping
		// bindings; untracked keeps only its non-overlapping bindings.
		newUntracked := map[string]map[BindingKey]bool{}
		for path, untrackedSet := range out.FilesUntracked {
			trackedSet, isTracked := out.FilesTracked[path]
			if !isTracked {
				newUntracked[path] = untrackedSet
				continue
			}
			remainder := map[BindingKey]bool{}
			for b := range untrackedSet {
				if !trackedSet[b] {
					remainder[b] = true
				}
			}
			if len(remainder) > 0 {
				newUntracked[path] = remainder
			}
			if !setEqual(remainder, untrackedSet) {
				changed = true
			}
		}
		out.FilesUntracked = newUntracked

		// Touched is weakest: drop bindings already covered by tracked,
		// untracked, or a containing untracked directory for that path.
		newTouched := map[string]map[BindingKey]bool{}
		for path, touchedSet := range out.FilesTouched {
			remainder := map[BindingKey]bool{}
			for b := range touchedSet {
				covered := false
				if s := out.FilesTracked[path]; s != nil && s[b] {
					covered = true
				}
				if !covered {
					if s := out.FilesUntracked[path]; s != nil && s[b] {
						covered = true
					}
				}
				if !covered {
					for dir, dirSet := range out.FilesUntracked {
						if strings.HasSuffix(dir, "/") && strings.HasPrefix(path, dir) && dirSet[b] {
							covered = true
							break
						}
					}
				}
				if !covered {
					remainder[b] = true
				}
			}
			if len(remainder) > 0 {
				newTouched[path] = remainder
			}
			if !setEqual(remainder, touchedSet) {
				changed = true
			}
		}
		out.FilesTouched = newTouched

		if !changed {
			break
		}
	}
	return out
}

// ConvertMapToConditions is the inverse transform
// from a per-configuration table back to a minimal set of conditional
// clauses (used by the 'rewrite' command).
func ConvertMapToConditions(inv InvertedMap, axes []string) IsolateAST {
	// Group every (variable, value) entry by its exact binding set,
	// merging all variables that share one into a single clause.
	type group struct {
		bindings map[BindingKey]bool
		vars     Variables
	}
	groupsByKey := map[string]*group{}
	var order []string

	bindingSetKey := func(s map[BindingKey]bool) string {
		keys := make([]string, 0, len(s))
		for k := range s {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		return strings.Join(keys, ",")
	}

	addTo := func(s map[BindingKey]bool, mutate func(v *Variables)) {
		key := bindingSetKey(s)
		g, ok := groupsByKey[key]
		if !ok {
			g = &group{bindings: s, vars: Variables{}}
			groupsByKey[key] = g
			order = append(order, key)
		}
		mutate(&g.vars)
	}

	for cmd, bset := range inv.Command {
		parts := strings.Split(cmd, "\x00")
		addTo(bset, func(v *Variables) { v.Command = parts })
	}
	for f, bset := range inv.FilesTracked {
		addTo(bset, func(v *Variables) { v.FilesTracked = append(v.FilesTracked, f) })
	}
	for f, bset := range inv.FilesUntracked {
		addTo(bset, func(v *Variables) { v.FilesUntracked = append(v.FilesUntracked, f) })
	}
	for f, bset := range inv.FilesTouched {
		addTo(bset, func(v *Variables) { v.FilesTouched = append(v.FilesTouched, f) })
	}
	for ro, bset := range inv.ReadOnly {
		val := ro
		addTo(bset, func(v *Variables) {
			if val == "1" {
				v.ReadOnly = ReadOnlyTrue
			} else {
				v.ReadOnly = ReadOnlyFalse
			}
		})
	}

	var clauses []Clause
	for _, key := range order {
		g := groupsByKey[key]
		sort.Strings(g.vars.FilesTracked)
		sort.Strings(g.vars.FilesUntracked)
		sort.Strings(g.vars.FilesTouched)
		expr := bindingSetToExpr(g.bindings, axes)
		clauses = append(clauses, Clause{Expr: expr, ExprText: ExprString(expr), Then: g.vars})
	}
	sort.Slice(clauses, func(i, j int) bool { return clauses[i].ExprText < clauses[j].ExprText })
	return IsolateAST{Clauses: clauses}
}

// bindingSetToExpr renders a set of bindings as a disjunction of
// per-binding conjunctions, each conjunct sorted by axis order, each
// disjunct sorted lexicographically.
func bindingSetToExpr(bindings map[BindingKey]bool, axes []string) CondExpr {
	var exprStrs []string
	var exprs []CondExpr
	for bk := range bindings {
		values := strings.Split(string(bk), "\x1f")
		var conj CondExpr
		has := false
		for i, axis := range axes {
			if i >= len(values) || values[i] == "" {
				continue
			}
			atom := CondExpr{Kind: CondEq, Name: axis, Lit: literalFor(values[i])}
			if !has {
				conj = atom
				has = true
			} else {
				conj = CondExpr{Kind: CondAnd, Children: []CondExpr{conj, atom}}
			}
		}
		if has {
			exprStrs = append(exprStrs, ExprString(conj))
			exprs = append(exprs, conj)
		}
	}
	sort.Sort(byExprString{exprStrs, exprs})
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = CondExpr{Kind: CondOr, Children: []CondExpr{out, e}}
	}
	return out
}

// literalFor recovers a binding value's literal form: axis values arrive
// as strings, but an all-digit value originated from an integer literal
// (e.g. chromeos==1) and must be emitted unquoted to round-trip.
func literalFor(value string) Literal {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return intLit(n)
	}
	return strLit(value)
}

type byExprString struct {
	strs  []string
	exprs []CondExpr
}

func (b byExprString) Len() int      { return len(b.strs) }
func (b byExprString) Swap(i, j int) { b.strs[i], b.strs[j] = b.strs[j], b.strs[i]; b.exprs[i], b.exprs[j] = b.exprs[j], b.exprs[i] }
func (b byExprString) Less(i, j int) bool { return b.strs[i] < b.strs[j] }
