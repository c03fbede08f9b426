// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package isolate

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"chromium.googlesource.com/infra/swarming/isolate-go/internal/common"
)

// CompleteStateOptions are the inputs needed to assemble a Manifest +
// SavedState from one .isolate file.
type CompleteStateOptions struct {
	IsolateFile       string // absolute path
	Isolated          string // absolute path of the .isolated to be written; used to compute isolate_file's relative form
	PathVariables     map[string]string
	ConfigVariables   map[string]string
	ExtraVariables    map[string]string
	Blacklist         []string // extra walk-exclusion patterns, on top of common.DefaultBlacklist
	ReadOnly          ReadOnlyState
	PriorFiles        map[string]FileEntry // previous run's entries, keyed the same way as Manifest.Files; enables the incremental re-hash rule
	Subdir            string                // restricts the resulting manifest to files under this subdirectory of relative_cwd, without changing RootDir
	IgnoreBrokenItems bool                  // skip declared inputs that no longer exist instead of failing with a ConfigError
}

// CompleteState owns the authoritative SavedState for one build.
type CompleteState struct {
	SavedState SavedState
	RootDir    string
	// FileVariables maps each entry of SavedState.Files to the name of the
	// path variable its .isolate declaration started with (e.g. a file
	// declared as '<(PRODUCT_DIR)/subdir/42.txt' maps to "PRODUCT_DIR").
	// Feeds SplitManifest, which cannot recover this from resolved paths.
	FileVariables map[string]string
}

// LoadCompleteState assembles a build end to end: load+merge the
// isolate file and its includes, select the one binding matching the
// supplied config variables, compute root_dir/relative_cwd, validate and
// substitute path variables, then hash every declared input.
func LoadCompleteState(opts CompleteStateOptions) (*CompleteState, error) {
	// Case canonicalization is a host collaborator; where it isn't wired
	// the path is used as given.
	if p, err := common.GetNativePathCase(opts.IsolateFile); err == nil {
		opts.IsolateFile = p
	}
	cfg, err := LoadIsolateFile(opts.IsolateFile)
	if err != nil {
		return nil, err
	}

	var missing []string
	values := make([]string, len(cfg.Axes))
	for i, axis := range cfg.Axes {
		v, ok := opts.ConfigVariables[axis]
		if !ok {
			missing = append(missing, axis)
			continue
		}
		values[i] = v
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, newConfigError("these configuration variables were missing from the command line: %v", missing)
	}
	vars := cfg.ByBinding[Binding{Values: values}.Key()]
	if opts.ReadOnly != ReadOnlyUnset {
		vars.ReadOnly = opts.ReadOnly
	}

	isolateDir := filepath.Dir(opts.IsolateFile)

	isWin := opts.ConfigVariables["OS"] == "win"
	extra := map[string]string{}
	for k, v := range opts.ExtraVariables {
		extra[k] = v
	}
	if isWin {
		extra["EXECUTABLE_SUFFIX"] = ".exe"
	} else {
		extra["EXECUTABLE_SUFFIX"] = ""
	}
	bindings := VariableBindings{Path: opts.PathVariables, Extra: extra, Config: opts.ConfigVariables}

	resolved, err := SubstituteVariables(vars, bindings)
	if err != nil {
		return nil, err
	}

	ancestors := []string{isolateDir}
	resolvedPathVars := map[string]string{}
	for name, value := range opts.PathVariables {
		abs := filepath.Join(isolateDir, value)
		if !common.IsDirectory(abs) {
			return nil, newConfigError("%s=%s is not a directory", name, abs)
		}
		resolvedPathVars[name] = value
		ancestors = append(ancestors, abs)
	}
	for _, p := range allInputPaths(resolved) {
		ancestors = append(ancestors, filepath.Join(isolateDir, strings.TrimSuffix(p, "/")))
	}
	rootDir := commonAncestor(ancestors)

	relCwd, err := filepath.Rel(rootDir, isolateDir)
	if err != nil {
		return nil, wrapConfigError(err, "computing relative_cwd")
	}
	if resolved.RelativeCwd != "" {
		relCwd = filepath.Join(relCwd, resolved.RelativeCwd)
	}
	relCwd = filepath.ToSlash(relCwd)

	// subdirPrefix restricts which declared files make it into the manifest
	// without narrowing root_dir itself (--subdir).
	var subdirPrefix string
	if opts.Subdir != "" {
		subdirPrefix = filepath.ToSlash(filepath.Join(relCwd, opts.Subdir))
	}
	keepUnderSubdir := func(rel string) bool {
		if subdirPrefix == "" {
			return true
		}
		return rel == subdirPrefix || strings.HasPrefix(rel, subdirPrefix+"/")
	}

	blacklist := common.GenBlacklist(append(append([]string{}, common.DefaultBlacklist...), opts.Blacklist...))

	files := map[string]FileEntry{}
	fileVars := map[string]string{}
	// Substitution is positional, so resolved file lists stay aligned with
	// the declared (unsubstituted) ones and the leading <(NAME) of each
	// declaration can be attributed to its resolved entry.
	collect := func(paths, declared []string, touched bool) error {
		for i, p := range paths {
			varName := ""
			if i < len(declared) {
				varName = leadingVariable(declared[i])
			}
			isDir := strings.HasSuffix(p, "/")
			abs := filepath.Join(isolateDir, strings.TrimSuffix(p, "/"))
			rel, err := filepath.Rel(rootDir, abs)
			if err != nil {
				return wrapConfigError(err, "computing relative path for "+p)
			}
			rel = filepath.ToSlash(rel)
			if rel == ".." || strings.HasPrefix(rel, "../") {
				return newConfigError("%s escapes root_dir", p)
			}
			if isDir {
				entries, err := Walk(abs, blacklist)
				if err != nil {
					if opts.IgnoreBrokenItems && os.IsNotExist(errors.Cause(err)) {
						continue
					}
					return err
				}
				for _, we := range entries {
					entryAbs := filepath.Join(abs, filepath.FromSlash(we.RelPath))
					entryRel := rel + "/" + we.RelPath
					if !keepUnderSubdir(entryRel) {
						continue
					}
					fe, err := FileToEntry(entryAbs, priorEntry(opts.PriorFiles, entryRel), resolved.ReadOnly == ReadOnlyTrue, isWin, touched)
					if err != nil {
						return err
					}
					files[entryRel] = fe
					if varName != "" {
						fileVars[entryRel] = varName
					}
				}
				continue
			}
			if !keepUnderSubdir(rel) {
				continue
			}
			fe, err := FileToEntry(abs, priorEntry(opts.PriorFiles, rel), resolved.ReadOnly == ReadOnlyTrue, isWin, touched)
			if err != nil {
				if opts.IgnoreBrokenItems && os.IsNotExist(errors.Cause(err)) {
					continue
				}
				return err
			}
			files[rel] = fe
			if varName != "" {
				fileVars[rel] = varName
			}
		}
		return nil
	}
	if err := collect(resolved.FilesTracked, vars.FilesTracked, false); err != nil {
		return nil, err
	}
	if err := collect(resolved.FilesUntracked, vars.FilesUntracked, false); err != nil {
		return nil, err
	}
	if err := collect(resolved.FilesTouched, vars.FilesTouched, true); err != nil {
		return nil, err
	}

	manifest := Manifest{
		Algo:        HashAlgo,
		Command:     resolved.Command,
		Files:       files,
		OS:          opts.ConfigVariables["OS"],
		ReadOnly:    resolved.ReadOnly,
		RelativeCwd: relCwd,
		Version:     IsolatedVersion,
	}

	isolateFileRel := opts.IsolateFile
	if opts.Isolated != "" {
		if rel, err := filepath.Rel(filepath.Dir(opts.Isolated), opts.IsolateFile); err == nil {
			isolateFileRel = rel
		}
	}

	state := SavedState{
		Manifest:           manifest,
		ConfigVariables:    opts.ConfigVariables,
		PathVariables:      resolvedPathVars,
		ExtraVariables:     opts.ExtraVariables,
		IsolateFile:        isolateFileRel,
		ChildIsolatedFiles: []string{},
	}

	return &CompleteState{SavedState: state, RootDir: rootDir, FileVariables: fileVars}, nil
}

// priorEntry looks up rel in prior, returning nil if there is no prior run
// or no entry for rel. A prior entry without a hash (a touched file, or a
// sidecar truncated mid-write) is handed through as-is; FileToEntry only
// ever reuses a hash that is present and not the "invalid" sentinel.
func priorEntry(prior map[string]FileEntry, rel string) *FileEntry {
	if prior == nil {
		return nil
	}
	e, ok := prior[rel]
	if !ok {
		return nil
	}
	return &e
}

func allInputPaths(v Variables) []string {
	out := make([]string, 0, len(v.FilesTracked)+len(v.FilesUntracked)+len(v.FilesTouched))
	out = append(out, v.FilesTracked...)
	out = append(out, v.FilesUntracked...)
	out = append(out, v.FilesTouched...)
	return out
}

// commonAncestor returns the deepest directory that is an ancestor of (or
// equal to) every path given.
func commonAncestor(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	split := make([][]string, len(paths))
	minLen := -1
	for i, p := range paths {
		parts := strings.Split(filepath.ToSlash(filepath.Clean(p)), "/")
		split[i] = parts
		if minLen == -1 || len(parts) < minLen {
			minLen = len(parts)
		}
	}
	common := append([]string{}, split[0][:minLen]...)
	for i := 1; i < len(split); i++ {
		for j := 0; j < len(common); j++ {
			if split[i][j] != common[j] {
				common = common[:j]
				break
			}
		}
	}
	joined := strings.Join(common, "/")
	if joined == "" {
		joined = "/"
	}
	return filepath.FromSlash(joined)
}
