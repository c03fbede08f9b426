// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package isolate implements the code to process '.isolate' files.
package isolate

import (
	"log"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/maruel/interrupt"

	"chromium.googlesource.com/infra/swarming/isolate-go/internal/common"
	"chromium.googlesource.com/infra/swarming/isolate-go/isolateserver"
)

import . "chromium.googlesource.com/infra/swarming/isolate-go/internal/types"

// ISOLATED_GEN_JSON_VERSION is the schema version a *.isolated.gen.json
// file (consumed by the 'batcharchive' subcommand) must declare.
const ISOLATED_GEN_JSON_VERSION = 1

const validVariablePattern = "[A-Za-z_][A-Za-z_0-9]*"

var validVariableMatcher = regexp.MustCompile("^" + validVariablePattern + "$")

// IsValidVariable reports whether variable is a legal config/path/extra
// variable name.
func IsValidVariable(variable string) bool {
	return validVariableMatcher.MatchString(variable)
}

// Tree is one isolate file to compile, paired with the options driving the
// compilation.
type Tree struct {
	Cwd  string
	Opts ArchiveOptions
}

// ArchiveOptions are the per-tree options a 'check'/'archive'/'run' caller
// supplies.
type ArchiveOptions struct {
	Isolate           string   `json:"isolate"`
	Isolated          string   `json:"isolated"`
	Blacklist         []string `json:"blacklist"`
	PathVariables     KeyVars  `json:"path_variables"`
	ExtraVariables    KeyVars  `json:"extra_variables"`
	ConfigVariables   KeyVars  `json:"config_variables"`
	IgnoreBrokenItems bool     `json:"-"`
	Split             bool     `json:"-"`
	Subdir            string   `json:"-"`
}

// Init fills ArchiveOptions with non-nil maps so callers can index into
// them freely.
func (a *ArchiveOptions) Init() {
	a.Blacklist = []string{}
	a.PathVariables = KeyVars{}
	a.ExtraVariables = KeyVars{}
	a.ConfigVariables = KeyVars{}
}

// FileAsset is one file entry of a compiled manifest paired with its
// absolute path on disk, ready to be handed to isolateserver for upload.
type FileAsset struct {
	FileEntry
	RelPath  string
	fullPath string
}

func (f *FileAsset) IsSymlink() bool { return f.Link != "" }

func (fa *FileAsset) ToUploadItem() isolateserver.UploadItem {
	f := isolateserver.FileItem{
		Item: isolateserver.Item{
			Digest:           fa.Hash,
			Size:             fa.Size,
			CompressionLevel: isolateserver.CompressionLevel(fa.fullPath),
		},
		Path: fa.fullPath,
	}
	return &f
}

// isolateOneTree compiles tree, writes the (possibly split) manifest and
// its sidecar state, and streams every hashed file entry (symlinks and
// touched files excluded) onto chFileAssets for upload. It returns the master manifest's hash followed
// by every child manifest's hash, in split order.
func isolateOneTree(tree Tree, chFileAssets chan<- FileAsset) ([]IsolateHash, error) {
	isolateAbs, err := filepath.Abs(tree.Opts.Isolate)
	if err != nil {
		return nil, wrapConfigError(err, "resolving isolate path")
	}
	isolatedAbs, err := filepath.Abs(tree.Opts.Isolated)
	if err != nil {
		return nil, wrapConfigError(err, "resolving isolated path")
	}

	prior, priorErr := LoadSavedState(StatePath(isolatedAbs))
	readOnly := ReadOnlyUnset
	if priorErr == nil {
		readOnly = prior.ReadOnly
	}

	var priorFiles map[string]FileEntry
	if priorErr == nil {
		priorFiles = prior.Files
	}
	state, err := LoadCompleteState(CompleteStateOptions{
		IsolateFile:       isolateAbs,
		Isolated:          isolatedAbs,
		PathVariables:     tree.Opts.PathVariables,
		ConfigVariables:   tree.Opts.ConfigVariables,
		ExtraVariables:    tree.Opts.ExtraVariables,
		Blacklist:         tree.Opts.Blacklist,
		ReadOnly:          readOnly,
		PriorFiles:        priorFiles,
		Subdir:            tree.Opts.Subdir,
		IgnoreBrokenItems: tree.Opts.IgnoreBrokenItems,
	})
	if err != nil {
		return nil, err
	}

	var childHashes []IsolateHash
	manifest := state.SavedState.Manifest

	split := SplitResult{Master: manifest}
	if shouldSplit(tree.Opts) {
		split = SplitManifest(manifest, state.FileVariables)
	}

	for i, child := range split.Children {
		childPath := childIsolatedPath(isolatedAbs, i)
		if err := common.WriteJSONFile(childPath, child, false); err != nil {
			return nil, wrapConfigError(err, "writing "+childPath)
		}
		hash, err := HashFile(childPath)
		if err != nil {
			return nil, err
		}
		childHashes = append(childHashes, IsolateHash(hash))
		split.Master.Includes = append(split.Master.Includes, hash)
		state.SavedState.ChildIsolatedFiles = append(state.SavedState.ChildIsolatedFiles, filepath.Base(childPath))
	}

	// The sidecar keeps the FULL file map (children included) so the next
	// incremental run sees every prior entry; only the .isolated written to
	// disk carries the residual master subset plus the includes references.
	if err := common.WriteJSONFile(isolatedAbs, split.Master, false); err != nil {
		return nil, wrapConfigError(err, "writing "+isolatedAbs)
	}
	if err := state.SavedState.Save(StatePath(isolatedAbs)); err != nil {
		return nil, wrapConfigError(err, "writing saved state")
	}

	masterHash, err := HashFile(isolatedAbs)
	if err != nil {
		return nil, err
	}
	streamFiles(manifest.Files, state.RootDir, chFileAssets)
	return append([]IsolateHash{IsolateHash(masterHash)}, childHashes...), nil
}

// shouldSplit gates manifest partitioning: the caller must
// ask for it AND the isolate invocation must define both split variables.
func shouldSplit(opts ArchiveOptions) bool {
	if !opts.Split {
		return false
	}
	for _, name := range SplitVariables {
		if _, ok := opts.PathVariables[name]; !ok {
			return false
		}
	}
	return true
}

func childIsolatedPath(isolatedAbs string, index int) string {
	ext := filepath.Ext(isolatedAbs)
	base := isolatedAbs[:len(isolatedAbs)-len(ext)]
	return base + "." + strconv.Itoa(index) + ext
}

func streamFiles(files map[string]FileEntry, rootDir string, chFileAssets chan<- FileAsset) {
	for p, e := range files {
		// Symlinks carry no content and touched entries were never hashed;
		// neither has anything to upload.
		if e.Link != "" || e.Hash == "" {
			continue
		}
		select {
		case chFileAssets <- FileAsset{FileEntry: e, RelPath: p, fullPath: filepath.Join(rootDir, filepath.FromSlash(p))}:
		case <-interrupt.Channel:
			return
		}
	}
}

// Isolate compiles every tree synchronously and returns the per-target
// master hash plus every hashed file entry (symlinks and touched files
// excluded), for upload.
func Isolate(trees []Tree) (map[string]IsolateHash, []FileAsset, error) {
	chTrees := make(chan Tree, len(trees))
	for _, tree := range trees {
		chTrees <- tree
	}
	close(chTrees)
	chIsolateHashes, chFileAssets, chErrors := IsolateAsync(chTrees)
	// Drain in dependency order: file assets close once every tree is
	// compiled, then the hashes map and the error are each sent once on a
	// buffered channel, so consuming them in this order can neither deadlock
	// nor drop a late error.
	fileAssets := []FileAsset{}
	for fa := range chFileAssets {
		fileAssets = append(fileAssets, fa)
	}
	isolatedHashes := <-chIsolateHashes
	err := <-chErrors
	return isolatedHashes, fileAssets, err
}

// IsolateAsync compiles every Tree from trees concurrently, one goroutine
// per tree, fanned in with a sync.WaitGroup.
func IsolateAsync(trees <-chan Tree) (<-chan map[string]IsolateHash, <-chan FileAsset, <-chan error) {
	type result struct {
		target string
		hashes []IsolateHash
		err    error
	}
	chResults := make(chan result)
	chFileAssets := make(chan FileAsset)
	go func() {
		var wg sync.WaitGroup
		for tree := range trees {
			tree := tree
			wg.Add(1)
			go func() {
				defer wg.Done()
				targetName := common.GetFileNameWithoutExtension(tree.Opts.Isolated)
				hashes, err := isolateOneTree(tree, chFileAssets)
				chResults <- result{targetName, hashes, err}
			}()
		}
		wg.Wait()
		close(chFileAssets)
		close(chResults)
	}()

	chIsolateHashes := make(chan map[string]IsolateHash, 1)
	chError := make(chan error, 1)
	go func() {
		defer close(chError)
		defer close(chIsolateHashes)
		isolateHashes := map[string]IsolateHash{}
		var firstErr error
		for r := range chResults {
			if r.err != nil {
				if firstErr == nil {
					firstErr = r.err
				}
				continue
			}
			if len(r.hashes) > 0 {
				isolateHashes[r.target] = r.hashes[0]
			}
		}
		// Both channels are buffered, so neither send can block even if the
		// consumer reads them in the other order.
		chIsolateHashes <- isolateHashes
		chError <- firstErr
	}()
	return chIsolateHashes, chFileAssets, chError
}

// prepareItemsForUpload filters out duplicate and symlink FileAssets and
// converts the rest to isolateserver.UploadItem.
func prepareItemsForUpload(chIn <-chan FileAsset) <-chan isolateserver.UploadItem {
	chOut := make(chan isolateserver.UploadItem)
	go func() {
		defer close(chOut)
		seen := map[string]bool{}
		skipped := 0
		defer func() { log.Printf("skipped %d duplicate entries", skipped) }()

		for fa := range chIn {
			if !fa.IsSymlink() && !seen[fa.fullPath] {
				seen[fa.fullPath] = true
				select {
				case chOut <- fa.ToUploadItem():
				case <-interrupt.Channel:
					return
				}
			} else {
				skipped++
			}
		}
	}()
	return chOut
}

// Archive uploads every fileAsset to namespace on server, synchronously.
func Archive(fileAssets []FileAsset, namespace string, server string) error {
	chFileAssets := make(chan FileAsset, len(fileAssets))
	for _, fa := range fileAssets {
		chFileAssets <- fa
	}
	close(chFileAssets)
	chErrors := ArchiveAsync(chFileAssets, namespace, server)
	return <-chErrors
}

// interruptDone adapts interrupt.Channel (<-chan bool) to the <-chan
// struct{} signature expected by isolateserver.Storage.Upload.
func interruptDone() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		<-interrupt.Channel
		close(done)
	}()
	return done
}

// ArchiveAsync uploads every FileAsset read from chFileAssets to namespace
// on server.
func ArchiveAsync(chFileAssets <-chan FileAsset, namespace string, server string) <-chan error {
	chError := make(chan error, 1)
	go func() {
		defer close(chError)
		s := isolateserver.NewStorage(server, namespace)
		if err := s.Connect(); err != nil {
			chError <- err
			return
		}
		chFilesToUpload := prepareItemsForUpload(chFileAssets)
		chError <- s.Upload(interruptDone(), chFilesToUpload)
	}()
	return chError
}
