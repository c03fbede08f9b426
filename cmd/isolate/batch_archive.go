// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"chromium.googlesource.com/infra/swarming/isolate-go/internal/common"
	"chromium.googlesource.com/infra/swarming/isolate-go/isolate"
	"github.com/maruel/interrupt"
	"github.com/maruel/subcommands"
)

var cmdBatchArchive = &subcommands.Command{
	UsageLine: "batcharchive file1 file2 ...",
	ShortDesc: "archives multiple isolated trees at once.",
	LongDesc: `Archives multiple isolated trees at once.

Using single command instead of multiple sequential invocations allows to cut
redundant work when isolated trees share common files (e.g. file hashes are
checked only once, their presence on the server is checked only once, and
so on).

Takes a list of paths to *.isolated.gen.json files that describe what trees to
isolate. Format of files is:
{
  "version": 1,
  "dir": <absolute path to a directory all other paths are relative to>,
  "args": [list of command line arguments for single 'archive' command]
}`,
	CommandRun: func() subcommands.CommandRun {
		c := batchArchiveRun{}
		c.commonServerFlags.Init(&c.CommandRunBase)
		c.Flags.StringVar(&c.dumpJson, "dump-json", "",
			"Write isolated Digestes of archived trees to this file as JSON")
		return &c
	},
}

type batchArchiveRun struct {
	subcommands.CommandRunBase
	commonServerFlags
	dumpJson string
}

func (c *batchArchiveRun) Parse(a subcommands.Application, args []string) error {
	if err := c.commonServerFlags.Parse(); err != nil {
		return err
	}
	if len(args) == 0 {
		return errors.New("at least one isolate file required")
	}
	return nil
}

func parseArchiveCMD(args []string, cwd string) (*isolate.ArchiveOptions, error) {
	// Python isolate allows form "--XXXX-variable key value".
	// Golang flag pkg doesn't consider value to be part of --XXXX-variable flag.
	// Therefore, we convert all such "--XXXX-variable key value" to
	// "--XXXX-variable key=value" form.
	// Note, that key doesn't have "=" in it in either case, but value might.
	// TODO(tandrii): eventually, we want to retire this hack.
	args = convertPyToGoArchiveCMDArgs(args)
	base := subcommands.CommandRunBase{}
	i := isolateFlags{}
	i.Init(&base)
	if err := base.GetFlags().Parse(args); err != nil {
		return nil, err
	}
	if err := i.Parse(); err != nil {
		return nil, err
	}
	if base.GetFlags().NArg() > 0 {
		return nil, fmt.Errorf("no positional arguments expected")
	}
	// Paths in a gen.json's args are relative to its "dir", not to the
	// process working directory.
	if !filepath.IsAbs(i.Isolate) {
		i.Isolate = filepath.Join(cwd, i.Isolate)
	}
	if !filepath.IsAbs(i.Isolated) {
		i.Isolated = filepath.Join(cwd, i.Isolated)
	}
	return &i.ArchiveOptions, nil
}

// convertPyToGoArchiveCMDArgs converts kv-args from old python isolate into go variants.
// Essentially converts "--X key value" into "--X key=value".
func convertPyToGoArchiveCMDArgs(args []string) []string {
	kvars := map[string]bool{
		"--path-variable": true, "--config-variable": true, "--extra-variable": true}
	newArgs := []string{}
	for i := 0; i < len(args); {
		newArgs = append(newArgs, args[i])
		kvar := args[i]
		i++
		if !kvars[kvar] {
			continue
		}
		if i >= len(args) {
			// Ignore unexpected behaviour, it'll be caught by flags.Parse() .
			break
		}
		appendArg := args[i]
		i++
		if !strings.Contains(appendArg, "=") && i < len(args) {
			// appendArg is key, and args[i] is value .
			appendArg = fmt.Sprintf("%s=%s", appendArg, args[i])
			i++
		}
		newArgs = append(newArgs, appendArg)
	}
	return newArgs
}

type parseGenFileResult struct {
	dir  string
	opts *isolate.ArchiveOptions
}

func parseGenFile(genJsonPath string) (parseGenFileResult, error) {
	data := struct {
		Args    []string
		Dir     string
		Version int
	}{}
	result := parseGenFileResult{}
	err := common.ReadJSONFile(genJsonPath, &data)
	if err != nil {
		return result, err
	}
	if data.Version != isolate.ISOLATED_GEN_JSON_VERSION {
		return result, fmt.Errorf("invalid version %d in %s", data.Version, genJsonPath)
	} else if !common.IsDirectory(data.Dir) {
		return result, fmt.Errorf("invalid dir %s in %s", data.Dir, genJsonPath)
	} else {
		result.opts, err = parseArchiveCMD(data.Args, data.Dir)
		result.dir = data.Dir
	}
	return result, err
}

// parseGenFiles reads every *.isolated.gen.json in genJsonPaths concurrently
// -- one goroutine per file, fanned in with a sync.WaitGroup, the same
// pattern isolate.IsolateAsync itself uses -- and streams the resulting
// isolate.Tree values onto chTrees.
func parseGenFiles(genJsonPaths []string) (<-chan isolate.Tree, <-chan error) {
	chTrees := make(chan isolate.Tree)
	chErrors := make(chan error, len(genJsonPaths))
	go func() {
		defer close(chTrees)
		defer close(chErrors)
		var wg sync.WaitGroup
		for _, genJsonPath := range genJsonPaths {
			genJsonPath := genJsonPath
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := parseGenFile(genJsonPath)
				if err != nil {
					chErrors <- err
					return
				}
				select {
				case chTrees <- isolate.Tree{Cwd: result.dir, Opts: *result.opts}:
				case <-interrupt.Channel:
				}
			}()
		}
		wg.Wait()
	}()
	return chTrees, chErrors
}

func (c *batchArchiveRun) main(a subcommands.Application, args []string) error {
	// Library interrupt is used for clean handling of Ctrl+C or in case of unrecoverable errors.
	defer interrupt.Set()
	// 3 step pipeline is connected using two channels:
	// [Parsing Gen Files] => chTrees => [Isolate] => chFileAssets => [Archive] .
	chTrees, chGenErrors := parseGenFiles(args)
	chIsolateHashes, chFileAssets, chIsoErrors := isolate.IsolateAsync(chTrees)
	chArchiveErrors := isolate.ArchiveAsync(chFileAssets, c.namespace, c.serverURL)
	// The archive stage is the tail of the pipeline: once it terminates,
	// both earlier stages have already delivered their error values, so
	// collecting them in reverse order cannot block or drop a failure.
	if err := <-chArchiveErrors; err != nil {
		return err
	}
	if err := <-chIsoErrors; err != nil {
		return err
	}
	for err := range chGenErrors {
		if err != nil {
			return err
		}
	}
	isolatedHashes := <-chIsolateHashes
	if c.dumpJson != "" {
		return common.WriteJSONFile(c.dumpJson, isolatedHashes, true)
	}
	return nil
}

func (c *batchArchiveRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := c.Parse(a, args); err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), err)
		return 1
	}
	if err := c.main(a, args); err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), err)
		return exitCode(err)
	}
	return 0
}
