// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"errors"

	"github.com/maruel/subcommands"

	"chromium.googlesource.com/infra/swarming/isolate-go/internal/common"
	"chromium.googlesource.com/infra/swarming/isolate-go/internal/types"
	"chromium.googlesource.com/infra/swarming/isolate-go/isolate"
)

// rewriteFlags is embedded by the 'rewrite' subcommand, which only ever
// parses and re-serializes the .isolate file -- it needs no variables and
// no .isolated destination.
type rewriteFlags struct {
	isolate string
}

func (r *rewriteFlags) Init(base *subcommands.CommandRunBase) {
	base.Flags.StringVar(&r.isolate, "isolate", "", "Path to the .isolate file to normalize")
}

func (r *rewriteFlags) Parse() error {
	if r.isolate == "" {
		return errors.New("-isolate is required")
	}
	return nil
}

// isolateFlags is embedded by every subcommand that actually compiles an
// .isolate file (archive, check, run): it owns the full set of
// config/path/extra variables plus the blacklist and splits into an
// isolate.ArchiveOptions.
type isolateFlags struct {
	isolate.ArchiveOptions
	outdir string
}

func (i *isolateFlags) Init(base *subcommands.CommandRunBase) {
	i.ArchiveOptions.Init()
	// The CLI always asks for manifest splitting; it only actually happens
	// when the invocation defines both DEPTH and PRODUCT_DIR.
	i.Split = true
	base.Flags.StringVar(&i.Isolate, "isolate", "", "Path to the .isolate file")
	base.Flags.StringVar(&i.Isolated, "isolated", "", "Path to the .isolated file to generate or read")
	base.Flags.StringVar(&i.Isolated, "s", "", "Alias for -isolated")
	base.Flags.StringVar(&i.outdir, "outdir", "", "Accepted but not used: split .isolated children are always written next to the -isolated file")
	base.Flags.StringVar(&i.Subdir, "subdir", "",
		"Restrict the resulting manifest to files under this subdirectory of relative_cwd, without narrowing root_dir")
	base.Flags.BoolVar(&i.IgnoreBrokenItems, "ignore-broken-items", false,
		"Continue even if some files referenced by the .isolate are missing")
	blacklist := &common.StringsCollect{Values: &i.Blacklist}
	base.Flags.Var(blacklist, "blacklist",
		"Glob pattern to exclude from directory walks, in addition to the defaults (repeatable)")
	configVar := &common.NKVArgCollect{}
	configVar.SetAsFlag(&base.Flags, (*types.KeyVars)(&i.ConfigVariables), "config-variable",
		"Config variable to set, of the form NAME=VALUE (repeatable)")
	pathVar := &common.NKVArgCollect{}
	pathVar.SetAsFlag(&base.Flags, (*types.KeyVars)(&i.PathVariables), "path-variable",
		"Path variable to set, of the form NAME=VALUE (repeatable)")
	extraVar := &common.NKVArgCollect{}
	extraVar.SetAsFlag(&base.Flags, (*types.KeyVars)(&i.ExtraVariables), "extra-variable",
		"Extra variable to set, of the form NAME=VALUE (repeatable)")
}

// Parse validates the flags isolateFlags collected. The EXECUTABLE_SUFFIX
// extra variable is injected later, by LoadCompleteState, once the
// selected OS config variable is known.
func (i *isolateFlags) Parse() error {
	if i.Isolate == "" {
		return errors.New("-isolate is required")
	}
	if i.Isolated == "" {
		return errors.New("-isolated is required")
	}
	for name := range i.PathVariables {
		if !isolate.IsValidVariable(name) {
			return errors.New("invalid path variable name: " + name)
		}
	}
	return nil
}

// exitCode maps a failed subcommand's error to its process exit status:
// configuration errors (malformed isolate file, unknown variable, bad path
// variable, ...) exit 1, anything else -- I/O failures included -- exits 2.
func exitCode(err error) int {
	if isolate.IsConfigError(err) {
		return 1
	}
	return 2
}

// commonServerFlags is embedded by every subcommand that talks to a
// content-addressed store (archive, batcharchive).
type commonServerFlags struct {
	serverURL string
	namespace string
}

func (c *commonServerFlags) Init(base *subcommands.CommandRunBase) {
	base.Flags.StringVar(&c.serverURL, "isolate-server", "", "URL of the isolate server to upload to")
	base.Flags.StringVar(&c.namespace, "namespace", "default-gzip", "The namespace to use on the isolate server")
}

func (c *commonServerFlags) Parse() error {
	if c.serverURL == "" {
		return errors.New("-isolate-server is required")
	}
	serverURL, err := common.URLToHTTPS(c.serverURL)
	if err != nil {
		return err
	}
	c.serverURL = serverURL
	return nil
}
