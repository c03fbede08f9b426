// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/maruel/interrupt"
	"github.com/maruel/subcommands"

	"chromium.googlesource.com/infra/swarming/isolate-go/isolate"
)

var cmdArchive = &subcommands.Command{
	UsageLine: "archive <options>",
	ShortDesc: "creates a .isolated file and uploads the tree to an isolate server",
	LongDesc: `Archives a .isolate file: compiles it into a .isolated manifest, writes
the sidecar .isolated.state, then uploads every referenced file to the
isolate server.`,
	CommandRun: func() subcommands.CommandRun {
		c := &archiveRun{}
		c.isolateFlags.Init(&c.CommandRunBase)
		c.commonServerFlags.Init(&c.CommandRunBase)
		return c
	},
}

type archiveRun struct {
	subcommands.CommandRunBase
	isolateFlags
	commonServerFlags
}

func (c *archiveRun) Parse(a subcommands.Application, args []string) error {
	if err := c.isolateFlags.Parse(); err != nil {
		return err
	}
	if err := c.commonServerFlags.Parse(); err != nil {
		return err
	}
	if c.GetFlags().NArg() > 0 {
		return fmt.Errorf("no positional arguments expected")
	}
	return nil
}

func (c *archiveRun) main(a subcommands.Application) error {
	defer interrupt.Set()
	_, fileAssets, err := isolate.Isolate([]isolate.Tree{{Opts: c.ArchiveOptions}})
	if err != nil {
		return err
	}
	return isolate.Archive(fileAssets, c.namespace, c.serverURL)
}

func (c *archiveRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := c.Parse(a, args); err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), err)
		return 1
	}
	if err := c.main(a); err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), err)
		return exitCode(err)
	}
	return 0
}
