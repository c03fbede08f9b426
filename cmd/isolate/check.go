// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/maruel/subcommands"

	"chromium.googlesource.com/infra/swarming/isolate-go/isolate"
)

var cmdCheck = &subcommands.Command{
	UsageLine: "check <options>",
	ShortDesc: "compiles a .isolate file and validates it without uploading",
	LongDesc: `Compiles a .isolate file into its .isolated manifest and updates the
sidecar .isolated.state, then exits 0. Does not contact an isolate server;
use 'archive' for that.`,
	CommandRun: func() subcommands.CommandRun {
		c := &checkRun{}
		c.isolateFlags.Init(&c.CommandRunBase)
		return c
	},
}

type checkRun struct {
	subcommands.CommandRunBase
	isolateFlags
}

func (c *checkRun) Parse(a subcommands.Application, args []string) error {
	if err := c.isolateFlags.Parse(); err != nil {
		return err
	}
	if c.GetFlags().NArg() > 0 {
		return fmt.Errorf("no positional arguments expected")
	}
	return nil
}

func (c *checkRun) main() error {
	_, _, err := isolate.Isolate([]isolate.Tree{{Opts: c.ArchiveOptions}})
	return err
}

func (c *checkRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := c.Parse(a, args); err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), err)
		return 1
	}
	if err := c.main(); err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), err)
		return exitCode(err)
	}
	return 0
}
