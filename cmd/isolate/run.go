// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/maruel/subcommands"

	"chromium.googlesource.com/infra/swarming/isolate-go/isolate"
)

var cmdRun = &subcommands.Command{
	UsageLine: "run <options> -- <extra args>",
	ShortDesc: "compiles a .isolate file and runs its command",
	LongDesc: `Compiles a .isolate file, then invokes the resolved 'command' (with any
extra arguments after '--') in relative_cwd, rooted at root_dir.

Actually launching and sandboxing the subprocess is a host-integration
concern and is not implemented here; runner is the seam a caller wires a
real executor into.`,
	CommandRun: func() subcommands.CommandRun {
		c := &runRun{}
		c.isolateFlags.Init(&c.CommandRunBase)
		return c
	},
}

// runner executes a compiled tree's command; the default stubRunner just
// reports that no executor was configured. A caller embedding this package
// into a real test harness supplies its own.
type runner interface {
	Run(rootDir, relativeCwd string, command []string, extraArgs []string) error
}

type stubRunner struct{}

func (stubRunner) Run(rootDir, relativeCwd string, command []string, extraArgs []string) error {
	return errors.New("isolate: running the isolated command is not implemented by this binary")
}

var defaultRunner runner = stubRunner{}

type runRun struct {
	subcommands.CommandRunBase
	isolateFlags
}

func (c *runRun) Parse(a subcommands.Application, args []string) error {
	return c.isolateFlags.Parse()
}

func (c *runRun) main(extraArgs []string) error {
	isolateAbs, err := filepath.Abs(c.Isolate)
	if err != nil {
		return err
	}
	isolatedAbs, err := filepath.Abs(c.Isolated)
	if err != nil {
		return err
	}
	state, err := isolate.LoadCompleteState(isolate.CompleteStateOptions{
		IsolateFile:       isolateAbs,
		Isolated:          isolatedAbs,
		PathVariables:     c.PathVariables,
		ConfigVariables:   c.ConfigVariables,
		ExtraVariables:    c.ExtraVariables,
		Subdir:            c.Subdir,
		IgnoreBrokenItems: c.IgnoreBrokenItems,
	})
	if err != nil {
		return err
	}
	m := state.SavedState.Manifest
	return defaultRunner.Run(state.RootDir, m.RelativeCwd, m.Command, extraArgs)
}

func (c *runRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	if err := c.Parse(a, args); err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), err)
		return 1
	}
	if err := c.main(args); err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), err)
		return exitCode(err)
	}
	return 0
}
