// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/maruel/subcommands"

	"chromium.googlesource.com/infra/swarming/isolate-go/isolate"
)

var cmdRewrite = &subcommands.Command{
	UsageLine: "rewrite <options>",
	ShortDesc: "rewrites a .isolate file in the canonical pretty-printed form",
	LongDesc: `Parses a .isolate file, converts any legacy [cond, then, else] clause and
top-level 'variables' block into the normalized conditions form, then
writes it back in the canonical pretty-printed form -- the same output
'isolate_format.print_all' produces.`,
	CommandRun: func() subcommands.CommandRun {
		c := &rewriteRun{}
		c.rewriteFlags.Init(&c.CommandRunBase)
		return c
	},
}

type rewriteRun struct {
	subcommands.CommandRunBase
	rewriteFlags
}

func (c *rewriteRun) Parse(a subcommands.Application, args []string) error {
	if err := c.rewriteFlags.Parse(); err != nil {
		return err
	}
	if c.GetFlags().NArg() > 0 {
		return fmt.Errorf("no positional arguments expected")
	}
	return nil
}

func (c *rewriteRun) main() error {
	data, err := os.ReadFile(c.isolate)
	if err != nil {
		return err
	}
	ast, err := isolate.ParseIsolate(data)
	if err != nil {
		return err
	}
	ast, err = isolate.ConvertOldToNewFormat(ast)
	if err != nil {
		return err
	}
	out := isolate.PrettyPrint(ast)
	info, err := os.Stat(c.isolate)
	mode := os.FileMode(0644)
	if err == nil {
		mode = info.Mode()
	}
	return os.WriteFile(c.isolate, []byte(out), mode)
}

func (c *rewriteRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
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
