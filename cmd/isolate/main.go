// Copyright 2015 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"log"
	"os"

	"github.com/maruel/interrupt"
	"github.com/maruel/subcommands"
)

var application = &subcommands.DefaultApplication{
	Name:  "isolate",
	Title: "compiles .isolate files into content-addressed .isolated manifests",
	// Keep in alphabetical order of their name.
	Commands: []*subcommands.Command{
		cmdArchive,
		cmdBatchArchive,
		cmdCheck,
		cmdRewrite,
		cmdRun,
		subcommands.CmdHelp,
	},
}

func main() {
	interrupt.HandleCtrlC()
	log.SetFlags(log.Lmicroseconds)
	os.Exit(subcommands.Run(application, nil))
}
