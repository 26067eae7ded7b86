// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"

	"doa/cmd"
	"doa/internal/log"
	"doa/pkg/build"
)

// main is the entry point for the doa binary. Startup, the concurrent
// pipeline phase and shutdown all live behind the run command; main only
// resolves build information and maps the command's error to an exit code.
func main() {
	// Development builds run without linker flags.
	if err := build.Initialize(); err != nil {
		log.Debugf("build info incomplete: %v", err)
	}

	if err := cmd.Execute(context.Background()); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
