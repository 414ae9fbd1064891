package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/masahif/depthcrawl/internal/cmd"
)

// Version information set by build flags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes
const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	cmd.SetVersionInfo(Version, BuildTime)
	os.Exit(exitCode(cmd.Execute()))
}

// exitCode maps the command result to a process exit status
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "Interrupted")
		return exitInterrupted
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
}
