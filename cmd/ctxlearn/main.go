// Command ctxlearn is a local learning memory for coding agents.
//
// Agents call it at five points: before a task, after a task, before a
// shell command, and at session start and end. Learned patterns, failures
// and session summaries live in one SQLite file, by default
// .ctxlearn/memory.db in the project.
//
// Usage:
//
//	ctxlearn hook pre-task "add auth"
//	ctxlearn hook post-task add-auth --outcome success
//	ctxlearn hook pre-command "rm -rf build"
//	ctxlearn hook session-start
//	ctxlearn hook session-end --summary "wired login"
//	ctxlearn mcp
//
// Exit codes: 0 ok, 1 error, 2 command blocked, 3 corrupt store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

// Version information (set via ldflags during build)
var version = "dev"

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitBlocked = 2
	exitCorrupt = 3
)

// errBlocked is returned after a blocked pre-command response has been
// written.
var errBlocked = errors.New("command blocked")

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := newApp(stdin, stdout, stderr)
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	a.teardown(ctx)
	code := exitCode(err)
	if err != nil && code != exitBlocked {
		fmt.Fprintf(stderr, "ctxlearn: %v\n", err)
	}
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errBlocked):
		return exitBlocked
	case errors.Is(err, memory.ErrCorrupt):
		return exitCorrupt
	default:
		return exitError
	}
}
