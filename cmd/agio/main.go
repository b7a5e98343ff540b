// Command agio is the CLI front-end for the Agio runtime: serve starts
// the REST/SSE transport, run/resume/fork drive a single session from
// the terminal, following the kong command-struct style and exit-code
// contract of §6.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// CLI is the root command set.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the REST/SSE server."`
	Run     RunCmd     `cmd:"" help:"Run a query against an agent from the terminal."`
	Resume  ResumeCmd  `cmd:"" help:"Resume a session with pending tool calls."`
	Fork    ForkCmd    `cmd:"" help:"Fork a session at a given sequence."`

	Config   string `short:"c" help:"Path to a YAML config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// Exit codes (spec 6): 0 success, 2 config/validation error, 3 run
// failed (model error), 4 cancelled, 5 timeout.
const (
	exitSuccess      = 0
	exitConfigError  = 2
	exitRunFailed    = 3
	exitCancelled    = 4
	exitTimeout      = 5
)

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("agio"),
		kong.Description("Agio agent orchestration runtime."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	if err == nil {
		os.Exit(exitSuccess)
	}

	fmt.Fprintln(os.Stderr, "agio:", err)
	os.Exit(exitCodeFor(err))
}

// exitCodeFor maps an error returned by a command's Run to the
// documented exit code, defaulting to the general run-failure code.
func exitCodeFor(err error) int {
	var ce *exitCodeError
	if asExitCodeError(err, &ce) {
		return ce.code
	}
	return exitRunFailed
}

// exitCodeError lets a command Run attach a specific exit code to an
// error without the main package needing to know command internals.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitCodeError{code: code, err: err}
}

func asExitCodeError(err error, target **exitCodeError) bool {
	for err != nil {
		if ce, ok := err.(*exitCodeError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("agio version dev")
	return nil
}
