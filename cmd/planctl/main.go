// Command planctl is the §6 CLI: execute a goal against the engine, and
// manage namespace allow-lists. It plays the same role as the teacher
// pack's hand-rolled cobra entry points (cmd/root.go, internal/cli/root.go):
// a thin wiring layer over the library packages, with no business logic of
// its own.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCode wraps an error with the explicit §6 process exit code, for
// errors that don't fall into the default "irrecoverable engine error"
// bucket.
type exitCode struct {
	code int
	err  error
}

func (e *exitCode) Error() string { return e.err.Error() }
func (e *exitCode) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitCode{code: code, err: err}
}

// exitCodeFor maps an error to one of §6's process exit codes: 0 success
// (never reached here, main only exits non-zero on error), 2 validation
// failure, 3 user cancelled, 4 irrecoverable engine error (the default for
// anything not explicitly classified).
func exitCodeFor(err error) int {
	var ec *exitCode
	if errors.As(err, &ec) {
		return ec.code
	}
	return 4
}
