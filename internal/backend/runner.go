package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Runner executes the native toolchain in dir
type Runner interface {
	Run(ctx context.Context, dir string, command []string) error
}

// ExecRunner runs the toolchain as a child process, streaming its output
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Run blocks until the command exits or ctx is cancelled
func (r ExecRunner) Run(ctx context.Context, dir string, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("toolchain command is empty")
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	return cmd.Run()
}

// ToolchainError reports a failed native build. The toolchain's own output
// has already been streamed, so the message stays short.
type ToolchainError struct {
	Command  []string
	Dir      string
	ExitCode int
	Err      error
}

func (e *ToolchainError) Error() string {
	cmd := strings.Join(e.Command, " ")
	if e.ExitCode > 0 {
		return fmt.Sprintf("%s failed in %q with exit code %d", cmd, e.Dir, e.ExitCode)
	}
	return fmt.Sprintf("%s failed in %q: %v", cmd, e.Dir, e.Err)
}

func (e *ToolchainError) Unwrap() error {
	return e.Err
}

func newToolchainError(command []string, dir string, err error) *ToolchainError {
	te := &ToolchainError{
		Command:  append([]string(nil), command...),
		Dir:      dir,
		ExitCode: -1,
		Err:      err,
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		te.ExitCode = exitErr.ExitCode()
	}
	return te
}
