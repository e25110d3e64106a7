package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/BDNK1/plugpack/internal/archive"
	"github.com/BDNK1/plugpack/internal/backend"
	"github.com/BDNK1/plugpack/internal/metadata"
)

// ErrorKind classifies a failure and selects the process exit code
type ErrorKind string

const (
	// KindUsage signals bad command-line input.
	KindUsage ErrorKind = "usage"
	// KindConfiguration signals missing or invalid project inputs.
	KindConfiguration ErrorKind = "configuration"
	// KindToolchain signals the native build failed.
	KindToolchain ErrorKind = "toolchain"
	// KindPackaging signals the archive could not be produced.
	KindPackaging ErrorKind = "packaging"
	// KindPublish signals the registry upload failed.
	KindPublish ErrorKind = "publish"
	// KindInterrupted signals the run was cancelled.
	KindInterrupted ErrorKind = "interrupted"
	// KindInternal covers everything else.
	KindInternal ErrorKind = "internal"
)

var exitCodes = map[ErrorKind]int{
	KindInternal:      1,
	KindUsage:         2,
	KindConfiguration: 3,
	KindToolchain:     4,
	KindPackaging:     5,
	KindPublish:       6,
	KindInterrupted:   130,
}

// Error is the failure every stage reports. The top-level command turns it
// into an exit code; nothing below it exits the process.
type Error struct {
	Kind  ErrorKind
	Stage State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s/%s] %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExitCode is the process status for this failure
func (e *Error) ExitCode() int {
	if code, ok := exitCodes[e.Kind]; ok {
		return code
	}
	return 1
}

// NewError wraps err with an explicit kind
func NewError(kind ErrorKind, stage State, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// ExitCode maps any error to a process status: 0 for nil, the kind's code
// for *Error, 1 otherwise
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.ExitCode()
	}
	return 1
}

// classify picks the kind for a stage failure
func classify(stage State, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	var toolchainErr *backend.ToolchainError

	kind := KindInternal
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = KindInterrupted
	case errors.As(err, &toolchainErr):
		kind = KindToolchain
	case errors.Is(err, metadata.ErrMissingMetadata),
		errors.Is(err, backend.ErrBackendSourceMissing),
		errors.Is(err, backend.ErrManifestMissing),
		errors.Is(err, archive.ErrBuildDirMissing):
		kind = KindConfiguration
	case stage == StateResolvingMetadata:
		kind = KindConfiguration
	case stage == StateCompiling:
		kind = KindToolchain
	case stage == StatePackaging:
		kind = KindPackaging
	}

	return NewError(kind, stage, err)
}
