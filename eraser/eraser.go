// Package eraser drives the external sanitization tool. The tool is opaque:
// the orchestrator only sees a line-oriented combined output stream and an
// exit status per step.
package eraser

import (
	"context"
	"errors"
	"fmt"
)

// ErrLaunch means the first step of a sequence could not be started, or the
// sequence could not be resolved at all.
var ErrLaunch = errors.New("eraser: launch failed")

// Job names what to erase and how.
type Job struct {
	Target   string
	Media    MediaClass
	Method   string
	Password string
}

// Line is one line of combined stdout/stderr, tagged with the step that
// produced it.
type Line struct {
	Step int
	Text string
}

// Exit summarizes a finished sequence.
type Exit struct {
	// Code is the exit status of the last step that ran.
	Code int
	// Steps is how many steps were started.
	Steps int
	// FailedStep is the index of the step that stopped the sequence, or -1.
	FailedStep int
	// Killed is set when a step had to be terminated after its output closed.
	Killed bool
}

func (e Exit) Success() bool { return e.FailedStep < 0 && e.Code == 0 }

// ExitError reports a step that exited nonzero or could not be started
// after an earlier step succeeded.
type ExitError struct {
	Step int
	Path string
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("eraser step %d (%s): %v", e.Step, e.Path, e.Err)
	}
	return fmt.Sprintf("eraser step %d (%s) exited with status %d", e.Step, e.Path, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Process is a running erase. Lines must be drained until it is closed;
// Wait then reports the outcome.
type Process interface {
	Lines() <-chan Line
	Wait() (Exit, error)
}

type Eraser interface {
	Start(ctx context.Context, job Job) (Process, error)
}
