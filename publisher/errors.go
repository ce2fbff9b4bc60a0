package publisher

import (
	"errors"
	"fmt"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrToolchain         = errors.New("toolchain provisioning failed")
	ErrBuild             = errors.New("build failed")
	ErrArchive           = errors.New("archive failed")
	ErrAuthentication    = errors.New("authentication failed")
	ErrPublish           = errors.New("publish failed")
	ErrDuplicateVersion  = errors.New("version already published")
	// ErrNotTriggered is returned for events that must not start a run
	ErrNotTriggered = errors.New("event does not trigger a release run")
)

// RunError is returned by a run that stopped at a failing step
type RunError struct {
	Step string
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("step %v failed: %v", e.Step, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// ExitCode maps the outcome of a run to the process exit code
func ExitCode(err error) int {
	if err == nil || errors.Is(err, ErrNotTriggered) {
		return 0
	}
	return 1
}
