package supervisor

import (
	"errors"
	"fmt"
	"strings"
)

// UsageError reports an operation invalid in the current state, such as a
// second Start while a child is running. Nothing was changed.
type UsageError struct {
	Op    string
	State State
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.State)
}

// IsUsage reports whether err is a *UsageError.
func IsUsage(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

// SpawnError reports that the child could not be launched, typically a
// missing interpreter. The supervisor is back to idle.
type SpawnError struct {
	Argv []string
	Err  error
}

func (e *SpawnError) Error() string {
	name := ""
	if len(e.Argv) > 0 {
		name = e.Argv[0]
	}
	return fmt.Sprintf("start %s: %v", name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawn reports whether err is a *SpawnError.
func IsSpawn(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

// ExitError describes a child that ended unsuccessfully on its own.
type ExitError struct {
	Code int
	// Desc is the OS description, e.g. "exit status 1" or "signal: killed".
	Desc string
}

func (e *ExitError) Error() string {
	if strings.TrimSpace(e.Desc) != "" {
		return "server exited: " + e.Desc
	}
	return fmt.Sprintf("server exited with code %d", e.Code)
}

// IsExit reports whether err is an *ExitError.
func IsExit(err error) bool {
	var ee *ExitError
	return errors.As(err, &ee)
}
