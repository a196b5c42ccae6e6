package shell

import (
	"fmt"
	"os"
)

// ExitStatus is how a session's process ended.
type ExitStatus struct {
	// Code is the process exit code, or -1 when it was terminated by a signal.
	Code int
	// Signal names the terminating signal, e.g. "SIGKILL". Empty on normal exit.
	Signal string
	// Cancelled is set when Close was called before the process exited.
	Cancelled bool
}

// Abnormal reports whether the process was terminated by a signal.
func (s ExitStatus) Abnormal() bool {
	return s.Signal != ""
}

// Success reports a normal, uncancelled exit with code zero.
func (s ExitStatus) Success() bool {
	return !s.Cancelled && !s.Abnormal() && s.Code == 0
}

func (s ExitStatus) String() string {
	switch {
	case s.Cancelled:
		return "cancelled"
	case s.Abnormal():
		return "terminated by signal " + s.Signal
	default:
		return fmt.Sprintf("exit code %d", s.Code)
	}
}

// ExitCode maps the status to a code for the parent process to exit with,
// following the shell convention of 128 plus the signal number.
func (s ExitStatus) ExitCode() int {
	switch {
	case s.Cancelled:
		return 128 + 2
	case s.Abnormal():
		if n := signalNumber(s.Signal); n > 0 {
			return 128 + n
		}
		return 1
	default:
		return s.Code
	}
}

func exitStatusOf(state *os.ProcessState) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1}
	}
	status := ExitStatus{Code: state.ExitCode(), Signal: signalOf(state)}
	if status.Signal != "" {
		status.Code = -1
	}
	return status
}
