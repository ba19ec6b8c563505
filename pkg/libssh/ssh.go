package libssh

import (
	"fmt"
	"time"
)

// DefaultTimeout bounds a single remote command when the caller does not
// pass an explicit one.
const DefaultTimeout = 300 * time.Second

// TimeoutExitCode is the synthetic exit code reported when a command does
// not complete within its timeout. Matches the shell convention for
// timed-out commands so polling callers can treat it like any other
// remote failure.
const TimeoutExitCode = 124

// Result holds the outcome of one remote (or local) command. A non-zero
// ExitCode is not an error at this layer; callers inspect it.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Ok reports whether the command exited zero.
func (r Result) Ok() bool {
	return r.ExitCode == 0
}

// TransportError reports a failure of the transport itself (unreachable
// host, rejected key, broken session), never a non-zero remote exit.
type TransportError struct {
	Host string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh transport failure on %s during %s: %v", e.Host, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client runs commands on a target host and moves files to and from it.
// Two implementations exist: RemoteClient (SSH/SCP) and LocalClient
// (direct child processes). Callers never branch on which one they hold.
type Client interface {
	// Run executes cmd and captures its output. It returns an error only
	// when the transport fails; a command that exits non-zero or times
	// out is reported through the Result.
	Run(cmd string, timeout time.Duration) (Result, error)
	// Command executes cmd streaming output to the operator log and
	// returns an error when the command does not exit zero.
	Command(cmd string) error
	// Copy transfers a local file to the target.
	Copy(localPath, remotePath string) error
	// Fetch transfers a file from the target to a local path.
	Fetch(remotePath, localPath string) error
	// Close drops any cached connection. Connection reuse between calls
	// is an optimization, not a guarantee.
	Close() error
}
