package libssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LocalClient satisfies Client by running commands as child processes on
// the machine the CLI itself runs on. Used when the hypervisor host is
// the local machine.
type LocalClient struct{}

// NewLocalClient returns a client that executes everything locally.
func NewLocalClient() *LocalClient {
	return &LocalClient{}
}

// Run executes cmd through bash. Timeouts are reported the same way the
// remote client reports them, as a Result with TimeoutExitCode.
func (c *LocalClient) Run(cmd string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "bash", "-c", cmd)
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return Result{
			ExitCode: TimeoutExitCode,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("command timed out after %s", timeout),
		}, nil
	}
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return Result{}, &TransportError{Host: "localhost", Op: "run", Err: err}
	}
	return res, nil
}

// Command runs cmd and fails when it exits non-zero.
func (c *LocalClient) Command(cmd string) error {
	res, err := c.Run(cmd, DefaultTimeout)
	if err != nil {
		return err
	}
	if !res.Ok() {
		logrus.Info(res.Stdout)
		return errors.Errorf("command %q failed with exit code %d: %s", cmd, res.ExitCode, res.Stderr)
	}
	return nil
}

// Copy duplicates localPath at remotePath on the local filesystem.
func (c *LocalClient) Copy(localPath, remotePath string) error {
	return copyFile(localPath, remotePath)
}

// Fetch duplicates remotePath at localPath on the local filesystem.
func (c *LocalClient) Fetch(remotePath, localPath string) error {
	return copyFile(remotePath, localPath)
}

// Close is a no-op, there is no connection to drop.
func (c *LocalClient) Close() error {
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "opening %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrapf(err, "creating %s", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "copying %s to %s", src, dst)
	}
	return nil
}
