package kcli

import (
	"bytes"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Process tracks a background child process, typically a long cluster
// creation. It records combined output and the final exit status without
// blocking the caller.
type Process struct {
	cmd    *exec.Cmd
	output *lockedBuffer

	mu       sync.Mutex
	done     chan struct{}
	exited   bool
	exitCode int
}

// StartProcess launches name with args in the background and begins
// reaping it.
func StartProcess(name string, args ...string) (*Process, error) {
	buf := &lockedBuffer{}
	cmd := exec.Command(name, args...)
	cmd.Stdout = buf
	cmd.Stderr = buf

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &Process{
		cmd:    cmd,
		output: buf,
		done:   make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exited = true
		p.exitCode = 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				p.exitCode = exitErr.ExitCode()
			} else {
				p.exitCode = -1
			}
		}
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

// Exited reports whether the process has terminated.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// ExitCode returns the exit status once the process has terminated, and
// zero before that.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Output returns everything the process has written so far.
func (p *Process) Output() string {
	return p.output.String()
}

// Stop asks the process to terminate and kills it when it is still
// around after grace.
func (p *Process) Stop(grace time.Duration) {
	if p.Exited() {
		return
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logrus.Debugf("signalling pid %d: %v", p.cmd.Process.Pid, err)
	}
	select {
	case <-p.done:
	case <-time.After(grace):
		logrus.Warnf("process %d ignored SIGTERM, killing it", p.cmd.Process.Pid)
		if err := p.cmd.Process.Kill(); err != nil {
			logrus.Debugf("killing pid %d: %v", p.cmd.Process.Pid, err)
		}
		<-p.done
	}
}
