package libssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	scp "github.com/bramvdbogaerde/go-scp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// RemoteClient talks to a host over SSH, authenticating with a private
// key file. The underlying connection is dialed lazily and reused until
// Close or a transport failure.
type RemoteClient struct {
	host    string
	port    int
	user    string
	keyPath string

	client *ssh.Client
}

// NewRemoteClient prepares a client for user@host using the private key
// at keyPath. The key must exist; its permissions are tightened to 0600
// so the OpenSSH tooling invoked on either end accepts it.
func NewRemoteClient(host string, port int, user string, keyPath string) (*RemoteClient, error) {
	if _, err := os.Stat(keyPath); err != nil {
		return nil, errors.Wrapf(err, "ssh key %s not usable", keyPath)
	}
	if err := os.Chmod(keyPath, 0o600); err != nil {
		return nil, errors.Wrapf(err, "fixing permissions on %s", keyPath)
	}
	return &RemoteClient{
		host:    host,
		port:    port,
		user:    user,
		keyPath: keyPath,
	}, nil
}

func (c *RemoteClient) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	raw, err := os.ReadFile(c.keyPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading ssh key %s", c.keyPath)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing ssh key %s", c.keyPath)
	}
	methods = append(methods, ssh.PublicKeys(signer))

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	return methods, nil
}

func (c *RemoteClient) connect() (*ssh.Client, error) {
	if c.client != nil {
		return c.client, nil
	}
	methods, err := c.authMethods()
	if err != nil {
		return nil, &TransportError{Host: c.host, Op: "auth", Err: err}
	}
	cfg := &ssh.ClientConfig{
		User:            c.user,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, &TransportError{Host: c.host, Op: "dial " + addr, Err: err}
	}
	c.client = client
	return client, nil
}

func (c *RemoteClient) dropConnection() {
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// Run executes cmd on the remote host. A command that overruns timeout
// is killed by closing its session and reported as a Result with
// TimeoutExitCode rather than an error.
func (c *RemoteClient) Run(cmd string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client, err := c.connect()
	if err != nil {
		return Result{}, err
	}
	session, err := client.NewSession()
	if err != nil {
		c.dropConnection()
		return Result{}, &TransportError{Host: c.host, Op: "new session", Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		session.Close()
		<-done
		return Result{
			ExitCode: TimeoutExitCode,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("command timed out after %s", timeout),
		}, nil
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		c.dropConnection()
		return Result{}, &TransportError{Host: c.host, Op: "run", Err: err}
	}
	return res, nil
}

// Command runs cmd and fails when it exits non-zero, logging the
// captured output on failure so the operator sees what broke.
func (c *RemoteClient) Command(cmd string) error {
	res, err := c.Run(cmd, DefaultTimeout)
	if err != nil {
		return err
	}
	if !res.Ok() {
		logrus.Infof("[%s] %s", c.host, res.Stdout)
		return errors.Errorf("command %q on %s failed with exit code %d: %s", cmd, c.host, res.ExitCode, res.Stderr)
	}
	return nil
}

// Copy transfers localPath to remotePath over SCP.
func (c *RemoteClient) Copy(localPath, remotePath string) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	scpClient, err := scp.NewClientBySSH(client)
	if err != nil {
		return &TransportError{Host: c.host, Op: "scp setup", Err: err}
	}
	defer scpClient.Close()

	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", localPath)
	}
	defer f.Close()

	if err := scpClient.CopyFile(context.Background(), f, remotePath, "0644"); err != nil {
		c.dropConnection()
		return &TransportError{Host: c.host, Op: "scp " + localPath + " -> " + remotePath, Err: err}
	}
	return nil
}

// Fetch transfers remotePath to localPath over SCP.
func (c *RemoteClient) Fetch(remotePath, localPath string) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	scpClient, err := scp.NewClientBySSH(client)
	if err != nil {
		return &TransportError{Host: c.host, Op: "scp setup", Err: err}
	}
	defer scpClient.Close()

	f, err := os.OpenFile(localPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrapf(err, "creating %s", localPath)
	}
	defer f.Close()

	if err := scpClient.CopyFromRemote(context.Background(), f, remotePath); err != nil {
		c.dropConnection()
		return &TransportError{Host: c.host, Op: "scp " + remotePath + " -> " + localPath, Err: err}
	}
	return nil
}

// Close drops the cached connection.
func (c *RemoteClient) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
