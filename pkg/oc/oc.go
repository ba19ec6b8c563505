package oc

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alessio/shellescape"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"ocpdeployer/pkg/libssh"
)

// DefaultKubeconfig is where the kubeconfig is staged on the hypervisor
// host after a deployment.
const DefaultKubeconfig = "/root/kubeconfig"

// Runner executes oc commands against a cluster. Transport problems are
// folded into the Result with a negative exit code so polling loops can
// treat an unreachable API like any other not-ready condition.
type Runner interface {
	Oc(timeout time.Duration, args ...string) libssh.Result
	ApplyYAML(manifest string) error
}

// RemoteRunner runs oc on the hypervisor host over SSH, where the
// binary and the kubeconfig both live.
type RemoteRunner struct {
	SSH        libssh.Client
	Kubeconfig string
}

// NewRemoteRunner returns a runner using the staged kubeconfig.
func NewRemoteRunner(ssh libssh.Client) *RemoteRunner {
	return &RemoteRunner{SSH: ssh, Kubeconfig: DefaultKubeconfig}
}

func (r *RemoteRunner) Oc(timeout time.Duration, args ...string) libssh.Result {
	quoted := shellescape.QuoteCommand(append([]string{"oc"}, args...))
	cmd := fmt.Sprintf("KUBECONFIG=%s %s", shellescape.Quote(r.Kubeconfig), quoted)
	res, err := r.SSH.Run(cmd, timeout)
	if err != nil {
		logrus.Debugf("oc transport failure: %v", err)
		return libssh.Result{ExitCode: -1, Stderr: err.Error()}
	}
	return res
}

// ApplyYAML stages manifest on the host and runs oc apply on it.
func (r *RemoteRunner) ApplyYAML(manifest string) error {
	local, err := os.CreateTemp("", "manifest-*.yaml")
	if err != nil {
		return errors.Wrap(err, "staging manifest")
	}
	defer os.Remove(local.Name())
	if _, err := local.WriteString(manifest); err != nil {
		local.Close()
		return errors.Wrap(err, "staging manifest")
	}
	local.Close()

	remote := filepath.Join("/tmp", filepath.Base(local.Name()))
	if err := r.SSH.Copy(local.Name(), remote); err != nil {
		return err
	}
	defer func() {
		if res, err := r.SSH.Run("rm -f "+shellescape.Quote(remote), time.Minute); err != nil || !res.Ok() {
			logrus.Debugf("leaving %s behind on host", remote)
		}
	}()

	res := r.Oc(5*time.Minute, "apply", "-f", remote)
	if !res.Ok() {
		return errors.Errorf("oc apply failed with exit code %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// LocalRunner runs oc on the local machine, for deployments where the
// hypervisor is the machine the CLI runs on.
type LocalRunner struct {
	Exec       libssh.Client
	Kubeconfig string
}

// NewLocalRunner returns a runner for the local oc binary.
func NewLocalRunner(kubeconfig string) *LocalRunner {
	return &LocalRunner{Exec: libssh.NewLocalClient(), Kubeconfig: kubeconfig}
}

func (r *LocalRunner) Oc(timeout time.Duration, args ...string) libssh.Result {
	quoted := shellescape.QuoteCommand(append([]string{"oc"}, args...))
	cmd := fmt.Sprintf("KUBECONFIG=%s %s", shellescape.Quote(r.Kubeconfig), quoted)
	res, err := r.Exec.Run(cmd, timeout)
	if err != nil {
		return libssh.Result{ExitCode: -1, Stderr: err.Error()}
	}
	return res
}

func (r *LocalRunner) ApplyYAML(manifest string) error {
	local, err := os.CreateTemp("", "manifest-*.yaml")
	if err != nil {
		return errors.Wrap(err, "staging manifest")
	}
	defer os.Remove(local.Name())
	if err := os.WriteFile(local.Name(), []byte(manifest), 0o600); err != nil {
		return errors.Wrap(err, "staging manifest")
	}

	res := r.Oc(5*time.Minute, "apply", "-f", local.Name())
	if !res.Ok() {
		return errors.Errorf("oc apply failed with exit code %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}
