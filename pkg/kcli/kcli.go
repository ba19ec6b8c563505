package kcli

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Kcli drives the kcli binary on the local machine. When ClientName is
// set every invocation targets that registered hypervisor client,
// otherwise kcli's own default applies.
type Kcli struct {
	ClientName string
}

// EnsureInstalled verifies the kcli binary is reachable on PATH.
func (k *Kcli) EnsureInstalled() error {
	if _, err := exec.LookPath("kcli"); err != nil {
		return errors.New("kcli not found on PATH, install it with 'pip install kcli' or see https://kcli.readthedocs.io")
	}
	return nil
}

func (k *Kcli) baseArgs() []string {
	if k.ClientName == "" {
		return nil
	}
	return []string{"-C", k.ClientName}
}

func (k *Kcli) run(args ...string) (string, error) {
	full := append(k.baseArgs(), args...)
	logrus.Debugf("kcli %s", strings.Join(full, " "))

	cmd := exec.Command("kcli", full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), errors.Wrapf(err, "kcli %s failed: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// CreateClusterAsync launches an openshift cluster creation in the
// background and returns a handle for polling it. Params are kcli -P
// key=value pairs.
func (k *Kcli) CreateClusterAsync(params []string) (*Process, error) {
	args := append(k.baseArgs(), "create", "cluster", "openshift")
	for _, p := range params {
		args = append(args, "-P", p)
	}
	logrus.Infof("kcli %s", strings.Join(args, " "))
	return StartProcess("kcli", args...)
}

// DeleteCluster removes the named cluster and its VMs. Unknown clusters
// are not an error.
func (k *Kcli) DeleteCluster(name string) error {
	out, err := k.run("delete", "cluster", name, "--yes")
	if err != nil {
		if strings.Contains(out, "not found") || strings.Contains(out, "Nonexistent") {
			logrus.Infof("cluster %s not present, nothing to delete", name)
			return nil
		}
		return err
	}
	return nil
}

// ListVM returns kcli's VM table for the target client.
func (k *Kcli) ListVM() (string, error) {
	return k.run("list", "vm")
}

// CountClusterVMs counts the VMs belonging to cluster in the VM table.
// Cluster VM names follow the <cluster>-<role>-<n> convention.
func (k *Kcli) CountClusterVMs(cluster string) (int, error) {
	out, err := k.ListVM()
	if err != nil {
		return 0, err
	}
	return strings.Count(out, fmt.Sprintf("%s-", cluster)), nil
}
