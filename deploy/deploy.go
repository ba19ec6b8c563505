package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/util/wait"

	"ocpdeployer/cmd/clusterconfig"
	"ocpdeployer/opts/clusteraccess"
	"ocpdeployer/opts/pcipassthrough"
	"ocpdeployer/opts/storagefix"
	"ocpdeployer/pkg/libssh"
	"ocpdeployer/pkg/oc"
	"ocpdeployer/pkg/ocp"
)

// minClusterVMs is how many VMs must exist before the installer is
// considered past VM creation. Even an SNO deployment has the
// bootstrap VM next to the node at this point.
const minClusterVMs = 2

const procStopGrace = 10 * time.Second

// DeployError reports where a deployment failed and what the installer
// had to say about it.
type DeployError struct {
	Stage  string
	Detail string
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deployment failed during %s: %s", e.Stage, e.Detail)
}

// Deployment runs a full cluster rollout against a prepared hypervisor:
// VM creation through kcli, disk surgery before first boot, PCI
// passthrough, kubeconfig staging and the readiness wait.
type Deployment struct {
	Config *clusterconfig.Config

	SSH  libssh.Client
	Prov provisioner
	OC   oc.Runner
	Fs   afero.Fs

	// HomeDir locates kcli's cluster artifacts on the local machine.
	HomeDir string

	// VMPollTimeout and VMPollInterval bound the wait for the installer
	// to create the VMs. Zero means 10 minutes and 10 seconds.
	VMPollTimeout  time.Duration
	VMPollInterval time.Duration
}

func (d *Deployment) kubeconfigPath() string {
	return filepath.Join(d.HomeDir, ".kcli", "clusters", d.Config.ClusterName, "auth", "kubeconfig")
}

// Run executes the whole deployment. Any cluster with the same name is
// removed first, so the call is a clean-slate operation.
func (d *Deployment) Run(ctx context.Context) error {
	cfg := d.Config
	logrus.Infof("deploying OpenShift %s as %s: %s", cfg.OCPVersion, cfg.ClusterName, cfg.Topology())

	if err := d.Prov.DeleteCluster(cfg.ClusterName); err != nil {
		return &DeployError{Stage: "previous cluster removal", Detail: err.Error()}
	}
	// Leftover artifacts from an earlier run of the same cluster would
	// otherwise hand out a kubeconfig with dead credentials.
	artifacts := filepath.Join(d.HomeDir, ".kcli", "clusters", cfg.ClusterName)
	if err := d.Fs.RemoveAll(artifacts); err != nil {
		logrus.Warnf("could not remove stale artifacts at %s: %v", artifacts, err)
	}

	proc, err := d.Prov.CreateClusterAsync(buildParams(cfg))
	if err != nil {
		return &DeployError{Stage: "installer launch", Detail: err.Error()}
	}
	defer proc.Stop(procStopGrace)

	if err := d.waitForVMs(ctx, proc); err != nil {
		return err
	}
	if err := d.postVMSetup(); err != nil {
		return err
	}
	if err := d.stageAccess(); err != nil {
		return &DeployError{Stage: "kubeconfig staging", Detail: err.Error()}
	}

	if cfg.NoWait {
		logrus.Info("not waiting for the cluster, the installer keeps running in the background")
		d.printAccessInstructions()
		return nil
	}

	waiter := &ocp.ReadyWaiter{SSH: d.SSH, OC: d.OC}
	timeout := time.Duration(cfg.WaitTimeout) * time.Second
	if err := waiter.Wait(ctx, cfg.APIIP, timeout); err != nil {
		return &DeployError{Stage: "readiness wait", Detail: err.Error()}
	}

	d.printAccessInstructions()
	return nil
}

// waitForVMs polls the VM table until the installer has created the
// cluster VMs, bailing out as soon as the installer process dies.
func (d *Deployment) waitForVMs(ctx context.Context, proc ProcessHandle) error {
	timeout := d.VMPollTimeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	interval := d.VMPollInterval
	if interval == 0 {
		interval = 10 * time.Second
	}

	lastCount := 0
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		if proc.Exited() && proc.ExitCode() != 0 {
			return false, &DeployError{
				Stage:  "VM creation",
				Detail: fmt.Sprintf("installer exited with code %d:\n%s", proc.ExitCode(), proc.Output()),
			}
		}
		count, err := d.Prov.CountClusterVMs(d.Config.ClusterName)
		if err != nil {
			logrus.Debugf("VM table not readable yet: %v", err)
			return false, nil
		}
		lastCount = count
		logrus.Infof("%d/%d cluster VMs created", count, minClusterVMs)
		return count >= minClusterVMs, nil
	})
	if err != nil {
		if deployErr, ok := err.(*DeployError); ok {
			return deployErr
		}
		return &DeployError{
			Stage:  "VM creation",
			Detail: fmt.Sprintf("Timeout after %s with %d VM(s) created", timeout, lastCount),
		}
	}
	return nil
}

// postVMSetup performs the disk and device work on the freshly created
// VMs: clearing stale container storage and wiring in PCI devices.
// Either path takes the guests through a stop and boot cycle, the disks
// cannot be edited while they are in use.
func (d *Deployment) postVMSetup() error {
	cfg := d.Config

	if len(cfg.PCIDevices) > 0 {
		// Devices are attached to the first control plane node. The
		// storage wipe runs as the pre-start hook, inside the stop
		// window attachment opens anyway.
		vm := fmt.Sprintf("%s-ctlplane-0", cfg.ClusterName)
		attach := pcipassthrough.NewPCIPassthrough(vm, cfg.PCIDevices, d.SSH, func() error {
			return storagefix.NewStorageFixForStoppedVMs(cfg.ClusterName, cfg.Ctlplanes, d.SSH).Exec()
		})
		if err := attach.Exec(); err != nil {
			return &DeployError{Stage: "PCI passthrough", Detail: err.Error()}
		}
		return nil
	}

	fix := storagefix.NewStorageFix(cfg.ClusterName, cfg.Ctlplanes, d.SSH)
	if err := fix.Exec(); err != nil {
		return &DeployError{Stage: "container storage cleanup", Detail: err.Error()}
	}
	return nil
}

func (d *Deployment) stageAccess() error {
	cfg := d.Config
	access := clusteraccess.NewClusterAccess(d.kubeconfigPath(), cfg.ClusterName, cfg.Domain, cfg.APIIP, d.Fs, d.SSH)
	return access.Exec()
}

func (d *Deployment) printAccessInstructions() {
	cfg := d.Config
	fmt.Printf(`
Cluster %s is deployed.

Access it from the hypervisor host:
    export KUBECONFIG=/root/kubeconfig
    oc get nodes

Or from this machine:
    export KUBECONFIG=%s
    oc get nodes

API endpoint: https://api.%s.%s:6443
`, cfg.ClusterName, d.kubeconfigPath(), cfg.ClusterName, cfg.Domain)
}
