package deploy

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"ocpdeployer/cmd/clusterconfig"
)

// Teardown removes a deployed cluster and the access plumbing the
// deployment left on the hypervisor host.
type Teardown struct {
	Config *clusterconfig.Config
	SSH    SSHCommander
	Prov   provisioner
}

// SSHCommander is the slice of the ssh client the teardown needs.
type SSHCommander interface {
	Command(cmd string) error
}

// Run deletes the cluster VMs and cleans up the host.
func (t *Teardown) Run() error {
	cfg := t.Config
	logrus.Infof("deleting cluster %s", cfg.ClusterName)

	if err := t.Prov.DeleteCluster(cfg.ClusterName); err != nil {
		return &DeployError{Stage: "cluster removal", Detail: err.Error()}
	}

	apiHost := fmt.Sprintf("api.%s.%s", cfg.ClusterName, cfg.Domain)
	cleanups := []string{
		fmt.Sprintf("sed -i '/%s/d' /etc/hosts", apiHost),
		"rm -f /root/kubeconfig",
	}
	for _, cmd := range cleanups {
		if err := t.SSH.Command(cmd); err != nil {
			logrus.Warnf("host cleanup %q failed: %v", cmd, err)
		}
	}
	logrus.Infof("cluster %s deleted", cfg.ClusterName)
	return nil
}
