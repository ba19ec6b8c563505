package clusteraccess

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"ocpdeployer/pkg/libssh"
)

// clusterAccess stages the generated kubeconfig on the hypervisor host
// and points its name resolution at the cluster API, so oc can be run
// on the host from the moment the installer brings the API up.
type clusterAccess struct {
	kubeconfigPath string
	cluster        string
	domain         string
	apiIP          string
	fs             afero.Fs
	sshClient      libssh.Client

	// waitTimeout and pollInterval bound the wait for the installer to
	// write the kubeconfig.
	waitTimeout  time.Duration
	pollInterval time.Duration
}

func NewClusterAccess(kubeconfigPath, cluster, domain, apiIP string, fs afero.Fs, sc libssh.Client) *clusterAccess {
	return &clusterAccess{
		kubeconfigPath: kubeconfigPath,
		cluster:        cluster,
		domain:         domain,
		apiIP:          apiIP,
		fs:             fs,
		sshClient:      sc,
		waitTimeout:    2 * time.Minute,
		pollInterval:   5 * time.Second,
	}
}

func (c *clusterAccess) Exec() error {
	if err := c.waitForKubeconfig(); err != nil {
		return err
	}
	if err := c.sshClient.Copy(c.kubeconfigPath, "/root/kubeconfig"); err != nil {
		return err
	}
	logrus.Infof("kubeconfig staged at /root/kubeconfig")
	return c.addHostsEntry()
}

func (c *clusterAccess) waitForKubeconfig() error {
	deadline := time.Now().Add(c.waitTimeout)
	for {
		if ok, err := afero.Exists(c.fs, c.kubeconfigPath); err == nil && ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("installer did not produce %s within %s", c.kubeconfigPath, c.waitTimeout)
		}
		logrus.Debugf("waiting for %s", c.kubeconfigPath)
		time.Sleep(c.pollInterval)
	}
}

// addHostsEntry maps the api hostname to the cluster VIP in the host's
// /etc/hosts, once.
func (c *clusterAccess) addHostsEntry() error {
	apiHost := fmt.Sprintf("api.%s.%s", c.cluster, c.domain)
	entry := fmt.Sprintf("%s %s", c.apiIP, apiHost)
	cmd := fmt.Sprintf("grep -q '%s' /etc/hosts || echo '%s' >> /etc/hosts", apiHost, entry)
	return c.sshClient.Command(cmd)
}
