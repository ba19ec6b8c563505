package cmd

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"ocpdeployer/cmd/clusterconfig"
	"ocpdeployer/pkg/kcli"
	"ocpdeployer/pkg/libssh"
	"ocpdeployer/pkg/oc"
)

const sshPort = 22

func loadConfig(cmd *cobra.Command) (*clusterconfig.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return clusterconfig.Load(afero.NewOsFs(), path)
}

func sshKeyPath(cfg *clusterconfig.Config) string {
	if cfg.Remote.SSHKeyPath != "" {
		return cfg.Remote.SSHKeyPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "id_rsa")
}

// newSSHClient returns a client running commands on the hypervisor,
// which is the local machine when no remote host is configured.
func newSSHClient(cfg *clusterconfig.Config) (libssh.Client, error) {
	if !cfg.IsRemote() {
		return libssh.NewLocalClient(), nil
	}
	return libssh.NewRemoteClient(cfg.Remote.Host, sshPort, cfg.Remote.User, sshKeyPath(cfg))
}

func localKubeconfigPath(cfg *clusterconfig.Config) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "locating home directory")
	}
	return filepath.Join(home, ".kcli", "clusters", cfg.ClusterName, "auth", "kubeconfig"), nil
}

// newOCRunner picks where oc talks to the cluster from: through the
// hypervisor host for remote deployments, directly otherwise.
func newOCRunner(cfg *clusterconfig.Config, sc libssh.Client) (oc.Runner, error) {
	if cfg.IsRemote() {
		return oc.NewRemoteRunner(sc), nil
	}
	kubeconfig, err := localKubeconfigPath(cfg)
	if err != nil {
		return nil, err
	}
	return oc.NewLocalRunner(kubeconfig), nil
}

// ensureLocalKcliConfig bootstraps a default local kvm client when no
// kcli registry exists yet.
func ensureLocalKcliConfig() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return errors.Wrap(err, "locating home directory")
	}
	registry := filepath.Join(home, ".kcli", "config.yml")
	if _, err := os.Stat(registry); err == nil {
		return nil
	}
	logrus.Infof("no %s found, creating a default local kvm client", registry)
	sc := libssh.NewLocalClient()
	return sc.Command("kcli create host kvm -H 127.0.0.1 local")
}

func newKcliClient(cfg *clusterconfig.Config) *kcli.Kcli {
	k := &kcli.Kcli{}
	if cfg.IsRemote() {
		k.ClientName = kcli.ClientNameForHost(cfg.Remote.Host)
	}
	return k
}
