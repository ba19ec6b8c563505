package sshkey

import (
	"github.com/sirupsen/logrus"

	"ocpdeployer/pkg/libssh"
)

// sshKey stages the deployment key on the hypervisor host so the tools
// running there (kcli, virt-install, oc debug) can reach the cluster
// nodes with the same identity the operator uses.
type sshKey struct {
	keyPath   string
	sshClient libssh.Client
}

func NewSSHKey(keyPath string, sc libssh.Client) *sshKey {
	return &sshKey{
		keyPath:   keyPath,
		sshClient: sc,
	}
}

func (s *sshKey) Exec() error {
	if s.keyPath == "" {
		logrus.Info("no ssh key configured, skipping key staging")
		return nil
	}
	if err := s.sshClient.Command("mkdir -p /root/.ssh"); err != nil {
		return err
	}
	if err := s.sshClient.Copy(s.keyPath, "/root/.ssh/id_rsa"); err != nil {
		return err
	}
	cmds := []string{
		"chmod 600 /root/.ssh/id_rsa",
		"ssh-keygen -y -f /root/.ssh/id_rsa > /root/.ssh/id_rsa.pub",
		"chmod 644 /root/.ssh/id_rsa.pub",
	}
	for _, cmd := range cmds {
		if err := s.sshClient.Command(cmd); err != nil {
			return err
		}
	}
	return nil
}
