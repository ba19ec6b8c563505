package clusteraccess

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	mocks "ocpdeployer/utils/mock"
)

func TestClusterAccessStagesKubeconfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/home/user/.kcli/clusters/sno/auth/kubeconfig"
	require.NoError(t, afero.WriteFile(fs, path, []byte("apiVersion: v1"), 0o600))

	sshClient := mocks.NewMockSSHClient(gomock.NewController(t))
	opt := NewClusterAccess(path, "sno", "lab.example.com", "192.168.1.90", fs, sshClient)

	sshClient.EXPECT().Copy(path, "/root/kubeconfig")
	sshClient.EXPECT().Command("grep -q 'api.sno.lab.example.com' /etc/hosts || echo '192.168.1.90 api.sno.lab.example.com' >> /etc/hosts")

	assert.NoError(t, opt.Exec())
}

func TestClusterAccessWaitsForInstallerToWriteKubeconfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/home/user/.kcli/clusters/sno/auth/kubeconfig"

	sshClient := mocks.NewMockSSHClient(gomock.NewController(t))
	opt := NewClusterAccess(path, "sno", "lab.example.com", "192.168.1.90", fs, sshClient)
	opt.waitTimeout = time.Second
	opt.pollInterval = 10 * time.Millisecond

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = afero.WriteFile(fs, path, []byte("apiVersion: v1"), 0o600)
	}()

	sshClient.EXPECT().Copy(path, "/root/kubeconfig")
	sshClient.EXPECT().Command(gomock.Regex("^grep -q"))

	assert.NoError(t, opt.Exec())
}

func TestClusterAccessTimesOutWithoutKubeconfig(t *testing.T) {
	sshClient := mocks.NewMockSSHClient(gomock.NewController(t))
	opt := NewClusterAccess("/nope/kubeconfig", "sno", "lab.example.com", "192.168.1.90", afero.NewMemMapFs(), sshClient)
	opt.waitTimeout = 50 * time.Millisecond
	opt.pollInterval = 10 * time.Millisecond

	err := opt.Exec()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nope/kubeconfig")
}
