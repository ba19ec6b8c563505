package hostprep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"ocpdeployer/pkg/libssh"
	mocks "ocpdeployer/utils/mock"
)

func okResult() libssh.Result                { return libssh.Result{} }
func failResult(stderr string) libssh.Result { return libssh.Result{ExitCode: 1, Stderr: stderr} }

func TestHostPrepAlreadyPrepared(t *testing.T) {
	sshClient := mocks.NewMockSSHClient(gomock.NewController(t))
	opt := NewHostPrep("bm01.lab.example.com", sshClient)

	sshClient.EXPECT().Run("echo ok", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("command -v virsh", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("rm -rf /run/libvirt/common && systemctl restart virtlogd libvirtd", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("for s in virtqemud virtnetworkd virtstoraged; do systemctl enable --now $s.socket 2>/dev/null || true; done", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("mkdir -p /var/lib/libvirt/images", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("virsh pool-define-as default dir --target /var/lib/libvirt/images", gomock.Any()).
		Return(failResult("error: operation failed: pool 'default' already exists"), nil)
	sshClient.EXPECT().Run("virsh pool-start default", gomock.Any()).
		Return(failResult("error: pool 'default' already active"), nil)
	sshClient.EXPECT().Run("virsh pool-autostart default", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("virsh list --all", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("command -v oc", gomock.Any()).Return(okResult(), nil)

	assert.NoError(t, opt.Exec())
}

func TestHostPrepInstallsWithDetectedPackageManager(t *testing.T) {
	sshClient := mocks.NewMockSSHClient(gomock.NewController(t))
	opt := NewHostPrep("bm01.lab.example.com", sshClient)

	sshClient.EXPECT().Run("echo ok", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("command -v virsh", gomock.Any()).Return(failResult(""), nil)
	sshClient.EXPECT().Run("command -v dnf", gomock.Any()).Return(failResult(""), nil)
	sshClient.EXPECT().Run("command -v yum", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run(gomock.Regex("^yum -y install"), gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Command("systemctl enable --now libvirtd").Return(nil)
	sshClient.EXPECT().Run(gomock.Regex("^rm -rf /run/libvirt/common"), gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run(gomock.Regex("^for s in"), gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("mkdir -p /var/lib/libvirt/images", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run(gomock.Regex("^virsh pool-"), gomock.Any()).Return(okResult(), nil).Times(3)
	sshClient.EXPECT().Run("virsh list --all", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("command -v oc", gomock.Any()).Return(okResult(), nil)

	assert.NoError(t, opt.Exec())
}

func TestHostPrepNoPackageManagerFound(t *testing.T) {
	sshClient := mocks.NewMockSSHClient(gomock.NewController(t))
	opt := NewHostPrep("bm01.lab.example.com", sshClient)

	sshClient.EXPECT().Run("echo ok", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("command -v virsh", gomock.Any()).Return(failResult(""), nil)
	sshClient.EXPECT().Run("command -v dnf", gomock.Any()).Return(failResult(""), nil)
	sshClient.EXPECT().Run("command -v yum", gomock.Any()).Return(failResult(""), nil)
	sshClient.EXPECT().Run("command -v apt-get", gomock.Any()).Return(failResult(""), nil)

	err := opt.Exec()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no supported package manager found")
}

func TestHostPrepUnreachableHost(t *testing.T) {
	sshClient := mocks.NewMockSSHClient(gomock.NewController(t))
	opt := NewHostPrep("bm01.lab.example.com", sshClient)

	sshClient.EXPECT().Run("echo ok", gomock.Any()).
		Return(libssh.Result{}, &libssh.TransportError{Host: "bm01.lab.example.com", Op: "dial"})

	err := opt.Exec()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ssh root@bm01.lab.example.com")
}

func TestHostPrepInstallsOcClient(t *testing.T) {
	sshClient := mocks.NewMockSSHClient(gomock.NewController(t))
	opt := NewHostPrep("bm01.lab.example.com", sshClient)

	sshClient.EXPECT().Run("echo ok", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("command -v virsh", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run(gomock.Regex("^rm -rf /run/libvirt/common"), gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run(gomock.Regex("^for s in"), gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("mkdir -p /var/lib/libvirt/images", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run(gomock.Regex("^virsh pool-"), gomock.Any()).Return(okResult(), nil).Times(3)
	sshClient.EXPECT().Run("virsh list --all", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("command -v oc", gomock.Any()).Return(failResult(""), nil)
	sshClient.EXPECT().Run(gomock.Regex("^curl -sL https://mirror.openshift.com/"), gomock.Any()).
		Return(okResult(), nil)

	assert.NoError(t, opt.Exec())
}

func TestHostPrepPoolFailureSurfaces(t *testing.T) {
	sshClient := mocks.NewMockSSHClient(gomock.NewController(t))
	opt := NewHostPrep("bm01.lab.example.com", sshClient)

	sshClient.EXPECT().Run("echo ok", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("command -v virsh", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run(gomock.Regex("^rm -rf /run/libvirt/common"), gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run(gomock.Regex("^for s in"), gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run("mkdir -p /var/lib/libvirt/images", gomock.Any()).Return(okResult(), nil)
	sshClient.EXPECT().Run(gomock.Regex("^virsh pool-define-as"), gomock.Any()).
		Return(failResult("error: failed to connect to the hypervisor"), nil)

	err := opt.Exec()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "storage pool setup")
	assert.Contains(t, err.Error(), "failed to connect")
}
