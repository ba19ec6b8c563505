package pcipassthrough

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"ocpdeployer/pkg/libssh"
	mocks "ocpdeployer/utils/mock"
)

func TestHostdevXML(t *testing.T) {
	xml, err := HostdevXML("0000:3b:00.0")
	require.NoError(t, err)
	assert.Contains(t, xml, "domain='0x0000'")
	assert.Contains(t, xml, "bus='0x3b'")
	assert.Contains(t, xml, "slot='0x00'")
	assert.Contains(t, xml, "function='0x0'")
}

func TestHostdevXMLRejectsMalformedAddress(t *testing.T) {
	for _, bad := range []string{"3b:00.0", "0000:3b:00", "garbage", ""} {
		_, err := HostdevXML(bad)
		assert.Error(t, err, bad)
	}
}

func TestPCIPassthroughAttachFlow(t *testing.T) {
	sshClient := mocks.NewMockSSHClient(gomock.NewController(t))

	hookRan := false
	opt := NewPCIPassthrough("sno-ctlplane-0", []string{"0000:3b:00.0"}, sshClient, func() error {
		hookRan = true
		return nil
	})
	opt.pollInterval = time.Millisecond

	xml, err := HostdevXML("0000:3b:00.0")
	require.NoError(t, err)

	gomock.InOrder(
		sshClient.EXPECT().Run("virsh domstate sno-ctlplane-0", gomock.Any()).
			Return(libssh.Result{Stdout: "running\n"}, nil),
		sshClient.EXPECT().Command("virsh shutdown sno-ctlplane-0"),
		sshClient.EXPECT().Run("virsh domstate sno-ctlplane-0", gomock.Any()).
			Return(libssh.Result{Stdout: "shut off\n"}, nil),
		sshClient.EXPECT().Command(fmt.Sprintf("cat > /tmp/hostdev-0000-3b-00-0.xml <<'EOF'\n%sEOF", xml)),
		sshClient.EXPECT().Command("virsh attach-device sno-ctlplane-0 /tmp/hostdev-0000-3b-00-0.xml --config"),
		sshClient.EXPECT().Command("rm -f /tmp/hostdev-0000-3b-00-0.xml"),
		sshClient.EXPECT().Command("virsh start sno-ctlplane-0"),
	)

	require.NoError(t, opt.Exec())
	assert.True(t, hookRan, "pre-start hook must run while the guest is off")
}

func TestPCIPassthroughDestroysStubbornGuest(t *testing.T) {
	sshClient := mocks.NewMockSSHClient(gomock.NewController(t))
	opt := NewPCIPassthrough("sno-ctlplane-0", []string{"0000:3b:00.0"}, sshClient, nil)
	opt.shutdownPolls = 2
	opt.pollInterval = time.Millisecond

	sshClient.EXPECT().Run("virsh domstate sno-ctlplane-0", gomock.Any()).
		Return(libssh.Result{Stdout: "running\n"}, nil).Times(3)
	sshClient.EXPECT().Command("virsh shutdown sno-ctlplane-0")
	sshClient.EXPECT().Command("virsh destroy sno-ctlplane-0")
	sshClient.EXPECT().Command(gomock.Regex("^cat > /tmp/hostdev-"))
	sshClient.EXPECT().Command(gomock.Regex("^virsh attach-device"))
	sshClient.EXPECT().Command(gomock.Regex("^rm -f /tmp/hostdev-"))
	sshClient.EXPECT().Command("virsh start sno-ctlplane-0")

	require.NoError(t, opt.Exec())
}

func TestPCIPassthroughNoDevicesIsNoop(t *testing.T) {
	sshClient := mocks.NewMockSSHClient(gomock.NewController(t))
	opt := NewPCIPassthrough("sno-ctlplane-0", nil, sshClient, nil)
	require.NoError(t, opt.Exec())
}

func TestPCIPassthroughAlreadyOff(t *testing.T) {
	sshClient := mocks.NewMockSSHClient(gomock.NewController(t))
	opt := NewPCIPassthrough("sno-ctlplane-0", []string{"0000:3b:00.0"}, sshClient, nil)

	sshClient.EXPECT().Run("virsh domstate sno-ctlplane-0", gomock.Any()).
		Return(libssh.Result{Stdout: "shut off\n"}, nil)
	sshClient.EXPECT().Command(gomock.Regex("^cat > /tmp/hostdev-"))
	sshClient.EXPECT().Command(gomock.Regex("^virsh attach-device"))
	sshClient.EXPECT().Command(gomock.Regex("^rm -f"))
	sshClient.EXPECT().Command("virsh start sno-ctlplane-0")

	require.NoError(t, opt.Exec())
}
