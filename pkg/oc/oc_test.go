package oc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"ocpdeployer/pkg/libssh"
	mocks "ocpdeployer/utils/mock"
)

func TestRemoteRunnerPrefixesKubeconfigAndQuotes(t *testing.T) {
	ctrl := gomock.NewController(t)
	ssh := mocks.NewMockSSHClient(ctrl)
	runner := &RemoteRunner{SSH: ssh, Kubeconfig: "/root/kubeconfig"}

	ssh.EXPECT().
		Run(`KUBECONFIG=/root/kubeconfig oc get nodes -o 'jsonpath={.items[*].metadata.name}'`, time.Minute).
		Return(libssh.Result{Stdout: "sno-ctlplane-0"}, nil)

	res := runner.Oc(time.Minute, "get", "nodes", "-o", "jsonpath={.items[*].metadata.name}")
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "sno-ctlplane-0", res.Stdout)
}

func TestRemoteRunnerFoldsTransportErrorIntoResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	ssh := mocks.NewMockSSHClient(ctrl)
	runner := NewRemoteRunner(ssh)

	ssh.EXPECT().
		Run(gomock.Any(), gomock.Any()).
		Return(libssh.Result{}, &libssh.TransportError{Host: "bm01", Op: "dial", Err: assert.AnError})

	res := runner.Oc(time.Minute, "get", "clusterversion")
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Stderr, "bm01")
}

func TestRemoteRunnerPassesNonZeroExitThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	ssh := mocks.NewMockSSHClient(ctrl)
	runner := NewRemoteRunner(ssh)

	ssh.EXPECT().
		Run(gomock.Any(), gomock.Any()).
		Return(libssh.Result{ExitCode: 1, Stderr: "error: the server doesn't have a resource type"}, nil)

	res := runner.Oc(time.Minute, "get", "widgets")
	require.Equal(t, 1, res.ExitCode)
	assert.False(t, res.Ok())
}
