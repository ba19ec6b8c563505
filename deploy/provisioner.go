package deploy

import (
	"time"

	"ocpdeployer/pkg/kcli"
)

// ProcessHandle is the view of a background cluster creation the
// orchestrator needs for polling and teardown.
type ProcessHandle interface {
	Exited() bool
	ExitCode() int
	Output() string
	Stop(grace time.Duration)
}

// provisioner is what the orchestrator needs from the virtualization
// layer.
type provisioner interface {
	DeleteCluster(name string) error
	CreateClusterAsync(params []string) (ProcessHandle, error)
	CountClusterVMs(cluster string) (int, error)
	ListVM() (string, error)
}

// kcliProvisioner adapts *kcli.Kcli to the provisioner interface, the
// concrete process type does not name ProcessHandle itself.
type kcliProvisioner struct {
	k *kcli.Kcli
}

// NewKcliProvisioner wraps k for use by the orchestrator.
func NewKcliProvisioner(k *kcli.Kcli) *kcliProvisioner {
	return &kcliProvisioner{k: k}
}

func (p *kcliProvisioner) DeleteCluster(name string) error {
	return p.k.DeleteCluster(name)
}

func (p *kcliProvisioner) CreateClusterAsync(params []string) (ProcessHandle, error) {
	proc, err := p.k.CreateClusterAsync(params)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

func (p *kcliProvisioner) CountClusterVMs(cluster string) (int, error) {
	return p.k.CountClusterVMs(cluster)
}

func (p *kcliProvisioner) ListVM() (string, error) {
	return p.k.ListVM()
}
