package deploy

import (
	"fmt"

	"ocpdeployer/cmd/clusterconfig"
)

// buildParams renders the -P arguments for a cluster creation from the
// deployment config. Order is stable so logs stay comparable between
// runs.
func buildParams(cfg *clusterconfig.Config) []string {
	return []string{
		fmt.Sprintf("cluster=%s", cfg.ClusterName),
		fmt.Sprintf("domain=%s", cfg.Domain),
		fmt.Sprintf("network=%s", cfg.Network),
		fmt.Sprintf("ctlplanes=%d", cfg.Ctlplanes),
		fmt.Sprintf("workers=%d", cfg.Workers),
		fmt.Sprintf("ctlplane_memory=%d", cfg.Ctlplane.Memory),
		fmt.Sprintf("ctlplane_numcpus=%d", cfg.Ctlplane.Numcpus),
		fmt.Sprintf("worker_memory=%d", cfg.Worker.Memory),
		fmt.Sprintf("worker_numcpus=%d", cfg.Worker.Numcpus),
		fmt.Sprintf("disk_size=%d", cfg.DiskSize),
		fmt.Sprintf("tag=%s", cfg.OCPVersion),
		fmt.Sprintf("pull_secret=%s", cfg.PullSecretPath),
		fmt.Sprintf("api_ip=%s", cfg.APIIP),
		fmt.Sprintf("version=%s", cfg.VersionChannel),
	}
}
