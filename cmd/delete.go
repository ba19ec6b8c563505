package cmd

import (
	"github.com/spf13/cobra"

	"ocpdeployer/deploy"
)

// NewDeleteCommand returns command that removes all traces of a cluster
func NewDeleteCommand() *cobra.Command {

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "delete removes the cluster VMs and the access plumbing on the host",
		RunE:  deleteCluster,
		Args:  cobra.NoArgs,
	}
	return cmd
}

func deleteCluster(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	k := newKcliClient(cfg)
	if err := k.EnsureInstalled(); err != nil {
		return err
	}

	sc, err := newSSHClient(cfg)
	if err != nil {
		return err
	}
	defer sc.Close()

	t := &deploy.Teardown{
		Config: cfg,
		SSH:    sc,
		Prov:   deploy.NewKcliProvisioner(k),
	}
	return t.Run()
}
