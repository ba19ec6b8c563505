package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"ocpdeployer/deploy"
	"ocpdeployer/opts/hostprep"
	"ocpdeployer/opts/sshkey"
	"ocpdeployer/pkg/kcli"
	"ocpdeployer/versions"
)

// NewDeployCommand returns command that deploys the configured cluster
func NewDeployCommand() *cobra.Command {

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "deploy creates the cluster on the configured libvirt host and waits for it to come up",
		RunE:  deployCluster,
		Args:  cobra.NoArgs,
	}
	return cmd
}

func deployCluster(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	k := newKcliClient(cfg)
	if err := k.EnsureInstalled(); err != nil {
		return err
	}
	if _, err := os.Stat(cfg.PullSecretPath); err != nil {
		return errors.Errorf("pull secret %s not found, download it from https://console.redhat.com/openshift/install/pull-secret", cfg.PullSecretPath)
	}

	resolved, err := versions.ResolveOCPVersion(cfg.OCPVersion, cfg.VersionChannel)
	if err != nil {
		return err
	}
	cfg.OCPVersion = resolved

	sc, err := newSSHClient(cfg)
	if err != nil {
		return err
	}
	defer sc.Close()

	home, err := os.UserHomeDir()
	if err != nil {
		return errors.Wrap(err, "locating home directory")
	}

	if cfg.IsRemote() {
		if err := hostprep.NewHostPrep(cfg.Remote.Host, sc).Exec(); err != nil {
			return err
		}
		if err := sshkey.NewSSHKey(sshKeyPath(cfg), sc).Exec(); err != nil {
			return err
		}
		configurator := &kcli.Configurator{
			Host:    cfg.Remote.Host,
			User:    cfg.Remote.User,
			KeyPath: sshKeyPath(cfg),
			Fs:      afero.NewOsFs(),
			HomeDir: home,
		}
		name, err := configurator.Configure()
		if err != nil {
			return err
		}
		k.ClientName = name
	} else if err := ensureLocalKcliConfig(); err != nil {
		return err
	}

	ocr, err := newOCRunner(cfg, sc)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := &deploy.Deployment{
		Config:  cfg,
		SSH:     sc,
		Prov:    deploy.NewKcliProvisioner(k),
		OC:      ocr,
		Fs:      afero.NewOsFs(),
		HomeDir: home,
	}
	if err := d.Run(ctx); err != nil {
		return err
	}
	logrus.Infof("cluster %s deployed", cfg.ClusterName)
	return nil
}
