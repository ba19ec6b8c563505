package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ocpdeployer/operators"
	"ocpdeployer/versions"
)

// NewOperatorsCommand returns command that installs the GPU operator stack
func NewOperatorsCommand() *cobra.Command {

	cmd := &cobra.Command{
		Use:   "operators",
		Short: "operators installs NFD, KMM and the AMD GPU operator onto the deployed cluster",
		RunE:  installOperators,
		Args:  cobra.NoArgs,
	}
	cmd.Flags().String("gpu-operator-version", "1.4", "AMD GPU operator version, major.minor resolves to the latest certified patch")
	cmd.Flags().String("driver-version", operators.DefaultDriverVersion, "amdgpu driver version for the DeviceConfig")
	cmd.Flags().Bool("disable-metrics", false, "skip the metrics exporter and ServiceMonitor")
	return cmd
}

func installOperators(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	gpuVersion, err := cmd.Flags().GetString("gpu-operator-version")
	if err != nil {
		return err
	}
	driverVersion, err := cmd.Flags().GetString("driver-version")
	if err != nil {
		return err
	}
	disableMetrics, err := cmd.Flags().GetBool("disable-metrics")
	if err != nil {
		return err
	}

	resolved, err := versions.ResolveGPUOperatorVersion(gpuVersion)
	if err != nil {
		return err
	}

	sc, err := newSSHClient(cfg)
	if err != nil {
		return err
	}
	defer sc.Close()

	ocr, err := newOCRunner(cfg, sc)
	if err != nil {
		return err
	}

	icfg := operators.DefaultInstallConfig()
	icfg.GPUOperatorVersion = resolved
	icfg.DriverVersion = driverVersion
	icfg.EnableMetrics = !disableMetrics
	icfg.OCPVersion = cfg.OCPVersion
	// SNO runs everything on the master pool, so the blacklist
	// MachineConfig has to target it there.
	if cfg.Ctlplanes == 1 && cfg.Workers == 0 {
		icfg.MachineConfigRole = "master"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	installer := &operators.Installer{OC: ocr, Cfg: icfg}
	return installer.Install(ctx)
}
