package cmd

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"ocpdeployer/pkg/gputest"
)

const defaultSuite = "go test ./tests/ -v -count=1"

// NewTestGPUCommand returns command that runs the GPU verification suite
func NewTestGPUCommand() *cobra.Command {

	cmd := &cobra.Command{
		Use:   "test-gpu",
		Short: "test-gpu runs the GPU verification suite against the deployed cluster",
		RunE:  testGPU,
		Args:  cobra.NoArgs,
	}
	cmd.Flags().String("suite", defaultSuite, "verification suite command to run with KUBECONFIG set")
	return cmd
}

func testGPU(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	suite, err := cmd.Flags().GetString("suite")
	if err != nil {
		return err
	}

	kubeconfig, err := localKubeconfigPath(cfg)
	if err != nil {
		return err
	}

	runner := &gputest.Runner{Suite: strings.Fields(suite)}

	var code int
	if cfg.IsRemote() {
		code, err = runner.RunRemote(cfg.Remote.Host, cfg.Remote.User, sshKeyPath(cfg), kubeconfig)
	} else {
		code, err = runner.Run(kubeconfig)
	}
	if err != nil {
		return err
	}
	if code != 0 {
		return errors.Errorf("GPU verification suite failed with exit code %d", code)
	}
	return nil
}
