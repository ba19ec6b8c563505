package cmd

import (
	"github.com/spf13/cobra"

	"ocpdeployer/operators"
)

// NewCleanupCommand returns command that removes the GPU operator stack
func NewCleanupCommand() *cobra.Command {

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "cleanup uninstalls the GPU operator stack and reverts its cluster configuration",
		RunE:  cleanupOperators,
		Args:  cobra.NoArgs,
	}
	return cmd
}

func cleanupOperators(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
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

	cleanup := &operators.Cleanup{OC: ocr}
	return cleanup.Run()
}
