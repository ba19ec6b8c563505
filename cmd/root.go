package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCommand returns entrypoint command to interact with all other commands
func NewRootCommand() *cobra.Command {

	root := &cobra.Command{
		Use:   "ocpdeployer",
		Short: "ocpdeployer provisions OpenShift clusters on a libvirt host and installs the AMD GPU operator stack",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStderr(), cmd.UsageString())
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to the cluster configuration file")
	root.MarkPersistentFlagRequired("config")
	root.PersistentFlags().Bool("debug", false, "enable debug logging")

	root.AddCommand(
		NewDeployCommand(),
		NewDeleteCommand(),
		NewOperatorsCommand(),
		NewTestGPUCommand(),
		NewCleanupCommand(),
	)

	return root
}

// Execute executes root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
