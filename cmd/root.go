package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "xtendfm_server",
	Short: "XtendFM extends uploaded audio tracks with generated intros and outros.",
	Run: func(cmd *cobra.Command, args []string) {
		// 默认行为与 server 子命令一致
		serverCmd.Run(cmd, args)
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
