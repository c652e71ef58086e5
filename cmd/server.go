package cmd

import (
	"XtendFM/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动XtendFM服务器",
	Long:  `启动XtendFM音频扩展系统的HTTP服务器，提供上传、扩展处理和播放接口`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
