package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "tidelink",
	Short:        "Tidelink 音频节点控制客户端",
	Long:         `Tidelink 连接 Lavalink / NodeLink / FrequenC 音频节点，管理语音播放器、队列和节点负载。`,
	SilenceUsage: true,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
