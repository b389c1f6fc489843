package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var nodesUserID string

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "查看节点信息和负载",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := setup(ctx)
		if err != nil {
			return err
		}

		client, err := connectClient(ctx, cfg, nodesUserID, 10*time.Second)
		if err != nil {
			return err
		}
		defer client.Close(context.Background())

		for _, n := range client.Nodes().All() {
			fmt.Printf("%s (%s:%d, %s): %s\n", n.Name(), n.Config.Host, n.Config.Port, n.Driver().ID(), n.State())
			if n.Rest().SessionID() == "" {
				continue
			}

			if info, err := n.Rest().GetInfo(ctx); err == nil && info != nil {
				fmt.Printf("  version %s, sources %v\n", info.Version.Semver, info.SourceManagers)
			}
			stats, err := n.Rest().GetStatus(ctx)
			if err != nil || stats == nil {
				s := n.Stats()
				stats = &s
			}
			fmt.Printf("  players %d/%d playing, uptime %s, cpu %.1f%%, memory %d MiB used\n",
				stats.PlayingPlayers, stats.Players,
				(time.Duration(stats.Uptime) * time.Millisecond).Truncate(time.Second),
				stats.CPU.LavalinkLoad*100,
				stats.Memory.Used>>20)
		}
		return nil
	},
}

func init() {
	nodesCmd.Flags().StringVar(&nodesUserID, "user-id", "0", "连接节点时使用的 User-Id")
	rootCmd.AddCommand(nodesCmd)
}
