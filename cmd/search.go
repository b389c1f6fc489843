package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Tidelink/core/link"

	"github.com/spf13/cobra"
)

var (
	searchEngine string
	searchNode   string
	searchUserID string
	searchLimit  int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "通过节点搜索曲目",
	Long:  `连接节点列表中的节点，按默认或指定的搜索引擎查询并打印结果。URL 原样交给节点解析。`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := setup(ctx)
		if err != nil {
			return err
		}

		client, err := connectClient(ctx, cfg, searchUserID, 10*time.Second)
		if err != nil {
			return err
		}
		defer client.Close(context.Background())

		res, err := client.Search(ctx, strings.Join(args, " "), link.SearchOptions{
			Engine:   searchEngine,
			NodeName: searchNode,
		})
		if err != nil {
			return err
		}
		if res.Exception != nil {
			return fmt.Errorf("load failed: %s (%s)", res.Exception.Message, res.Exception.Severity)
		}

		if res.Type == link.ResultPlaylist {
			fmt.Printf("Playlist: %s\n", res.PlaylistName)
		}
		if len(res.Tracks) == 0 {
			fmt.Println("No results.")
			return nil
		}
		for i, t := range res.Tracks {
			if searchLimit > 0 && i == searchLimit {
				fmt.Printf("... %d more\n", len(res.Tracks)-searchLimit)
				break
			}
			fmt.Printf("%2d. %s\n", i+1, formatTrack(t))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchEngine, "engine", "", "搜索引擎，默认取 TIDELINK_DEFAULT_ENGINE")
	searchCmd.Flags().StringVar(&searchNode, "node", "", "指定节点名，默认按负载选择")
	searchCmd.Flags().StringVar(&searchUserID, "user-id", "0", "连接节点时使用的 User-Id")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "最多显示的条数，0 为全部")
	rootCmd.AddCommand(searchCmd)
}
