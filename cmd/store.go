package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "会话存储连接测试",
	Long:  `按 TIDELINK_SESSION_STORE 打开会话存储（memory / redis / mysql），写入并读回一条测试会话。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := setup(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("开始测试会话存储: %s\n", cfg.Tidelink.SessionStore)
		store, closeStore, err := openSessionStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("无法打开会话存储: %w", err)
		}
		defer closeStore()
		fmt.Println("会话存储连接成功！")

		const key = "tidelink-store-check"
		want := fmt.Sprintf("check-%d", time.Now().UnixNano())
		if err := store.Save(ctx, key, want, time.Minute); err != nil {
			return fmt.Errorf("写入测试会话失败: %w", err)
		}
		got, err := store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("读取测试会话失败: %w", err)
		}
		if got != want {
			return fmt.Errorf("读回的会话不一致: got %q, want %q", got, want)
		}
		fmt.Println("会话存储读写测试成功！")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storeCmd)
}
