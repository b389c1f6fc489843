package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Tidelink/internal/fakenode"
	"Tidelink/logger"

	"github.com/spf13/cobra"
)

var (
	fakenodeAddr     string
	fakenodePassword string
)

var fakenodeCmd = &cobra.Command{
	Use:   "fakenode",
	Short: "启动本地模拟节点",
	Long:  `在本地启动一个 Lavalink v4 模拟节点。未预设的搜索和 URL 会返回生成的曲目，便于不依赖真实节点调试。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.InitLogger(logger.Config{Level: "debug", Console: true}); err != nil {
			return err
		}
		defer logger.Sync()

		fake := fakenode.New(fakenodePassword)
		fake.EchoSearches(true)
		server := &http.Server{
			Addr:              fakenodeAddr,
			Handler:           fake.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// 创建一个通道来接收操作系统信号
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

		errCh := make(chan error, 1)
		go func() {
			logger.Info("fake node listening", logger.String("addr", fakenodeAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-stop:
		}
		logger.Info("shutting down fake node")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		fake.CloseAll(1001, "shutting down")
		return server.Shutdown(ctx)
	},
}

func init() {
	fakenodeCmd.Flags().StringVar(&fakenodeAddr, "addr", ":2333", "监听地址")
	fakenodeCmd.Flags().StringVar(&fakenodePassword, "password", "youshallnotpass", "Authorization 口令，为空时不校验")
	rootCmd.AddCommand(fakenodeCmd)
}
