package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Tidelink/config"
	"Tidelink/core/link"
	"Tidelink/driver"
	"Tidelink/gateway"
	"Tidelink/logger"

	"github.com/spf13/cobra"
)

var (
	runShards int
	runPrefix string
	runEngine string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "启动机器人",
	Long:  `连接 Discord 网关和节点列表中的全部节点，监听节点文件变化，处理前缀文字指令。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

func init() {
	runCmd.Flags().IntVar(&runShards, "shards", 1, "Discord 分片数")
	runCmd.Flags().StringVar(&runPrefix, "prefix", "!", "文字指令前缀")
	runCmd.Flags().StringVar(&runEngine, "engine", "", "play 指令使用的搜索引擎或插件，默认取 TIDELINK_DEFAULT_ENGINE")
	rootCmd.AddCommand(runCmd)
}

func run(ctx context.Context) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Discord.Token == "" {
		return errors.New("DISCORD_TOKEN is required")
	}
	nodes, err := config.LoadNodes(cfg.NodesFile)
	if err != nil {
		return err
	}

	store, closeStore, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	gw, err := gateway.Open(cfg.Discord.Token, runShards)
	if err != nil {
		return err
	}
	defer gw.Close()

	readyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = gw.WaitReady(readyCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("wait for discord ready: %w", err)
	}

	opts := cfg.LinkOptions()
	opts.Node.Sessions = store
	opts.Plugins = sourcePlugins(cfg)
	client := link.New(gw, opts)
	gw.Bind(client)
	client.On(announcer(gw))

	commands := gateway.NewCommands(client, runPrefix)
	commands.Engine = runEngine
	gw.AddHandler(commands.HandleMessage)

	if err := client.Start(ctx, nodes); err != nil {
		logger.Warn("some nodes failed to start", logger.ErrorField(err))
	}
	logger.Info("tidelink started",
		logger.String("user", gw.SelfID()),
		logger.Int("shards", gw.ShardCount()),
		logger.Int("nodes", len(nodes)))

	go func() {
		err := config.WatchNodes(ctx, cfg.NodesFile, func(next []driver.NodeConfig) {
			client.Nodes().Sync(ctx, next)
		})
		if err != nil {
			logger.Warn("nodes file watcher stopped", logger.ErrorField(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client.Close(shutdownCtx)
	return nil
}

// announcer 记录客户端事件，并在文字频道里播报开始播放和队列结束
func announcer(gw *gateway.Discordgo) link.Listener {
	say := func(p *link.Player, msg string) {
		if p.TextID() == "" {
			return
		}
		if err := gw.SendMessage(p.TextID(), msg); err != nil {
			logger.Debug("announce failed", logger.Guild(p.GuildID), logger.ErrorField(err))
		}
	}

	return func(e link.Event) {
		switch ev := e.(type) {
		case link.NodeConnectEvent:
			logger.Info("node connected", logger.Node(ev.Node.Name()))
		case link.NodeDisconnectEvent:
			logger.Warn("node disconnected", logger.Node(ev.Node.Name()),
				logger.Int("code", ev.Code), logger.String("reason", ev.Reason))
		case link.NodeClosedEvent:
			logger.Error("node closed", logger.Node(ev.Node.Name()))
		case link.TrackStartEvent:
			say(ev.Player, fmt.Sprintf("Now playing: %s - %s", ev.Track.Author, ev.Track.Title))
		case link.TrackExceptionEvent:
			if ev.Exception != nil {
				say(ev.Player, "Playback failed: "+ev.Exception.Message)
			}
		case link.TrackResolveErrorEvent:
			say(ev.Player, fmt.Sprintf("Could not find a playable source for %s, skipping.", ev.Track.Title))
		case link.QueueEmptyEvent:
			say(ev.Player, "Queue finished.")
		default:
			logger.Debug("event", logger.String("kind", e.Kind().String()))
		}
	}
}
