package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Tidelink/cache"
	"Tidelink/config"
	"Tidelink/core/link"
	"Tidelink/core/node"
	"Tidelink/core/plugin"
	"Tidelink/db"
	"Tidelink/logger"
	"Tidelink/model"
)

// errNoVoice 离线命令没有网关连接
var errNoVoice = errors.New("voice is not available in this command")

// setup 读取配置并初始化日志
func setup(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := logger.InitLogger(cfg.Log.Logger()); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

// openSessionStore 按配置打开节点会话存储，返回的函数用于释放连接
func openSessionStore(ctx context.Context, cfg *config.Config) (node.SessionStore, func(), error) {
	switch cfg.Tidelink.SessionStore {
	case "redis":
		store, err := cache.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close redis", logger.ErrorField(err))
			}
		}, nil
	case "mysql":
		gdb, err := db.Open(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		store, err := cache.NewSQLSessionStore(gdb)
		if err != nil {
			db.Close(gdb)
			return nil, nil, err
		}
		return store, func() {
			if err := db.Close(gdb); err != nil {
				logger.Warn("failed to close database", logger.ErrorField(err))
			}
		}, nil
	default:
		return cache.NewMemorySessionStore(), func() {}, nil
	}
}

// sourcePlugins 按配置启用的来源插件
func sourcePlugins(cfg *config.Config) []link.SourcePlugin {
	var plugins []link.SourcePlugin
	if cfg.Netease.APIURL != "" {
		netease := plugin.NewNetease(cfg.Netease.APIURL)
		netease.SetLimit(cfg.Netease.Limit)
		plugins = append(plugins, netease)
	}
	return plugins
}

// staticLibrary 只提供身份的网关，用于不进语音的命令
type staticLibrary struct {
	userID string
	shards int
}

func (l staticLibrary) SelfID() string  { return l.userID }
func (l staticLibrary) ShardCount() int { return l.shards }

func (l staticLibrary) SendPacket(int, link.VoicePacket) error {
	return errNoVoice
}

// connectClient 连接节点列表文件中的全部节点，等待至少一个节点可用
func connectClient(ctx context.Context, cfg *config.Config, userID string, wait time.Duration) (*link.Client, error) {
	nodes, err := config.LoadNodes(cfg.NodesFile)
	if err != nil {
		return nil, err
	}

	opts := cfg.LinkOptions()
	// 一次性命令不重连
	opts.Node.RetryCount = 0
	opts.Plugins = sourcePlugins(cfg)
	client := link.New(staticLibrary{userID: userID, shards: 1}, opts)
	if err := client.Start(ctx, nodes); err != nil {
		logger.Warn("some nodes failed to start", logger.ErrorField(err))
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, n := range client.Nodes().All() {
			if n.State() == node.StateConnected && n.Rest().SessionID() != "" {
				return client, nil
			}
		}
		select {
		case <-waitCtx.Done():
			client.Close(context.Background())
			return nil, fmt.Errorf("no node became ready within %s: %w", wait, node.ErrNoNodesOnline)
		case <-ticker.C:
		}
	}
}

// formatTrack 单行展示曲目
func formatTrack(t *model.Track) string {
	return fmt.Sprintf("%s - %s [%s] %s", t.Author, t.Title, (time.Duration(t.Duration) * time.Millisecond).String(), t.URI)
}
