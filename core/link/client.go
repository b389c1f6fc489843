// Package link 面向机器人的播放器层：节点选择、曲目搜索与解析、语音握手、
// 队列推进和事件分发
package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Tidelink/core/node"
	"Tidelink/driver"
	"Tidelink/logger"
)

// ErrLibraryNotReady 网关尚未登录，拿不到 bot 用户 id
var ErrLibraryNotReady = errors.New("discord library not ready")

// Library Discord 网关边界，由具体的 Discord 库适配实现
type Library interface {
	SelfID() string
	ShardCount() int
	// SendPacket 在指定分片上发送 op 4 语音状态更新
	SendPacket(shardID int, packet VoicePacket) error
}

// VoicePacket 网关 op 4 负载
type VoicePacket struct {
	Op int            `json:"op"`
	D  VoiceStateData `json:"d"`
}

// VoiceStateData ChannelID 为 nil 时表示离开语音频道
type VoiceStateData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

// SearchFallback 默认引擎解析失败时改用的引擎
type SearchFallback struct {
	Enable bool
	Engine string
}

// Options 客户端配置，建议从 DefaultOptions 开始修改
type Options struct {
	Node node.Options

	VoiceConnectionTimeout time.Duration
	DefaultSearchEngine    string
	DefaultVolume          int
	SearchFallback         SearchFallback
	// SearchEngines 引擎名到搜索前缀，会与内置表合并
	SearchEngines map[string]string
	// HistoryLimit 历史曲目上限，0 为不限
	HistoryLimit int
	Plugins      []SourcePlugin
	Resolver     node.Resolver
}

// DefaultOptions 默认配置
func DefaultOptions() Options {
	return Options{
		Node: node.Options{
			RetryTimeout:  3 * time.Second,
			RetryCount:    15,
			ResumeTimeout: 300,
			StatsTimeout:  5 * time.Second,
			Driver: driver.Options{
				ClientName: "tidelink",
			},
		},
		VoiceConnectionTimeout: 15 * time.Second,
		DefaultSearchEngine:    "youtube",
		DefaultVolume:          100,
		SearchFallback:         SearchFallback{Enable: true, Engine: "soundcloud"},
	}
}

func (o *Options) setDefaults() {
	if o.VoiceConnectionTimeout <= 0 {
		o.VoiceConnectionTimeout = 15 * time.Second
	}
	if o.DefaultSearchEngine == "" {
		o.DefaultSearchEngine = "youtube"
	}
	if o.DefaultVolume <= 0 {
		o.DefaultVolume = 100
	}
	if o.SearchFallback.Engine == "" {
		o.SearchFallback.Engine = "soundcloud"
	}
}

// Client 客户端入口
type Client struct {
	opts    Options
	library Library
	nodes   *node.Manager
	players *PlayerManager
	engines map[string]string
	plugins map[string]SourcePlugin
	events  bus
}

// New 创建客户端，节点在 Start 时才会连接
func New(library Library, opts Options) *Client {
	opts.setDefaults()
	c := &Client{
		opts:    opts,
		library: library,
		engines: make(map[string]string, len(defaultEngines)+len(opts.SearchEngines)),
		plugins: make(map[string]SourcePlugin, len(opts.Plugins)),
	}
	for name, prefix := range defaultEngines {
		c.engines[name] = prefix
	}
	for name, prefix := range opts.SearchEngines {
		c.engines[name] = prefix
	}
	for _, p := range opts.Plugins {
		c.plugins[p.SourceName()] = p
		logger.Debug("source plugin registered",
			logger.String("plugin", p.Name()),
			logger.String("source", p.SourceName()))
	}

	c.nodes = node.NewManager(opts.Node, c)
	if opts.Resolver != nil {
		c.nodes.SetResolver(opts.Resolver)
	}
	c.players = newPlayerManager(c)
	return c
}

// Nodes 节点管理器
func (c *Client) Nodes() *node.Manager { return c.nodes }

// Players 播放器管理器
func (c *Client) Players() *PlayerManager { return c.players }

// On 注册事件监听，返回值用于注销
func (c *Client) On(fn Listener) func() {
	return c.events.on(fn)
}

func (c *Client) emit(e Event) {
	c.events.emit(e)
}

// Start 网关就绪后调用，带上 bot 身份连接全部节点
func (c *Client) Start(ctx context.Context, nodes []driver.NodeConfig) error {
	userID := c.library.SelfID()
	if userID == "" {
		return ErrLibraryNotReady
	}
	shards := c.library.ShardCount()
	if shards <= 0 {
		shards = 1
	}
	c.nodes.SetIdentity(userID, shards)

	var errs []error
	for _, cfg := range nodes {
		if _, err := c.nodes.Add(ctx, cfg); err != nil {
			errs = append(errs, err)
		}
	}
	logger.Info("tidelink started",
		logger.String("userId", userID),
		logger.Int("shards", shards),
		logger.Int("nodes", len(nodes)))
	return errors.Join(errs...)
}

// Close 销毁全部播放器并断开全部节点
func (c *Client) Close(ctx context.Context) {
	for _, p := range c.players.All() {
		if err := p.Destroy(ctx); err != nil && !errors.Is(err, ErrPlayerDestroyed) {
			logger.Warn("failed to destroy player", logger.Guild(p.GuildID), logger.ErrorField(err))
		}
	}
	for _, n := range c.nodes.All() {
		if err := c.nodes.Remove(n.Name()); err != nil {
			logger.Warn("failed to remove node", logger.Node(n.Name()), logger.ErrorField(err))
		}
	}
}

// HandleVoiceServerUpdate 网关 VOICE_SERVER_UPDATE
func (c *Client) HandleVoiceServerUpdate(guildID, token, endpoint string) {
	p, ok := c.players.Get(guildID)
	if !ok {
		return
	}
	p.setServerUpdate(token, endpoint)
}

// HandleVoiceStateUpdate 网关 VOICE_STATE_UPDATE，只应传入 bot 自身的状态
func (c *Client) HandleVoiceStateUpdate(guildID, sessionID, channelID string, selfDeaf, selfMute bool) {
	p, ok := c.players.Get(guildID)
	if !ok {
		return
	}
	p.setStateUpdate(sessionID, channelID, selfDeaf, selfMute)
}

// pickNode 指定名称时必须存在，否则按负载选择
func (c *Client) pickNode(ctx context.Context, name string) (*node.Node, error) {
	if name != "" {
		n, ok := c.nodes.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", node.ErrNodeNotFound, name)
		}
		return n, nil
	}
	return c.nodes.LeastUsed(ctx)
}
