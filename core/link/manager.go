package link

import (
	"context"
	"errors"
	"sync"

	"Tidelink/logger"
)

// CreateOptions 创建播放器的参数
type CreateOptions struct {
	GuildID string
	VoiceID string
	TextID  string
	Volume  int
	Mute    bool
	Deaf    bool
	// NodeName 为空时按负载选择节点
	NodeName string
}

// PlayerManager 以 guild id 为键的播放器注册表
type PlayerManager struct {
	client *Client

	mu      sync.RWMutex
	players map[string]*Player
}

func newPlayerManager(c *Client) *PlayerManager {
	return &PlayerManager{client: c, players: make(map[string]*Player)}
}

// Create 选择节点、加入语音并把语音凭据交给节点
//
// 同一 guild 已有播放器时直接返回该播放器。
func (m *PlayerManager) Create(ctx context.Context, opts CreateOptions) (*Player, error) {
	if opts.GuildID == "" || opts.VoiceID == "" {
		return nil, errors.New("guild id and voice channel id are required")
	}
	if p, ok := m.Get(opts.GuildID); ok {
		return p, nil
	}

	n, err := m.client.pickNode(ctx, opts.NodeName)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.players[opts.GuildID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	p := newPlayer(m.client, n, opts)
	m.players[opts.GuildID] = p
	m.mu.Unlock()

	if err := p.Connect(ctx); err != nil {
		m.abandon(p)
		return nil, err
	}
	if err := p.sendServerUpdate(ctx); err != nil {
		m.abandon(p)
		return nil, err
	}

	logger.Info("player created",
		logger.Guild(opts.GuildID),
		logger.Node(n.Name()),
		logger.Driver(n.Driver().ID()))
	m.client.emit(PlayerCreateEvent{Player: p})
	return p, nil
}

// abandon 创建失败时离开语音并注销
func (m *PlayerManager) abandon(p *Player) {
	m.remove(p)
	if err := p.leaveVoice(); err != nil {
		logger.Debug("failed to leave voice after create failure", logger.Guild(p.GuildID), logger.ErrorField(err))
	}
	p.markDestroyed()
}

// Get 按 guild id 查找
func (m *PlayerManager) Get(guildID string) (*Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[guildID]
	return p, ok
}

// All 全部播放器
func (m *PlayerManager) All() []*Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Player, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, p)
	}
	return out
}

// Len 播放器数量
func (m *PlayerManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

// Destroy 销毁指定 guild 的播放器，不存在时什么也不做
func (m *PlayerManager) Destroy(ctx context.Context, guildID string) error {
	p, ok := m.Get(guildID)
	if !ok {
		return nil
	}
	return p.Destroy(ctx)
}

// remove 只移除同一个实例，避免误删已重建的播放器
func (m *PlayerManager) remove(p *Player) {
	m.mu.Lock()
	if m.players[p.GuildID] == p {
		delete(m.players, p.GuildID)
	}
	m.mu.Unlock()
}
