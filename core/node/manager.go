package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"Tidelink/driver"
	"Tidelink/logger"
)

var (
	// ErrNoNodesOnline 没有处于连接状态的节点
	ErrNoNodesOnline = errors.New("no nodes online")
	// ErrNodeNotFound 节点名未注册
	ErrNodeNotFound = errors.New("node not found")
)

// Resolver 自定义节点选择，返回 nil 时回退到最少使用策略
type Resolver func(ctx context.Context, m *Manager) *Node

// Manager 节点注册表与选择策略
type Manager struct {
	opts     Options
	handler  EventHandler
	resolver Resolver

	mu    sync.RWMutex
	nodes map[string]*Node
	order []string
}

// NewManager 创建节点管理器
func NewManager(opts Options, handler EventHandler) *Manager {
	opts.setDefaults()
	return &Manager{
		opts:    opts,
		handler: handler,
		nodes:   make(map[string]*Node),
	}
}

// SetResolver 设置自定义选择函数
func (m *Manager) SetResolver(r Resolver) {
	m.mu.Lock()
	m.resolver = r
	m.mu.Unlock()
}

// SetIdentity 设置客户端身份，只影响之后新建的节点
func (m *Manager) SetIdentity(userID string, shardCount int) {
	m.mu.Lock()
	m.opts.Driver.UserID = userID
	m.opts.Driver.ShardCount = shardCount
	m.mu.Unlock()
}

// Add 创建、注册并连接节点
//
// 连接失败不会返回错误，节点会按重试策略继续尝试，结果通过事件通知。
func (m *Manager) Add(ctx context.Context, cfg driver.NodeConfig) (*Node, error) {
	m.mu.Lock()
	if _, ok := m.nodes[cfg.Name]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("node %q already exists", cfg.Name)
	}
	n, err := New(cfg, m.opts, m.handler)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("create node %q: %w", cfg.Name, err)
	}
	m.nodes[cfg.Name] = n
	m.order = append(m.order, cfg.Name)
	m.mu.Unlock()

	if _, err := n.Connect(ctx); err != nil {
		logger.Warn("initial node connection failed",
			logger.Node(cfg.Name),
			logger.ErrorField(err))
	}
	return n, nil
}

// Get 按名称查找节点
func (m *Manager) Get(name string) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[name]
	return n, ok
}

// All 按注册顺序返回全部节点
func (m *Manager) All() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Node, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.nodes[name])
	}
	return out
}

// Remove 断开并注销节点
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	n, ok := m.nodes[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}
	delete(m.nodes, name)
	for i, existing := range m.order {
		if existing == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	return n.Disconnect()
}

// Sync 按新的配置列表增删节点，配置变化的节点会被重建
func (m *Manager) Sync(ctx context.Context, cfgs []driver.NodeConfig) {
	wanted := make(map[string]driver.NodeConfig, len(cfgs))
	for _, cfg := range cfgs {
		wanted[cfg.Name] = cfg
	}

	for _, n := range m.All() {
		cfg, ok := wanted[n.Name()]
		if ok && cfg == n.Config {
			delete(wanted, n.Name())
			continue
		}
		if err := m.Remove(n.Name()); err != nil {
			logger.Warn("failed to remove node", logger.Node(n.Name()), logger.ErrorField(err))
		}
	}

	for _, cfg := range cfgs {
		if _, ok := wanted[cfg.Name]; !ok {
			continue
		}
		if _, err := m.Add(ctx, cfg); err != nil {
			logger.Warn("failed to add node", logger.Node(cfg.Name), logger.ErrorField(err))
		}
	}
}

// LeastUsed 选择负载最低的在线节点
//
// 并发查询各节点的播放器数量，查询失败按 0 计；并列时取注册顺序靠前的节点。
// 结果是实时快照，并发选择可能落到同一个节点上。
func (m *Manager) LeastUsed(ctx context.Context) (*Node, error) {
	m.mu.RLock()
	resolver := m.resolver
	m.mu.RUnlock()
	if resolver != nil {
		if n := resolver(ctx, m); n != nil {
			return n, nil
		}
	}

	var online []*Node
	for _, n := range m.All() {
		if n.State() == StateConnected {
			online = append(online, n)
		}
	}
	if len(online) == 0 {
		return nil, ErrNoNodesOnline
	}

	counts := make([]int, len(online))
	var wg sync.WaitGroup
	for i, n := range online {
		wg.Add(1)
		go func(i int, n *Node) {
			defer wg.Done()
			qctx, cancel := context.WithTimeout(ctx, m.opts.StatsTimeout)
			defer cancel()
			stats, err := n.Rest().GetStatus(qctx)
			if err != nil || stats == nil {
				return
			}
			counts[i] = stats.Players
		}(i, n)
	}
	wg.Wait()

	best := 0
	for i := 1; i < len(online); i++ {
		if counts[i] < counts[best] {
			best = i
		}
	}
	return online[best], nil
}
