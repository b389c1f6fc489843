package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"Tidelink/driver"
	"Tidelink/logger"
	"Tidelink/model"

	"github.com/gorilla/websocket"
)

// State 节点连接状态
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "closed"
	}
}

// EventHandler 接收节点生命周期与转发的播放器事件
//
// 同一节点的回调不会并发执行。
type EventHandler interface {
	NodeConnect(n *Node)
	NodeReconnect(n *Node)
	NodeDisconnect(n *Node, code int, reason string)
	NodeClosed(n *Node)
	NodeError(n *Node, err error)
	// NodeEvent 收到 event / playerUpdate 消息
	NodeEvent(n *Node, msg *model.Message)
}

// SessionStore 持久化节点会话 id，进程重启后用于恢复
type SessionStore interface {
	Get(ctx context.Context, node string) (string, error)
	Save(ctx context.Context, node, sessionID string, ttl time.Duration) error
}

// sessionTimeout 收到 ready 后保存会话和配置 resume 的总超时
const sessionTimeout = 10 * time.Second

// Options 节点公共配置
type Options struct {
	Driver   driver.Options
	Registry *driver.Registry

	RetryTimeout  time.Duration
	RetryCount    int
	Resume        bool
	ResumeTimeout int // 秒

	// StatsTimeout 选择节点时单个节点查询 stats 的超时
	StatsTimeout time.Duration
	Sessions     SessionStore
}

func (o *Options) setDefaults() {
	if o.Registry == nil {
		o.Registry = driver.NewRegistry()
	}
	if o.RetryTimeout <= 0 {
		o.RetryTimeout = 3 * time.Second
	}
	if o.RetryCount < 0 {
		o.RetryCount = 0
	}
	if o.StatsTimeout <= 0 {
		o.StatsTimeout = 5 * time.Second
	}
	o.Driver.Resume = o.Resume
}

// Node 一个后端节点：独占一个驱动和一条 websocket 连接
type Node struct {
	Config driver.NodeConfig

	opts    Options
	handler EventHandler
	driver  driver.Driver

	mu             sync.RWMutex
	state          State
	retryCounter   int
	sudoDisconnect bool
	stats          model.NodeStats
	rest           *Rest
	retryCancel    context.CancelFunc

	// dialing 拨号已发起但还没有 WSOpen / WSClose 回调
	dialing    bool
	dialCancel context.CancelFunc
}

// New 创建节点，不建立连接
func New(cfg driver.NodeConfig, opts Options, handler EventHandler) (*Node, error) {
	opts.setDefaults()
	n := &Node{
		Config:  cfg,
		opts:    opts,
		handler: handler,
		state:   StateClosed,
	}
	d, err := opts.Registry.New(cfg, opts.Driver, &listener{n: n})
	if err != nil {
		return nil, err
	}
	n.driver = d
	n.rest = newRest(d, cfg.Name, "")
	return n, nil
}

// Name 节点名
func (n *Node) Name() string { return n.Config.Name }

// Driver 节点使用的协议驱动
func (n *Node) Driver() driver.Driver { return n.driver }

// State 当前连接状态
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Stats 最近一次 stats 快照
func (n *Node) Stats() model.NodeStats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stats
}

// Rest 绑定当前会话的 REST 客户端，收到 ready 后会被替换
func (n *Node) Rest() *Rest {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rest
}

// RetryCounter 连续重连次数
func (n *Node) RetryCounter() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.retryCounter
}

// Connect 建立连接，失败会走与断线相同的重试流程
func (n *Node) Connect(ctx context.Context) (*websocket.Conn, error) {
	if n.opts.Resume && n.opts.Sessions != nil && n.driver.SessionID() == "" {
		sid, err := n.opts.Sessions.Get(ctx, n.Name())
		if err != nil {
			logger.Warn("failed to load stored session", logger.Node(n.Name()), logger.ErrorField(err))
		} else if sid != "" {
			n.driver.SetSessionID(sid)
		}
	}

	n.mu.Lock()
	if n.state == StateClosed {
		n.state = StateConnecting
	}
	dialCtx := n.beginDial(ctx)
	n.mu.Unlock()
	return n.driver.Connect(dialCtx)
}

// beginDial 登记一次拨号，调用方持有 n.mu
func (n *Node) beginDial(ctx context.Context) context.Context {
	dialCtx, cancel := context.WithCancel(ctx)
	n.dialing = true
	n.dialCancel = cancel
	return dialCtx
}

// endDial 拨号已有结果，调用方持有 n.mu
func (n *Node) endDial() {
	n.dialing = false
	if n.dialCancel != nil {
		n.dialCancel()
		n.dialCancel = nil
	}
}

// Disconnect 主动断开，之后的关闭不会触发重连
//
// 拨号进行中时取消拨号，由拨号结果的 close 回调收尾。
func (n *Node) Disconnect() error {
	n.mu.Lock()
	n.sudoDisconnect = true
	retryCancel := n.retryCancel
	n.retryCancel = nil
	dialCancel := n.dialCancel
	pending := n.state == StateConnected || n.dialing
	n.mu.Unlock()

	if retryCancel != nil {
		retryCancel()
	}
	if dialCancel != nil {
		dialCancel()
	}
	if err := n.driver.WSClose(); err != nil {
		return err
	}
	// 没有活动连接也没有拨号时不会有 close 回调，直接收尾
	if !pending {
		n.clean()
	}
	return nil
}

func (n *Node) clean() {
	n.mu.Lock()
	n.sudoDisconnect = false
	n.retryCounter = 0
	n.state = StateClosed
	n.mu.Unlock()
}

func (n *Node) handleOpen() {
	n.mu.Lock()
	n.endDial()
	n.retryCounter = 0
	n.state = StateConnected
	n.mu.Unlock()

	logger.Info("node connected", logger.Node(n.Name()), logger.Driver(n.driver.ID()))
	n.handler.NodeConnect(n)
}

func (n *Node) handleMessage(msg *model.Message) {
	switch msg.Op {
	case model.OpReady:
		n.handleReady(msg)
	case model.OpEvent, model.OpPlayerUpdate:
		n.handler.NodeEvent(n, msg)
	case model.OpStats:
		n.mergeStats(msg)
	default:
		logger.Debug("ignoring unknown op", logger.Node(n.Name()), logger.String("op", string(msg.Op)))
	}
}

func (n *Node) handleReady(msg *model.Message) {
	n.driver.SetSessionID(msg.SessionID)
	rest := newRest(n.driver, n.Name(), msg.SessionID)
	n.mu.Lock()
	n.rest = rest
	n.mu.Unlock()

	logger.Info("node ready",
		logger.Node(n.Name()),
		logger.String("session", msg.SessionID),
		logger.Bool("resumed", msg.Resumed))

	storeSession := n.opts.Sessions != nil && msg.SessionID != ""
	configureResume := n.opts.Resume && n.opts.ResumeTimeout > 0
	if !storeSession && !configureResume {
		return
	}
	// 会话存储和 resume 配置都走网络，放到后台，不阻塞事件流
	go n.persistSession(msg.SessionID, storeSession, configureResume)
}

func (n *Node) persistSession(sessionID string, store, resume bool) {
	ctx, cancel := context.WithTimeout(context.Background(), sessionTimeout)
	defer cancel()

	if store {
		ttl := time.Duration(n.opts.ResumeTimeout) * time.Second
		if err := n.opts.Sessions.Save(ctx, n.Name(), sessionID, ttl); err != nil {
			logger.Warn("failed to store session", logger.Node(n.Name()), logger.ErrorField(err))
		}
	}
	if resume {
		if err := n.driver.UpdateSession(ctx, sessionID, true, n.opts.ResumeTimeout); err != nil {
			logger.Warn("failed to configure resuming", logger.Node(n.Name()), logger.ErrorField(err))
		}
	}
}

// mergeStats 缺失字段保留上一次的值
func (n *Node) mergeStats(msg *model.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if msg.Players != nil {
		n.stats.Players = *msg.Players
	}
	if msg.PlayingPlayers != nil {
		n.stats.PlayingPlayers = *msg.PlayingPlayers
	}
	if msg.Uptime != nil {
		n.stats.Uptime = *msg.Uptime
	}
	if msg.Memory != nil {
		n.stats.Memory = *msg.Memory
	}
	if msg.CPU != nil {
		n.stats.CPU = *msg.CPU
	}
	if msg.FrameStats != nil {
		fs := *msg.FrameStats
		n.stats.FrameStats = &fs
	}
}

func (n *Node) handleError(err error) {
	logger.Warn("node error", logger.Node(n.Name()), logger.ErrorField(err))
	n.handler.NodeError(n, err)
}

func (n *Node) handleClose(code int, reason string) {
	n.mu.Lock()
	n.endDial()
	n.state = StateDisconnected
	retry := !n.sudoDisconnect && n.retryCounter < n.opts.RetryCount
	var ctx context.Context
	if retry {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(context.Background())
		n.retryCancel = cancel
	}
	n.mu.Unlock()

	logger.Info("node disconnected",
		logger.Node(n.Name()),
		logger.Int("code", code),
		logger.String("reason", reason))
	n.handler.NodeDisconnect(n, code, reason)

	if !retry {
		n.clean()
		logger.Info("node closed", logger.Node(n.Name()))
		n.handler.NodeClosed(n)
		return
	}
	go n.retry(ctx)
}

// retry 等待固定间隔后重连；计数只在成功打开时清零
func (n *Node) retry(ctx context.Context) {
	timer := time.NewTimer(n.opts.RetryTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}

	n.mu.Lock()
	if n.sudoDisconnect {
		n.mu.Unlock()
		return
	}
	n.retryCounter++
	attempt := n.retryCounter
	n.state = StateConnecting
	n.retryCancel = nil
	dialCtx := n.beginDial(ctx)
	n.mu.Unlock()

	logger.Info("node reconnecting",
		logger.Node(n.Name()),
		logger.Int("attempt", attempt),
		logger.Int("max", n.opts.RetryCount))
	n.handler.NodeReconnect(n)

	if _, err := n.driver.Connect(dialCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("reconnect attempt failed", logger.Node(n.Name()), logger.ErrorField(err))
	}
}

// listener 把驱动回调接到节点上
type listener struct {
	n *Node
}

func (l *listener) WSOpen()                      { l.n.handleOpen() }
func (l *listener) WSMessage(msg *model.Message) { l.n.handleMessage(msg) }
func (l *listener) WSError(err error)            { l.n.handleError(err) }
func (l *listener) WSClose(code int, reason string) {
	l.n.handleClose(code, reason)
}
