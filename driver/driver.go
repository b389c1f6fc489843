// Package driver 把各代节点协议（REST + WebSocket）翻译为统一的命令/事件模型
package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"Tidelink/model"

	"github.com/gorilla/websocket"
)

// ErrSessionNotReady 需要会话的请求在收到 ready 之前发出
var ErrSessionNotReady = errors.New("session id not initialized")

// ErrClosedDuringDial 握手完成前连接已被主动关闭
var ErrClosedDuringDial = errors.New("connection closed while dialing")

// SelfCloseReason 主动断开时使用的关闭原因
const SelfCloseReason = "Self closed"

// NodeConfig 单个节点的连接配置
type NodeConfig struct {
	Name   string `json:"name"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Auth   string `json:"auth"`
	Secure bool   `json:"secure"`
	Driver string `json:"driver,omitempty"`
}

// Options 驱动共享的客户端身份与传输参数
type Options struct {
	UserID     string
	ShardCount int
	ClientName string
	UserAgent  string

	// Resume 为 true 时，连接时携带上一次的会话 id
	Resume bool

	// RESTRate 每秒请求数上限，0 表示不限速
	RESTRate  float64
	RESTBurst int

	HandshakeTimeout time.Duration
	HTTPClient       *http.Client
}

// Listener 接收驱动转发的连接事件，由 Node 实现
//
// 同一连接的回调串行执行。
type Listener interface {
	WSOpen()
	WSMessage(msg *model.Message)
	WSError(err error)
	WSClose(code int, reason string)
}

// Request 一次 REST 请求
type Request struct {
	Path    string
	Method  string
	Query   url.Values
	Body    any
	Headers http.Header

	// Update 原始的播放器更新，旧版方言据此合成 websocket 操作
	Update *model.UpdatePlayerInfo
}

// Driver 单个节点的协议适配器，每个 Node 独占一个实例
type Driver interface {
	ID() string
	WSURL() string
	HTTPURL() string
	SessionID() string
	SetSessionID(id string)

	// Connect 建立 websocket 连接并开始向 Listener 转发事件
	Connect(ctx context.Context) (*websocket.Conn, error)

	// Requester 发出一次 REST 请求
	//
	// 返回 nil, nil 表示无内容或请求失败（已记录日志）；
	// 只有会话未就绪时返回 ErrSessionNotReady。
	Requester(ctx context.Context, req *Request) ([]byte, error)

	UpdateSession(ctx context.Context, sessionID string, resume bool, timeout int) error
	WSClose() error
	Decode(encoded string) (*model.RawTrack, error)
}

// LyricsLoader 支持歌词接口的方言
type LyricsLoader interface {
	LoadLyrics(ctx context.Context, encoded, language string) ([]byte, error)
}

// Constructor 创建驱动实例
type Constructor func(cfg NodeConfig, opts Options, listener Listener) Driver

// Registry 方言 id 到构造函数的映射，未知 id 回退到 Fallback
type Registry struct {
	constructors map[string]Constructor
	order        []string
	Fallback     string
}

// NewRegistry 返回包含全部内置方言的注册表
func NewRegistry() *Registry {
	r := &Registry{
		constructors: make(map[string]Constructor),
		Fallback:     Lavalink4ID,
	}
	r.Register(Lavalink4ID, NewLavalink4)
	r.Register(Lavalink3ID, NewLavalink3)
	r.Register(Nodelink2ID, NewNodelink2)
	r.Register(FrequenCID, NewFrequenC)
	return r
}

// Register 注册或替换一个方言
func (r *Registry) Register(id string, c Constructor) {
	if _, ok := r.constructors[id]; !ok {
		r.order = append(r.order, id)
	}
	r.constructors[id] = c
}

// IDs 已注册的方言 id，按注册顺序
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// New 按配置中的方言 id 构造驱动
func (r *Registry) New(cfg NodeConfig, opts Options, listener Listener) (Driver, error) {
	c, ok := r.constructors[cfg.Driver]
	if !ok {
		c, ok = r.constructors[r.Fallback]
		if !ok {
			return nil, fmt.Errorf("driver %q not registered and no fallback %q", cfg.Driver, r.Fallback)
		}
	}
	return c(cfg, opts, listener), nil
}
