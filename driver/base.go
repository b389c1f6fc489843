package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"Tidelink/logger"
	"Tidelink/model"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	closeWriteTimeout       = 5 * time.Second
)

// frameNormalizer 把方言的原始帧转换为规范化 JSON
type frameNormalizer func(data []byte) ([]byte, error)

// base 各方言共享的连接与请求逻辑
type base struct {
	id       string
	cfg      NodeConfig
	opts     Options
	listener Listener
	wsURL    string
	httpURL  string
	client   *http.Client
	limiter  *rate.Limiter
	decode   func(string) (*model.RawTrack, error)

	mu         sync.RWMutex
	sessionID  string
	conn       *websocket.Conn
	selfClosed bool

	writeMu sync.Mutex
}

func newBase(id string, cfg NodeConfig, opts Options, listener Listener, wsPath, httpPath string) *base {
	wsScheme, httpScheme := "ws", "http"
	if cfg.Secure {
		wsScheme, httpScheme = "wss", "https"
	}
	hostPort := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	b := &base{
		id:       id,
		cfg:      cfg,
		opts:     opts,
		listener: listener,
		wsURL:    fmt.Sprintf("%s://%s%s", wsScheme, hostPort, wsPath),
		httpURL:  fmt.Sprintf("%s://%s%s", httpScheme, hostPort, httpPath),
		client:   opts.HTTPClient,
	}
	if b.client == nil {
		b.client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.RESTRate > 0 {
		burst := opts.RESTBurst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(opts.RESTRate), burst)
	}
	return b
}

func (b *base) ID() string      { return b.id }
func (b *base) WSURL() string   { return b.wsURL }
func (b *base) HTTPURL() string { return b.httpURL }

func (b *base) SessionID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessionID
}

func (b *base) SetSessionID(id string) {
	b.mu.Lock()
	b.sessionID = id
	b.mu.Unlock()
}

func (b *base) Decode(encoded string) (*model.RawTrack, error) {
	return b.decode(encoded)
}

// identityHeaders 所有方言握手都携带的身份头
func (b *base) identityHeaders() http.Header {
	h := http.Header{}
	h.Set("Authorization", b.cfg.Auth)
	h.Set("User-Id", b.opts.UserID)
	h.Set("User-Agent", b.opts.UserAgent)
	h.Set("Num-Shards", strconv.Itoa(b.opts.ShardCount))
	return h
}

// dial 建立连接，失败时与连接断开走同一条通知路径
func (b *base) dial(ctx context.Context, headers http.Header, normalize frameNormalizer) (*websocket.Conn, error) {
	timeout := b.opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	// 拨号期间调用的 WSClose 会重新置位
	b.mu.Lock()
	b.selfClosed = false
	b.mu.Unlock()

	conn, resp, err := dialer.DialContext(ctx, b.wsURL, headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		err = fmt.Errorf("dial %s: %w", b.wsURL, err)
		b.mu.RLock()
		self := b.selfClosed
		b.mu.RUnlock()
		if self {
			b.listener.WSClose(websocket.CloseNormalClosure, SelfCloseReason)
			return nil, err
		}
		if ctx.Err() == nil {
			b.listener.WSError(err)
		}
		b.listener.WSClose(websocket.CloseAbnormalClosure, err.Error())
		return nil, err
	}

	b.mu.Lock()
	if b.selfClosed {
		// 握手完成前已被主动关闭，不再打开
		b.mu.Unlock()
		conn.Close()
		b.listener.WSClose(websocket.CloseNormalClosure, SelfCloseReason)
		return nil, ErrClosedDuringDial
	}
	b.conn = conn
	b.mu.Unlock()

	b.listener.WSOpen()
	go b.readLoop(conn, normalize)
	return conn, nil
}

// readLoop 串行读取帧并转发，连接结束时通知一次 WSClose
func (b *base) readLoop(conn *websocket.Conn, normalize frameNormalizer) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.finish(conn, err)
			return
		}

		if normalize != nil {
			if data, err = normalize(data); err != nil {
				logger.Warn("dropping malformed frame",
					logger.Node(b.cfg.Name),
					logger.Driver(b.id),
					logger.ErrorField(err))
				continue
			}
		}
		msg, err := model.ParseMessage(data)
		if err != nil {
			logger.Warn("dropping unparsable frame",
				logger.Node(b.cfg.Name),
				logger.Driver(b.id),
				logger.ErrorField(err))
			continue
		}
		b.listener.WSMessage(msg)
	}
}

func (b *base) finish(conn *websocket.Conn, err error) {
	b.mu.Lock()
	self := b.selfClosed
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
	conn.Close()

	code, reason := websocket.CloseAbnormalClosure, err.Error()
	var closeErr *websocket.CloseError
	switch {
	case self:
		code, reason = websocket.CloseNormalClosure, SelfCloseReason
	case errors.As(err, &closeErr):
		code, reason = closeErr.Code, closeErr.Text
	default:
		b.listener.WSError(err)
	}
	b.listener.WSClose(code, reason)
}

// send 以 JSON 发送一帧，未连接时丢弃
func (b *base) send(v any) error {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return nil
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// WSClose 以固定原因主动关闭连接
func (b *base) WSClose() error {
	b.mu.Lock()
	conn := b.conn
	b.selfClosed = true
	b.mu.Unlock()
	if conn == nil {
		return nil
	}

	b.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, SelfCloseReason),
		time.Now().Add(closeWriteTimeout))
	b.writeMu.Unlock()

	// 关闭底层连接让 readLoop 立即退出
	conn.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("write close frame: %w", err)
	}
	return nil
}

// localDecode 在本地回答 /decodetrack，解码失败视为无数据
func (b *base) localDecode(req *Request) ([]byte, bool) {
	if req.Path != "/decodetrack" {
		return nil, false
	}
	track, err := b.decode(req.Query.Get("encodedTrack"))
	if err != nil {
		logger.Debug("local decode failed",
			logger.Node(b.cfg.Name),
			logger.Driver(b.id),
			logger.ErrorField(err))
		return nil, false
	}
	data, err := json.Marshal(track)
	if err != nil {
		return nil, false
	}
	return data, true
}

// response 一次 HTTP 交互的结果
type response struct {
	status      int
	contentType string
	body        []byte
}

// do 执行 HTTP 请求；204 和非 200 返回 nil 并记录日志
func (b *base) do(ctx context.Context, req *Request, rawURL string, body []byte, headers http.Header) (*response, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if len(req.Query) > 0 {
		rawURL += "?" + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header[k] = v
	}
	for k, v := range req.Headers {
		httpReq.Header[k] = v
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		logger.Debug("rest request failed",
			logger.Node(b.cfg.Name),
			logger.String("method", method),
			logger.String("url", rawURL),
			logger.ErrorField(err))
		return nil, nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Debug("rest response read failed",
			logger.Node(b.cfg.Name),
			logger.String("url", rawURL),
			logger.ErrorField(err))
		return nil, nil
	}

	logger.Debug("rest request",
		logger.Node(b.cfg.Name),
		logger.String("method", method),
		logger.String("url", rawURL),
		logger.Int("status", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		logger.Debug("rest request returned non-200",
			logger.Node(b.cfg.Name),
			logger.String("url", rawURL),
			logger.Int("status", resp.StatusCode),
			logger.String("body", string(data)))
		return nil, nil
	}
	return &response{status: resp.StatusCode, contentType: resp.Header.Get("Content-Type"), body: data}, nil
}

func marshalBody(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return data, nil
}
