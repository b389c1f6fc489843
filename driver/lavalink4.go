package driver

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"Tidelink/codec"
	"Tidelink/logger"

	"github.com/gorilla/websocket"
)

// Lavalink4ID 当前代 Lavalink 协议，也是未知 id 的回退方言
const Lavalink4ID = "lavalink/v4"

// Lavalink4 REST PATCH + websocket 事件的当前代协议
type Lavalink4 struct {
	*base
}

// NewLavalink4 创建 Lavalink v4 驱动
func NewLavalink4(cfg NodeConfig, opts Options, listener Listener) Driver {
	return newLavalink4(Lavalink4ID, cfg, opts, listener)
}

func newLavalink4(id string, cfg NodeConfig, opts Options, listener Listener) *Lavalink4 {
	b := newBase(id, cfg, opts, listener, "/v4/websocket", "/v4")
	b.decode = codec.DecodeLavalink
	return &Lavalink4{base: b}
}

func (d *Lavalink4) Connect(ctx context.Context) (*websocket.Conn, error) {
	h := d.identityHeaders()
	h.Set("Client-Name", d.opts.ClientName)
	if sid := d.SessionID(); sid != "" && d.opts.Resume {
		h.Set("Session-Id", sid)
	}
	return d.dial(ctx, h, nil)
}

func (d *Lavalink4) Requester(ctx context.Context, req *Request) ([]byte, error) {
	if data, ok := d.localDecode(req); ok {
		return data, nil
	}
	if strings.Contains(req.Path, "/sessions") && d.SessionID() == "" {
		return nil, ErrSessionNotReady
	}

	body, err := marshalBody(req.Body)
	if err != nil {
		return nil, err
	}
	resp, err := d.do(ctx, req, d.httpURL+req.Path, body, d.restHeaders())
	if err != nil || resp == nil {
		return nil, err
	}
	return resp.body, nil
}

func (d *Lavalink4) restHeaders() http.Header {
	h := http.Header{}
	h.Set("Authorization", d.cfg.Auth)
	h.Set("User-Agent", d.opts.UserAgent)
	return h
}

// UpdateSession PATCH /sessions/{id} 配置会话恢复
func (d *Lavalink4) UpdateSession(ctx context.Context, sessionID string, resume bool, timeout int) error {
	_, err := d.Requester(ctx, &Request{
		Path:   fmt.Sprintf("/sessions/%s", sessionID),
		Method: http.MethodPatch,
		Body: map[string]any{
			"resuming": resume,
			"timeout":  timeout,
		},
	})
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	logger.Debug("session updated",
		logger.Node(d.cfg.Name),
		logger.Bool("resume", resume),
		logger.Int("timeout", timeout))
	return nil
}
