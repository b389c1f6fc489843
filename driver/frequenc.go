package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"Tidelink/codec"
	"Tidelink/logger"

	"github.com/gorilla/websocket"
)

// FrequenCID FrequenC v1，线上使用 snake_case
const FrequenCID = "frequenc/v1"

// FrequenC 另一套节点实现的驱动
type FrequenC struct {
	*base
}

// NewFrequenC 创建 FrequenC 驱动
func NewFrequenC(cfg NodeConfig, opts Options, listener Listener) Driver {
	b := newBase(FrequenCID, cfg, opts, listener, "/v1/websocket", "/v1")
	b.decode = codec.Decode
	return &FrequenC{base: b}
}

func (d *FrequenC) Connect(ctx context.Context) (*websocket.Conn, error) {
	h := d.identityHeaders()
	h.Set("Client-Info", d.opts.ClientName)
	return d.dial(ctx, h, normalizeSnakeFrame)
}

func normalizeSnakeFrame(data []byte) ([]byte, error) {
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return json.Marshal(SnakeToCamel(tree))
}

func (d *FrequenC) Requester(ctx context.Context, req *Request) ([]byte, error) {
	if data, ok := d.localDecode(req); ok {
		return data, nil
	}
	if strings.Contains(req.Path, "/sessions") && d.SessionID() == "" {
		return nil, ErrSessionNotReady
	}

	body, err := d.snakeBody(req.Body)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("Authorization", d.cfg.Auth)
	h.Set("User-Agent", d.opts.UserAgent)
	resp, err := d.do(ctx, req, d.httpURL+req.Path, body, h)
	if err != nil || resp == nil {
		return nil, err
	}

	mediaType, _, _ := mime.ParseMediaType(resp.contentType)
	if mediaType != "application/json" {
		return json.Marshal(map[string]any{"rawData": string(resp.body)})
	}
	out, err := normalizeSnakeFrame(resp.body)
	if err != nil {
		logger.Debug("frequenc returned invalid json",
			logger.Node(d.cfg.Name),
			logger.ErrorField(err))
		return nil, nil
	}
	return out, nil
}

// snakeBody 序列化请求体并转换为 snake_case，空对象不发送
func (d *FrequenC) snakeBody(v any) ([]byte, error) {
	raw, err := marshalBody(v)
	if err != nil || raw == nil {
		return raw, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	if m, ok := tree.(map[string]any); ok && len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(CamelToSnake(tree))
}

// UpdateSession PATCH /sessions/{id}
func (d *FrequenC) UpdateSession(ctx context.Context, sessionID string, resume bool, timeout int) error {
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
