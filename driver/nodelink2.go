package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"Tidelink/logger"
)

// Nodelink2ID NodeLink v2，沿用 v4 的 URL 与 PATCH 语义
const Nodelink2ID = "nodelink/v2"

// nodelinkLoadTypes NodeLink 特有的加载类型映射到规范类型
var nodelinkLoadTypes = map[string]string{
	"shorts":  "track",
	"album":   "playlist",
	"artist":  "playlist",
	"episode": "playlist",
	"station": "playlist",
	"podcast": "playlist",
	"show":    "playlist",
}

// Nodelink2 NodeLink 驱动，不支持会话恢复，额外提供歌词接口
type Nodelink2 struct {
	*Lavalink4
}

// NewNodelink2 创建 NodeLink v2 驱动
func NewNodelink2(cfg NodeConfig, opts Options, listener Listener) Driver {
	return &Nodelink2{Lavalink4: newLavalink4(Nodelink2ID, cfg, opts, listener)}
}

func (d *Nodelink2) Requester(ctx context.Context, req *Request) ([]byte, error) {
	data, err := d.Lavalink4.Requester(ctx, req)
	if err != nil || data == nil {
		return data, err
	}
	return remapNodelinkLoadType(data), nil
}

func remapNodelinkLoadType(data []byte) []byte {
	var shape struct {
		LoadType string `json:"loadType"`
	}
	if json.Unmarshal(data, &shape) != nil {
		return data
	}
	canonical, ok := nodelinkLoadTypes[shape.LoadType]
	if !ok {
		return data
	}

	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return data
	}
	tree["loadType"] = canonical
	out, err := json.Marshal(tree)
	if err != nil {
		return data
	}
	return out
}

// UpdateSession NodeLink 不支持会话恢复
func (d *Nodelink2) UpdateSession(_ context.Context, _ string, _ bool, _ int) error {
	logger.Warn("nodelink does not support session resuming, skipping",
		logger.Node(d.cfg.Name))
	return nil
}

// LoadLyrics GET /loadlyrics
func (d *Nodelink2) LoadLyrics(ctx context.Context, encoded, language string) ([]byte, error) {
	q := url.Values{}
	q.Set("encodedTrack", encoded)
	if language != "" {
		q.Set("language", language)
	}
	data, err := d.Requester(ctx, &Request{Path: "/loadlyrics", Query: q})
	if err != nil {
		return nil, fmt.Errorf("load lyrics: %w", err)
	}
	return data, nil
}
