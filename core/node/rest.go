package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"Tidelink/driver"
	"Tidelink/logger"
	"Tidelink/model"
)

// Rest 绑定到某个会话的 REST 客户端
type Rest struct {
	driver    driver.Driver
	node      string
	sessionID string
}

func newRest(d driver.Driver, node, sessionID string) *Rest {
	return &Rest{driver: d, node: node, sessionID: sessionID}
}

// SessionID 绑定的会话 id
func (r *Rest) SessionID() string { return r.sessionID }

// fetch 发出请求并解析 JSON；无数据或解析失败时返回 nil
func fetch[T any](ctx context.Context, r *Rest, req *driver.Request) (*T, error) {
	data, err := r.driver.Requester(ctx, req)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		logger.Debug("failed to decode rest response",
			logger.Node(r.node),
			logger.String("path", req.Path),
			logger.ErrorField(err))
		return nil, nil
	}
	return &out, nil
}

// GetPlayers GET /sessions/{id}/players
func (r *Rest) GetPlayers(ctx context.Context) ([]model.RemotePlayer, error) {
	players, err := fetch[[]model.RemotePlayer](ctx, r, &driver.Request{
		Path: fmt.Sprintf("/sessions/%s/players", r.sessionID),
	})
	if err != nil || players == nil {
		return nil, err
	}
	return *players, nil
}

// GetStatus GET /stats
func (r *Rest) GetStatus(ctx context.Context) (*model.NodeStats, error) {
	return fetch[model.NodeStats](ctx, r, &driver.Request{Path: "/stats"})
}

// DecodeTrack GET /decodetrack，驱动会优先在本地解码
func (r *Rest) DecodeTrack(ctx context.Context, encoded string) (*model.RawTrack, error) {
	q := url.Values{}
	q.Set("encodedTrack", encoded)
	return fetch[model.RawTrack](ctx, r, &driver.Request{Path: "/decodetrack", Query: q})
}

// UpdatePlayer PATCH /sessions/{id}/players/{guildId}
func (r *Rest) UpdatePlayer(ctx context.Context, info model.UpdatePlayerInfo) (*model.RemotePlayer, error) {
	q := url.Values{}
	q.Set("noReplace", strconv.FormatBool(info.NoReplace))
	return fetch[model.RemotePlayer](ctx, r, &driver.Request{
		Path:   fmt.Sprintf("/sessions/%s/players/%s", r.sessionID, info.GuildID),
		Method: http.MethodPatch,
		Query:  q,
		Body:   info.Options,
		Update: &info,
	})
}

// DestroyPlayer DELETE /sessions/{id}/players/{guildId}
func (r *Rest) DestroyPlayer(ctx context.Context, guildID string) error {
	_, err := r.driver.Requester(ctx, &driver.Request{
		Path:   fmt.Sprintf("/sessions/%s/players/%s", r.sessionID, guildID),
		Method: http.MethodDelete,
	})
	return err
}

// Resolve GET /loadtracks；无数据时返回 empty 结果
func (r *Rest) Resolve(ctx context.Context, identifier string) (*model.LoadResult, error) {
	q := url.Values{}
	q.Set("identifier", identifier)
	result, err := fetch[model.LoadResult](ctx, r, &driver.Request{Path: "/loadtracks", Query: q})
	if err != nil {
		return nil, err
	}
	if result == nil || result.LoadType == "" {
		return &model.LoadResult{LoadType: model.LoadTypeEmpty}, nil
	}
	return result, nil
}

// GetRoutePlannerStatus GET /routeplanner/status
func (r *Rest) GetRoutePlannerStatus(ctx context.Context) (*model.RoutePlannerStatus, error) {
	return fetch[model.RoutePlannerStatus](ctx, r, &driver.Request{Path: "/routeplanner/status"})
}

// UnmarkFailedAddress POST /routeplanner/free/address
func (r *Rest) UnmarkFailedAddress(ctx context.Context, address string) error {
	_, err := r.driver.Requester(ctx, &driver.Request{
		Path:   "/routeplanner/free/address",
		Method: http.MethodPost,
		Body:   map[string]string{"address": address},
	})
	return err
}

// GetInfo GET /info
func (r *Rest) GetInfo(ctx context.Context) (*model.NodeInfo, error) {
	return fetch[model.NodeInfo](ctx, r, &driver.Request{Path: "/info"})
}
